package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/edms/lifecycle-core/internal/storage"
	"github.com/edms/lifecycle-core/internal/types"
)

const userColumns = `id, username, display_name, is_active, is_superuser, roles`

func getUser(ctx context.Context, q querier, id string) (*types.User, error) {
	row := q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: get user: %w", err)
	}
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*types.User, error) {
	return getUser(ctx, s.db, id)
}

func (t *txImpl) GetUser(ctx context.Context, id string) (*types.User, error) {
	return getUser(ctx, t.sqlTx, id)
}

func listActiveSuperusers(ctx context.Context, q querier) ([]*types.User, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+userColumns+` FROM users WHERE is_active = 1 AND is_superuser = 1`)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list active superusers: %w", err)
	}
	defer rows.Close()
	var out []*types.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlstore: scan user: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) ListActiveSuperusers(ctx context.Context) ([]*types.User, error) {
	return listActiveSuperusers(ctx, s.db)
}

func (t *txImpl) ListActiveSuperusers(ctx context.Context) ([]*types.User, error) {
	return listActiveSuperusers(ctx, t.sqlTx)
}

func scanUser(row interface{ Scan(...any) error }) (*types.User, error) {
	var u types.User
	var roles string
	if err := row.Scan(&u.ID, &u.Username, &u.DisplayName, &u.IsActive, &u.IsSuperuser, &roles); err != nil {
		return nil, err
	}
	if roles != "" {
		u.Roles = strings.Split(roles, ",")
	}
	return &u, nil
}

// SetUserSuperuser flips the superuser flag inside the caller's
// transaction, so a grant/revoke commits atomically with its audit entry.
func (t *txImpl) SetUserSuperuser(ctx context.Context, userID string, isSuperuser bool) error {
	res, err := t.sqlTx.ExecContext(ctx, `UPDATE users SET is_superuser = ? WHERE id = ?`, isSuperuser, userID)
	if err != nil {
		return fmt.Errorf("sqlstore: set superuser: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("user %s: %w", userID, storage.ErrNotFound)
	}
	return nil
}

// upsertClause returns the dialect-appropriate "insert or update" tail for
// a single-row upsert keyed on conflictCol, since MySQL and SQLite spell
// this differently ("ON DUPLICATE KEY UPDATE ... = VALUES(...)" vs "ON
// CONFLICT ... DO UPDATE SET ... = excluded...."), mirroring schema.go's
// per-dialect statement substitution. cols is the set of non-key columns
// to refresh on conflict.
func (s *Store) upsertClause(conflictCol string, cols ...string) string {
	if s.dialect == "mysql" {
		parts := make([]string, len(cols))
		for i, c := range cols {
			parts[i] = fmt.Sprintf("%s=VALUES(%s)", c, c)
		}
		return "ON DUPLICATE KEY UPDATE " + strings.Join(parts, ", ")
	}
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = fmt.Sprintf("%s=excluded.%s", c, c)
	}
	return fmt.Sprintf("ON CONFLICT (%s) DO UPDATE SET %s", conflictCol, strings.Join(parts, ", "))
}

// UpsertUser is a test/seeding helper; user CRUD proper is out of scope
// (spec.md §1) and owned by the external API layer.
func (s *Store) UpsertUser(ctx context.Context, u *types.User) error {
	query := `INSERT INTO users (id, username, display_name, is_active, is_superuser, roles) VALUES (?,?,?,?,?,?) ` +
		s.upsertClause("id", "username", "display_name", "is_active", "is_superuser", "roles")
	_, err := s.db.ExecContext(ctx, query,
		u.ID, u.Username, u.DisplayName, u.IsActive, u.IsSuperuser, strings.Join(u.Roles, ","))
	if err != nil {
		return fmt.Errorf("sqlstore: upsert user: %w", err)
	}
	return nil
}

func getDocumentType(ctx context.Context, q querier, code string) (*types.DocumentType, error) {
	var dt types.DocumentType
	err := q.QueryRowContext(ctx, `SELECT code, name, requires_periodic_review, default_review_interval_months FROM document_types WHERE code = ?`, code).
		Scan(&dt.Code, &dt.Name, &dt.RequiresPeriodicReview, &dt.DefaultReviewIntervalMonths)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("document type %s: %w", code, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: get document type: %w", err)
	}
	return &dt, nil
}

func (s *Store) GetDocumentType(ctx context.Context, code string) (*types.DocumentType, error) {
	return getDocumentType(ctx, s.db, code)
}

func (t *txImpl) GetDocumentType(ctx context.Context, code string) (*types.DocumentType, error) {
	return getDocumentType(ctx, t.sqlTx, code)
}

func (s *Store) GetDocumentSource(ctx context.Context, code string) (*types.DocumentSource, error) {
	var ds types.DocumentSource
	err := s.db.QueryRowContext(ctx, `SELECT code, name, requires_verification FROM document_sources WHERE code = ?`, code).
		Scan(&ds.Code, &ds.Name, &ds.RequiresVerification)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("document source %s: %w", code, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: get document source: %w", err)
	}
	return &ds, nil
}

// UpsertDocumentType and UpsertDocumentSource are seeding helpers used by
// tests to populate reference data (the taskrunner's "migrate" subcommand
// only applies the schema); spec.md treats DocumentType/Source CRUD as reference
// data maintained alongside deployment, not a lifecycle-engine operation.
func (s *Store) UpsertDocumentType(ctx context.Context, dt *types.DocumentType) error {
	query := `INSERT INTO document_types (code, name, requires_periodic_review, default_review_interval_months) VALUES (?,?,?,?) ` +
		s.upsertClause("code", "name", "requires_periodic_review", "default_review_interval_months")
	_, err := s.db.ExecContext(ctx, query, dt.Code, dt.Name, dt.RequiresPeriodicReview, dt.DefaultReviewIntervalMonths)
	if err != nil {
		return fmt.Errorf("sqlstore: upsert document type: %w", err)
	}
	return nil
}

func (s *Store) UpsertDocumentSource(ctx context.Context, ds *types.DocumentSource) error {
	query := `INSERT INTO document_sources (code, name, requires_verification) VALUES (?,?,?) ` +
		s.upsertClause("code", "name", "requires_verification")
	_, err := s.db.ExecContext(ctx, query, ds.Code, ds.Name, ds.RequiresVerification)
	if err != nil {
		return fmt.Errorf("sqlstore: upsert document source: %w", err)
	}
	return nil
}
