package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/edms/lifecycle-core/internal/storage"
	"github.com/edms/lifecycle-core/internal/types"
)

const documentColumns = `id, number, title, description, type, source, version_major, version_minor,
	family_key, status, effective_date, obsolescence_date, next_periodic_review_date,
	author, reviewer, approver, file_reference, reason_for_change, is_active,
	created_at, updated_at, approved_at, obsoleted_at, terminated_at`

func scanDocument(row interface{ Scan(...any) error }) (*types.Document, error) {
	var d types.Document
	var effDate, obsDate, nextReview, approvedAt, obsoletedAt, terminatedAt sql.NullTime
	err := row.Scan(&d.ID, &d.Number, &d.Title, &d.Description, &d.Type, &d.Source,
		&d.VersionMajor, &d.VersionMinor, &d.FamilyKey, &d.Status,
		&effDate, &obsDate, &nextReview,
		&d.Author, &d.Reviewer, &d.Approver, &d.FileReference, &d.ReasonForChange, &d.IsActive,
		&d.CreatedAt, &d.UpdatedAt, &approvedAt, &obsoletedAt, &terminatedAt)
	if err != nil {
		return nil, err
	}
	if effDate.Valid {
		d.EffectiveDate = &effDate.Time
	}
	if obsDate.Valid {
		d.ObsolescenceDate = &obsDate.Time
	}
	if nextReview.Valid {
		d.NextPeriodicReviewDate = &nextReview.Time
	}
	if approvedAt.Valid {
		d.ApprovedAt = &approvedAt.Time
	}
	if obsoletedAt.Valid {
		d.ObsoletedAt = &obsoletedAt.Time
	}
	if terminatedAt.Valid {
		d.TerminatedAt = &terminatedAt.Time
	}
	return &d, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func getDocument(ctx context.Context, q querier, id string) (*types.Document, error) {
	row := q.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	d, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("document %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: get document: %w", err)
	}
	return d, nil
}

func (s *Store) GetDocument(ctx context.Context, id string) (*types.Document, error) {
	return getDocument(ctx, s.db, id)
}

// GetDocument inside a transaction reads without a row lock; use
// LockDocument for the serialization point.
func (t *txImpl) GetDocument(ctx context.Context, id string) (*types.Document, error) {
	return getDocument(ctx, t.sqlTx, id)
}

func (s *Store) GetDocumentByNumber(ctx context.Context, number string) (*types.Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE number = ?`, number)
	d, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("document %s: %w", number, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: get document by number: %w", err)
	}
	return d, nil
}

func listDocuments(ctx context.Context, q querier, filter storage.DocumentFilter) ([]*types.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE 1=1`
	var args []any
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	if filter.FamilyKey != "" {
		query += ` AND family_key = ?`
		args = append(args, filter.FamilyKey)
	}
	if filter.Type != "" {
		query += ` AND type = ?`
		args = append(args, filter.Type)
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list documents: %w", err)
	}
	defer rows.Close()
	var out []*types.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlstore: scan document: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) ListDocuments(ctx context.Context, filter storage.DocumentFilter) ([]*types.Document, error) {
	return listDocuments(ctx, s.db, filter)
}

func (s *Store) FamilyMembers(ctx context.Context, familyKey string) ([]*types.Document, error) {
	return listDocuments(ctx, s.db, storage.DocumentFilter{FamilyKey: familyKey})
}

func (t *txImpl) FamilyMembers(ctx context.Context, familyKey string) ([]*types.Document, error) {
	return listDocuments(ctx, t.sqlTx, storage.DocumentFilter{FamilyKey: familyKey})
}

// txImpl implements storage.Transaction over a single *sql.Tx.
type txImpl struct {
	sqlTx   *sql.Tx
	dialect string
}

func (t *txImpl) forUpdateSuffix() string {
	if t.dialect == "mysql" {
		return " FOR UPDATE"
	}
	return ""
}

func (t *txImpl) LockDocument(ctx context.Context, id string) (*types.Document, error) {
	row := t.sqlTx.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`+t.forUpdateSuffix(), id)
	d, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("document %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: lock document: %w", err)
	}
	return d, nil
}

// LockDocumentsOrdered locks ids in ascending sorted order, the canonical
// order cross-document operations use to avoid deadlock (§5).
func (t *txImpl) LockDocumentsOrdered(ctx context.Context, ids []string) (map[string]*types.Document, error) {
	sorted := append([]string(nil), ids...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1] > sorted[j]; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	out := make(map[string]*types.Document, len(sorted))
	for _, id := range sorted {
		d, err := t.LockDocument(ctx, id)
		if err != nil {
			return nil, err
		}
		out[id] = d
	}
	return out, nil
}

func (t *txImpl) InsertDocument(ctx context.Context, d *types.Document) error {
	_, err := t.sqlTx.ExecContext(ctx, `INSERT INTO documents (`+documentColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		d.ID, d.Number, d.Title, d.Description, d.Type, d.Source, d.VersionMajor, d.VersionMinor,
		d.FamilyKey, d.Status, nullTime(d.EffectiveDate), nullTime(d.ObsolescenceDate), nullTime(d.NextPeriodicReviewDate),
		d.Author, d.Reviewer, d.Approver, d.FileReference, d.ReasonForChange, d.IsActive,
		d.CreatedAt, d.UpdatedAt, nullTime(d.ApprovedAt), nullTime(d.ObsoletedAt), nullTime(d.TerminatedAt))
	if err != nil {
		return fmt.Errorf("sqlstore: insert document: %w", err)
	}
	return nil
}

func (t *txImpl) UpdateDocument(ctx context.Context, d *types.Document) error {
	d.UpdatedAt = time.Now().UTC()
	_, err := t.sqlTx.ExecContext(ctx, `UPDATE documents SET
		title=?, description=?, status=?, effective_date=?, obsolescence_date=?, next_periodic_review_date=?,
		reviewer=?, approver=?, file_reference=?, reason_for_change=?, is_active=?,
		updated_at=?, approved_at=?, obsoleted_at=?, terminated_at=?
		WHERE id=?`,
		d.Title, d.Description, d.Status, nullTime(d.EffectiveDate), nullTime(d.ObsolescenceDate), nullTime(d.NextPeriodicReviewDate),
		d.Reviewer, d.Approver, d.FileReference, d.ReasonForChange, d.IsActive,
		d.UpdatedAt, nullTime(d.ApprovedAt), nullTime(d.ObsoletedAt), nullTime(d.TerminatedAt),
		d.ID)
	if err != nil {
		return fmt.Errorf("sqlstore: update document: %w", err)
	}
	return nil
}
