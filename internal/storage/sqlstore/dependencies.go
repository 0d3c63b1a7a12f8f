package sqlstore

import (
	"context"
	"fmt"

	"github.com/edms/lifecycle-core/internal/types"
)

const dependencyColumns = `id, from_document, to_document, type, is_critical, is_active, created_at, created_by`

func scanDependency(row interface{ Scan(...any) error }) (*types.DocumentDependency, error) {
	var d types.DocumentDependency
	if err := row.Scan(&d.ID, &d.FromDocument, &d.ToDocument, &d.Type, &d.IsCritical, &d.IsActive, &d.CreatedAt, &d.CreatedBy); err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *Store) DependenciesFrom(ctx context.Context, documentID string) ([]*types.DocumentDependency, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+dependencyColumns+` FROM document_dependencies WHERE from_document = ? AND is_active = 1`, documentID)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: dependencies from: %w", err)
	}
	defer rows.Close()
	return scanDependencyRows(rows)
}

func dependenciesTo(ctx context.Context, q querier, documentID string) ([]*types.DocumentDependency, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+dependencyColumns+` FROM document_dependencies WHERE to_document = ? AND is_active = 1`, documentID)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: dependencies to: %w", err)
	}
	defer rows.Close()
	return scanDependencyRows(rows)
}

func (s *Store) DependenciesTo(ctx context.Context, documentID string) ([]*types.DocumentDependency, error) {
	return dependenciesTo(ctx, s.db, documentID)
}

func (t *txImpl) DependenciesTo(ctx context.Context, documentID string) ([]*types.DocumentDependency, error) {
	return dependenciesTo(ctx, t.sqlTx, documentID)
}

func scanDependencyRows(rows interface {
	Next() bool
	Scan(...any) error
	Err() error
}) ([]*types.DocumentDependency, error) {
	var out []*types.DocumentDependency
	for rows.Next() {
		d, err := scanDependency(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlstore: scan dependency: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ActiveFamilyEdges implements depgraph.EdgeProvider: it joins dependencies
// through the documents table twice to translate document-level edges into
// family-level edges in one query, matching the N+1-avoidance style of the
// teacher's batch dependency queries. SELECT DISTINCT de-duplicates the
// target family keys; the Go loop drops the family's own key.
func (s *Store) ActiveFamilyEdges(ctx context.Context, familyKey string) ([]string, error) {
	return activeFamilyEdges(ctx, s.db, familyKey)
}

func (t *txImpl) ActiveFamilyEdges(ctx context.Context, familyKey string) ([]string, error) {
	return activeFamilyEdges(ctx, t.sqlTx, familyKey)
}

func activeFamilyEdges(ctx context.Context, q querier, familyKey string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT DISTINCT td.family_key
		FROM document_dependencies dd
		JOIN documents fd ON fd.id = dd.from_document
		JOIN documents td ON td.id = dd.to_document
		WHERE fd.family_key = ? AND dd.is_active = 1 AND dd.type <> ?`,
		familyKey, types.DepSupersedes)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: active family edges: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var fam string
		if err := rows.Scan(&fam); err != nil {
			return nil, fmt.Errorf("sqlstore: scan family edge: %w", err)
		}
		if fam != familyKey {
			out = append(out, fam)
		}
	}
	return out, rows.Err()
}

func (s *Store) AllFamilyKeys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT family_key FROM documents`)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: all family keys: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var fam string
		if err := rows.Scan(&fam); err != nil {
			return nil, fmt.Errorf("sqlstore: scan family key: %w", err)
		}
		out = append(out, fam)
	}
	return out, rows.Err()
}

func (t *txImpl) DependenciesFrom(ctx context.Context, documentID string) ([]*types.DocumentDependency, error) {
	rows, err := t.sqlTx.QueryContext(ctx, `SELECT `+dependencyColumns+` FROM document_dependencies WHERE from_document = ? AND is_active = 1`, documentID)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: tx dependencies from: %w", err)
	}
	defer rows.Close()
	return scanDependencyRows(rows)
}

func (t *txImpl) InsertDependency(ctx context.Context, d *types.DocumentDependency) error {
	res, err := t.sqlTx.ExecContext(ctx, `INSERT INTO document_dependencies
		(from_document, to_document, type, is_critical, is_active, created_at, created_by)
		VALUES (?,?,?,?,?,?,?)`,
		d.FromDocument, d.ToDocument, d.Type, d.IsCritical, d.IsActive, d.CreatedAt, d.CreatedBy)
	if err != nil {
		return fmt.Errorf("sqlstore: insert dependency: %w", err)
	}
	id, err := res.LastInsertId()
	if err == nil {
		d.ID = id
	}
	return nil
}

func (t *txImpl) DeactivateDependency(ctx context.Context, id int64) error {
	_, err := t.sqlTx.ExecContext(ctx, `UPDATE document_dependencies SET is_active = 0 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlstore: deactivate dependency: %w", err)
	}
	return nil
}
