package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/edms/lifecycle-core/internal/audit"
	"github.com/edms/lifecycle-core/internal/types"
)

const auditColumns = `sequence, actor, action, target_kind, target_id, target_display_name,
	from_state, to_state, description, metadata, occurred_at, session_id, previous_checksum, checksum`

func scanAuditEntry(row interface{ Scan(...any) error }) (*types.AuditEntry, error) {
	var e types.AuditEntry
	var fromState, toState, metadataRaw string
	var sessionID sql.NullString
	err := row.Scan(&e.Sequence, &e.Actor, &e.Action, &e.TargetKind, &e.TargetID, &e.TargetDisplayName,
		&fromState, &toState, &e.Description, &metadataRaw, &e.OccurredAt, &sessionID, &e.PreviousChecksum, &e.Checksum)
	if err != nil {
		return nil, err
	}
	if fromState != "" {
		s := types.Status(fromState)
		e.FromState = &s
	}
	if toState != "" {
		s := types.Status(toState)
		e.ToState = &s
	}
	if sessionID.Valid {
		e.SessionID = &sessionID.String
	}
	e.Metadata = decodeMetadata(metadataRaw)
	return &e, nil
}

// encodeMetadata/decodeMetadata use the same "key=value;key=value" form as
// audit.ComputeChecksum's canonicalMetadata, but the stored pairs follow map
// iteration order and are not sorted; the checksum is recomputed from the
// decoded map, which canonicalMetadata sorts.
func encodeMetadata(m map[string]string) string {
	if len(m) == 0 {
		return ""
	}
	parts := make([]string, 0, len(m))
	for k, v := range m {
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, ";")
}

func decodeMetadata(raw string) map[string]string {
	if raw == "" {
		return nil
	}
	out := map[string]string{}
	for _, pair := range strings.Split(raw, ";") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) == 2 {
			out[kv[0]] = kv[1]
		}
	}
	return out
}

func insertAuditEntry(ctx context.Context, exec interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
}, entry *types.AuditEntry) error {
	var fromState, toState string
	if entry.FromState != nil {
		fromState = string(*entry.FromState)
	}
	if entry.ToState != nil {
		toState = string(*entry.ToState)
	}
	var sessionID any
	if entry.SessionID != nil {
		sessionID = *entry.SessionID
	}
	_, err := exec.ExecContext(ctx, `INSERT INTO audit_entries (`+auditColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		entry.Sequence, entry.Actor, entry.Action, entry.TargetKind, entry.TargetID, entry.TargetDisplayName,
		fromState, toState, entry.Description, encodeMetadata(entry.Metadata), entry.OccurredAt, sessionID,
		entry.PreviousChecksum, entry.Checksum)
	return err
}

func latestHead(ctx context.Context, query interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}) (audit.Head, error) {
	var h audit.Head
	if err := query.QueryRowContext(ctx, `SELECT sequence, checksum FROM audit_head WHERE id = 1`).Scan(&h.Sequence, &h.Checksum); err != nil {
		return audit.Head{}, err
	}
	return h, nil
}

// Store-level implementation of storage.AuditReader: used outside a
// transaction by the chain verifier, which only reads. Store deliberately
// does not implement InsertEntry — every write goes through txImpl below,
// inside the same transaction as the entity mutation it accompanies.

func (s *Store) LatestHead(ctx context.Context) (audit.Head, error) {
	h, err := latestHead(ctx, s.db)
	if err != nil {
		return audit.Head{}, fmt.Errorf("sqlstore: latest head: %w", err)
	}
	return h, nil
}

func (s *Store) EntriesFrom(ctx context.Context, from int64) ([]*types.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+auditColumns+` FROM audit_entries WHERE sequence >= ? ORDER BY sequence ASC`, from)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: entries from: %w", err)
	}
	defer rows.Close()
	var out []*types.AuditEntry
	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlstore: scan audit entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Transaction-level audit.Repository implementation: the path every
// engine operation actually uses, since audit writes must share the
// document mutation's transaction.

func (t *txImpl) LatestHead(ctx context.Context) (audit.Head, error) {
	// Lock the head row for the duration of the transaction: any concurrent
	// writer blocks here until this transaction commits or rolls back, which
	// is what makes sequence assignment race-free.
	var h audit.Head
	query := `SELECT sequence, checksum FROM audit_head WHERE id = 1` + t.forUpdateSuffix()
	if err := t.sqlTx.QueryRowContext(ctx, query).Scan(&h.Sequence, &h.Checksum); err != nil {
		return audit.Head{}, fmt.Errorf("sqlstore: tx latest head: %w", err)
	}
	return h, nil
}

func (t *txImpl) InsertEntry(ctx context.Context, entry *types.AuditEntry) error {
	if err := insertAuditEntry(ctx, t.sqlTx, entry); err != nil {
		return fmt.Errorf("sqlstore: tx insert audit entry: %w", err)
	}
	if _, err := t.sqlTx.ExecContext(ctx, `UPDATE audit_head SET sequence = ?, checksum = ? WHERE id = 1`, entry.Sequence, entry.Checksum); err != nil {
		return fmt.Errorf("sqlstore: tx advance audit head: %w", err)
	}
	return nil
}

func (t *txImpl) EntriesFrom(ctx context.Context, from int64) ([]*types.AuditEntry, error) {
	rows, err := t.sqlTx.QueryContext(ctx, `SELECT `+auditColumns+` FROM audit_entries WHERE sequence >= ? ORDER BY sequence ASC`, from)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: tx entries from: %w", err)
	}
	defer rows.Close()
	var out []*types.AuditEntry
	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlstore: tx scan audit entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
