package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
)

// NextDocumentNumber implements the server-side monotonic counter behind
// document.number generation (§3: "number is server-generated on first
// save by type-prefix + year + monotonic counter"), in the teacher's
// generateIssueID style of a dedicated counter row rather than MAX(id)+1,
// which would race under concurrent inserts.
func (t *txImpl) NextDocumentNumber(ctx context.Context, typeCode string, year int) (int, error) {
	var counter int
	query := `SELECT counter FROM document_number_counters WHERE type_code = ? AND year = ?` + t.forUpdateSuffix()
	err := t.sqlTx.QueryRowContext(ctx, query, typeCode, year).Scan(&counter)
	switch {
	case err == sql.ErrNoRows:
		counter = 0
		if _, err := t.sqlTx.ExecContext(ctx,
			`INSERT INTO document_number_counters (type_code, year, counter) VALUES (?, ?, 0)`,
			typeCode, year); err != nil {
			return 0, fmt.Errorf("sqlstore: seed number counter: %w", err)
		}
	case err != nil:
		return 0, fmt.Errorf("sqlstore: read number counter: %w", err)
	}

	counter++
	if _, err := t.sqlTx.ExecContext(ctx,
		`UPDATE document_number_counters SET counter = ? WHERE type_code = ? AND year = ?`,
		counter, typeCode, year); err != nil {
		return 0, fmt.Errorf("sqlstore: advance number counter: %w", err)
	}
	return counter, nil
}
