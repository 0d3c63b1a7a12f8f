package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/edms/lifecycle-core/internal/storage"
	"github.com/edms/lifecycle-core/internal/types"
)

func pruneCutoff(days int) time.Time {
	return time.Now().UTC().AddDate(0, 0, -days)
}

func (s *Store) GetScheduledTask(ctx context.Context, name string) (*types.ScheduledTask, error) {
	var t types.ScheduledTask
	var scheduledTime, lastRunAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `SELECT name, scheduled_time, completed, result_status, last_run_at, total_run_count
		FROM scheduled_tasks WHERE name = ?`, name).
		Scan(&t.Name, &scheduledTime, &t.Completed, &t.ResultStatus, &lastRunAt, &t.TotalRunCount)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("scheduled task %s: %w", name, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: get scheduled task: %w", err)
	}
	if scheduledTime.Valid {
		t.ScheduledTime = scheduledTime.Time
	}
	if lastRunAt.Valid {
		t.LastRunAt = &lastRunAt.Time
	}
	return &t, nil
}

// UpsertScheduledTask persists the latest run outcome for a named task.
// This is the fix for the historical bug noted in §4.7/§9: last_run_at and
// total_run_count live in the relational store, the same backend as every
// other entity, not a separate on-disk file.
func (s *Store) UpsertScheduledTask(ctx context.Context, task *types.ScheduledTask) error {
	query := `INSERT INTO scheduled_tasks (name, scheduled_time, completed, result_status, last_run_at, total_run_count)
		VALUES (?,?,?,?,?,?) ` +
		s.upsertClause("name", "scheduled_time", "completed", "result_status", "last_run_at", "total_run_count")
	_, err := s.db.ExecContext(ctx, query,
		task.Name, nullTime(&task.ScheduledTime), task.Completed, task.ResultStatus, nullTime(task.LastRunAt), task.TotalRunCount)
	if err != nil {
		return fmt.Errorf("sqlstore: upsert scheduled task: %w", err)
	}
	return nil
}

// PruneTaskResultsOlderThan deletes scheduled_tasks rows whose last_run_at
// predates now-days, the "cleanup-task-results" task's target (§4.7). It
// is a genuine physical delete: scheduled-task rows are ephemeral
// monitoring data, not domain entities, so the no-physical-delete rule
// (§9) does not apply to them.
func (s *Store) PruneTaskResultsOlderThan(ctx context.Context, days int) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_tasks WHERE last_run_at IS NOT NULL AND last_run_at < ?`,
		pruneCutoff(days))
	if err != nil {
		return 0, fmt.Errorf("sqlstore: prune task results: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlstore: prune task results rows affected: %w", err)
	}
	return n, nil
}
