package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/edms/lifecycle-core/internal/storage"
	"github.com/edms/lifecycle-core/internal/types"
)

const workflowColumns = `id, document, workflow_type, current_state, initiated_by, current_assignee, initiated_at, due_at, is_terminated`

func scanWorkflow(row interface{ Scan(...any) error }) (*types.WorkflowInstance, error) {
	var w types.WorkflowInstance
	var dueAt sql.NullTime
	if err := row.Scan(&w.ID, &w.Document, &w.WorkflowType, &w.CurrentState, &w.InitiatedBy, &w.CurrentAssignee, &w.InitiatedAt, &dueAt, &w.IsTerminated); err != nil {
		return nil, err
	}
	if dueAt.Valid {
		w.DueAt = &dueAt.Time
	}
	return &w, nil
}

func (s *Store) GetWorkflowInstance(ctx context.Context, id string) (*types.WorkflowInstance, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+workflowColumns+` FROM workflow_instances WHERE id = ?`, id)
	w, err := scanWorkflow(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("workflow %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: get workflow: %w", err)
	}
	return w, nil
}

func activeWorkflowsForDocument(ctx context.Context, q querier, documentID string) ([]*types.WorkflowInstance, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+workflowColumns+` FROM workflow_instances WHERE document = ? AND is_terminated = 0`, documentID)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: active workflows: %w", err)
	}
	defer rows.Close()
	var out []*types.WorkflowInstance
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlstore: scan workflow: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *Store) ActiveWorkflowsForDocument(ctx context.Context, documentID string) ([]*types.WorkflowInstance, error) {
	return activeWorkflowsForDocument(ctx, s.db, documentID)
}

func (t *txImpl) ActiveWorkflowsForDocument(ctx context.Context, documentID string) ([]*types.WorkflowInstance, error) {
	return activeWorkflowsForDocument(ctx, t.sqlTx, documentID)
}

func (s *Store) OverdueWorkflows(ctx context.Context, before time.Time) ([]*types.WorkflowInstance, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+workflowColumns+` FROM workflow_instances WHERE is_terminated = 0 AND due_at IS NOT NULL AND due_at < ?`, before.UTC())
	if err != nil {
		return nil, fmt.Errorf("sqlstore: overdue workflows: %w", err)
	}
	defer rows.Close()
	var out []*types.WorkflowInstance
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlstore: scan workflow: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (t *txImpl) InsertWorkflowInstance(ctx context.Context, w *types.WorkflowInstance) error {
	_, err := t.sqlTx.ExecContext(ctx, `INSERT INTO workflow_instances
		(id, document, workflow_type, current_state, initiated_by, current_assignee, initiated_at, due_at, is_terminated)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		w.ID, w.Document, w.WorkflowType, w.CurrentState, w.InitiatedBy, w.CurrentAssignee, w.InitiatedAt, nullTime(w.DueAt), w.IsTerminated)
	if err != nil {
		return fmt.Errorf("sqlstore: insert workflow: %w", err)
	}
	return nil
}

func (t *txImpl) UpdateWorkflowInstance(ctx context.Context, w *types.WorkflowInstance) error {
	_, err := t.sqlTx.ExecContext(ctx, `UPDATE workflow_instances SET
		current_state=?, current_assignee=?, due_at=?, is_terminated=? WHERE id=?`,
		w.CurrentState, w.CurrentAssignee, nullTime(w.DueAt), w.IsTerminated, w.ID)
	if err != nil {
		return fmt.Errorf("sqlstore: update workflow: %w", err)
	}
	return nil
}

func (t *txImpl) InsertWorkflowTransition(ctx context.Context, tr *types.WorkflowTransition) error {
	res, err := t.sqlTx.ExecContext(ctx, `INSERT INTO workflow_transitions
		(workflow, from_state, to_state, actor, comment, occurred_at) VALUES (?,?,?,?,?,?)`,
		tr.Workflow, tr.FromState, tr.ToState, tr.Actor, tr.Comment, tr.OccurredAt)
	if err != nil {
		return fmt.Errorf("sqlstore: insert workflow transition: %w", err)
	}
	id, err := res.LastInsertId()
	if err == nil {
		tr.ID = id
	}
	return nil
}

func (t *txImpl) InsertPeriodicReview(ctx context.Context, r *types.PeriodicReview) error {
	res, err := t.sqlTx.ExecContext(ctx, `INSERT INTO periodic_reviews
		(document, reviewer, outcome, comments, next_review_months, linked_new_version, created_at)
		VALUES (?,?,?,?,?,?,?)`,
		r.Document, r.Reviewer, r.Outcome, r.Comments, r.NextReviewMonths, r.LinkedNewVersion, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("sqlstore: insert periodic review: %w", err)
	}
	id, err := res.LastInsertId()
	if err == nil {
		r.ID = id
	}
	return nil
}
