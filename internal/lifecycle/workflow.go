package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/edms/lifecycle-core/internal/storage"
	"github.com/edms/lifecycle-core/internal/types"
)

// startWorkflow creates a workflow instance for doc in doc's current state.
// sla of zero means no due date.
func (e *Engine) startWorkflow(ctx context.Context, tx storage.Transaction, doc *types.Document, wfType types.WorkflowType, initiatedBy, assignee string, sla time.Duration) (*types.WorkflowInstance, error) {
	wf := &types.WorkflowInstance{
		ID:              newID(),
		Document:        doc.ID,
		WorkflowType:    wfType,
		CurrentState:    doc.Status,
		InitiatedBy:     initiatedBy,
		CurrentAssignee: assignee,
		InitiatedAt:     e.now(),
	}
	if sla > 0 {
		due := e.now().Add(sla)
		wf.DueAt = &due
	}
	if err := tx.InsertWorkflowInstance(ctx, wf); err != nil {
		return nil, errInternal(err)
	}
	return wf, nil
}

// recordStep updates wf to the document's new state and appends the
// immutable transition row. Both writes ride the caller's transaction.
func (e *Engine) recordStep(ctx context.Context, tx storage.Transaction, wf *types.WorkflowInstance, from, to types.Status, actor, comment string) error {
	wf.CurrentState = to
	if err := tx.UpdateWorkflowInstance(ctx, wf); err != nil {
		return errInternal(err)
	}
	return e.appendTransitionRow(ctx, tx, wf.ID, from, to, actor, comment)
}

func (e *Engine) appendTransitionRow(ctx context.Context, tx storage.Transaction, workflowID string, from, to types.Status, actor, comment string) error {
	t := &types.WorkflowTransition{
		Workflow:   workflowID,
		FromState:  from,
		ToState:    to,
		Actor:      actor,
		Comment:    comment,
		OccurredAt: e.now(),
	}
	if err := tx.InsertWorkflowTransition(ctx, t); err != nil {
		return errInternal(err)
	}
	return nil
}

// activeWorkflowOfType finds doc's open workflow instance of wfType, or nil
// if none is active.
func (e *Engine) activeWorkflowOfType(ctx context.Context, tx storage.Transaction, documentID string, wfType types.WorkflowType) (*types.WorkflowInstance, error) {
	wfs, err := tx.ActiveWorkflowsForDocument(ctx, documentID)
	if err != nil {
		return nil, errInternal(err)
	}
	for _, wf := range wfs {
		if wf.WorkflowType == wfType {
			return wf, nil
		}
	}
	return nil, nil
}

// requireActiveWorkflow is activeWorkflowOfType for the operations that
// cannot proceed without one.
func (e *Engine) requireActiveWorkflow(ctx context.Context, tx storage.Transaction, documentID string, wfType types.WorkflowType) (*types.WorkflowInstance, error) {
	wf, err := e.activeWorkflowOfType(ctx, tx, documentID, wfType)
	if err != nil {
		return nil, err
	}
	if wf == nil {
		return nil, errConflict(fmt.Sprintf("document %s has no active %s workflow", documentID, wfType))
	}
	return wf, nil
}

// docContext assembles the base notification context every lifecycle email
// draws on; callers merge in their template-specific fields.
func docContext(doc *types.Document, extra map[string]string) map[string]string {
	c := map[string]string{
		"document_number": doc.Number,
		"document_title":  doc.Title,
	}
	for k, v := range extra {
		c[k] = v
	}
	return c
}

func formatDue(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format("01/02/2006 03:04 PM") + " UTC"
}

func formatDate(t time.Time) string {
	return t.UTC().Format("01/02/2006") + " UTC"
}
