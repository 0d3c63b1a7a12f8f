package lifecycle

import (
	"context"

	"github.com/edms/lifecycle-core/internal/notification"
	"github.com/edms/lifecycle-core/internal/statereg"
	"github.com/edms/lifecycle-core/internal/storage"
	"github.com/edms/lifecycle-core/internal/types"
)

// TerminateDocument withdraws a document that has not yet become
// EFFECTIVE. Every open workflow on it is closed and its assignee
// notified of the cancellation (§4.2.5).
func (e *Engine) TerminateDocument(ctx context.Context, documentID, actorID, reason string) (*Result, error) {
	actor, err := e.loadActor(ctx, actorID)
	if err != nil {
		return nil, err
	}

	var (
		res    *Result
		msgs   []notification.Message
		docNum string
	)
	err = e.store.RunInTransaction(ctx, func(ctx context.Context, tx storage.Transaction) error {
		msgs = msgs[:0]
		doc, err := tx.LockDocument(ctx, documentID)
		if err != nil {
			return wrapStorageErr(err, "document", documentID)
		}
		docNum = doc.Number
		if doc.Author != actor.ID {
			return errPermissionDenied("author")
		}
		if err := e.validateTransition(doc.Status, types.StatusTerminated, statereg.TriggerAuthor); err != nil {
			return err
		}

		from := doc.Status
		doc.Status = types.StatusTerminated
		doc.IsActive = false
		now := e.now()
		doc.TerminatedAt = &now
		if err := tx.UpdateDocument(ctx, doc); err != nil {
			return errInternal(err)
		}

		wfs, err := tx.ActiveWorkflowsForDocument(ctx, doc.ID)
		if err != nil {
			return errInternal(err)
		}
		for _, wf := range wfs {
			wf.IsTerminated = true
			if err := e.recordStep(ctx, tx, wf, from, doc.Status, actor.ID, reason); err != nil {
				return err
			}
			if wf.CurrentAssignee != "" && wf.CurrentAssignee != actor.ID {
				msgs = append(msgs, notification.Message{
					Template:   notification.TemplateWorkflowCancelled,
					Recipients: []string{wf.CurrentAssignee},
					Context: docContext(doc, map[string]string{
						"workflow_type": string(wf.WorkflowType),
					}),
				})
			}
		}

		if err := e.appendAudit(ctx, tx, actor, types.ActionDocTerminated, doc,
			statusPtr(from), statusPtr(doc.Status), "terminated: "+reason, nil); err != nil {
			return err
		}
		res = &Result{Success: true, NewState: doc.Status}
		return nil
	})
	if err != nil {
		return nil, e.finishDenied(ctx, err, actor, documentID, docNum, types.ActionDocTerminated)
	}
	recordTransition(ctx, res.NewState, false)
	e.dispatchAll(ctx, msgs)
	return res, nil
}
