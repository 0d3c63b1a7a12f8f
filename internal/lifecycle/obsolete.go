package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/edms/lifecycle-core/internal/notification"
	"github.com/edms/lifecycle-core/internal/statereg"
	"github.com/edms/lifecycle-core/internal/storage"
	"github.com/edms/lifecycle-core/internal/types"
)

// ScheduleObsolescence retires an EFFECTIVE document: immediately when
// targetDate is today or past, otherwise parking it in
// SCHEDULED_FOR_OBSOLESCENCE for the scheduler (§4.2.5). Only the approver
// of the current effective version or a superuser may do this.
func (e *Engine) ScheduleObsolescence(ctx context.Context, documentID, actorID string, targetDate time.Time, reason string) (*Result, error) {
	actor, err := e.loadActor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if targetDate.IsZero() {
		return nil, errMissingField("target_date")
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
		if doc.Approver != actor.ID && !actor.IsSuperuser {
			return errPermissionDenied("approver")
		}

		now := e.now()
		immediate := onOrBefore(targetDate, now)
		target := types.StatusScheduledForObsolescence
		if immediate {
			target = types.StatusObsolete
		}
		if err := e.validateTransition(doc.Status, target, statereg.TriggerApprover); err != nil {
			return err
		}
		if err := e.checkEffectiveDescendants(ctx, tx, doc); err != nil {
			return err
		}

		from := doc.Status
		obsDate := dateOnly(targetDate)
		doc.ObsolescenceDate = &obsDate
		doc.Status = target

		wf, err := e.startWorkflow(ctx, tx, doc, types.WorkflowObsolescence, actor.ID, actor.ID, 0)
		if err != nil {
			return err
		}
		if !immediate {
			wf.DueAt = &obsDate
		}

		if immediate {
			obsAt := now
			doc.ObsoletedAt = &obsAt
			wf.IsTerminated = true
			if err := e.appendAudit(ctx, tx, actor, types.ActionDocObsoleted, doc,
				statusPtr(from), statusPtr(doc.Status), "obsoleted: "+reason, nil); err != nil {
				return err
			}
			msgs = append(msgs, notification.Message{
				Template:   notification.TemplateScheduledObsolete,
				Recipients: stakeholders(doc),
				Context: docContext(doc, map[string]string{
					"obsolescence_date": formatDate(obsDate),
				}),
			})
		} else {
			if err := e.appendAudit(ctx, tx, actor, types.ActionObsolescenceScheduled, doc,
				statusPtr(from), statusPtr(doc.Status), "obsolescence scheduled for "+formatDate(obsDate)+": "+reason, nil); err != nil {
				return err
			}
		}

		if err := tx.UpdateDocument(ctx, doc); err != nil {
			return errInternal(err)
		}
		if err := e.recordStep(ctx, tx, wf, from, doc.Status, actor.ID, reason); err != nil {
			return err
		}
		res = &Result{Success: true, NewState: doc.Status, WorkflowID: wf.ID}
		return nil
	})
	if err != nil {
		return nil, e.finishDenied(ctx, err, actor, documentID, docNum, types.ActionObsolescenceScheduled)
	}
	recordTransition(ctx, res.NewState, false)
	e.dispatchAll(ctx, msgs)
	return res, nil
}

// checkEffectiveDescendants blocks obsolescence while an active, critical
// dependent still points at this document's family and is not itself on
// the way out (§4.2.5's effective descendant check).
func (e *Engine) checkEffectiveDescendants(ctx context.Context, tx storage.Transaction, doc *types.Document) error {
	members, err := tx.FamilyMembers(ctx, doc.FamilyKey)
	if err != nil {
		return errInternal(err)
	}

	var blocking []string
	seen := map[string]bool{}
	for _, m := range members {
		inbound, err := tx.DependenciesTo(ctx, m.ID)
		if err != nil {
			return errInternal(err)
		}
		for _, d := range inbound {
			if !d.IsActive || !d.IsCritical || d.Type == types.DepSupersedes {
				continue
			}
			dependent, err := tx.GetDocument(ctx, d.FromDocument)
			if err != nil {
				return wrapStorageErr(err, "document", d.FromDocument)
			}
			if dependent.FamilyKey == doc.FamilyKey || seen[dependent.ID] {
				continue
			}
			if !dependent.IsActive || types.TerminalStatuses[dependent.Status] ||
				dependent.Status == types.StatusScheduledForObsolescence {
				continue
			}
			seen[dependent.ID] = true
			blocking = append(blocking, dependent.Number)
		}
	}
	if len(blocking) == 0 {
		return nil
	}
	return newError(CodeDependentStillActive,
		fmt.Sprintf("%d active document(s) still depend critically on this document", len(blocking)),
		map[string]any{"dependents": blocking})
}

// ProcessObsolescenceDate is the scheduler finalizing a parked
// obsolescence. A document already OBSOLETE is a no-op.
func (e *Engine) ProcessObsolescenceDate(ctx context.Context, documentID string) (*Result, error) {
	var (
		res  *Result
		msgs []notification.Message
	)
	err := e.store.RunInTransaction(ctx, func(ctx context.Context, tx storage.Transaction) error {
		msgs = msgs[:0]
		doc, err := tx.LockDocument(ctx, documentID)
		if err != nil {
			return wrapStorageErr(err, "document", documentID)
		}
		if doc.Status == types.StatusObsolete {
			res = &Result{Success: true, NewState: doc.Status}
			return nil
		}
		if err := e.validateTransition(doc.Status, types.StatusObsolete, statereg.TriggerScheduler); err != nil {
			return err
		}
		if doc.ObsolescenceDate == nil || !onOrBefore(*doc.ObsolescenceDate, e.now()) {
			res = &Result{Success: true, NewState: doc.Status, Warnings: []string{"obsolescence date not yet reached"}}
			return nil
		}

		from := doc.Status
		doc.Status = types.StatusObsolete
		obsAt := e.now()
		doc.ObsoletedAt = &obsAt
		if err := tx.UpdateDocument(ctx, doc); err != nil {
			return errInternal(err)
		}

		if wf, err := e.activeWorkflowOfType(ctx, tx, doc.ID, types.WorkflowObsolescence); err != nil {
			return err
		} else if wf != nil {
			wf.IsTerminated = true
			if err := e.recordStep(ctx, tx, wf, from, doc.Status, types.SystemActorID, "obsolescence date reached"); err != nil {
				return err
			}
		}

		if err := e.appendAudit(ctx, tx, nil, types.ActionDocObsoleted, doc,
			statusPtr(from), statusPtr(doc.Status), "obsolescence date reached", nil); err != nil {
			return err
		}

		msgs = append(msgs, notification.Message{
			Template:   notification.TemplateScheduledObsolete,
			Recipients: stakeholders(doc),
			Context: docContext(doc, map[string]string{
				"obsolescence_date": formatDate(*doc.ObsolescenceDate),
			}),
		})
		res = &Result{Success: true, NewState: doc.Status}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if res.NewState == types.StatusObsolete && len(msgs) > 0 {
		recordTransition(ctx, res.NewState, true)
	}
	e.dispatchAll(ctx, msgs)
	return res, nil
}
