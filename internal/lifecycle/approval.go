package lifecycle

import (
	"context"
	"time"

	"github.com/edms/lifecycle-core/internal/artifact"
	"github.com/edms/lifecycle-core/internal/notification"
	"github.com/edms/lifecycle-core/internal/statereg"
	"github.com/edms/lifecycle-core/internal/storage"
	"github.com/edms/lifecycle-core/internal/types"
)

// RouteForApproval moves a REVIEW_COMPLETED document to PENDING_APPROVAL
// and opens the APPROVAL workflow (§4.2.3). approverID may re-select the
// approver; empty keeps the one chosen at submission.
func (e *Engine) RouteForApproval(ctx context.Context, documentID, actorID, approverID, comment string) (*Result, error) {
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
		if err := e.validateTransition(doc.Status, types.StatusPendingApproval, statereg.TriggerAuthor); err != nil {
			return err
		}
		if approverID != "" {
			doc.Approver = approverID
		}
		if doc.Approver == "" {
			return errMissingField("approver")
		}

		// The review workflow has served its purpose; close it before the
		// approval workflow opens.
		if reviewWf, err := e.activeWorkflowOfType(ctx, tx, doc.ID, types.WorkflowReview); err != nil {
			return err
		} else if reviewWf != nil {
			reviewWf.IsTerminated = true
			if err := tx.UpdateWorkflowInstance(ctx, reviewWf); err != nil {
				return errInternal(err)
			}
		}

		from := doc.Status
		doc.Status = types.StatusPendingApproval
		if err := tx.UpdateDocument(ctx, doc); err != nil {
			return errInternal(err)
		}

		wf, err := e.startWorkflow(ctx, tx, doc, types.WorkflowApproval, actor.ID, doc.Approver, e.approvalSLA)
		if err != nil {
			return err
		}
		if err := e.appendTransitionRow(ctx, tx, wf.ID, from, doc.Status, actor.ID, comment); err != nil {
			return err
		}
		if err := e.appendAudit(ctx, tx, actor, types.ActionRoutedForApproval, doc,
			statusPtr(from), statusPtr(doc.Status), "routed for approval", nil); err != nil {
			return err
		}

		msgs = append(msgs, notification.Message{
			Template:   notification.TemplateApprovalAssigned,
			Recipients: []string{doc.Approver},
			Context: docContext(doc, map[string]string{
				"author_name": actor.DisplayName,
				"due_at":      formatDue(wf.DueAt),
			}),
		})
		res = &Result{Success: true, NewState: doc.Status, WorkflowID: wf.ID}
		return nil
	})
	if err != nil {
		return nil, e.finishDenied(ctx, err, actor, documentID, docNum, types.ActionRoutedForApproval)
	}
	recordTransition(ctx, res.NewState, false)
	e.dispatchAll(ctx, msgs)
	return res, nil
}

// AcceptApproval is the approver taking the document under approval
// (PENDING_APPROVAL -> UNDER_APPROVAL).
func (e *Engine) AcceptApproval(ctx context.Context, documentID, actorID, comment string) (*Result, error) {
	actor, err := e.loadActor(ctx, actorID)
	if err != nil {
		return nil, err
	}

	var (
		res    *Result
		docNum string
	)
	err = e.store.RunInTransaction(ctx, func(ctx context.Context, tx storage.Transaction) error {
		doc, err := tx.LockDocument(ctx, documentID)
		if err != nil {
			return wrapStorageErr(err, "document", documentID)
		}
		docNum = doc.Number
		if doc.Approver != actor.ID {
			return errPermissionDenied("approver")
		}
		if err := e.validateTransition(doc.Status, types.StatusUnderApproval, statereg.TriggerApprover); err != nil {
			return err
		}
		wf, err := e.requireActiveWorkflow(ctx, tx, doc.ID, types.WorkflowApproval)
		if err != nil {
			return err
		}

		from := doc.Status
		doc.Status = types.StatusUnderApproval
		if err := tx.UpdateDocument(ctx, doc); err != nil {
			return errInternal(err)
		}
		if err := e.recordStep(ctx, tx, wf, from, doc.Status, actor.ID, comment); err != nil {
			return err
		}
		if err := e.appendAudit(ctx, tx, actor, types.ActionApprovalAccepted, doc,
			statusPtr(from), statusPtr(doc.Status), "approval accepted", nil); err != nil {
			return err
		}
		res = &Result{Success: true, NewState: doc.Status, WorkflowID: wf.ID}
		return nil
	})
	if err != nil {
		return nil, e.finishDenied(ctx, err, actor, documentID, docNum, types.ActionApprovalAccepted)
	}
	recordTransition(ctx, res.NewState, false)
	return res, nil
}

// ApproveDocument records the approver's decision with an effective date.
// Today or earlier goes straight to EFFECTIVE (supersession and artifact
// pipeline included); a future date parks the document in
// APPROVED_PENDING_EFFECTIVE for the scheduler (§4.2.3).
func (e *Engine) ApproveDocument(ctx context.Context, documentID, actorID string, effectiveDate time.Time, comment string) (*Result, error) {
	actor, err := e.loadActor(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if effectiveDate.IsZero() {
		return nil, errMissingField("effective_date")
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
		if doc.Approver != actor.ID {
			return errPermissionDenied("approver")
		}

		now := e.now()
		immediate := onOrBefore(effectiveDate, now)
		target := types.StatusApprovedPendingEffective
		if immediate {
			target = types.StatusEffective
		}
		if err := e.validateTransition(doc.Status, target, statereg.TriggerApprover); err != nil {
			return err
		}
		if err := e.criticalDependencyCheck(ctx, tx, doc); err != nil {
			return err
		}

		wf, err := e.requireActiveWorkflow(ctx, tx, doc.ID, types.WorkflowApproval)
		if err != nil {
			return err
		}

		from := doc.Status
		eff := dateOnly(effectiveDate)
		doc.EffectiveDate = &eff
		approvedAt := now
		doc.ApprovedAt = &approvedAt

		if err := e.appendAudit(ctx, tx, actor, types.ActionDocApproved, doc,
			statusPtr(from), statusPtr(target), "approved with effective date "+formatDate(eff), nil); err != nil {
			return err
		}

		if immediate {
			if err := e.makeEffective(ctx, tx, doc, actor, from); err != nil {
				return err
			}
		} else {
			doc.Status = target
			if err := tx.UpdateDocument(ctx, doc); err != nil {
				return errInternal(err)
			}
		}

		wf.IsTerminated = true
		if err := e.recordStep(ctx, tx, wf, from, doc.Status, actor.ID, comment); err != nil {
			return err
		}

		msgs = append(msgs, notification.Message{
			Template:   notification.TemplateApprovalDecision,
			Recipients: []string{doc.Author},
			Context: docContext(doc, map[string]string{
				"approver_name":  actor.DisplayName,
				"effective_date": formatDate(eff),
			}),
		})
		res = &Result{Success: true, NewState: doc.Status, WorkflowID: wf.ID}
		return nil
	})
	if err != nil {
		return nil, e.finishDenied(ctx, err, actor, documentID, docNum, types.ActionDocApproved)
	}
	recordTransition(ctx, res.NewState, false)
	e.dispatchAll(ctx, msgs)
	return res, nil
}

// RejectApproval returns the document to DRAFT and clears the reviewer and
// approver assignments (§4.2.3).
func (e *Engine) RejectApproval(ctx context.Context, documentID, actorID, reason string) (*Result, error) {
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
		if doc.Approver != actor.ID {
			return errPermissionDenied("approver")
		}
		if err := e.validateTransition(doc.Status, types.StatusDraft, statereg.TriggerApprover); err != nil {
			return err
		}
		wf, err := e.requireActiveWorkflow(ctx, tx, doc.ID, types.WorkflowApproval)
		if err != nil {
			return err
		}

		from := doc.Status
		approverName := actor.DisplayName
		doc.Status = types.StatusDraft
		doc.Reviewer = ""
		doc.Approver = ""
		if err := tx.UpdateDocument(ctx, doc); err != nil {
			return errInternal(err)
		}

		wf.IsTerminated = true
		wf.CurrentAssignee = doc.Author
		if err := e.recordStep(ctx, tx, wf, from, doc.Status, actor.ID, reason); err != nil {
			return err
		}
		if err := e.appendAudit(ctx, tx, actor, types.ActionApprovalRejected, doc,
			statusPtr(from), statusPtr(doc.Status), "approval rejected, returned to author", nil); err != nil {
			return err
		}

		msgs = append(msgs, notification.Message{
			Template:   notification.TemplateApprovalRejected,
			Recipients: []string{doc.Author},
			Context: docContext(doc, map[string]string{
				"approver_name": approverName,
				"comment":       reason,
			}),
		})
		res = &Result{Success: true, NewState: doc.Status, WorkflowID: wf.ID}
		return nil
	})
	if err != nil {
		return nil, e.finishDenied(ctx, err, actor, documentID, docNum, types.ActionApprovalRejected)
	}
	recordTransition(ctx, res.NewState, false)
	e.dispatchAll(ctx, msgs)
	return res, nil
}

// makeEffective is the single codepath through which any document reaches
// EFFECTIVE: approval with an immediate date, or the scheduler arriving at
// a parked one. It assumes the transition has already been validated and
// doc.EffectiveDate set. Within the caller's transaction it finalizes the
// document, sets the first periodic-review date, supersedes the prior
// family member, and runs the artifact pipeline.
func (e *Engine) makeEffective(ctx context.Context, tx storage.Transaction, doc *types.Document, actor *types.User, from types.Status) error {
	now := e.now()
	doc.Status = types.StatusEffective

	docType, err := tx.GetDocumentType(ctx, doc.Type)
	if err != nil {
		return wrapStorageErr(err, "document type", doc.Type)
	}
	if docType.RequiresPeriodicReview && doc.NextPeriodicReviewDate == nil {
		next := dateOnly(now).AddDate(0, docType.DefaultReviewIntervalMonths, 0)
		doc.NextPeriodicReviewDate = &next
	}
	if err := tx.UpdateDocument(ctx, doc); err != nil {
		return errInternal(err)
	}

	// Family supersession: the prior effective member, if any, steps down
	// in the same transaction (§4.10).
	prior, err := e.familyResolver().PriorEffectiveMember(ctx, tx, doc)
	if err != nil {
		return errInternal(err)
	}
	if prior != nil {
		// Re-read under the row lock; the unlocked family scan could be stale.
		priorID := prior.ID
		prior, err = tx.LockDocument(ctx, priorID)
		if err != nil {
			return wrapStorageErr(err, "document", priorID)
		}
		if err := e.validateTransition(prior.Status, types.StatusSuperseded, statereg.TriggerSystem); err != nil {
			return err
		}
		if err := e.familyResolver().Supersede(ctx, tx, doc, prior, actorID(actor), now); err != nil {
			return errInternal(err)
		}
		if err := e.appendAudit(ctx, tx, nil, types.ActionDocSuperseded, prior,
			statusPtr(types.StatusEffective), statusPtr(types.StatusSuperseded),
			"superseded by "+doc.Number+" v"+doc.FullVersion(), nil); err != nil {
			return err
		}
	}

	if err := e.appendAudit(ctx, tx, actor, types.ActionDocEffectiveProcessed, doc,
		statusPtr(from), statusPtr(types.StatusEffective), "document effective", nil); err != nil {
		return err
	}

	if e.pipeline != nil {
		pub, err := e.publishArtifact(ctx, tx, doc, actor, now)
		if err != nil {
			return errInternal(err)
		}
		if err := e.appendAudit(ctx, tx, actor, types.ActionDocSigned, doc, nil, nil,
			"signed release copy published", map[string]string{
				"signed_key":   pub.SignedKey,
				"sha256":       pub.SHA256,
				"signature_id": pub.SignatureID,
			}); err != nil {
			return err
		}
	}
	return nil
}

// publishArtifact assembles the pipeline input from transaction-scoped
// reads: display names for the signature block, and the family's version
// history for the VERSION_HISTORY placeholder.
func (e *Engine) publishArtifact(ctx context.Context, tx storage.Transaction, doc *types.Document, actor *types.User, now time.Time) (*artifact.PublishResult, error) {
	nameOf := func(id string) string {
		if id == "" {
			return ""
		}
		u, err := tx.GetUser(ctx, id)
		if err != nil {
			return id
		}
		return u.DisplayName
	}

	members, err := tx.FamilyMembers(ctx, doc.FamilyKey)
	if err != nil {
		return nil, err
	}
	history := make([]artifact.VersionRecord, 0, len(members))
	for _, m := range members {
		date := m.EffectiveDate
		if date == nil {
			created := m.CreatedAt
			date = &created
		}
		history = append(history, artifact.VersionRecord{
			Version:  m.FullVersion(),
			Date:     date,
			Author:   nameOf(m.Author),
			Status:   m.Status,
			Comments: m.ReasonForChange,
		})
	}

	signerName := "System"
	signerID := types.SystemActorID
	if actor != nil {
		signerName = actor.DisplayName
		signerID = actor.ID
	}
	return e.pipeline.Publish(ctx, artifact.PublishInput{
		Document:     doc,
		AuthorName:   nameOf(doc.Author),
		ReviewerName: nameOf(doc.Reviewer),
		ApproverName: nameOf(doc.Approver),
		SignerName:   signerName,
		SignerID:     signerID,
		History:      history,
		Now:          now,
	})
}

// ProcessEffectiveDate is the scheduler's entry point for one parked
// document whose effective date has arrived. Re-running it on a document
// already EFFECTIVE is a no-op (§4.7 idempotency).
func (e *Engine) ProcessEffectiveDate(ctx context.Context, documentID string) (*Result, error) {
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
		if doc.Status == types.StatusEffective {
			res = &Result{Success: true, NewState: doc.Status}
			return nil
		}
		if err := e.validateTransition(doc.Status, types.StatusEffective, statereg.TriggerScheduler); err != nil {
			return err
		}
		if doc.EffectiveDate == nil || !onOrBefore(*doc.EffectiveDate, e.now()) {
			res = &Result{Success: true, NewState: doc.Status, Warnings: []string{"effective date not yet reached"}}
			return nil
		}
		if err := e.criticalDependencyCheck(ctx, tx, doc); err != nil {
			return err
		}

		from := doc.Status
		if err := e.makeEffective(ctx, tx, doc, nil, from); err != nil {
			return err
		}

		msgs = append(msgs, notification.Message{
			Template:   notification.TemplateScheduledEffective,
			Recipients: stakeholders(doc),
			Context: docContext(doc, map[string]string{
				"effective_date": formatDate(*doc.EffectiveDate),
			}),
		})
		res = &Result{Success: true, NewState: doc.Status}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if res.NewState == types.StatusEffective && len(msgs) > 0 {
		recordTransition(ctx, res.NewState, true)
	}
	e.dispatchAll(ctx, msgs)
	return res, nil
}

// stakeholders is the owner-plus-assignees recipient set for scheduled
// transition notices.
func stakeholders(doc *types.Document) []string {
	seen := map[string]bool{}
	var out []string
	for _, id := range []string{doc.Author, doc.Reviewer, doc.Approver} {
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
