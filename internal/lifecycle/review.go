package lifecycle

import (
	"context"

	"github.com/edms/lifecycle-core/internal/notification"
	"github.com/edms/lifecycle-core/internal/statereg"
	"github.com/edms/lifecycle-core/internal/storage"
	"github.com/edms/lifecycle-core/internal/types"
)

// SubmitForReviewInput names the reviewer and approver the author routes
// the document to.
type SubmitForReviewInput struct {
	DocumentID string
	ActorID    string
	ReviewerID string
	ApproverID string
	Comment    string
}

// SubmitForReview moves a DRAFT document into PENDING_REVIEW and opens the
// REVIEW workflow assigned to the reviewer (§4.2.2).
func (e *Engine) SubmitForReview(ctx context.Context, in SubmitForReviewInput) (*Result, error) {
	actor, err := e.loadActor(ctx, in.ActorID)
	if err != nil {
		return nil, err
	}
	if in.ReviewerID == "" {
		return nil, errMissingField("reviewer")
	}
	if in.ApproverID == "" {
		return nil, errMissingField("approver")
	}

	var (
		res    *Result
		msgs   []notification.Message
		docNum string
	)
	err = e.store.RunInTransaction(ctx, func(ctx context.Context, tx storage.Transaction) error {
		msgs = msgs[:0]
		doc, err := tx.LockDocument(ctx, in.DocumentID)
		if err != nil {
			return wrapStorageErr(err, "document", in.DocumentID)
		}
		docNum = doc.Number
		if doc.Author != actor.ID {
			return errPermissionDenied("author")
		}
		if err := e.validateTransition(doc.Status, types.StatusPendingReview, statereg.TriggerAuthor); err != nil {
			return err
		}
		if doc.FileReference == "" {
			return errMissingField("file_reference")
		}

		var warnings []string
		if in.ReviewerID == in.ApproverID {
			warnings = append(warnings, "reviewer and approver are the same user")
		}

		from := doc.Status
		doc.Status = types.StatusPendingReview
		doc.Reviewer = in.ReviewerID
		doc.Approver = in.ApproverID
		if err := tx.UpdateDocument(ctx, doc); err != nil {
			return errInternal(err)
		}

		wf, err := e.startWorkflow(ctx, tx, doc, types.WorkflowReview, actor.ID, in.ReviewerID, e.reviewSLA)
		if err != nil {
			return err
		}
		if err := e.appendTransitionRow(ctx, tx, wf.ID, from, doc.Status, actor.ID, in.Comment); err != nil {
			return err
		}
		if err := e.appendAudit(ctx, tx, actor, types.ActionReviewSubmitted, doc,
			statusPtr(from), statusPtr(doc.Status), "submitted for review", nil); err != nil {
			return err
		}

		msgs = append(msgs, notification.Message{
			Template:   notification.TemplateReviewAssigned,
			Recipients: []string{in.ReviewerID},
			Context: docContext(doc, map[string]string{
				"author_name": actor.DisplayName,
				"due_at":      formatDue(wf.DueAt),
			}),
		})
		res = &Result{Success: true, NewState: doc.Status, WorkflowID: wf.ID, Warnings: warnings}
		return nil
	})
	if err != nil {
		return nil, e.finishDenied(ctx, err, actor, in.DocumentID, docNum, types.ActionReviewSubmitted)
	}
	recordTransition(ctx, res.NewState, false)
	e.dispatchAll(ctx, msgs)
	return res, nil
}

// AcceptReview is the reviewer taking the document under review
// (PENDING_REVIEW -> UNDER_REVIEW).
func (e *Engine) AcceptReview(ctx context.Context, documentID, actorID, comment string) (*Result, error) {
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
		if doc.Reviewer != actor.ID {
			return errPermissionDenied("reviewer")
		}
		if err := e.validateTransition(doc.Status, types.StatusUnderReview, statereg.TriggerReviewer); err != nil {
			return err
		}

		wf, err := e.requireActiveWorkflow(ctx, tx, doc.ID, types.WorkflowReview)
		if err != nil {
			return err
		}

		from := doc.Status
		doc.Status = types.StatusUnderReview
		if err := tx.UpdateDocument(ctx, doc); err != nil {
			return errInternal(err)
		}
		if err := e.recordStep(ctx, tx, wf, from, doc.Status, actor.ID, comment); err != nil {
			return err
		}
		if err := e.appendAudit(ctx, tx, actor, types.ActionReviewAccepted, doc,
			statusPtr(from), statusPtr(doc.Status), "review accepted", nil); err != nil {
			return err
		}
		res = &Result{Success: true, NewState: doc.Status, WorkflowID: wf.ID}
		return nil
	})
	if err != nil {
		return nil, e.finishDenied(ctx, err, actor, documentID, docNum, types.ActionReviewAccepted)
	}
	recordTransition(ctx, res.NewState, false)
	return res, nil
}

// CompleteReview records the reviewer's verdict. Approved sends the
// document to REVIEW_COMPLETED with exactly one context-rich notification
// to the author; rejected returns it to DRAFT and terminates the workflow,
// again with exactly one notification. No generic task email accompanies
// either branch (§4.9, the duplicate-email contract).
func (e *Engine) CompleteReview(ctx context.Context, documentID, actorID string, approved bool, comment string) (*Result, error) {
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
		if doc.Reviewer != actor.ID {
			return errPermissionDenied("reviewer")
		}

		target := types.StatusReviewCompleted
		if !approved {
			target = types.StatusDraft
		}
		if err := e.validateTransition(doc.Status, target, statereg.TriggerReviewer); err != nil {
			return err
		}

		wf, err := e.requireActiveWorkflow(ctx, tx, doc.ID, types.WorkflowReview)
		if err != nil {
			return err
		}

		from := doc.Status
		doc.Status = target
		if err := tx.UpdateDocument(ctx, doc); err != nil {
			return errInternal(err)
		}

		wf.CurrentAssignee = doc.Author
		if !approved {
			wf.IsTerminated = true
		}
		if err := e.recordStep(ctx, tx, wf, from, doc.Status, actor.ID, comment); err != nil {
			return err
		}

		action := types.ActionReviewCompleted
		template := notification.TemplateReviewApproved
		description := "review completed and approved"
		if !approved {
			action = types.ActionReviewRejected
			template = notification.TemplateReviewRejected
			description = "review rejected, returned to author"
		}
		if err := e.appendAudit(ctx, tx, actor, action, doc,
			statusPtr(from), statusPtr(doc.Status), description, nil); err != nil {
			return err
		}

		msgs = append(msgs, notification.Message{
			Template:   template,
			Recipients: []string{doc.Author},
			Context: docContext(doc, map[string]string{
				"reviewer_name": actor.DisplayName,
				"comment":       comment,
			}),
		})
		res = &Result{Success: true, NewState: doc.Status, WorkflowID: wf.ID}
		return nil
	})
	if err != nil {
		return nil, e.finishDenied(ctx, err, actor, documentID, docNum, types.ActionReviewCompleted)
	}
	recordTransition(ctx, res.NewState, false)
	e.dispatchAll(ctx, msgs)
	return res, nil
}
