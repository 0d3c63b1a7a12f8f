package lifecycle

import (
	"context"
	"fmt"

	"github.com/edms/lifecycle-core/internal/notification"
	"github.com/edms/lifecycle-core/internal/storage"
	"github.com/edms/lifecycle-core/internal/types"
)

// VersionType selects how the version pair advances on up-version.
type VersionType string

const (
	VersionMinor VersionType = "minor"
	VersionMajor VersionType = "major"
)

// StartVersionInput describes the new version to cut from an EFFECTIVE
// document.
type StartVersionInput struct {
	DocumentID       string
	ActorID          string
	VersionType      VersionType
	ReasonForChange  string
	SummaryOfChanges string
	// ReviewerID/ApproverID, when both set, route the new draft straight
	// into review; otherwise it stays in DRAFT for the author to submit.
	ReviewerID string
	ApproverID string
}

// StartVersionWorkflow creates the next version of an EFFECTIVE document:
// same family, bumped version pair, dependencies inherited with
// latest-effective resolution (§4.2.4, §4.3.4). The source document stays
// EFFECTIVE until the new version itself becomes effective.
func (e *Engine) StartVersionWorkflow(ctx context.Context, in StartVersionInput) (*types.Document, *Result, error) {
	actor, err := e.loadActor(ctx, in.ActorID)
	if err != nil {
		return nil, nil, err
	}
	if in.VersionType != VersionMinor && in.VersionType != VersionMajor {
		return nil, nil, errMissingField("version_type")
	}
	if in.ReasonForChange == "" {
		return nil, nil, errMissingField("reason_for_change")
	}
	if in.SummaryOfChanges == "" {
		return nil, nil, errMissingField("summary_of_changes")
	}

	var (
		newDoc *types.Document
		res    *Result
		msgs   []notification.Message
		docNum string
	)
	err = e.store.RunInTransaction(ctx, func(ctx context.Context, tx storage.Transaction) error {
		msgs = msgs[:0]
		source, err := tx.LockDocument(ctx, in.DocumentID)
		if err != nil {
			return wrapStorageErr(err, "document", in.DocumentID)
		}
		docNum = source.Number
		if !actor.HasCapability(types.CapWrite) {
			return errPermissionDenied(string(types.CapWrite))
		}
		if source.Status != types.StatusEffective {
			return newError(CodeInvalidTransition,
				fmt.Sprintf("only an EFFECTIVE document can be up-versioned; %s is %s", source.Number, source.Status),
				map[string]any{"from_state": string(source.Status)})
		}

		// One draft per family at a time: the source row lock serializes
		// initiations, and any live non-effective sibling blocks a second.
		members, err := tx.FamilyMembers(ctx, source.FamilyKey)
		if err != nil {
			return errInternal(err)
		}
		for _, m := range members {
			if m.ID == source.ID {
				continue
			}
			if !types.TerminalStatuses[m.Status] && m.Status != types.StatusEffective {
				return errConflict(fmt.Sprintf("version %s of %s is already in progress (%s)",
					m.FullVersion(), source.FamilyKey, m.Status))
			}
		}

		now := e.now()
		year := now.UTC().Year()
		counter, err := tx.NextDocumentNumber(ctx, source.Type, year)
		if err != nil {
			return errInternal(err)
		}

		newDoc = &types.Document{
			ID:              newID(),
			Number:          fmt.Sprintf("%s-%d-%04d", source.Type, year, counter),
			Title:           source.Title,
			Description:     source.Description,
			Type:            source.Type,
			Source:          source.Source,
			FamilyKey:       source.FamilyKey,
			Status:          types.StatusDraft,
			Author:          actor.ID,
			Reviewer:        in.ReviewerID,
			Approver:        in.ApproverID,
			FileReference:   source.FileReference,
			ReasonForChange: in.ReasonForChange,
			IsActive:        true,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		switch in.VersionType {
		case VersionMajor:
			newDoc.VersionMajor = source.VersionMajor + 1
			newDoc.VersionMinor = 0
		case VersionMinor:
			newDoc.VersionMajor = source.VersionMajor
			newDoc.VersionMinor = source.VersionMinor + 1
		}
		if err := newDoc.Validate(); err != nil {
			return errMissingField(err.Error())
		}
		if err := tx.InsertDocument(ctx, newDoc); err != nil {
			return errInternal(err)
		}

		warnings, copied, err := e.copyDependencies(ctx, tx, source, newDoc, actor.ID)
		if err != nil {
			return err
		}

		if err := e.appendAudit(ctx, tx, actor, types.ActionDocCreated, newDoc,
			nil, statusPtr(types.StatusDraft),
			fmt.Sprintf("version %s created from %s v%s", newDoc.FullVersion(), source.Number, source.FullVersion()),
			map[string]string{
				"version_of":          source.ID,
				"reason_for_change":   in.ReasonForChange,
				"summary_of_changes":  in.SummaryOfChanges,
				"dependencies_copied": fmt.Sprintf("%d", copied),
			}); err != nil {
			return err
		}

		// The up-version event itself is recorded as an already-closed
		// workflow instance; the new draft's live workflow is the review.
		upWf, err := e.startWorkflow(ctx, tx, newDoc, types.WorkflowUpVersion, actor.ID, actor.ID, 0)
		if err != nil {
			return err
		}
		upWf.IsTerminated = true
		if err := tx.UpdateWorkflowInstance(ctx, upWf); err != nil {
			return errInternal(err)
		}

		res = &Result{Success: true, NewState: newDoc.Status, WorkflowID: upWf.ID, Warnings: warnings}

		if in.ReviewerID != "" && in.ApproverID != "" {
			from := newDoc.Status
			newDoc.Status = types.StatusPendingReview
			if err := tx.UpdateDocument(ctx, newDoc); err != nil {
				return errInternal(err)
			}
			wf, err := e.startWorkflow(ctx, tx, newDoc, types.WorkflowReview, actor.ID, in.ReviewerID, e.reviewSLA)
			if err != nil {
				return err
			}
			if err := e.appendTransitionRow(ctx, tx, wf.ID, from, newDoc.Status, actor.ID, in.SummaryOfChanges); err != nil {
				return err
			}
			if err := e.appendAudit(ctx, tx, actor, types.ActionReviewSubmitted, newDoc,
				statusPtr(from), statusPtr(newDoc.Status), "submitted for review", nil); err != nil {
				return err
			}
			msgs = append(msgs, notification.Message{
				Template:   notification.TemplateReviewAssigned,
				Recipients: []string{in.ReviewerID},
				Context: docContext(newDoc, map[string]string{
					"author_name": actor.DisplayName,
					"due_at":      formatDue(wf.DueAt),
				}),
			})
			res.NewState = newDoc.Status
			res.WorkflowID = wf.ID
		}
		return nil
	})
	if err != nil {
		return nil, nil, e.finishDenied(ctx, err, actor, in.DocumentID, docNum, types.ActionDocCreated)
	}
	recordTransition(ctx, res.NewState, false)
	e.dispatchAll(ctx, msgs)
	return newDoc, res, nil
}

// copyDependencies implements the smart copy of §4.3.4: each active
// outbound edge of source is re-pointed at the latest-effective member of
// its target's family; targets with no effective member are copied as-is
// with an UNRESOLVED_DEPENDENCY warning. SUPERSEDES edges never carry over.
func (e *Engine) copyDependencies(ctx context.Context, tx storage.Transaction, source, newDoc *types.Document, createdBy string) ([]string, int, error) {
	deps, err := tx.DependenciesFrom(ctx, source.ID)
	if err != nil {
		return nil, 0, errInternal(err)
	}

	var warnings []string
	copied := 0
	for _, d := range deps {
		if !d.IsActive || d.Type == types.DepSupersedes {
			continue
		}
		target, err := tx.GetDocument(ctx, d.ToDocument)
		if err != nil {
			return nil, 0, wrapStorageErr(err, "document", d.ToDocument)
		}

		resolved := target
		if target.Status != types.StatusEffective {
			members, err := tx.FamilyMembers(ctx, target.FamilyKey)
			if err != nil {
				return nil, 0, errInternal(err)
			}
			var effective *types.Document
			for _, m := range members {
				if m.Status == types.StatusEffective {
					effective = m
					break
				}
			}
			if effective != nil {
				resolved = effective
			} else {
				warnings = append(warnings, fmt.Sprintf("UNRESOLVED_DEPENDENCY: %s has no effective version", target.Number))
			}
		}

		edge := &types.DocumentDependency{
			FromDocument: newDoc.ID,
			ToDocument:   resolved.ID,
			Type:         d.Type,
			IsCritical:   d.IsCritical,
			IsActive:     true,
			CreatedAt:    e.now(),
			CreatedBy:    createdBy,
		}
		if err := tx.InsertDependency(ctx, edge); err != nil {
			return nil, 0, errInternal(err)
		}
		copied++
	}
	return warnings, copied, nil
}
