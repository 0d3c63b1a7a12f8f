package lifecycle

import (
	"context"
	"fmt"

	"github.com/edms/lifecycle-core/internal/storage"
	"github.com/edms/lifecycle-core/internal/types"
)

// PeriodicReviewInput records one periodic-review verdict.
type PeriodicReviewInput struct {
	DocumentID       string
	ActorID          string
	Outcome          types.PeriodicReviewOutcome
	Comments         string
	NextReviewMonths int
}

// PeriodicReviewResult tells the caller whether an up-version must follow.
// The engine never creates the version itself; version creation stays the
// single codepath of StartVersionWorkflow (§4.2.7).
type PeriodicReviewResult struct {
	Review            *types.PeriodicReview
	RequiresUpversion bool
	VersionType       VersionType
}

// FilePeriodicReview records a reviewer's periodic-review outcome against
// an EFFECTIVE document.
func (e *Engine) FilePeriodicReview(ctx context.Context, in PeriodicReviewInput) (*PeriodicReviewResult, error) {
	actor, err := e.loadActor(ctx, in.ActorID)
	if err != nil {
		return nil, err
	}
	switch in.Outcome {
	case types.ReviewConfirmed, types.ReviewMinorUpversion, types.ReviewMajorUpversion:
	default:
		return nil, errMissingField("outcome")
	}

	var (
		result *PeriodicReviewResult
		docNum string
	)
	err = e.store.RunInTransaction(ctx, func(ctx context.Context, tx storage.Transaction) error {
		doc, err := tx.LockDocument(ctx, in.DocumentID)
		if err != nil {
			return wrapStorageErr(err, "document", in.DocumentID)
		}
		docNum = doc.Number
		if doc.Reviewer != actor.ID && !actor.HasCapability(types.CapReview) {
			return errPermissionDenied(string(types.CapReview))
		}
		if doc.Status != types.StatusEffective {
			return newError(CodeInvalidTransition,
				fmt.Sprintf("periodic review applies to EFFECTIVE documents; %s is %s", doc.Number, doc.Status),
				map[string]any{"from_state": string(doc.Status)})
		}

		now := e.now()
		review := &types.PeriodicReview{
			Document:         doc.ID,
			Reviewer:         actor.ID,
			Outcome:          in.Outcome,
			Comments:         in.Comments,
			NextReviewMonths: in.NextReviewMonths,
			CreatedAt:        now,
		}
		if err := tx.InsertPeriodicReview(ctx, review); err != nil {
			return errInternal(err)
		}

		if in.Outcome == types.ReviewConfirmed {
			months := in.NextReviewMonths
			if months <= 0 {
				docType, err := tx.GetDocumentType(ctx, doc.Type)
				if err != nil {
					return wrapStorageErr(err, "document type", doc.Type)
				}
				months = docType.DefaultReviewIntervalMonths
			}
			next := dateOnly(now).AddDate(0, months, 0)
			doc.NextPeriodicReviewDate = &next
			if err := tx.UpdateDocument(ctx, doc); err != nil {
				return errInternal(err)
			}
		}

		if err := e.appendAudit(ctx, tx, actor, types.ActionPeriodicReviewFiled, doc, nil, nil,
			"periodic review filed: "+string(in.Outcome),
			map[string]string{"outcome": string(in.Outcome)}); err != nil {
			return err
		}

		result = &PeriodicReviewResult{Review: review}
		switch in.Outcome {
		case types.ReviewMinorUpversion:
			result.RequiresUpversion = true
			result.VersionType = VersionMinor
		case types.ReviewMajorUpversion:
			result.RequiresUpversion = true
			result.VersionType = VersionMajor
		}
		return nil
	})
	if err != nil {
		return nil, e.finishDenied(ctx, err, actor, in.DocumentID, docNum, types.ActionPeriodicReviewFiled)
	}
	return result, nil
}
