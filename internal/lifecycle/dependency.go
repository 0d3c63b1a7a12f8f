package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/edms/lifecycle-core/internal/depgraph"
	"github.com/edms/lifecycle-core/internal/storage"
	"github.com/edms/lifecycle-core/internal/types"
)

// AddDependencyInput describes a user-created edge. SUPERSEDES is not
// accepted here; those edges are emitted only by family supersession.
type AddDependencyInput struct {
	FromDocumentID string
	ToDocumentID   string
	Type           types.DependencyType
	IsCritical     bool
	ActorID        string
}

// AddDependency inserts a typed edge after running the full cycle
// discipline of §4.3.2 (self-edge, direct inverse, family-level DFS).
func (e *Engine) AddDependency(ctx context.Context, in AddDependencyInput) (*types.DocumentDependency, error) {
	actor, err := e.loadActor(ctx, in.ActorID)
	if err != nil {
		return nil, err
	}
	if !in.Type.IsValid() {
		return nil, errMissingField("type")
	}
	if in.Type == types.DepSupersedes {
		return nil, errPermissionDenied("system")
	}

	var (
		dep    *types.DocumentDependency
		docNum string
	)
	err = e.store.RunInTransaction(ctx, func(ctx context.Context, tx storage.Transaction) error {
		docs, err := tx.LockDocumentsOrdered(ctx, []string{in.FromDocumentID, in.ToDocumentID})
		if err != nil {
			return wrapStorageErr(err, "document", in.FromDocumentID)
		}
		from, to := docs[in.FromDocumentID], docs[in.ToDocumentID]
		docNum = from.Number
		if !actor.HasCapability(types.CapWrite) {
			return errPermissionDenied(string(types.CapWrite))
		}

		if err := depgraph.ValidateNewEdge(ctx, tx, from.ID, to.ID, from.FamilyKey, to.FamilyKey); err != nil {
			var cycleErr *depgraph.ErrCircularDependency
			switch {
			case errors.Is(err, depgraph.ErrSelfEdge):
				return newError(CodeCircularDependency, err.Error(), nil)
			case errors.As(err, &cycleErr):
				return newError(CodeCircularDependency, err.Error(),
					map[string]any{"path": cycleErr.Path})
			default:
				return errInternal(err)
			}
		}

		dep = &types.DocumentDependency{
			FromDocument: from.ID,
			ToDocument:   to.ID,
			Type:         in.Type,
			IsCritical:   in.IsCritical,
			IsActive:     true,
			CreatedAt:    e.now(),
			CreatedBy:    actor.ID,
		}
		if err := dep.Validate(); err != nil {
			return newError(CodeCircularDependency, err.Error(), nil)
		}
		if err := tx.InsertDependency(ctx, dep); err != nil {
			return errInternal(err)
		}

		return e.appendAudit(ctx, tx, actor, types.ActionDependencyAdded, from, nil, nil,
			fmt.Sprintf("%s dependency added to %s", in.Type, to.Number),
			map[string]string{
				"to_document": to.ID,
				"type":        string(in.Type),
				"is_critical": fmt.Sprintf("%t", in.IsCritical),
			})
	})
	if err != nil {
		return nil, e.finishDenied(ctx, err, actor, in.FromDocumentID, docNum, types.ActionDependencyAdded)
	}
	return dep, nil
}

// RemoveDependency soft-deactivates an edge. Nothing is ever physically
// deleted from the graph.
func (e *Engine) RemoveDependency(ctx context.Context, fromDocumentID string, dependencyID int64, actorID string) error {
	actor, err := e.loadActor(ctx, actorID)
	if err != nil {
		return err
	}

	var docNum string
	err = e.store.RunInTransaction(ctx, func(ctx context.Context, tx storage.Transaction) error {
		doc, err := tx.LockDocument(ctx, fromDocumentID)
		if err != nil {
			return wrapStorageErr(err, "document", fromDocumentID)
		}
		docNum = doc.Number
		if !actor.HasCapability(types.CapWrite) {
			return errPermissionDenied(string(types.CapWrite))
		}

		deps, err := tx.DependenciesFrom(ctx, doc.ID)
		if err != nil {
			return errInternal(err)
		}
		var target *types.DocumentDependency
		for _, d := range deps {
			if d.ID == dependencyID {
				target = d
				break
			}
		}
		if target == nil {
			return errNotFound("dependency", fmt.Sprintf("%d", dependencyID))
		}
		if target.Type == types.DepSupersedes {
			return errPermissionDenied("system")
		}

		if err := tx.DeactivateDependency(ctx, dependencyID); err != nil {
			return errInternal(err)
		}
		return e.appendAudit(ctx, tx, actor, types.ActionDependencyRemoved, doc, nil, nil,
			fmt.Sprintf("%s dependency removed", target.Type),
			map[string]string{"to_document": target.ToDocument, "type": string(target.Type)})
	})
	if err != nil {
		return e.finishDenied(ctx, err, actor, fromDocumentID, docNum, types.ActionDependencyRemoved)
	}
	return nil
}
