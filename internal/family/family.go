// Package family implements the Family Resolver (component J): grouping
// document versions by family_key, locating the latest-effective member,
// and superseding the prior effective member when a new version reaches
// EFFECTIVE.
package family

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/edms/lifecycle-core/internal/storage"
	"github.com/edms/lifecycle-core/internal/types"
)

// Resolver answers family-level queries against a Storage backend.
// latest_effective lookups are deduplicated across concurrent callers with
// a singleflight group, since a burst of approvals across unrelated
// documents can still legitimately share a family (an up-version workflow
// and its scheduler-driven sibling probing the same family concurrently).
type Resolver struct {
	store storage.Storage
	group singleflight.Group
}

// NewResolver builds a Resolver over store.
func NewResolver(store storage.Storage) *Resolver {
	return &Resolver{store: store}
}

// LatestEffective returns the single EFFECTIVE member of familyKey, or nil
// if none exists.
func (r *Resolver) LatestEffective(ctx context.Context, familyKey string) (*types.Document, error) {
	v, err, _ := r.group.Do(familyKey, func() (any, error) {
		members, err := r.store.FamilyMembers(ctx, familyKey)
		if err != nil {
			return nil, fmt.Errorf("family: load members of %s: %w", familyKey, err)
		}
		for _, m := range members {
			if m.Status == types.StatusEffective {
				return m, nil
			}
		}
		return (*types.Document)(nil), nil
	})
	if err != nil {
		return nil, err
	}
	doc, _ := v.(*types.Document)
	return doc, nil
}

// PriorEffectiveMember returns the EFFECTIVE member of newDoc's family other
// than newDoc itself, for supersession at the moment newDoc becomes
// effective. Returns nil if there is no prior effective member (e.g. this
// is the family's first version).
func (r *Resolver) PriorEffectiveMember(ctx context.Context, tx storage.Transaction, newDoc *types.Document) (*types.Document, error) {
	members, err := tx.FamilyMembers(ctx, newDoc.FamilyKey)
	if err != nil {
		return nil, fmt.Errorf("family: load members of %s: %w", newDoc.FamilyKey, err)
	}
	for _, m := range members {
		if m.ID != newDoc.ID && m.Status == types.StatusEffective {
			return m, nil
		}
	}
	return nil, nil
}

// Supersede implements on_new_version_effective: within the caller's
// transaction, it transitions the prior effective member to SUPERSEDED and
// emits a SUPERSEDES dependency edge from newDoc to it. The caller is
// responsible for writing the corresponding audit entry and workflow
// bookkeeping for newDoc itself; Supersede only handles the prior member's
// side of the transition, since that document's own audit trail belongs to
// it.
func (r *Resolver) Supersede(ctx context.Context, tx storage.Transaction, newDoc, prior *types.Document, actor string, now time.Time) error {
	prior.Status = types.StatusSuperseded
	prior.IsActive = true // superseded documents remain on record, just not current
	if err := tx.UpdateDocument(ctx, prior); err != nil {
		return fmt.Errorf("family: supersede %s: %w", prior.ID, err)
	}
	edge := &types.DocumentDependency{
		FromDocument: newDoc.ID,
		ToDocument:   prior.ID,
		Type:         types.DepSupersedes,
		IsCritical:   false,
		IsActive:     true,
		CreatedAt:    now,
		CreatedBy:    actor,
	}
	if err := tx.InsertDependency(ctx, edge); err != nil {
		return fmt.Errorf("family: insert supersedes edge: %w", err)
	}
	return nil
}
