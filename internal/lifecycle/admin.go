package lifecycle

import (
	"context"

	"github.com/edms/lifecycle-core/internal/audit"
	"github.com/edms/lifecycle-core/internal/storage"
	"github.com/edms/lifecycle-core/internal/types"
)

// GrantSuperuser elevates target to superuser. Actor must already be a
// superuser (§4.2.6).
func (e *Engine) GrantSuperuser(ctx context.Context, targetID, actorID string) error {
	return e.setSuperuser(ctx, targetID, actorID, true)
}

// RevokeSuperuser removes target's superuser status, refusing to strip the
// last active superuser (§4.2.6).
func (e *Engine) RevokeSuperuser(ctx context.Context, targetID, actorID string) error {
	return e.setSuperuser(ctx, targetID, actorID, false)
}

func (e *Engine) setSuperuser(ctx context.Context, targetID, actorID string, grant bool) error {
	actor, err := e.loadActor(ctx, actorID)
	if err != nil {
		return err
	}
	action := types.ActionRoleGranted
	if !grant {
		action = types.ActionRoleRevoked
	}
	if !actor.IsSuperuser {
		e.recordAccessDenied(ctx, actor, "user", targetID, targetID, action)
		return errPermissionDenied("superuser")
	}

	err = e.store.RunInTransaction(ctx, func(ctx context.Context, tx storage.Transaction) error {
		target, err := tx.GetUser(ctx, targetID)
		if err != nil {
			return wrapStorageErr(err, "user", targetID)
		}

		if !grant {
			supers, err := tx.ListActiveSuperusers(ctx)
			if err != nil {
				return errInternal(err)
			}
			others := 0
			for _, s := range supers {
				if s.ID != target.ID {
					others++
				}
			}
			if others == 0 {
				return newError(CodeLastSuperuserProtected,
					"cannot revoke the last active superuser",
					map[string]any{"user": target.Username})
			}
		}

		if err := tx.SetUserSuperuser(ctx, target.ID, grant); err != nil {
			return wrapStorageErr(err, "user", target.ID)
		}

		description := "superuser granted"
		if !grant {
			description = "superuser revoked"
		}
		return audit.Append(ctx, tx, &types.AuditEntry{
			Actor:             actor.ID,
			Action:            action,
			TargetKind:        "user",
			TargetID:          target.ID,
			TargetDisplayName: target.Username,
			Description:       description,
			OccurredAt:        e.now(),
		})
	})
	if err != nil {
		return err
	}
	e.users.Invalidate(targetID)
	return nil
}
