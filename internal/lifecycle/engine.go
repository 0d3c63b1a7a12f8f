package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/edms/lifecycle-core/internal/artifact"
	"github.com/edms/lifecycle-core/internal/audit"
	"github.com/edms/lifecycle-core/internal/depgraph"
	"github.com/edms/lifecycle-core/internal/family"
	"github.com/edms/lifecycle-core/internal/notification"
	"github.com/edms/lifecycle-core/internal/statereg"
	"github.com/edms/lifecycle-core/internal/storage"
	"github.com/edms/lifecycle-core/internal/types"
)

// Default workflow SLAs, overridable per call site; §4.2.2/§4.2.3 name these
// defaults explicitly.
const (
	DefaultReviewSLA   = 30 * 24 * time.Hour
	DefaultApprovalSLA = 14 * 24 * time.Hour
)

// Result is the outcome of one engine operation, matching §6's output
// contract. Callers inspect Success first; Warnings are non-fatal notes
// (e.g. UNRESOLVED_DEPENDENCY) that do not block the operation.
type Result struct {
	Success    bool
	NewState   types.Status
	WorkflowID string
	Warnings   []string
}

// Clock lets tests control "now" without depending on wall-clock time; the
// zero value is never used directly, NewEngine always installs
// time.Now-backed RealClock.
type Clock interface {
	Now() time.Time
}

// RealClock is the production Clock.
type RealClock struct{}

// Now returns the current UTC time.
func (RealClock) Now() time.Time { return time.Now().UTC() }

// Engine is the lifecycle state machine. It holds no document state itself;
// every call reloads the document (and its active workflow) from storage
// under a row lock, per §4.2's operation contract.
type Engine struct {
	store    storage.Storage
	pipeline *artifact.Pipeline
	notifier notification.Dispatcher
	log      *slog.Logger
	clock    Clock
	users    *userCache

	reviewSLA   time.Duration
	approvalSLA time.Duration
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithClock overrides the engine's time source, for deterministic tests.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithSLAs overrides the default review/approval workflow due-by windows.
func WithSLAs(review, approval time.Duration) Option {
	return func(e *Engine) {
		e.reviewSLA = review
		e.approvalSLA = approval
	}
}

// NewEngine wires the lifecycle engine to its collaborators: persistence,
// the artifact pipeline (invoked on the EFFECTIVE transition), the
// notification dispatcher (fire-and-forget per §4.9), and a logger.
func NewEngine(store storage.Storage, pipeline *artifact.Pipeline, notifier notification.Dispatcher, log *slog.Logger, opts ...Option) *Engine {
	if log == nil {
		log = slog.Default()
	}
	e := &Engine{
		store:       store,
		pipeline:    pipeline,
		notifier:    notifier,
		log:         log,
		clock:       RealClock{},
		users:       newUserCache(store, defaultUserCacheTTL),
		reviewSLA:   DefaultReviewSLA,
		approvalSLA: DefaultApprovalSLA,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) now() time.Time { return e.clock.Now() }

// newID generates a UUID for a new entity, matching the teacher's use of
// google/uuid for opaque identifiers (promoted to a direct dependency for
// this purpose, per DESIGN.md).
func newID() string {
	return uuid.NewString()
}

// recordAccessDenied writes the denied-access audit entry in its own
// transaction, after the operation's transaction has rolled back. §7: "no
// audit entry for the attempted state change, but an audit entry for the
// denied access is recorded" — writing it inside the aborted transaction
// would lose it with the rollback.
func (e *Engine) recordAccessDenied(ctx context.Context, actor *types.User, targetKind, targetID, targetDisplay string, attempted types.AuditAction) {
	err := e.store.RunInTransaction(ctx, func(ctx context.Context, tx storage.Transaction) error {
		return audit.Append(ctx, tx, &types.AuditEntry{
			Actor:             actorID(actor),
			Action:            types.ActionAccessDenied,
			TargetKind:        targetKind,
			TargetID:          targetID,
			TargetDisplayName: targetDisplay,
			Description:       "permission denied for " + string(attempted),
			OccurredAt:        e.now(),
		})
	})
	if err != nil {
		e.log.Error("failed to record access-denied audit entry", "error", err, "target", targetID)
	}
}

// finishDenied is the common error tail of every document operation. The
// operation's transaction has already rolled back, so nothing about the
// attempted state change was recorded — but the denial itself still
// belongs on the audit trail: permission denials as ACCESS_DENIED, and
// business-rule blocks (unmet critical dependency, active dependent) as
// TRANSITION_BLOCKED, each written in its own transaction.
func (e *Engine) finishDenied(ctx context.Context, err error, actor *types.User, targetID, targetDisplay string, attempted types.AuditAction) error {
	var lcErr *Error
	if !errors.As(err, &lcErr) {
		return err
	}
	switch lcErr.Code {
	case CodePermissionDenied:
		e.recordAccessDenied(ctx, actor, "document", targetID, targetDisplay, attempted)
	case CodeCriticalDependencyUnmet, CodeDependentStillActive:
		auditErr := e.store.RunInTransaction(ctx, func(ctx context.Context, tx storage.Transaction) error {
			return audit.Append(ctx, tx, &types.AuditEntry{
				Actor:             actorID(actor),
				Action:            types.ActionTransitionBlocked,
				TargetKind:        "document",
				TargetID:          targetID,
				TargetDisplayName: targetDisplay,
				Description:       string(attempted) + " blocked: " + lcErr.Message,
				OccurredAt:        e.now(),
			})
		})
		if auditErr != nil {
			e.log.Error("failed to record transition-blocked audit entry", "error", auditErr, "target", targetID)
		}
	}
	return err
}

func actorID(actor *types.User) string {
	if actor == nil {
		return types.SystemActorID
	}
	return actor.ID
}

// validateTransition wraps statereg.ValidateTransition, converting its error
// into the engine's *Error type.
func (e *Engine) validateTransition(from, to types.Status, trigger statereg.Trigger) error {
	if err := statereg.ValidateTransition(from, to, trigger); err != nil {
		return errInvalidTransition(string(from), string(to))
	}
	return nil
}

// appendAudit is a small convenience wrapper so operation code reads as a
// flat sequence of steps rather than threading audit.Append's signature
// through every call site.
func (e *Engine) appendAudit(ctx context.Context, tx storage.Transaction, actor *types.User, action types.AuditAction, doc *types.Document, from, to *types.Status, description string, metadata map[string]string) error {
	entry := &types.AuditEntry{
		Actor:             actorID(actor),
		Action:            action,
		TargetKind:        "document",
		TargetID:          doc.ID,
		TargetDisplayName: doc.Number,
		FromState:         from,
		ToState:           to,
		Description:       description,
		Metadata:          metadata,
		OccurredAt:        e.now(),
	}
	return audit.Append(ctx, tx, entry)
}

// statusPtr is a small helper since Go doesn't allow &someStatusValue
// directly for a composite literal's field.
func statusPtr(s types.Status) *types.Status { return &s }

// criticalDependencyCheck implements §4.3.3: every active, is_critical
// outbound dependency of doc must resolve (via the family resolver) to a
// document whose status is EFFECTIVE or APPROVED_PENDING_EFFECTIVE.
func (e *Engine) criticalDependencyCheck(ctx context.Context, tx storage.Transaction, doc *types.Document) error {
	deps, err := tx.DependenciesFrom(ctx, doc.ID)
	if err != nil {
		return errInternal(err)
	}
	targetStatus := make(map[string]types.Status, len(deps))
	for _, d := range deps {
		if !d.IsActive || !d.IsCritical {
			continue
		}
		target, err := tx.GetDocument(ctx, d.ToDocument)
		if err != nil {
			return errInternal(err)
		}
		status := target.Status
		if !depgraph.CriticalDependencyStatus[status] {
			// Resolve through the family: an edge to an older version is
			// satisfied by the family's current EFFECTIVE member.
			members, err := tx.FamilyMembers(ctx, target.FamilyKey)
			if err != nil {
				return errInternal(err)
			}
			for _, m := range members {
				if m.Status == types.StatusEffective {
					status = m.Status
					break
				}
			}
		}
		targetStatus[d.ToDocument] = status
	}
	unmet := depgraph.CheckCriticalDependencies(deps, targetStatus)
	if len(unmet) == 0 {
		return nil
	}
	offending := make([]string, 0, len(unmet))
	for _, u := range unmet {
		offending = append(offending, u.Dependency.ToDocument)
	}
	return newError(CodeCriticalDependencyUnmet,
		"one or more critical dependencies are not yet effective",
		map[string]any{"offending_dependencies": offending})
}

// familyResolver builds a family.Resolver bound to this engine's store,
// constructed per-call since it is stateless beyond the store reference.
func (e *Engine) familyResolver() *family.Resolver {
	return family.NewResolver(e.store)
}

// loadActor resolves an actor id through the role cache, translating a
// missing user into NOT_FOUND.
func (e *Engine) loadActor(ctx context.Context, actorID string) (*types.User, error) {
	u, err := e.users.Get(ctx, actorID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, errNotFound("user", actorID)
		}
		return nil, errInternal(err)
	}
	return u, nil
}

// wrapStorageErr maps storage sentinel errors onto the closed error-code
// set; anything unrecognized is INTERNAL.
func wrapStorageErr(err error, kind, id string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrNotFound):
		return errNotFound(kind, id)
	case errors.Is(err, storage.ErrConflict):
		return errConflict(err.Error())
	default:
		return errInternal(err)
	}
}

// dateOnly truncates t to its UTC calendar date.
func dateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// onOrBefore reports whether date's UTC calendar day is today or earlier
// relative to now. Date comparisons in the transition rules are calendar
// comparisons, never instant comparisons.
func onOrBefore(date, now time.Time) bool {
	return !dateOnly(date).After(dateOnly(now))
}

// dispatchAll fires staged notifications after the transaction has
// committed. Dispatch is fire-and-forget; a failed send never unwinds the
// committed transition (§4.9).
func (e *Engine) dispatchAll(ctx context.Context, msgs []notification.Message) {
	if e.notifier == nil {
		return
	}
	for _, m := range msgs {
		e.notifier.Dispatch(ctx, m)
	}
}
