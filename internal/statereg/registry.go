// Package statereg holds the document status enum, the closed transition
// matrix it implies, and lookup helpers over it. The registry is static
// and stateless: it never touches storage and never mutates a document
// itself, it only answers "is this transition legal" and "who triggers it".
package statereg

import (
	"fmt"

	"github.com/edms/lifecycle-core/internal/types"
)

// Trigger identifies who or what is permitted to initiate a transition.
type Trigger string

const (
	TriggerAuthor    Trigger = "author"
	TriggerReviewer  Trigger = "reviewer"
	TriggerApprover  Trigger = "approver"
	TriggerScheduler Trigger = "scheduler"
	TriggerSystem    Trigger = "system"
)

// Rule is one row of the canonical transition matrix in §4.1.
type Rule struct {
	From    types.Status
	To      types.Status
	Trigger Trigger
}

// matrix is the complete, closed set of legal transitions. Anything not
// listed here is illegal and ValidateTransition returns ErrInvalidTransition.
var matrix = []Rule{
	{types.StatusDraft, types.StatusPendingReview, TriggerAuthor},
	{types.StatusDraft, types.StatusTerminated, TriggerAuthor},
	{types.StatusPendingReview, types.StatusUnderReview, TriggerReviewer},
	{types.StatusUnderReview, types.StatusReviewCompleted, TriggerReviewer},
	{types.StatusUnderReview, types.StatusDraft, TriggerReviewer},
	{types.StatusReviewCompleted, types.StatusPendingApproval, TriggerAuthor},
	{types.StatusPendingApproval, types.StatusUnderApproval, TriggerApprover},
	{types.StatusUnderApproval, types.StatusApprovedPendingEffective, TriggerApprover},
	{types.StatusUnderApproval, types.StatusEffective, TriggerApprover},
	{types.StatusUnderApproval, types.StatusDraft, TriggerApprover},
	{types.StatusApprovedPendingEffective, types.StatusEffective, TriggerScheduler},
	{types.StatusEffective, types.StatusScheduledForObsolescence, TriggerApprover},
	{types.StatusEffective, types.StatusObsolete, TriggerApprover},
	{types.StatusScheduledForObsolescence, types.StatusObsolete, TriggerScheduler},
	{types.StatusEffective, types.StatusSuperseded, TriggerSystem},
}

// terminateBlocked lists the source states from which TERMINATED is never
// legal. Every other status may move to TERMINATED, author only, without
// enumerating each source state by hand.
var terminateBlocked = map[types.Status]bool{
	types.StatusEffective:  true,
	types.StatusObsolete:   true,
	types.StatusSuperseded: true,
	types.StatusTerminated: true,
}

// ErrInvalidTransition is returned when no rule in the matrix matches the
// requested (from, to) pair.
type ErrInvalidTransition struct {
	From types.Status
	To   types.Status
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid transition from %s to %s", e.From, e.To)
}

// ValidateTransition checks whether moving a document from `from` to `to`
// is ever legal for the given trigger, independent of business
// preconditions (those are checked by the lifecycle engine). A TERMINATED
// target is checked against the blanket author-before-EFFECTIVE rule; all
// other targets are checked against the explicit matrix.
func ValidateTransition(from, to types.Status, trigger Trigger) error {
	if to == types.StatusTerminated {
		if terminateBlocked[from] {
			return &ErrInvalidTransition{From: from, To: to}
		}
		if trigger != TriggerAuthor {
			return &ErrInvalidTransition{From: from, To: to}
		}
		return nil
	}
	for _, r := range matrix {
		if r.From == from && r.To == to && r.Trigger == trigger {
			return nil
		}
	}
	return &ErrInvalidTransition{From: from, To: to}
}

// CanTransition is ValidateTransition without the error detail, for
// UI-facing "is this action available" checks.
func CanTransition(from, to types.Status, trigger Trigger) bool {
	return ValidateTransition(from, to, trigger) == nil
}

// AllowedTransitions returns every target status reachable from `from`,
// across all triggers, matching the DocumentState.allowed_transitions field.
func AllowedTransitions(from types.Status) []types.Status {
	seen := map[types.Status]bool{}
	var out []types.Status
	for _, r := range matrix {
		if r.From == from && !seen[r.To] {
			seen[r.To] = true
			out = append(out, r.To)
		}
	}
	if !terminateBlocked[from] {
		if !seen[types.StatusTerminated] {
			out = append(out, types.StatusTerminated)
		}
	}
	return out
}

// IsTerminal reports whether status has no outbound transitions at all
// (EFFECTIVE is deliberately excluded: the system can still move out of it).
func IsTerminal(status types.Status) bool {
	return types.TerminalStatuses[status]
}
