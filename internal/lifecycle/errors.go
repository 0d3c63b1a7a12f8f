// Package lifecycle implements the core state machine (component F):
// permission checks, transition validation, business preconditions, and the
// single-transaction write of entity mutation + workflow transition + audit
// entry that every user- or scheduler-triggered operation performs.
package lifecycle

import "fmt"

// Code is the closed set of error codes surfaced to callers, matching §6.
type Code string

const (
	CodeInvalidTransition       Code = "INVALID_TRANSITION"
	CodePermissionDenied        Code = "PERMISSION_DENIED"
	CodeCriticalDependencyUnmet Code = "CRITICAL_DEPENDENCY_UNMET"
	CodeDependentStillActive    Code = "DEPENDENT_STILL_ACTIVE"
	CodeCircularDependency      Code = "CIRCULAR_DEPENDENCY"
	CodeMissingRequiredField    Code = "MISSING_REQUIRED_FIELD"
	CodeNotFound                Code = "NOT_FOUND"
	CodeLastSuperuserProtected  Code = "LAST_SUPERUSER_PROTECTED"
	CodeConflict                Code = "CONFLICT"
	CodeInternal                Code = "INTERNAL"
)

// Error is the concrete error type every engine operation returns on
// failure. It carries enough context (document number, required
// capability, offending dependency numbers) for a caller to act on without
// re-parsing a message string, per §7's "user-visible behavior" contract.
type Error struct {
	Code    Code
	Message string
	Context map[string]any
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// newError builds an *Error with an optional context map.
func newError(code Code, message string, context map[string]any) *Error {
	return &Error{Code: code, Message: message, Context: context}
}

func errInvalidTransition(from, to string) *Error {
	return newError(CodeInvalidTransition,
		fmt.Sprintf("cannot transition from %s to %s", from, to),
		map[string]any{"from_state": from, "to_state": to})
}

func errPermissionDenied(requiredRole string) *Error {
	return newError(CodePermissionDenied,
		fmt.Sprintf("actor does not hold the required role %q for this operation", requiredRole),
		map[string]any{"required_role": requiredRole})
}

func errMissingField(field string) *Error {
	return newError(CodeMissingRequiredField,
		fmt.Sprintf("%s is required", field),
		map[string]any{"field": field})
}

func errNotFound(kind, id string) *Error {
	return newError(CodeNotFound,
		fmt.Sprintf("%s %s not found", kind, id),
		map[string]any{"kind": kind, "id": id})
}

func errConflict(message string) *Error {
	return newError(CodeConflict, message, nil)
}

func errInternal(err error) *Error {
	return newError(CodeInternal, err.Error(), nil)
}
