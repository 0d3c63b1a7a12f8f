// Package types holds the entity model shared across the lifecycle core:
// documents, their types and dependencies, workflow instances and
// transitions, audit entries, periodic reviews, scheduled tasks, and the
// user reference type. Nothing here talks to storage; these are plain
// data structures plus the validation each one owns.
package types

import (
	"fmt"
	"time"
)

// Status is the closed set of document lifecycle states.
type Status string

const (
	StatusDraft                    Status = "DRAFT"
	StatusPendingReview            Status = "PENDING_REVIEW"
	StatusUnderReview              Status = "UNDER_REVIEW"
	StatusReviewCompleted          Status = "REVIEW_COMPLETED"
	StatusPendingApproval          Status = "PENDING_APPROVAL"
	StatusUnderApproval            Status = "UNDER_APPROVAL"
	StatusApprovedPendingEffective Status = "APPROVED_PENDING_EFFECTIVE"
	StatusEffective                Status = "EFFECTIVE"
	StatusScheduledForObsolescence Status = "SCHEDULED_FOR_OBSOLESCENCE"
	StatusObsolete                 Status = "OBSOLETE"
	StatusSuperseded               Status = "SUPERSEDED"
	StatusRejected                 Status = "REJECTED"
	StatusTerminated               Status = "TERMINATED"
	StatusCancelled                Status = "CANCELLED"
)

// allStatuses is the closed enumeration used by IsValid and by the state registry.
var allStatuses = map[Status]bool{
	StatusDraft: true, StatusPendingReview: true, StatusUnderReview: true,
	StatusReviewCompleted: true, StatusPendingApproval: true, StatusUnderApproval: true,
	StatusApprovedPendingEffective: true, StatusEffective: true,
	StatusScheduledForObsolescence: true, StatusObsolete: true, StatusSuperseded: true,
	StatusRejected: true, StatusTerminated: true, StatusCancelled: true,
}

// IsValid reports whether s is one of the closed set of document statuses.
func (s Status) IsValid() bool {
	return allStatuses[s]
}

// TerminalStatuses are states from which no further transition is possible
// by any actor (EFFECTIVE is quasi-terminal and handled separately by the
// state registry since the system can still move out of it).
var TerminalStatuses = map[Status]bool{
	StatusObsolete: true, StatusSuperseded: true, StatusTerminated: true,
	StatusRejected: true, StatusCancelled: true,
}

// DocumentType describes a class of controlled document, e.g. SOP or POL.
type DocumentType struct {
	Code                        string
	Name                        string
	RequiresPeriodicReview      bool
	DefaultReviewIntervalMonths int
}

// DocumentSource describes where a document originates from.
type DocumentSource struct {
	Code                 string
	Name                 string
	RequiresVerification bool
}

// Document is a single version of a controlled document.
type Document struct {
	ID          string
	Number      string
	Title       string
	Description string

	Type   string // DocumentType.Code
	Source string // DocumentSource.Code

	VersionMajor int
	VersionMinor int
	FamilyKey    string

	Status                 Status
	EffectiveDate          *time.Time
	ObsolescenceDate       *time.Time
	NextPeriodicReviewDate *time.Time

	Author   string // User.ID
	Reviewer string
	Approver string

	FileReference string

	ReasonForChange string

	IsActive bool

	CreatedAt    time.Time
	UpdatedAt    time.Time
	ApprovedAt   *time.Time
	ObsoletedAt  *time.Time
	TerminatedAt *time.Time
}

// FullVersion renders the version pair the way release artifacts expect it,
// e.g. "01.02".
func (d *Document) FullVersion() string {
	return fmt.Sprintf("%02d.%02d", d.VersionMajor, d.VersionMinor)
}

// RequiresReasonForChange reports whether this document is a non-initial
// version and must therefore carry a reason_for_change.
func (d *Document) RequiresReasonForChange() bool {
	return d.VersionMajor > 1 || d.VersionMinor > 0
}

// Validate checks the invariants a Document must satisfy independent of its
// current storage state or workflow context. Cross-entity invariants (family
// uniqueness of EFFECTIVE, dependency cycles) are enforced by their owning
// components, not here.
func (d *Document) Validate() error {
	if d.Title == "" {
		return fmt.Errorf("title is required")
	}
	if len(d.Title) > 500 {
		return fmt.Errorf("title exceeds 500 characters")
	}
	if d.Type == "" {
		return fmt.Errorf("type is required")
	}
	if d.FamilyKey == "" {
		return fmt.Errorf("family_key is required")
	}
	if !d.Status.IsValid() {
		return fmt.Errorf("invalid status %q", d.Status)
	}
	if d.VersionMajor < 1 {
		return fmt.Errorf("version_major must be >= 1")
	}
	if d.VersionMinor < 0 {
		return fmt.Errorf("version_minor must be >= 0")
	}
	if d.RequiresReasonForChange() && d.ReasonForChange == "" {
		return fmt.Errorf("reason_for_change is required for version %s", d.FullVersion())
	}
	if d.Status == StatusEffective {
		if d.EffectiveDate == nil {
			return fmt.Errorf("effective document must have an effective_date")
		}
		if d.FileReference == "" {
			return fmt.Errorf("effective document must have a file_reference")
		}
	}
	return nil
}
