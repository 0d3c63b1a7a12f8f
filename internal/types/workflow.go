package types

import "time"

// WorkflowType enumerates the kinds of workflow a document can be carried
// through. Each maps to one or more lifecycle engine operations.
type WorkflowType string

const (
	WorkflowReview         WorkflowType = "REVIEW"
	WorkflowApproval       WorkflowType = "APPROVAL"
	WorkflowUpVersion      WorkflowType = "UP_VERSION"
	WorkflowObsolescence   WorkflowType = "OBSOLESCENCE"
	WorkflowTermination    WorkflowType = "TERMINATION"
	WorkflowPeriodicReview WorkflowType = "PERIODIC_REVIEW"
)

// WorkflowInstance tracks an in-flight (or completed) pass of a document
// through one of the workflow types above.
type WorkflowInstance struct {
	ID              string
	Document        string
	WorkflowType    WorkflowType
	CurrentState    Status
	InitiatedBy     string
	CurrentAssignee string
	InitiatedAt     time.Time
	DueAt           *time.Time
	IsTerminated    bool
}

// WorkflowTransition is an immutable record of one step a workflow instance
// took. Rows are never updated after insert.
type WorkflowTransition struct {
	ID         int64
	Workflow   string
	FromState  Status
	ToState    Status
	Actor      string
	Comment    string
	OccurredAt time.Time
}

// PeriodicReviewOutcome is the closed set of results a periodic review can
// record.
type PeriodicReviewOutcome string

const (
	ReviewConfirmed      PeriodicReviewOutcome = "CONFIRMED"
	ReviewMinorUpversion PeriodicReviewOutcome = "MINOR_UPVERSION"
	ReviewMajorUpversion PeriodicReviewOutcome = "MAJOR_UPVERSION"
)

// PeriodicReview is the record a reviewer files when a document's periodic
// review comes due.
type PeriodicReview struct {
	ID               int64
	Document         string
	Reviewer         string
	Outcome          PeriodicReviewOutcome
	Comments         string
	NextReviewMonths int
	LinkedNewVersion string
	CreatedAt        time.Time
}

// RequiresUpversion reports whether this review's outcome means the caller
// must separately invoke a version-creation operation. The periodic review
// itself never creates a version; that stays a single codepath.
func (r *PeriodicReview) RequiresUpversion() bool {
	return r.Outcome == ReviewMinorUpversion || r.Outcome == ReviewMajorUpversion
}

// ScheduledTask is the persisted, observable record of one background task
// known to the scheduler. It is mutated in place (last_run_at, total_run_count)
// rather than appended to, unlike audit entries.
type ScheduledTask struct {
	Name          string
	ScheduledTime time.Time
	Completed     bool
	ResultStatus  string
	LastRunAt     *time.Time
	TotalRunCount int64
}

// User is a reference type; full user/role CRUD lives outside this core.
type User struct {
	ID          string
	Username    string
	DisplayName string
	IsActive    bool
	IsSuperuser bool
	Roles       []string
}

// Capability is one of the fixed set of permissions a role can grant.
type Capability string

const (
	CapRead    Capability = "read"
	CapWrite   Capability = "write"
	CapReview  Capability = "review"
	CapApprove Capability = "approve"
	CapAdmin   Capability = "admin"
)

// HasCapability reports whether the user holds cap, either directly via
// Roles or implicitly via superuser status.
func (u *User) HasCapability(cap Capability) bool {
	if u.IsSuperuser {
		return true
	}
	for _, r := range u.Roles {
		if Capability(r) == cap {
			return true
		}
	}
	return false
}
