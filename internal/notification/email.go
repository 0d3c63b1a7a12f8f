package notification

import (
	"bytes"
	"fmt"
	"text/template"
)

// EmailResult holds a rendered message ready to send on any channel; HTML
// rendering is intentionally omitted (the teacher renders both text and
// HTML for its decision emails, but placeholder-template rendering for
// rich HTML mail is explicitly out of scope per spec.md §1, so only the
// plain-text body is produced).
type EmailResult struct {
	Subject   string
	PlainText string
}

// subjects gives each template its fixed, human-readable subject line. The
// review-approved and review-rejected subjects are pinned to the exact
// wording §4.9 and the scenario seeds in §8 check for.
var subjects = map[Template]string{
	TemplateReviewAssigned:     "Document Assigned for Review",
	TemplateApprovalAssigned:   "Document Assigned for Approval",
	TemplateReviewApproved:     "Review Approved — Action Required",
	TemplateReviewRejected:     "Review Rejected — Revision Required",
	TemplateApprovalDecision:   "Document Approved",
	TemplateApprovalRejected:   "Approval Rejected — Revision Required",
	TemplateScheduledEffective: "Document Now Effective",
	TemplateScheduledObsolete:  "Document Obsoleted",
	TemplateWorkflowCancelled:  "Workflow Cancelled",
	TemplateWorkflowOverdue:    "Workflow Overdue — Action Required",
	TemplatePeriodicReviewDue:  "Periodic Review Due Soon",
	TemplateIntegrityAlert:     "Audit Chain Integrity Alert",
	TemplateHealthReport:       "Daily Task Health Report",
}

// bodies gives each template a text/template body drawing on the
// message's Context map. Every field referenced here must be populated by
// the lifecycle engine or scheduler call site that builds the Message.
var bodies = map[Template]string{
	TemplateReviewAssigned: `You have been assigned to review {{.document_number}} "{{.document_title}}".

Submitted by: {{.author_name}}
Due: {{.due_at}}
`,
	TemplateApprovalAssigned: `You have been assigned to approve {{.document_number}} "{{.document_title}}".

Routed by: {{.author_name}}
Due: {{.due_at}}
`,
	TemplateReviewApproved: `Your review of {{.document_number}} "{{.document_title}}" has been completed and approved.

Reviewer: {{.reviewer_name}}
Comment: {{.comment}}

Action required: route this document for approval.
`,
	TemplateReviewRejected: `Your document {{.document_number}} "{{.document_title}}" was returned by the reviewer.

Reviewer: {{.reviewer_name}}
Comment: {{.comment}}

The document has been returned to DRAFT for revision.
`,
	TemplateApprovalDecision: `{{.document_number}} "{{.document_title}}" has been approved.

Approver: {{.approver_name}}
Effective date: {{.effective_date}}
`,
	TemplateApprovalRejected: `Your document {{.document_number}} "{{.document_title}}" was rejected by the approver.

Approver: {{.approver_name}}
Reason: {{.comment}}

The document has been returned to DRAFT for revision.
`,
	TemplateScheduledEffective: `{{.document_number}} "{{.document_title}}" is now EFFECTIVE as of {{.effective_date}}.
`,
	TemplateScheduledObsolete: `{{.document_number}} "{{.document_title}}" has been obsoleted as of {{.obsolescence_date}}.
`,
	TemplateWorkflowCancelled: `The {{.workflow_type}} workflow for {{.document_number}} "{{.document_title}}" has been cancelled because the document was terminated.
`,
	TemplateWorkflowOverdue: `The {{.workflow_type}} workflow for {{.document_number}} "{{.document_title}}" is overdue.

Due: {{.due_at}}
Assignee: {{.assignee_name}}
`,
	TemplatePeriodicReviewDue: `{{.document_number}} "{{.document_title}}" is due for periodic review on {{.review_date}}.
`,
	TemplateIntegrityAlert: `The audit chain diverged at sequence {{.first_divergence}}. This requires immediate investigation.
`,
	TemplateHealthReport: `Task health report for {{.report_date}}:

{{.summary}}
`,
}

// RenderEmail renders the subject and plain-text body for msg. An unknown
// template is a programming error in the caller, not a runtime
// notification failure, so it returns an error rather than a best-effort
// body.
func RenderEmail(msg Message) (*EmailResult, error) {
	subject, ok := subjects[msg.Template]
	if !ok {
		return nil, fmt.Errorf("notification: unknown template %q", msg.Template)
	}
	bodyTemplate, ok := bodies[msg.Template]
	if !ok {
		return nil, fmt.Errorf("notification: unknown template %q", msg.Template)
	}

	tmpl, err := template.New(string(msg.Template)).Parse(bodyTemplate)
	if err != nil {
		return nil, fmt.Errorf("notification: parse template %q: %w", msg.Template, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, msg.Context); err != nil {
		return nil, fmt.Errorf("notification: render template %q: %w", msg.Template, err)
	}

	return &EmailResult{Subject: subject, PlainText: buf.String()}, nil
}
