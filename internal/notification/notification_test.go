package notification

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderEmail_ReviewApprovedSubjectExact(t *testing.T) {
	email, err := RenderEmail(Message{
		Template: TemplateReviewApproved,
		Context: map[string]string{
			"document_number": "SOP-2026-0001",
			"document_title":  "Cleaning Procedure",
			"reviewer_name":   "R1",
			"comment":         "looks good",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Review Approved — Action Required", email.Subject)
	assert.Contains(t, email.PlainText, "SOP-2026-0001")
	assert.Contains(t, email.PlainText, "route this document for approval")
}

func TestRenderEmail_ReviewRejectedSubjectExact(t *testing.T) {
	email, err := RenderEmail(Message{
		Template: TemplateReviewRejected,
		Context: map[string]string{
			"document_number": "SOP-2026-0001",
			"document_title":  "Cleaning Procedure",
			"reviewer_name":   "R1",
			"comment":         "Section 3 missing",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Review Rejected — Revision Required", email.Subject)
	assert.Contains(t, email.PlainText, "Section 3 missing")
}

func TestRenderEmail_UnknownTemplate(t *testing.T) {
	_, err := RenderEmail(Message{Template: Template("bogus")})
	assert.Error(t, err)
}

type recordingMailer struct {
	sent []string
}

func (m *recordingMailer) send(to, subject, body string) error {
	m.sent = append(m.sent, to+"|"+subject)
	return nil
}

func TestChannelDispatcher_ConsoleAlwaysSucceeds(t *testing.T) {
	d := New(Config{DefaultRoute: []string{"console"}}, nil)
	// Dispatch is fire-and-forget; this just verifies it doesn't panic and
	// resolves to the console channel without requiring any contact config.
	d.Dispatch(context.Background(), Message{
		Template:   TemplateWorkflowOverdue,
		Recipients: []string{"user-1"},
		Context: map[string]string{
			"workflow_type":   "REVIEW",
			"document_number": "SOP-2026-0001",
			"document_title":  "Cleaning Procedure",
			"due_at":          "2026-01-01",
			"assignee_name":   "R1",
		},
	})
}

func TestChannelDispatcher_EmailUsesMailerWhenContactConfigured(t *testing.T) {
	mailer := &recordingMailer{}
	d := New(Config{
		DefaultRoute: []string{"email"},
		Contacts:     map[string]string{"author-1": "author@example.com"},
	}, nil)
	d.mailer = mailer.send

	d.Dispatch(context.Background(), Message{
		Template:   TemplateReviewApproved,
		Recipients: []string{"author-1"},
		Context: map[string]string{
			"document_number": "SOP-2026-0001",
			"document_title":  "Cleaning Procedure",
			"reviewer_name":   "R1",
			"comment":         "ok",
		},
	})

	require.Len(t, mailer.sent, 1)
	assert.Contains(t, mailer.sent[0], "author@example.com")
	assert.Contains(t, mailer.sent[0], "Review Approved")
}

func TestChannelDispatcher_EmailWithoutContactLogsFailureNotPanic(t *testing.T) {
	d := New(Config{DefaultRoute: []string{"email"}}, nil)
	d.Dispatch(context.Background(), Message{
		Template:   TemplateReviewApproved,
		Recipients: []string{"unknown-user"},
		Context:    map[string]string{"document_number": "X"},
	})
}
