// Package notification implements the Notification Dispatcher (component
// I): typed, templated messages on lifecycle events, routed to configured
// channels. Dispatch is fire-and-forget — failures are logged, never
// propagated to the originating transaction (§4.9, §7).
//
// The channel-routing and dispatch-to-channel shape is adapted from the
// teacher's internal/notification/dispatch.go decision-point dispatcher:
// the same route-lookup-then-fan-out structure, repointed at the fixed set
// of lifecycle email templates this spec enumerates instead of the
// teacher's free-form decision payload.
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/exec"
	"strings"
	"time"
)

// Template is the closed set of message templates the lifecycle engine can
// request. Each corresponds to exactly one notification rule in §4.9.
type Template string

const (
	TemplateReviewAssigned     Template = "review_assigned"
	TemplateApprovalAssigned   Template = "approval_assigned"
	TemplateReviewApproved     Template = "review_approved"     // context-rich; no generic "task assigned" email accompanies it
	TemplateReviewRejected     Template = "review_rejected"
	TemplateApprovalDecision   Template = "approval_decision"    // approve_document -> author
	TemplateApprovalRejected   Template = "approval_rejected"
	TemplateScheduledEffective Template = "scheduled_effective"
	TemplateScheduledObsolete  Template = "scheduled_obsolete"
	TemplateWorkflowCancelled  Template = "workflow_cancelled"
	TemplateWorkflowOverdue    Template = "workflow_overdue"
	TemplatePeriodicReviewDue  Template = "periodic_review_due"
	TemplateIntegrityAlert     Template = "integrity_alert"
	TemplateHealthReport       Template = "health_report"
)

// Message is one notification dispatch request, matching §6's output
// contract `{template, recipients[], context}`.
type Message struct {
	Template   Template
	Recipients []string
	Context    map[string]string
}

// Dispatcher is the interface the lifecycle engine and scheduler depend
// on. Implementations must never block the caller on a slow channel for
// longer than is reasonable and must never return an error that the
// caller is expected to propagate — Dispatch logs its own failures.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg Message)
}

// Result records the outcome of sending msg to one channel, kept for
// tests and for the scheduler's health reporting.
type Result struct {
	Channel string
	Success bool
	Error   string
}

// Config holds the channel-routing configuration: which channels a given
// template fans out to, and how to resolve a recipient handle (a user ID)
// to a contact address per channel.
type Config struct {
	// Routes maps a template name to the channels it fans out to. A route
	// not present here falls back to DefaultRoute.
	Routes map[Template][]string
	// DefaultRoute is used when Routes has no entry for the message's
	// template.
	DefaultRoute []string
	// Contacts maps a recipient handle to an email address. For recipients
	// with no configured contact the "email" channel fails and is logged;
	// other routed channels are still attempted.
	Contacts map[string]string
	// WebhookURL, if set, is POSTed a JSON body for every dispatched
	// message when "webhook" is one of the resolved channels.
	WebhookURL string
}

// DefaultConfig routes every template to email plus console logging, the
// sensible default for a fresh deployment with no webhook configured.
func DefaultConfig() Config {
	return Config{
		DefaultRoute: []string{"email", "console"},
	}
}

// ChannelDispatcher is the production Dispatcher: it renders an email for
// every message (via RenderEmail) and fans out to the channels the
// message's template routes to.
type ChannelDispatcher struct {
	config     Config
	httpClient *http.Client
	log        *slog.Logger
	mailer     func(to, subject, body string) error
}

// New builds a ChannelDispatcher. log defaults to slog.Default() if nil.
func New(config Config, log *slog.Logger) *ChannelDispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &ChannelDispatcher{
		config:     config,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		log:        log,
		mailer:     sendViaMailCommand,
	}
}

// Dispatch renders msg and sends it to every channel its template routes
// to, across every recipient. Failures are logged and otherwise swallowed:
// this is the fire-and-forget boundary §4.9 requires.
func (d *ChannelDispatcher) Dispatch(ctx context.Context, msg Message) {
	channels := d.config.Routes[msg.Template]
	if len(channels) == 0 {
		channels = d.config.DefaultRoute
	}
	if len(channels) == 0 {
		channels = []string{"console"}
	}

	email, err := RenderEmail(msg)
	if err != nil {
		d.log.Error("notification: failed to render email", "template", msg.Template, "error", err)
		return
	}

	for _, recipient := range msg.Recipients {
		for _, channel := range channels {
			result := d.dispatchToChannel(ctx, msg, email, recipient, channel)
			if !result.Success {
				d.log.Warn("notification: dispatch failed",
					"template", msg.Template, "recipient", recipient, "channel", channel, "error", result.Error)
			}
		}
	}
}

func (d *ChannelDispatcher) dispatchToChannel(ctx context.Context, msg Message, email *EmailResult, recipient, channel string) Result {
	switch channel {
	case "console":
		d.log.Info("notification",
			"template", msg.Template, "recipient", recipient, "subject", email.Subject)
		return Result{Channel: channel, Success: true}

	case "email":
		address, ok := d.config.Contacts[recipient]
		if !ok || address == "" {
			return Result{Channel: channel, Success: false, Error: fmt.Sprintf("no email address configured for %s", recipient)}
		}
		if err := d.mailer(address, email.Subject, email.PlainText); err != nil {
			return Result{Channel: channel, Success: false, Error: err.Error()}
		}
		return Result{Channel: channel, Success: true}

	case "webhook":
		if d.config.WebhookURL == "" {
			return Result{Channel: channel, Success: false, Error: "no webhook URL configured"}
		}
		if err := d.sendWebhook(ctx, msg, recipient); err != nil {
			return Result{Channel: channel, Success: false, Error: err.Error()}
		}
		return Result{Channel: channel, Success: true}

	default:
		return Result{Channel: channel, Success: false, Error: "unknown channel: " + channel}
	}
}

func (d *ChannelDispatcher) sendWebhook(ctx context.Context, msg Message, recipient string) error {
	body, err := json.Marshal(struct {
		Template   Template          `json:"template"`
		Recipient  string            `json:"recipient"`
		Context    map[string]string `json:"context"`
	}{msg.Template, recipient, msg.Context})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.config.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-EDMS-Event", string(msg.Template))

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// sendViaMailCommand shells out to the system mail(1) transport, matching
// the teacher's fallback-to-system-mail approach rather than depending on
// an SMTP library the pack does not carry.
func sendViaMailCommand(to, subject, body string) error {
	cmd := exec.Command("mail", "-s", subject, to)
	cmd.Stdin = strings.NewReader(body)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("mail command failed: %w", err)
	}
	return nil
}
