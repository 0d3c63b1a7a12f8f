package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/edms/lifecycle-core/internal/audit"
	"github.com/edms/lifecycle-core/internal/depgraph"
	"github.com/edms/lifecycle-core/internal/lifecycle"
	"github.com/edms/lifecycle-core/internal/notification"
	"github.com/edms/lifecycle-core/internal/storage"
	"github.com/edms/lifecycle-core/internal/types"
)

// Deps is everything the task set needs.
type Deps struct {
	Store    storage.Storage
	Engine   *lifecycle.Engine
	Notifier notification.Dispatcher
	// Admins receive the daily health report and integrity alerts.
	Admins []string
	Clock  Clock
}

// periodicReviewNoticeWindow is how far ahead of a due date owners are
// notified.
const periodicReviewNoticeWindow = 14 * 24 * time.Hour

// taskResultRetentionDays bounds how long completed task records are kept.
const taskResultRetentionDays = 30

// Tasks builds the full registry with the cadences of §4.7.
func Tasks(d Deps) []*Task {
	if d.Clock == nil {
		d.Clock = realClock{}
	}
	overdue := &overdueTracker{notified: make(map[string]string)}
	integrity := &integrityState{}

	return []*Task{
		{Name: "process-effective-dates", Schedule: HourlyAt{Minute: 0}, Run: d.processEffectiveDates},
		{Name: "process-obsoletion-dates", Schedule: HourlyAt{Minute: 15}, Run: d.processObsoletionDates},
		{Name: "check-workflow-timeouts", Schedule: Every{Interval: 4 * time.Hour}, Run: overdue.check(d)},
		{Name: "process-periodic-reviews", Schedule: DailyAt{Hour: 9}, Run: d.processPeriodicReviews},
		{Name: "system-health-check", Schedule: Every{Interval: 30 * time.Minute}, Run: d.systemHealthCheck},
		{Name: "daily-health-report", Schedule: DailyAt{Hour: 7}, Run: d.dailyHealthReport},
		{Name: "daily-integrity-check", Schedule: DailyAt{Hour: 2}, Run: integrity.incremental(d)},
		{Name: "verify-audit-checksums", Schedule: WeeklyAt{Weekday: time.Sunday, Hour: 1}, Run: d.fullAuditVerify},
		{Name: "cleanup-task-results", Schedule: DailyAt{Hour: 3}, Run: d.cleanupTaskResults},
	}
}

// processEffectiveDates advances every parked approval whose effective
// date has arrived. One document failing (say, a critical dependency that
// regressed) must not stall the rest, so failures are collected, not
// propagated mid-sweep.
func (d Deps) processEffectiveDates(ctx context.Context) (string, error) {
	docs, err := d.Store.ListDocuments(ctx, storage.DocumentFilter{Status: types.StatusApprovedPendingEffective})
	if err != nil {
		return "", fmt.Errorf("list pending-effective documents: %w", err)
	}

	now := d.Clock.Now()
	processed, failed := 0, 0
	var failures []string
	for _, doc := range docs {
		if doc.EffectiveDate == nil || doc.EffectiveDate.After(now) {
			continue
		}
		if _, err := d.Engine.ProcessEffectiveDate(ctx, doc.ID); err != nil {
			failed++
			failures = append(failures, fmt.Sprintf("%s: %v", doc.Number, err))
			continue
		}
		processed++
	}
	status := fmt.Sprintf("processed=%d failed=%d", processed, failed)
	if failed > 0 {
		return status, fmt.Errorf("effective-date processing failures: %s", strings.Join(failures, "; "))
	}
	return status, nil
}

func (d Deps) processObsoletionDates(ctx context.Context) (string, error) {
	docs, err := d.Store.ListDocuments(ctx, storage.DocumentFilter{Status: types.StatusScheduledForObsolescence})
	if err != nil {
		return "", fmt.Errorf("list scheduled-obsolescence documents: %w", err)
	}

	now := d.Clock.Now()
	processed, failed := 0, 0
	var failures []string
	for _, doc := range docs {
		if doc.ObsolescenceDate == nil || doc.ObsolescenceDate.After(now) {
			continue
		}
		if _, err := d.Engine.ProcessObsolescenceDate(ctx, doc.ID); err != nil {
			failed++
			failures = append(failures, fmt.Sprintf("%s: %v", doc.Number, err))
			continue
		}
		processed++
	}
	status := fmt.Sprintf("processed=%d failed=%d", processed, failed)
	if failed > 0 {
		return status, fmt.Errorf("obsoletion processing failures: %s", strings.Join(failures, "; "))
	}
	return status, nil
}

// overdueTracker makes workflow-overdue notifications idempotent per day:
// a workflow's assignee is nagged at most once per calendar day however
// often the 4-hourly sweep runs.
type overdueTracker struct {
	mu       sync.Mutex
	notified map[string]string // workflow id -> date last notified
}

func (o *overdueTracker) check(d Deps) TaskFunc {
	return func(ctx context.Context) (string, error) {
		wfs, err := d.Store.OverdueWorkflows(ctx, d.Clock.Now())
		if err != nil {
			return "", fmt.Errorf("list overdue workflows: %w", err)
		}

		today := d.Clock.Now().UTC().Format("2006-01-02")
		sent := 0
		for _, wf := range wfs {
			o.mu.Lock()
			already := o.notified[wf.ID] == today
			if !already {
				o.notified[wf.ID] = today
			}
			o.mu.Unlock()
			if already || wf.CurrentAssignee == "" {
				continue
			}

			doc, err := d.Store.GetDocument(ctx, wf.Document)
			if err != nil {
				continue
			}
			d.Notifier.Dispatch(ctx, notification.Message{
				Template:   notification.TemplateWorkflowOverdue,
				Recipients: []string{wf.CurrentAssignee},
				Context: map[string]string{
					"document_number": doc.Number,
					"document_title":  doc.Title,
					"workflow_type":   string(wf.WorkflowType),
					"due_at":          wf.DueAt.UTC().Format("01/02/2006 03:04 PM") + " UTC",
					"assignee_name":   wf.CurrentAssignee,
				},
			})
			sent++
		}
		return fmt.Sprintf("overdue=%d notified=%d", len(wfs), sent), nil
	}
}

// processPeriodicReviews notifies owners of documents whose periodic
// review falls due within the notice window.
func (d Deps) processPeriodicReviews(ctx context.Context) (string, error) {
	docs, err := d.Store.ListDocuments(ctx, storage.DocumentFilter{Status: types.StatusEffective})
	if err != nil {
		return "", fmt.Errorf("list effective documents: %w", err)
	}

	horizon := d.Clock.Now().Add(periodicReviewNoticeWindow)
	notified := 0
	for _, doc := range docs {
		if doc.NextPeriodicReviewDate == nil || doc.NextPeriodicReviewDate.After(horizon) {
			continue
		}
		d.Notifier.Dispatch(ctx, notification.Message{
			Template:   notification.TemplatePeriodicReviewDue,
			Recipients: []string{doc.Author},
			Context: map[string]string{
				"document_number": doc.Number,
				"document_title":  doc.Title,
				"review_date":     doc.NextPeriodicReviewDate.UTC().Format("01/02/2006") + " UTC",
			},
		})
		notified++
	}
	return fmt.Sprintf("due=%d", notified), nil
}

// systemHealthCheck is a cheap liveness probe against the store.
func (d Deps) systemHealthCheck(ctx context.Context) (string, error) {
	head, err := d.Store.LatestHead(ctx)
	if err != nil {
		return "", fmt.Errorf("health probe: %w", err)
	}
	return fmt.Sprintf("ok audit_head=%d", head.Sequence), nil
}

// dailyHealthReport aggregates the most recent run of every registered
// task and mails the summary to the admins.
func (d Deps) dailyHealthReport(ctx context.Context) (string, error) {
	var lines []string
	failures := 0
	for _, name := range []string{
		"process-effective-dates", "process-obsoletion-dates", "check-workflow-timeouts",
		"process-periodic-reviews", "system-health-check", "daily-integrity-check",
		"verify-audit-checksums", "cleanup-task-results",
	} {
		rec, err := d.Store.GetScheduledTask(ctx, name)
		if err != nil {
			lines = append(lines, fmt.Sprintf("%s: never run", name))
			continue
		}
		if !rec.Completed {
			failures++
		}
		lastRun := "never"
		if rec.LastRunAt != nil {
			lastRun = rec.LastRunAt.UTC().Format(time.RFC3339)
		}
		lines = append(lines, fmt.Sprintf("%s: %s (last run %s, %d total)",
			name, rec.ResultStatus, lastRun, rec.TotalRunCount))
	}

	if len(d.Admins) > 0 {
		d.Notifier.Dispatch(ctx, notification.Message{
			Template:   notification.TemplateHealthReport,
			Recipients: d.Admins,
			Context: map[string]string{
				"report_date": d.Clock.Now().UTC().Format("01/02/2006") + " UTC",
				"summary":     strings.Join(lines, "\n"),
			},
		})
	}
	return fmt.Sprintf("tasks=%d failures=%d", len(lines), failures), nil
}

// integrityState remembers the last verified sequence so the daily check
// only re-walks the chain's new tail; the weekly full scan backstops it.
type integrityState struct {
	mu           sync.Mutex
	lastVerified int64
}

func (s *integrityState) incremental(d Deps) TaskFunc {
	return func(ctx context.Context) (string, error) {
		s.mu.Lock()
		from := s.lastVerified + 1
		s.mu.Unlock()
		if from < 1 {
			from = 1
		}

		report, err := audit.VerifyChain(ctx, d.Store, from)
		if err != nil {
			return "", fmt.Errorf("verify audit chain: %w", err)
		}
		if !report.OK {
			d.raiseIntegrityAlert(ctx, *report.FirstDivergence)
			return fmt.Sprintf("DIVERGED at %d", *report.FirstDivergence),
				fmt.Errorf("audit chain diverged at sequence %d", *report.FirstDivergence)
		}

		// The dependency graph's periodic cycle audit rides the same daily
		// window (§4.3.2 layer 4): any populated report is an incident.
		families, err := d.Store.AllFamilyKeys(ctx)
		if err != nil {
			return "", fmt.Errorf("list families: %w", err)
		}
		cycles, err := depgraph.DetectAllCycles(ctx, d.Store, families)
		if err != nil {
			return "", fmt.Errorf("cycle audit: %w", err)
		}
		if len(cycles.Cycles) > 0 {
			return fmt.Sprintf("CYCLES=%d", len(cycles.Cycles)),
				fmt.Errorf("dependency graph cycle audit found %d cycle(s): %v", len(cycles.Cycles), cycles.Cycles)
		}

		s.mu.Lock()
		s.lastVerified += report.EntriesChecked
		s.mu.Unlock()
		return fmt.Sprintf("verified=%d families=%d", report.EntriesChecked, len(families)), nil
	}
}

// fullAuditVerify re-walks the entire chain from sequence 1.
func (d Deps) fullAuditVerify(ctx context.Context) (string, error) {
	report, err := audit.VerifyChain(ctx, d.Store, 1)
	if err != nil {
		return "", fmt.Errorf("verify audit chain: %w", err)
	}
	if !report.OK {
		d.raiseIntegrityAlert(ctx, *report.FirstDivergence)
		return fmt.Sprintf("DIVERGED at %d", *report.FirstDivergence),
			fmt.Errorf("audit chain diverged at sequence %d", *report.FirstDivergence)
	}
	return fmt.Sprintf("verified=%d", report.EntriesChecked), nil
}

// raiseIntegrityAlert notifies the admins of a chain break. The divergence
// is raised out-of-band and never aborts whatever request tripped it (§7).
func (d Deps) raiseIntegrityAlert(ctx context.Context, firstDivergence int64) {
	if len(d.Admins) == 0 {
		return
	}
	d.Notifier.Dispatch(ctx, notification.Message{
		Template:   notification.TemplateIntegrityAlert,
		Recipients: d.Admins,
		Context: map[string]string{
			"first_divergence": fmt.Sprintf("%d", firstDivergence),
		},
	})
}

// cleanupTaskResults is the only physical deletion in the system: task
// observability rows are ephemera, not records (§9's cascade-delete note).
func (d Deps) cleanupTaskResults(ctx context.Context) (string, error) {
	pruned, err := d.Store.PruneTaskResultsOlderThan(ctx, taskResultRetentionDays)
	if err != nil {
		return "", fmt.Errorf("prune task results: %w", err)
	}
	return fmt.Sprintf("pruned=%d", pruned), nil
}
