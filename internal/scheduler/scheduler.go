package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/edms/lifecycle-core/internal/storage"
	"github.com/edms/lifecycle-core/internal/types"
)

// TaskFunc performs one run of a task and returns a short status string
// for the persisted task record.
type TaskFunc func(ctx context.Context) (string, error)

// Task is one registered background task: a name, a cadence, a bound on
// how long a run may take, and the handler. This is the explicit registry
// the design notes call for — no decorated callables, no hidden dispatch.
type Task struct {
	Name     string
	Schedule Schedule
	Timeout  time.Duration
	Run      TaskFunc
}

const defaultTaskTimeout = 10 * time.Minute

// transientRetries is how many times a failed run is retried within the
// same beat before the task waits for its next cadence.
const transientRetries = 2

var (
	tracer = otel.Tracer("github.com/edms/lifecycle-core/internal/scheduler")
	meter  = otel.Meter("github.com/edms/lifecycle-core/internal/scheduler")

	taskDuration, _ = meter.Float64Histogram("edms.scheduler.task.duration",
		metric.WithDescription("Background task run duration in seconds"),
		metric.WithUnit("s"))
)

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// Scheduler is the single beat process: it owns the registry, computes due
// times, and fans execution out to a bounded worker pool. Per-task
// serialization is not needed here — every task handler takes document row
// locks, which is the system's serialization point (§5).
type Scheduler struct {
	store   storage.Storage
	log     *slog.Logger
	clock   Clock
	workers int

	mu    sync.Mutex
	tasks map[string]*Task
	next  map[string]time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the time source for tests.
func WithClock(c Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithWorkers bounds how many tasks may run concurrently.
func WithWorkers(n int) Option {
	return func(s *Scheduler) { s.workers = n }
}

// New builds a Scheduler over store with the given task registry.
func New(store storage.Storage, tasks []*Task, log *slog.Logger, opts ...Option) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	s := &Scheduler{
		store:   store,
		log:     log,
		clock:   realClock{},
		workers: 4,
		tasks:   make(map[string]*Task, len(tasks)),
		next:    make(map[string]time.Time, len(tasks)),
	}
	for _, t := range tasks {
		s.tasks[t.Name] = t
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run is the beat loop. It polls every beat interval for due tasks and
// dispatches them to the worker pool, returning when ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	now := s.clock.Now()
	s.mu.Lock()
	for name, t := range s.tasks {
		s.next[name] = t.Schedule.Next(now)
	}
	s.mu.Unlock()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	s.log.Info("scheduler started", "tasks", len(s.tasks), "workers", s.workers)
	for {
		select {
		case <-ctx.Done():
			// Let in-flight tasks drain before returning.
			_ = g.Wait()
			return ctx.Err()
		case <-ticker.C:
			for _, t := range s.dueTasks(s.clock.Now()) {
				task := t
				g.Go(func() error {
					s.execute(gctx, task)
					return nil
				})
			}
		}
	}
}

// dueTasks pops every task whose next-run time has arrived, advancing its
// schedule so a slow run cannot be dispatched twice.
func (s *Scheduler) dueTasks(now time.Time) []*Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*Task
	for name, t := range s.tasks {
		if !s.next[name].After(now) {
			due = append(due, t)
			s.next[name] = t.Schedule.Next(now)
		}
	}
	return due
}

// RunOnce executes a single named task immediately, for the CLI and for
// tests. The same persistence and retry path as scheduled runs applies.
func (s *Scheduler) RunOnce(ctx context.Context, name string) error {
	s.mu.Lock()
	task, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("scheduler: unknown task %q", name)
	}
	return s.execute(ctx, task)
}

// TaskNames lists the registry, sorted order not guaranteed.
func (s *Scheduler) TaskNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	return names
}

// execute runs one task with its timeout, retrying transient failures a
// bounded number of times, then persists the run record. The record write
// goes to the relational store — task results and periodic-task metadata
// share it deliberately (§4.7's shipped-bug note).
func (s *Scheduler) execute(ctx context.Context, task *Task) error {
	timeout := task.Timeout
	if timeout <= 0 {
		timeout = defaultTaskTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	runCtx, span := tracer.Start(runCtx, "scheduler.task", trace.WithAttributes(
		attribute.String("task", task.Name)))
	defer span.End()

	started := s.clock.Now()
	var status string
	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), transientRetries)
	err := backoff.Retry(func() error {
		var runErr error
		status, runErr = task.Run(runCtx)
		if runCtx.Err() != nil {
			// Timed out or cancelled: the next cadence retries, not this one.
			return backoff.Permanent(runCtx.Err())
		}
		return runErr
	}, backoff.WithContext(policy, runCtx))

	elapsed := s.clock.Now().Sub(started)
	taskDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		attribute.String("task", task.Name),
		attribute.Bool("success", err == nil)))

	if err != nil {
		status = "failed: " + err.Error()
		s.log.Error("scheduler task failed", "task", task.Name, "elapsed", elapsed, "error", err)
	} else {
		if status == "" {
			status = "ok"
		}
		s.log.Info("scheduler task completed", "task", task.Name, "elapsed", elapsed, "status", status)
	}

	s.persistRun(ctx, task.Name, started, status, err == nil)
	return err
}

// persistRun updates the task's observability row: last_run_at and
// total_run_count always advance, even for failed runs.
func (s *Scheduler) persistRun(ctx context.Context, name string, ranAt time.Time, status string, completed bool) {
	record, err := s.store.GetScheduledTask(ctx, name)
	if err != nil {
		record = &types.ScheduledTask{Name: name}
	}
	record.ScheduledTime = ranAt
	record.Completed = completed
	record.ResultStatus = status
	record.LastRunAt = &ranAt
	record.TotalRunCount++
	if err := s.store.UpsertScheduledTask(ctx, record); err != nil {
		s.log.Error("scheduler: failed to persist task record", "task", name, "error", err)
	}
}
