package scheduler

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/edms/lifecycle-core/internal/artifact"
	"github.com/edms/lifecycle-core/internal/filestore"
	"github.com/edms/lifecycle-core/internal/lifecycle"
	"github.com/edms/lifecycle-core/internal/notification"
	"github.com/edms/lifecycle-core/internal/storage/sqlstore"
	"github.com/edms/lifecycle-core/internal/types"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type captureNotifier struct {
	mu       sync.Mutex
	messages []notification.Message
}

func (n *captureNotifier) Dispatch(_ context.Context, msg notification.Message) {
	n.mu.Lock()
	n.messages = append(n.messages, msg)
	n.mu.Unlock()
}

func (n *captureNotifier) count(template notification.Template) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, m := range n.messages {
		if m.Template == template {
			c++
		}
	}
	return c
}

type schedEnv struct {
	store    *sqlstore.Store
	engine   *lifecycle.Engine
	files    *filestore.Store
	notifier *captureNotifier
	clock    *fakeClock
	sched    *Scheduler
}

func newSchedEnv(t *testing.T) *schedEnv {
	t.Helper()
	ctx := context.Background()

	store, err := sqlstore.Open(ctx, "sqlite", "sqlite", "file:"+t.TempDir()+"/sched.db")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	files, err := filestore.New(t.TempDir())
	require.NoError(t, err)

	clock := &fakeClock{now: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
	notifier := &captureNotifier{}
	pipeline := artifact.New(files, artifact.Config{OrganizationName: "Acme", SystemName: "EDMS"}, nil)
	engine := lifecycle.NewEngine(store, pipeline, notifier, nil, lifecycle.WithClock(clock))

	for _, u := range []*types.User{
		{ID: "alice", Username: "alice", DisplayName: "Alice", IsActive: true, Roles: []string{"write"}},
		{ID: "rita", Username: "rita", DisplayName: "Rita", IsActive: true, Roles: []string{"review"}},
		{ID: "paul", Username: "paul", DisplayName: "Paul", IsActive: true, Roles: []string{"approve"}},
	} {
		require.NoError(t, store.UpsertUser(ctx, u))
	}
	require.NoError(t, store.UpsertDocumentType(ctx, &types.DocumentType{Code: "SOP", Name: "SOP"}))

	tasks := Tasks(Deps{
		Store:    store,
		Engine:   engine,
		Notifier: notifier,
		Admins:   []string{"admin"},
		Clock:    clock,
	})
	sched := New(store, tasks, nil, WithClock(clock))

	return &schedEnv{store: store, engine: engine, files: files, notifier: notifier, clock: clock, sched: sched}
}

// approvedPendingDoc drives a document to APPROVED_PENDING_EFFECTIVE with
// the given effective date.
func (env *schedEnv) approvedPendingDoc(t *testing.T, effective time.Time) *types.Document {
	t.Helper()
	ctx := context.Background()

	doc, err := env.engine.CreateDocument(ctx, lifecycle.CreateDocumentInput{
		Title: "Scheduled Doc", TypeCode: "SOP", AuthorID: "alice",
	})
	require.NoError(t, err)
	key := filestore.OriginalKey(doc.ID, doc.FullVersion(), ".txt")
	_, err = env.files.Write(ctx, key, strings.NewReader("body"))
	require.NoError(t, err)
	require.NoError(t, env.engine.AttachFile(ctx, doc.ID, "alice", key))

	_, err = env.engine.SubmitForReview(ctx, lifecycle.SubmitForReviewInput{
		DocumentID: doc.ID, ActorID: "alice", ReviewerID: "rita", ApproverID: "paul",
	})
	require.NoError(t, err)
	_, err = env.engine.AcceptReview(ctx, doc.ID, "rita", "")
	require.NoError(t, err)
	_, err = env.engine.CompleteReview(ctx, doc.ID, "rita", true, "")
	require.NoError(t, err)
	_, err = env.engine.RouteForApproval(ctx, doc.ID, "alice", "", "")
	require.NoError(t, err)
	_, err = env.engine.AcceptApproval(ctx, doc.ID, "paul", "")
	require.NoError(t, err)
	res, err := env.engine.ApproveDocument(ctx, doc.ID, "paul", effective, "")
	require.NoError(t, err)
	require.Equal(t, types.StatusApprovedPendingEffective, res.NewState)
	return doc
}

func TestProcessEffectiveDatesTask(t *testing.T) {
	env := newSchedEnv(t)
	ctx := context.Background()

	doc := env.approvedPendingDoc(t, env.clock.Now().AddDate(0, 0, 2))

	// Not due yet: sweep leaves it parked.
	require.NoError(t, env.sched.RunOnce(ctx, "process-effective-dates"))
	got, err := env.store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusApprovedPendingEffective, got.Status)

	env.clock.Advance(48 * time.Hour)
	require.NoError(t, env.sched.RunOnce(ctx, "process-effective-dates"))
	got, err = env.store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusEffective, got.Status)

	// Second run on the same hour: idempotent no-op, but still recorded.
	require.NoError(t, env.sched.RunOnce(ctx, "process-effective-dates"))
	rec, err := env.store.GetScheduledTask(ctx, "process-effective-dates")
	require.NoError(t, err)
	assert.EqualValues(t, 3, rec.TotalRunCount)
	assert.True(t, rec.Completed)
	require.NotNil(t, rec.LastRunAt)
}

func TestProcessObsoletionDatesTask(t *testing.T) {
	env := newSchedEnv(t)
	ctx := context.Background()

	doc := env.approvedPendingDoc(t, env.clock.Now().AddDate(0, 0, 1))
	env.clock.Advance(24 * time.Hour)
	require.NoError(t, env.sched.RunOnce(ctx, "process-effective-dates"))
	got, err := env.store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.Equal(t, types.StatusEffective, got.Status)

	_, err = env.engine.ScheduleObsolescence(ctx, doc.ID, "paul", env.clock.Now().AddDate(0, 0, 1), "retiring")
	require.NoError(t, err)

	env.clock.Advance(24 * time.Hour)
	require.NoError(t, env.sched.RunOnce(ctx, "process-obsoletion-dates"))
	got, err = env.store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusObsolete, got.Status)
}

func TestWorkflowOverdueNotificationsIdempotentPerDay(t *testing.T) {
	env := newSchedEnv(t)
	ctx := context.Background()

	doc, err := env.engine.CreateDocument(ctx, lifecycle.CreateDocumentInput{
		Title: "Overdue Doc", TypeCode: "SOP", AuthorID: "alice",
	})
	require.NoError(t, err)
	key := filestore.OriginalKey(doc.ID, doc.FullVersion(), ".txt")
	_, err = env.files.Write(ctx, key, strings.NewReader("body"))
	require.NoError(t, err)
	require.NoError(t, env.engine.AttachFile(ctx, doc.ID, "alice", key))
	_, err = env.engine.SubmitForReview(ctx, lifecycle.SubmitForReviewInput{
		DocumentID: doc.ID, ActorID: "alice", ReviewerID: "rita", ApproverID: "paul",
	})
	require.NoError(t, err)

	// Push past the 30-day review SLA.
	env.clock.Advance(31 * 24 * time.Hour)

	require.NoError(t, env.sched.RunOnce(ctx, "check-workflow-timeouts"))
	assert.Equal(t, 1, env.notifier.count(notification.TemplateWorkflowOverdue))

	// Same day, second sweep: no duplicate nag.
	require.NoError(t, env.sched.RunOnce(ctx, "check-workflow-timeouts"))
	assert.Equal(t, 1, env.notifier.count(notification.TemplateWorkflowOverdue))

	// Next day: one more.
	env.clock.Advance(24 * time.Hour)
	require.NoError(t, env.sched.RunOnce(ctx, "check-workflow-timeouts"))
	assert.Equal(t, 2, env.notifier.count(notification.TemplateWorkflowOverdue))
}

func TestDailyIntegrityCheckPasses(t *testing.T) {
	env := newSchedEnv(t)
	ctx := context.Background()

	_, err := env.engine.CreateDocument(ctx, lifecycle.CreateDocumentInput{
		Title: "Audited Doc", TypeCode: "SOP", AuthorID: "alice",
	})
	require.NoError(t, err)

	require.NoError(t, env.sched.RunOnce(ctx, "daily-integrity-check"))
	rec, err := env.store.GetScheduledTask(ctx, "daily-integrity-check")
	require.NoError(t, err)
	assert.True(t, rec.Completed)
	assert.Contains(t, rec.ResultStatus, "verified=")
	assert.Equal(t, 0, env.notifier.count(notification.TemplateIntegrityAlert))
}

func TestHealthCheckAndReport(t *testing.T) {
	env := newSchedEnv(t)
	ctx := context.Background()

	require.NoError(t, env.sched.RunOnce(ctx, "system-health-check"))
	require.NoError(t, env.sched.RunOnce(ctx, "daily-health-report"))
	assert.Equal(t, 1, env.notifier.count(notification.TemplateHealthReport))
}

func TestRunOnceUnknownTask(t *testing.T) {
	env := newSchedEnv(t)
	err := env.sched.RunOnce(context.Background(), "no-such-task")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown task")
}
