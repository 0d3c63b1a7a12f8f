package sqlstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/edms/lifecycle-core/internal/audit"
	"github.com/edms/lifecycle-core/internal/storage"
	"github.com/edms/lifecycle-core/internal/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), "sqlite", "sqlite", "file:"+t.TempDir()+"/store.db")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestDocumentRoundTripWithNullableDates(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	eff := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	doc := &types.Document{
		ID: "d1", Number: "SOP-2026-0001", Title: "Cleaning", Type: "SOP",
		VersionMajor: 1, VersionMinor: 0, FamilyKey: "SOP-2026-0001",
		Status: types.StatusDraft, Author: "alice", IsActive: true,
		CreatedAt: now, UpdatedAt: now,
	}
	err := store.RunInTransaction(ctx, func(ctx context.Context, tx storage.Transaction) error {
		return tx.InsertDocument(ctx, doc)
	})
	require.NoError(t, err)

	got, err := store.GetDocument(ctx, "d1")
	require.NoError(t, err)
	assert.Nil(t, got.EffectiveDate)
	assert.Nil(t, got.ApprovedAt)
	assert.Equal(t, types.StatusDraft, got.Status)

	err = store.RunInTransaction(ctx, func(ctx context.Context, tx storage.Transaction) error {
		locked, err := tx.LockDocument(ctx, "d1")
		if err != nil {
			return err
		}
		locked.Status = types.StatusEffective
		locked.EffectiveDate = &eff
		locked.FileReference = "documents/d1/01.00/original.txt"
		return tx.UpdateDocument(ctx, locked)
	})
	require.NoError(t, err)

	got, err = store.GetDocument(ctx, "d1")
	require.NoError(t, err)
	require.NotNil(t, got.EffectiveDate)
	assert.True(t, got.EffectiveDate.Equal(eff))
}

func TestGetDocumentNotFound(t *testing.T) {
	store := openTestStore(t)
	_, err := store.GetDocument(context.Background(), "missing")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestNextDocumentNumberMonotonicPerTypeAndYear(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	var first, second, otherType int
	err := store.RunInTransaction(ctx, func(ctx context.Context, tx storage.Transaction) error {
		var err error
		if first, err = tx.NextDocumentNumber(ctx, "SOP", 2026); err != nil {
			return err
		}
		if second, err = tx.NextDocumentNumber(ctx, "SOP", 2026); err != nil {
			return err
		}
		otherType, err = tx.NextDocumentNumber(ctx, "POL", 2026)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 1, first)
	assert.Equal(t, 2, second)
	assert.Equal(t, 1, otherType)
}

func TestNumberCounterRollsBackWithTransaction(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	boom := assert.AnError
	err := store.RunInTransaction(ctx, func(ctx context.Context, tx storage.Transaction) error {
		if _, err := tx.NextDocumentNumber(ctx, "SOP", 2026); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	var n int
	err = store.RunInTransaction(ctx, func(ctx context.Context, tx storage.Transaction) error {
		var err error
		n, err = tx.NextDocumentNumber(ctx, "SOP", 2026)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n, "rolled-back increment must not consume a number")
}

func TestAuditHeadAdvancesAtomically(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := store.RunInTransaction(ctx, func(ctx context.Context, tx storage.Transaction) error {
			return audit.Append(ctx, tx, &types.AuditEntry{
				Actor: "alice", Action: types.ActionDocCreated,
				TargetKind: "document", TargetID: "d1",
				OccurredAt: time.Now().UTC(),
			})
		})
		require.NoError(t, err)
	}

	head, err := store.LatestHead(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, head.Sequence)

	entries, err := store.EntriesFrom(ctx, 1)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, entries[0].Checksum, entries[1].PreviousChecksum)
	assert.Equal(t, entries[1].Checksum, entries[2].PreviousChecksum)

	report, err := audit.VerifyChain(ctx, store, 1)
	require.NoError(t, err)
	assert.True(t, report.OK)
}

// A failed transaction must leave no audit entry behind — the entry
// commits with its entity mutation or not at all.
func TestAuditEntryRollsBackWithTransaction(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	boom := assert.AnError
	err := store.RunInTransaction(ctx, func(ctx context.Context, tx storage.Transaction) error {
		if err := audit.Append(ctx, tx, &types.AuditEntry{
			Actor: "alice", Action: types.ActionDocCreated,
			TargetKind: "document", TargetID: "d1", OccurredAt: time.Now().UTC(),
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	head, err := store.LatestHead(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, head.Sequence)
}

func TestScheduledTaskUpsertAccumulatesRunCount(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	task := &types.ScheduledTask{Name: "probe", ScheduledTime: now, Completed: true, ResultStatus: "ok", LastRunAt: &now, TotalRunCount: 1}
	require.NoError(t, store.UpsertScheduledTask(ctx, task))

	task.TotalRunCount = 2
	later := now.Add(time.Hour)
	task.LastRunAt = &later
	require.NoError(t, store.UpsertScheduledTask(ctx, task))

	got, err := store.GetScheduledTask(ctx, "probe")
	require.NoError(t, err)
	assert.EqualValues(t, 2, got.TotalRunCount)
	require.NotNil(t, got.LastRunAt)
	assert.True(t, got.LastRunAt.Equal(later))
}

func TestSelfEdgeRejectedByCheckConstraint(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	err := store.RunInTransaction(ctx, func(ctx context.Context, tx storage.Transaction) error {
		return tx.InsertDependency(ctx, &types.DocumentDependency{
			FromDocument: "d1", ToDocument: "d1", Type: types.DepReference,
			IsActive: true, CreatedAt: time.Now().UTC(), CreatedBy: "alice",
		})
	})
	require.Error(t, err)
}

func TestActiveFamilyEdgesExcludesSupersedes(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	err := store.RunInTransaction(ctx, func(ctx context.Context, tx storage.Transaction) error {
		for _, d := range []*types.Document{
			{ID: "a1", Number: "A-1", Title: "A", Type: "SOP", VersionMajor: 1, FamilyKey: "fam-a", Status: types.StatusDraft, Author: "alice", IsActive: true, CreatedAt: now, UpdatedAt: now},
			{ID: "b1", Number: "B-1", Title: "B", Type: "SOP", VersionMajor: 1, FamilyKey: "fam-b", Status: types.StatusDraft, Author: "alice", IsActive: true, CreatedAt: now, UpdatedAt: now},
			{ID: "a0", Number: "A-0", Title: "A old", Type: "SOP", VersionMajor: 1, FamilyKey: "fam-a", Status: types.StatusSuperseded, Author: "alice", IsActive: true, CreatedAt: now, UpdatedAt: now},
		} {
			if err := tx.InsertDocument(ctx, d); err != nil {
				return err
			}
		}
		if err := tx.InsertDependency(ctx, &types.DocumentDependency{
			FromDocument: "a1", ToDocument: "b1", Type: types.DepReference, IsActive: true, CreatedAt: now, CreatedBy: "alice",
		}); err != nil {
			return err
		}
		return tx.InsertDependency(ctx, &types.DocumentDependency{
			FromDocument: "a1", ToDocument: "a0", Type: types.DepSupersedes, IsActive: true, CreatedAt: now, CreatedBy: "system",
		})
	})
	require.NoError(t, err)

	edges, err := store.ActiveFamilyEdges(ctx, "fam-a")
	require.NoError(t, err)
	assert.Equal(t, []string{"fam-b"}, edges)
}
