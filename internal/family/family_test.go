package family

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/edms/lifecycle-core/internal/storage"
	"github.com/edms/lifecycle-core/internal/storage/sqlstore"
	"github.com/edms/lifecycle-core/internal/types"
)

func seedDoc(t *testing.T, store *sqlstore.Store, id, familyKey string, major, minor int, status types.Status) *types.Document {
	t.Helper()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	doc := &types.Document{
		ID: id, Number: id, Title: "Doc " + id, Type: "SOP",
		VersionMajor: major, VersionMinor: minor,
		FamilyKey: familyKey, Status: status, Author: "alice",
		IsActive: true, CreatedAt: now, UpdatedAt: now,
	}
	if status == types.StatusEffective {
		doc.EffectiveDate = &now
		doc.FileReference = "documents/" + id + "/original.txt"
	}
	err := store.RunInTransaction(context.Background(), func(ctx context.Context, tx storage.Transaction) error {
		return tx.InsertDocument(ctx, doc)
	})
	require.NoError(t, err)
	return doc
}

func TestLatestEffective(t *testing.T) {
	ctx := context.Background()
	store, err := sqlstore.Open(ctx, "sqlite", "sqlite", "file:"+t.TempDir()+"/family.db")
	require.NoError(t, err)
	defer store.Close()

	seedDoc(t, store, "d1", "SOP-2026-0001", 1, 0, types.StatusSuperseded)
	seedDoc(t, store, "d2", "SOP-2026-0001", 1, 1, types.StatusEffective)
	seedDoc(t, store, "d3", "SOP-2026-0001", 2, 0, types.StatusDraft)

	r := NewResolver(store)
	eff, err := r.LatestEffective(ctx, "SOP-2026-0001")
	require.NoError(t, err)
	require.NotNil(t, eff)
	assert.Equal(t, "d2", eff.ID)

	none, err := r.LatestEffective(ctx, "SOP-2026-9999")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestSupersedeTransitionsPriorAndEmitsEdge(t *testing.T) {
	ctx := context.Background()
	store, err := sqlstore.Open(ctx, "sqlite", "sqlite", "file:"+t.TempDir()+"/family.db")
	require.NoError(t, err)
	defer store.Close()

	old := seedDoc(t, store, "v1", "SOP-2026-0002", 1, 0, types.StatusEffective)
	neu := seedDoc(t, store, "v2", "SOP-2026-0002", 1, 1, types.StatusEffective)

	r := NewResolver(store)
	err = store.RunInTransaction(ctx, func(ctx context.Context, tx storage.Transaction) error {
		prior, err := r.PriorEffectiveMember(ctx, tx, neu)
		if err != nil {
			return err
		}
		require.NotNil(t, prior)
		require.Equal(t, old.ID, prior.ID)
		return r.Supersede(ctx, tx, neu, prior, "system", time.Now().UTC())
	})
	require.NoError(t, err)

	got, err := store.GetDocument(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusSuperseded, got.Status)

	deps, err := store.DependenciesFrom(ctx, neu.ID)
	require.NoError(t, err)
	require.Len(t, deps, 1)
	assert.Equal(t, types.DepSupersedes, deps[0].Type)
	assert.Equal(t, old.ID, deps[0].ToDocument)
}
