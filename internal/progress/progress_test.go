package progress

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyLowercasesEmail(t *testing.T) {
	assert.Equal(t, "intern-1:student@example.com", Key("intern-1", "Student@Example.COM"))
	assert.Equal(t, Key("intern-1", "a@b.c"), Key("intern-1", "A@B.C"))
}

func TestMemoryStoreMergeSemantics(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()
	key := Key("intern-1", "a@b.c")

	snap, err := store.Set(ctx, key, Update{
		Counts: &Counts{Total: 5},
		Phase:  PhaseWorking,
	})
	require.NoError(t, err)
	assert.Equal(t, PhaseWorking, snap.Phase)
	assert.Equal(t, 5, snap.Total)
	assert.False(t, snap.UpdatedAt.IsZero())

	// Counts-only update keeps the phase.
	snap, err = store.Set(ctx, key, Update{Counts: &Counts{Total: 5, Created: 2, Updated: 1}})
	require.NoError(t, err)
	assert.Equal(t, PhaseWorking, snap.Phase)
	assert.Equal(t, 2, snap.Created)
	assert.Equal(t, 3, snap.Synced)

	// Phase-only update keeps the counts.
	snap, err = store.Set(ctx, key, Update{Phase: PhaseDone})
	require.NoError(t, err)
	assert.Equal(t, PhaseDone, snap.Phase)
	assert.Equal(t, 2, snap.Created)

	got, ok, err := store.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, snap.Phase, got.Phase)
	assert.Equal(t, snap.Counts, got.Counts)
}

func TestMemoryStoreSyncedIsDerived(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()

	snap, err := store.Set(context.Background(), "k", Update{
		Counts: &Counts{Total: 10, Created: 3, Updated: 4, Deleted: 2, Synced: 99},
	})
	require.NoError(t, err)
	assert.Equal(t, 9, snap.Synced)
}

func TestMemoryStoreErrorEntry(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()

	snap, err := store.Set(context.Background(), "k", Update{
		Phase: PhaseError,
		Code:  "NEED_REAUTH",
		Error: "authorization expired",
	})
	require.NoError(t, err)
	assert.Equal(t, PhaseError, snap.Phase)
	assert.Equal(t, "NEED_REAUTH", snap.Code)
	assert.Equal(t, "authorization expired", snap.Error)
}

func TestMemoryStoreGetAbsent(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()

	_, ok, err := store.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStoreClear(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	_, err := store.Set(ctx, "k", Update{Phase: PhaseDone})
	require.NoError(t, err)
	require.NoError(t, store.Clear(ctx, "k"))

	_, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStoreExpireAfter(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	_, err := store.Set(ctx, "k", Update{Phase: PhaseDone})
	require.NoError(t, err)
	require.NoError(t, store.ExpireAfter(ctx, "k", 10*time.Millisecond))

	assert.Eventually(t, func() bool {
		_, ok, err := store.Get(ctx, "k")
		return err == nil && !ok
	}, time.Second, 5*time.Millisecond)
}

func TestMemoryStoreSweep(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	_, err := store.Set(ctx, "done", Update{Phase: PhaseDone})
	require.NoError(t, err)
	_, err = store.Set(ctx, "failed", Update{Phase: PhaseError})
	require.NoError(t, err)
	_, err = store.Set(ctx, "running", Update{Phase: PhaseWorking})
	require.NoError(t, err)

	// Nothing old enough yet.
	assert.Equal(t, 0, store.Sweep(time.Minute))

	// Everything terminal qualifies with a zero max age.
	time.Sleep(time.Millisecond)
	assert.Equal(t, 2, store.Sweep(0))

	_, ok, err := store.Get(ctx, "running")
	require.NoError(t, err)
	assert.True(t, ok)
}
