package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	_, ok, err := store.LatestCycle(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.SaveCycle(ctx, sampleCycle("a", now.Add(-3*time.Hour))))
	require.NoError(t, store.SaveCycle(ctx, sampleCycle("b", now.Add(-2*time.Hour))))
	require.NoError(t, store.SaveCycle(ctx, sampleCycle("c", now.Add(-time.Hour))))

	cycles, err := store.ListCycles(ctx, 2)
	require.NoError(t, err)
	require.Len(t, cycles, 2)
	assert.Equal(t, "c", cycles[0].ID)
	assert.Equal(t, "b", cycles[1].ID)

	latest, ok, err := store.LatestCycle(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "c", latest.ID)

	assert.Equal(t, StoreStats{CycleCount: 3, ResultCount: 9}, store.Stats())
	assert.Equal(t, 1, store.Prune(now.Add(-150*time.Minute)))
	assert.Equal(t, 2, store.Stats().CycleCount)
	require.NoError(t, store.Close())
}

func TestMemoryStore_CopiesOnSave(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	summary := sampleCycle("a", time.Now())
	require.NoError(t, store.SaveCycle(ctx, summary))

	summary.Counts["completed"] = 99
	summary.Results = nil

	latest, _, err := store.LatestCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, latest.Counts["completed"])
	assert.Len(t, latest.Results, 3)

	latest.Counts["completed"] = 50
	again, _, err := store.LatestCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, again.Counts["completed"])
}

func TestNormalizeLimit(t *testing.T) {
	assert.Equal(t, DefaultListLimit, normalizeLimit(0))
	assert.Equal(t, DefaultListLimit, normalizeLimit(-5))
	assert.Equal(t, 7, normalizeLimit(7))
}
