package history

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRun(id string, startedAt time.Time) *RunRecord {
	return &RunRecord{
		ID:         id,
		StartedAt:  startedAt,
		FinishedAt: startedAt.Add(2 * time.Minute),
		Trigger:    TriggerScheduled,
		Succeeded:  5,
		Failed:     1,
		Pruned:     2,
		Failures: []KeyFailure{
			{Key: "sinan_2601201_2022", Reason: "provider_unavailable: SINAN 2601201/2022"},
		},
	}
}

func TestMemoryStoreRecordAndGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	run := sampleRun("run-1", time.Now().UTC())
	require.NoError(t, store.Record(ctx, run))

	got, err := store.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, run.Succeeded, got.Succeeded)
	assert.Equal(t, run.Failures, got.Failures)

	// Reads return clones; mutating the result must not leak back.
	got.Succeeded = 99
	again, err := store.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, 5, again.Succeeded)
}

func TestMemoryStoreGetMissing(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreRejectsEmptyID(t *testing.T) {
	store := NewMemoryStore()
	assert.Error(t, store.Record(context.Background(), &RunRecord{}))
	assert.Error(t, store.Record(context.Background(), nil))
}

func TestMemoryStoreListOrderAndLimit(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 3, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		run := sampleRun(fmt.Sprintf("run-%d", i), base.Add(time.Duration(i)*time.Hour))
		require.NoError(t, store.Record(ctx, run))
	}

	runs, err := store.List(ctx, 3)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "run-4", runs[0].ID)
	assert.Equal(t, "run-3", runs[1].ID)
	assert.Equal(t, "run-2", runs[2].ID)

	all, err := store.List(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 5, "zero limit falls back to the default window")
}

func TestNormalizeLimit(t *testing.T) {
	assert.Equal(t, 20, normalizeLimit(0))
	assert.Equal(t, 20, normalizeLimit(-3))
	assert.Equal(t, 7, normalizeLimit(7))
	assert.Equal(t, 100, normalizeLimit(500))
}
