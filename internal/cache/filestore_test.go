package cache

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"epipanel/internal/dataset"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	store, err := NewFileStore(filepath.Join(t.TempDir(), "cache"))
	require.NoError(t, err)
	return store
}

func sampleTable() *dataset.Table {
	tb := dataset.NewTable("ano", "mes", "causa_basica")
	tb.Append(map[string]any{"ano": 2023, "mes": 1, "causa_basica": "I21"})
	tb.Append(map[string]any{"ano": 2023, "mes": 2, "causa_basica": "J18"})
	tb.Append(map[string]any{"ano": 2023, "mes": 3})
	return tb
}

func TestPutGetRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	table := sampleTable()
	entry, err := store.Put(ctx, "sim_2601201_2023", table, dataset.SourceDATASUS)
	require.NoError(t, err)
	assert.Equal(t, "sim_2601201_2023", entry.Metadata.Key)
	assert.Equal(t, dataset.SourceDATASUS, entry.Metadata.Source)
	assert.Equal(t, 3, entry.Metadata.RecordCount)
	assert.Equal(t, FormatVersion, entry.Metadata.FormatVersion)
	assert.Equal(t, []string{"ano", "mes", "causa_basica"}, entry.Metadata.ColumnNames)
	assert.WithinDuration(t, time.Now().UTC(), entry.Metadata.Timestamp, 5*time.Second)

	got, err := store.Get(ctx, "sim_2601201_2023")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, table.Equal(got.Data), "round-tripped table should match")
	assert.Equal(t, entry.Metadata.Checksum, got.Metadata.Checksum)
}

func TestGetAbsentKey(t *testing.T) {
	store := newTestStore(t)

	entry, err := store.Get(context.Background(), "sinan_2601201_1999")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestPutRejectsInvalidKey(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Put(context.Background(), "../escape", sampleTable(), dataset.SourceDATASUS)
	var writeErr *WriteError
	require.ErrorAs(t, err, &writeErr)
	assert.Equal(t, "../escape", writeErr.Key)
}

func TestPutRejectsInvalidTable(t *testing.T) {
	store := newTestStore(t)

	var writeErr *WriteError
	_, err := store.Put(context.Background(), "sim_2601201_2023", dataset.NewTable(), dataset.SourceDATASUS)
	require.ErrorAs(t, err, &writeErr)
}

func TestPutReplacesExistingEntry(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	key := "sinasc_2601201_2022"

	first := dataset.NewTable("ano")
	first.Append(map[string]any{"ano": 2022})
	_, err := store.Put(ctx, key, first, dataset.SourceDATASUS)
	require.NoError(t, err)

	second := dataset.NewTable("ano", "peso")
	second.Append(map[string]any{"ano": 2022, "peso": 3100})
	second.Append(map[string]any{"ano": 2022, "peso": 2900})
	_, err = store.Put(ctx, key, second, dataset.SourceDATASUS)
	require.NoError(t, err)

	got, err := store.Get(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 2, got.Metadata.RecordCount)
	assert.True(t, second.Equal(got.Data))

	// The superseded payload artifact must be cleaned up.
	payloads, err := filepath.Glob(filepath.Join(store.Dir(), key+".*"+payloadExt))
	require.NoError(t, err)
	assert.Len(t, payloads, 1)
}

func TestOwnerOnlyPermissions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	st, err := os.Stat(store.Dir())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o700), st.Mode().Perm(), "cache directory must be owner-only")

	_, err = store.Put(ctx, "sim_2601201_2023", sampleTable(), dataset.SourceDATASUS)
	require.NoError(t, err)

	entries, err := os.ReadDir(store.Dir())
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	for _, e := range entries {
		fi, err := e.Info()
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), fi.Mode().Perm(), "artifact %s must be owner-only", e.Name())
		assert.Zero(t, fi.Mode()&0o111, "artifact %s must not be executable", e.Name())
	}
}

func TestGetDetectsTruncatedPayload(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	key := "sim_2601201_2023"

	entry, err := store.Put(ctx, key, sampleTable(), dataset.SourceDATASUS)
	require.NoError(t, err)

	payloadPath := filepath.Join(store.Dir(), entry.Metadata.DataFile)
	raw, err := os.ReadFile(payloadPath)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(payloadPath, raw[:len(raw)/2], 0o600))

	_, err = store.Get(ctx, key)
	var corrupt *CorruptionError
	require.ErrorAs(t, err, &corrupt)
	assert.Equal(t, key, corrupt.Key)
}

func TestGetDetectsMangledSidecar(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	key := "sinan_2601201_2023"

	_, err := store.Put(ctx, key, sampleTable(), dataset.SourceDATASUS)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(store.Dir(), key+metaSuffix), []byte("{not json"), 0o600))

	var corrupt *CorruptionError
	_, err = store.Get(ctx, key)
	require.ErrorAs(t, err, &corrupt)
}

func TestGetDetectsPayloadWithoutSidecar(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	key := "sim_2601201_2022"

	entry, err := store.Put(ctx, key, sampleTable(), dataset.SourceDATASUS)
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(store.Dir(), key+metaSuffix)))

	var corrupt *CorruptionError
	_, err = store.Get(ctx, key)
	require.ErrorAs(t, err, &corrupt)

	// The payload artifact is left in place for inspection.
	_, err = os.Stat(filepath.Join(store.Dir(), entry.Metadata.DataFile))
	assert.NoError(t, err)
}

func TestGetDetectsMissingPayload(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	key := "sinasc_2601201_2023"

	entry, err := store.Put(ctx, key, sampleTable(), dataset.SourceDATASUS)
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(store.Dir(), entry.Metadata.DataFile)))

	var corrupt *CorruptionError
	_, err = store.Get(ctx, key)
	require.ErrorAs(t, err, &corrupt)
}

func TestGetConcurrentWithReplace(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	key := "sim_2601201_2023"

	_, err := store.Put(ctx, key, sampleTable(), dataset.SourceDATASUS)
	require.NoError(t, err)

	// Replacing puts sweep superseded payloads; a reader must never observe
	// a half-replaced entry as corrupt.
	done := make(chan error, 1)
	go func() {
		for i := 0; i < 50; i++ {
			table := dataset.NewTable("ano", "valor")
			table.Append(map[string]any{"ano": 2023, "valor": i})
			if _, err := store.Put(ctx, key, table, dataset.SourceDATASUS); err != nil {
				done <- err
				return
			}
		}
		done <- nil
	}()

	for {
		entry, err := store.Get(ctx, key)
		require.NoError(t, err)
		require.NotNil(t, entry)

		select {
		case err := <-done:
			require.NoError(t, err)
			return
		default:
		}
	}
}

func TestDeleteIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	key := "sim_2601201_2023"

	_, err := store.Put(ctx, key, sampleTable(), dataset.SourceDATASUS)
	require.NoError(t, err)

	existed, err := store.Delete(ctx, key)
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = store.Delete(ctx, key)
	require.NoError(t, err)
	assert.False(t, existed)

	entry, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestKeysSorted(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, key := range []string{"sinasc_2601201_2023", "sim_2601201_2023", "sinan_2601201_2023"} {
		_, err := store.Put(ctx, key, sampleTable(), dataset.SourceDATASUS)
		require.NoError(t, err)
	}

	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"sim_2601201_2023", "sinan_2601201_2023", "sinasc_2601201_2023"}, keys)
}

func TestPruneOlderThan(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Put(ctx, "sim_2601201_2023", sampleTable(), dataset.SourceDATASUS)
	require.NoError(t, err)
	_, err = store.Put(ctx, "sinan_2601201_2023", sampleTable(), dataset.SourceDATASUS)
	require.NoError(t, err)

	// Backdate one sidecar far past the retention window.
	backdate(t, store, "sim_2601201_2023", time.Now().UTC().Add(-100*24*time.Hour))

	removed, err := store.PruneOlderThan(ctx, 90*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"sinan_2601201_2023"}, keys)
}

func TestPruneSkipsUnreadableSidecar(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Put(ctx, "sim_2601201_2023", sampleTable(), dataset.SourceDATASUS)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(store.Dir(), "sim_2601201_2023"+metaSuffix), []byte("{broken"), 0o600))

	removed, err := store.PruneOlderThan(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, removed)

	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.Contains(t, keys, "sim_2601201_2023")
}

func TestPruneHonorsContext(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Put(context.Background(), "sim_2601201_2023", sampleTable(), dataset.SourceDATASUS)
	require.NoError(t, err)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = store.PruneOlderThan(cancelled, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestInfo(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Put(ctx, "sim_2601201_2023", sampleTable(), dataset.SourceDATASUS)
	require.NoError(t, err)

	info, err := store.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.Dir(), info.Dir)
	assert.Equal(t, "0700", info.Mode)
	assert.Equal(t, 1, info.DataFiles)
	assert.Equal(t, 1, info.MetaFiles)
	assert.Positive(t, info.TotalBytes)
}

// backdate rewrites the sidecar timestamp so prune tests don't sleep.
func backdate(t *testing.T, store *FileStore, key string, ts time.Time) {
	t.Helper()
	path := filepath.Join(store.Dir(), key+metaSuffix)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var meta Metadata
	require.NoError(t, json.Unmarshal(raw, &meta))
	meta.Timestamp = ts
	out, err := json.Marshal(meta)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, out, 0o600))
}
