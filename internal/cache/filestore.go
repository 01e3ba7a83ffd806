package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"epipanel/internal/dataset"
)

const (
	metaSuffix = ".meta.json"
	payloadExt = ".tbl"

	dirMode  = 0o700
	fileMode = 0o600
)

// FileStore implements Store on the local filesystem. Every entry is a
// payload artifact named <key>.<checksum>.tbl plus a sidecar <key>.meta.json.
// The sidecar rename is the commit point: a put that dies before it leaves
// the previous entry untouched, and concurrent writers degrade to
// last-writer-wins without torn reads.
type FileStore struct {
	mu  sync.Mutex
	dir string
}

// NewFileStore creates the cache directory if absent and restricts it to the
// owning user (no group/other access).
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	// MkdirAll honors the umask and leaves pre-existing directories alone.
	if err := os.Chmod(dir, dirMode); err != nil {
		return nil, fmt.Errorf("restrict cache directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the cache directory path.
func (s *FileStore) Dir() string {
	return s.dir
}

func (s *FileStore) metaPath(key string) string {
	return filepath.Join(s.dir, key+metaSuffix)
}

func (s *FileStore) payloadGlob(key string) string {
	return filepath.Join(s.dir, key+".*"+payloadExt)
}

// Put persists the table and its metadata sidecar for key.
func (s *FileStore) Put(ctx context.Context, key string, data *dataset.Table, source dataset.Source) (*Entry, error) {
	if !dataset.ValidKey(key) {
		return nil, NewWriteError(key, fmt.Errorf("invalid cache key"))
	}
	if err := data.Validate(); err != nil {
		return nil, NewWriteError(key, err)
	}

	payload, err := encodeTable(data)
	if err != nil {
		return nil, NewWriteError(key, err)
	}
	sum := xxhash.Sum64(payload)

	meta := Metadata{
		Timestamp:     time.Now().UTC(),
		Key:           key,
		Source:        source,
		RecordCount:   data.RecordCount(),
		ColumnNames:   append([]string(nil), data.Columns...),
		FormatVersion: FormatVersion,
		Checksum:      fmt.Sprintf("%016x", sum),
		DataFile:      fmt.Sprintf("%s.%016x%s", key, sum, payloadExt),
	}
	metaJSON, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, NewWriteError(key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Payload first; the entry is not visible until the sidecar lands.
	if err := writeFileAtomic(filepath.Join(s.dir, meta.DataFile), payload); err != nil {
		return nil, NewWriteError(key, err)
	}
	if err := writeFileAtomic(s.metaPath(key), metaJSON); err != nil {
		return nil, NewWriteError(key, err)
	}

	s.removeStalePayloads(key, meta.DataFile)

	return &Entry{Metadata: meta, Data: data}, nil
}

// Get reads both artifacts for key and validates them against each other.
// It holds the store lock so a concurrent Put cannot sweep the payload out
// from under a sidecar that was already read.
func (s *FileStore) Get(ctx context.Context, key string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	metaJSON, err := os.ReadFile(s.metaPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			if s.hasPayload(key) {
				return nil, NewCorruptionError(key, "payload artifact present without metadata sidecar", nil)
			}
			return nil, nil
		}
		return nil, fmt.Errorf("read metadata for %q: %w", key, err)
	}

	var meta Metadata
	if err := json.Unmarshal(metaJSON, &meta); err != nil {
		return nil, NewCorruptionError(key, "metadata sidecar is not valid JSON", err)
	}
	if meta.Key != key {
		return nil, NewCorruptionError(key, fmt.Sprintf("metadata names key %q", meta.Key), nil)
	}

	payload, err := os.ReadFile(filepath.Join(s.dir, filepath.Base(meta.DataFile)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NewCorruptionError(key, "metadata sidecar present without payload artifact", nil)
		}
		return nil, fmt.Errorf("read payload for %q: %w", key, err)
	}

	if sum := fmt.Sprintf("%016x", xxhash.Sum64(payload)); sum != meta.Checksum {
		return nil, NewCorruptionError(key, fmt.Sprintf("payload checksum %s does not match metadata %s", sum, meta.Checksum), nil)
	}

	table, err := decodeTable(payload)
	if err != nil {
		return nil, NewCorruptionError(key, "payload cannot be deserialized", err)
	}
	if table.RecordCount() != meta.RecordCount {
		return nil, NewCorruptionError(key, fmt.Sprintf("record count %d does not match metadata %d", table.RecordCount(), meta.RecordCount), nil)
	}
	if len(table.Columns) != len(meta.ColumnNames) {
		return nil, NewCorruptionError(key, "column names do not match metadata", nil)
	}
	for i, c := range table.Columns {
		if meta.ColumnNames[i] != c {
			return nil, NewCorruptionError(key, "column names do not match metadata", nil)
		}
	}

	return &Entry{Metadata: meta, Data: table}, nil
}

// Delete removes both artifacts for key. Idempotent.
func (s *FileStore) Delete(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existed := false
	if err := os.Remove(s.metaPath(key)); err == nil {
		existed = true
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("remove metadata for %q: %w", key, err)
	}

	payloads, _ := filepath.Glob(s.payloadGlob(key))
	for _, p := range payloads {
		if err := os.Remove(p); err == nil {
			existed = true
		} else if !os.IsNotExist(err) {
			return existed, fmt.Errorf("remove payload for %q: %w", key, err)
		}
	}
	return existed, nil
}

// Keys lists all stored keys, sorted.
func (s *FileStore) Keys(ctx context.Context) ([]string, error) {
	metas, err := filepath.Glob(filepath.Join(s.dir, "*"+metaSuffix))
	if err != nil {
		return nil, fmt.Errorf("list cache entries: %w", err)
	}
	keys := make([]string, 0, len(metas))
	for _, m := range metas {
		keys = append(keys, strings.TrimSuffix(filepath.Base(m), metaSuffix))
	}
	sort.Strings(keys)
	return keys, nil
}

// PruneOlderThan deletes entries whose metadata timestamp predates now-age.
// Entries with unreadable sidecars are skipped, not deleted.
func (s *FileStore) PruneOlderThan(ctx context.Context, age time.Duration) (int, error) {
	keys, err := s.Keys(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().UTC().Add(-age)
	removed := 0
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		metaJSON, err := os.ReadFile(s.metaPath(key))
		if err != nil {
			continue
		}
		var meta Metadata
		if err := json.Unmarshal(metaJSON, &meta); err != nil {
			slog.Warn("skipping unreadable cache metadata during prune", "key", key, "error", err)
			continue
		}
		if meta.Timestamp.Before(cutoff) {
			if _, err := s.Delete(ctx, key); err != nil {
				return removed, err
			}
			removed++
			slog.Info("pruned stale cache entry", "key", key, "age", time.Since(meta.Timestamp).Round(time.Hour))
		}
	}
	return removed, nil
}

// Info reports the cache directory state.
func (s *FileStore) Info(ctx context.Context) (*Info, error) {
	st, err := os.Stat(s.dir)
	if err != nil {
		return nil, fmt.Errorf("stat cache directory: %w", err)
	}
	info := &Info{
		Dir:  s.dir,
		Mode: fmt.Sprintf("%04o", st.Mode().Perm()),
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read cache directory: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		info.TotalBytes += fi.Size()
		switch {
		case strings.HasSuffix(e.Name(), metaSuffix):
			info.MetaFiles++
		case strings.HasSuffix(e.Name(), payloadExt):
			info.DataFiles++
		}
	}
	return info, nil
}

func (s *FileStore) hasPayload(key string) bool {
	payloads, _ := filepath.Glob(s.payloadGlob(key))
	return len(payloads) > 0
}

// removeStalePayloads drops payload artifacts superseded by current. A put
// that crashed after committing its sidecar can leave one behind; the next
// successful put cleans it up.
func (s *FileStore) removeStalePayloads(key, current string) {
	payloads, _ := filepath.Glob(s.payloadGlob(key))
	for _, p := range payloads {
		if filepath.Base(p) == current {
			continue
		}
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			slog.Warn("could not remove superseded payload artifact", "key", key, "file", p, "error", err)
		}
	}
}

// writeFileAtomic writes data to a temp file, restricts it to the owner and
// renames it into place.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, fileMode); err != nil {
		return err
	}
	// WriteFile only applies the mode on creation; make sure of it.
	if err := os.Chmod(tmp, fileMode); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
