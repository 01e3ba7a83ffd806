// Package cache persists fetched tabular datasets on disk, one payload
// artifact plus one metadata sidecar per key, under a directory restricted
// to the owning user. The payload format is a compressed columnar document
// that can only ever deserialize data, never behavior.
package cache

import (
	"context"
	"time"

	"epipanel/internal/dataset"
)

// Metadata is the sidecar stored next to every payload artifact. It is the
// commit point of a put: the entry exists exactly when the sidecar does.
type Metadata struct {
	Timestamp     time.Time      `json:"timestamp"`
	Key           string         `json:"key"`
	Source        dataset.Source `json:"source"`
	RecordCount   int            `json:"record_count"`
	ColumnNames   []string       `json:"column_names"`
	FormatVersion string         `json:"format_version"`
	Checksum      string         `json:"checksum"`
	DataFile      string         `json:"data_file"`
}

// Entry is a cached dataset with its metadata.
type Entry struct {
	Metadata Metadata
	Data     *dataset.Table
}

// Info describes the state of the cache directory.
type Info struct {
	Dir        string `json:"dir"`
	Mode       string `json:"mode"`
	DataFiles  int    `json:"data_files"`
	MetaFiles  int    `json:"meta_files"`
	TotalBytes int64  `json:"total_bytes"`
}

// Store defines the cache operations used by the orchestrator and the
// status API. Implementations must be safe for concurrent use.
type Store interface {
	// Put persists a table under key, replacing any existing entry
	// atomically. A failed put leaves the previous entry intact.
	Put(ctx context.Context, key string, data *dataset.Table, source dataset.Source) (*Entry, error)

	// Get reads the entry for key. Returns nil, nil when no entry exists;
	// returns a *CorruptionError when the stored artifacts fail validation.
	Get(ctx context.Context, key string) (*Entry, error)

	// Delete removes both artifacts for key if present. Idempotent; reports
	// whether an entry existed.
	Delete(ctx context.Context, key string) (bool, error)

	// Keys enumerates all stored keys, sorted.
	Keys(ctx context.Context) ([]string, error)

	// PruneOlderThan deletes every entry whose metadata timestamp is older
	// than now minus age, returning the number deleted.
	PruneOlderThan(ctx context.Context, age time.Duration) (int, error)

	// Info reports directory mode and artifact counts.
	Info(ctx context.Context) (*Info, error)
}
