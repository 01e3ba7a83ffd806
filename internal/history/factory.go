package history

import (
	"context"
	"errors"
	"fmt"

	"epipanel/internal/storage"
)

// Result holds the initialized history store and, when this factory opened
// the connection, the owned storage.
type Result struct {
	Store   Store
	Storage storage.Storage
}

// Close releases resources held by the history store.
func (r *Result) Close() error {
	var errs []error
	if r.Store != nil {
		if err := r.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store close: %w", err))
		}
	}
	if r.Storage != nil {
		if err := r.Storage.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage close: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %w", errors.Join(errs...))
	}
	return nil
}

// New creates a history store from storage configuration. The "memory"
// type needs no database and keeps records for the process lifetime only.
func New(ctx context.Context, cfg storage.Config) (*Result, error) {
	if cfg.Type == storage.TypeMemory {
		return &Result{Store: NewMemoryStore()}, nil
	}

	store, err := storage.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage: %w", err)
	}

	historyStore, err := createStore(ctx, store)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	return &Result{
		Store:   historyStore,
		Storage: store,
	}, nil
}

// NewWithSharedStorage creates a history store on a storage connection
// owned by someone else.
func NewWithSharedStorage(ctx context.Context, shared storage.Storage) (*Result, error) {
	if shared == nil {
		return nil, fmt.Errorf("shared storage is required")
	}
	historyStore, err := createStore(ctx, shared)
	if err != nil {
		return nil, err
	}
	return &Result{Store: historyStore}, nil
}

func createStore(ctx context.Context, store storage.Storage) (Store, error) {
	switch store.Type() {
	case storage.TypeSQLite:
		return NewSQLiteStore(store.SQLiteDB())
	case storage.TypePostgreSQL:
		return NewPostgreSQLStore(ctx, store.PostgresPool())
	case storage.TypeMongoDB:
		return NewMongoDBStore(store.MongoDatabase())
	default:
		return nil, fmt.Errorf("unknown storage type: %s", store.Type())
	}
}
