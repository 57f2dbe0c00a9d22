package types

import (
	"context"
	"iter"
	"time"
)

// EntityStore provides validated, versioned CRUD over schema-typed entities.
// Every returned record is a copy; mutating it does not affect the store.
type EntityStore interface {
	// Create validates payload against the named type and commits a new
	// record with version 1. Engine-managed keys in payload are ignored.
	Create(ctx context.Context, entityType string, payload map[string]any, actor string) (*Record, error)

	// Get returns the live record with the given ID or ErrNotFound.
	Get(ctx context.Context, id string) (*Record, error)

	// Update merges patch onto the current fields, re-validates the merged
	// result, and commits it as version expectedVersion+1. A stale
	// expectedVersion fails with a *VersionConflictError.
	Update(ctx context.Context, id string, patch map[string]any, expectedVersion int64, actor string) (*Record, error)

	// Delete hides the record from Get and List.
	Delete(ctx context.Context, id string) error

	// List yields live records of the given type that satisfy pred. Each
	// iteration reads a fresh point-in-time snapshot.
	List(ctx context.Context, entityType string, pred Predicate) iter.Seq2[*Record, error]
}

// Backend is keyed persistence for records. Implementations must make each
// call atomic and must not retain or mutate the records they are given.
type Backend interface {
	// Insert stores a new record. Returns ErrDuplicateID if the ID exists.
	Insert(ctx context.Context, rec *Record) error

	// Load returns the live record with the given ID or ErrNotFound.
	Load(ctx context.Context, id string) (*Record, error)

	// Replace stores rec only if the current live version equals
	// expectedVersion. Returns ErrNotFound or a *VersionConflictError.
	Replace(ctx context.Context, rec *Record, expectedVersion int64) error

	// Remove deletes the record at expectedVersion. When hard is false, tomb
	// (with DeletedAt set) is kept as a tombstone; otherwise the record is
	// removed physically.
	Remove(ctx context.Context, tomb *Record, expectedVersion int64, hard bool) error

	// Scan returns a point-in-time snapshot of live records of one type,
	// ordered by creation time.
	Scan(ctx context.Context, entityType string) ([]*Record, error)

	// Close releases backend resources.
	Close() error
}

// HistoryEntry records one committed version of a record.
type HistoryEntry struct {
	HistoryID string         `json:"history_id"`
	ID        string         `json:"id"`
	Version   int64          `json:"version"`
	Operation EventType      `json:"operation"`
	Fields    map[string]any `json:"fields"`
	CreatedAt time.Time      `json:"created_at"`
}

// HistoryReader is implemented by backends that keep version history.
type HistoryReader interface {
	History(ctx context.Context, id string) ([]*HistoryEntry, error)
}
