// Package memstore is the in-memory record backend. Each record lives in its
// own slot holding an atomic pointer to an immutable *types.Record, so
// writers to different ids never contend and same-id writers race through
// compare-and-swap.
package memstore

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/mesh-intelligence/c2store/pkg/types"
)

type slot struct {
	rec atomic.Pointer[types.Record]
}

// MemStore implements types.Backend in memory.
type MemStore struct {
	slots  sync.Map // id -> *slot
	closed atomic.Bool
}

// New returns an empty store. Seed records, if any, are inserted as given;
// this is how a store is rebuilt from an exported snapshot.
func New(seed ...*types.Record) *MemStore {
	m := &MemStore{}
	for _, rec := range seed {
		s := &slot{}
		s.rec.Store(rec.Clone())
		m.slots.Store(rec.ID, s)
	}
	return m
}

func (m *MemStore) check(ctx context.Context) error {
	if m.closed.Load() {
		return types.ErrStoreClosed
	}
	return ctx.Err()
}

// Insert stores a new record.
func (m *MemStore) Insert(ctx context.Context, rec *types.Record) error {
	if err := m.check(ctx); err != nil {
		return err
	}
	if rec.ID == "" {
		return types.ErrInvalidID
	}
	s := &slot{}
	s.rec.Store(rec.Clone())
	if _, loaded := m.slots.LoadOrStore(rec.ID, s); loaded {
		return types.ErrDuplicateID
	}
	return nil
}

// Load returns a copy of the live record.
func (m *MemStore) Load(ctx context.Context, id string) (*types.Record, error) {
	if err := m.check(ctx); err != nil {
		return nil, err
	}
	cur := m.current(id)
	if cur == nil || !cur.Live() {
		return nil, types.ErrNotFound
	}
	return cur.Clone(), nil
}

func (m *MemStore) current(id string) *types.Record {
	v, ok := m.slots.Load(id)
	if !ok {
		return nil
	}
	return v.(*slot).rec.Load()
}

// Replace swaps in rec if the live version still equals expectedVersion.
func (m *MemStore) Replace(ctx context.Context, rec *types.Record, expectedVersion int64) error {
	if err := m.check(ctx); err != nil {
		return err
	}
	return m.swap(rec.ID, rec.Clone(), expectedVersion)
}

// Remove tombstones or drops the record at expectedVersion.
func (m *MemStore) Remove(ctx context.Context, tomb *types.Record, expectedVersion int64, hard bool) error {
	if err := m.check(ctx); err != nil {
		return err
	}
	if !hard {
		return m.swap(tomb.ID, tomb.Clone(), expectedVersion)
	}
	if err := m.swap(tomb.ID, nil, expectedVersion); err != nil {
		return err
	}
	if v, ok := m.slots.Load(tomb.ID); ok {
		m.slots.CompareAndDelete(tomb.ID, v)
	}
	return nil
}

// swap installs next in the id's slot when the live record there has
// expectedVersion. A nil next empties the slot.
func (m *MemStore) swap(id string, next *types.Record, expectedVersion int64) error {
	v, ok := m.slots.Load(id)
	if !ok {
		return types.ErrNotFound
	}
	s := v.(*slot)
	for {
		cur := s.rec.Load()
		if cur == nil || !cur.Live() {
			return types.ErrNotFound
		}
		if cur.Version != expectedVersion {
			return &types.VersionConflictError{ID: id, Expected: expectedVersion, Actual: cur.Version}
		}
		if s.rec.CompareAndSwap(cur, next) {
			return nil
		}
	}
}

// Scan returns copies of the live records of entityType ordered by creation
// time, then id.
func (m *MemStore) Scan(ctx context.Context, entityType string) ([]*types.Record, error) {
	if err := m.check(ctx); err != nil {
		return nil, err
	}
	var out []*types.Record
	m.slots.Range(func(_, v any) bool {
		rec := v.(*slot).rec.Load()
		if rec != nil && rec.Live() && rec.Type == entityType {
			out = append(out, rec.Clone())
		}
		return true
	})
	sortRecords(out)
	return out, nil
}

// Len returns the number of slots, tombstones included.
func (m *MemStore) Len() int {
	n := 0
	m.slots.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Close marks the store closed. Later calls fail with types.ErrStoreClosed.
func (m *MemStore) Close() error {
	m.closed.Store(true)
	return nil
}

func sortRecords(recs []*types.Record) {
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].CreatedAt.Before(recs[j].CreatedAt)
		}
		return recs[i].ID < recs[j].ID
	})
}
