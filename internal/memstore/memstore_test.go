// Tests for the in-memory backend: insert, load, compare-and-swap replace,
// tombstone and hard removal, scans, and close.
package memstore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/c2store/pkg/types"
)

func record(id, entityType string, version int64, created time.Time) *types.Record {
	return &types.Record{
		ID:        id,
		Type:      entityType,
		Version:   version,
		CreatedAt: created,
		UpdatedAt: created,
		Fields:    map[string]any{"name": id},
	}
}

func TestMemStore_InsertAndLoad(t *testing.T) {
	ctx := context.Background()
	m := New()

	rec := record("a", "force", 1, time.Now())
	require.NoError(t, m.Insert(ctx, rec))
	assert.ErrorIs(t, m.Insert(ctx, rec), types.ErrDuplicateID)
	assert.ErrorIs(t, m.Insert(ctx, record("", "force", 1, time.Now())), types.ErrInvalidID)

	got, err := m.Load(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	got.Fields["name"] = "changed"
	again, err := m.Load(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "a", again.Fields["name"], "loaded records are copies")

	rec.Fields["name"] = "changed"
	again, err = m.Load(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "a", again.Fields["name"], "inserted records are copied")

	_, err = m.Load(ctx, "missing")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestMemStore_Replace(t *testing.T) {
	ctx := context.Background()
	m := New(record("a", "force", 1, time.Now()))

	next := record("a", "force", 2, time.Now())
	require.NoError(t, m.Replace(ctx, next, 1))

	err := m.Replace(ctx, record("a", "force", 2, time.Now()), 1)
	var vc *types.VersionConflictError
	require.True(t, errors.As(err, &vc))
	assert.Equal(t, int64(1), vc.Expected)
	assert.Equal(t, int64(2), vc.Actual)

	assert.ErrorIs(t, m.Replace(ctx, record("b", "force", 2, time.Now()), 1), types.ErrNotFound)
}

func TestMemStore_ConcurrentReplaceOneWinner(t *testing.T) {
	ctx := context.Background()
	m := New(record("a", "force", 5, time.Now()))

	var wins, conflicts atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := m.Replace(ctx, record("a", "force", 6, time.Now()), 5)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, types.ErrVersionConflict):
				conflicts.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(15), conflicts.Load())
}

func TestMemStore_Remove(t *testing.T) {
	tests := []struct {
		name    string
		hard    bool
		slotsAt int
	}{
		{"tombstone", false, 1},
		{"hard", true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			m := New(record("a", "force", 1, time.Now()))

			tomb := record("a", "force", 2, time.Now())
			now := time.Now()
			tomb.DeletedAt = &now

			var vc *types.VersionConflictError
			require.True(t, errors.As(m.Remove(ctx, tomb, 3, tt.hard), &vc))

			require.NoError(t, m.Remove(ctx, tomb, 1, tt.hard))
			_, err := m.Load(ctx, "a")
			assert.ErrorIs(t, err, types.ErrNotFound)
			assert.Equal(t, tt.slotsAt, m.Len())

			assert.ErrorIs(t, m.Remove(ctx, tomb, 2, tt.hard), types.ErrNotFound)
			assert.ErrorIs(t, m.Replace(ctx, record("a", "force", 3, time.Now()), 2), types.ErrNotFound)
		})
	}
}

func TestMemStore_Scan(t *testing.T) {
	ctx := context.Background()
	base := time.Now()
	m := New(
		record("c", "force", 1, base.Add(2*time.Second)),
		record("a", "force", 1, base),
		record("b", "force", 1, base),
		record("t", "target", 1, base),
	)

	recs, err := m.Scan(ctx, "force")
	require.NoError(t, err)
	var ids []string
	for _, r := range recs {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)

	recs, err = m.Scan(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestMemStore_ClosedAndCancelled(t *testing.T) {
	m := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, m.Insert(ctx, record("a", "force", 1, time.Now())), context.Canceled)
	assert.Equal(t, 0, m.Len(), "cancelled insert writes nothing")

	require.NoError(t, m.Close())
	_, err := m.Load(context.Background(), "a")
	assert.ErrorIs(t, err, types.ErrStoreClosed)
}
