// Tests for the entity store: create/get/update/delete/list semantics,
// optimistic concurrency, audit stamping, delete policies, the change feed,
// cancellation, and schema reload.
package engine

import (
	"context"
	"errors"
	"iter"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/c2store/internal/memstore"
	"github.com/mesh-intelligence/c2store/internal/schema"
	"github.com/mesh-intelligence/c2store/pkg/types"
)

func positionField() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": true,
		"properties": []any{map[string]any{
			"lat": map[string]any{"type": "number", "required": true},
			"lon": map[string]any{"type": "number", "required": true},
		}},
	}
}

func testDocs() []schema.Document {
	return []schema.Document{
		{
			"type":        "target",
			"description": "Target nominated for engagement",
			"fields": map[string]any{
				"targetType": map[string]any{"type": "string", "required": true, "enum": []any{"vehicle", "building", "person", "smoke"}},
				"location":   positionField(),
				"status":     map[string]any{"type": "string", "enum": []any{"pending", "engaged"}, "default": "pending"},
				"createdBy":  map[string]any{"type": "string"},
				"updatedBy":  map[string]any{"type": "string"},
			},
		},
		{
			"type":        "force",
			"description": "Friendly force unit",
			"fields": map[string]any{
				"name":      map[string]any{"type": "string", "required": true},
				"callsign":  map[string]any{"type": "string"},
				"position":  positionField(),
				"createdBy": map[string]any{"type": "string"},
				"updatedBy": map[string]any{"type": "string"},
			},
		},
	}
}

func newEngine(t *testing.T, opts Options) *Engine {
	t.Helper()
	reg := schema.NewRegistry(zap.NewNop())
	require.NoError(t, reg.Load(testDocs()))
	e := New(reg, memstore.New(), opts, zap.NewNop())
	t.Cleanup(func() { e.Close() })
	return e
}

func createForce(t *testing.T, e *Engine, name string) *types.Record {
	t.Helper()
	rec, err := e.Create(context.Background(), "force", map[string]any{
		"name":     name,
		"position": map[string]any{"lat": 1, "lon": 2},
	}, "alice")
	require.NoError(t, err)
	return rec
}

func TestCreateGet(t *testing.T) {
	e := newEngine(t, Options{})
	ctx := context.Background()

	rec, err := e.Create(ctx, "target", map[string]any{
		"targetType": "vehicle",
		"location":   map[string]any{"lat": 34.05, "lon": -118.25},
	}, "alice")
	require.NoError(t, err)

	assert.Equal(t, int64(1), rec.Version)
	assert.Equal(t, "target", rec.Type)
	assert.Equal(t, "pending", rec.Fields["status"])
	assert.Equal(t, "alice", rec.Fields["createdBy"])
	assert.Equal(t, "alice", rec.Fields["updatedBy"])
	assert.True(t, rec.CreatedAt.Equal(rec.UpdatedAt))

	parsed, err := uuid.Parse(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())

	got, err := e.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
	assert.True(t, got.CreatedAt.Equal(got.UpdatedAt))
	assert.Equal(t, rec.Fields, got.Fields)

	got.Fields["status"] = "engaged"
	again, err := e.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "pending", again.Fields["status"], "returned records are copies")
}

func TestCreateRejectsInvalidTarget(t *testing.T) {
	e := newEngine(t, Options{})
	sub := e.Subscribe()

	_, err := e.Create(context.Background(), "target", map[string]any{"targetType": "drone"}, "alice")
	require.ErrorIs(t, err, types.ErrValidation)

	var verrs types.ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.True(t, verrs.Has("targetType", types.CodeInvalidEnum))
	assert.True(t, verrs.Has("location", types.CodeMissingField))

	assert.Equal(t, uint64(1), sub.Position())
	assert.Equal(t, uint64(0), e.Feed().LastSeq(), "rejected writes emit no events")
}

func TestCreateUnknownType(t *testing.T) {
	e := newEngine(t, Options{})
	_, err := e.Create(context.Background(), "drone", map[string]any{}, "alice")
	assert.ErrorIs(t, err, types.ErrUnknownType)
}

func TestCreateIgnoresCallerMetadata(t *testing.T) {
	tests := []struct {
		name          string
		actor         string
		wantCreatedBy any
	}{
		{"actor wins", "alice", "alice"},
		{"no actor drops supplied value", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEngine(t, Options{})
			rec, err := e.Create(context.Background(), "force", map[string]any{
				"_id":        "forged",
				"version":    42,
				"created_at": "2000-01-01T00:00:00Z",
				"updated_at": "2000-01-01T00:00:00Z",
				"createdBy":  "mallory",
				"updatedBy":  "mallory",
				"name":       "1st Platoon",
				"position":   map[string]any{"lat": 1, "lon": 2},
			}, tt.actor)
			require.NoError(t, err)

			assert.NotEqual(t, "forged", rec.ID)
			assert.Equal(t, int64(1), rec.Version)
			assert.True(t, rec.CreatedAt.After(time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)))
			assert.Equal(t, tt.wantCreatedBy, rec.Fields["createdBy"])
			assert.Equal(t, tt.wantCreatedBy, rec.Fields["updatedBy"])
			assert.NotContains(t, rec.Fields, "_id")
			assert.NotContains(t, rec.Fields, "version")
		})
	}
}

func TestUpdateStaleVersionThenRetry(t *testing.T) {
	e := newEngine(t, Options{})
	ctx := context.Background()
	rec := createForce(t, e, "1st Platoon")

	moved, err := e.Update(ctx, rec.ID, map[string]any{"callsign": "Bulldog"}, 1, "alice")
	require.NoError(t, err)
	require.Equal(t, int64(2), moved.Version)

	patch := map[string]any{"position": map[string]any{"lat": 10, "lon": 20}}
	_, err = e.Update(ctx, rec.ID, patch, 1, "bob")
	require.ErrorIs(t, err, types.ErrVersionConflict)
	var vc *types.VersionConflictError
	require.True(t, errors.As(err, &vc))
	assert.Equal(t, int64(1), vc.Expected)
	assert.Equal(t, int64(2), vc.Actual)

	current, err := e.Get(ctx, rec.ID)
	require.NoError(t, err)
	updated, err := e.Update(ctx, rec.ID, patch, current.Version, "bob")
	require.NoError(t, err)

	assert.Equal(t, current.Version+1, updated.Version)
	assert.Equal(t, map[string]any{"lat": 10.0, "lon": 20.0}, updated.Fields["position"])
	assert.Equal(t, "Bulldog", updated.Fields["callsign"], "absent patch fields are retained")
	assert.Equal(t, "alice", updated.Fields["createdBy"])
	assert.Equal(t, "bob", updated.Fields["updatedBy"])
	assert.True(t, updated.CreatedAt.Equal(rec.CreatedAt))
	assert.False(t, updated.UpdatedAt.Before(updated.CreatedAt))
}

func TestConcurrentUpdatesOneWinner(t *testing.T) {
	e := newEngine(t, Options{})
	rec := createForce(t, e, "1st Platoon")

	const racers = 16
	var wins, conflicts atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, err := e.Update(context.Background(), rec.ID, map[string]any{
				"position": map[string]any{"lat": float64(i), "lon": 0},
			}, 1, "racer")
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, types.ErrVersionConflict):
				conflicts.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(racers-1), conflicts.Load())

	got, err := e.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
}

// gatedBackend holds the first Replace until release is closed.
type gatedBackend struct {
	*memstore.MemStore
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedBackend) Replace(ctx context.Context, rec *types.Record, expectedVersion int64) error {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.entered)
		<-g.release
	}
	return g.MemStore.Replace(ctx, rec, expectedVersion)
}

func TestSameIDLoserDoesNotWait(t *testing.T) {
	reg := schema.NewRegistry(zap.NewNop())
	require.NoError(t, reg.Load(testDocs()))
	backend := &gatedBackend{
		MemStore: memstore.New(),
		entered:  make(chan struct{}),
		release:  make(chan struct{}),
	}
	release := sync.OnceFunc(func() { close(backend.release) })
	e := New(reg, backend, Options{}, zap.NewNop())
	t.Cleanup(func() {
		release()
		e.Close()
	})

	ctx := context.Background()
	rec := createForce(t, e, "1st Platoon")

	winner := make(chan error, 1)
	go func() {
		_, err := e.Update(ctx, rec.ID, map[string]any{"callsign": "Bulldog"}, 1, "alice")
		winner <- err
	}()
	<-backend.entered

	loser := make(chan error, 1)
	go func() {
		_, err := e.Update(ctx, rec.ID, map[string]any{"callsign": "Viper"}, 1, "bob")
		loser <- err
	}()

	select {
	case err := <-loser:
		assert.ErrorIs(t, err, types.ErrVersionConflict)
	case <-time.After(2 * time.Second):
		t.Fatal("same-id update waited on the in-flight commit")
	}

	release()
	require.NoError(t, <-winner)

	got, err := e.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, "Bulldog", got.Fields["callsign"])
}

func TestCommitLocksDroppedAfterCommit(t *testing.T) {
	e := newEngine(t, Options{DeletePolicy: types.DeleteTombstone})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		rec := createForce(t, e, "1st Platoon")
		_, err := e.Update(ctx, rec.ID, map[string]any{"callsign": "Bulldog"}, 1, "bob")
		require.NoError(t, err)
		require.NoError(t, e.Delete(ctx, rec.ID))
	}

	n := 0
	e.commitLocks.Range(func(_, _ any) bool {
		n++
		return true
	})
	assert.Zero(t, n)
}

func TestAnonymousUpdateClearsUpdatedBy(t *testing.T) {
	e := newEngine(t, Options{})
	ctx := context.Background()
	rec := createForce(t, e, "1st Platoon")
	require.Equal(t, "alice", rec.Fields["updatedBy"])

	anon, err := e.Update(ctx, rec.ID, map[string]any{"callsign": "Bulldog"}, 1, "")
	require.NoError(t, err)
	assert.NotContains(t, anon.Fields, "updatedBy")
	assert.Equal(t, "alice", anon.Fields["createdBy"])

	named, err := e.Update(ctx, rec.ID, map[string]any{"callsign": "Viper"}, anon.Version, "carol")
	require.NoError(t, err)
	assert.Equal(t, "carol", named.Fields["updatedBy"])
	assert.Equal(t, "alice", named.Fields["createdBy"])
}

func TestUpdateInvalidMergeLeavesRecord(t *testing.T) {
	e := newEngine(t, Options{})
	ctx := context.Background()
	rec := createForce(t, e, "1st Platoon")

	_, err := e.Update(ctx, rec.ID, map[string]any{"position": map[string]any{"lat": 1}}, 1, "bob")
	var verrs types.ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.True(t, verrs.Has("position.lon", types.CodeMissingField))

	got, err := e.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec, got)
}

func TestUpdateIDImmutable(t *testing.T) {
	e := newEngine(t, Options{})
	ctx := context.Background()
	rec := createForce(t, e, "1st Platoon")

	_, err := e.Update(ctx, rec.ID, map[string]any{"_id": "other"}, 1, "bob")
	assert.ErrorIs(t, err, types.ErrImmutableID)

	_, err = e.Update(ctx, rec.ID, map[string]any{"_id": 7}, 1, "bob")
	assert.ErrorIs(t, err, types.ErrImmutableID)

	updated, err := e.Update(ctx, rec.ID, map[string]any{"_id": rec.ID, "version": 99, "callsign": "Bulldog"}, 1, "bob")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, updated.ID)
	assert.Equal(t, int64(2), updated.Version)
}

func TestUpdateNullClearsField(t *testing.T) {
	e := newEngine(t, Options{})
	ctx := context.Background()
	rec := createForce(t, e, "1st Platoon")

	rec, err := e.Update(ctx, rec.ID, map[string]any{"callsign": "Bulldog"}, rec.Version, "bob")
	require.NoError(t, err)

	rec, err = e.Update(ctx, rec.ID, map[string]any{"callsign": nil}, rec.Version, "bob")
	require.NoError(t, err)
	assert.NotContains(t, rec.Fields, "callsign")

	_, err = e.Update(ctx, rec.ID, map[string]any{"name": nil}, rec.Version, "bob")
	var verrs types.ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.True(t, verrs.Has("name", types.CodeMissingField))
}

func TestUpdateMissingRecord(t *testing.T) {
	e := newEngine(t, Options{})
	_, err := e.Update(context.Background(), "nope", map[string]any{}, 1, "bob")
	assert.ErrorIs(t, err, types.ErrNotFound)

	_, err = e.Update(context.Background(), "", map[string]any{}, 1, "bob")
	assert.ErrorIs(t, err, types.ErrInvalidID)
}

func TestDeletePolicies(t *testing.T) {
	for _, policy := range []string{types.DeleteTombstone, types.DeleteHard} {
		t.Run(policy, func(t *testing.T) {
			e := newEngine(t, Options{DeletePolicy: policy})
			ctx := context.Background()
			rec := createForce(t, e, "1st Platoon")
			keep := createForce(t, e, "2nd Platoon")
			sub := e.Feed().SubscribeFrom(e.Feed().LastSeq() + 1)

			require.NoError(t, e.Delete(ctx, rec.ID))

			_, err := e.Get(ctx, rec.ID)
			assert.ErrorIs(t, err, types.ErrNotFound)
			assert.ErrorIs(t, e.Delete(ctx, rec.ID), types.ErrNotFound)
			_, err = e.Update(ctx, rec.ID, map[string]any{}, 2, "bob")
			assert.ErrorIs(t, err, types.ErrNotFound)

			var ids []string
			for r, err := range e.List(ctx, "force", nil) {
				require.NoError(t, err)
				ids = append(ids, r.ID)
			}
			assert.Equal(t, []string{keep.ID}, ids)

			ev, err := sub.Next(ctx)
			require.NoError(t, err)
			assert.Equal(t, types.EventDeleted, ev.Type)
			assert.Equal(t, rec.ID, ev.ID)
			assert.Equal(t, int64(2), ev.Version)
		})
	}
}

func TestDeleteAfterConcurrentUpdate(t *testing.T) {
	e := newEngine(t, Options{})
	ctx := context.Background()
	rec := createForce(t, e, "1st Platoon")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				cur, err := e.Get(ctx, rec.ID)
				if err != nil {
					return
				}
				_, err = e.Update(ctx, rec.ID, map[string]any{"callsign": "x"}, cur.Version, "bob")
				if err != nil && !errors.Is(err, types.ErrVersionConflict) && !errors.Is(err, types.ErrNotFound) {
					t.Errorf("unexpected error: %v", err)
					return
				}
			}
		}()
	}

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, e.Delete(ctx, rec.ID))
	wg.Wait()

	_, err := e.Get(ctx, rec.ID)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestList(t *testing.T) {
	e := newEngine(t, Options{})
	ctx := context.Background()
	createForce(t, e, "Alpha")
	createForce(t, e, "Bravo")
	_, err := e.Create(ctx, "target", map[string]any{
		"targetType": "smoke",
		"location":   map[string]any{"lat": 0, "lon": 0},
	}, "")
	require.NoError(t, err)

	collect := func(seq iter.Seq2[*types.Record, error]) []string {
		var names []string
		for r, err := range seq {
			require.NoError(t, err)
			names = append(names, r.Fields["name"].(string))
		}
		return names
	}

	all := e.List(ctx, "force", nil)
	assert.Equal(t, []string{"Alpha", "Bravo"}, collect(all))

	bravo := e.List(ctx, "force", types.MatchFields(map[string]any{"name": "Bravo"}))
	assert.Equal(t, []string{"Bravo"}, collect(bravo))

	onePosition := e.List(ctx, "force", types.MatchFields(map[string]any{"position.lat": 1}))
	assert.Len(t, collect(onePosition), 2)

	// The sequence is restartable and sees later commits.
	createForce(t, e, "Charlie")
	assert.Equal(t, []string{"Alpha", "Bravo", "Charlie"}, collect(all))

	// Early break stops iteration.
	n := 0
	for range e.List(ctx, "force", nil) {
		n++
		break
	}
	assert.Equal(t, 1, n)

	for _, err := range e.List(ctx, "drone", nil) {
		assert.ErrorIs(t, err, types.ErrUnknownType)
	}
}

func TestFeedOrderPerRecord(t *testing.T) {
	e := newEngine(t, Options{})
	ctx := context.Background()
	sub := e.Subscribe()

	rec := createForce(t, e, "1st Platoon")
	rec, err := e.Update(ctx, rec.ID, map[string]any{"callsign": "Bulldog"}, rec.Version, "bob")
	require.NoError(t, err)
	require.NoError(t, e.Delete(ctx, rec.ID))

	want := []struct {
		typ     types.EventType
		version int64
		actor   string
	}{
		{types.EventCreated, 1, "alice"},
		{types.EventUpdated, 2, "bob"},
		{types.EventDeleted, 3, ""},
	}
	for i, w := range want {
		ev, err := sub.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(i+1), ev.Seq)
		assert.Equal(t, w.typ, ev.Type)
		assert.Equal(t, w.version, ev.Version)
		assert.Equal(t, w.actor, ev.Actor)
		assert.Equal(t, "force", ev.EntityType)
		assert.Equal(t, rec.ID, ev.ID)
	}
}

func TestTimestampsMonotonic(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	var calls atomic.Int64
	clock := func() time.Time {
		// Each reading is one minute earlier than the last.
		return base.Add(-time.Duration(calls.Add(1)) * time.Minute)
	}
	e := newEngine(t, Options{Clock: clock})
	ctx := context.Background()

	rec := createForce(t, e, "1st Platoon")
	updated, err := e.Update(ctx, rec.ID, map[string]any{"callsign": "Bulldog"}, 1, "bob")
	require.NoError(t, err)

	assert.False(t, updated.UpdatedAt.Before(rec.UpdatedAt))
	assert.False(t, updated.UpdatedAt.Before(updated.CreatedAt))
}

func TestCancelledContextWritesNothing(t *testing.T) {
	e := newEngine(t, Options{})
	rec := createForce(t, e, "1st Platoon")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Create(ctx, "force", map[string]any{"name": "x", "position": map[string]any{"lat": 1, "lon": 2}}, "a")
	assert.ErrorIs(t, err, context.Canceled)
	_, err = e.Update(ctx, rec.ID, map[string]any{"callsign": "x"}, 1, "a")
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, e.Delete(ctx, rec.ID), context.Canceled)

	got, err := e.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)

	n := 0
	for range e.List(context.Background(), "force", nil) {
		n++
	}
	assert.Equal(t, 1, n)
	assert.Equal(t, uint64(1), e.Feed().LastSeq())
}

func TestReloadSchemas(t *testing.T) {
	e := newEngine(t, Options{})
	ctx := context.Background()
	rec := createForce(t, e, "1st Platoon")

	require.NoError(t, e.ReloadSchemas(testDocs()[:1]))

	_, err := e.Update(ctx, rec.ID, map[string]any{"callsign": "x"}, 1, "bob")
	assert.ErrorIs(t, err, types.ErrUnknownType)

	got, err := e.Get(ctx, rec.ID)
	require.NoError(t, err, "records outlive their schema")
	assert.Equal(t, int64(1), got.Version)

	err = e.ReloadSchemas([]schema.Document{{"type": "broken"}})
	assert.ErrorIs(t, err, types.ErrSchema)
	_, err = e.Registry().Resolve("target")
	assert.NoError(t, err, "failed reload keeps the active set")
}

func TestGeoBoundsOption(t *testing.T) {
	e := newEngine(t, Options{GeoBounds: true})
	_, err := e.Create(context.Background(), "force", map[string]any{
		"name":     "lost",
		"position": map[string]any{"lat": 120, "lon": 0},
	}, "alice")
	var verrs types.ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.True(t, verrs.Has("position.lat", types.CodeOutOfRange))
}

func TestHistoryUnsupportedAndClose(t *testing.T) {
	e := newEngine(t, Options{})
	ctx := context.Background()
	rec := createForce(t, e, "1st Platoon")

	_, err := e.History(ctx, rec.ID)
	assert.ErrorIs(t, err, types.ErrHistoryUnsupported)

	require.NoError(t, e.Close())
	require.NoError(t, e.Close())
	_, err = e.Get(ctx, rec.ID)
	assert.ErrorIs(t, err, types.ErrStoreClosed)
}
