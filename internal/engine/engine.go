// Package engine implements types.EntityStore on top of the schema registry,
// the validator, a record backend, and the change feed.
//
// Writers to different ids share no locks. Writers to the same id race on
// the stored version: the backend commits with compare-and-swap semantics
// and the loser gets a *types.VersionConflictError. A per-id mutex guards
// the winning commit and its feed append, so events for one id reach the
// feed in version order. The mutex is only tried, never waited on: a writer
// that finds it held has lost the race.
package engine

import (
	"context"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/c2store/internal/feed"
	"github.com/mesh-intelligence/c2store/internal/schema"
	"github.com/mesh-intelligence/c2store/internal/validate"
	"github.com/mesh-intelligence/c2store/pkg/types"
)

// deleteRetryDelay spaces Delete's re-reads while another write to the same
// id is committing.
const deleteRetryDelay = time.Millisecond

// Options configures an Engine. Zero values select the defaults.
type Options struct {
	DeletePolicy  string // types.DeleteTombstone (default) or types.DeleteHard
	GeoBounds     bool   // enable lat/lon range checks
	FeedRetention int    // events kept for late subscribers

	Clock func() time.Time        // defaults to time.Now
	NewID func() (string, error) // defaults to UUID v7
}

// Engine is the schema-driven entity store.
type Engine struct {
	registry  *schema.Registry
	backend   types.Backend
	validator *validate.Validator
	feed      *feed.Feed

	commitLocks sync.Map // id -> *sync.Mutex
	closed      atomic.Bool

	deletePolicy string
	clock        func() time.Time
	newID        func() (string, error)

	logger *zap.Logger
}

var _ types.EntityStore = (*Engine)(nil)

// New returns an Engine over reg and backend. The engine owns backend and
// closes it in Close.
func New(reg *schema.Registry, backend types.Backend, opts Options, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.DeletePolicy == "" {
		opts.DeletePolicy = types.DeleteTombstone
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = newUUID
	}
	return &Engine{
		registry:     reg,
		backend:      backend,
		validator:    validate.New(validate.Options{GeoBounds: opts.GeoBounds}),
		feed:         feed.New(opts.FeedRetention, logger),
		deletePolicy: opts.DeletePolicy,
		clock:        opts.Clock,
		newID:        opts.NewID,
		logger:       logger.Named("engine"),
	}
}

func newUUID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generating UUID v7: %w", err)
	}
	return id.String(), nil
}

// Registry returns the schema registry the engine resolves types against.
func (e *Engine) Registry() *schema.Registry { return e.registry }

// Feed returns the change feed.
func (e *Engine) Feed() *feed.Feed { return e.feed }

// Subscribe returns a feed subscription positioned at the next event.
func (e *Engine) Subscribe() *feed.Subscription { return e.feed.Subscribe() }

// ReloadSchemas atomically replaces the active schema set. Operations
// already in flight finish against the set they started with.
func (e *Engine) ReloadSchemas(docs []schema.Document) error {
	return e.registry.Reload(docs)
}

func (e *Engine) begin(ctx context.Context) error {
	if e.closed.Load() {
		return types.ErrStoreClosed
	}
	return ctx.Err()
}

// Create validates payload and commits it as version 1 of a new record.
func (e *Engine) Create(ctx context.Context, entityType string, payload map[string]any, actor string) (*types.Record, error) {
	if err := e.begin(ctx); err != nil {
		return nil, err
	}

	def, err := e.registry.Snapshot().Resolve(entityType)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", err, entityType)
	}

	fields := stripManaged(payload)
	stampActor(def, fields, actor, types.FieldCreatedBy, types.FieldUpdatedBy)

	normalized, err := e.validator.Validate(def, fields)
	if err != nil {
		return nil, err
	}

	id, err := e.newID()
	if err != nil {
		return nil, err
	}
	now := e.clock().UTC()
	rec := &types.Record{
		ID:        id,
		Type:      def.Name,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
		Fields:    normalized,
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	err = e.commit(id, 0, func() error {
		return e.backend.Insert(ctx, rec)
	}, types.EventCreated, rec, actor)
	if err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

// Get returns the live record with the given id.
func (e *Engine) Get(ctx context.Context, id string) (*types.Record, error) {
	if err := e.begin(ctx); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, types.ErrInvalidID
	}
	return e.backend.Load(ctx, id)
}

// Update merges patch onto the record at expectedVersion and commits the
// re-validated result as the next version. Patch keys overwrite, absent keys
// are kept, and a nil value removes the field before validation.
func (e *Engine) Update(ctx context.Context, id string, patch map[string]any, expectedVersion int64, actor string) (*types.Record, error) {
	if err := e.begin(ctx); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, types.ErrInvalidID
	}

	cur, err := e.backend.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur.Version != expectedVersion {
		e.logger.Info("version conflict",
			zap.String("id", id),
			zap.Int64("expected", expectedVersion),
			zap.Int64("actual", cur.Version),
		)
		return nil, &types.VersionConflictError{ID: id, Expected: expectedVersion, Actual: cur.Version}
	}
	if raw, ok := patch[types.FieldID]; ok {
		if s, isString := raw.(string); !isString || s != id {
			return nil, types.ErrImmutableID
		}
	}

	def, err := e.registry.Snapshot().Resolve(cur.Type)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", err, cur.Type)
	}

	merged := mergePatch(cur.Fields, stripManaged(patch))
	stampActor(def, merged, actor, types.FieldUpdatedBy)

	normalized, err := e.validator.Validate(def, merged)
	if err != nil {
		return nil, err
	}

	next := &types.Record{
		ID:        id,
		Type:      cur.Type,
		Version:   cur.Version + 1,
		CreatedAt: cur.CreatedAt,
		UpdatedAt: e.after(cur.UpdatedAt),
		Fields:    normalized,
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	err = e.commit(id, expectedVersion, func() error {
		return e.backend.Replace(ctx, next, expectedVersion)
	}, types.EventUpdated, next, actor)
	if err != nil {
		return nil, err
	}
	return next.Clone(), nil
}

// Delete hides the record from Get and List. Under the tombstone policy the
// record is kept with DeletedAt set; under the hard policy it is removed.
// Either way the delete commits a new version and emits a deleted event.
func (e *Engine) Delete(ctx context.Context, id string) error {
	if id == "" {
		return types.ErrInvalidID
	}
	hard := e.deletePolicy == types.DeleteHard

	for {
		if err := e.begin(ctx); err != nil {
			return err
		}
		cur, err := e.backend.Load(ctx, id)
		if err != nil {
			return err
		}

		tomb := cur.Clone()
		tomb.Version = cur.Version + 1
		tomb.UpdatedAt = e.after(cur.UpdatedAt)
		deletedAt := tomb.UpdatedAt
		tomb.DeletedAt = &deletedAt

		err = e.commit(id, cur.Version, func() error {
			return e.backend.Remove(ctx, tomb, cur.Version, hard)
		}, types.EventDeleted, tomb, "")
		if types.IsVersionConflict(err) {
			// Another write to id landed or is landing; delete the newer version.
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(deleteRetryDelay):
			}
			continue
		}
		return err
	}
}

// List yields the live records of entityType accepted by pred. Each range
// over the returned sequence scans a fresh snapshot, so the sequence can be
// iterated again to observe later commits.
func (e *Engine) List(ctx context.Context, entityType string, pred types.Predicate) iter.Seq2[*types.Record, error] {
	return func(yield func(*types.Record, error) bool) {
		if err := e.begin(ctx); err != nil {
			yield(nil, err)
			return
		}
		if _, err := e.registry.Snapshot().Resolve(entityType); err != nil {
			yield(nil, fmt.Errorf("%w: %q", err, entityType))
			return
		}

		recs, err := e.backend.Scan(ctx, entityType)
		if err != nil {
			yield(nil, err)
			return
		}
		for _, rec := range recs {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			if pred != nil && !pred(rec) {
				continue
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}

// History returns the committed versions of a record, oldest first, when
// the backend keeps history.
func (e *Engine) History(ctx context.Context, id string) ([]*types.HistoryEntry, error) {
	if err := e.begin(ctx); err != nil {
		return nil, err
	}
	hr, ok := e.backend.(types.HistoryReader)
	if !ok {
		return nil, types.ErrHistoryUnsupported
	}
	return hr.History(ctx, id)
}

// Close stops the feed and closes the backend. It is safe to call twice.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	e.feed.Close()
	return e.backend.Close()
}

// commit runs write under the id's commit lock and, on success, appends the
// matching event before releasing the lock. The lock is only tried: if
// another commit for id is in flight, this one loses the race and fails
// with a *types.VersionConflictError without waiting. The lock entry is
// dropped once the commit finishes.
func (e *Engine) commit(id string, expectedVersion int64, write func() error, evType types.EventType, rec *types.Record, actor string) error {
	mu, ok := e.tryLockID(id)
	if !ok {
		e.logger.Info("version conflict: commit in flight",
			zap.String("id", id),
			zap.Int64("expected", expectedVersion),
		)
		// The in-flight commit is producing the next version.
		return &types.VersionConflictError{ID: id, Expected: expectedVersion, Actual: expectedVersion + 1}
	}
	defer func() {
		e.commitLocks.CompareAndDelete(id, mu)
		mu.Unlock()
	}()

	if err := write(); err != nil {
		if types.IsVersionConflict(err) {
			e.logger.Info("version conflict at commit", zap.String("id", id), zap.Error(err))
		}
		return err
	}

	ev := e.feed.Append(types.Event{
		Type:       evType,
		EntityType: rec.Type,
		ID:         id,
		Version:    rec.Version,
		Timestamp:  rec.UpdatedAt,
		Actor:      actor,
	})
	e.logger.Debug("committed",
		zap.String("op", string(evType)),
		zap.String("type", rec.Type),
		zap.String("id", id),
		zap.Int64("version", rec.Version),
		zap.Uint64("seq", ev.Seq),
	)
	return nil
}

// tryLockID locks the commit mutex for id without blocking. A mutex that
// was dropped from the map between lookup and lock is stale; the lookup is
// repeated so that only the mapped mutex ever guards a commit.
func (e *Engine) tryLockID(id string) (*sync.Mutex, bool) {
	for {
		v, _ := e.commitLocks.LoadOrStore(id, &sync.Mutex{})
		mu := v.(*sync.Mutex)
		if !mu.TryLock() {
			return nil, false
		}
		if cur, ok := e.commitLocks.Load(id); ok && cur == mu {
			return mu, true
		}
		mu.Unlock()
	}
}

// after returns the current time, never earlier than prev.
func (e *Engine) after(prev time.Time) time.Time {
	now := e.clock().UTC()
	if now.Before(prev) {
		return prev
	}
	return now
}
