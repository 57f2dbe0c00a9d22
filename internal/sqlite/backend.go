// Package sqlite implements the SQLite record backend. SQLite is the query
// engine; the JSONL files in the data directory are the source of truth.
// records.jsonl holds the current state of every record and is rewritten
// atomically, history.jsonl is an append-only log of committed versions.
// On Attach the database is rebuilt from the JSONL files.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/mesh-intelligence/c2store/pkg/types"
)

// dbFile is the SQLite database name inside the data directory.
const dbFile = "c2store.db"

// Backend implements types.Backend and types.HistoryReader.
type Backend struct {
	mu       sync.RWMutex
	attached bool
	dataDir  string
	db       *sql.DB

	persistMu sync.Mutex // serializes JSONL writes

	// Sync strategy state.
	syncStrategy  string
	batchSize     int
	batchInterval time.Duration
	pending       []pendingWrite
	batchTimer    *time.Timer
	batchMu       sync.Mutex // protects pending and batchTimer

	logger *zap.Logger
}

// pendingWrite is a committed change whose JSONL persistence was deferred.
type pendingWrite struct {
	id        string
	operation types.EventType
	history   json.RawMessage
}

var (
	_ types.Backend       = (*Backend)(nil)
	_ types.HistoryReader = (*Backend)(nil)
)

// NewBackend returns a detached backend. Call Attach before use.
func NewBackend(logger *zap.Logger) *Backend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backend{logger: logger.Named("sqlite")}
}

// ErrAlreadyAttached is returned by Attach on an attached backend.
var ErrAlreadyAttached = errors.New("sqlite backend already attached")

// Attach creates the data directory and JSONL files if needed, then builds
// a fresh database from the JSONL files.
func (b *Backend) Attach(config types.Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.attached {
		return ErrAlreadyAttached
	}
	if err := config.Validate(); err != nil {
		return err
	}

	dataDir := config.DataDir
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}
	for _, name := range []string{recordsJSONL, historyJSONL} {
		if err := ensureJSONL(filepath.Join(dataDir, name)); err != nil {
			return err
		}
	}

	dbPath := filepath.Join(dataDir, dbFile)
	// The database is a cache of the JSONL files; always start fresh.
	_ = os.Remove(dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	// One connection keeps writers from tripping over SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	for _, ddl := range append(append([]string{}, schemaDDL...), indexDDL...) {
		if _, err := db.Exec(ddl); err != nil {
			db.Close()
			return fmt.Errorf("creating schema: %w", err)
		}
	}

	if err := loadAllJSONL(db, dataDir, b.logger); err != nil {
		db.Close()
		return fmt.Errorf("load JSONL: %w", err)
	}

	b.db = db
	b.dataDir = dataDir
	b.syncStrategy = config.SQLiteConfig.GetSyncStrategy()
	b.batchSize = config.SQLiteConfig.GetBatchSize()
	b.batchInterval = config.SQLiteConfig.GetBatchInterval()
	b.pending = nil
	b.attached = true

	if b.syncStrategy == types.SyncBatch && b.batchInterval > 0 {
		b.startBatchTimer()
	}

	b.logger.Info("attached",
		zap.String("data_dir", dataDir),
		zap.String("sync_strategy", b.syncStrategy),
	)
	return nil
}

// Detach flushes deferred writes and closes the database. It is idempotent.
func (b *Backend) Detach() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return nil
	}

	b.stopBatchTimer()
	if err := b.flushPending(); err != nil {
		return fmt.Errorf("flush pending writes: %w", err)
	}

	if err := b.db.Close(); err != nil {
		return err
	}
	b.db = nil
	b.attached = false
	return nil
}

// Close implements types.Backend.
func (b *Backend) Close() error {
	return b.Detach()
}

// Insert implements types.Backend.
func (b *Backend) Insert(ctx context.Context, rec *types.Record) error {
	if rec.ID == "" {
		return types.ErrInvalidID
	}
	return b.write(ctx, rec.ID, types.EventCreated, rec, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, "SELECT 1 FROM entities WHERE id = ?", rec.ID).Scan(&exists)
		if err == nil {
			return types.ErrDuplicateID
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("checking id: %w", err)
		}

		fields, err := encodeFields(rec.Fields)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO entities (id, entity_type, version, fields, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			rec.ID, rec.Type, rec.Version, fields, formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt))
		if err != nil {
			return fmt.Errorf("inserting entity: %w", err)
		}
		return nil
	})
}

// Load implements types.Backend.
func (b *Backend) Load(ctx context.Context, id string) (*types.Record, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.attached {
		return nil, types.ErrStoreClosed
	}
	row := b.db.QueryRowContext(ctx, `SELECT id, entity_type, version, fields, created_at, updated_at, deleted_at
		FROM entities WHERE id = ? AND deleted_at IS NULL`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrNotFound
	}
	return rec, err
}

// Replace implements types.Backend with a conditional UPDATE on version.
func (b *Backend) Replace(ctx context.Context, rec *types.Record, expectedVersion int64) error {
	return b.write(ctx, rec.ID, types.EventUpdated, rec, func(tx *sql.Tx) error {
		fields, err := encodeFields(rec.Fields)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `UPDATE entities SET version = ?, fields = ?, updated_at = ?
			WHERE id = ? AND version = ? AND deleted_at IS NULL`,
			rec.Version, fields, formatTime(rec.UpdatedAt), rec.ID, expectedVersion)
		if err != nil {
			return fmt.Errorf("updating entity: %w", err)
		}
		return checkAffected(ctx, tx, res, rec.ID, expectedVersion)
	})
}

// Remove implements types.Backend. A tombstone keeps the row with
// deleted_at set; a hard delete drops it. History keeps both.
func (b *Backend) Remove(ctx context.Context, tomb *types.Record, expectedVersion int64, hard bool) error {
	return b.write(ctx, tomb.ID, types.EventDeleted, tomb, func(tx *sql.Tx) error {
		var (
			res sql.Result
			err error
		)
		if hard {
			res, err = tx.ExecContext(ctx, `DELETE FROM entities
				WHERE id = ? AND version = ? AND deleted_at IS NULL`, tomb.ID, expectedVersion)
		} else {
			deletedAt := tomb.UpdatedAt
			if tomb.DeletedAt != nil {
				deletedAt = *tomb.DeletedAt
			}
			res, err = tx.ExecContext(ctx, `UPDATE entities SET version = ?, updated_at = ?, deleted_at = ?
				WHERE id = ? AND version = ? AND deleted_at IS NULL`,
				tomb.Version, formatTime(tomb.UpdatedAt), formatTime(deletedAt), tomb.ID, expectedVersion)
		}
		if err != nil {
			return fmt.Errorf("deleting entity: %w", err)
		}
		return checkAffected(ctx, tx, res, tomb.ID, expectedVersion)
	})
}

// checkAffected turns a conditional write that matched no row into
// ErrNotFound or a *types.VersionConflictError.
func checkAffected(ctx context.Context, tx *sql.Tx, res sql.Result, id string, expectedVersion int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	var current int64
	err = tx.QueryRowContext(ctx, "SELECT version FROM entities WHERE id = ? AND deleted_at IS NULL", id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return types.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("reading current version: %w", err)
	}
	return &types.VersionConflictError{ID: id, Expected: expectedVersion, Actual: current}
}

// Scan implements types.Backend.
func (b *Backend) Scan(ctx context.Context, entityType string) ([]*types.Record, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.attached {
		return nil, types.ErrStoreClosed
	}
	rows, err := b.db.QueryContext(ctx, `SELECT id, entity_type, version, fields, created_at, updated_at, deleted_at
		FROM entities WHERE entity_type = ? AND deleted_at IS NULL ORDER BY created_at, id`, entityType)
	if err != nil {
		return nil, fmt.Errorf("scanning entities: %w", err)
	}
	defer rows.Close()

	var out []*types.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// History implements types.HistoryReader.
func (b *Backend) History(ctx context.Context, id string) ([]*types.HistoryEntry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.attached {
		return nil, types.ErrStoreClosed
	}
	rows, err := b.db.QueryContext(ctx, `SELECT history_id, id, version, operation, fields, created_at
		FROM entity_history WHERE id = ? ORDER BY version`, id)
	if err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}
	defer rows.Close()

	var out []*types.HistoryEntry
	for rows.Next() {
		var (
			h                 types.HistoryEntry
			op, fields, ctime string
		)
		if err := rows.Scan(&h.HistoryID, &h.ID, &h.Version, &op, &fields, &ctime); err != nil {
			return nil, fmt.Errorf("scanning history: %w", err)
		}
		h.Operation = types.EventType(op)
		if h.Fields, err = decodeFields(fields); err != nil {
			return nil, err
		}
		if h.CreatedAt, err = parseTime(ctime); err != nil {
			return nil, err
		}
		out = append(out, &h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, types.ErrNotFound
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*types.Record, error) {
	var (
		rec                      types.Record
		fields, created, updated string
		deleted                  sql.NullString
	)
	if err := row.Scan(&rec.ID, &rec.Type, &rec.Version, &fields, &created, &updated, &deleted); err != nil {
		return nil, err
	}
	var err error
	if rec.Fields, err = decodeFields(fields); err != nil {
		return nil, err
	}
	if rec.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if rec.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	if deleted.Valid {
		t, err := parseTime(deleted.String)
		if err != nil {
			return nil, err
		}
		rec.DeletedAt = &t
	}
	return &rec, nil
}

// write runs apply and a history insert in one transaction, then persists
// the change to JSONL according to the sync strategy.
func (b *Backend) write(ctx context.Context, id string, op types.EventType, rec *types.Record, apply func(tx *sql.Tx) error) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.attached {
		return types.ErrStoreClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	entry := &types.HistoryEntry{
		HistoryID: newHistoryID(),
		ID:        id,
		Version:   rec.Version,
		Operation: op,
		Fields:    rec.Fields,
		CreatedAt: rec.UpdatedAt,
	}
	line, err := dehydrateHistory(entry)
	if err != nil {
		return err
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := apply(tx); err != nil {
		return err
	}
	fields, err := encodeFields(entry.Fields)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO entity_history (history_id, id, version, operation, fields, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		entry.HistoryID, entry.ID, entry.Version, string(entry.Operation), fields, formatTime(entry.CreatedAt)); err != nil {
		return fmt.Errorf("inserting history: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing: %w", err)
	}

	b.queueWrite(pendingWrite{id: id, operation: op, history: line})
	if b.shouldPersistImmediately() {
		// The commit stands even if JSONL persistence fails; failed writes
		// stay queued and are retried on the next flush.
		if err := b.flushPending(); err != nil {
			b.logger.Error("persisting JSONL", zap.String("id", id), zap.Error(err))
		}
	}
	return nil
}

func newHistoryID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// persist rewrites records.jsonl from the database and appends the history
// lines of writes. The caller holds b.mu.
func (b *Backend) persist(writes []pendingWrite) error {
	b.persistMu.Lock()
	defer b.persistMu.Unlock()

	if err := b.persistRecordsJSONL(); err != nil {
		return err
	}
	lines := make([]json.RawMessage, 0, len(writes))
	for _, w := range writes {
		lines = append(lines, w.history)
	}
	return appendJSONL(filepath.Join(b.dataDir, historyJSONL), lines)
}

func (b *Backend) persistRecordsJSONL() error {
	rows, err := b.db.Query(`SELECT id, entity_type, version, fields, created_at, updated_at, deleted_at
		FROM entities ORDER BY created_at, id`)
	if err != nil {
		return fmt.Errorf("reading entities for JSONL: %w", err)
	}
	defer rows.Close()

	var records []json.RawMessage
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return fmt.Errorf("scanning entity for JSONL: %w", err)
		}
		line, err := dehydrateRecord(rec)
		if err != nil {
			return err
		}
		records = append(records, line)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	return writeJSONL(filepath.Join(b.dataDir, recordsJSONL), records)
}

// Sync strategy methods.

// shouldPersistImmediately reports whether JSONL is written on every commit.
func (b *Backend) shouldPersistImmediately() bool {
	return b.syncStrategy == types.SyncImmediate || b.syncStrategy == ""
}

// queueWrite defers persistence of a committed write. Under the batch
// strategy the queue is flushed once it reaches batchSize.
func (b *Backend) queueWrite(pw pendingWrite) {
	b.batchMu.Lock()
	defer b.batchMu.Unlock()

	b.pending = append(b.pending, pw)
	if b.syncStrategy == types.SyncBatch && b.batchSize > 0 && len(b.pending) >= b.batchSize {
		if err := b.flushPendingBatchLocked(); err != nil {
			b.logger.Error("batch flush", zap.Error(err))
		}
	}
}

// flushPending persists every queued write. The caller holds b.mu.
func (b *Backend) flushPending() error {
	b.batchMu.Lock()
	defer b.batchMu.Unlock()
	return b.flushPendingBatchLocked()
}

// flushPendingBatchLocked persists the queue. The caller holds b.batchMu.
func (b *Backend) flushPendingBatchLocked() error {
	if len(b.pending) == 0 {
		return nil
	}
	if err := b.persist(b.pending); err != nil {
		return fmt.Errorf("flush %d writes: %w", len(b.pending), err)
	}
	b.logger.Debug("flushed pending writes", zap.Int("count", len(b.pending)))
	b.pending = nil
	return nil
}

// PendingWrites returns the number of writes awaiting JSONL persistence.
func (b *Backend) PendingWrites() int {
	b.batchMu.Lock()
	defer b.batchMu.Unlock()
	return len(b.pending)
}

// startBatchTimer starts periodic flushes for the batch strategy.
func (b *Backend) startBatchTimer() {
	b.batchMu.Lock()
	defer b.batchMu.Unlock()

	if b.batchTimer != nil {
		return
	}

	b.batchTimer = time.AfterFunc(b.batchInterval, func() {
		b.mu.RLock()
		defer b.mu.RUnlock()

		if !b.attached {
			return
		}
		if err := b.flushPending(); err != nil {
			b.logger.Error("interval flush", zap.Error(err))
		}

		b.batchMu.Lock()
		if b.batchTimer != nil {
			b.batchTimer.Reset(b.batchInterval)
		}
		b.batchMu.Unlock()
	})
}

// stopBatchTimer stops the batch timer if running.
func (b *Backend) stopBatchTimer() {
	b.batchMu.Lock()
	defer b.batchMu.Unlock()

	if b.batchTimer != nil {
		b.batchTimer.Stop()
		b.batchTimer = nil
	}
}
