// JSONL loading at attach time.
package sqlite

import (
	"database/sql"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"
)

// loadAllJSONL rebuilds the database from records.jsonl and history.jsonl in
// one transaction: all rows load or the database stays empty. Malformed
// lines and rows that violate constraints are skipped and logged.
func loadAllJSONL(db *sql.DB, dataDir string, logger *zap.Logger) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("beginning load transaction: %w", err)
	}
	defer tx.Rollback()

	loaded, skipped, err := loadRecords(tx, filepath.Join(dataDir, recordsJSONL))
	if err != nil {
		return err
	}
	logLoad(logger, recordsJSONL, loaded, skipped)

	loaded, skipped, err = loadHistory(tx, filepath.Join(dataDir, historyJSONL))
	if err != nil {
		return err
	}
	logLoad(logger, historyJSONL, loaded, skipped)

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing load transaction: %w", err)
	}
	return nil
}

func logLoad(logger *zap.Logger, file string, loaded, skipped int) {
	if skipped > 0 {
		logger.Warn("skipped malformed JSONL lines", zap.String("file", file), zap.Int("skipped", skipped))
	}
	logger.Debug("loaded JSONL", zap.String("file", file), zap.Int("rows", loaded))
}

func loadRecords(tx *sql.Tx, path string) (loaded, skipped int, err error) {
	lines, skipped, err := readJSONL(path)
	if err != nil {
		return 0, 0, err
	}

	stmt, err := tx.Prepare(`INSERT INTO entities (id, entity_type, version, fields, created_at, updated_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, 0, fmt.Errorf("preparing entity insert: %w", err)
	}
	defer stmt.Close()

	for _, line := range lines {
		rec, err := hydrateRecord(line)
		if err != nil {
			skipped++
			continue
		}
		fields, err := encodeFields(rec.Fields)
		if err != nil {
			skipped++
			continue
		}
		var deletedAt sql.NullString
		if rec.DeletedAt != nil {
			deletedAt = sql.NullString{String: formatTime(*rec.DeletedAt), Valid: true}
		}
		if _, err := stmt.Exec(rec.ID, rec.Type, rec.Version, fields,
			formatTime(rec.CreatedAt), formatTime(rec.UpdatedAt), deletedAt); err != nil {
			// Duplicate ids keep the first occurrence.
			skipped++
			continue
		}
		loaded++
	}
	return loaded, skipped, nil
}

func loadHistory(tx *sql.Tx, path string) (loaded, skipped int, err error) {
	lines, skipped, err := readJSONL(path)
	if err != nil {
		return 0, 0, err
	}

	stmt, err := tx.Prepare(`INSERT INTO entity_history (history_id, id, version, operation, fields, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, 0, fmt.Errorf("preparing history insert: %w", err)
	}
	defer stmt.Close()

	for _, line := range lines {
		h, err := hydrateHistory(line)
		if err != nil {
			skipped++
			continue
		}
		fields, err := encodeFields(h.Fields)
		if err != nil {
			skipped++
			continue
		}
		if _, err := stmt.Exec(h.HistoryID, h.ID, h.Version, string(h.Operation), fields, formatTime(h.CreatedAt)); err != nil {
			skipped++
			continue
		}
		loaded++
	}
	return loaded, skipped, nil
}
