// JSON record structures for the JSONL data files.
package sqlite

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mesh-intelligence/c2store/pkg/types"
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// recordJSON is one line of records.jsonl.
type recordJSON struct {
	ID         string         `json:"_id"`
	EntityType string         `json:"entityType"`
	Version    int64          `json:"version"`
	Fields     map[string]any `json:"fields"`
	CreatedAt  string         `json:"created_at"`
	UpdatedAt  string         `json:"updated_at"`
	DeletedAt  *string        `json:"deleted_at,omitempty"`
}

// historyJSON is one line of history.jsonl.
type historyJSON struct {
	HistoryID string         `json:"history_id"`
	ID        string         `json:"id"`
	Version   int64          `json:"version"`
	Operation string         `json:"operation"`
	Fields    map[string]any `json:"fields"`
	CreatedAt string         `json:"created_at"`
}

func dehydrateRecord(r *types.Record) (json.RawMessage, error) {
	rj := recordJSON{
		ID:         r.ID,
		EntityType: r.Type,
		Version:    r.Version,
		Fields:     r.Fields,
		CreatedAt:  formatTime(r.CreatedAt),
		UpdatedAt:  formatTime(r.UpdatedAt),
	}
	if r.DeletedAt != nil {
		s := formatTime(*r.DeletedAt)
		rj.DeletedAt = &s
	}
	if rj.Fields == nil {
		rj.Fields = map[string]any{}
	}
	b, err := json.Marshal(rj)
	if err != nil {
		return nil, fmt.Errorf("marshaling record %s: %w", r.ID, err)
	}
	return b, nil
}

func hydrateRecord(raw json.RawMessage) (*types.Record, error) {
	var rj recordJSON
	if err := json.Unmarshal(raw, &rj); err != nil {
		return nil, fmt.Errorf("unmarshaling record: %w", err)
	}
	if rj.ID == "" || rj.EntityType == "" || rj.Version < 1 {
		return nil, fmt.Errorf("record missing id, entityType, or version")
	}
	rec := &types.Record{
		ID:      rj.ID,
		Type:    rj.EntityType,
		Version: rj.Version,
		Fields:  types.CloneFields(rj.Fields),
	}
	var err error
	if rec.CreatedAt, err = parseTime(rj.CreatedAt); err != nil {
		return nil, fmt.Errorf("record %s created_at: %w", rj.ID, err)
	}
	if rec.UpdatedAt, err = parseTime(rj.UpdatedAt); err != nil {
		return nil, fmt.Errorf("record %s updated_at: %w", rj.ID, err)
	}
	if rj.DeletedAt != nil {
		t, err := parseTime(*rj.DeletedAt)
		if err != nil {
			return nil, fmt.Errorf("record %s deleted_at: %w", rj.ID, err)
		}
		rec.DeletedAt = &t
	}
	return rec, nil
}

func dehydrateHistory(h *types.HistoryEntry) (json.RawMessage, error) {
	hj := historyJSON{
		HistoryID: h.HistoryID,
		ID:        h.ID,
		Version:   h.Version,
		Operation: string(h.Operation),
		Fields:    h.Fields,
		CreatedAt: formatTime(h.CreatedAt),
	}
	if hj.Fields == nil {
		hj.Fields = map[string]any{}
	}
	b, err := json.Marshal(hj)
	if err != nil {
		return nil, fmt.Errorf("marshaling history %s: %w", h.HistoryID, err)
	}
	return b, nil
}

func hydrateHistory(raw json.RawMessage) (*types.HistoryEntry, error) {
	var hj historyJSON
	if err := json.Unmarshal(raw, &hj); err != nil {
		return nil, fmt.Errorf("unmarshaling history: %w", err)
	}
	if hj.HistoryID == "" || hj.ID == "" {
		return nil, fmt.Errorf("history entry missing history_id or id")
	}
	created, err := parseTime(hj.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("history %s created_at: %w", hj.HistoryID, err)
	}
	return &types.HistoryEntry{
		HistoryID: hj.HistoryID,
		ID:        hj.ID,
		Version:   hj.Version,
		Operation: types.EventType(hj.Operation),
		Fields:    types.CloneFields(hj.Fields),
		CreatedAt: created,
	}, nil
}

// encodeFields serializes a field map for the fields column.
func encodeFields(fields map[string]any) (string, error) {
	if fields == nil {
		fields = map[string]any{}
	}
	b, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("marshaling fields: %w", err)
	}
	return string(b), nil
}

func decodeFields(s string) (map[string]any, error) {
	fields := map[string]any{}
	if s == "" {
		return fields, nil
	}
	if err := json.Unmarshal([]byte(s), &fields); err != nil {
		return nil, fmt.Errorf("unmarshaling fields: %w", err)
	}
	return fields, nil
}
