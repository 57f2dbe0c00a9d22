package types

import (
	"reflect"
	"strings"
	"time"
)

// Record is a persisted entity plus its engine-managed metadata.
type Record struct {
	ID        string         `json:"_id"`        // UUID v7, assigned on create, never changed.
	Type      string         `json:"entityType"` // Name of the schema the fields conform to.
	Version   int64          `json:"version"`    // 1 on create, +1 per committed mutation.
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Fields    map[string]any `json:"fields"`               // Validated, normalized field values.
	DeletedAt *time.Time     `json:"deleted_at,omitempty"` // Tombstone marker.
}

// Live reports whether the record is visible to Get and List.
func (r *Record) Live() bool {
	return r.DeletedAt == nil
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.Fields = CloneFields(r.Fields)
	if r.DeletedAt != nil {
		t := *r.DeletedAt
		c.DeletedAt = &t
	}
	return &c
}

// Document flattens the record into a single field-value mapping with the
// metadata keys used by transport layers.
func (r *Record) Document() map[string]any {
	doc := CloneFields(r.Fields)
	doc[FieldID] = r.ID
	doc[FieldVersion] = r.Version
	doc[FieldCreatedAt] = r.CreatedAt.UTC().Format(time.RFC3339Nano)
	doc[FieldUpdatedAt] = r.UpdatedAt.UTC().Format(time.RFC3339Nano)
	return doc
}

// Field returns the value at a dotted path such as "location.lat".
func (r *Record) Field(path string) (any, bool) {
	return LookupPath(r.Fields, path)
}

// LookupPath resolves a dotted path through nested maps.
func LookupPath(fields map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var cur any = fields
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// CloneFields deep-copies a field map. Nested maps and slices are copied;
// scalars are shared.
func CloneFields(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = CloneValue(v)
	}
	return out
}

// CloneValue deep-copies maps and slices inside v.
func CloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneFields(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = CloneValue(e)
		}
		return out
	default:
		return v
	}
}

// Predicate selects records during List. A nil Predicate matches every record.
type Predicate func(*Record) bool

// MatchFields returns a Predicate that requires every filter entry to equal
// the record value at that dotted path. Numbers compare by value regardless
// of their Go type.
func MatchFields(filter map[string]any) Predicate {
	return func(r *Record) bool {
		for path, want := range filter {
			got, ok := r.Field(path)
			if !ok || !ValuesEqual(got, want) {
				return false
			}
		}
		return true
	}
}

// ValuesEqual compares two field values, treating all numeric types as float64.
func ValuesEqual(a, b any) bool {
	if fa, ok := ToNumber(a); ok {
		fb, ok := ToNumber(b)
		return ok && fa == fb
	}
	return reflect.DeepEqual(a, b)
}
