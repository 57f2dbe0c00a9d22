package types

import "sort"

// Field kinds determine what values a field accepts.
const (
	KindString  = "string"
	KindNumber  = "number"
	KindBoolean = "boolean"
	KindObject  = "object"
)

var validKinds = map[string]bool{
	KindString:  true,
	KindNumber:  true,
	KindBoolean: true,
	KindObject:  true,
}

// IsValidKind reports whether k is a recognized field kind.
func IsValidKind(k string) bool {
	return validKinds[k]
}

// Recognized string formats.
const (
	FormatDateTime = "date-time" // ISO-8601 timestamp
	FormatDate     = "date"      // ISO-8601 calendar date
)

// IsValidFormat reports whether f is a recognized format.
func IsValidFormat(f string) bool {
	return f == FormatDateTime || f == FormatDate
}

// Engine-managed field names. Callers never set these directly.
const (
	FieldID        = "_id"
	FieldVersion   = "version"
	FieldCreatedAt = "created_at"
	FieldUpdatedAt = "updated_at"
	FieldCreatedBy = "createdBy"
	FieldUpdatedBy = "updatedBy"
)

// ManagedFields lists every engine-managed field name.
var ManagedFields = []string{
	FieldID,
	FieldVersion,
	FieldCreatedAt,
	FieldUpdatedAt,
	FieldCreatedBy,
	FieldUpdatedBy,
}

// IsReservedField reports whether name is record metadata that a schema may
// not declare as a field. createdBy and updatedBy are managed but declarable.
func IsReservedField(name string) bool {
	switch name {
	case FieldID, FieldVersion, FieldCreatedAt, FieldUpdatedAt:
		return true
	}
	return false
}

// FieldSpec is the contract for one field of an entity type.
type FieldSpec struct {
	Kind       string                // One of the Kind constants.
	Required   bool                  // Absent values are rejected unless HasDefault.
	Default    any                   // Substituted when the field is absent.
	HasDefault bool                  // Distinguishes a nil default from no default.
	Enum       []any                 // Closed set of allowed values; string and number only.
	Format     string                // Optional string format (date-time, date).
	Properties map[string]*FieldSpec // Nested fields; object kind only.
}

// SchemaDefinition describes one entity type. It is immutable once compiled.
type SchemaDefinition struct {
	Name        string
	Description string
	Fields      map[string]*FieldSpec
}

// FieldNames returns the declared field names in lexical order.
func (d *SchemaDefinition) FieldNames() []string {
	return sortedKeys(d.Fields)
}

// Declares reports whether the schema declares a top-level field.
func (d *SchemaDefinition) Declares(name string) bool {
	_, ok := d.Fields[name]
	return ok
}

// PropertyNames returns the nested field names in lexical order.
func (f *FieldSpec) PropertyNames() []string {
	return sortedKeys(f.Properties)
}

func sortedKeys(m map[string]*FieldSpec) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
