// Tests for schema document compilation: field kinds, enums, defaults,
// formats, nested properties, and the rejection rules.
package schema

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/c2store/pkg/types"
)

func doc(name string, fields map[string]any) Document {
	return Document{"type": name, "description": name + " entity", "fields": fields}
}

func position() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": true,
		"properties": map[string]any{
			"lat": map[string]any{"type": "number", "required": true},
			"lon": map[string]any{"type": "number", "required": true},
		},
	}
}

func TestCompile_ValidDocument(t *testing.T) {
	def, err := Compile(doc("target", map[string]any{
		"targetType": map[string]any{"type": "string", "required": true, "enum": []any{"vehicle", "building"}},
		"location":   position(),
		"status":     map[string]any{"type": "string", "default": "pending"},
		"priority":   map[string]any{"type": "number", "enum": []any{1, 2, 3}},
		"seenAt":     map[string]any{"type": "string", "format": "date-time", "description": "ignored"},
	}))
	require.NoError(t, err)

	assert.Equal(t, "target", def.Name)
	assert.Equal(t, "target entity", def.Description)
	assert.Equal(t, []string{"location", "priority", "seenAt", "status", "targetType"}, def.FieldNames())

	assert.True(t, def.Fields["targetType"].Required)
	assert.Equal(t, []any{"vehicle", "building"}, def.Fields["targetType"].Enum)
	assert.Equal(t, []any{1.0, 2.0, 3.0}, def.Fields["priority"].Enum, "number enums normalize to float64")
	assert.True(t, def.Fields["status"].HasDefault)
	assert.Equal(t, "pending", def.Fields["status"].Default)
	assert.Equal(t, types.FormatDateTime, def.Fields["seenAt"].Format)

	loc := def.Fields["location"]
	require.Equal(t, types.KindObject, loc.Kind)
	assert.Equal(t, []string{"lat", "lon"}, loc.PropertyNames())
	assert.Equal(t, types.KindNumber, loc.Properties["lat"].Kind)
}

func TestCompile_PropertiesShapesNormalize(t *testing.T) {
	props := map[string]any{
		"lat": map[string]any{"type": "number", "required": true},
		"lon": map[string]any{"type": "number", "required": true},
	}

	asMapping, err := Compile(doc("a", map[string]any{
		"pos": map[string]any{"type": "object", "properties": props},
	}))
	require.NoError(t, err)

	asSequence, err := Compile(doc("a", map[string]any{
		"pos": map[string]any{"type": "object", "properties": []any{props}},
	}))
	require.NoError(t, err)

	assert.Equal(t, asMapping.Fields, asSequence.Fields)
}

func TestCompile_DefaultValueAlias(t *testing.T) {
	def, err := Compile(doc("a", map[string]any{
		"mode": map[string]any{"type": "string", "defaultValue": "auto"},
		"both": map[string]any{"type": "number", "default": 3, "defaultValue": 3.0},
	}))
	require.NoError(t, err)
	assert.Equal(t, "auto", def.Fields["mode"].Default)
	assert.Equal(t, 3.0, def.Fields["both"].Default)
}

func TestCompile_Rejections(t *testing.T) {
	tests := []struct {
		name  string
		doc   Document
		field string
	}{
		{
			name: "missing type",
			doc:  Document{"fields": map[string]any{}},
		},
		{
			name: "missing fields",
			doc:  Document{"type": "a"},
		},
		{
			name:  "unknown kind",
			doc:   doc("a", map[string]any{"x": map[string]any{"type": "integer"}}),
			field: "x",
		},
		{
			name:  "object without properties",
			doc:   doc("a", map[string]any{"pos": map[string]any{"type": "object"}}),
			field: "pos",
		},
		{
			name: "properties sequence with two elements",
			doc: doc("a", map[string]any{"pos": map[string]any{
				"type":       "object",
				"properties": []any{map[string]any{}, map[string]any{}},
			}}),
			field: "pos",
		},
		{
			name:  "properties on string",
			doc:   doc("a", map[string]any{"x": map[string]any{"type": "string", "properties": map[string]any{}}}),
			field: "x",
		},
		{
			name:  "enum on boolean",
			doc:   doc("a", map[string]any{"x": map[string]any{"type": "boolean", "enum": []any{true}}}),
			field: "x",
		},
		{
			name:  "empty enum",
			doc:   doc("a", map[string]any{"x": map[string]any{"type": "string", "enum": []any{}}}),
			field: "x",
		},
		{
			name:  "enum value of wrong kind",
			doc:   doc("a", map[string]any{"x": map[string]any{"type": "number", "enum": []any{1, "two"}}}),
			field: "x",
		},
		{
			name:  "default outside enum",
			doc:   doc("a", map[string]any{"x": map[string]any{"type": "string", "enum": []any{"a"}, "default": "b"}}),
			field: "x",
		},
		{
			name:  "default of wrong kind",
			doc:   doc("a", map[string]any{"x": map[string]any{"type": "boolean", "default": "yes"}}),
			field: "x",
		},
		{
			name:  "conflicting default aliases",
			doc:   doc("a", map[string]any{"x": map[string]any{"type": "string", "default": "a", "defaultValue": "b"}}),
			field: "x",
		},
		{
			name:  "unknown format",
			doc:   doc("a", map[string]any{"x": map[string]any{"type": "string", "format": "email"}}),
			field: "x",
		},
		{
			name:  "format on number",
			doc:   doc("a", map[string]any{"x": map[string]any{"type": "number", "format": "date-time"}}),
			field: "x",
		},
		{
			name:  "reserved field name",
			doc:   doc("a", map[string]any{"version": map[string]any{"type": "number"}}),
			field: "version",
		},
		{
			name:  "audit field not a string",
			doc:   doc("a", map[string]any{"createdBy": map[string]any{"type": "number"}}),
			field: "createdBy",
		},
		{
			name: "nested unknown kind",
			doc: doc("a", map[string]any{"pos": map[string]any{
				"type":       "object",
				"properties": map[string]any{"lat": map[string]any{"type": "float"}},
			}}),
			field: "pos.lat",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.doc)
			require.Error(t, err)
			assert.ErrorIs(t, err, types.ErrSchema)

			var se *types.SchemaError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, tt.field, se.Field)
		})
	}
}
