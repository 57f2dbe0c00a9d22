package schema

import (
	"fmt"
	"sort"

	"github.com/mesh-intelligence/c2store/internal/validate"
	"github.com/mesh-intelligence/c2store/pkg/types"
)

// Document is one raw schema document as decoded from JSON or YAML.
type Document map[string]any

// Field spec keys recognized in schema documents.
const (
	keyType         = "type"
	keyDescription  = "description"
	keyFields       = "fields"
	keyRequired     = "required"
	keyDefault      = "default"
	keyDefaultValue = "defaultValue"
	keyEnum         = "enum"
	keyFormat       = "format"
	keyProperties   = "properties"
)

// Compile turns a raw document into an immutable SchemaDefinition. It
// returns a *types.SchemaError describing the first problem found.
func Compile(doc Document) (*types.SchemaDefinition, error) {
	name, ok := doc[keyType].(string)
	if !ok || name == "" {
		return nil, &types.SchemaError{Reason: "document requires a non-empty string type"}
	}

	def := &types.SchemaDefinition{Name: name}
	if raw, ok := doc[keyDescription]; ok && raw != nil {
		desc, ok := raw.(string)
		if !ok {
			return nil, &types.SchemaError{Type: name, Reason: "description must be a string"}
		}
		def.Description = desc
	}

	rawFields, ok := asMap(doc[keyFields])
	if !ok {
		return nil, &types.SchemaError{Type: name, Reason: "document requires a fields mapping"}
	}

	def.Fields = make(map[string]*types.FieldSpec, len(rawFields))
	for _, fieldName := range sortedNames(rawFields) {
		if types.IsReservedField(fieldName) {
			return nil, &types.SchemaError{Type: name, Field: fieldName, Reason: "field name is reserved for record metadata"}
		}
		spec, err := compileField(name, fieldName, rawFields[fieldName])
		if err != nil {
			return nil, err
		}
		if (fieldName == types.FieldCreatedBy || fieldName == types.FieldUpdatedBy) && spec.Kind != types.KindString {
			return nil, &types.SchemaError{Type: name, Field: fieldName, Reason: "audit field must be of kind string"}
		}
		def.Fields[fieldName] = spec
	}
	return def, nil
}

func compileField(typeName, path string, raw any) (*types.FieldSpec, error) {
	fail := func(format string, args ...any) error {
		return &types.SchemaError{Type: typeName, Field: path, Reason: fmt.Sprintf(format, args...)}
	}

	m, ok := asMap(raw)
	if !ok {
		return nil, fail("field spec must be a mapping")
	}

	kind, _ := m[keyType].(string)
	if !types.IsValidKind(kind) {
		return nil, fail("unrecognized field kind %v", m[keyType])
	}
	spec := &types.FieldSpec{Kind: kind}

	if r, ok := m[keyRequired]; ok && r != nil {
		b, ok := r.(bool)
		if !ok {
			return nil, fail("required must be a boolean")
		}
		spec.Required = b
	}

	if f, ok := m[keyFormat]; ok && f != nil {
		format, ok := f.(string)
		if !ok || !types.IsValidFormat(format) {
			return nil, fail("unrecognized format %v", f)
		}
		if kind != types.KindString {
			return nil, fail("format applies to string fields only")
		}
		spec.Format = format
	}

	if e, ok := m[keyEnum]; ok && e != nil {
		enum, err := compileEnum(kind, e)
		if err != nil {
			return nil, fail("%s", err)
		}
		spec.Enum = enum
	}

	rawProps, hasProps := m[keyProperties]
	switch {
	case kind == types.KindObject:
		props, ok := normalizeProperties(rawProps)
		if !ok {
			return nil, fail("object field requires a properties mapping")
		}
		spec.Properties = make(map[string]*types.FieldSpec, len(props))
		for _, sub := range sortedNames(props) {
			subSpec, err := compileField(typeName, path+"."+sub, props[sub])
			if err != nil {
				return nil, err
			}
			spec.Properties[sub] = subSpec
		}
	case hasProps && rawProps != nil:
		return nil, fail("properties are only allowed on object fields")
	}

	def, hasDef := m[keyDefault]
	alt, hasAlt := m[keyDefaultValue]
	if hasDef && hasAlt && !types.ValuesEqual(def, alt) {
		return nil, fail("default and defaultValue disagree")
	}
	if !hasDef && hasAlt {
		def, hasDef = alt, true
	}
	if hasDef {
		normalized, errs := validate.New(validate.Options{}).Value(spec, path, def)
		if len(errs) > 0 {
			return nil, fail("default does not satisfy the field: %s", errs.Error())
		}
		spec.Default = normalized
		spec.HasDefault = true
	}

	return spec, nil
}

func compileEnum(kind string, raw any) ([]any, error) {
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("enum must be a list")
	}
	if kind != types.KindString && kind != types.KindNumber {
		return nil, fmt.Errorf("enum applies to string and number fields only")
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("enum must not be empty")
	}
	out := make([]any, len(list))
	for i, v := range list {
		switch kind {
		case types.KindString:
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("enum value %v is not a string", v)
			}
			out[i] = s
		case types.KindNumber:
			n, ok := types.ToNumber(v)
			if !ok {
				return nil, fmt.Errorf("enum value %v is not a number", v)
			}
			out[i] = n
		}
	}
	return out, nil
}

// normalizeProperties accepts either a direct mapping or a sequence whose
// single element is the mapping.
func normalizeProperties(raw any) (map[string]any, bool) {
	if m, ok := asMap(raw); ok {
		return m, true
	}
	list, ok := raw.([]any)
	if !ok || len(list) != 1 {
		return nil, false
	}
	return asMap(list[0])
}

func asMap(raw any) (map[string]any, bool) {
	switch m := raw.(type) {
	case map[string]any:
		return m, true
	case Document:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, v := range m {
			ks, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[ks] = v
		}
		return out, true
	default:
		return nil, false
	}
}

func sortedNames(m map[string]any) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
