// Package validate checks entity payloads against compiled schema
// definitions. Validation is pure: it reads only its arguments and is safe
// for concurrent use.
package validate

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/mesh-intelligence/c2store/pkg/types"
)

// Options tunes rules that are not part of the schema document itself.
type Options struct {
	// GeoBounds enables range checks on position objects, any object field
	// whose properties are exactly lat and lon, both numbers.
	GeoBounds bool
}

// Validator applies schema rules to payloads.
type Validator struct {
	opts Options
}

// New returns a Validator with the given options.
func New(opts Options) *Validator {
	return &Validator{opts: opts}
}

// Validate checks payload against def and returns the normalized field map:
// defaults substituted, numbers as float64, nested maps copied. On failure
// it returns types.ValidationErrors holding every violation found.
func (v *Validator) Validate(def *types.SchemaDefinition, payload map[string]any) (map[string]any, error) {
	if def == nil {
		return nil, types.ErrUnknownType
	}
	var errs types.ValidationErrors
	out := v.fields(def.Fields, payload, "", &errs)
	if len(errs) > 0 {
		return nil, errs
	}
	return out, nil
}

// Value checks one present value against spec and returns its normalized
// form. Path prefixes every reported error.
func (v *Validator) Value(spec *types.FieldSpec, path string, value any) (any, types.ValidationErrors) {
	var errs types.ValidationErrors
	out, _ := v.value(spec, path, value, &errs)
	return out, errs
}

func (v *Validator) fields(specs map[string]*types.FieldSpec, payload map[string]any, prefix string, errs *types.ValidationErrors) map[string]any {
	out := make(map[string]any, len(specs))

	names := make([]string, 0, len(specs))
	for name := range specs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		spec := specs[name]
		path := join(prefix, name)
		raw, present := payload[name]
		if !present {
			switch {
			case spec.HasDefault:
				out[name] = types.CloneValue(spec.Default)
			case spec.Required:
				*errs = append(*errs, &types.FieldError{Path: path, Code: types.CodeMissingField, Expected: spec.Kind})
			}
			continue
		}
		if normalized, ok := v.value(spec, path, raw, errs); ok {
			out[name] = normalized
		}
	}

	var unknown []string
	for name := range payload {
		if _, ok := specs[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	sort.Strings(unknown)
	for _, name := range unknown {
		*errs = append(*errs, &types.FieldError{Path: join(prefix, name), Code: types.CodeUnknownField})
	}

	return out
}

func (v *Validator) value(spec *types.FieldSpec, path string, raw any, errs *types.ValidationErrors) (any, bool) {
	mismatch := func() (any, bool) {
		*errs = append(*errs, &types.FieldError{
			Path:     path,
			Code:     types.CodeTypeMismatch,
			Expected: spec.Kind,
			Actual:   KindOf(raw),
		})
		return nil, false
	}

	if raw == nil {
		return mismatch()
	}

	switch spec.Kind {
	case types.KindString:
		s, ok := raw.(string)
		if !ok {
			return mismatch()
		}
		if !inEnum(spec.Enum, s) {
			*errs = append(*errs, enumError(path, spec, s))
			return nil, false
		}
		if spec.Format != "" && !validFormat(spec.Format, s) {
			*errs = append(*errs, &types.FieldError{Path: path, Code: types.CodeInvalidFormat, Expected: spec.Format, Actual: s})
			return nil, false
		}
		return s, true

	case types.KindNumber:
		n, ok := types.ToNumber(raw)
		if !ok || math.IsNaN(n) || math.IsInf(n, 0) {
			return mismatch()
		}
		if !inEnum(spec.Enum, n) {
			*errs = append(*errs, enumError(path, spec, n))
			return nil, false
		}
		return n, true

	case types.KindBoolean:
		b, ok := raw.(bool)
		if !ok {
			return mismatch()
		}
		return b, true

	case types.KindObject:
		m, ok := raw.(map[string]any)
		if !ok {
			return mismatch()
		}
		before := len(*errs)
		out := v.fields(spec.Properties, m, path, errs)
		if v.opts.GeoBounds && len(*errs) == before && isPosition(spec) {
			v.checkPosition(path, out, errs)
		}
		if len(*errs) > before {
			return nil, false
		}
		return out, true
	}

	return mismatch()
}

func (v *Validator) checkPosition(path string, pos map[string]any, errs *types.ValidationErrors) {
	bounds := []struct {
		name  string
		limit float64
	}{
		{"lat", 90},
		{"lon", 180},
	}
	for _, b := range bounds {
		n, ok := pos[b.name].(float64)
		if !ok {
			continue
		}
		if n < -b.limit || n > b.limit {
			*errs = append(*errs, &types.FieldError{
				Path:     join(path, b.name),
				Code:     types.CodeOutOfRange,
				Expected: fmt.Sprintf("[%g, %g]", -b.limit, b.limit),
				Actual:   n,
			})
		}
	}
}

// isPosition reports whether spec is the {lat, lon} position shape.
func isPosition(spec *types.FieldSpec) bool {
	if len(spec.Properties) != 2 {
		return false
	}
	lat, lon := spec.Properties["lat"], spec.Properties["lon"]
	return lat != nil && lon != nil && lat.Kind == types.KindNumber && lon.Kind == types.KindNumber
}

func inEnum(enum []any, v any) bool {
	if len(enum) == 0 {
		return true
	}
	for _, allowed := range enum {
		if allowed == v {
			return true
		}
	}
	return false
}

func enumError(path string, spec *types.FieldSpec, actual any) *types.FieldError {
	allowed := make([]any, len(spec.Enum))
	copy(allowed, spec.Enum)
	return &types.FieldError{Path: path, Code: types.CodeInvalidEnum, Expected: spec.Kind, Actual: actual, Allowed: allowed}
}

// ISO-8601 layouts accepted for date-time fields.
var dateTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

func validFormat(format, s string) bool {
	switch format {
	case types.FormatDateTime:
		for _, layout := range dateTimeLayouts {
			if _, err := time.Parse(layout, s); err == nil {
				return true
			}
		}
		return false
	case types.FormatDate:
		_, err := time.Parse(time.DateOnly, s)
		return err == nil
	}
	return false
}

// KindOf names the JSON kind of a decoded value for error reporting.
func KindOf(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return types.KindString
	case bool:
		return types.KindBoolean
	case map[string]any:
		return types.KindObject
	case []any:
		return "array"
	}
	if _, ok := types.ToNumber(v); ok {
		return types.KindNumber
	}
	return fmt.Sprintf("%T", v)
}

func join(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}
