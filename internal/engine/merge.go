package engine

import "github.com/mesh-intelligence/c2store/pkg/types"

// stripManaged copies payload without the engine-managed keys.
func stripManaged(payload map[string]any) map[string]any {
	out := types.CloneFields(payload)
	for _, name := range types.ManagedFields {
		delete(out, name)
	}
	return out
}

// mergePatch applies patch on top of a copy of current. A nil patch value
// removes the key.
func mergePatch(current, patch map[string]any) map[string]any {
	merged := types.CloneFields(current)
	for k, v := range patch {
		if v == nil {
			delete(merged, k)
			continue
		}
		merged[k] = v
	}
	return merged
}

// stampActor sets each named audit field the schema declares to actor. An
// empty actor clears them, so a version is never credited to an earlier
// writer.
func stampActor(def *types.SchemaDefinition, fields map[string]any, actor string, names ...string) {
	for _, name := range names {
		if !def.Declares(name) {
			continue
		}
		if actor == "" {
			delete(fields, name)
			continue
		}
		fields[name] = actor
	}
}
