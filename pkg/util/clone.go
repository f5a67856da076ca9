package util

// DeepClone returns a structurally independent copy of v.
// Maps and slices are copied recursively; scalars are returned as-is.
// Only the types produced by JSON/YAML decoding are handled
// (map[string]any, []any, strings, numbers, bools, nil); other values
// are returned unchanged.
func DeepClone(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = DeepClone(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = DeepClone(item)
		}
		return out
	case []string:
		out := make([]string, len(val))
		copy(out, val)
		return out
	case map[string][]string:
		out := make(map[string][]string, len(val))
		for k, item := range val {
			cp := make([]string, len(item))
			copy(cp, item)
			out[k] = cp
		}
		return out
	default:
		return v
	}
}

// CloneMap is DeepClone specialized for string-keyed maps.
// Returns an empty map when m is nil.
func CloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = DeepClone(v)
	}
	return out
}

// Merge returns a new map containing defaults overlaid with overrides.
// Nested maps are merged recursively; everything else in overrides wins.
// Neither input is mutated.
func Merge(defaults, overrides map[string]any) map[string]any {
	out := CloneMap(defaults)
	for k, v := range overrides {
		if sub, ok := v.(map[string]any); ok {
			if base, ok := out[k].(map[string]any); ok {
				out[k] = Merge(base, sub)
				continue
			}
		}
		out[k] = DeepClone(v)
	}
	return out
}

// Defined reports whether v holds an actual value (not nil).
func Defined(v any) bool {
	return v != nil
}

// IsNull reports whether v is nil.
func IsNull(v any) bool {
	return v == nil
}
