package types

import "strings"

// Lookup resolves a field or dotted field path ("nutrition.calories")
// against the record. It reports false when any segment is missing or an
// intermediate value is not an object.
func (r Record) Lookup(path string) (any, bool) {
	if r == nil || path == "" {
		return nil, false
	}
	if v, ok := r[path]; ok {
		return v, true
	}
	if !strings.Contains(path, ".") {
		return nil, false
	}

	var current any = map[string]any(r)
	for _, segment := range strings.Split(path, ".") {
		obj, ok := asObject(current)
		if !ok {
			return nil, false
		}
		current, ok = obj[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// Set assigns a value at a field or dotted path, creating intermediate
// objects as needed.
func (r Record) Set(path string, value any) {
	segments := strings.Split(path, ".")
	obj := map[string]any(r)
	for _, segment := range segments[:len(segments)-1] {
		next, ok := asObject(obj[segment])
		if !ok {
			next = make(map[string]any)
			obj[segment] = next
		}
		obj = next
	}
	obj[segments[len(segments)-1]] = value
}

// Remove deletes the value at a field or dotted path. It reports whether a
// value was removed.
func (r Record) Remove(path string) bool {
	if _, ok := r[path]; ok {
		delete(r, path)
		return true
	}
	segments := strings.Split(path, ".")
	obj := map[string]any(r)
	for _, segment := range segments[:len(segments)-1] {
		next, ok := asObject(obj[segment])
		if !ok {
			return false
		}
		obj = next
	}
	last := segments[len(segments)-1]
	if _, ok := obj[last]; !ok {
		return false
	}
	delete(obj, last)
	return true
}

func asObject(v any) (map[string]any, bool) {
	switch obj := v.(type) {
	case map[string]any:
		return obj, true
	case Record:
		return map[string]any(obj), true
	default:
		return nil, false
	}
}

// IsScalar reports whether v can participate in an index: nil, bool,
// string or a number.
func IsScalar(v any) bool {
	switch NormalizeValue(v).(type) {
	case nil, bool, string, float64:
		return true
	default:
		return false
	}
}
