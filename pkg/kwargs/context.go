// Package kwargs holds the shared configuration context that steps inherit
// when they are constructed.
//
// A Context is a versioned, immutable-by-convention mapping. Steps take a
// snapshot of the current Context at construction time; later updates create
// a new Context with a higher version and never modify a snapshot that a step
// already holds.
package kwargs

import (
	"sort"
)

// Context is a versioned key/value mapping shared between steps.
type Context struct {
	Version int            `json:"version"`
	Values  map[string]any `json:"values"`
}

// New returns a version zero Context holding a deep copy of values.
func New(values map[string]any) Context {
	c := Context{Values: map[string]any{}}
	MergeInto(c.Values, values)
	return c
}

// Clone returns a deep copy of the context.
func (c Context) Clone() Context {
	return Context{
		Version: c.Version,
		Values:  cloneMap(c.Values),
	}
}

// Get returns the value stored under key.
func (c Context) Get(key string) (any, bool) {
	if c.Values == nil {
		return nil, false
	}
	v, ok := c.Values[key]
	return v, ok
}

// Keys returns the top level keys in sorted order.
func (c Context) Keys() []string {
	keys := make([]string, 0, len(c.Values))
	for k := range c.Values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Merge returns a new Context with updates applied recursively and the
// version incremented. A nil value in updates deletes the key; deleting a
// key that does not exist is a no-op. The receiver is left untouched.
func (c Context) Merge(updates map[string]any) Context {
	out := c.Clone()
	if out.Values == nil {
		out.Values = map[string]any{}
	}
	MergeInto(out.Values, updates)
	out.Version++
	return out
}

// MergeInto recursively merges updates into dst and returns dst.
//
// Nested maps are merged key by key. A nil update value removes the key from
// dst. Any other value replaces what was there before.
func MergeInto(dst, updates map[string]any) map[string]any {
	for key, value := range updates {
		if value == nil {
			delete(dst, key)
			continue
		}

		sub, isMap := asMap(value)
		if !isMap {
			dst[key] = cloneValue(value)
			continue
		}

		existing, ok := dst[key].(map[string]any)
		if !ok {
			existing = map[string]any{}
			dst[key] = existing
		}
		MergeInto(existing, sub)
	}
	return dst
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[string]string:
		out := make(map[string]any, len(m))
		for k, s := range m {
			out[k] = s
		}
		return out, true
	default:
		return nil, false
	}
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case map[string]string:
		out := make(map[string]any, len(t))
		for k, s := range t {
			out[k] = s
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	case []int:
		return append([]int(nil), t...)
	default:
		return v
	}
}
