package store

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

const forbiddenPathChars = ".#$[]"

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

func joinPath(segs []string) string {
	return strings.Join(segs, "/")
}

// parsePath splits and validates a slash path. The empty path is the root.
func parsePath(path string) ([]string, error) {
	segs := splitPath(path)
	for _, s := range segs {
		if s == "" {
			return nil, fmt.Errorf("%w: empty segment in %q", ErrInvalidPath, path)
		}
		if strings.ContainsAny(s, forbiddenPathChars) {
			return nil, fmt.Errorf("%w: segment %q contains one of %q", ErrInvalidPath, s, forbiddenPathChars)
		}
	}
	return segs, nil
}

func hasPrefix(segs, prefix []string) bool {
	if len(prefix) > len(segs) {
		return false
	}
	for i := range prefix {
		if segs[i] != prefix[i] {
			return false
		}
	}
	return true
}

// related reports whether a write at w can change the node at p.
func related(p, w []string) bool {
	return hasPrefix(p, w) || hasPrefix(w, p)
}

func lookup(root any, segs []string) any {
	cur := root
	for _, s := range segs {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[s]
	}
	return cur
}

// setIn returns a copy of node with value stored at segs. Maps along the
// path are copied; untouched siblings are shared with the previous tree,
// which is never mutated. A nil value deletes, and maps left empty are pruned.
func setIn(node any, segs []string, value any) any {
	if len(segs) == 0 {
		return value
	}
	if value == nil && lookup(node, segs) == nil {
		return node
	}
	m, _ := node.(map[string]any)
	child := setIn(m[segs[0]], segs[1:], value)
	out := make(map[string]any, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	if child == nil {
		delete(out, segs[0])
	} else {
		out[segs[0]] = child
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// normalize converts v into the store's JSON-shaped representation.
func normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidValue, err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidValue, err)
	}
	return prune(out), nil
}

func prune(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, c := range t {
			if p := prune(c); p == nil {
				delete(t, k)
			} else {
				t[k] = p
			}
		}
		if len(t) == 0 {
			return nil
		}
		return t
	case []any:
		if len(t) == 0 {
			return nil
		}
		for i := range t {
			t[i] = prune(t[i])
		}
		return t
	default:
		return v
	}
}

func sameValue(a, b any) bool {
	ma, okA := a.(map[string]any)
	mb, okB := b.(map[string]any)
	if okA && okB && reflect.ValueOf(ma).UnsafePointer() == reflect.ValueOf(mb).UnsafePointer() {
		return true
	}
	return reflect.DeepEqual(a, b)
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, c := range t {
			out[k] = deepCopy(c)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, c := range t {
			out[i] = deepCopy(c)
		}
		return out
	default:
		return v
	}
}

func childKeys(v any) []string {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func unionKeys(a, b any) []string {
	seen := make(map[string]struct{})
	var keys []string
	for _, k := range append(childKeys(a), childKeys(b)...) {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
