package store

import (
	"github.com/okian/ghostcoop/internal/domain/model"
)

// Snapshot is an immutable view of one node.
type Snapshot struct {
	path  string
	value any
}

// NewSnapshot wraps a JSON-shaped value, normalizing it first.
func NewSnapshot(path string, value any) (Snapshot, error) {
	v, err := normalize(value)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{path: joinPath(splitPath(path)), value: v}, nil
}

// Path returns the node path.
func (s Snapshot) Path() string { return s.path }

// Key returns the last path segment.
func (s Snapshot) Key() string {
	segs := splitPath(s.path)
	if len(segs) == 0 {
		return ""
	}
	return segs[len(segs)-1]
}

// Exists reports whether the node holds a value.
func (s Snapshot) Exists() bool { return s.value != nil }

// Value returns a copy of the node value.
func (s Snapshot) Value() any { return deepCopy(s.value) }

// Decode unmarshals the node value into out.
func (s Snapshot) Decode(out any) error {
	return model.DecodeValue(s.value, out)
}

// Child returns the snapshot at a relative path.
func (s Snapshot) Child(rel string) Snapshot {
	segs := splitPath(rel)
	return Snapshot{path: joinPath(append(splitPath(s.path), segs...)), value: lookup(s.value, segs)}
}

// Children returns the direct children ordered by key.
func (s Snapshot) Children() []Snapshot {
	keys := childKeys(s.value)
	out := make([]Snapshot, 0, len(keys))
	for _, k := range keys {
		out = append(out, s.Child(k))
	}
	return out
}

// NumChildren returns the number of direct children.
func (s Snapshot) NumChildren() int {
	m, _ := s.value.(map[string]any)
	return len(m)
}

// ChildKeys returns the direct child keys in ascending order.
func (s Snapshot) ChildKeys() []string {
	return childKeys(s.value)
}

// Equal reports whether both snapshots hold the same value.
func (s Snapshot) Equal(o Snapshot) bool {
	return sameValue(s.value, o.value)
}
