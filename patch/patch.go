// Package patch describes structural diffs between two state values of the
// same shape: an ordered sequence of operations that, applied to a prior
// state, yields the state observed after a draft mutation.
//
// The kernel (package kernel) is the only intended producer of patches; it
// observes mutations against a deep clone of the prior state and emits Ops
// that reproduce them (an index-by-index diff, not a minimal one; see
// Diff). A Patch is empty if and only
// if no mutation was observed — that equivalence is the contract the rest of
// the runtime (commit skipping, no-op detection) depends on.
package patch

import (
	"fmt"
	"reflect"
)

// Kind enumerates the structural operations a Patch can contain. The set is
// intentionally small: it is enough to describe any mutation reachable by
// walking the maps and slices of a JSON-shaped value.
type Kind string

const (
	// KindSet replaces the value at Path with Value (map key set, slice
	// index set, or whole-value replacement at the root for Path == nil).
	KindSet Kind = "set"
	// KindDelete removes the map key or slice element at Path.
	KindDelete Kind = "delete"
	// KindInsert inserts a slice element at Path (the final path segment is
	// the target index).
	KindInsert Kind = "insert"
	// KindAppend appends Value to the slice at Path.
	KindAppend Kind = "append"
)

// Op is a single structural operation. Path is a sequence of map keys
// (strings) and/or slice indices (ints) from the root of the state value;
// an empty Path targets the root itself.
type Op struct {
	Kind  Kind
	Path  []interface{}
	Value interface{}
}

// Patch is an ordered list of Ops. The zero value is the empty patch.
type Patch []Op

// IsEmpty reports whether p describes no mutation at all.
func (p Patch) IsEmpty() bool { return len(p) == 0 }

// Apply returns a new value obtained by applying p to state, in order.
// state is never mutated in place; Apply operates on a deep copy so callers
// retain ownership of the value they passed in.
func Apply(state interface{}, p Patch) (interface{}, error) {
	cur := deepCopy(state)
	for i, op := range p {
		var err error
		cur, err = applyOp(cur, op)
		if err != nil {
			return nil, fmt.Errorf("patch: op %d (%s at %v): %w", i, op.Kind, op.Path, err)
		}
	}
	return cur, nil
}

func applyOp(root interface{}, op Op) (interface{}, error) {
	if len(op.Path) == 0 {
		switch op.Kind {
		case KindSet:
			return op.Value, nil
		case KindDelete:
			return nil, nil
		case KindAppend:
			slice, _ := root.([]interface{})
			return append(cloneSlice(slice), op.Value), nil
		default:
			return nil, fmt.Errorf("op kind %s is not valid at the root", op.Kind)
		}
	}
	return setAt(root, op.Path, op)
}

// setAt walks path, creating intermediate maps/slices as needed, and applies
// op at the final segment.
func setAt(node interface{}, path []interface{}, op Op) (interface{}, error) {
	key := path[0]
	rest := path[1:]

	switch k := key.(type) {
	case string:
		m, ok := node.(map[string]interface{})
		if !ok {
			if node == nil {
				m = map[string]interface{}{}
			} else {
				return nil, fmt.Errorf("expected map at key %q, got %T", k, node)
			}
		} else {
			m = cloneMap(m)
		}
		if len(rest) == 0 {
			switch op.Kind {
			case KindSet:
				m[k] = op.Value
			case KindDelete:
				delete(m, k)
			case KindAppend:
				slice, _ := m[k].([]interface{})
				m[k] = append(cloneSlice(slice), op.Value)
			default:
				return nil, fmt.Errorf("op kind %s not valid for map key", op.Kind)
			}
			return m, nil
		}
		child, err := setAt(m[k], rest, op)
		if err != nil {
			return nil, err
		}
		m[k] = child
		return m, nil

	case int:
		s, ok := node.([]interface{})
		if !ok {
			if node == nil {
				s = nil
			} else {
				return nil, fmt.Errorf("expected slice at index %d, got %T", k, node)
			}
		}
		s = cloneSlice(s)
		if len(rest) == 0 {
			switch op.Kind {
			case KindSet:
				for k >= len(s) {
					s = append(s, nil)
				}
				s[k] = op.Value
			case KindDelete:
				if k < 0 || k >= len(s) {
					return nil, fmt.Errorf("index %d out of range (len %d)", k, len(s))
				}
				s = append(s[:k], s[k+1:]...)
			case KindInsert:
				if k < 0 || k > len(s) {
					return nil, fmt.Errorf("index %d out of range for insert (len %d)", k, len(s))
				}
				s = append(s, nil)
				copy(s[k+1:], s[k:])
				s[k] = op.Value
			case KindAppend:
				if k < 0 || k >= len(s) {
					return nil, fmt.Errorf("index %d out of range (len %d)", k, len(s))
				}
				inner, _ := s[k].([]interface{})
				s[k] = append(cloneSlice(inner), op.Value)
			default:
				return nil, fmt.Errorf("op kind %s not valid for slice index", op.Kind)
			}
			return s, nil
		}
		if k < 0 || k >= len(s) {
			return nil, fmt.Errorf("index %d out of range (len %d)", k, len(s))
		}
		child, err := setAt(s[k], rest, op)
		if err != nil {
			return nil, err
		}
		s[k] = child
		return s, nil

	default:
		return nil, fmt.Errorf("unsupported path segment type %T", key)
	}
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneSlice(s []interface{}) []interface{} {
	out := make([]interface{}, len(s))
	copy(out, s)
	return out
}

// deepCopy is a reflection-based fallback used when Apply is given a value
// that has not already gone through serde.Clone. It is intentionally
// conservative: maps, slices, and pointers are copied; everything else is
// returned as-is (Go value semantics already copy it on assignment).
func deepCopy(v interface{}) interface{} {
	if v == nil {
		return nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return v
		}
		out := make(map[string]interface{}, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = deepCopy(iter.Value().Interface())
		}
		return out
	case reflect.Slice:
		out := make([]interface{}, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = deepCopy(rv.Index(i).Interface())
		}
		return out
	default:
		return v
	}
}
