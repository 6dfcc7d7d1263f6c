package kernel

import "fmt"

// Draft is the mutable working copy a command/query/stream handler observes
// and mutates. It wraps an independent clone of the kernel's current state
// (see serde.Clone) so handlers can freely rewrite it; ApplyCommand diffs
// the draft's final shape against the pre-handler state to produce a Patch.
//
// Draft intentionally exposes a small, explicit mutation surface (Get/Set/
// Delete/Append by path) rather than letting handlers reach into a raw
// map[string]interface{} — the same way eve/statemanager exposes
// StartOperation/CompleteOperation instead of a bare map, so call sites stay
// readable and mistakes (writing through a stale reference) are harder to
// make.
type Draft struct {
	root interface{}
}

func newDraft(root interface{}) *Draft {
	return &Draft{root: root}
}

// Root returns the entire draft value. Handlers that need bulk access (e.g.
// a query that just returns the whole state) should prefer this to walking
// paths field by field.
func (d *Draft) Root() interface{} { return d.root }

// SetRoot replaces the entire draft value, e.g. for a handler that
// reconstructs state wholesale rather than patching fields.
func (d *Draft) SetRoot(v interface{}) { d.root = v }

// Get returns the value at the given path of map keys, or nil, false if any
// segment is missing.
func (d *Draft) Get(path ...string) (interface{}, bool) {
	cur := d.root
	for _, seg := range path {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Set writes value at the given path, creating intermediate maps as needed.
// Set panics if path is empty; use SetRoot for whole-value replacement.
func (d *Draft) Set(path []string, value interface{}) {
	if len(path) == 0 {
		panic("kernel: Draft.Set requires a non-empty path")
	}
	root, ok := d.root.(map[string]interface{})
	if !ok {
		root = map[string]interface{}{}
	}
	d.root = root
	setPath(root, path, value)
}

// Delete removes the map key at the given path.
func (d *Draft) Delete(path ...string) {
	if len(path) == 0 {
		return
	}
	root, ok := d.root.(map[string]interface{})
	if !ok {
		return
	}
	m := root
	for _, seg := range path[:len(path)-1] {
		child, ok := m[seg].(map[string]interface{})
		if !ok {
			return
		}
		m = child
	}
	delete(m, path[len(path)-1])
}

// Append appends value to the slice found at path (creating an empty slice
// first if the path does not yet exist).
func (d *Draft) Append(path []string, value interface{}) {
	cur, _ := d.Get(path...)
	slice, _ := cur.([]interface{})
	d.Set(path, append(slice, value))
}

func setPath(m map[string]interface{}, path []string, value interface{}) {
	if len(path) == 1 {
		m[path[0]] = value
		return
	}
	child, ok := m[path[0]].(map[string]interface{})
	if !ok {
		child = map[string]interface{}{}
		m[path[0]] = child
	}
	setPath(child, path[1:], value)
}

// MustMap returns the draft's root as a map[string]interface{}, panicking
// with a descriptive message if the root is not shaped that way. Handlers
// for definitions whose state is always object-shaped (the common case) can
// use this to avoid repeated type assertions.
func (d *Draft) MustMap() map[string]interface{} {
	m, ok := d.root.(map[string]interface{})
	if !ok {
		panic(fmt.Sprintf("kernel: draft root is %T, not map[string]interface{}", d.root))
	}
	return m
}
