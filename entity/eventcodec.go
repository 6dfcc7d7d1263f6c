package entity

import (
	"encoding/json"
	"fmt"

	"eve.evalgo.org/entityrt/patch"
	"eve.evalgo.org/entityrt/serde"
)

// wireSegment is one patch.Op path segment on the wire. Exactly one of S or
// I is set; a plain encoding/json round trip of []interface{} loses the
// string-vs-int distinction (JSON numbers always decode back as float64), so
// path segments need this explicit tag instead.
type wireSegment struct {
	S *string `json:"s,omitempty"`
	I *int    `json:"i,omitempty"`
}

type wireOp struct {
	Kind  patch.Kind      `json:"kind"`
	Path  []wireSegment   `json:"path"`
	Value json.RawMessage `json:"value,omitempty"`
}

// eventRecord is the shape committed to store.Store as one event's Data:
// the schema version the producing Definition was at, and the patch that
// advances state from the prior version to this one.
type eventRecord struct {
	SchemaVersion int      `json:"schemaVersion"`
	Ops           []wireOp `json:"ops"`
}

// encodeEvent serializes p as committed event bytes tagged with
// schemaVersion, the Definition's current Evolve version at commit time.
func encodeEvent(schemaVersion int, p patch.Patch) ([]byte, error) {
	ops := make([]wireOp, len(p))
	for i, op := range p {
		segs := make([]wireSegment, len(op.Path))
		for j, seg := range op.Path {
			switch v := seg.(type) {
			case string:
				s := v
				segs[j] = wireSegment{S: &s}
			case int:
				n := v
				segs[j] = wireSegment{I: &n}
			default:
				return nil, fmt.Errorf("entity: unsupported path segment type %T at op %d", seg, i)
			}
		}
		raw, err := serde.Encode(op.Value)
		if err != nil {
			return nil, fmt.Errorf("entity: encoding op %d value: %w", i, err)
		}
		ops[i] = wireOp{Kind: op.Kind, Path: segs, Value: raw}
	}
	return json.Marshal(eventRecord{SchemaVersion: schemaVersion, Ops: ops})
}

// decodeEvent reverses encodeEvent.
func decodeEvent(data []byte) (schemaVersion int, p patch.Patch, err error) {
	var rec eventRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return 0, nil, fmt.Errorf("entity: decoding event record: %w", err)
	}
	p = make(patch.Patch, len(rec.Ops))
	for i, w := range rec.Ops {
		path := make([]interface{}, len(w.Path))
		for j, seg := range w.Path {
			switch {
			case seg.S != nil:
				path[j] = *seg.S
			case seg.I != nil:
				path[j] = *seg.I
			default:
				return 0, nil, fmt.Errorf("entity: op %d path segment %d has neither s nor i set", i, j)
			}
		}
		var value interface{}
		if len(w.Value) > 0 {
			value, err = serde.Decode(w.Value)
			if err != nil {
				return 0, nil, fmt.Errorf("entity: decoding op %d value: %w", i, err)
			}
		}
		p[i] = patch.Op{Kind: w.Kind, Path: path, Value: value}
	}
	return rec.SchemaVersion, p, nil
}

// snapshotRecord is the shape committed to store.Store as a snapshot's
// Data: the owning Definition's name (checked on hydration so a snapshot
// from one entity type is never mistaken for another's), the schema
// version the state is shaped for (seeds currentSchema on hydration), and
// the state itself.
type snapshotRecord struct {
	DefName       string          `json:"defName"`
	SchemaVersion int             `json:"schemaVersion"`
	State         json.RawMessage `json:"state"`
}

// encodeSnapshot serializes state via serde's canonical encoding, tagged
// with defName and the schema version it is shaped for.
func encodeSnapshot(defName string, schemaVersion int, state interface{}) ([]byte, error) {
	raw, err := serde.Encode(state)
	if err != nil {
		return nil, fmt.Errorf("entity: encoding snapshot state: %w", err)
	}
	return json.Marshal(snapshotRecord{DefName: defName, SchemaVersion: schemaVersion, State: raw})
}

// decodeSnapshot reverses encodeSnapshot. Snapshots written before
// schemaVersion was tracked decode it as the zero value; callers treat
// that as schema 1, the only version that could have existed then.
func decodeSnapshot(data []byte) (defName string, schemaVersion int, state interface{}, err error) {
	var rec snapshotRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return "", 0, nil, fmt.Errorf("entity: decoding snapshot record: %w", err)
	}
	state, err = serde.Decode(rec.State)
	if err != nil {
		return "", 0, nil, fmt.Errorf("entity: decoding snapshot state: %w", err)
	}
	if rec.SchemaVersion == 0 {
		rec.SchemaVersion = 1
	}
	return rec.DefName, rec.SchemaVersion, state, nil
}
