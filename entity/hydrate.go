package entity

import (
	"context"
	"fmt"

	"eve.evalgo.org/entityrt/patch"
	"eve.evalgo.org/entityrt/rterrors"
)

// noVersionLimit tells loadAndReplay to replay every available event.
const noVersionLimit = -1

// applyUpcasters runs every registered upcaster for schema versions in
// [from, to), in order, migrating state forward one schema step at a time.
// A schema step with no registered upcaster leaves state unchanged.
func (e *Entity) applyUpcasters(state interface{}, from, to int) (interface{}, error) {
	for s := from; s < to; s++ {
		up, ok := e.def.Upcasters[s]
		if !ok {
			continue
		}
		next, err := up(state)
		if err != nil {
			return nil, fmt.Errorf("upcasting schema %d to %d: %w", s, s+1, err)
		}
		state = next
	}
	return state, nil
}

// loadAndReplay rebuilds state from the latest snapshot (if any) plus every
// subsequent event up to and including upToVersion, or every available
// event when upToVersion is noVersionLimit. It never touches e.kernel or
// e.status — Hydrate uses it to establish the live kernel, StateAt uses it
// for a read-only time-travel replay.
//
// currentSchema tracks the schema version state is currently shaped for,
// starting at the snapshot's (or 1, with no snapshot) and advancing only
// when an event's own schemaVersion is higher, per the running-schema
// model of the hydration and time-travel algorithms. Full hydration
// (upToVersion == noVersionLimit) additionally upcasts any remainder up to
// the definition's current schema once replay is done; a bounded
// time-travel replay does not, so its returned schema version is that of
// the last applied event (or the snapshot's, if none were applied).
func (e *Entity) loadAndReplay(ctx context.Context, upToVersion int) (interface{}, int, int, error) {
	state := e.def.InitialState()
	version := 0
	currentSchema := 1

	snap, ok, err := e.st.GetLatestSnapshot(ctx, e.id)
	if err != nil {
		return nil, 0, 0, &rterrors.HydrationError{EntityID: e.id, Cause: err}
	}
	if ok && (upToVersion == noVersionLimit || snap.Version <= upToVersion) {
		defName, schemaVersion, snapState, err := decodeSnapshot(snap.Data)
		if err != nil {
			return nil, 0, 0, &rterrors.HydrationError{EntityID: e.id, Cause: err}
		}
		if defName != e.def.Name {
			return nil, 0, 0, &rterrors.DefinitionMismatchError{EntityID: e.id, Want: e.def.Name, Got: defName}
		}
		state = snapState
		version = snap.Version
		currentSchema = schemaVersion
	}

	events, err := e.st.GetEvents(ctx, e.id, version)
	if err != nil {
		return nil, 0, 0, &rterrors.HydrationError{EntityID: e.id, Cause: err}
	}

	expected := version + 1
	for _, ev := range events {
		if upToVersion != noVersionLimit && ev.Version > upToVersion {
			break
		}
		if ev.Version != expected {
			return nil, 0, 0, &rterrors.OutOfOrderEventsError{EntityID: e.id, Expected: expected, Got: ev.Version}
		}

		schemaVersion, p, err := decodeEvent(ev.Data)
		if err != nil {
			return nil, 0, 0, &rterrors.HydrationError{EntityID: e.id, Cause: err}
		}

		if schemaVersion > currentSchema {
			state, err = e.applyUpcasters(state, currentSchema, schemaVersion)
			if err != nil {
				return nil, 0, 0, &rterrors.HydrationError{EntityID: e.id, Cause: fmt.Errorf("replaying version %d: %w", ev.Version, err)}
			}
			currentSchema = schemaVersion
		}

		next, err := patch.Apply(state, p)
		if err != nil {
			return nil, 0, 0, &rterrors.HydrationError{EntityID: e.id, Cause: fmt.Errorf("replaying version %d: %w", ev.Version, err)}
		}
		state = next
		version = ev.Version
		expected++
	}

	if upToVersion == noVersionLimit && currentSchema < e.def.SchemaVersion {
		var err error
		state, err = e.applyUpcasters(state, currentSchema, e.def.SchemaVersion)
		if err != nil {
			return nil, 0, 0, &rterrors.HydrationError{EntityID: e.id, Cause: fmt.Errorf("upcasting to current schema: %w", err)}
		}
		currentSchema = e.def.SchemaVersion
	}

	return state, version, currentSchema, nil
}
