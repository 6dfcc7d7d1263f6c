package manager

import (
	"context"

	"eve.evalgo.org/entityrt/entity"
)

// Ref is the external handle a caller uses to interact with one entity ID,
// obtained from Manager.Get. It never outlives the Manager's shutdown: every
// method rejects with ManagerShutdownError once Manager.Stop has run.
type Ref struct {
	m *Manager
	e *entity.Entity
}

// ID returns the referenced entity's ID.
func (r *Ref) ID() string { return r.e.ID() }

// Send invokes a command by name, corresponding to send.<cmd>(...) in the
// language-neutral API surface.
func (r *Ref) Send(ctx context.Context, name string, args ...interface{}) (interface{}, error) {
	if err := r.m.rejectIfShutdown(); err != nil {
		return nil, err
	}
	return r.e.Send(ctx, name, args...)
}

// Read invokes a query by name, corresponding to read.<q>(...).
func (r *Ref) Read(ctx context.Context, name string, args ...interface{}) (interface{}, error) {
	if err := r.m.rejectIfShutdown(); err != nil {
		return nil, err
	}
	return r.e.Query(ctx, name, args...)
}

// Stream invokes a stream handler by name, corresponding to stream.<s>(...).
func (r *Ref) Stream(ctx context.Context, name string, args ...interface{}) (*entity.StreamRun, error) {
	if err := r.m.rejectIfShutdown(); err != nil {
		return nil, err
	}
	return r.e.Stream(ctx, name, args...)
}

// SnapshotView is the {state, version} pair Ref.Snapshot returns.
type SnapshotView struct {
	State   interface{}
	Version int
}

// Snapshot returns the entity's current state and version, corresponding to
// snapshot().
func (r *Ref) Snapshot(ctx context.Context) (SnapshotView, error) {
	if err := r.m.rejectIfShutdown(); err != nil {
		return SnapshotView{}, err
	}
	state, version, err := r.e.Snapshot(ctx)
	if err != nil {
		return SnapshotView{}, err
	}
	return SnapshotView{State: state, Version: version}, nil
}

// StateAtView is the {schemaVersion, state} pair Ref.StateAt returns.
type StateAtView struct {
	State         interface{}
	SchemaVersion int
}

// StateAt replays the entity's history up to and including version,
// corresponding to stateAt(v).
func (r *Ref) StateAt(ctx context.Context, version int) (StateAtView, error) {
	if err := r.m.rejectIfShutdown(); err != nil {
		return StateAtView{}, err
	}
	state, schemaVersion, err := r.e.StateAt(ctx, version)
	if err != nil {
		return StateAtView{}, err
	}
	return StateAtView{State: state, SchemaVersion: schemaVersion}, nil
}

// Stop stops the underlying entity instance, corresponding to stop() on a
// Reference. It does not remove the entity from the manager's registry;
// the next Manager.Get for this ID transparently creates a fresh instance.
func (r *Ref) Stop(ctx context.Context) error {
	if err := r.m.rejectIfShutdown(); err != nil {
		return err
	}
	return r.e.Stop(ctx)
}
