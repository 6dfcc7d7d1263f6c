package entity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"eve.evalgo.org/entityrt/kernel"
	"eve.evalgo.org/entityrt/mailbox"
	"eve.evalgo.org/entityrt/patch"
	"eve.evalgo.org/entityrt/rterrors"
	"eve.evalgo.org/entityrt/serde"
	"eve.evalgo.org/entityrt/store"
	"eve.evalgo.org/entityrt/supervision"
)

// Status is an Entity's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusHydrating Status = "hydrating"
	StatusActive    Status = "active"
	StatusFailed    Status = "failed"
	StatusStopped   Status = "stopped"
)

// Entity is one running instance of a Definition, addressed by ID: the
// virtual actor that owns a kernel.StateKernel, serializes every command,
// query, and stream commit through a mailbox.Mailbox, and durably commits
// through a store.Store.
type Entity struct {
	id  string
	def *Definition
	st  store.Store
	mb  *mailbox.Mailbox

	mu                  sync.Mutex
	status              Status
	version             int
	eventsSinceSnapshot int
	lastErr             error
	lastActiveAt        time.Time
	activeStreams       map[string]*StreamRun

	kernel *kernel.StateKernel
}

// New constructs an Entity for id against def, backed by st. The entity is
// StatusPending until Hydrate is called; manager.Manager owns calling
// Hydrate exactly once before serving any command.
func New(id string, def *Definition, st store.Store) *Entity {
	return &Entity{
		id:            id,
		def:           def,
		st:            st,
		mb:            mailbox.New(),
		status:        StatusPending,
		lastActiveAt:  time.Now(),
		activeStreams: make(map[string]*StreamRun),
	}
}

// ID returns the entity's ID.
func (e *Entity) ID() string { return e.id }

// Status returns the entity's current lifecycle status.
func (e *Entity) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Version returns the last durably committed event version (0 if none).
func (e *Entity) Version() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.version
}

// IdleSince returns the timestamp of the entity's last command, query, or
// stream activity, for passivation.Sweeper to judge idleness against.
func (e *Entity) IdleSince() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastActiveAt
}

// ActiveStreamCount reports how many StreamRuns have not yet committed,
// so passivation never evicts an entity with an in-flight stream.
func (e *Entity) ActiveStreamCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.activeStreams)
}

func (e *Entity) touch() {
	e.mu.Lock()
	e.lastActiveAt = time.Now()
	e.mu.Unlock()
}

// Hydrate rebuilds the entity's live state from its snapshot and event
// log, or seeds a fresh InitialState if neither exists, then marks the
// entity active. It must be called exactly once before Send/Query/Stream.
func (e *Entity) Hydrate(ctx context.Context) error {
	e.mu.Lock()
	e.status = StatusHydrating
	e.mu.Unlock()

	state, version, _, err := e.loadAndReplay(ctx, noVersionLimit)
	if err != nil {
		e.mu.Lock()
		e.status = StatusFailed
		e.lastErr = err
		e.mu.Unlock()
		return err
	}

	e.mu.Lock()
	e.kernel = kernel.New(state)
	e.version = version
	e.status = StatusActive
	e.lastActiveAt = time.Now()
	e.mu.Unlock()

	e.def.Metrics.OnHydrate(e.id, version)
	return nil
}

func (e *Entity) statusAndErr() (Status, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status, e.lastErr
}

func (e *Entity) rejectIfNotActive() error {
	status, lastErr := e.statusAndErr()
	if status == StatusFailed || status == StatusStopped {
		return &rterrors.StoppedEntityError{EntityID: e.id, Status: string(status), Cause: lastErr}
	}
	if status != StatusActive {
		return &rterrors.StoppedEntityError{EntityID: e.id, Status: string(status)}
	}
	return nil
}

// Send invokes the named command handler, serialized through the entity's
// mailbox, commits any resulting patch, and returns the handler's return
// value. A no-op handler (empty patch) commits nothing.
func (e *Entity) Send(ctx context.Context, name string, args ...interface{}) (interface{}, error) {
	handler, ok := e.def.Commands[name]
	if !ok {
		return nil, fmt.Errorf("entity %q: command %q: %w", e.id, name, rterrors.ErrUnknownHandler)
	}

	var ret interface{}
	done := e.mb.Enqueue(func() error {
		if err := e.rejectIfNotActive(); err != nil {
			return err
		}
		result, err := e.kernel.ApplyCommand(ctx, handler, args)
		if err != nil {
			return e.handleFailure(ctx, err)
		}
		ret = result.ReturnValue
		if !result.Patches.IsEmpty() {
			if err := e.persistEvent(ctx, result.Patches, result.NextState); err != nil {
				return err
			}
		}
		e.touch()
		return nil
	})

	select {
	case err := <-done:
		if err != nil {
			return nil, err
		}
		return ret, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Query invokes the named query handler, serialized through the same
// mailbox as Send so reads observe a state consistent with every
// previously enqueued write, and returns a deep clone of the result.
func (e *Entity) Query(ctx context.Context, name string, args ...interface{}) (interface{}, error) {
	handler, ok := e.def.Queries[name]
	if !ok {
		return nil, fmt.Errorf("entity %q: query %q: %w", e.id, name, rterrors.ErrUnknownHandler)
	}

	var ret interface{}
	done := e.mb.Enqueue(func() error {
		if err := e.rejectIfNotActive(); err != nil {
			return err
		}
		r, err := e.kernel.RunQuery(ctx, handler, args)
		if err != nil {
			return err
		}
		ret = r
		e.touch()
		return nil
	})

	select {
	case err := <-done:
		if err != nil {
			return nil, err
		}
		return ret, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stream starts the named stream handler against the entity's current
// state and returns a StreamRun the caller drives with Next/Continue (or
// hands off with Detach). Starting a stream is itself a mailbox task, so
// it observes every previously enqueued command's result, but the
// handler's execution and its eventual commit run outside that task —
// see StreamRun.Wait.
func (e *Entity) Stream(ctx context.Context, name string, args ...interface{}) (*StreamRun, error) {
	handler, ok := e.def.Streams[name]
	if !ok {
		return nil, fmt.Errorf("entity %q: stream %q: %w", e.id, name, rterrors.ErrUnknownHandler)
	}

	var run *StreamRun
	done := e.mb.Enqueue(func() error {
		if err := e.rejectIfNotActive(); err != nil {
			return err
		}
		base := e.kernel.State()
		exec, err := kernel.StartStream(ctx, base, handler, args)
		if err != nil {
			return err
		}
		run = &StreamRun{
			ID:        newStreamID(e.id, name),
			EntityID:  e.id,
			Handler:   name,
			exec:      exec,
			entity:    e,
			baseState: base,
			status:    StreamRunning,
		}
		e.mu.Lock()
		e.activeStreams[run.ID] = run
		e.lastActiveAt = time.Now()
		e.mu.Unlock()
		return nil
	})

	select {
	case err := <-done:
		if err != nil {
			return nil, err
		}
		return run, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// commitStreamResult is invoked by StreamRun.Wait once the producer
// goroutine has finished. It enqueues the commit as its own mailbox task so
// it serializes correctly against any command that ran while the stream
// was in flight: first the durable chunk log (best-effort, like a
// snapshot — a logging failure does not fail the run), then the entity's
// own patch commit, exactly like a command's.
func (e *Entity) commitStreamResult(ctx context.Context, streamID string, chunks []interface{}, result kernel.CommandResult, handlerErr error) error {
	done := e.mb.Enqueue(func() error {
		e.mu.Lock()
		delete(e.activeStreams, streamID)
		e.mu.Unlock()

		e.persistStreamLog(ctx, streamID, chunks, result.ReturnValue, handlerErr)

		if handlerErr != nil {
			return e.handleFailure(ctx, handlerErr)
		}
		if !result.Patches.IsEmpty() {
			if err := e.persistEvent(ctx, result.Patches, result.NextState); err != nil {
				return err
			}
		}
		e.touch()
		return nil
	})
	return <-done
}

// persistStreamLog durably records chunks followed by a terminal end entry
// under streamID, so manager.ReadStream/StreamStatus can read a run's
// history independent of any live consumer. Failures are logged, not
// fatal — readers fall back to whatever prefix was committed.
func (e *Entity) persistStreamLog(ctx context.Context, streamID string, chunks []interface{}, returnValue interface{}, handlerErr error) {
	seq := 0
	for _, c := range chunks {
		seq++
		data, err := encodeStreamChunk(c)
		if err != nil {
			e.def.Log.WithField("stream", streamID).WithError(err).Warn("failed to encode stream chunk")
			return
		}
		if err := e.st.CommitEvent(ctx, streamID, seq, data); err != nil {
			e.def.Log.WithField("stream", streamID).WithError(err).Warn("failed to commit stream chunk")
			return
		}
	}

	seq++
	var data []byte
	var err error
	if handlerErr != nil {
		data, err = encodeStreamEnd(StreamErrored, nil, handlerErr.Error())
	} else {
		data, err = encodeStreamEnd(StreamComplete, returnValue, "")
	}
	if err != nil {
		e.def.Log.WithField("stream", streamID).WithError(err).Warn("failed to encode stream end")
		return
	}
	if err := e.st.CommitEvent(ctx, streamID, seq, data); err != nil {
		e.def.Log.WithField("stream", streamID).WithError(err).Warn("failed to commit stream end")
	}
}

// persistEvent commits p to the store at the next version, advances the
// kernel's live state, and triggers an automatic snapshot once the
// configured threshold is reached. Callers must already be running inside
// a mailbox task.
func (e *Entity) persistEvent(ctx context.Context, p patch.Patch, next interface{}) error {
	data, err := encodeEvent(e.def.SchemaVersion, p)
	if err != nil {
		return fmt.Errorf("entity %q: %w", e.id, err)
	}

	nextVersion := e.Version() + 1
	if err := e.st.CommitEvent(ctx, e.id, nextVersion, data); err != nil {
		cerr := &rterrors.CommitError{EntityID: e.id, Version: nextVersion, Cause: err}
		return e.failEntity(cerr)
	}

	e.kernel.ApplyCommittedState(next)
	e.mu.Lock()
	e.version = nextVersion
	e.eventsSinceSnapshot++
	snapshotDue := e.def.SnapshotEveryNEvents > 0 && e.eventsSinceSnapshot >= e.def.SnapshotEveryNEvents
	e.mu.Unlock()
	e.def.Metrics.OnAfterCommit(e.id, nextVersion)

	if snapshotDue {
		e.snapshot(ctx)
	}
	return nil
}

// snapshot commits the kernel's current state as a snapshot at the
// entity's current version. A failure here is logged, not fatal — the
// event log remains the source of truth and hydration can always fall
// back to replaying from the last good snapshot (or from scratch).
func (e *Entity) snapshot(ctx context.Context) {
	version := e.Version()
	e.def.Metrics.OnBeforeSnapshot(e.id, version)
	data, err := encodeSnapshot(e.def.Name, e.def.SchemaVersion, e.kernel.State())
	if err != nil {
		e.def.Log.WithField("entity", e.id).WithError(err).Warn("failed to encode snapshot")
		return
	}
	if err := e.st.CommitSnapshot(ctx, e.id, version, data); err != nil {
		e.def.Log.WithField("entity", e.id).WithError(err).Warn("failed to commit snapshot")
		return
	}
	e.mu.Lock()
	e.eventsSinceSnapshot = 0
	e.mu.Unlock()
	e.def.Metrics.OnSnapshot(e.id, version)
}

// failEntity unconditionally transitions the entity to StatusFailed. Commit
// errors (version conflicts or any other store failure) are always fatal:
// supervision strategies apply only to handler errors, never to a failed
// commit, so this bypasses the Supervisor entirely.
func (e *Entity) failEntity(err error) error {
	e.def.Metrics.OnError(e.id, err)
	e.mu.Lock()
	e.status = StatusFailed
	e.lastErr = err
	e.mu.Unlock()
	return err
}

// handleFailure asks the Definition's Supervisor how to react to a handler
// error and applies that decision, returning the error the caller of
// Send/Query/Stream ultimately observes. Callers must already be running
// inside a mailbox task.
func (e *Entity) handleFailure(ctx context.Context, err error) error {
	e.def.Metrics.OnError(e.id, err)

	switch e.def.Supervisor.Decide(e.kernel.State(), err) {
	case supervision.Stop:
		e.mu.Lock()
		e.status = StatusFailed
		e.lastErr = err
		e.mu.Unlock()
		return &rterrors.StoppedEntityError{EntityID: e.id, Status: string(StatusFailed), Cause: err}

	case supervision.Reset:
		if clearer, ok := e.st.(store.Clearer); ok {
			if cerr := clearer.ClearEntity(ctx, e.id); cerr != nil {
				e.def.Log.WithField("entity", e.id).WithError(cerr).Warn("failed to clear store during reset")
			}
		}
		fresh, cerr := serde.Clone(e.def.InitialState())
		if cerr != nil {
			fresh = e.def.InitialState()
		}
		if upcast, uerr := e.applyUpcasters(fresh, 1, e.def.SchemaVersion); uerr != nil {
			e.def.Log.WithField("entity", e.id).WithError(uerr).Warn("failed to upcast initial state during reset")
		} else {
			fresh = upcast
		}
		e.kernel = kernel.New(fresh)
		e.mu.Lock()
		e.version = 0
		e.eventsSinceSnapshot = 0
		e.mu.Unlock()
		return &rterrors.ResetError{EntityID: e.id, Cause: err}

	default: // supervision.Resume
		return err
	}
}

// StateAt replays the entity's history up to and including version,
// independent of its live state, for time-travel queries. It waits for
// every mailbox task enqueued before the call to settle first, so the
// replay is consistent with every commit already in flight. The returned
// schema version is that of the last applied event, or the snapshot's if
// none were applied — not necessarily the definition's current one.
func (e *Entity) StateAt(ctx context.Context, version int) (interface{}, int, error) {
	e.mb.Wait()
	state, _, schemaVersion, err := e.loadAndReplay(ctx, version)
	if err != nil {
		return nil, 0, err
	}
	cloned, err := serde.Clone(state)
	if err != nil {
		return nil, 0, err
	}
	return cloned, schemaVersion, nil
}

// Stop transitions the entity to StatusStopped, rejecting all further
// Send/Query/Stream calls. It waits for any mailbox task already enqueued
// to settle first.
func (e *Entity) Stop(ctx context.Context) error {
	e.mb.Wait()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status == StatusStopped || e.status == StatusFailed {
		return nil
	}
	e.status = StatusStopped
	return nil
}

// Snapshot returns the entity's live state (deep-cloned) and version,
// backing Ref.Snapshot(). It waits for in-flight mailbox tasks to settle
// first.
func (e *Entity) Snapshot(ctx context.Context) (interface{}, int, error) {
	e.mb.Wait()
	e.mu.Lock()
	k := e.kernel
	version := e.version
	e.mu.Unlock()
	if k == nil {
		return nil, 0, &rterrors.StoppedEntityError{EntityID: e.id, Status: string(e.Status())}
	}
	state, err := serde.Clone(k.State())
	if err != nil {
		return nil, 0, err
	}
	return state, version, nil
}

// ForceSnapshot commits a snapshot of the entity's current state regardless
// of SnapshotEveryNEvents, as passivation.Sweeper does before evicting an
// idle entity. It is enqueued as a mailbox task so it never races a
// concurrent commit.
func (e *Entity) ForceSnapshot(ctx context.Context) {
	done := e.mb.Enqueue(func() error {
		if e.Status() == StatusActive {
			e.snapshot(ctx)
		}
		return nil
	})
	<-done
}
