// Package entity implements the per-ID virtual-actor lifecycle: hydration
// from a store.Store, mailbox-serialized command/query/stream execution
// against a kernel.StateKernel, optimistic-versioned commit, supervision on
// handler failure, periodic snapshotting, and time-travel replay.
package entity

import (
	"fmt"
	"time"

	"eve.evalgo.org/entityrt/kernel"
	"eve.evalgo.org/entityrt/metrics"
	"eve.evalgo.org/entityrt/runtimelog"
	"eve.evalgo.org/entityrt/supervision"
)

// InitialStateFunc produces a fresh entity's starting state. It is called
// at the start of every replay (hydration and StateAt), whose result is
// then replaced by a snapshot's state when one applies, and again on a
// supervisor reset.
type InitialStateFunc func() interface{}

// UpcastFunc migrates state shaped for one schema version into the shape of
// the next. During replay an upcaster runs once per schema step: when an
// event tagged with a newer schema version is reached, before that event's
// patch is applied, and, on full hydration, once replay is done for any
// steps still missing up to the definition's current schema.
// Most schema versions need no upcaster; Definition.Evolve is only
// required where a state shape changed in a way later handlers can't
// tolerate unchanged.
type UpcastFunc func(state interface{}) (interface{}, error)

// Definition is the immutable, shareable blueprint manager.Manager uses to
// construct Entity instances on demand. Build it once per entity type with
// Define(...).Build().
type Definition struct {
	Name                   string
	SchemaVersion          int
	InitialState           InitialStateFunc
	Upcasters              map[int]UpcastFunc
	Commands               map[string]kernel.CommandHandler
	Queries                map[string]kernel.QueryHandler
	Streams                map[string]kernel.StreamHandler
	Supervisor             *supervision.Supervisor
	Metrics                metrics.Hooks
	Log                    *runtimelog.Logger
	SnapshotEveryNEvents   int
	PassivationIdleTimeout time.Duration
}

// DefinitionBuilder accumulates Definition options; Build validates and
// freezes them.
type DefinitionBuilder struct {
	def *Definition
	err error
}

// Define starts a DefinitionBuilder for an entity type named name (e.g.
// "counter", "order"). name is recorded in every snapshot so hydration can
// detect a definition mismatch.
func Define(name string) *DefinitionBuilder {
	return &DefinitionBuilder{def: &Definition{
		Name:                 name,
		SchemaVersion:        1,
		Upcasters:            make(map[int]UpcastFunc),
		Commands:             make(map[string]kernel.CommandHandler),
		Queries:              make(map[string]kernel.QueryHandler),
		Streams:              make(map[string]kernel.StreamHandler),
		Metrics:              metrics.NopHooks{},
		Log:                  runtimelog.New(nil),
		SnapshotEveryNEvents: 100,
	}}
}

// InitialState sets the fresh-entity state constructor. Required.
func (b *DefinitionBuilder) InitialState(fn InitialStateFunc) *DefinitionBuilder {
	b.def.InitialState = fn
	return b
}

// SchemaVersion sets the current schema version new commits are tagged
// with. Defaults to 1.
func (b *DefinitionBuilder) SchemaVersion(v int) *DefinitionBuilder {
	b.def.SchemaVersion = v
	return b
}

// Evolve registers the upcaster that migrates state from schema fromVersion
// to fromVersion+1, run during replay (see UpcastFunc).
func (b *DefinitionBuilder) Evolve(fromVersion int, fn UpcastFunc) *DefinitionBuilder {
	b.def.Upcasters[fromVersion] = fn
	return b
}

// Command registers a named command handler.
func (b *DefinitionBuilder) Command(name string, h kernel.CommandHandler) *DefinitionBuilder {
	b.def.Commands[name] = h
	return b
}

// Query registers a named query handler.
func (b *DefinitionBuilder) Query(name string, h kernel.QueryHandler) *DefinitionBuilder {
	b.def.Queries[name] = h
	return b
}

// Stream registers a named stream handler.
func (b *DefinitionBuilder) Stream(name string, h kernel.StreamHandler) *DefinitionBuilder {
	b.def.Streams[name] = h
	return b
}

// Supervisor sets the failure-handling policy; entities default to
// supervision.New(supervision.Resume) when left unset.
func (b *DefinitionBuilder) Supervisor(s *supervision.Supervisor) *DefinitionBuilder {
	b.def.Supervisor = s
	return b
}

// Metrics sets the notification hooks; defaults to metrics.NopHooks{}.
func (b *DefinitionBuilder) Metrics(h metrics.Hooks) *DefinitionBuilder {
	b.def.Metrics = h
	return b
}

// Logger sets the structured logger entities of this Definition log
// through.
func (b *DefinitionBuilder) Logger(l *runtimelog.Logger) *DefinitionBuilder {
	b.def.Log = l
	return b
}

// SnapshotEveryNEvents sets how many committed events trigger an automatic
// snapshot. Zero disables automatic snapshotting.
func (b *DefinitionBuilder) SnapshotEveryNEvents(n int) *DefinitionBuilder {
	b.def.SnapshotEveryNEvents = n
	return b
}

// PassivationIdleTimeout records an idle timeout on the Definition. The
// passivation sweeper does not read it; eviction uses only the manager's
// passivation.Config.IdleAfter.
func (b *DefinitionBuilder) PassivationIdleTimeout(d time.Duration) *DefinitionBuilder {
	b.def.PassivationIdleTimeout = d
	return b
}

// Build validates the accumulated options and returns the frozen
// Definition.
func (b *DefinitionBuilder) Build() (*Definition, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.def.Name == "" {
		return nil, fmt.Errorf("entity: definition requires a name")
	}
	if b.def.InitialState == nil {
		return nil, fmt.Errorf("entity: definition %q requires InitialState", b.def.Name)
	}
	if b.def.Supervisor == nil {
		b.def.Supervisor = supervision.New(supervision.Resume)
	}
	return b.def, nil
}
