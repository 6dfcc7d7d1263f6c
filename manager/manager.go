// Package manager owns the per-definition registry of live entity.Entity
// instances: lazy creation and hydration on first Get, transparent
// replacement of failed/stopped instances, a passivation.Sweeper for idle
// eviction, and durable-stream readers, grounded on statemanager.Manager's
// mutex-guarded map and eve/coordinator's registry-of-workers shape.
package manager

import (
	"context"
	"sync"
	"time"

	"eve.evalgo.org/entityrt/entity"
	"eve.evalgo.org/entityrt/metrics"
	"eve.evalgo.org/entityrt/passivation"
	"eve.evalgo.org/entityrt/runtimelog"
	"eve.evalgo.org/entityrt/rterrors"
	"eve.evalgo.org/entityrt/store"
)

// Config configures a Manager.
type Config struct {
	Definition *entity.Definition
	Store      store.Store
	Metrics    metrics.Hooks
	Log        *runtimelog.Logger
	Passivation passivation.Config
}

// Manager is the per-definition registry: the only way callers obtain a
// Ref to interact with an entity ID.
type Manager struct {
	def *entity.Definition
	st  store.Store
	log *runtimelog.Logger
	met metrics.Hooks

	mu       sync.Mutex
	entities map[string]*entity.Entity
	shutdown bool

	sweeper *passivation.Sweeper
}

// New constructs a Manager from cfg. It is immediately usable; the
// passivation sweeper starts running in the background right away, and
// evicts nothing unless cfg.Passivation.IdleAfter > 0.
func New(cfg Config) *Manager {
	log := cfg.Log
	if log == nil {
		log = runtimelog.New(nil)
	}
	met := cfg.Metrics
	if met == nil {
		met = metrics.NopHooks{}
	}
	m := &Manager{
		def:      cfg.Definition,
		st:       cfg.Store,
		log:      log,
		met:      met,
		entities: make(map[string]*entity.Entity),
	}
	m.sweeper = passivation.New(cfg.Passivation, m, m.met.OnEvict, log)
	m.sweeper.Start()
	return m
}

// Entries implements passivation.Registry.
func (m *Manager) Entries() map[string]passivation.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]passivation.Entry, len(m.entities))
	for id, e := range m.entities {
		out[id] = e
	}
	return out
}

// Evict implements passivation.Registry.
func (m *Manager) Evict(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entities, id)
}

// Get returns a Ref for id, creating and hydrating a fresh entity.Entity if
// none is tracked yet, or if the tracked instance has failed or stopped
// (per spec: manager.get(id) transparently replaces it on next retrieval).
func (m *Manager) Get(ctx context.Context, id string) (*Ref, error) {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return nil, &rterrors.ManagerShutdownError{EntityID: id}
	}
	e, ok := m.entities[id]
	if ok {
		switch e.Status() {
		case entity.StatusFailed, entity.StatusStopped:
			ok = false
		}
	}
	if !ok {
		e = entity.New(id, m.def, m.st)
		m.entities[id] = e
	}
	m.mu.Unlock()

	if e.Status() == entity.StatusPending {
		if err := e.Hydrate(ctx); err != nil {
			return nil, err
		}
	}
	return &Ref{m: m, e: e}, nil
}

// Stop shuts the manager down: cancels the passivation sweeper, stops every
// tracked entity (best-effort, settling in-flight work), and rejects every
// further Get/Ref operation with ManagerShutdownError. Idempotent.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return nil
	}
	m.shutdown = true
	entities := make([]*entity.Entity, 0, len(m.entities))
	for _, e := range m.entities {
		entities = append(entities, e)
	}
	m.mu.Unlock()

	m.sweeper.Stop()
	for _, e := range entities {
		_ = e.Stop(ctx)
	}
	return nil
}

func (m *Manager) rejectIfShutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shutdown {
		return &rterrors.ManagerShutdownError{}
	}
	return nil
}

// pollInterval is how often ReadStream checks the store when it lacks
// subscription support, per spec §4.6 ("polls at a fixed short interval").
const pollInterval = 100 * time.Millisecond
