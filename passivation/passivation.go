// Package passivation runs the idle-eviction sweep a manager.Manager uses
// to bound how many entities it keeps hydrated in memory: a ticking
// goroutine (grounded on worker.Pool's stop-channel loop) that snapshots,
// stops, and evicts any tracked entity that has sat idle past a configured
// threshold.
package passivation

import (
	"context"
	"time"

	"eve.evalgo.org/entityrt/runtimelog"
)

// DefaultSweepInterval is used when Config.SweepInterval is zero.
const DefaultSweepInterval = 60 * time.Second

// Config tunes the sweeper.
type Config struct {
	// IdleAfter is how long an entity may sit untouched before it becomes
	// eligible for eviction. Zero disables passivation entirely.
	IdleAfter time.Duration
	// SweepInterval is how often the sweeper wakes to check every tracked
	// entity. Defaults to DefaultSweepInterval.
	SweepInterval time.Duration
}

// Entry is whatever a manager tracks per entity ID that the sweeper needs
// to decide and act on eviction. entity.Entity satisfies this directly.
type Entry interface {
	IdleSince() time.Time
	ActiveStreamCount() int
	ForceSnapshot(ctx context.Context)
	Stop(ctx context.Context) error
}

// Registry is the manager-side view the sweeper needs: a point-in-time
// listing of tracked entities, and a way to remove one once evicted.
// manager.Manager implements this directly.
type Registry interface {
	// Entries returns a snapshot of currently tracked (id, Entry) pairs.
	// Sweeper never mutates the map it's handed.
	Entries() map[string]Entry
	// Evict removes id from the registry. It is a no-op if id is already
	// gone (e.g. raced with an explicit stop).
	Evict(id string)
}

// OnEvict is called once per evicted entity ID, after Evict. It is the
// manager's metrics.Hooks.OnEvict hook in practice.
type OnEvict func(id string)

// Sweeper periodically evicts idle entities from a Registry.
type Sweeper struct {
	cfg     Config
	reg     Registry
	onEvict OnEvict
	log     *runtimelog.Logger

	stopCh chan struct{}
	doneCh chan struct{}
}

// New builds a Sweeper. It does not start running until Start is called.
func New(cfg Config, reg Registry, onEvict OnEvict, log *runtimelog.Logger) *Sweeper {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if log == nil {
		log = runtimelog.New(nil)
	}
	return &Sweeper{
		cfg:     cfg,
		reg:     reg,
		onEvict: onEvict,
		log:     log,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Start launches the sweep loop in the background. Disabled (IdleAfter ==
// 0) sweepers still start but every sweep is a no-op, keeping manager.Stop's
// shutdown path uniform regardless of configuration.
func (s *Sweeper) Start() {
	go s.loop()
}

// Stop cancels the sweep loop and waits for the current sweep, if any, to
// finish. Safe to call more than once.
func (s *Sweeper) Stop() {
	select {
	case <-s.stopCh:
		// already stopped
	default:
		close(s.stopCh)
	}
	<-s.doneCh
}

func (s *Sweeper) loop() {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Sweeper) sweep() {
	if s.cfg.IdleAfter <= 0 {
		return
	}
	ctx := context.Background()
	now := time.Now()
	for id, entry := range s.reg.Entries() {
		if entry.ActiveStreamCount() > 0 {
			continue
		}
		if now.Sub(entry.IdleSince()) < s.cfg.IdleAfter {
			continue
		}
		entry.ForceSnapshot(ctx)
		if err := entry.Stop(ctx); err != nil {
			s.log.WithField("entity", id).WithError(err).Warn("passivation: failed to stop idle entity")
			continue
		}
		s.reg.Evict(id)
		if s.onEvict != nil {
			s.onEvict(id)
		}
	}
}
