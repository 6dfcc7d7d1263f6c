// Command counterdemo runs the basic counter scenario against the entity
// runtime: define(count) -> send.Inc(10) -> send.Inc(5) -> read.Get() ->
// 15, backed by an in-memory store (or a bolt store when configured), then
// shuts the manager down cleanly right away without waiting for
// SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"eve.evalgo.org/entityrt/entity"
	"eve.evalgo.org/entityrt/kernel"
	"eve.evalgo.org/entityrt/manager"
	"eve.evalgo.org/entityrt/metrics"
	"eve.evalgo.org/entityrt/passivation"
	"eve.evalgo.org/entityrt/runtimeconfig"
	"eve.evalgo.org/entityrt/runtimelog"
	"eve.evalgo.org/entityrt/store"
	"eve.evalgo.org/entityrt/store/boltstore"
	"eve.evalgo.org/entityrt/store/memstore"
)

func counterDefinition() *entity.Definition {
	def, err := entity.Define("counter").
		InitialState(func() interface{} { return map[string]interface{}{"count": float64(0)} }).
		Command("Inc", func(_ context.Context, d *kernel.Draft, args []interface{}) (interface{}, error) {
			by, _ := args[0].(float64)
			cur, _ := d.Get("count")
			n, _ := cur.(float64)
			n += by
			d.Set([]string{"count"}, n)
			return n, nil
		}).
		Query("Get", func(_ context.Context, d *kernel.Draft, args []interface{}) (interface{}, error) {
			v, _ := d.Get("count")
			return v, nil
		}).
		SnapshotEveryNEvents(100).
		Build()
	if err != nil {
		panic(err)
	}
	return def
}

func openStore(cfg runtimeconfig.StoreConfig, log *runtimelog.Logger) (store.Store, func(), error) {
	switch cfg.Backend {
	case "bolt":
		st, err := boltstore.Open(cfg.BoltPath)
		if err != nil {
			return nil, nil, fmt.Errorf("opening bolt store at %s: %w", cfg.BoltPath, err)
		}
		return st, func() { _ = st.Close() }, nil
	default:
		log.Info("no durable store backend configured, running in-memory")
		return memstore.New(), func() {}, nil
	}
}

func main() {
	prefix := flag.String("env-prefix", "COUNTERDEMO", "environment variable prefix for configuration")
	flag.Parse()

	log := runtimelog.New(nil)
	mgrCfg := runtimeconfig.LoadManagerConfig(*prefix)
	storeCfg := runtimeconfig.LoadStoreConfig(*prefix)

	st, closeStore, err := openStore(storeCfg, log)
	if err != nil {
		log.WithError(err).Error("failed to open store")
		os.Exit(1)
	}
	defer closeStore()

	mgr := manager.New(manager.Config{
		Definition: counterDefinition(),
		Store:      st,
		Metrics:    metrics.LoggingHooks{Log: log},
		Log:        log,
		Passivation: passivation.Config{
			IdleAfter:     mgrCfg.PassivationIdleTimeout,
			SweepInterval: mgrCfg.PassivationSweepInterval,
		},
	})

	ctx := context.Background()
	ref, err := mgr.Get(ctx, "demo-counter")
	if err != nil {
		log.WithError(err).Error("failed to get entity reference")
		os.Exit(1)
	}

	if _, err := ref.Send(ctx, "Inc", float64(10)); err != nil {
		log.WithError(err).Error("Inc(10) failed")
		os.Exit(1)
	}
	if _, err := ref.Send(ctx, "Inc", float64(5)); err != nil {
		log.WithError(err).Error("Inc(5) failed")
		os.Exit(1)
	}
	got, err := ref.Read(ctx, "Get")
	if err != nil {
		log.WithError(err).Error("Get failed")
		os.Exit(1)
	}
	snap, err := ref.Snapshot(ctx)
	if err != nil {
		log.WithError(err).Error("Snapshot failed")
		os.Exit(1)
	}
	log.WithFields(map[string]interface{}{"count": got, "version": snap.Version}).Info("counter demo run complete")
	fmt.Printf("count=%v version=%d\n", got, snap.Version)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	select {
	case <-quit:
		log.Info("shutdown signal received")
	case <-time.After(0):
		// Demo is one-shot; fall straight through to shutdown once the
		// scenario above has run, rather than blocking for a signal that
		// may never arrive in a scripted/CI invocation.
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := mgr.Stop(shutdownCtx); err != nil {
		log.WithError(err).Error("manager shutdown failed")
		os.Exit(1)
	}
}
