// Package runtimeconfig loads manager and entity tuning parameters from
// environment variables, the way eve/config.EnvConfig loads service
// configuration: a prefixed lookup with typed getters and defaults.
package runtimeconfig

import (
	"os"
	"strconv"
	"time"
)

// EnvConfig reads environment variables under an optional prefix.
type EnvConfig struct {
	prefix string
}

// NewEnvConfig creates a loader that reads PREFIX_KEY when prefix is
// non-empty, or KEY otherwise.
func NewEnvConfig(prefix string) *EnvConfig {
	return &EnvConfig{prefix: prefix}
}

func (ec *EnvConfig) buildKey(key string) string {
	if ec.prefix != "" {
		return ec.prefix + "_" + key
	}
	return key
}

// GetString retrieves a string with a default.
func (ec *EnvConfig) GetString(key, def string) string {
	if v := os.Getenv(ec.buildKey(key)); v != "" {
		return v
	}
	return def
}

// GetInt retrieves an int with a default.
func (ec *EnvConfig) GetInt(key string, def int) int {
	if v := os.Getenv(ec.buildKey(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// GetDuration retrieves a time.Duration with a default.
func (ec *EnvConfig) GetDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(ec.buildKey(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// GetBool retrieves a bool with a default.
func (ec *EnvConfig) GetBool(key string, def bool) bool {
	if v := os.Getenv(ec.buildKey(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// ManagerConfig holds manager and entity tuning values read from the
// environment. It is not applied automatically: bootstrap code copies the
// fields it needs into passivation.Config or a DefinitionBuilder itself.
type ManagerConfig struct {
	// PassivationIdleTimeout is how long an entity may sit without an
	// in-flight command or active stream before the sweeper evicts it.
	PassivationIdleTimeout time.Duration
	// PassivationSweepInterval is how often the sweeper scans for idle
	// entities.
	PassivationSweepInterval time.Duration
	// SnapshotEveryNEvents triggers a snapshot after this many events have
	// been committed since the last one. Zero disables automatic
	// snapshotting.
	SnapshotEveryNEvents int
	// MailboxQueueWarnDepth is a mailbox queue depth threshold. It is only
	// loaded here; package mailbox does not track queue depth and nothing
	// reads this value.
	MailboxQueueWarnDepth int
}

// LoadManagerConfig loads ManagerConfig from the environment under prefix
// (e.g. "ENTITYRT").
func LoadManagerConfig(prefix string) ManagerConfig {
	env := NewEnvConfig(prefix)
	return ManagerConfig{
		PassivationIdleTimeout:   env.GetDuration("PASSIVATION_IDLE_TIMEOUT", 10*time.Minute),
		PassivationSweepInterval: env.GetDuration("PASSIVATION_SWEEP_INTERVAL", time.Minute),
		SnapshotEveryNEvents:     env.GetInt("SNAPSHOT_EVERY_N_EVENTS", 100),
		MailboxQueueWarnDepth:    env.GetInt("MAILBOX_QUEUE_WARN_DEPTH", 1000),
	}
}

// StoreConfig names which store.Store backend to construct and its
// connection parameters. cmd/counterdemo switches on Backend: "bolt" opens
// a boltstore at BoltPath and any other value uses memstore; it does not
// construct pgstore or apply redisnotify.
type StoreConfig struct {
	Backend          string // "memory", "bolt", or "postgres"
	BoltPath         string
	PostgresURL      string
	PostgresChannel  string
	RedisURL         string
	RedisChannel     string
	RedisNotifyWraps bool
}

// LoadStoreConfig loads StoreConfig from the environment under prefix.
func LoadStoreConfig(prefix string) StoreConfig {
	env := NewEnvConfig(prefix)
	return StoreConfig{
		Backend:          env.GetString("STORE_BACKEND", "memory"),
		BoltPath:         env.GetString("BOLT_PATH", "entityrt.db"),
		PostgresURL:      env.GetString("POSTGRES_URL", ""),
		PostgresChannel:  env.GetString("POSTGRES_NOTIFY_CHANNEL", "entityrt_events"),
		RedisURL:         env.GetString("REDIS_URL", ""),
		RedisChannel:     env.GetString("REDIS_NOTIFY_CHANNEL", "entityrt:events"),
		RedisNotifyWraps: env.GetBool("REDIS_NOTIFY_ENABLED", false),
	}
}
