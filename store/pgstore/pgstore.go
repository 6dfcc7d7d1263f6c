// Package pgstore is a PostgreSQL-backed store.Store, adapted from eve's
// db.StateStore: a pgxpool.Pool, plain SQL with an ON CONFLICT upsert, and a
// LISTEN/NOTIFY-driven store.Subscriber built the way db.Listener drives its
// reconnect loop.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"eve.evalgo.org/entityrt/runtimelog"
	"eve.evalgo.org/entityrt/store"
)

// Schema is the DDL CommitEvent/CommitSnapshot/GetEvents/GetLatestSnapshot
// expect. Callers run it once against their database before using Store;
// it is not applied automatically since the runtime neither owns migrations
// nor assumes permission to create tables.
const Schema = `
CREATE TABLE IF NOT EXISTS entityrt_events (
	entity_id  TEXT NOT NULL,
	version    INTEGER NOT NULL,
	data       BYTEA NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (entity_id, version)
);

CREATE TABLE IF NOT EXISTS entityrt_snapshots (
	entity_id  TEXT PRIMARY KEY,
	version    INTEGER NOT NULL,
	data       BYTEA NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Store is a pgxpool-backed store.Store.
type Store struct {
	pool    *pgxpool.Pool
	channel string
	log     *runtimelog.Logger
}

// New wraps pool as a Store. notifyChannel is the Postgres NOTIFY channel
// name CommitEvent publishes to and SubscribeEvents listens on; pass "" to
// disable notification (SubscribeEvents then returns an error).
func New(pool *pgxpool.Pool, notifyChannel string, log *runtimelog.Logger) *Store {
	if log == nil {
		log = runtimelog.New(nil)
	}
	return &Store{pool: pool, channel: notifyChannel, log: log}
}

var _ store.Store = (*Store)(nil)
var _ store.Clearer = (*Store)(nil)
var _ store.Subscriber = (*Store)(nil)

func (s *Store) currentVersion(ctx context.Context, tx pgx.Tx, entityID string) (int, error) {
	var snapVersion, eventVersion int
	err := tx.QueryRow(ctx, `SELECT COALESCE(version, 0) FROM entityrt_snapshots WHERE entity_id = $1`, entityID).Scan(&snapVersion)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("pgstore: read snapshot version: %w", err)
	}
	err = tx.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM entityrt_events WHERE entity_id = $1`, entityID).Scan(&eventVersion)
	if err != nil {
		return 0, fmt.Errorf("pgstore: read max event version: %w", err)
	}
	if eventVersion > snapVersion {
		return eventVersion, nil
	}
	return snapVersion, nil
}

// CommitEvent implements store.Store, committing the insert and the
// optional NOTIFY in a single transaction.
func (s *Store) CommitEvent(ctx context.Context, entityID string, version int, data []byte) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("pgstore: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	cur, err := s.currentVersion(ctx, tx, entityID)
	if err != nil {
		return err
	}
	if version != cur+1 {
		return store.ErrVersionConflict
	}

	_, err = tx.Exec(ctx, `INSERT INTO entityrt_events (entity_id, version, data) VALUES ($1, $2, $3)`, entityID, version, data)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			return store.ErrVersionConflict
		}
		return fmt.Errorf("pgstore: insert event: %w", err)
	}

	if s.channel != "" {
		payload, err := json.Marshal(map[string]interface{}{"entity_id": entityID, "version": version})
		if err != nil {
			return fmt.Errorf("pgstore: marshal notify payload: %w", err)
		}
		if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, s.channel, string(payload)); err != nil {
			return fmt.Errorf("pgstore: notify: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("pgstore: commit: %w", err)
	}
	return nil
}

// GetEvents implements store.Store. fromVersion is exclusive.
func (s *Store) GetEvents(ctx context.Context, entityID string, fromVersion int) ([]store.Event, error) {
	rows, err := s.pool.Query(ctx, `SELECT version, data FROM entityrt_events WHERE entity_id = $1 AND version > $2 ORDER BY version ASC`, entityID, fromVersion)
	if err != nil {
		return nil, fmt.Errorf("pgstore: query events: %w", err)
	}
	defer rows.Close()

	var out []store.Event
	for rows.Next() {
		var e store.Event
		if err := rows.Scan(&e.Version, &e.Data); err != nil {
			return nil, fmt.Errorf("pgstore: scan event: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgstore: iterate events: %w", err)
	}
	return out, nil
}

// GetLatestSnapshot implements store.Store.
func (s *Store) GetLatestSnapshot(ctx context.Context, entityID string) (store.Snapshot, bool, error) {
	var snap store.Snapshot
	err := s.pool.QueryRow(ctx, `SELECT version, data FROM entityrt_snapshots WHERE entity_id = $1`, entityID).Scan(&snap.Version, &snap.Data)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Snapshot{}, false, nil
	}
	if err != nil {
		return store.Snapshot{}, false, fmt.Errorf("pgstore: get snapshot: %w", err)
	}
	return snap, true, nil
}

// CommitSnapshot implements store.Store.
func (s *Store) CommitSnapshot(ctx context.Context, entityID string, version int, data []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO entityrt_snapshots (entity_id, version, data, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (entity_id) DO UPDATE SET version = $2, data = $3, updated_at = now()`,
		entityID, version, data)
	if err != nil {
		return fmt.Errorf("pgstore: upsert snapshot: %w", err)
	}
	return nil
}

// ClearEntity implements store.Clearer.
func (s *Store) ClearEntity(ctx context.Context, entityID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("pgstore: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM entityrt_events WHERE entity_id = $1`, entityID); err != nil {
		return fmt.Errorf("pgstore: delete events: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM entityrt_snapshots WHERE entity_id = $1`, entityID); err != nil {
		return fmt.Errorf("pgstore: delete snapshot: %w", err)
	}
	return tx.Commit(ctx)
}

// SubscribeEvents implements store.Subscriber via LISTEN/NOTIFY: it holds a
// dedicated connection for the lifetime of the subscription and calls
// onWake whenever a notification for entityID arrives, reconnecting on
// error the way db.Listener.listenLoop does.
func (s *Store) SubscribeEvents(ctx context.Context, entityID string, onWake store.WakeFunc) (func(), error) {
	if s.channel == "" {
		return nil, fmt.Errorf("pgstore: no notify channel configured")
	}

	subCtx, cancel := context.WithCancel(ctx)
	go s.listenLoop(subCtx, entityID, onWake)
	return cancel, nil
}

func (s *Store) listenLoop(ctx context.Context, entityID string, onWake store.WakeFunc) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := s.listenOnce(ctx, entityID, onWake); err != nil {
			s.log.WithField("entity", entityID).WithError(err).Warn("pgstore listen error, reconnecting")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
		}
	}
}

func (s *Store) listenOnce(ctx context.Context, entityID string, onWake store.WakeFunc) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, fmt.Sprintf("LISTEN %s", s.channel)); err != nil {
		return fmt.Errorf("LISTEN: %w", err)
	}

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}
		var payload struct {
			EntityID string `json:"entity_id"`
		}
		if err := json.Unmarshal([]byte(notification.Payload), &payload); err != nil {
			continue
		}
		if payload.EntityID == entityID {
			onWake()
		}
	}
}
