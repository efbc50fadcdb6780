// Package audit persists session lifecycle events (created, rejected,
// ended) to Postgres for operational review: a pgxpool connection pool
// with schema migrations run through golang-migrate over lib/pq, and a
// single session_events table.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"

	"github.com/noisefs-labs/execcore/pkg/session"
)

// Config configures a Store's connection and migrations.
type Config struct {
	DSN            string
	MaxConnections int32
	ConnectTimeout time.Duration
	MigrationsPath string
}

func (c *Config) applyDefaults() {
	if c.MaxConnections == 0 {
		c.MaxConnections = 5
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.MigrationsPath == "" {
		c.MigrationsPath = "file://pkg/audit/migrations"
	}
}

// EventType names the kind of session_events row.
type EventType string

const (
	EventCreated  EventType = "created"
	EventRejected EventType = "rejected"
	EventEnded    EventType = "ended"
)

// Store is a Postgres-backed session lifecycle audit log. It implements
// entrypoint.AuditSink.
type Store struct {
	pool *pgxpool.Pool
	cfg  Config
}

// Open connects to cfg.DSN and verifies connectivity with a ping. It does
// not run migrations; call Migrate separately so callers can decide when
// schema changes apply.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("audit: DSN is required")
	}
	cfg.applyDefaults()

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("audit: parsing DSN: %w", err)
	}
	poolConfig.MaxConns = cfg.MaxConnections

	timeoutCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(timeoutCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("audit: creating connection pool: %w", err)
	}
	if err := pool.Ping(timeoutCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("audit: pinging database: %w", err)
	}

	return &Store{pool: pool, cfg: cfg}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Migrate applies all pending migrations under cfg.MigrationsPath.
func (s *Store) Migrate() error {
	db, err := sql.Open("postgres", s.cfg.DSN)
	if err != nil {
		return fmt.Errorf("audit: opening migration connection: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("audit: creating migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(s.cfg.MigrationsPath, "postgres", driver)
	if err != nil {
		return fmt.Errorf("audit: creating migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("audit: applying migrations: %w", err)
	}
	return nil
}

func (s *Store) insert(ctx context.Context, sessionID uint64, event EventType, tagMask session.TagMask, duration *time.Duration, detail string) error {
	var durationMs *int64
	if duration != nil {
		ms := duration.Milliseconds()
		durationMs = &ms
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO session_events (session_id, event_type, tag_mask, duration_ms, detail) VALUES ($1, $2, $3, $4, $5)`,
		sessionID, string(event), int64(tagMask), durationMs, detail,
	)
	if err != nil {
		return fmt.Errorf("audit: recording %s event for session %d: %w", event, sessionID, err)
	}
	return nil
}

// SessionCreated records an admitted connection. Implements
// entrypoint.AuditSink; a write error is discarded (neither logged nor
// returned), so a failed audit write never fails the connection it
// describes. SessionRejected and SessionEnded do the same.
func (s *Store) SessionCreated(sessionID uint64) {
	_ = s.insert(context.Background(), sessionID, EventCreated, session.EmptyTagMask, nil, "")
}

// SessionRejected records an admission refusal. attemptedConnections is
// the connection count that would have resulted had admission succeeded,
// recorded in the detail column as "attempted_connections=N"; the session
// id is stored as 0, since a rejected connection never gets a
// session.Session of its own.
func (s *Store) SessionRejected(attemptedConnections int64) {
	_ = s.insert(context.Background(), 0, EventRejected, session.EmptyTagMask, nil, fmt.Sprintf("attempted_connections=%d", attemptedConnections))
}

// SessionEnded records a session's termination, tag mask, and lifetime.
func (s *Store) SessionEnded(sessionID uint64, tags session.TagMask, duration time.Duration) {
	d := duration
	_ = s.insert(context.Background(), sessionID, EventEnded, tags, &d, "")
}

// CountByType returns the number of rows recorded for event; the tests use
// it to check what was written.
func (s *Store) CountByType(ctx context.Context, event EventType) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM session_events WHERE event_type = $1`, string(event)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("audit: counting %s events: %w", event, err)
	}
	return n, nil
}
