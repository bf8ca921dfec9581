// Package db is the persistence layer: connection setup, migrations and the
// request-scoped Session that carries all queries.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"
	_ "modernc.org/sqlite"

	"sms-server-go/logger"
)

// Dialect names the SQL flavour behind a Store.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// sqlite pragmas applied to every connection.
const sqliteParams = "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate"

// Target is a parsed database location.
type Target struct {
	Dialect Dialect
	DSN     string
}

// ParseURL resolves a database URL into a driver DSN. Postgres URLs are
// passed through; anything else is treated as sqlite: "sqlite:///./sms.db",
// "sqlite://path", "file:path", a plain path, or ":memory:".
func ParseURL(raw string) (Target, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Target{}, errors.New("database url is empty")
	}

	if strings.HasPrefix(raw, "postgres://") || strings.HasPrefix(raw, "postgresql://") {
		return Target{Dialect: DialectPostgres, DSN: raw}, nil
	}

	path := raw
	switch {
	case strings.HasPrefix(raw, "sqlite:///"):
		path = strings.TrimPrefix(raw, "sqlite:///")
	case strings.HasPrefix(raw, "sqlite://"):
		path = strings.TrimPrefix(raw, "sqlite://")
	case strings.Contains(raw, "://"):
		return Target{}, fmt.Errorf("unsupported database url scheme: %s", raw)
	}

	if path == "" || path == ":memory:" {
		return Target{Dialect: DialectSQLite, DSN: ":memory:?" + sqliteParams}, nil
	}
	if !strings.HasPrefix(path, "file:") {
		path = "file:" + path
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return Target{Dialect: DialectSQLite, DSN: path + sep + sqliteParams}, nil
}

// Store owns the connection pool.
type Store struct {
	sqldb   *sql.DB
	bun     *bun.DB
	dialect Dialect
}

// Open connects to the database named by rawURL and verifies the connection.
func Open(ctx context.Context, rawURL string) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}

	target, err := ParseURL(rawURL)
	if err != nil {
		return nil, err
	}

	driverName := "sqlite"
	if target.Dialect == DialectPostgres {
		driverName = "pgx"
	}

	sqldb, err := sql.Open(driverName, target.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", target.Dialect, err)
	}
	if target.Dialect == DialectSQLite {
		// One writer; also keeps an in-memory database alive across queries.
		sqldb.SetMaxOpenConns(1)
	}

	if err := sqldb.PingContext(ctx); err != nil {
		sqldb.Close()
		logger.LogError("Failed to ping database", err, "dialect", target.Dialect)
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return New(sqldb, target.Dialect), nil
}

// New wraps an already opened *sql.DB.
func New(sqldb *sql.DB, dialect Dialect) *Store {
	var d schema.Dialect
	if dialect == DialectPostgres {
		d = pgdialect.New()
	} else {
		d = sqlitedialect.New()
	}
	return &Store{
		sqldb:   sqldb,
		bun:     bun.NewDB(sqldb, d),
		dialect: dialect,
	}
}

// Dialect reports the SQL flavour in use.
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// Close gracefully closes the connection pool and releases all resources.
func (s *Store) Close() error {
	if s.bun == nil {
		return nil
	}
	return s.bun.Close()
}

// Acquire checks out one connection for the caller. The returned Session
// must be released; it is not safe for concurrent use.
func (s *Store) Acquire(ctx context.Context) (*Session, error) {
	conn, err := s.bun.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	return &Session{
		idb:     &conn,
		dialect: s.dialect,
		release: conn.Close,
	}, nil
}

// WithSession acquires a Session, runs fn and releases the Session on every
// exit path.
func (s *Store) WithSession(ctx context.Context, fn func(sess *Session) error) error {
	sess, err := s.Acquire(ctx)
	if err != nil {
		return err
	}
	defer sess.Release()
	return fn(sess)
}
