// Package store is the durable record store for identities, tools,
// AI requests and integrations. It exposes atomic conditional updates so
// admission and lifecycle transitions never rely on read-then-write.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/capitalize-ai/ai-pipeline/pkg/logger"
)

// Store errors
var (
	ErrNotFound          = errors.New("record not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// SQLStore implements the pipeline's persistence over database/sql.
type SQLStore struct {
	db     *sql.DB
	driver string
	logger *logger.Logger
}

// Open connects to the database and creates the schema if needed.
func Open(ctx context.Context, driver, dsn string, log *logger.Logger) (*SQLStore, error) {
	var (
		db  *sql.DB
		err error
	)

	switch driver {
	case DriverSQLite:
		db, err = openSQLite(dsn)
	case DriverPostgres:
		db, err = sql.Open("postgres", dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &SQLStore{
		db:     db,
		driver: driver,
		logger: log.Component("store"),
	}

	if err := s.db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	if err := s.createSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	s.logger.Info("store initialized", zap.String("driver", driver))
	return s, nil
}

func openSQLite(dsn string) (*sql.DB, error) {
	if dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// SQLite has a single writer; serializing at the pool also keeps
	// :memory: databases on one connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	return db, nil
}

// Ping checks database connectivity.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) createSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS identities (
			id                    TEXT PRIMARY KEY,
			daily_request_count   INTEGER NOT NULL DEFAULT 0,
			daily_limit           INTEGER NOT NULL DEFAULT 0,
			monthly_request_count INTEGER NOT NULL DEFAULT 0,
			monthly_limit         INTEGER NOT NULL DEFAULT 0,
			total_request_count   BIGINT  NOT NULL DEFAULT 0,
			last_request_day      TEXT    NOT NULL DEFAULT '',
			last_request_month    TEXT    NOT NULL DEFAULT '',
			last_request_at       BIGINT  NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS tools (
			id            TEXT PRIMARY KEY,
			slug          TEXT    NOT NULL UNIQUE,
			name          TEXT    NOT NULL,
			system_prompt TEXT    NOT NULL DEFAULT '',
			active        BOOLEAN NOT NULL DEFAULT TRUE,
			created_at    BIGINT  NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS ai_requests (
			id                 TEXT PRIMARY KEY,
			identity_id        TEXT    NOT NULL,
			tool_id            TEXT    NOT NULL,
			source             TEXT    NOT NULL,
			input              TEXT    NOT NULL,
			output             TEXT    NOT NULL DEFAULT '',
			status             TEXT    NOT NULL,
			prompt_tokens      INTEGER NOT NULL DEFAULT 0,
			completion_tokens  INTEGER NOT NULL DEFAULT 0,
			total_tokens       INTEGER NOT NULL DEFAULT 0,
			processing_time_ms BIGINT  NOT NULL DEFAULT 0,
			error              TEXT    NOT NULL DEFAULT '',
			error_kind         TEXT    NOT NULL DEFAULT '',
			created_at         BIGINT  NOT NULL,
			completed_at       BIGINT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ai_requests_identity ON ai_requests(identity_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS integrations (
			id                TEXT PRIMARY KEY,
			type              TEXT   NOT NULL,
			owner_identity_id TEXT   NOT NULL,
			status            TEXT   NOT NULL,
			webhook_secret    TEXT   NOT NULL DEFAULT '',
			webhook_url       TEXT   NOT NULL DEFAULT '',
			usage_count       BIGINT NOT NULL DEFAULT 0,
			error_count       BIGINT NOT NULL DEFAULT 0,
			last_used         BIGINT,
			last_error        TEXT   NOT NULL DEFAULT '',
			created_at        BIGINT NOT NULL
		)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// rebind rewrites ? placeholders into the driver's native form.
func (s *SQLStore) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func (s *SQLStore) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(query), args...)
}

func (s *SQLStore) exists(ctx context.Context, table, id string) (bool, error) {
	var one int
	err := s.queryRow(ctx, "SELECT 1 FROM "+table+" WHERE id = ?", id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
