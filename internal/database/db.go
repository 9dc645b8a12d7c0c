// Package database is the persistent record store. It runs on an embedded
// SQLite file by default, or on ClickHouse when configured.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	_ "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/rs/zerolog/log"

	"github.com/your-username/tailhub/internal/config"
	"github.com/your-username/tailhub/internal/models"
	"github.com/your-username/tailhub/internal/monitoring"
)

var (
	// ErrNotInitialized is returned by every operation before Init succeeds.
	ErrNotInitialized = errors.New("store not initialized")
	// ErrDuplicateKey is returned when a record id is already stored.
	ErrDuplicateKey = errors.New("duplicate record id")
)

// Mirror receives a copy of every stored record.
type Mirror interface {
	Append(r *models.Record) error
}

type DB struct {
	conn    *sql.DB
	dialect dialect
	path    string
	timeout time.Duration
	ready   atomic.Bool

	mirror  Mirror
	metrics *monitoring.Metrics
}

type Option func(*DB)

// WithMirror appends every stored record to m.
func WithMirror(m Mirror) Option {
	return func(db *DB) { db.mirror = m }
}

// WithMetrics records operation timings and failures.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(db *DB) { db.metrics = m }
}

// New opens the configured engine and checks the connection. The schema is
// not touched until Init.
func New(cfg config.DatabaseConfig, opts ...Option) (*DB, error) {
	d, err := dialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}

	db := &DB{dialect: d, path: cfg.Path, timeout: cfg.QueryTimeout}
	if db.timeout <= 0 {
		db.timeout = 5 * time.Second
	}
	for _, opt := range opts {
		opt(db)
	}

	switch cfg.Driver {
	case config.DriverSQLite:
		if dir := filepath.Dir(cfg.Path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database dir: %w", err)
			}
		}
		dsn := cfg.Path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
		db.conn, err = sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		// one writer; the busy timeout covers external readers
		db.conn.SetMaxOpenConns(1)
		log.Info().Str("path", cfg.Path).Msg("Opening SQLite store")
	case config.DriverClickHouse:
		db.conn, err = sql.Open("clickhouse", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open clickhouse: %w", err)
		}
		log.Info().Msg("Connecting to ClickHouse store")
	}

	ctx, cancel := context.WithTimeout(context.Background(), db.timeout)
	defer cancel()
	if err := db.conn.PingContext(ctx); err != nil {
		db.conn.Close()
		return nil, fmt.Errorf("failed to test %s connection: %w", d.name, err)
	}
	return db, nil
}

// Init creates the tables and indexes if they do not exist. It is safe to
// call more than once.
func (db *DB) Init(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, db.timeout)
	defer cancel()

	for _, stmt := range db.dialect.schema {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	db.ready.Store(true)
	log.Info().Str("driver", db.dialect.name).Msg("Database schema initialized")
	return nil
}

// Driver returns the engine name.
func (db *DB) Driver() string {
	return db.dialect.name
}

func (db *DB) Close() error {
	db.ready.Store(false)
	return db.conn.Close()
}

func (db *DB) begin(ctx context.Context, op string) (context.Context, context.CancelFunc, error) {
	if !db.ready.Load() {
		return nil, nil, ErrNotInitialized
	}
	ctx, cancel := context.WithTimeout(ctx, db.timeout)
	start := time.Now()
	return ctx, func() {
		cancel()
		db.metrics.ObserveOperation(op, start)
	}, nil
}
