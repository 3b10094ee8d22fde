// Package postgres implements store.Store on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/alfredjeanlab/pipeflow/internal/model"
	"github.com/alfredjeanlab/pipeflow/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is a store.Store backed by a database handle. Inside
// RunInTransaction the same type runs its queries on the transaction.
type Store struct {
	db   *sql.DB // nil for transaction-scoped stores
	exec executor
}

var _ store.Store = (*Store)(nil)

type options struct {
	maxOpen     int
	maxIdle     int
	maxLifetime time.Duration
	pingTimeout time.Duration
}

// Option tunes the connection pool.
type Option func(*options)

// WithMaxConns caps open and idle connections.
func WithMaxConns(open, idle int) Option {
	return func(o *options) { o.maxOpen, o.maxIdle = open, idle }
}

// WithConnMaxLifetime recycles connections older than d.
func WithConnMaxLifetime(d time.Duration) Option {
	return func(o *options) { o.maxLifetime = d }
}

// New connects to databaseURL, applies pending migrations and returns the
// store.
func New(ctx context.Context, databaseURL string, opts ...Option) (*Store, error) {
	o := options{maxOpen: 25, maxIdle: 5, maxLifetime: 5 * time.Minute, pingTimeout: 10 * time.Second}
	for _, fn := range opts {
		fn(&o)
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(o.maxOpen)
	db.SetMaxIdleConns(o.maxIdle)
	db.SetConnMaxLifetime(o.maxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, o.pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return NewFromDB(db), nil
}

// NewFromDB wraps an open handle without migrating it.
func NewFromDB(db *sql.DB) *Store {
	return &Store{db: db, exec: db}
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("migrations source: %w", err)
	}
	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("migrations driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// SchemaVersion reports the applied migration version and whether the
// last migration left the schema dirty.
func (s *Store) SchemaVersion(ctx context.Context) (version int64, dirty bool, err error) {
	err = s.exec.QueryRowContext(ctx, `SELECT version, dirty FROM schema_migrations LIMIT 1`).Scan(&version, &dirty)
	if err != nil {
		return 0, false, fmt.Errorf("schema version: %w", err)
	}
	return version, dirty, nil
}

// Close releases the connection pool. It is a no-op inside a transaction.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RunInTransaction runs fn against a store bound to one transaction,
// committing when fn succeeds. Nested calls join the open transaction.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	if s.db == nil {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(&Store{exec: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *Store) SavePipeline(ctx context.Context, p *model.Pipeline) error {
	return querySavePipeline(ctx, s.exec, p)
}

func (s *Store) GetPipeline(ctx context.Context, id string) (*model.Pipeline, error) {
	return queryGetPipeline(ctx, s.exec, id)
}

func (s *Store) ListPipelines(ctx context.Context, filter model.PipelineFilter) ([]*model.Pipeline, int, error) {
	return queryListPipelines(ctx, s.exec, filter)
}

func (s *Store) DeletePipeline(ctx context.Context, id string) error {
	return queryDeletePipeline(ctx, s.exec, id)
}

func (s *Store) RecordRun(ctx context.Context, run *model.ValidationRun) error {
	return queryRecordRun(ctx, s.exec, run)
}

func (s *Store) ListRuns(ctx context.Context, pipelineID string, limit int) ([]*model.ValidationRun, error) {
	return queryListRuns(ctx, s.exec, pipelineID, limit)
}

func (s *Store) RecordEvent(ctx context.Context, event *model.Event) error {
	return queryRecordEvent(ctx, s.exec, event)
}

func (s *Store) GetEvents(ctx context.Context, pipelineID string) ([]*model.Event, error) {
	return queryGetEvents(ctx, s.exec, pipelineID)
}
