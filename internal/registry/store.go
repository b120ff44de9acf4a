package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"pyxis/internal/config"
	"pyxis/internal/logging"
	"pyxis/internal/services"
)

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// querier is the subset of *sql.DB and *sql.Tx the registry needs.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// reader holds the read surface shared by Store and Tx.
type reader struct {
	q       querier
	dialect *dialect
}

func (r reader) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return r.q.ExecContext(ctx, r.dialect.rebind(query), args...)
}

func (r reader) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return r.q.QueryContext(ctx, r.dialect.rebind(query), args...)
}

func (r reader) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return r.q.QueryRowContext(ctx, r.dialect.rebind(query), args...)
}

// Store is the canonical field registry.
type Store struct {
	reader
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time

	// batchSlot admits one batch run at a time on SQLite, which has a single
	// writer. Nil on PostgreSQL.
	batchSlot chan struct{}
}

// Tx is one registry transaction. Identity writes only happen through a Tx.
type Tx struct {
	reader
	tx  *sql.Tx
	now func() time.Time
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code()&0xff == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx = ensureContext(ctx)
	var (
		res     sql.Result
		execErr error
	)
	if err := retryOnBusy(ctx, func() error {
		res, execErr = s.exec(ctx, query, args...)
		return execErr
	}); err != nil {
		return nil, err
	}
	return res, nil
}

// Open connects to the backend named by the configuration and prepares the
// schema.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	dsn := cfg.DSN()
	if cfg.Storage.Driver == config.DriverSQLite {
		dsn = sqliteDSN(dsn, cfg.Storage.BusyTimeoutMS)
	}
	store, err := OpenDSN(ctx, cfg.Storage.Driver, dsn, logger)
	if err != nil {
		return nil, err
	}
	store.db.SetMaxOpenConns(cfg.Storage.MaxOpenConns)
	return store, nil
}

// OpenDSN connects with an explicit driver name and data source.
func OpenDSN(ctx context.Context, driver, dsn string, logger *slog.Logger) (*Store, error) {
	ctx = ensureContext(ctx)
	d, err := dialectFor(driver)
	if err != nil {
		return nil, &services.ConfigError{Field: "storage.driver", Reason: err.Error()}
	}
	if d == sqliteDialect && !strings.HasPrefix(dsn, "file:") {
		dsn = sqliteDSN(dsn, 0)
	}
	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, services.Wrap(services.ErrPersistence, "registry", "open", "open "+d.name+" database", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, services.Wrap(services.ErrPersistence, "registry", "open", "connect to "+d.name+" database", err)
	}

	store := &Store{
		reader: reader{q: db, dialect: d},
		db:     db,
		logger: logging.NewComponentLogger(logger, "registry"),
		now:    time.Now,
	}
	if d == sqliteDialect {
		store.batchSlot = make(chan struct{}, 1)
	}
	if err := store.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Driver reports the backend name.
func (s *Store) Driver() string { return s.dialect.name }

// AcquireBatchSlot blocks until this process may run a batch transaction or
// ctx ends. On SQLite only one batch runs at a time; PostgreSQL never blocks.
// The returned release must be called once the batch has finished.
func (s *Store) AcquireBatchSlot(ctx context.Context) (release func(), err error) {
	ctx = ensureContext(ctx)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.batchSlot == nil {
		return func() {}, nil
	}
	select {
	case s.batchSlot <- struct{}{}:
		return func() { <-s.batchSlot }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Begin starts a write transaction.
func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	ctx = ensureContext(ctx)
	var tx *sql.Tx
	err := retryOnBusy(ctx, func() error {
		var beginErr error
		tx, beginErr = s.db.BeginTx(ctx, nil)
		return beginErr
	})
	if err != nil {
		return nil, services.Wrap(services.ErrPersistence, "registry", "begin", "start transaction", err)
	}
	return &Tx{reader: reader{q: tx, dialect: s.dialect}, tx: tx, now: s.now}, nil
}

// WithTx runs fn in a transaction, committing on success and rolling back on
// error or panic.
func (s *Store) WithTx(ctx context.Context, fn func(*Tx) error) (err error) {
	tx, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// Commit commits the transaction.
func (t *Tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return services.Wrap(services.ErrPersistence, "registry", "commit", "commit transaction", err)
	}
	return nil
}

// Rollback aborts the transaction. Rolling back a finished transaction is a no-op.
func (t *Tx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}
