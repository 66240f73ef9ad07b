package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	"portfolioLedger/internal/domain"
	"portfolioLedger/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Compile-time check that Repository implements ports.Store.
var _ ports.Store = (*Repository)(nil)

// Repository implements the ports.PositionLedger, ports.TransactionJournal and
// ports.TxManager interfaces using SQLite.
type Repository struct {
	db *sql.DB
	store
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
	// Now stamps positions and journal entries. Defaults to time.Now.
	Now func() time.Time
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// store carries the ledger and journal queries over a querier, so the same
// code serves the pooled connection and an open transaction.
type store struct {
	q      querier
	logger ports.Logger
	now    func() time.Time
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/ledger.db"
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w: %w", dbPath, ports.ErrDBConnection, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w: %w", dbPath, ports.ErrDBConnection, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// A single connection serializes writers; transactions queue on it.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	cfg.Logger.Info(context.Background(), "SQLite database connection established", ports.Fields{"path": dbPath})

	repo := &Repository{
		db:    db,
		store: store{q: db, logger: cfg.Logger, now: now},
	}

	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "Database schema initialized/verified")

	return repo, nil
}

// initializeSchema creates tables if they don't exist.
// Decimals are stored as TEXT to keep their exact value; times as UTC unix nanoseconds.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS positions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		asset_symbol TEXT NOT NULL,
		quantity TEXT NOT NULL,
		average_cost TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		UNIQUE (user_id, asset_symbol)
	);

	CREATE TABLE IF NOT EXISTS transactions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		position_id INTEGER NOT NULL REFERENCES positions (id),
		user_id TEXT NOT NULL,
		type TEXT NOT NULL CHECK (type IN ('BUY', 'SELL')),
		asset_symbol TEXT NOT NULL,
		quantity TEXT NOT NULL,
		price TEXT NOT NULL,
		timestamp INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_transactions_user_time ON transactions (user_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_transactions_position_time ON transactions (user_id, asset_symbol, timestamp);
	`
	_, err := r.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

// WithTransaction executes fn within a database transaction.
// If fn returns an error, the transaction is rolled back and that error is
// returned unchanged. If fn panics, the transaction is rolled back and the
// panic re-raised. Begin and commit failures wrap ports.ErrInternalFailure.
func (r *Repository) WithTransaction(ctx context.Context, fn func(ctx context.Context, ledger ports.PositionLedger, journal ports.TransactionJournal) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w: %w", ports.ErrInternalFailure, err)
	}

	defer func() {
		if p := recover(); p != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				r.logger.Error(ctx, rbErr, "Failed to rollback transaction after panic")
			}
			panic(p)
		}
	}()

	txStore := &store{q: tx, logger: r.logger, now: r.now}
	if err := fn(ctx, txStore, txStore); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			r.logger.Error(ctx, rbErr, "Failed to rollback transaction", ports.Fields{"originalError": err.Error()})
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w: %w", ports.ErrInternalFailure, err)
	}
	return nil
}

// --- PositionLedger Implementation ---

// Get retrieves the position for a user and symbol. Returns nil, nil if absent.
func (s *store) Get(ctx context.Context, userID, symbol string) (*domain.Position, error) {
	const query = `
	SELECT id, user_id, asset_symbol, quantity, average_cost, updated_at
	FROM positions
	WHERE user_id = ? AND asset_symbol = ?`

	key := domain.NewPositionKey(userID, symbol)
	pos, err := scanPosition(s.q.QueryRowContext(ctx, query, key.UserID, key.AssetSymbol))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query position %s: %w: %w", key, ports.ErrQueryFailed, err)
	}
	return pos, nil
}

// ListByUser retrieves every position of a user, ordered by symbol.
func (s *store) ListByUser(ctx context.Context, userID string) ([]*domain.Position, error) {
	const query = `
	SELECT id, user_id, asset_symbol, quantity, average_cost, updated_at
	FROM positions
	WHERE user_id = ?
	ORDER BY asset_symbol`

	userID = domain.NewPositionKey(userID, "").UserID
	rows, err := s.q.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions for user %s: %w: %w", userID, ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	positions := make([]*domain.Position, 0)
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position during ListByUser: %w: %w", ports.ErrQueryFailed, err)
		}
		positions = append(positions, pos)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating position rows: %w: %w", ports.ErrQueryFailed, err)
	}
	return positions, nil
}

// Upsert replaces the stored state of the position key, creating it if absent.
func (s *store) Upsert(ctx context.Context, pos *domain.Position) error {
	const query = `
	INSERT INTO positions (user_id, asset_symbol, quantity, average_cost, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT (user_id, asset_symbol) DO UPDATE SET
		quantity = excluded.quantity,
		average_cost = excluded.average_cost,
		updated_at = excluded.updated_at
	RETURNING id`

	updatedAt := s.now().UTC()
	var id int64
	err := s.q.QueryRowContext(ctx, query,
		pos.UserID, pos.AssetSymbol, pos.Quantity.String(), pos.AverageCost.String(), updatedAt.UnixNano(),
	).Scan(&id)
	if err != nil {
		return fmt.Errorf("failed to upsert position %s: %w: %w", pos.Key(), ports.ErrUpdateFailed, err)
	}
	pos.ID = id
	pos.UpdatedAt = updatedAt
	s.logger.Debug(ctx, "Position upserted", ports.Fields{"positionID": id, "key": pos.Key().String(), "quantity": pos.Quantity.String()})
	return nil
}

// --- TransactionJournal Implementation ---

// Append stores a journal record, assigning its ID and timestamp.
func (s *store) Append(ctx context.Context, rec *domain.TransactionRecord) error {
	const query = `
	INSERT INTO transactions (position_id, user_id, type, asset_symbol, quantity, price, timestamp)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

	ts := s.now().UTC()
	result, err := s.q.ExecContext(ctx, query,
		rec.PositionID, rec.UserID, string(rec.Type), rec.AssetSymbol, rec.Quantity.String(), rec.Price.String(), ts.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to append transaction for %s: %w: %w", rec.PositionKey(), ports.ErrUpdateFailed, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert ID for transaction %s: %w: %w", rec.PositionKey(), ports.ErrUpdateFailed, err)
	}
	rec.ID = id
	rec.Timestamp = ts
	s.logger.Debug(ctx, "Transaction appended", ports.Fields{"transactionID": id, "key": rec.PositionKey().String(), "type": string(rec.Type)})
	return nil
}

// QueryByUser returns the user's records at or after since, newest first.
func (s *store) QueryByUser(ctx context.Context, userID string, since time.Time) ([]*domain.TransactionRecord, error) {
	const query = `
	SELECT id, position_id, user_id, type, asset_symbol, quantity, price, timestamp
	FROM transactions
	WHERE user_id = ? AND timestamp >= ?
	ORDER BY timestamp DESC, id DESC`

	return s.queryTransactions(ctx, "QueryByUser", query, domain.NewPositionKey(userID, "").UserID, sinceNanos(since))
}

// QueryByPosition returns every record of a position, newest first.
func (s *store) QueryByPosition(ctx context.Context, key domain.PositionKey) ([]*domain.TransactionRecord, error) {
	const query = `
	SELECT id, position_id, user_id, type, asset_symbol, quantity, price, timestamp
	FROM transactions
	WHERE user_id = ? AND asset_symbol = ?
	ORDER BY timestamp DESC, id DESC`

	return s.queryTransactions(ctx, "QueryByPosition", query, key.UserID, key.AssetSymbol)
}

func (s *store) queryTransactions(ctx context.Context, op, query string, args ...interface{}) ([]*domain.TransactionRecord, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w: %w", op, ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	records := make([]*domain.TransactionRecord, 0)
	for rows.Next() {
		rec, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("%s failed to scan transaction: %w: %w", op, ports.ErrQueryFailed, err)
		}
		records = append(records, rec)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s failed iterating transaction rows: %w: %w", op, ports.ErrQueryFailed, err)
	}
	return records, nil
}

// sinceNanos converts a lower bound to unix nanoseconds, clamping times that
// int64 nanoseconds cannot represent (including the zero time).
func sinceNanos(since time.Time) int64 {
	if since.Before(minNanosTime) {
		return math.MinInt64
	}
	return since.UnixNano()
}

var minNanosTime = time.Unix(0, math.MinInt64)

// --- Helper Scan Functions ---

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanPosition scans a row into a domain.Position struct.
func scanPosition(s scanner) (*domain.Position, error) {
	p := &domain.Position{}
	var qty, avg string
	var updatedAt int64
	if err := s.Scan(&p.ID, &p.UserID, &p.AssetSymbol, &qty, &avg, &updatedAt); err != nil {
		return nil, err // Handle sql.ErrNoRows in the caller
	}
	var err error
	if p.Quantity, err = decimal.NewFromString(qty); err != nil {
		return nil, fmt.Errorf("invalid stored quantity %q: %w", qty, err)
	}
	if p.AverageCost, err = decimal.NewFromString(avg); err != nil {
		return nil, fmt.Errorf("invalid stored average cost %q: %w", avg, err)
	}
	p.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return p, nil
}

// scanTransaction scans a row into a domain.TransactionRecord struct.
func scanTransaction(s scanner) (*domain.TransactionRecord, error) {
	rec := &domain.TransactionRecord{}
	var typ, qty, price string
	var ts int64
	if err := s.Scan(&rec.ID, &rec.PositionID, &rec.UserID, &typ, &rec.AssetSymbol, &qty, &price, &ts); err != nil {
		return nil, err
	}
	var err error
	if rec.Quantity, err = decimal.NewFromString(qty); err != nil {
		return nil, fmt.Errorf("invalid stored quantity %q: %w", qty, err)
	}
	if rec.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("invalid stored price %q: %w", price, err)
	}
	rec.Type = domain.TradeType(typ)
	rec.Timestamp = time.Unix(0, ts).UTC()
	return rec, nil
}
