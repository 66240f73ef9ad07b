package ports

import (
	"context"
	"time"

	"portfolioLedger/internal/domain"
)

// PositionLedger stores the current Position of every (user, symbol) pair.
type PositionLedger interface {
	// Get retrieves the position for a user and symbol.
	// Returns nil, nil if no position exists.
	Get(ctx context.Context, userID, symbol string) (*domain.Position, error)
	// ListByUser retrieves every position held by a user, ordered by symbol.
	ListByUser(ctx context.Context, userID string) ([]*domain.Position, error)
	// Upsert replaces the stored state for the position key, creating it if absent.
	// The store assigns pos.ID and pos.UpdatedAt.
	Upsert(ctx context.Context, pos *domain.Position) error
}

// TransactionJournal is the append-only log of executed trades.
type TransactionJournal interface {
	// Append stores rec durably. The journal assigns rec.ID and rec.Timestamp;
	// any caller supplied values are overwritten.
	Append(ctx context.Context, rec *domain.TransactionRecord) error
	// QueryByUser returns the user's records with Timestamp >= since, newest first.
	QueryByUser(ctx context.Context, userID string, since time.Time) ([]*domain.TransactionRecord, error)
	// QueryByPosition returns every record of the position, newest first.
	QueryByPosition(ctx context.Context, key domain.PositionKey) ([]*domain.TransactionRecord, error)
}

// TxManager runs a unit of work against a ledger and a journal that share one
// storage transaction.
type TxManager interface {
	// WithTransaction executes fn within a database transaction.
	// If fn returns an error, or commit fails, nothing fn wrote is kept.
	WithTransaction(ctx context.Context, fn func(ctx context.Context, ledger PositionLedger, journal TransactionJournal) error) error
}

// Store is the full persistence surface used by the application.
type Store interface {
	PositionLedger
	TransactionJournal
	TxManager
	Close() error
}
