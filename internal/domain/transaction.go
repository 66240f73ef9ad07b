package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionRecord is an immutable journal entry for one executed trade.
type TransactionRecord struct {
	ID          int64           // Monotonically assigned by the journal
	PositionID  int64           // Owning position
	UserID      string          // Owning user (part of the position key)
	Type        TradeType       // BUY or SELL
	AssetSymbol string          // Traded asset
	Quantity    decimal.Decimal // Executed quantity, positive
	Price       decimal.Decimal // Price used for the trade, positive
	Timestamp   time.Time       // Assigned at append time (UTC)
}

// PositionKey returns the key of the position the record belongs to.
func (r *TransactionRecord) PositionKey() PositionKey {
	return PositionKey{UserID: r.UserID, AssetSymbol: r.AssetSymbol}
}

// Notional returns Quantity * Price.
func (r *TransactionRecord) Notional() decimal.Decimal {
	return r.Quantity.Mul(r.Price)
}
