package domain

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// CostScale is the number of decimal places kept for the average cost.
const CostScale int32 = 2

var (
	// ErrNonPositiveQuantity is returned when a trade quantity is zero or negative.
	ErrNonPositiveQuantity = errors.New("trade quantity must be positive")
	// ErrNonPositivePrice is returned when a trade price is zero or negative.
	ErrNonPositivePrice = errors.New("trade price must be positive")
	// ErrQuantityExceedsHolding is returned when a sell exceeds the held quantity.
	ErrQuantityExceedsHolding = errors.New("sell quantity exceeds held quantity")
)

// Position represents a user's holding of a single asset.
// Exactly one Position exists per (UserID, AssetSymbol); it is never deleted,
// even when Quantity drops to zero.
type Position struct {
	ID          int64           // Store-assigned identifier (0 until first persisted)
	UserID      string          // Owning user
	AssetSymbol string          // Upper-case asset symbol (e.g., "BTC")
	Quantity    decimal.Decimal // Units held, never negative
	AverageCost decimal.Decimal // Weighted average cost, CostScale decimals
	UpdatedAt   time.Time       // Last mutation time (store-assigned)
}

// NewPosition returns an empty position for key.
func NewPosition(key PositionKey) *Position {
	return &Position{
		UserID:      key.UserID,
		AssetSymbol: key.AssetSymbol,
		Quantity:    decimal.Zero,
		AverageCost: decimal.Zero,
	}
}

// Key returns the identity of the position.
func (p *Position) Key() PositionKey {
	return PositionKey{UserID: p.UserID, AssetSymbol: p.AssetSymbol}
}

// IsOpen reports whether any units are held.
// AverageCost carries no meaning while IsOpen is false.
func (p *Position) IsOpen() bool {
	return p.Quantity.IsPositive()
}

// Clone returns a copy that can be mutated without touching p.
func (p *Position) Clone() *Position {
	c := *p
	return &c
}

// ApplyBuy returns the position that results from buying qty units at price.
//
//	newQuantity    = oldQuantity + qty
//	newAverageCost = round((oldQuantity*oldAverageCost + qty*price) / newQuantity, 2, HALF_UP)
//
// p is not modified.
func (p *Position) ApplyBuy(qty, price decimal.Decimal) (*Position, error) {
	if !qty.IsPositive() {
		return nil, ErrNonPositiveQuantity
	}
	if !price.IsPositive() {
		return nil, ErrNonPositivePrice
	}
	next := p.Clone()
	next.Quantity = p.Quantity.Add(qty)
	if next.Quantity.IsZero() {
		// Unreachable while qty > 0; kept so the division below is always safe.
		return next, nil
	}
	totalCost := p.Quantity.Mul(p.AverageCost).Add(qty.Mul(price))
	// DivRound rounds the exact quotient half away from zero; values here are non-negative.
	next.AverageCost = totalCost.DivRound(next.Quantity, CostScale)
	return next, nil
}

// ApplySell returns the position that results from selling qty units.
// The average cost of the remaining units is left unchanged, including when the
// position is sold down to zero.
func (p *Position) ApplySell(qty decimal.Decimal) (*Position, error) {
	if !qty.IsPositive() {
		return nil, ErrNonPositiveQuantity
	}
	if p.Quantity.LessThan(qty) {
		return nil, ErrQuantityExceedsHolding
	}
	next := p.Clone()
	next.Quantity = p.Quantity.Sub(qty)
	return next, nil
}
