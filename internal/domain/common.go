package domain

import (
	"fmt"
	"strings"
)

// TradeType represents the direction of a trade (BUY or SELL).
type TradeType string

const (
	Buy  TradeType = "BUY"
	Sell TradeType = "SELL"
)

// ParseTradeType converts a user supplied string into a TradeType.
// Matching is case-insensitive; surrounding whitespace is ignored.
func ParseTradeType(s string) (TradeType, error) {
	switch TradeType(strings.ToUpper(strings.TrimSpace(s))) {
	case Buy:
		return Buy, nil
	case Sell:
		return Sell, nil
	default:
		return "", fmt.Errorf("unknown trade type %q (expected BUY or SELL)", s)
	}
}

// IsValid reports whether t is BUY or SELL.
func (t TradeType) IsValid() bool {
	return t == Buy || t == Sell
}

// PositionKey identifies a Position: one per (user, asset symbol) pair.
type PositionKey struct {
	UserID      string
	AssetSymbol string
}

// NewPositionKey builds a key with the user id trimmed and the symbol normalized.
func NewPositionKey(userID, symbol string) PositionKey {
	return PositionKey{UserID: strings.TrimSpace(userID), AssetSymbol: NormalizeSymbol(symbol)}
}

// String returns "user/SYMBOL".
func (k PositionKey) String() string {
	return k.UserID + "/" + k.AssetSymbol
}

// NormalizeSymbol trims and upper-cases an asset symbol (e.g. " btc " -> "BTC").
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
