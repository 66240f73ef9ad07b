package ports

import (
	"context"

	"github.com/shopspring/decimal"
)

// PriceSource is the downstream pricing dependency.
// Implementations must return an error wrapping ErrNotFound when the symbol is
// unknown to the source; any other error is treated as a source failure.
type PriceSource interface {
	// Name returns the source name (e.g., "market-service").
	Name() string
	// GetPrice retrieves the current price for an asset symbol.
	GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// PricingGateway is the fail-fast view of a PriceSource used by trade execution.
type PricingGateway interface {
	// FetchPrice returns the current price, or an error wrapping
	// ErrAssetNotFound or ErrPricingUnavailable.
	FetchPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}
