// Package pricing implements the PricingGateway: a PriceSource behind a call
// timeout and a circuit breaker.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"portfolioLedger/internal/breaker"
	"portfolioLedger/internal/domain"
	"portfolioLedger/internal/ports"
)

// Compile-time check that Gateway implements ports.PricingGateway.
var _ ports.PricingGateway = (*Gateway)(nil)

// Config holds configuration for the pricing gateway.
type Config struct {
	Source  ports.PriceSource
	Logger  ports.Logger
	Breaker breaker.Config

	// CallTimeout bounds every downstream call.
	CallTimeout time.Duration
}

const defaultCallTimeout = 3 * time.Second

// Gateway fetches prices from a PriceSource, failing fast while the source is
// considered unhealthy.
type Gateway struct {
	source      ports.PriceSource
	logger      ports.Logger
	breaker     *breaker.Breaker
	callTimeout time.Duration
}

// NewGateway creates a pricing gateway.
func NewGateway(cfg Config) (*Gateway, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("price source is required for pricing gateway")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for pricing gateway")
	}
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}

	g := &Gateway{
		source:      cfg.Source,
		logger:      cfg.Logger,
		callTimeout: timeout,
	}

	bcfg := cfg.Breaker
	userHook := bcfg.OnStateChange
	bcfg.OnStateChange = func(from, to breaker.State) {
		g.logTransition(from, to)
		if userHook != nil {
			userHook(from, to)
		}
	}
	g.breaker = breaker.New(bcfg)

	return g, nil
}

// FetchPrice returns the current price of symbol.
//
// Errors wrap ports.ErrAssetNotFound when the source does not know the symbol,
// and ports.ErrPricingUnavailable when the breaker is open or the call failed.
func (g *Gateway) FetchPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	op := "FetchPrice"
	symbol = domain.NormalizeSymbol(symbol)

	permit, err := g.breaker.Allow()
	if err != nil {
		g.logger.Debug(ctx, op+": rejected locally", ports.Fields{"symbol": symbol, "source": g.source.Name()})
		return decimal.Zero, fmt.Errorf("%s %s: %w: %w", op, symbol, ports.ErrPricingUnavailable, ports.ErrBreakerOpen)
	}

	callCtx, cancel := context.WithTimeout(ctx, g.callTimeout)
	price, err := g.source.GetPrice(callCtx, symbol)
	deadlineHit := errors.Is(callCtx.Err(), context.DeadlineExceeded)
	cancel()

	if err == nil && !price.IsPositive() {
		err = fmt.Errorf("non-positive price %s for %s: %w", price, symbol, ports.ErrMalformedResponse)
	}

	outcome := g.classify(ctx, err, deadlineHit)
	permit.Done(outcome)

	switch {
	case err == nil:
		g.logger.Debug(ctx, op+": price obtained", ports.Fields{"symbol": symbol, "price": price.String(), "source": g.source.Name()})
		return price, nil
	case errors.Is(err, ports.ErrNotFound):
		return decimal.Zero, fmt.Errorf("%s %s: %w: %w", op, symbol, ports.ErrAssetNotFound, err)
	default:
		g.logger.Warn(ctx, op+": price source call failed", ports.Fields{
			"symbol":  symbol,
			"source":  g.source.Name(),
			"trial":   permit.Trial(),
			"outcome": outcomeName(outcome),
			"error":   err.Error(),
		})
		if deadlineHit && !errors.Is(err, ports.ErrTimeout) {
			err = fmt.Errorf("%w: %w", ports.ErrTimeout, err)
		}
		return decimal.Zero, fmt.Errorf("%s %s: %w: %w", op, symbol, ports.ErrPricingUnavailable, err)
	}
}

// State returns the breaker state.
func (g *Gateway) State() breaker.State {
	return g.breaker.State()
}

// Snapshot returns the breaker counters.
func (g *Gateway) Snapshot() breaker.Snapshot {
	return g.breaker.Snapshot()
}

// classify decides how a call result counts against the breaker.
// An unknown symbol is a valid answer from a healthy source. A call abandoned
// because the caller cancelled says nothing about the source; running out of
// time does.
func (g *Gateway) classify(ctx context.Context, err error, deadlineHit bool) breaker.Outcome {
	switch {
	case err == nil, errors.Is(err, ports.ErrNotFound):
		return breaker.Success
	case deadlineHit:
		return breaker.Failure
	case errors.Is(ctx.Err(), context.Canceled):
		return breaker.Ignored
	default:
		return breaker.Failure
	}
}

func (g *Gateway) logTransition(from, to breaker.State) {
	ctx := context.Background()
	fields := ports.Fields{"from": from.String(), "to": to.String(), "source": g.source.Name()}
	if to == breaker.StateOpen {
		g.logger.Warn(ctx, "Pricing circuit breaker opened", fields)
		return
	}
	g.logger.Info(ctx, "Pricing circuit breaker state changed", fields)
}

func outcomeName(o breaker.Outcome) string {
	switch o {
	case breaker.Success:
		return "success"
	case breaker.Failure:
		return "failure"
	default:
		return "ignored"
	}
}
