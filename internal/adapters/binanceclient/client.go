// Package binanceclient provides a ports.PriceSource backed by the Binance spot
// ticker endpoint.
package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/shopspring/decimal"

	"portfolioLedger/internal/domain"
	"portfolioLedger/internal/ports"
)

const (
	// Base URLs
	baseURLProduction = "https://api.binance.com"
	baseURLTestnet    = "https://testnet.binance.vision"

	defaultQuoteAsset = "USDT"
)

// Compile-time check that Client implements ports.PriceSource.
var _ ports.PriceSource = (*Client)(nil)

// Client prices assets with the last traded price of ASSET+QUOTE on Binance spot.
type Client struct {
	spotClient *binance.Client
	logger     ports.Logger
	quoteAsset string
}

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey     string
	SecretKey  string
	UseTestnet bool
	// QuoteAsset is appended to asset symbols to form the market symbol (default USDT).
	QuoteAsset string
	// BaseURL overrides the endpoint selected by UseTestnet.
	BaseURL    string
	HTTPClient *http.Client
	Logger     ports.Logger
}

// New creates a new Binance client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		cfg.Logger.Debug(context.Background(), "APIKey or SecretKey is empty; using public endpoints only")
	}

	client := binance.NewClient(cfg.APIKey, cfg.SecretKey)

	switch {
	case cfg.BaseURL != "":
		client.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	case cfg.UseTestnet:
		client.BaseURL = baseURLTestnet
	default:
		client.BaseURL = baseURLProduction
	}
	if cfg.HTTPClient != nil {
		client.HTTPClient = cfg.HTTPClient
	}

	quote := domain.NormalizeSymbol(cfg.QuoteAsset)
	if quote == "" {
		quote = defaultQuoteAsset
	}
	cfg.Logger.Info(context.Background(), "Binance price source configured", ports.Fields{"baseURL": client.BaseURL, "quoteAsset": quote})

	return &Client{
		spotClient: client,
		logger:     cfg.Logger,
		quoteAsset: quote,
	}, nil
}

// Name identifies the source in logs.
func (c *Client) Name() string { return "binance" }

// MarketSymbol maps an asset symbol to the traded pair, e.g. BTC -> BTCUSDT.
// Symbols already quoted in the configured asset are used as is.
func (c *Client) MarketSymbol(symbol string) string {
	symbol = domain.NormalizeSymbol(symbol)
	if len(symbol) > len(c.quoteAsset) && strings.HasSuffix(symbol, c.quoteAsset) {
		return symbol
	}
	return symbol + c.quoteAsset
}

// GetPrice retrieves the last spot price for symbol.
func (c *Client) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	op := "GetPrice"
	market := c.MarketSymbol(symbol)

	prices, err := c.spotClient.NewListPricesService().Symbol(market).Do(ctx)
	if err != nil {
		return decimal.Zero, c.handleError(ctx, err, op)
	}
	for _, p := range prices {
		if p == nil || p.Symbol != market {
			continue
		}
		price, err := decimal.NewFromString(p.Price)
		if err != nil {
			return decimal.Zero, fmt.Errorf("%s failed: could not parse price '%s': %w: %w", op, p.Price, ports.ErrMalformedResponse, err)
		}
		c.logger.Debug(ctx, op+" successful", ports.Fields{"symbol": market, "price": p.Price})
		return price, nil
	}
	return decimal.Zero, fmt.Errorf("%s failed: no price returned for %s: %w", op, market, ports.ErrNotFound)
}

// Ping checks the connectivity to the exchange API.
func (c *Client) Ping(ctx context.Context) error {
	op := "Ping"
	if err := c.spotClient.NewPingService().Do(ctx); err != nil {
		return c.handleError(ctx, err, op)
	}
	c.logger.Debug(ctx, op+" successful")
	return nil
}

// handleError translates common Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := ports.Fields{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		var mappedErr error
		switch apiErr.Code {
		case -1121: // Invalid symbol
			mappedErr = ports.ErrNotFound
		case -1003, -1015: // Too many requests / too many orders
			mappedErr = ports.ErrRateLimited
		case -1021: // Timestamp for this request is outside of the recvWindow
			mappedErr = ports.ErrTimeout
		case -1022, -2014, -2015: // Signature or API-key rejected
			mappedErr = ports.ErrAuthenticationFailed
		case -1000, -1001, -1006, -1007, -1008: // Unknown, disconnected, unexpected response, timeout, overloaded
			mappedErr = ports.ErrSourceUnavailable
		case 0: // Error body did not carry a Binance code, e.g. a proxy or 5xx page
			mappedErr = ports.ErrSourceUnavailable
		default:
			mappedErr = ports.ErrUnknown
		}
		finalErr := fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
		if errors.Is(mappedErr, ports.ErrNotFound) {
			c.logger.Debug(ctx, operation+" unknown symbol", fields)
		} else {
			c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		}
		return finalErr
	}

	// Handle non-API errors (network, context cancellation, etc.)
	var finalErr error
	if errors.Is(err, context.DeadlineExceeded) {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	} else if errors.Is(err, context.Canceled) {
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	} else if strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "connection reset by peer") ||
		strings.Contains(err.Error(), "no such host") {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	} else {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}
