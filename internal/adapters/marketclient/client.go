// Package marketclient implements ports.PriceSource against the market
// service's asset lookup endpoint:
//
//	GET {baseURL}/api/assets/symbol/{symbol}
//
// Requests are rate limited client-side. The client does not retry; the
// pricing gateway decides what a failure means.
package marketclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"portfolioLedger/internal/domain"
	"portfolioLedger/internal/ports"
)

// Compile-time check that Client implements ports.PriceSource.
var _ ports.PriceSource = (*Client)(nil)

// maxBodyBytes caps how much of a response is read.
const maxBodyBytes = 1 << 20

// Config holds configuration for the market service client.
type Config struct {
	// BaseURL of the market service. Defaults to http://localhost:8082
	BaseURL string

	// Timeout is the HTTP client timeout, a backstop to the caller's context.
	// Defaults to 10s.
	Timeout time.Duration

	// RateLimitPerMin is the client-side request budget. Defaults to 600.
	RateLimitPerMin int

	Logger ports.Logger

	// HTTPClient is an optional custom HTTP client.
	HTTPClient *http.Client
}

// ConfigDefaults returns a config with default values.
func ConfigDefaults() Config {
	return Config{
		BaseURL:         "http://localhost:8082",
		Timeout:         10 * time.Second,
		RateLimitPerMin: 600,
	}
}

// AssetDTO is the market service's asset representation.
type AssetDTO struct {
	ID           int64           `json:"id"`
	Symbol       string          `json:"symbol"`
	Name         string          `json:"name"`
	CurrentPrice decimal.Decimal `json:"currentPrice"`
	Type         string          `json:"type"`
}

// Client fetches current asset prices from the market service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     ports.Logger
	limiter    *rate.Limiter
}

// NewClient creates a market service client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, errors.New("logger is required for market client")
	}
	defaults := ConfigDefaults()
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaults.BaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.RateLimitPerMin <= 0 {
		cfg.RateLimitPerMin = defaults.RateLimitPerMin
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid market service URL %q: %w", cfg.BaseURL, err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	// Requests per second from requests per minute, allowing short bursts.
	rps := float64(cfg.RateLimitPerMin) / 60.0
	burst := cfg.RateLimitPerMin / 60
	if burst < 1 {
		burst = 1
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: httpClient,
		logger:     cfg.Logger,
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
	}, nil
}

// Name returns the source name.
func (c *Client) Name() string {
	return "market-service"
}

// GetAsset fetches the asset record for symbol.
func (c *Client) GetAsset(ctx context.Context, symbol string) (*AssetDTO, error) {
	op := "GetAsset"
	symbol = domain.NormalizeSymbol(symbol)
	if symbol == "" {
		return nil, fmt.Errorf("%s failed: empty symbol: %w", op, ports.ErrInvalidRequest)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s failed: rate limiter: %w", op, classifyTransport(ctx, err))
		}
		// The wait would outlast the caller's deadline.
		return nil, fmt.Errorf("%s failed: %w: %w", op, ports.ErrRateLimited, err)
	}

	endpoint := fmt.Sprintf("%s/api/assets/symbol/%s", c.baseURL, url.PathEscape(symbol))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%s failed: creating request: %w: %w", op, ports.ErrInvalidRequest, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s failed: HTTP request: %w", op, classifyTransport(ctx, err))
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn(ctx, "Failed to close response body", ports.Fields{"error": closeErr.Error()})
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%s failed: reading response body: %w", op, classifyTransport(ctx, err))
	}

	if statusErr := statusError(resp.StatusCode); statusErr != nil {
		c.logger.Debug(ctx, op+" non-success status", ports.Fields{"symbol": symbol, "status": resp.StatusCode})
		return nil, fmt.Errorf("%s %s failed: HTTP %d: %w", op, symbol, resp.StatusCode, statusErr)
	}

	var asset AssetDTO
	if err := sonic.Unmarshal(body, &asset); err != nil {
		return nil, fmt.Errorf("%s failed: decoding response: %w: %w", op, ports.ErrMalformedResponse, err)
	}
	return &asset, nil
}

// GetPrice returns the current price of symbol.
func (c *Client) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	asset, err := c.GetAsset(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	if !asset.CurrentPrice.IsPositive() {
		return decimal.Zero, fmt.Errorf("GetPrice failed: price %s for %s: %w", asset.CurrentPrice, symbol, ports.ErrMalformedResponse)
	}
	return asset.CurrentPrice, nil
}

func statusError(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusNotFound:
		return ports.ErrNotFound
	case status == http.StatusTooManyRequests:
		return ports.ErrRateLimited
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return ports.ErrAuthenticationFailed
	case status >= 500:
		return ports.ErrSourceUnavailable
	case status >= 400:
		return ports.ErrInvalidRequest
	default:
		return ports.ErrMalformedResponse
	}
}

func classifyTransport(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ports.ErrTimeout, err)
	case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		return fmt.Errorf("%w: %w", ports.ErrContextCanceled, err)
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", ports.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", ports.ErrConnectionFailed, err)
}
