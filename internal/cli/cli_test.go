package cli

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portfolioLedger/internal/app"
	"portfolioLedger/internal/breaker"
	"portfolioLedger/internal/domain"
	"portfolioLedger/internal/ports"
)

var ts = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// fakeService records the calls made by the commands.
type fakeService struct {
	lastTrade   app.TradeCommand
	response    app.TradeResponse
	positions   []*domain.Position
	records     []*domain.TransactionRecord
	err         error
	historyCall string
	window      time.Duration
}

func (f *fakeService) Respond(ctx context.Context, cmd app.TradeCommand) app.TradeResponse {
	f.lastTrade = cmd
	return f.response
}

func (f *fakeService) Portfolio(ctx context.Context, userID string) ([]*domain.Position, error) {
	return f.positions, f.err
}

func (f *fakeService) History(ctx context.Context, userID string) ([]*domain.TransactionRecord, error) {
	f.historyCall = "History"
	return f.records, f.err
}

func (f *fakeService) HistoryWithin(ctx context.Context, userID string, window time.Duration) ([]*domain.TransactionRecord, error) {
	f.historyCall = "HistoryWithin"
	f.window = window
	return f.records, f.err
}

func (f *fakeService) PositionHistory(ctx context.Context, userID, symbol string) ([]*domain.TransactionRecord, error) {
	f.historyCall = "PositionHistory:" + userID + "/" + symbol
	return f.records, f.err
}

type fakePricing struct {
	price decimal.Decimal
	err   error
}

func (f *fakePricing) FetchPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return f.price, f.err
}

func run(t *testing.T, svc *fakeService, pricing *fakePricing, args ...string) (string, error) {
	t.Helper()
	if pricing == nil {
		pricing = &fakePricing{}
	}
	root := NewRootCommand(Deps{Service: svc, Pricing: pricing})
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func samplePosition() *domain.Position {
	return &domain.Position{ID: 3, UserID: "alice", AssetSymbol: "AAPL", Quantity: d("15"), AverageCost: d("110"), UpdatedAt: ts}
}

func sampleRecords() []*domain.TransactionRecord {
	return []*domain.TransactionRecord{
		{ID: 2, PositionID: 3, UserID: "alice", Type: domain.Buy, AssetSymbol: "AAPL", Quantity: d("5"), Price: d("130"), Timestamp: ts.Add(time.Minute)},
		{ID: 1, PositionID: 3, UserID: "alice", Type: domain.Buy, AssetSymbol: "AAPL", Quantity: d("10"), Price: d("100"), Timestamp: ts},
	}
}

func TestTradeCmd_Success(t *testing.T) {
	svc := &fakeService{response: app.TradeResponse{
		Success:     true,
		Message:     "Buy order executed successfully",
		Position:    samplePosition(),
		Transaction: sampleRecords()[0],
	}}

	out, err := run(t, svc, nil, "trade", "buy", "aapl", "5", "--user", "alice")
	require.NoError(t, err)

	assert.Equal(t, domain.Buy, svc.lastTrade.Type)
	assert.Equal(t, "alice", svc.lastTrade.UserID)
	assert.Equal(t, "aapl", svc.lastTrade.AssetSymbol)
	assert.True(t, svc.lastTrade.Quantity.Equal(d("5")))

	assert.Contains(t, out, "Buy order executed successfully")
	assert.Contains(t, out, "AAPL 15 @ avg 110.00")
	assert.Contains(t, out, "#2 BUY 5 @ 130")
}

func TestTradeCmd_Failure(t *testing.T) {
	svc := &fakeService{response: app.TradeResponse{
		Message: "Market Service is currently unavailable. Please try again later.",
		Reason:  ports.ReasonPricingUnavailable,
	}}

	_, err := run(t, svc, nil, "trade", "sell", "AAPL", "1", "-u", "alice")
	var failed *TradeFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, ports.ReasonPricingUnavailable, failed.Reason)
	assert.Contains(t, err.Error(), "Market Service is currently unavailable")
}

func TestTradeCmd_JSON(t *testing.T) {
	svc := &fakeService{response: app.TradeResponse{
		Success:     true,
		Message:     "Sell order executed successfully",
		Position:    samplePosition(),
		Transaction: sampleRecords()[1],
	}}

	out, err := run(t, svc, nil, "trade", "SELL", "AAPL", "10", "-u", "alice", "-o", "json")
	require.NoError(t, err)

	var got map[string]interface{}
	require.NoError(t, sonic.UnmarshalString(out, &got))
	assert.Equal(t, true, got["success"])
	assert.Equal(t, "Sell order executed successfully", got["message"])
	assert.NotContains(t, got, "reason")
	position := got["position"].(map[string]interface{})
	assert.Equal(t, "AAPL", position["assetSymbol"])
	assert.Equal(t, "110", position["averageCost"])
}

func TestTradeCmd_ArgumentErrors(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "missing user", args: []string{"trade", "buy", "AAPL", "1"}, wantErr: "--user is required"},
		{name: "bad type", args: []string{"trade", "hold", "AAPL", "1", "-u", "a"}, wantErr: "unknown trade type"},
		{name: "bad quantity", args: []string{"trade", "buy", "AAPL", "ten", "-u", "a"}, wantErr: "invalid quantity"},
		{name: "arity", args: []string{"trade", "buy", "AAPL", "-u", "a"}, wantErr: "accepts 3 arg(s)"},
		{name: "bad format", args: []string{"trade", "buy", "AAPL", "1", "-u", "a", "-o", "xml"}, wantErr: "unknown output format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{}
			_, err := run(t, svc, nil, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Empty(t, svc.lastTrade.UserID, "service must not be called")
		})
	}
}

func TestPortfolioCmd(t *testing.T) {
	closed := &domain.Position{ID: 4, UserID: "alice", AssetSymbol: "ETH", Quantity: decimal.Zero, AverageCost: d("3000"), UpdatedAt: ts}
	svc := &fakeService{positions: []*domain.Position{samplePosition(), closed}}

	out, err := run(t, svc, nil, "portfolio", "-u", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "SYMBOL")
	assert.Contains(t, out, "AAPL")
	assert.NotContains(t, out, "ETH")

	out, err = run(t, svc, nil, "portfolio", "-u", "alice", "--all")
	require.NoError(t, err)
	assert.Contains(t, out, "ETH")

	svc.positions = nil
	out, err = run(t, svc, nil, "portfolio", "-u", "bob")
	require.NoError(t, err)
	assert.Equal(t, "bob holds no positions\n", out)

	svc.err = fmt.Errorf("list: %w", ports.ErrInternalFailure)
	_, err = run(t, svc, nil, "portfolio", "-u", "bob")
	assert.ErrorIs(t, err, ports.ErrInternalFailure)
}

func TestHistoryCmd(t *testing.T) {
	t.Run("default window", func(t *testing.T) {
		svc := &fakeService{records: sampleRecords()}
		out, err := run(t, svc, nil, "history", "-u", "alice")
		require.NoError(t, err)
		assert.Equal(t, "History", svc.historyCall)

		lines := strings.Split(strings.TrimSpace(out), "\n")
		require.Len(t, lines, 3)
		assert.True(t, strings.HasPrefix(lines[1], "2 "), lines[1])
	})

	t.Run("explicit days", func(t *testing.T) {
		svc := &fakeService{}
		out, err := run(t, svc, nil, "history", "-u", "alice", "--days", "7")
		require.NoError(t, err)
		assert.Equal(t, "HistoryWithin", svc.historyCall)
		assert.Equal(t, 7*24*time.Hour, svc.window)
		assert.Equal(t, "No transactions\n", out)
	})

	t.Run("non positive days", func(t *testing.T) {
		svc := &fakeService{}
		_, err := run(t, svc, nil, "history", "-u", "alice", "--days", "0")
		require.Error(t, err)
		assert.Empty(t, svc.historyCall)
	})

	t.Run("days beyond duration range", func(t *testing.T) {
		svc := &fakeService{}
		_, err := run(t, svc, nil, "history", "-u", "alice", "--days", "9223372036854775807")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "--days must be between 1 and")
		assert.Empty(t, svc.historyCall)

		_, err = run(t, svc, nil, "history", "-u", "alice", "--days", "200000")
		require.Error(t, err)
		assert.Empty(t, svc.historyCall)

		_, err = run(t, svc, nil, "history", "-u", "alice", "--days", "36500")
		require.NoError(t, err)
		assert.Equal(t, 36500*24*time.Hour, svc.window)
	})

	t.Run("csv", func(t *testing.T) {
		svc := &fakeService{records: sampleRecords()}
		out, err := run(t, svc, nil, "history", "-u", "alice", "--csv")
		require.NoError(t, err)

		rows, err := csv.NewReader(strings.NewReader(out)).ReadAll()
		require.NoError(t, err)
		require.Len(t, rows, 3)
		assert.Equal(t, "2", rows[1][0])
		assert.Equal(t, "650", rows[1][7])
	})

	t.Run("json", func(t *testing.T) {
		svc := &fakeService{records: sampleRecords()}
		out, err := run(t, svc, nil, "history", "-u", "alice", "-o", "json")
		require.NoError(t, err)

		var got []map[string]interface{}
		require.NoError(t, sonic.UnmarshalString(out, &got))
		require.Len(t, got, 2)
		assert.Equal(t, "BUY", got[0]["type"])
		assert.Equal(t, "130", got[0]["price"])
	})
}

func TestPositionCmd(t *testing.T) {
	svc := &fakeService{positions: []*domain.Position{samplePosition()}, records: sampleRecords()}

	out, err := run(t, svc, nil, "position", "aapl", "-u", " alice ")
	require.NoError(t, err)
	assert.Equal(t, "PositionHistory:alice/AAPL", svc.historyCall)
	assert.Contains(t, out, "alice AAPL: 15 @ avg 110.00")
	assert.Contains(t, out, "QUANTITY")

	out, err = run(t, svc, nil, "position", "btc", "-u", "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice has never traded BTC\n", out)
}

func TestPriceCmd(t *testing.T) {
	out, err := run(t, &fakeService{}, &fakePricing{price: d("65000.12")}, "price", "btc")
	require.NoError(t, err)
	assert.Equal(t, "BTC 65000.12\n", out)

	boom := fmt.Errorf("fetch: %w: %w", ports.ErrPricingUnavailable, ports.ErrBreakerOpen)
	_, err = run(t, &fakeService{}, &fakePricing{err: boom}, "price", "btc")
	assert.True(t, errors.Is(err, ports.ErrBreakerOpen))
}

type fakeBreakerPricing struct {
	fakePricing
	snap breaker.Snapshot
}

func (f *fakeBreakerPricing) Snapshot() breaker.Snapshot { return f.snap }

func TestPriceCmd_ReportsBreaker(t *testing.T) {
	pricing := &fakeBreakerPricing{
		fakePricing: fakePricing{err: fmt.Errorf("fetch: %w: %w", ports.ErrPricingUnavailable, ports.ErrBreakerOpen)},
		snap:        breaker.Snapshot{State: breaker.StateOpen, ConsecutiveFailures: 5},
	}
	root := NewRootCommand(Deps{Service: &fakeService{}, Pricing: pricing})
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"price", "btc"})

	err := root.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ports.ErrBreakerOpen))
	assert.Contains(t, err.Error(), "breaker OPEN, 5 consecutive failures")
}
