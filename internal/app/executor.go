package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"portfolioLedger/internal/domain"
	"portfolioLedger/internal/ports"
)

const defaultHistoryWindow = 30 * 24 * time.Hour

// Caller-facing messages.
const (
	msgBuySucceeded       = "Buy order executed successfully"
	msgSellSucceeded      = "Sell order executed successfully"
	msgPricingUnavailable = "Market Service is currently unavailable. Please try again later."
	msgInternalFailure    = "The trade could not be recorded. Please try again later."
)

// TradeCommand is a request to buy or sell quantity units of an asset.
type TradeCommand struct {
	UserID      string
	AssetSymbol string
	Quantity    decimal.Decimal
	Type        domain.TradeType
}

// TradeResult is the outcome of a successful trade.
type TradeResult struct {
	Position    *domain.Position
	Transaction *domain.TransactionRecord
}

// TradeResponse is the caller-facing view of a trade attempt. On failure
// Position and Transaction are nil and Reason names the error kind.
type TradeResponse struct {
	Success     bool
	Message     string
	Reason      string
	Position    *domain.Position
	Transaction *domain.TransactionRecord
}

// TradeError is returned for every failed trade. It wraps one of the ports
// outcome errors and carries a message fit for the end user.
type TradeError struct {
	Message string
	Err     error
}

func (e *TradeError) Error() string {
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *TradeError) Unwrap() error {
	return e.Err
}

// ExecutorConfig holds the executor's tunables.
type ExecutorConfig struct {
	// HistoryWindow is the default window of History. Defaults to 30 days.
	HistoryWindow time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

// TradeExecutor applies trades to the position ledger and the journal.
type TradeExecutor struct {
	cfg     ExecutorConfig
	logger  ports.Logger
	pricing ports.PricingGateway
	ledger  ports.PositionLedger
	journal ports.TransactionJournal
	txm     ports.TxManager
	locks   *keyedMutex
}

// NewTradeExecutor creates a new trade executor instance.
func NewTradeExecutor(
	cfg ExecutorConfig,
	logger ports.Logger,
	pricing ports.PricingGateway,
	ledger ports.PositionLedger,
	journal ports.TransactionJournal,
	txm ports.TxManager,
) (*TradeExecutor, error) {
	// Validate dependencies
	if logger == nil || pricing == nil || ledger == nil || journal == nil || txm == nil {
		return nil, fmt.Errorf("missing required dependencies for TradeExecutor")
	}
	if cfg.HistoryWindow < 0 {
		return nil, fmt.Errorf("configuration HistoryWindow cannot be negative")
	}
	if cfg.HistoryWindow == 0 {
		cfg.HistoryWindow = defaultHistoryWindow
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &TradeExecutor{
		cfg:     cfg,
		logger:  logger,
		pricing: pricing,
		ledger:  ledger,
		journal: journal,
		txm:     txm,
		locks:   newKeyedMutex(),
	}, nil
}

// ExecuteTrade validates cmd, prices it and applies it atomically. Every error
// is a *TradeError wrapping exactly one of ports.ErrInvalidInput,
// ErrAssetNotFound, ErrPricingUnavailable, ErrInsufficientBalance or
// ErrInternalFailure. No state changes on any error path.
func (e *TradeExecutor) ExecuteTrade(ctx context.Context, cmd TradeCommand) (*TradeResult, error) {
	op := "ExecuteTrade"

	if err := validateCommand(cmd); err != nil {
		e.logger.Debug(ctx, op+": rejected invalid command", ports.Fields{"error": err.Error()})
		return nil, err
	}
	key := domain.NewPositionKey(cmd.UserID, cmd.AssetSymbol)
	fields := ports.Fields{"user": key.UserID, "symbol": key.AssetSymbol, "type": string(cmd.Type), "quantity": cmd.Quantity.String()}
	e.logger.Info(ctx, op+": trade started", fields)

	price, err := e.pricing.FetchPrice(ctx, key.AssetSymbol)
	if err != nil {
		tradeErr := pricingError(key, err)
		e.logger.Warn(ctx, op+": pricing failed", withError(fields, err))
		return nil, tradeErr
	}
	e.logger.Debug(ctx, op+": price obtained", ports.Fields{"symbol": key.AssetSymbol, "price": price.String()})

	unlock := e.locks.Lock(key)
	defer unlock()

	var result *TradeResult
	err = e.txm.WithTransaction(ctx, func(ctx context.Context, ledger ports.PositionLedger, journal ports.TransactionJournal) error {
		var applyErr error
		result, applyErr = applyTrade(ctx, ledger, journal, key, cmd, price)
		return applyErr
	})
	if err != nil {
		tradeErr := asTradeError(err)
		if errors.Is(tradeErr, ports.ErrInternalFailure) {
			e.logger.Error(ctx, err, op+": trade failed", fields)
		} else {
			e.logger.Info(ctx, op+": trade rejected", withError(fields, err))
		}
		return nil, tradeErr
	}

	e.logger.Info(ctx, op+": trade executed", ports.Fields{
		"user":          key.UserID,
		"symbol":        key.AssetSymbol,
		"type":          string(cmd.Type),
		"price":         price.String(),
		"quantity":      result.Position.Quantity.String(),
		"averageCost":   result.Position.AverageCost.String(),
		"transactionID": result.Transaction.ID,
	})
	return result, nil
}

// applyTrade runs inside the unit of work: read, compute, upsert, append.
func applyTrade(
	ctx context.Context,
	ledger ports.PositionLedger,
	journal ports.TransactionJournal,
	key domain.PositionKey,
	cmd TradeCommand,
	price decimal.Decimal,
) (*TradeResult, error) {
	current, err := ledger.Get(ctx, key.UserID, key.AssetSymbol)
	if err != nil {
		return nil, internalError(err)
	}

	var next *domain.Position
	switch cmd.Type {
	case domain.Buy:
		if current == nil {
			current = domain.NewPosition(key)
		}
		next, err = current.ApplyBuy(cmd.Quantity, price)
	case domain.Sell:
		if current == nil {
			return nil, &TradeError{
				Message: fmt.Sprintf("You don't own any %s", key.AssetSymbol),
				Err:     fmt.Errorf("no position %s: %w", key, ports.ErrInsufficientBalance),
			}
		}
		next, err = current.ApplySell(cmd.Quantity)
		if errors.Is(err, domain.ErrQuantityExceedsHolding) {
			return nil, &TradeError{
				Message: fmt.Sprintf("Insufficient balance. You have %s but trying to sell %s", current.Quantity, cmd.Quantity),
				Err:     fmt.Errorf("%w: %w", ports.ErrInsufficientBalance, err),
			}
		}
	}
	if err != nil {
		return nil, &TradeError{Message: err.Error(), Err: fmt.Errorf("%w: %w", ports.ErrInvalidInput, err)}
	}

	if err := ledger.Upsert(ctx, next); err != nil {
		return nil, internalError(err)
	}

	rec := &domain.TransactionRecord{
		PositionID:  next.ID,
		UserID:      key.UserID,
		Type:        cmd.Type,
		AssetSymbol: key.AssetSymbol,
		Quantity:    cmd.Quantity,
		Price:       price,
	}
	if err := journal.Append(ctx, rec); err != nil {
		return nil, internalError(err)
	}

	return &TradeResult{Position: next, Transaction: rec}, nil
}

// Respond executes cmd and folds the outcome into a TradeResponse.
func (e *TradeExecutor) Respond(ctx context.Context, cmd TradeCommand) TradeResponse {
	result, err := e.ExecuteTrade(ctx, cmd)
	if err != nil {
		msg := msgInternalFailure
		var tradeErr *TradeError
		if errors.As(err, &tradeErr) {
			msg = tradeErr.Message
		}
		return TradeResponse{Success: false, Message: msg, Reason: ports.Reason(err)}
	}

	msg := msgBuySucceeded
	if cmd.Type == domain.Sell {
		msg = msgSellSucceeded
	}
	return TradeResponse{
		Success:     true,
		Message:     msg,
		Position:    result.Position,
		Transaction: result.Transaction,
	}
}

// Portfolio returns every position held by userID, ordered by symbol.
func (e *TradeExecutor) Portfolio(ctx context.Context, userID string) ([]*domain.Position, error) {
	userID, err := requireUser(userID)
	if err != nil {
		return nil, err
	}
	positions, err := e.ledger.ListByUser(ctx, userID)
	if err != nil {
		e.logger.Error(ctx, err, "Portfolio query failed", ports.Fields{"user": userID})
		return nil, internalError(err)
	}
	return positions, nil
}

// History returns the user's journal entries within the configured window,
// newest first.
func (e *TradeExecutor) History(ctx context.Context, userID string) ([]*domain.TransactionRecord, error) {
	return e.HistoryWithin(ctx, userID, e.cfg.HistoryWindow)
}

// HistoryWithin returns the user's journal entries no older than window,
// newest first.
func (e *TradeExecutor) HistoryWithin(ctx context.Context, userID string, window time.Duration) ([]*domain.TransactionRecord, error) {
	userID, err := requireUser(userID)
	if err != nil {
		return nil, err
	}
	if window <= 0 {
		return nil, &TradeError{Message: "history window must be positive", Err: fmt.Errorf("window %s: %w", window, ports.ErrInvalidInput)}
	}

	since := e.cfg.Now().Add(-window)
	records, err := e.journal.QueryByUser(ctx, userID, since)
	if err != nil {
		e.logger.Error(ctx, err, "History query failed", ports.Fields{"user": userID, "since": since})
		return nil, internalError(err)
	}
	e.logger.Debug(ctx, "History fetched", ports.Fields{"user": userID, "since": since, "count": len(records)})
	return records, nil
}

// PositionHistory returns every journal entry of one position, newest first.
func (e *TradeExecutor) PositionHistory(ctx context.Context, userID, symbol string) ([]*domain.TransactionRecord, error) {
	key := domain.NewPositionKey(userID, symbol)
	if key.UserID == "" || key.AssetSymbol == "" {
		return nil, &TradeError{Message: "userId and assetSymbol are required", Err: ports.ErrInvalidInput}
	}
	records, err := e.journal.QueryByPosition(ctx, key)
	if err != nil {
		e.logger.Error(ctx, err, "Position history query failed", ports.Fields{"key": key.String()})
		return nil, internalError(err)
	}
	return records, nil
}

// --- Helpers ---

func validateCommand(cmd TradeCommand) error {
	key := domain.NewPositionKey(cmd.UserID, cmd.AssetSymbol)
	var msg string
	switch {
	case key.UserID == "":
		msg = "userId is required"
	case key.AssetSymbol == "":
		msg = "assetSymbol is required"
	case !cmd.Quantity.IsPositive():
		msg = "quantity must be positive"
	case !cmd.Type.IsValid():
		msg = fmt.Sprintf("type must be BUY or SELL, got %q", cmd.Type)
	default:
		return nil
	}
	return &TradeError{Message: msg, Err: fmt.Errorf("%w: %s", ports.ErrInvalidInput, msg)}
}

func requireUser(userID string) (string, error) {
	key := domain.NewPositionKey(userID, "")
	if key.UserID == "" {
		return "", &TradeError{Message: "userId is required", Err: ports.ErrInvalidInput}
	}
	return key.UserID, nil
}

func pricingError(key domain.PositionKey, err error) *TradeError {
	if errors.Is(err, ports.ErrAssetNotFound) {
		return &TradeError{Message: fmt.Sprintf("Asset %s not found", key.AssetSymbol), Err: err}
	}
	if !errors.Is(err, ports.ErrPricingUnavailable) {
		err = fmt.Errorf("%w: %w", ports.ErrPricingUnavailable, err)
	}
	return &TradeError{Message: msgPricingUnavailable, Err: err}
}

func internalError(err error) *TradeError {
	if !errors.Is(err, ports.ErrInternalFailure) {
		err = fmt.Errorf("%w: %w", ports.ErrInternalFailure, err)
	}
	return &TradeError{Message: msgInternalFailure, Err: err}
}

// asTradeError keeps TradeErrors raised inside the unit of work and turns any
// other storage error into an internal failure.
func asTradeError(err error) *TradeError {
	var tradeErr *TradeError
	if errors.As(err, &tradeErr) {
		return tradeErr
	}
	return internalError(err)
}

func withError(fields ports.Fields, err error) ports.Fields {
	out := make(ports.Fields, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out["error"] = err.Error()
	return out
}
