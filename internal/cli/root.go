// Package cli is the command surface of the ledger: trade, portfolio, history,
// position and price.
package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"portfolioLedger/internal/app"
	"portfolioLedger/internal/domain"
	"portfolioLedger/internal/ports"
)

// Service is the application surface the commands drive.
type Service interface {
	Respond(ctx context.Context, cmd app.TradeCommand) app.TradeResponse
	Portfolio(ctx context.Context, userID string) ([]*domain.Position, error)
	History(ctx context.Context, userID string) ([]*domain.TransactionRecord, error)
	HistoryWithin(ctx context.Context, userID string, window time.Duration) ([]*domain.TransactionRecord, error)
	PositionHistory(ctx context.Context, userID, symbol string) ([]*domain.TransactionRecord, error)
}

// Deps are the collaborators shared by every command.
type Deps struct {
	Service Service
	Pricing ports.PricingGateway
}

// Output formats.
const (
	formatText = "text"
	formatJSON = "json"
)

type rootOptions struct {
	user   string
	format string
}

// NewRootCommand builds the command tree.
func NewRootCommand(deps Deps) *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Position ledger and trade executor",
		Long: `Ledger records BUY and SELL trades against a per-user position ledger.

Every trade is priced through the pricing gateway and applied atomically to the
position and the transaction journal.

Examples:
  ledger trade buy AAPL 10 --user alice
  ledger portfolio --user alice
  ledger history --user alice --days 7 --csv
  ledger position AAPL --user alice
  ledger price BTC`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			opts.format = strings.ToLower(strings.TrimSpace(opts.format))
			if opts.format != formatText && opts.format != formatJSON {
				return fmt.Errorf("unknown output format %q (supported: text, json)", opts.format)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.user, "user", "u", "", "user id the command acts for")
	cmd.PersistentFlags().StringVarP(&opts.format, "output", "o", formatText, "output format (text, json)")

	cmd.AddCommand(
		newTradeCmd(deps, opts),
		newPortfolioCmd(deps, opts),
		newHistoryCmd(deps, opts),
		newPositionCmd(deps, opts),
		newPriceCmd(deps, opts),
	)

	return cmd
}

// Execute runs the command tree with ctx and the given arguments.
func Execute(ctx context.Context, deps Deps, args []string) error {
	root := NewRootCommand(deps)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func (o *rootOptions) requireUser() (string, error) {
	user := strings.TrimSpace(o.user)
	if user == "" {
		return "", fmt.Errorf("--user is required")
	}
	return user, nil
}

// --- Views ---

type positionView struct {
	ID          int64           `json:"id"`
	UserID      string          `json:"userId"`
	AssetSymbol string          `json:"assetSymbol"`
	Quantity    decimal.Decimal `json:"quantity"`
	AverageCost decimal.Decimal `json:"averageCost"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

type transactionView struct {
	ID          int64           `json:"id"`
	PositionID  int64           `json:"positionId"`
	Type        string          `json:"type"`
	AssetSymbol string          `json:"assetSymbol"`
	Quantity    decimal.Decimal `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	Timestamp   time.Time       `json:"timestamp"`
}

type tradeView struct {
	Success     bool             `json:"success"`
	Message     string           `json:"message"`
	Reason      string           `json:"reason,omitempty"`
	Position    *positionView    `json:"position,omitempty"`
	Transaction *transactionView `json:"transaction,omitempty"`
}

func toPositionView(p *domain.Position) *positionView {
	if p == nil {
		return nil
	}
	return &positionView{
		ID:          p.ID,
		UserID:      p.UserID,
		AssetSymbol: p.AssetSymbol,
		Quantity:    p.Quantity,
		AverageCost: p.AverageCost.Round(domain.CostScale),
		UpdatedAt:   p.UpdatedAt.UTC(),
	}
}

func toTransactionView(r *domain.TransactionRecord) *transactionView {
	if r == nil {
		return nil
	}
	return &transactionView{
		ID:          r.ID,
		PositionID:  r.PositionID,
		Type:        string(r.Type),
		AssetSymbol: r.AssetSymbol,
		Quantity:    r.Quantity,
		Price:       r.Price,
		Timestamp:   r.Timestamp.UTC(),
	}
}

func toTransactionViews(records []*domain.TransactionRecord) []*transactionView {
	out := make([]*transactionView, 0, len(records))
	for _, r := range records {
		out = append(out, toTransactionView(r))
	}
	return out
}

func writeJSON(w io.Writer, v interface{}) error {
	data, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
