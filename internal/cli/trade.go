package cli

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"portfolioLedger/internal/app"
	"portfolioLedger/internal/domain"
)

// TradeFailedError is returned by the trade command when the trade was not
// executed.
type TradeFailedError struct {
	Reason  string
	Message string
}

func (e *TradeFailedError) Error() string {
	return fmt.Sprintf("trade failed (%s): %s", e.Reason, e.Message)
}

func newTradeCmd(deps Deps, opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "trade <buy|sell> <symbol> <quantity>",
		Short: "Execute a BUY or SELL at the current price",
		Long: `Trade prices the asset through the pricing gateway and applies the trade to
the user's position and journal in one unit of work.

Examples:
  ledger trade buy AAPL 10 --user alice
  ledger trade sell btc 0.25 --user bob -o json`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := opts.requireUser()
			if err != nil {
				return err
			}
			tradeType, err := domain.ParseTradeType(args[0])
			if err != nil {
				return err
			}
			qty, err := decimal.NewFromString(args[2])
			if err != nil {
				return fmt.Errorf("invalid quantity %q: %w", args[2], err)
			}

			resp := deps.Service.Respond(cmd.Context(), app.TradeCommand{
				UserID:      user,
				AssetSymbol: args[1],
				Quantity:    qty,
				Type:        tradeType,
			})

			out := cmd.OutOrStdout()
			if opts.format == formatJSON {
				if err := writeJSON(out, tradeView{
					Success:     resp.Success,
					Message:     resp.Message,
					Reason:      resp.Reason,
					Position:    toPositionView(resp.Position),
					Transaction: toTransactionView(resp.Transaction),
				}); err != nil {
					return err
				}
			} else if resp.Success {
				fmt.Fprintln(out, resp.Message)
				p, tx := resp.Position, resp.Transaction
				fmt.Fprintf(out, "  Position:    %s %s @ avg %s\n", p.AssetSymbol, p.Quantity, p.AverageCost.StringFixed(domain.CostScale))
				fmt.Fprintf(out, "  Transaction: #%d %s %s @ %s (%s)\n", tx.ID, tx.Type, tx.Quantity, tx.Price, tx.Timestamp.UTC().Format("2006-01-02 15:04:05"))
			}

			if !resp.Success {
				return &TradeFailedError{Reason: resp.Reason, Message: resp.Message}
			}
			return nil
		},
	}
}
