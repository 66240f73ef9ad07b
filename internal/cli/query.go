package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"portfolioLedger/internal/breaker"
	"portfolioLedger/internal/domain"
	"portfolioLedger/internal/utils"
)

// maxHistoryDays bounds --days so the window fits in a time.Duration.
const maxHistoryDays = 36500

// breakerReporter is implemented by pricing gateways that expose their
// circuit breaker.
type breakerReporter interface {
	Snapshot() breaker.Snapshot
}

func newPortfolioCmd(deps Deps, opts *rootOptions) *cobra.Command {
	var includeClosed bool

	cmd := &cobra.Command{
		Use:   "portfolio",
		Short: "List the user's positions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := opts.requireUser()
			if err != nil {
				return err
			}
			positions, err := deps.Service.Portfolio(cmd.Context(), user)
			if err != nil {
				return err
			}

			views := make([]*positionView, 0, len(positions))
			for _, p := range positions {
				if !includeClosed && !p.IsOpen() {
					continue
				}
				views = append(views, toPositionView(p))
			}

			out := cmd.OutOrStdout()
			if opts.format == formatJSON {
				return writeJSON(out, views)
			}
			if len(views) == 0 {
				fmt.Fprintf(out, "%s holds no positions\n", user)
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SYMBOL\tQUANTITY\tAVG COST\tUPDATED")
			for _, v := range views {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", v.AssetSymbol, v.Quantity, v.AverageCost.StringFixed(domain.CostScale), v.UpdatedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().BoolVar(&includeClosed, "all", false, "include positions sold down to zero")
	return cmd
}

func newHistoryCmd(deps Deps, opts *rootOptions) *cobra.Command {
	var (
		days  int
		asCSV bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List the user's recent transactions, newest first",
		Long: `History lists journal entries of the user within the retention window.
The window defaults to HISTORY_DAYS; --days overrides it.

Examples:
  ledger history --user alice
  ledger history --user alice --days 7 --csv > trades.csv`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := opts.requireUser()
			if err != nil {
				return err
			}

			var records []*domain.TransactionRecord
			if cmd.Flags().Changed("days") {
				if days <= 0 || days > maxHistoryDays {
					return fmt.Errorf("--days must be between 1 and %d, got %d", maxHistoryDays, days)
				}
				records, err = deps.Service.HistoryWithin(cmd.Context(), user, time.Duration(days)*24*time.Hour)
			} else {
				records, err = deps.Service.History(cmd.Context(), user)
			}
			if err != nil {
				return err
			}

			return writeRecords(cmd.OutOrStdout(), opts, records, asCSV)
		},
	}

	cmd.Flags().IntVar(&days, "days", 0, "window in days (default HISTORY_DAYS)")
	cmd.Flags().BoolVar(&asCSV, "csv", false, "write CSV instead of a table")
	return cmd
}

func newPositionCmd(deps Deps, opts *rootOptions) *cobra.Command {
	var asCSV bool

	cmd := &cobra.Command{
		Use:   "position <symbol>",
		Short: "Show one position and its full journal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := opts.requireUser()
			if err != nil {
				return err
			}
			key := domain.NewPositionKey(user, args[0])

			records, err := deps.Service.PositionHistory(cmd.Context(), key.UserID, key.AssetSymbol)
			if err != nil {
				return err
			}
			if asCSV {
				return utils.WriteTransactionsToCSV(cmd.OutOrStdout(), records)
			}

			positions, err := deps.Service.Portfolio(cmd.Context(), key.UserID)
			if err != nil {
				return err
			}
			var pos *domain.Position
			for _, p := range positions {
				if p.AssetSymbol == key.AssetSymbol {
					pos = p
					break
				}
			}

			out := cmd.OutOrStdout()
			if opts.format == formatJSON {
				return writeJSON(out, struct {
					Position     *positionView      `json:"position"`
					Transactions []*transactionView `json:"transactions"`
				}{toPositionView(pos), toTransactionViews(records)})
			}

			if pos == nil {
				fmt.Fprintf(out, "%s has never traded %s\n", key.UserID, key.AssetSymbol)
				return nil
			}
			fmt.Fprintf(out, "%s %s: %s @ avg %s\n", key.UserID, key.AssetSymbol, pos.Quantity, pos.AverageCost.StringFixed(domain.CostScale))
			return writeRecords(out, opts, records, false)
		},
	}

	cmd.Flags().BoolVar(&asCSV, "csv", false, "write the journal as CSV")
	return cmd
}

func newPriceCmd(deps Deps, opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "price <symbol>",
		Short: "Fetch the current price without trading",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			symbol := domain.NormalizeSymbol(args[0])
			price, err := deps.Pricing.FetchPrice(cmd.Context(), symbol)
			if err != nil {
				if r, ok := deps.Pricing.(breakerReporter); ok {
					snap := r.Snapshot()
					return fmt.Errorf("%w (breaker %s, %d consecutive failures)", err, snap.State, snap.ConsecutiveFailures)
				}
				return err
			}

			out := cmd.OutOrStdout()
			if opts.format == formatJSON {
				return writeJSON(out, map[string]interface{}{"symbol": symbol, "price": price})
			}
			fmt.Fprintf(out, "%s %s\n", symbol, price)
			return nil
		},
	}
}

func writeRecords(out io.Writer, opts *rootOptions, records []*domain.TransactionRecord, asCSV bool) error {
	switch {
	case asCSV:
		return utils.WriteTransactionsToCSV(out, records)
	case opts.format == formatJSON:
		return writeJSON(out, toTransactionViews(records))
	}

	if len(records) == 0 {
		fmt.Fprintln(out, "No transactions")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTIME\tTYPE\tSYMBOL\tQUANTITY\tPRICE")
	for _, r := range records {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", r.ID, r.Timestamp.UTC().Format(time.RFC3339), r.Type, r.AssetSymbol, r.Quantity, r.Price)
	}
	return tw.Flush()
}
