package utils

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"portfolioLedger/internal/domain"
)

// TransactionCSVHeader is the header row written by WriteTransactionsToCSV.
var TransactionCSVHeader = []string{"id", "timestamp", "user_id", "symbol", "type", "quantity", "price", "notional", "position_id"}

// WriteTransactionsToCSV writes one row per record, in the given order.
func WriteTransactionsToCSV(w io.Writer, records []*domain.TransactionRecord) error {
	writer := csv.NewWriter(w)

	// Write header
	if err := writer.Write(TransactionCSVHeader); err != nil {
		return err
	}

	for _, r := range records {
		if err := writer.Write([]string{
			strconv.FormatInt(r.ID, 10),
			r.Timestamp.UTC().Format(time.RFC3339Nano),
			r.UserID,
			r.AssetSymbol,
			string(r.Type),
			r.Quantity.String(),
			r.Price.String(),
			r.Notional().String(),
			strconv.FormatInt(r.PositionID, 10),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
