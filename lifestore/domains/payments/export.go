package payments

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
)

// Export formats
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
)

var csvHeader = []string{"Date", "Platform", "Type", "Amount", "Currency", "Status", "From", "To", "Note"}

// ExportTransactions writes every transaction, newest first, to w
func (s *Service) ExportTransactions(ctx context.Context, w io.Writer, format string) error {
	txs, err := s.Transactions(ctx, Filter{})
	if err != nil {
		return err
	}

	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if txs == nil {
			txs = []Transaction{}
		}
		return enc.Encode(txs)
	case FormatCSV, "":
		cw := csv.NewWriter(w)
		if err := cw.Write(csvHeader); err != nil {
			return err
		}
		for _, tx := range txs {
			row := []string{
				tx.CreatedAt,
				string(tx.Platform),
				tx.Type,
				strconv.FormatFloat(tx.Amount, 'f', 2, 64),
				tx.Currency,
				tx.Status,
				tx.FromAccount,
				tx.ToAccount,
				tx.Note,
			}
			if err := cw.Write(row); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	default:
		return fmt.Errorf("unknown export format %q", format)
	}
}
