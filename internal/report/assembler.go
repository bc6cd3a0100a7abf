package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"hivetax/internal/model"
	"hivetax/internal/utils"
)

const (
	// dateLayout is the Date column format Koinly accepts for naive local timestamps.
	dateLayout = "2006-01-02 15:04:05"

	filenameLayout = "20060102_150405"

	// DefaultFilenamePrefix starts every generated filename unless configured otherwise.
	DefaultFilenamePrefix = "Hive-Engine_txs"
)

// Header is the exact CSV header row of the export.
var Header = []string{
	"Date",
	"Sent Amount",
	"Sent Currency",
	"Received Amount",
	"Received Currency",
	"Description",
	"Net Worth Amount",
	"Net Worth Currency",
	"TxHash",
}

// Assemble strips market-maker prefixes from leg currencies, tags every row
// with the reference currency and returns the finished Report.
// No numeric field is touched.
func Assemble(rows []model.ReportRow) model.Report {
	out := make(model.Report, 0, len(rows))
	for _, row := range rows {
		row = row.Clone()
		if row.Sent != nil {
			row.Sent.Currency = utils.StripMarketMakerPrefix(row.Sent.Currency)
		}
		if row.Received != nil {
			row.Received.Currency = utils.StripMarketMakerPrefix(row.Received.Currency)
		}
		row.NetWorthCurrency = model.ReferenceCurrency
		out = append(out, row)
	}
	return out
}

// Record renders a row as CSV fields in Header order. Absent values are empty cells.
func Record(row model.ReportRow) []string {
	record := make([]string, len(Header))
	record[0] = row.Date.Format(dateLayout)
	if row.Sent != nil {
		record[1] = row.Sent.Amount.String()
		record[2] = row.Sent.Currency
	}
	if row.Received != nil {
		record[3] = row.Received.Amount.String()
		record[4] = row.Received.Currency
	}
	record[5] = row.Description
	if row.NetWorth.Valid {
		record[6] = row.NetWorth.Decimal.String()
	}
	record[7] = row.NetWorthCurrency
	record[8] = row.TxHash
	return record
}

// WriteCSV writes the header and every row of r to w.
func WriteCSV(w io.Writer, r model.Report) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(Header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for i, row := range r {
		if err := writer.Write(Record(row)); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i, err)
		}
	}
	writer.Flush()
	return writer.Error()
}

// Filename returns the suggested download name "<prefix>_<account>_<YYYYMMDD_HHMMSS>.csv".
func Filename(prefix, account string, at time.Time) string {
	parts := []string{account, at.Format(filenameLayout)}
	if prefix != "" {
		parts = append([]string{prefix}, parts...)
	}
	return strings.Join(parts, "_") + ".csv"
}
