// Package report turns normalized ledger events into Koinly report rows.
//
// The pipeline has three stages, each a plain function or value over slices
// owned by a single build:
//   - Classify maps every event to zero or one ReportRow
//   - Valuer attaches a USD Net Worth Amount to each row
//   - Assemble normalizes tickers and freezes the rows into a Report
//
// Events and legs that cannot be handled never abort a build; they are
// dropped or left unvalued and described by a model.Diagnostic.
package report

import (
	"hivetax/internal/model"

	"github.com/rs/zerolog/log"
)

// Classify maps events, in order, to report rows for account.
//
// Market fills become trade rows, transfers from or to the account become
// sent-only or received-only rows, and events without a quantity are skipped
// silently (order placement and cancellation carry no balance change).
// Anything else is dropped with an unclassified diagnostic holding the raw event.
func Classify(account string, events []model.NormalizedEvent) ([]model.ReportRow, []model.Diagnostic) {
	rows := make([]model.ReportRow, 0, len(events))
	var diagnostics []model.Diagnostic

	for _, event := range events {
		row, diag := classifyEvent(account, event)
		if diag != nil {
			log.Warn().
				Str("txHash", event.TransactionID).
				Str("operation", event.Operation).
				Str("symbol", event.Symbol).
				Str("reason", diag.Reason).
				Interface("event", event.RawEvent).
				Msg("transaction was not included")
			diagnostics = append(diagnostics, *diag)
			continue
		}
		if row != nil {
			rows = append(rows, *row)
		}
	}

	return rows, diagnostics
}

// classifyEvent returns a row, a diagnostic, or neither for a silently skipped event.
func classifyEvent(account string, event model.NormalizedEvent) (*model.ReportRow, *model.Diagnostic) {
	switch event.Operation {
	case model.OperationMarketBuy:
		if !event.QuantityHive.Valid || !event.QuantityTokens.Valid {
			return nil, unclassified(event, "market fill without both quantities")
		}
		return newRow(event,
			&model.Leg{Amount: event.QuantityHive.Decimal, Currency: model.BaseAsset},
			&model.Leg{Amount: event.QuantityTokens.Decimal, Currency: event.Symbol},
		), nil

	case model.OperationMarketSell:
		if !event.QuantityHive.Valid || !event.QuantityTokens.Valid {
			return nil, unclassified(event, "market fill without both quantities")
		}
		return newRow(event,
			&model.Leg{Amount: event.QuantityTokens.Decimal, Currency: event.Symbol},
			&model.Leg{Amount: event.QuantityHive.Decimal, Currency: model.BaseAsset},
		), nil
	}

	if !event.Quantity.Valid {
		return nil, nil
	}

	leg := &model.Leg{Amount: event.Quantity.Decimal, Currency: event.Symbol}
	switch {
	case event.From != "" && event.From == account:
		return newRow(event, leg, nil), nil
	case event.To != "" && event.To == account:
		return newRow(event, nil, leg), nil
	}

	return nil, unclassified(event, "neither sender nor receiver is the account")
}

func newRow(event model.NormalizedEvent, sent, received *model.Leg) *model.ReportRow {
	return &model.ReportRow{
		Date:        event.Date,
		Sent:        sent,
		Received:    received,
		Description: event.Operation,
		TxHash:      event.TransactionID,
	}
}

func unclassified(event model.NormalizedEvent, reason string) *model.Diagnostic {
	raw := event.RawEvent
	return &model.Diagnostic{
		Kind:   model.DiagnosticUnclassified,
		TxHash: event.TransactionID,
		Reason: reason,
		Event:  &raw,
	}
}
