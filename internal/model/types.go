// Package model defines core data types for the tax report pipeline.
//
// This package contains the raw ledger records fetched from Hive-Engine, the
// price observations used for valuation, and the normalized report rows that
// end up in the Koinly CSV. All amounts and prices use decimal.Decimal so that
// token quantities survive the trip from the API to the CSV without
// floating-point rounding.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	// BaseAsset is the Hive-Engine ticker of the settlement token every market is quoted in.
	BaseAsset = "SWAP.HIVE"

	// MarketMakerPrefix marks a pegged representation of an external asset.
	MarketMakerPrefix = "SWAP."

	// ReferenceCurrency is the currency every Net Worth Amount is expressed in.
	ReferenceCurrency = "USD"

	// OperationMarketBuy is the ledger operation for a filled buy order.
	OperationMarketBuy = "market_buy"

	// OperationMarketSell is the ledger operation for a filled sell order.
	OperationMarketSell = "market_sell"
)

// RawEvent is one ledger entry for one token as returned by the history feed.
//
// Nullable numeric fields use decimal.NullDecimal; an empty From or To means the
// feed carried no counterparty. RawEvent values are never modified after they
// are fetched.
type RawEvent struct {
	Timestamp      time.Time           // Block timestamp (second precision)
	Operation      string              // Ledger operation (e.g. "tokens_transfer", "market_buy")
	Symbol         string              // Token ticker, possibly carrying MarketMakerPrefix
	Account        string              // Account the history was requested for
	From           string              // Sending account, empty when absent
	To             string              // Receiving account, empty when absent
	Quantity       decimal.NullDecimal // Transferred quantity, null for market ops and order bookkeeping
	QuantityHive   decimal.NullDecimal // Base asset side of a market fill
	QuantityTokens decimal.NullDecimal // Token side of a market fill
	TransactionID  string              // Opaque id, unique within the feed
}

// NormalizedEvent is a RawEvent tagged with the local date used for reporting.
type NormalizedEvent struct {
	RawEvent
	Date time.Time
}

// PriceObservation is one point of a price series.
//
// For token series Price is the market open price in BaseAsset; for the base
// asset series it is the USD price of one BaseAsset unit.
type PriceObservation struct {
	Timestamp time.Time
	Price     decimal.Decimal
}

// Leg is one side (sent or received) of a report row.
type Leg struct {
	Amount   decimal.Decimal
	Currency string
}

// ReportRow is one normalized accounting line of the Koinly export.
//
// At least one of Sent and Received is set. Trades carry both legs, transfers
// exactly one.
type ReportRow struct {
	Date             time.Time
	Sent             *Leg
	Received         *Leg
	Description      string
	NetWorth         decimal.NullDecimal
	NetWorthCurrency string
	TxHash           string
}

// Clone returns a deep copy of the row, safe to keep in a diagnostic.
func (r ReportRow) Clone() ReportRow {
	if r.Sent != nil {
		sent := *r.Sent
		r.Sent = &sent
	}
	if r.Received != nil {
		received := *r.Received
		r.Received = &received
	}
	return r
}

// Report is the ordered list of rows produced by one build.
type Report []ReportRow

// DiagnosticKind classifies why an item needs manual review.
type DiagnosticKind string

const (
	// DiagnosticUnclassified marks a raw event that could not be turned into a row.
	DiagnosticUnclassified DiagnosticKind = "unclassified"

	// DiagnosticUnvalued marks a row leg whose USD value could not be computed.
	DiagnosticUnvalued DiagnosticKind = "unvalued"
)

// Diagnostic is a non-fatal note about a dropped event or an unvalued leg.
type Diagnostic struct {
	Kind   DiagnosticKind
	TxHash string
	Reason string
	Event  *RawEvent  // Set for DiagnosticUnclassified
	Row    *ReportRow // Set for DiagnosticUnvalued
}

// BuildResult bundles a finished report with everything the caller needs to ship it.
type BuildResult struct {
	Account     string
	Report      Report
	Diagnostics []Diagnostic
	Filename    string
	GeneratedAt time.Time
}
