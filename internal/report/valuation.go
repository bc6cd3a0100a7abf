package report

import (
	"fmt"
	"time"

	"hivetax/internal/model"
	"hivetax/internal/prices"
	"hivetax/internal/utils"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Valuer resolves the USD value of report legs through a two-hop lookup:
// token -> base asset via the token's series, base asset -> USD via the base series.
type Valuer struct {
	base   *prices.Series
	tokens map[string]*prices.Series
}

// NewValuer creates a Valuer. tokens is keyed by the ticker used in row legs;
// a missing or empty token series leaves that token's legs unvalued.
func NewValuer(base *prices.Series, tokens map[string]*prices.Series) *Valuer {
	if tokens == nil {
		tokens = make(map[string]*prices.Series)
	}
	return &Valuer{
		base:   base,
		tokens: tokens,
	}
}

// Value fills NetWorth on rows in place and returns a diagnostic for every leg
// that could not be valued.
//
// Token legs are valued before base asset legs, Sent before Received. Every
// successful leg overwrites NetWorth, so on a trade row the base asset leg,
// valued last, is the one that remains.
func (v *Valuer) Value(rows []model.ReportRow) []model.Diagnostic {
	var diagnostics []model.Diagnostic

	for i := range rows {
		row := &rows[i]
		for _, leg := range orderedLegs(row) {
			value, err := v.legValue(row.Date, leg)
			if err != nil {
				log.Warn().
					Err(err).
					Str("txHash", row.TxHash).
					Str("currency", leg.Currency).
					Str("amount", leg.Amount.String()).
					Msg("transaction leg was not valued")

				snapshot := row.Clone()
				diagnostics = append(diagnostics, model.Diagnostic{
					Kind:   model.DiagnosticUnvalued,
					TxHash: row.TxHash,
					Reason: err.Error(),
					Row:    &snapshot,
				})
				continue
			}
			row.NetWorth = decimal.NullDecimal{Decimal: value, Valid: true}
		}
	}

	return diagnostics
}

// orderedLegs returns the row's legs in valuation order: token legs, then base asset legs.
func orderedLegs(row *model.ReportRow) []*model.Leg {
	legs := make([]*model.Leg, 0, 2)
	for _, wantBase := range []bool{false, true} {
		for _, leg := range []*model.Leg{row.Sent, row.Received} {
			if leg != nil && utils.IsBaseAsset(leg.Currency) == wantBase {
				legs = append(legs, leg)
			}
		}
	}
	return legs
}

func (v *Valuer) legValue(date time.Time, leg *model.Leg) (decimal.Decimal, error) {
	if v.base == nil {
		return decimal.Zero, fmt.Errorf("base asset price: %w", prices.ErrNoData)
	}

	baseObs, exact, err := v.base.NextOrLast(date)
	if err != nil {
		return decimal.Zero, fmt.Errorf("base asset price: %w", err)
	}
	if !exact {
		log.Debug().
			Time("date", date).
			Time("lastObservation", baseObs.Timestamp).
			Msg("date past base asset series, using last observation")
	}

	if utils.IsBaseAsset(leg.Currency) {
		return leg.Amount.Mul(baseObs.Price), nil
	}

	series, ok := v.tokens[leg.Currency]
	if !ok {
		return decimal.Zero, fmt.Errorf("%s price: %w", leg.Currency, prices.ErrNoData)
	}

	tokenObs, err := series.PriorOrFirst(date)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s price: %w", leg.Currency, err)
	}

	return tokenObs.Price.Mul(leg.Amount).Mul(baseObs.Price), nil
}
