package exchange

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"hivetax/internal/model"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// CoinGeckoConfig selects the coin and range of the base asset USD series.
type CoinGeckoConfig struct {
	// CoinID is the CoinGecko id of the base asset's underlying coin.
	CoinID string

	// VsCurrency is the quote currency of the series.
	VsCurrency string

	// Days is the history range; "max" returns everything available.
	Days string

	// APIKey is sent as the demo API key query parameter when set.
	APIKey string
}

var defaultCoinGeckoConfig = CoinGeckoConfig{
	CoinID:     "hive",
	VsCurrency: "usd",
	Days:       "max",
}

// CoinGeckoConnector fetches the USD price history of the base asset.
type CoinGeckoConnector struct {
	config   CoinGeckoConfig
	client   Requester
	validate *validator.Validate
}

// marketChart is the market_chart response; prices are [unix_ms, price] pairs.
//
//	{"prices": [[1609459200000, 0.1234], [1609545600000, 0.1301]], "market_caps": [...], "total_volumes": [...]}
type marketChart struct {
	Prices [][]decimal.Decimal `json:"prices" validate:"required,dive,len=2"`
}

// NewCoinGeckoConnector creates a connector; zero fields of cfg take defaults.
func NewCoinGeckoConnector(cfg *CoinGeckoConfig, client Requester) (*CoinGeckoConnector, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: transport is required", ErrInvalidConfig)
	}

	resolved := defaultCoinGeckoConfig
	if cfg != nil {
		if cfg.CoinID != "" {
			resolved.CoinID = cfg.CoinID
		}
		if cfg.VsCurrency != "" {
			resolved.VsCurrency = cfg.VsCurrency
		}
		if cfg.Days != "" {
			resolved.Days = cfg.Days
		}
		resolved.APIKey = cfg.APIKey
	}

	return &CoinGeckoConnector{
		config:   resolved,
		client:   client,
		validate: validator.New(),
	}, nil
}

// BasePriceHistory returns the base asset USD series over the configured range.
// An empty series is returned as an error: no report can be valued without it.
func (cc *CoinGeckoConnector) BasePriceHistory(ctx context.Context) ([]model.PriceObservation, error) {
	query := url.Values{
		"vs_currency": {cc.config.VsCurrency},
		"days":        {cc.config.Days},
	}
	if cc.config.APIKey != "" {
		query.Set("x_cg_demo_api_key", cc.config.APIKey)
	}

	var chart marketChart
	path := fmt.Sprintf("coins/%s/market_chart", url.PathEscape(cc.config.CoinID))
	if err := cc.client.GetJSON(ctx, path, query, &chart); err != nil {
		return nil, fmt.Errorf("failed to fetch %s price history: %w", cc.config.CoinID, err)
	}

	if err := cc.validate.Struct(&chart); err != nil {
		log.Error().Err(err).Str("coin", cc.config.CoinID).Msg("market chart validation failed")
		return nil, fmt.Errorf("invalid %s price history: %w", cc.config.CoinID, err)
	}

	observations := make([]model.PriceObservation, 0, len(chart.Prices))
	for _, point := range chart.Prices {
		observations = append(observations, model.PriceObservation{
			Timestamp: time.UnixMilli(point[0].IntPart()),
			Price:     point[1],
		})
	}

	if len(observations) == 0 {
		return nil, errors.New("empty base asset price history")
	}

	return observations, nil
}
