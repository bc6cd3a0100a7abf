// Package service provides core business logic components for the tax report service.
//
// The ReportService acts as the main orchestrator of one report build. It
// gathers an account's ledger events and the price series needed to value
// them from the upstream sources, and then runs them through the report
// pipeline of classification, valuation and assembly.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"hivetax/internal/metrics"
	"hivetax/internal/model"
	"hivetax/internal/prices"
	"hivetax/internal/report"
	"hivetax/internal/utils"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrTokenSet indicates the account's token set could not be fetched.
	ErrTokenSet = errors.New("failed to fetch account tokens")

	// ErrBasePrices indicates the base asset USD series is unavailable or empty.
	ErrBasePrices = errors.New("failed to fetch base asset prices")

	// ErrTokenHistory indicates a token's ledger history could not be fetched.
	ErrTokenHistory = errors.New("failed to fetch token history")
)

// AccountTokenSource lists the tokens an account holds.
type AccountTokenSource interface {
	AccountTokens(ctx context.Context, account string) ([]string, error)
}

// EventHistorySource returns the ledger history of one token for an account.
type EventHistorySource interface {
	TokenHistory(ctx context.Context, account, token string) ([]model.RawEvent, error)
}

// PriceHistorySource returns the market history of a token in base asset units.
type PriceHistorySource interface {
	TokenPriceHistory(ctx context.Context, token string) ([]model.PriceObservation, error)
}

// BasePriceSource returns the USD history of the base asset.
type BasePriceSource interface {
	BasePriceHistory(ctx context.Context) ([]model.PriceObservation, error)
}

// ServiceConfig holds configuration parameters for the ReportService.
type ServiceConfig struct {
	Concurrency    int            // Maximum number of concurrent upstream fetches per build
	Location       *time.Location // Location of report dates and the filename timestamp
	FilenamePrefix string         // Prefix of the generated CSV filename
}

// ReportService builds Koinly reports for single accounts.
//
// Each call to Build owns its rows, diagnostics and series, so one
// ReportService serves concurrent builds.
type ReportService struct {
	cfg        ServiceConfig
	normalizer *Normalizer
	prices     PriceHistorySource
	base       BasePriceSource
	metrics    *metrics.Recorder
	now        func() time.Time
}

// NewReportService creates a ReportService over the given sources. rec may be nil.
func NewReportService(
	cfg ServiceConfig,
	tokens AccountTokenSource,
	history EventHistorySource,
	priceSource PriceHistorySource,
	base BasePriceSource,
	rec *metrics.Recorder,
) *ReportService {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.FilenamePrefix == "" {
		cfg.FilenamePrefix = report.DefaultFilenamePrefix
	}

	return &ReportService{
		cfg: cfg,
		normalizer: NewNormalizer(NormalizerConfig{
			Concurrency: cfg.Concurrency,
			Location:    cfg.Location,
		}, tokens, history, rec),
		prices:  priceSource,
		base:    base,
		metrics: rec,
		now:     time.Now,
	}
}

// Build produces the report of account.
//
// Unclassified events and unvalued legs do not fail a build; they are
// returned in BuildResult.Diagnostics. Failing to fetch the token set, the
// base asset series or any token history does, with an error wrapping
// ErrTokenSet, ErrBasePrices or ErrTokenHistory.
func (rs *ReportService) Build(ctx context.Context, account string) (result *model.BuildResult, err error) {
	defer func() { rs.metrics.RecordBuild(err) }()

	if err := utils.ValidateAccount(account); err != nil {
		return nil, err
	}

	logger := log.With().Str("component", "report").Str("account", account).Logger()
	logger.Info().Msg("building report")

	tokens, events, err := rs.normalizer.Normalize(ctx, account)
	if err != nil {
		logger.Error().Err(err).Msg("failed to collect account history")
		return nil, err
	}

	base, err := rs.baseSeries(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("failed to fetch base asset prices")
		return nil, err
	}

	tokenSeries, err := rs.tokenSeries(ctx, tokens)
	if err != nil {
		return nil, err
	}

	rows, diagnostics := report.Classify(account, events)
	rs.metrics.RecordDropped(string(model.DiagnosticUnclassified), len(diagnostics))

	unvalued := report.NewValuer(base, tokenSeries).Value(rows)
	rs.metrics.RecordUnvalued(len(unvalued))
	diagnostics = append(diagnostics, unvalued...)

	generatedAt := rs.now().In(rs.cfg.Location)
	result = &model.BuildResult{
		Account:     account,
		Report:      report.Assemble(rows),
		Diagnostics: diagnostics,
		Filename:    report.Filename(rs.cfg.FilenamePrefix, account, generatedAt),
		GeneratedAt: generatedAt,
	}
	rs.metrics.ObserveRows(len(result.Report))

	logger.Info().
		Int("tokens", len(tokens)).
		Int("events", len(events)).
		Int("rows", len(result.Report)).
		Int("diagnostics", len(diagnostics)).
		Str("filename", result.Filename).
		Msg("report built")

	return result, nil
}

func (rs *ReportService) baseSeries(ctx context.Context) (*prices.Series, error) {
	start := time.Now()
	observations, err := rs.base.BasePriceHistory(ctx)
	rs.metrics.ObserveFetch("base", start)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBasePrices, err)
	}
	if len(observations) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrBasePrices, prices.ErrNoData)
	}
	return prices.NewSeries(model.BaseAsset, observations), nil
}

// tokenSeries fetches the market history of every non-base token. A failed
// fetch is logged and leaves that token without a series; only context
// cancellation aborts.
func (rs *ReportService) tokenSeries(ctx context.Context, tokens []string) (map[string]*prices.Series, error) {
	slots := make([]*prices.Series, len(tokens))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(rs.cfg.Concurrency)
	for i, token := range tokens {
		if utils.IsBaseAsset(token) {
			continue
		}
		g.Go(func() error {
			start := time.Now()
			observations, err := rs.prices.TokenPriceHistory(gctx, token)
			rs.metrics.ObserveFetch("market", start)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				log.Warn().Err(err).Str("symbol", token).Msg("token price history unavailable, legs stay unvalued")
				observations = nil
			}
			slots[i] = prices.NewSeries(token, observations)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	series := make(map[string]*prices.Series, len(tokens))
	for i, token := range tokens {
		if slots[i] != nil {
			series[token] = slots[i]
		}
	}
	return series, nil
}
