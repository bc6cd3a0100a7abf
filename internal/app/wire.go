// Package app assembles the report service from configuration.
package app

import (
	"fmt"

	"hivetax/internal/cache"
	"hivetax/internal/config"
	"hivetax/internal/exchange"
	"hivetax/internal/metrics"
	"hivetax/internal/rest"
	"hivetax/internal/service"

	"github.com/rs/zerolog/log"
)

// NewReportService initializes the upstream clients, connectors and price
// cache described by cfg and returns a ReportService over them.
//
// One rest client is created per upstream host so each host gets its own
// request limiter. rec may be nil.
func NewReportService(cfg *config.Config, rec *metrics.Recorder) (*service.ReportService, error) {
	rpcClient, err := newClient(cfg, cfg.HiveEngineRPCURL)
	if err != nil {
		return nil, err
	}
	historyClient, err := newClient(cfg, cfg.HiveEngineHistoryURL)
	if err != nil {
		return nil, err
	}
	geckoClient, err := newClient(cfg, cfg.CoinGeckoURL)
	if err != nil {
		return nil, err
	}

	hiveEngine, err := exchange.NewHiveEngineConnector(&exchange.ExchangeConfig{
		PageSize: cfg.HistoryPageSize,
	}, rpcClient, historyClient)
	if err != nil {
		log.Error().Err(err).Msg("failed to create Hive-Engine connector")
		return nil, err
	}

	coinGecko, err := exchange.NewCoinGeckoConnector(&exchange.CoinGeckoConfig{
		CoinID: cfg.BaseCoinID,
		APIKey: cfg.CoinGeckoAPIKey,
	}, geckoClient)
	if err != nil {
		log.Error().Err(err).Msg("failed to create CoinGecko connector")
		return nil, err
	}

	priceCache := cache.NewPriceCache(hiveEngine, coinGecko, cfg.PriceCacheTTL)

	return service.NewReportService(service.ServiceConfig{
		Concurrency:    cfg.FetchConcurrency,
		Location:       cfg.Location,
		FilenamePrefix: cfg.FilenamePrefix,
	}, hiveEngine, hiveEngine, priceCache, priceCache, rec), nil
}

func newClient(cfg *config.Config, baseURL string) (*rest.Client, error) {
	client, err := rest.NewClient(rest.Config{
		BaseURL:           baseURL,
		Timeout:           cfg.HTTPTimeout,
		RequestsPerSecond: cfg.RequestsPerSecond,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create client for %s: %w", baseURL, err)
	}
	return client, nil
}
