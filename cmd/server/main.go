/*
Package main implements the HTTP server that exports Hive-Engine token
transactions as Koinly CSV files.

The server fetches an account's token balances and ledger history from
Hive-Engine, values every transaction in USD through the token's market
history and the HIVE/USD series from CoinGecko, and returns the result as a
CSV download. It exposes a small HTML form, a health check and Prometheus
metrics, and shuts down gracefully on SIGINT/SIGTERM.

Configuration is read from the environment (and an optional .env file), see
internal/config. The listen address may be overridden on the command line.

Usage:

	go run ./cmd/server -port=:8080

	curl -OJ 'http://localhost:8080/get_csv?account_name=alice'
*/
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hivetax/internal/app"
	"hivetax/internal/config"
	"hivetax/internal/handlers"
	"hivetax/internal/logging"
	"hivetax/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// port overrides the PORT environment variable when set
var port = flag.String("port", "", "The server listen address, e.g. :8080")

// shutdownTimeout bounds how long in-flight downloads may take to finish.
const shutdownTimeout = 30 * time.Second

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	if *port != "" {
		cfg.Port = *port
	}

	logging.Setup(cfg.LogLevel, cfg.LogPretty)

	// Metrics go to a dedicated registry together with the runtime collectors
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.NewRecorder(registry)

	reportService, err := app.NewReportService(cfg, recorder)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initiate report service")
	}

	router := handlers.NewRouter(handlers.NewReportHandler(reportService), handlers.RouterConfig{
		RequestTimeout: cfg.RequestTimeout,
		Metrics:        promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
	})

	srv := &http.Server{
		Addr:              cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 10*time.Second,
	}

	// Set up signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		log.Info().Msg("initiating graceful shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server shutdown failed")
		}
	}()

	log.Info().
		Str("port", cfg.Port).
		Str("hiveEngineRpc", cfg.HiveEngineRPCURL).
		Str("hiveEngineHistory", cfg.HiveEngineHistoryURL).
		Str("coinGecko", cfg.CoinGeckoURL).
		Int("fetchConcurrency", cfg.FetchConcurrency).
		Dur("priceCacheTTL", cfg.PriceCacheTTL).
		Msg("server starting")

	// Serve HTTP requests - this blocks until shutdown
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("failed to serve")
	}

	<-shutdownDone
	log.Info().Msg("server stopped")
}
