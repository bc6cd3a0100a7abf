// Package config loads the service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds the report service configuration.
type Config struct {
	// HTTP server
	Port           string        `env:"PORT" envDefault:":8080" validate:"required"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"5m" validate:"gt=0"`

	// Observability
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=trace debug info warn error"`
	LogPretty bool   `env:"LOG_PRETTY" envDefault:"true"`

	// Upstreams
	HiveEngineRPCURL     string `env:"HIVE_ENGINE_RPC_URL" envDefault:"https://api.hive-engine.com/rpc" validate:"required,url"`
	HiveEngineHistoryURL string `env:"HIVE_ENGINE_HISTORY_URL" envDefault:"https://accounts.hive-engine.com" validate:"required,url"`
	CoinGeckoURL         string `env:"COINGECKO_URL" envDefault:"https://api.coingecko.com/api/v3" validate:"required,url"`
	CoinGeckoAPIKey      string `env:"COINGECKO_API_KEY"`
	BaseCoinID           string `env:"BASE_COIN_ID" envDefault:"hive" validate:"required"`

	// Outbound behaviour
	HTTPTimeout       time.Duration `env:"HTTP_TIMEOUT" envDefault:"30s" validate:"gt=0"`
	RequestsPerSecond float64       `env:"REQUESTS_PER_SECOND" envDefault:"5" validate:"gt=0"`
	FetchConcurrency  int           `env:"FETCH_CONCURRENCY" envDefault:"4" validate:"gte=1,lte=32"`
	HistoryPageSize   int           `env:"HISTORY_PAGE_SIZE" envDefault:"500" validate:"gte=1,lte=1000"`
	PriceCacheTTL     time.Duration `env:"PRICE_CACHE_TTL" envDefault:"15m" validate:"gte=0"`

	// Report output
	Timezone       string `env:"TZ_NAME" envDefault:"Local"`
	FilenamePrefix string `env:"FILENAME_PREFIX" envDefault:"Hive-Engine_txs" validate:"required"`

	// Location is Timezone resolved by Load.
	Location *time.Location `env:"-" validate:"-"`
}

// Load reads an optional .env file, parses the environment and validates the result.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load .env file: %w", err)
		}
		log.Debug().Msg("no .env file found, relying on the environment")
	}
	return Parse()
}

// Parse builds a Config from the process environment only.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment variables: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
	}
	cfg.Location = loc

	return cfg, nil
}
