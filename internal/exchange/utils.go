// Package exchange provides connectors for the upstream data sources of a report.
//
// This file contains shared utilities, configuration structures, and validation functions
// used across all connector implementations. It provides a common foundation
// for configuration management and error handling.
package exchange

import (
	"context"
	"errors"
	"net/url"
)

var (
	// ErrInvalidConfig indicates that the provided ExchangeConfig contains invalid values.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Requester is the transport a connector sends its JSON requests through.
// *rest.Client implements it.
type Requester interface {
	GetJSON(ctx context.Context, path string, query url.Values, out any) error
	PostJSON(ctx context.Context, path string, body any, out any) error
}

// ExchangeConfig provides common configuration parameters for paginated connectors.
type ExchangeConfig struct {
	// PageSize is the number of records requested per page.
	PageSize int

	// MaxPages stops pagination of a single listing after this many pages.
	MaxPages int
}

// validateConfig ensures all required configuration fields are present and valid,
// applying sensible defaults for optional fields when possible.
func validateConfig(cfg *ExchangeConfig, defaultCfg *ExchangeConfig) error {
	if cfg.PageSize < 0 || cfg.MaxPages < 0 {
		return errors.New("page size and page limit cannot be negative")
	}

	// Apply defaults for optional fields
	if cfg.PageSize == 0 {
		cfg.PageSize = defaultCfg.PageSize
	}

	if cfg.MaxPages == 0 {
		cfg.MaxPages = defaultCfg.MaxPages
	}

	// All validations passed
	return nil
}
