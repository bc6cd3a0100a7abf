package service

import (
	"context"
	"fmt"
	"time"

	"hivetax/internal/metrics"
	"hivetax/internal/model"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// NormalizerConfig holds configuration parameters for the Normalizer.
type NormalizerConfig struct {
	Concurrency int            // Maximum number of token histories fetched at once
	Location    *time.Location // Location the event dates are expressed in
}

// Normalizer collects the ledger events of every token an account holds.
type Normalizer struct {
	cfg     NormalizerConfig
	tokens  AccountTokenSource
	history EventHistorySource
	metrics *metrics.Recorder
}

// NewNormalizer creates a Normalizer. Zero config fields take defaults:
// one fetch at a time and the local time zone.
func NewNormalizer(cfg NormalizerConfig, tokens AccountTokenSource, history EventHistorySource, rec *metrics.Recorder) *Normalizer {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Normalizer{
		cfg:     cfg,
		tokens:  tokens,
		history: history,
		metrics: rec,
	}
}

// Normalize returns the account's token set and all its events, grouped by
// token in token set order and in feed order within a token.
//
// Histories are fetched in parallel but stored per token slot, so the result
// is the same as a sequential fetch. Any history failure aborts the whole call.
func (n *Normalizer) Normalize(ctx context.Context, account string) ([]string, []model.NormalizedEvent, error) {
	start := time.Now()
	tokens, err := n.tokens.AccountTokens(ctx, account)
	n.metrics.ObserveFetch("tokens", start)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrTokenSet, err)
	}

	slots := make([][]model.RawEvent, len(tokens))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(n.cfg.Concurrency)
	for i, token := range tokens {
		g.Go(func() error {
			start := time.Now()
			events, err := n.history.TokenHistory(gctx, account, token)
			n.metrics.ObserveFetch("history", start)
			if err != nil {
				return fmt.Errorf("%w for %s: %w", ErrTokenHistory, token, err)
			}
			slots[i] = events
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var total int
	for _, s := range slots {
		total += len(s)
	}

	normalized := make([]model.NormalizedEvent, 0, total)
	for _, s := range slots {
		for _, e := range s {
			normalized = append(normalized, model.NormalizedEvent{
				RawEvent: e,
				Date:     e.Timestamp.In(n.cfg.Location),
			})
		}
	}

	log.Debug().
		Str("account", account).
		Int("tokens", len(tokens)).
		Int("events", len(normalized)).
		Msg("account history normalized")

	return tokens, normalized, nil
}
