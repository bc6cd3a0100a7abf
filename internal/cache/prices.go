// Package cache keeps recently fetched price histories in memory.
//
// Price histories are daily series shared by every account holding the same
// token, so consecutive builds mostly ask for the same data. PriceCache wraps
// the upstream sources and serves repeated requests from a TTL cache.
package cache

import (
	"context"
	"time"

	"hivetax/internal/model"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"
)

const (
	baseKey        = "base"
	tokenKeyPrefix = "token:"

	// DefaultTTL is used when a non-positive TTL is configured.
	DefaultTTL = 15 * time.Minute
)

// TokenPriceSource fetches the market history of one token.
type TokenPriceSource interface {
	TokenPriceHistory(ctx context.Context, token string) ([]model.PriceObservation, error)
}

// BasePriceSource fetches the USD history of the base asset.
type BasePriceSource interface {
	BasePriceHistory(ctx context.Context) ([]model.PriceObservation, error)
}

// PriceCache decorates both price sources with a TTL cache.
// Failed fetches are not cached.
type PriceCache struct {
	tokens TokenPriceSource
	base   BasePriceSource
	store  *gocache.Cache
}

// NewPriceCache wraps tokens and base. Entries expire after ttl and expired
// entries are purged every 2*ttl.
func NewPriceCache(tokens TokenPriceSource, base BasePriceSource, ttl time.Duration) *PriceCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &PriceCache{
		tokens: tokens,
		base:   base,
		store:  gocache.New(ttl, 2*ttl),
	}
}

// TokenPriceHistory returns the cached series of token or fetches it.
func (pc *PriceCache) TokenPriceHistory(ctx context.Context, token string) ([]model.PriceObservation, error) {
	return pc.load(tokenKeyPrefix+token, func() ([]model.PriceObservation, error) {
		return pc.tokens.TokenPriceHistory(ctx, token)
	})
}

// BasePriceHistory returns the cached base asset series or fetches it.
func (pc *PriceCache) BasePriceHistory(ctx context.Context) ([]model.PriceObservation, error) {
	return pc.load(baseKey, func() ([]model.PriceObservation, error) {
		return pc.base.BasePriceHistory(ctx)
	})
}

// Flush drops every cached series.
func (pc *PriceCache) Flush() {
	pc.store.Flush()
}

// Len reports the number of cached series, expired ones included until purged.
func (pc *PriceCache) Len() int {
	return pc.store.ItemCount()
}

func (pc *PriceCache) load(key string, fetch func() ([]model.PriceObservation, error)) ([]model.PriceObservation, error) {
	if cached, ok := pc.store.Get(key); ok {
		log.Debug().Str("component", "pricecache").Str("key", key).Msg("cache hit")
		return cached.([]model.PriceObservation), nil
	}

	observations, err := fetch()
	if err != nil {
		return nil, err
	}

	pc.store.SetDefault(key, observations)
	return observations, nil
}
