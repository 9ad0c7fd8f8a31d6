package monitor

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/web3-frozen/price-alerts/internal/alert"
	"github.com/web3-frozen/price-alerts/internal/metrics"
	"github.com/web3-frozen/price-alerts/internal/monitor/sources"
)

// PriceFetcher builds the price cache for one cycle of a single source.
// Failures never escape: a key that could not be priced is simply absent.
type PriceFetcher interface {
	Source() alert.Source
	FetchPrices(ctx context.Context, alerts []alert.Alert) PriceCache
}

// BatchQuoter prices many CoinMarketCap ids in one call.
type BatchQuoter interface {
	FetchBatch(ctx context.Context, ids []int) (map[int]decimal.Decimal, error)
}

// TokenQuoter prices a single on-chain token.
type TokenQuoter interface {
	FetchOne(ctx context.Context, network, address string) (sources.Token, error)
}

// CMCFetcher prices all cmc alerts of a cycle with one batch request.
type CMCFetcher struct {
	quoter BatchQuoter
	logger *slog.Logger
}

func NewCMCFetcher(q BatchQuoter, logger *slog.Logger) *CMCFetcher {
	return &CMCFetcher{quoter: q, logger: logger.With("component", "fetcher", "source", alert.SourceCMC)}
}

func (f *CMCFetcher) Source() alert.Source { return alert.SourceCMC }

func (f *CMCFetcher) FetchPrices(ctx context.Context, alerts []alert.Alert) PriceCache {
	cache := NewPriceCache()

	seen := make(map[int]struct{})
	var ids []int
	for _, a := range alerts {
		t, ok := a.Target.(alert.CMCTarget)
		if !ok {
			continue
		}
		if _, dup := seen[t.ID]; dup {
			continue
		}
		seen[t.ID] = struct{}{}
		ids = append(ids, t.ID)
	}
	if len(ids) == 0 {
		return cache
	}

	start := time.Now()
	prices, err := f.quoter.FetchBatch(ctx, ids)
	if err != nil {
		metrics.PriceFetchFailures.WithLabelValues(string(alert.SourceCMC)).Inc()
		f.logger.Error("batch quote failed", "ids", len(ids), "error", err)
		return cache
	}
	for id, p := range prices {
		cache.Set(alert.CMCKey(id), p)
	}
	if missing := len(ids) - len(prices); missing > 0 {
		f.logger.Warn("batch quote incomplete", "requested", len(ids), "priced", len(prices))
	}
	f.logger.Info("prices fetched", "requested", len(ids), "priced", cache.Len(), "duration", time.Since(start).String())
	return cache
}

// CoinGeckoFetcher prices each distinct token of a cycle with its own
// lookup. Lookups run concurrently; the adapter bounds how many are in
// flight.
type CoinGeckoFetcher struct {
	quoter TokenQuoter
	logger *slog.Logger
}

func NewCoinGeckoFetcher(q TokenQuoter, logger *slog.Logger) *CoinGeckoFetcher {
	return &CoinGeckoFetcher{quoter: q, logger: logger.With("component", "fetcher", "source", alert.SourceCoinGecko)}
}

func (f *CoinGeckoFetcher) Source() alert.Source { return alert.SourceCoinGecko }

func (f *CoinGeckoFetcher) FetchPrices(ctx context.Context, alerts []alert.Alert) PriceCache {
	cache := NewPriceCache()

	targets := make(map[string]alert.CoinGeckoTarget)
	for _, a := range alerts {
		t, ok := a.Target.(alert.CoinGeckoTarget)
		if !ok {
			continue
		}
		if _, dup := targets[t.Key()]; !dup {
			targets[t.Key()] = t
		}
	}
	if len(targets) == 0 {
		return cache
	}

	start := time.Now()
	var (
		mu     sync.Mutex
		failed int
		g      errgroup.Group
	)
	for key, t := range targets {
		key, t := key, t
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					mu.Lock()
					failed++
					mu.Unlock()
					metrics.PriceFetchFailures.WithLabelValues(string(alert.SourceCoinGecko)).Inc()
					f.logger.Error("token lookup panicked", "network", t.Network, "address", t.Address,
						"panic", r, "stack", string(debug.Stack()))
				}
			}()
			tok, err := f.quoter.FetchOne(ctx, t.Network, t.Address)
			mu.Lock()
			defer mu.Unlock()
			if err != nil || !tok.HasPrice {
				failed++
				metrics.PriceFetchFailures.WithLabelValues(string(alert.SourceCoinGecko)).Inc()
				f.logger.Warn("token price unavailable", "network", t.Network, "address", t.Address, "error", err)
				return nil
			}
			cache.Set(key, tok.Price)
			return nil
		})
	}
	_ = g.Wait()

	f.logger.Info("prices fetched", "requested", len(targets), "priced", cache.Len(), "failed", failed,
		"duration", time.Since(start).String())
	return cache
}
