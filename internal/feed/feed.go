// Package feed supplies per-tick prices to the orchestrator. Live
// runs read venue tickers; offline paper runs use a synthetic random
// walk.
package feed

import (
	"context"
	"math/rand"
	"sync"

	"gridbot/internal/core"
	apperrors "gridbot/pkg/errors"
	"gridbot/pkg/retry"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// PriceSource produces one price per requested symbol
type PriceSource interface {
	Prices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error)
}

// VenueSource reads tickers from the exchange adapter, fanning the
// reads out concurrently and joining before returning. Individual
// symbol failures are retried, then dropped from the result so one
// bad feed does not starve the other pairs.
type VenueSource struct {
	adapter core.ExchangeAdapter
	logger  core.ILogger
	policy  retry.Policy
}

// NewVenueSource creates a ticker-backed source
func NewVenueSource(adapter core.ExchangeAdapter, logger core.ILogger) *VenueSource {
	return &VenueSource{
		adapter: adapter,
		logger:  logger.WithField("component", "price_feed"),
		policy:  retry.DefaultPolicy,
	}
}

// Prices fetches all symbols concurrently. The returned map only
// carries symbols whose fetch succeeded.
func (v *VenueSource) Prices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	var mu sync.Mutex
	prices := make(map[string]decimal.Decimal, len(symbols))

	g, gctx := errgroup.WithContext(ctx)
	for _, symbol := range symbols {
		symbol := symbol
		g.Go(func() error {
			var last decimal.Decimal
			err := retry.Do(gctx, v.policy, apperrors.IsTransient, func() error {
				ticker, err := v.adapter.GetTicker(gctx, symbol)
				if err != nil {
					return err
				}
				last = ticker.Last
				return nil
			})
			if err != nil {
				v.logger.Warn("Price fetch failed, skipping symbol this tick",
					"symbol", symbol, "error", err)
				return nil
			}
			mu.Lock()
			prices[symbol] = last
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return prices, nil
}

// RandomWalkSource synthesizes a bounded random walk per symbol.
// Used for offline paper runs where no venue feed is reachable. The
// limiter throttles how fast ticks can be drawn.
type RandomWalkSource struct {
	mu      sync.Mutex
	current map[string]float64
	stepPct float64
	rng     *rand.Rand
	limiter *rate.Limiter
	logger  core.ILogger
}

// NewRandomWalkSource seeds the walk with starting prices. stepPct is
// the maximum per-tick move in percent; ticksPerSec bounds the draw
// rate (0 disables throttling).
func NewRandomWalkSource(start map[string]float64, stepPct float64, ticksPerSec float64, seed int64, logger core.ILogger) *RandomWalkSource {
	if stepPct <= 0 {
		stepPct = 0.5
	}
	limit := rate.Inf
	if ticksPerSec > 0 {
		limit = rate.Limit(ticksPerSec)
	}
	current := make(map[string]float64, len(start))
	for sym, price := range start {
		current[sym] = price
	}
	return &RandomWalkSource{
		current: current,
		stepPct: stepPct,
		rng:     rand.New(rand.NewSource(seed)),
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger.WithField("component", "random_walk_feed"),
	}
}

// Prices advances the walk one step for every requested symbol
func (r *RandomWalkSource) Prices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	prices := make(map[string]decimal.Decimal, len(symbols))
	for _, symbol := range symbols {
		price, ok := r.current[symbol]
		if !ok {
			r.logger.Warn("No seed price for symbol", "symbol", symbol)
			continue
		}
		// Uniform step in [-stepPct, +stepPct] percent
		move := (r.rng.Float64()*2 - 1) * r.stepPct / 100
		price = price * (1 + move)
		if price <= 0 {
			price = r.current[symbol]
		}
		r.current[symbol] = price
		prices[symbol] = decimal.NewFromFloat(price)
	}
	return prices, nil
}
