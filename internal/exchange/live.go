package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gridbot/internal/core"
	apperrors "gridbot/pkg/errors"
	"gridbot/pkg/ratelimit"
	"gridbot/pkg/telemetry"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// VenueClient is the raw transport to a trading venue, one method per
// endpoint with no throttling or retries of its own. CancelOrder
// returns apperrors.ErrOrderNotFound when the venue does not know the
// id.
type VenueClient interface {
	Connect(ctx context.Context) error
	Close() error
	FetchTicker(ctx context.Context, symbol string) (*core.Ticker, error)
	FetchBalance(ctx context.Context) (*core.Balance, error)
	CreateLimitOrder(ctx context.Context, symbol string, side core.OrderSide, amount, price decimal.Decimal) (*core.Order, error)
	CreateMarketOrder(ctx context.Context, symbol string, side core.OrderSide, amount decimal.Decimal) (*core.Order, error)
	CancelOrder(ctx context.Context, orderID, symbol string) error
	FetchOrder(ctx context.Context, orderID, symbol string) (*core.Order, error)
	FetchOpenOrders(ctx context.Context, symbol string) ([]*core.Order, error)
	FetchOHLCV(ctx context.Context, symbol, timeframe string, since time.Time, limit int) ([]core.Candle, error)
}

const (
	readRetryBase   = 500 * time.Millisecond
	mutateRetryBase = 1 * time.Second
	retryMaxDelay   = 8 * time.Second
	retryAttempts   = 3
)

// LiveExchange wraps a VenueClient with the venue-facing token bucket
// and transient-error retries. Implements core.ExchangeAdapter.
type LiveExchange struct {
	venue   VenueClient
	limiter *ratelimit.TokenBucket
	logger  core.ILogger

	readRetry   retrypolicy.RetryPolicy[any]
	mutateRetry retrypolicy.RetryPolicy[any]
}

// NewLiveExchange builds the adapter. rateLimitMs is the minimum
// spacing between venue calls; the bucket holds one burst token.
func NewLiveExchange(venue VenueClient, rateLimitMs int, logger core.ILogger) (*LiveExchange, error) {
	if rateLimitMs <= 0 {
		return nil, fmt.Errorf("rate limit must be positive: %w", apperrors.ErrInvalidConfig)
	}
	limiter, err := ratelimit.NewTokenBucket(1000.0/float64(rateLimitMs), 1)
	if err != nil {
		return nil, err
	}

	transient := func(_ any, err error) bool {
		return err != nil && apperrors.IsTransient(err)
	}

	return &LiveExchange{
		venue:   venue,
		limiter: limiter,
		logger:  logger.WithField("component", "live_exchange"),
		readRetry: retrypolicy.NewBuilder[any]().
			HandleIf(transient).
			WithBackoff(readRetryBase, retryMaxDelay).
			WithJitterFactor(0.25).
			WithMaxAttempts(retryAttempts).
			Build(),
		mutateRetry: retrypolicy.NewBuilder[any]().
			HandleIf(transient).
			WithBackoff(mutateRetryBase, retryMaxDelay).
			WithJitterFactor(0.25).
			WithMaxAttempts(retryAttempts).
			Build(),
	}, nil
}

// execute throttles and retries one venue call. Each retry attempt
// pays its own rate-limit token.
func (l *LiveExchange) execute(ctx context.Context, op string, policy retrypolicy.RetryPolicy[any], fn func(context.Context) (any, error)) (any, error) {
	start := time.Now()
	result, err := failsafe.With(policy).WithContext(ctx).Get(func() (any, error) {
		if err := l.limiter.Acquire(ctx); err != nil {
			return nil, err
		}
		return fn(ctx)
	})

	if m := telemetry.GetGlobalMetrics(); m.LatencyExchange != nil {
		m.LatencyExchange.Record(ctx, float64(time.Since(start).Milliseconds()),
			metric.WithAttributes(attribute.String("op", op)))
	}
	if err != nil {
		l.logger.Warn("Venue call failed", "op", op, "error", err)
	}
	return result, err
}

func (l *LiveExchange) Connect(ctx context.Context) error {
	_, err := l.execute(ctx, "connect", l.readRetry, func(ctx context.Context) (any, error) {
		return nil, l.venue.Connect(ctx)
	})
	return err
}

func (l *LiveExchange) Close() error {
	return l.venue.Close()
}

func (l *LiveExchange) GetTicker(ctx context.Context, symbol string) (*core.Ticker, error) {
	res, err := l.execute(ctx, "get_ticker", l.readRetry, func(ctx context.Context) (any, error) {
		return l.venue.FetchTicker(ctx, symbol)
	})
	if err != nil {
		return nil, err
	}
	return res.(*core.Ticker), nil
}

func (l *LiveExchange) GetBalance(ctx context.Context) (*core.Balance, error) {
	res, err := l.execute(ctx, "get_balance", l.readRetry, func(ctx context.Context) (any, error) {
		return l.venue.FetchBalance(ctx)
	})
	if err != nil {
		return nil, err
	}
	return res.(*core.Balance), nil
}

func (l *LiveExchange) PlaceLimitOrder(ctx context.Context, symbol string, side core.OrderSide, amount, price decimal.Decimal) (*core.Order, error) {
	res, err := l.execute(ctx, "place_limit", l.mutateRetry, func(ctx context.Context) (any, error) {
		return l.venue.CreateLimitOrder(ctx, symbol, side, amount, price)
	})
	if err != nil {
		return nil, err
	}
	return res.(*core.Order), nil
}

func (l *LiveExchange) PlaceMarketOrder(ctx context.Context, symbol string, side core.OrderSide, amount decimal.Decimal) (*core.Order, error) {
	res, err := l.execute(ctx, "place_market", l.mutateRetry, func(ctx context.Context) (any, error) {
		order, err := l.venue.CreateMarketOrder(ctx, symbol, side, amount)
		if err != nil {
			return nil, err
		}
		if order.AvgFillPrice.IsZero() {
			return nil, fmt.Errorf("market fill without average price: %w", apperrors.ErrInvariantViolation)
		}
		return order, nil
	})
	if err != nil {
		return nil, err
	}
	return res.(*core.Order), nil
}

// CancelOrder maps a venue not-found to (false, nil). Not-found is
// never retried; the order is already gone.
func (l *LiveExchange) CancelOrder(ctx context.Context, orderID, symbol string) (bool, error) {
	_, err := l.execute(ctx, "cancel_order", l.mutateRetry, func(ctx context.Context) (any, error) {
		return nil, l.venue.CancelOrder(ctx, orderID, symbol)
	})
	if errors.Is(err, apperrors.ErrOrderNotFound) {
		l.logger.Debug("Cancel target already gone", "order_id", orderID, "symbol", symbol)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (l *LiveExchange) GetOrder(ctx context.Context, orderID, symbol string) (*core.Order, error) {
	res, err := l.execute(ctx, "get_order", l.readRetry, func(ctx context.Context) (any, error) {
		return l.venue.FetchOrder(ctx, orderID, symbol)
	})
	if err != nil {
		return nil, err
	}
	return res.(*core.Order), nil
}

func (l *LiveExchange) GetOpenOrders(ctx context.Context, symbol string) ([]*core.Order, error) {
	res, err := l.execute(ctx, "get_open_orders", l.readRetry, func(ctx context.Context) (any, error) {
		return l.venue.FetchOpenOrders(ctx, symbol)
	})
	if err != nil {
		return nil, err
	}
	return res.([]*core.Order), nil
}

func (l *LiveExchange) FetchOHLCV(ctx context.Context, symbol, timeframe string, since time.Time, limit int) ([]core.Candle, error) {
	res, err := l.execute(ctx, "fetch_ohlcv", l.readRetry, func(ctx context.Context) (any, error) {
		return l.venue.FetchOHLCV(ctx, symbol, timeframe, since, limit)
	})
	if err != nil {
		return nil, err
	}
	return res.([]core.Candle), nil
}
