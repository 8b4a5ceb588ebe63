// Package intelligence supplies external market-sentiment readings.
package intelligence

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"gridbot/internal/core"
	apphttp "gridbot/pkg/http"
)

const (
	// DefaultFearGreedURL serves the crypto Fear & Greed index
	DefaultFearGreedURL = "https://api.alternative.me"
	fearGreedPath       = "/fng/"
	// DefaultCacheTTL bounds how often the index is re-fetched
	DefaultCacheTTL = 300 * time.Second
)

type fngResponse struct {
	Name string `json:"name"`
	Data []struct {
		Value          string `json:"value"`
		Classification string `json:"value_classification"`
		Timestamp      string `json:"timestamp"`
	} `json:"data"`
}

// FearGreedProvider polls the alternative.me Fear & Greed index and
// caches the reading. Implements core.SentimentProvider; Index
// reports ok=false until the first successful fetch, and a stale
// cache keeps serving the last reading when a refresh fails.
type FearGreedProvider struct {
	mu        sync.Mutex
	client    *apphttp.Client
	logger    core.ILogger
	ttl       time.Duration
	value     int
	class     string
	fetchedAt time.Time
	haveValue bool
	now       func() time.Time
}

// NewFearGreedProvider builds a provider over the given base URL.
// Empty baseURL and zero ttl select the defaults.
func NewFearGreedProvider(baseURL string, ttl time.Duration, logger core.ILogger) *FearGreedProvider {
	if baseURL == "" {
		baseURL = DefaultFearGreedURL
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &FearGreedProvider{
		client: apphttp.NewClient(baseURL, 10*time.Second, nil),
		logger: logger.WithField("component", "fear_greed"),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Refresh fetches the index if the cache has expired. Safe to call
// every tick; it is a no-op within the TTL.
func (f *FearGreedProvider) Refresh(ctx context.Context) error {
	f.mu.Lock()
	fresh := f.haveValue && f.now().Sub(f.fetchedAt) < f.ttl
	f.mu.Unlock()
	if fresh {
		return nil
	}

	body, err := f.client.Get(ctx, fearGreedPath, map[string]string{"limit": "1"})
	if err != nil {
		f.logger.Warn("Fear-greed fetch failed", "error", err)
		return err
	}

	var resp fngResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("failed to decode fear-greed response: %w", err)
	}
	if len(resp.Data) == 0 {
		return fmt.Errorf("fear-greed response carried no data points")
	}

	value, err := strconv.Atoi(resp.Data[0].Value)
	if err != nil {
		return fmt.Errorf("fear-greed value %q is not numeric: %w", resp.Data[0].Value, err)
	}
	if value < 0 || value > 100 {
		return fmt.Errorf("fear-greed value %d out of range", value)
	}

	f.mu.Lock()
	f.value = value
	f.class = resp.Data[0].Classification
	f.fetchedAt = f.now()
	f.haveValue = true
	f.mu.Unlock()

	f.logger.Info("Fear-greed index updated", "value", value, "classification", resp.Data[0].Classification)
	return nil
}

// Index returns the cached reading; ok is false before the first
// successful fetch.
func (f *FearGreedProvider) Index() (int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value, f.haveValue
}

// Classification returns the provider's label for the current reading
func (f *FearGreedProvider) Classification() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.haveValue {
		return "Unknown"
	}
	return f.class
}

// Age reports how old the cached reading is
func (f *FearGreedProvider) Age() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.haveValue {
		return 0
	}
	return f.now().Sub(f.fetchedAt)
}

// SetClock overrides the time source, for tests
func (f *FearGreedProvider) SetClock(now func() time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = now
}

var _ core.SentimentProvider = (*FearGreedProvider)(nil)
