package services

import (
	"context"
	"sync"
	"time"

	"crypto_alert_backend/models"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// DefaultCacheTTL is how long a fetched snapshot is served without refetching
const DefaultCacheTTL = 60 * time.Second

// MaxFailureBackoff caps the wait before a failing currency is fetched again
const MaxFailureBackoff = 10 * time.Minute

type cacheEntry struct {
	snapshot  *models.PriceSnapshot
	fetchedAt time.Time
}

// failure tracks consecutive fetch failures of one currency
type failure struct {
	count int
	at    time.Time
}

// CacheStatus describes one currency entry for status reporting
type CacheStatus struct {
	Currency  string    `json:"currency"`
	Coins     int       `json:"coins"`
	FetchedAt time.Time `json:"fetched_at"`
	AgeSec    float64   `json:"age_sec"`
	Fresh     bool      `json:"fresh"`
}

// PriceCache keeps the last good snapshot per currency and collapses
// concurrent refreshes of the same currency into one upstream call.
type PriceCache struct {
	source PriceSource
	ttl    time.Duration
	now    func() time.Time
	logger zerolog.Logger

	mu       sync.RWMutex
	entries  map[string]*cacheEntry
	failures map[string]*failure
	group    singleflight.Group
}

// NewPriceCache creates a new price cache in front of source
func NewPriceCache(source PriceSource, ttl time.Duration, logger zerolog.Logger) *PriceCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &PriceCache{
		source:   source,
		ttl:      ttl,
		now:      time.Now,
		logger:   logger,
		entries:  make(map[string]*cacheEntry),
		failures: make(map[string]*failure),
	}
}

// Refresh returns the snapshot for currency, fetching it when the cached
// entry is missing or older than the TTL. Fetch failures are logged and
// answered with the last good snapshot, or an empty one. After a failure the
// currency is not fetched again until its backoff has passed; the backoff
// starts at a quarter of the TTL and doubles per consecutive failure.
func (c *PriceCache) Refresh(ctx context.Context, currency string) *models.PriceSnapshot {
	currency = models.NormalizeCurrency(currency)

	if snapshot, ok := c.fresh(currency); ok {
		return snapshot
	}
	if c.backingOff(currency) {
		return c.fallback(currency)
	}

	// The shared fetch must not die with the first caller's context
	fetchCtx := context.WithoutCancel(ctx)

	v, _, _ := c.group.Do(currency, func() (interface{}, error) {
		// Double-check after winning the flight
		if snapshot, ok := c.fresh(currency); ok {
			return snapshot, nil
		}
		if c.backingOff(currency) {
			return c.fallback(currency), nil
		}

		start := c.now()
		quotes, err := c.source.FetchMarkets(fetchCtx, currency)
		if err != nil {
			wait := c.recordFailure(currency)
			c.logger.Warn().
				Err(err).
				Str("currency", currency).
				Bool("stale_served", c.last(currency) != nil).
				Dur("retry_in", wait).
				Msg("price fetch failed")
			return c.fallback(currency), nil
		}

		fetchedAt := c.now()
		snapshot := models.NewPriceSnapshot(currency, fetchedAt, quotes)

		c.mu.Lock()
		c.entries[currency] = &cacheEntry{snapshot: snapshot, fetchedAt: fetchedAt}
		delete(c.failures, currency)
		c.mu.Unlock()

		c.logger.Debug().
			Str("currency", currency).
			Int("coins", len(quotes)).
			Dur("duration", fetchedAt.Sub(start)).
			Msg("prices fetched")
		return snapshot, nil
	})

	return v.(*models.PriceSnapshot)
}

// Peek returns the cached snapshot without fetching, fresh or not
func (c *PriceCache) Peek(currency string) (*models.PriceSnapshot, bool) {
	snapshot := c.last(models.NormalizeCurrency(currency))
	return snapshot, snapshot != nil
}

// Status lists every cached currency
func (c *PriceCache) Status() []CacheStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.now()
	result := make([]CacheStatus, 0, len(c.entries))
	for currency, entry := range c.entries {
		age := now.Sub(entry.fetchedAt)
		result = append(result, CacheStatus{
			Currency:  currency,
			Coins:     entry.snapshot.Len(),
			FetchedAt: entry.fetchedAt,
			AgeSec:    age.Seconds(),
			Fresh:     age < c.ttl,
		})
	}
	return result
}

func (c *PriceCache) fresh(currency string) (*models.PriceSnapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[currency]
	if !ok || c.now().Sub(entry.fetchedAt) >= c.ttl {
		return nil, false
	}
	return entry.snapshot, true
}

func (c *PriceCache) last(currency string) *models.PriceSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if entry, ok := c.entries[currency]; ok {
		return entry.snapshot
	}
	return nil
}

// fallback returns the last good snapshot, or an empty one
func (c *PriceCache) fallback(currency string) *models.PriceSnapshot {
	if stale := c.last(currency); stale != nil {
		return stale
	}
	return models.EmptySnapshot(currency)
}

func (c *PriceCache) backoff(count int) time.Duration {
	d := c.ttl / 4
	for i := 1; i < count && d < MaxFailureBackoff; i++ {
		d *= 2
	}
	if d > MaxFailureBackoff {
		d = MaxFailureBackoff
	}
	return d
}

func (c *PriceCache) backingOff(currency string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	f, ok := c.failures[currency]
	return ok && c.now().Sub(f.at) < c.backoff(f.count)
}

// recordFailure counts a failed fetch and returns the wait before the next one
func (c *PriceCache) recordFailure(currency string) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, ok := c.failures[currency]
	if !ok {
		f = &failure{}
		c.failures[currency] = f
	}
	f.count++
	f.at = c.now()
	return c.backoff(f.count)
}
