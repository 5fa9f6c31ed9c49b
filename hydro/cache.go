/*
cache.go - Memoization of balance results and sub-results

PURPOSE:
  Get-or-compute caching for the three result shapes the engine serves:

    balance     keyed (month, production volume)
    facilities  keyed (month)
    kpi         keyed (month)

  A month's balance is deterministic for a given production volume, so a
  repeat request must not re-run the pipeline or touch the measurement
  provider again.

SEMANTICS:
  - Concurrent callers of the same key share one computation; the rest
    wait on it.
  - Computation errors propagate to the waiting callers but are never
    stored. The next caller recomputes.
  - Invalidation is explicit and total. Source-data reloads, configuration
    changes, and facility edits all clear everything; there is no TTL and
    no partial eviction.

SEE ALSO:
  - calculator.go: the only writer
*/
package hydro

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/sitewater/balance-engine/logging"
	"github.com/sitewater/balance-engine/metrics"
)

const (
	spaceBalance    = "balance"
	spaceFacilities = "facilities"
	spaceKPI        = "kpi"
)

// cacheKey spans all three spaces; production is the canonical decimal
// string and stays empty outside the balance space.
type cacheKey struct {
	space      string
	month      Month
	production string
}

// cacheEntry is one in-flight or completed computation. ready closes when
// value/err are set.
type cacheEntry struct {
	ready chan struct{}
	value any
	err   error
}

// ResultCache memoizes calculation results until explicitly invalidated.
type ResultCache struct {
	mu      sync.Mutex
	entries map[cacheKey]*cacheEntry

	logger  *logging.Logger
	metrics *metrics.Collector
}

// NewResultCache builds an empty cache. logger and collector may be nil.
func NewResultCache(logger *logging.Logger, collector *metrics.Collector) *ResultCache {
	if logger == nil {
		logger = logging.Nop()
	}
	return &ResultCache{
		entries: make(map[cacheKey]*cacheEntry),
		logger:  logger,
		metrics: collector,
	}
}

// Balance returns the cached result for (date, production), computing and
// storing it on first call.
func (c *ResultCache) Balance(ctx context.Context, date Month, production decimal.Decimal, compute func() (*BalanceResult, error)) (*BalanceResult, error) {
	key := cacheKey{space: spaceBalance, month: date, production: production.String()}
	v, err := c.getOrCompute(ctx, key, func() (any, error) {
		r, err := compute()
		if err != nil {
			return nil, err
		}
		return r, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*BalanceResult), nil
}

// Facilities returns the cached facility balances for the month.
func (c *ResultCache) Facilities(ctx context.Context, date Month, compute func() ([]FacilityBalance, error)) ([]FacilityBalance, error) {
	key := cacheKey{space: spaceFacilities, month: date}
	v, err := c.getOrCompute(ctx, key, func() (any, error) {
		r, err := compute()
		if err != nil {
			return nil, err
		}
		return r, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]FacilityBalance), nil
}

// KPIs returns the cached KPI set for the month.
func (c *ResultCache) KPIs(ctx context.Context, date Month, compute func() (*KPISet, error)) (*KPISet, error) {
	key := cacheKey{space: spaceKPI, month: date}
	v, err := c.getOrCompute(ctx, key, func() (any, error) {
		r, err := compute()
		if err != nil {
			return nil, err
		}
		return r, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*KPISet), nil
}

// InvalidateAll drops every entry across all spaces. In-flight computations
// finish against their old entries and are not re-admitted.
func (c *ResultCache) InvalidateAll(reason string) {
	c.mu.Lock()
	n := len(c.entries)
	c.entries = make(map[cacheKey]*cacheEntry)
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.CacheInvalidations.Inc()
	}
	c.logger.Info("result cache invalidated", logging.Fields{
		"reason":  reason,
		"dropped": n,
	})
}

// Len reports the number of cached entries across all spaces.
func (c *ResultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *ResultCache) getOrCompute(ctx context.Context, key cacheKey, compute func() (any, error)) (any, error) {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		c.mu.Unlock()
		select {
		case <-e.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if e.err != nil {
			return nil, e.err
		}
		c.recordHit(key.space)
		return e.value, nil
	}

	e := &cacheEntry{ready: make(chan struct{})}
	c.entries[key] = e
	c.mu.Unlock()

	c.recordMiss(key.space)
	e.value, e.err = compute()
	if e.err != nil {
		c.mu.Lock()
		if cur, ok := c.entries[key]; ok && cur == e {
			delete(c.entries, key)
		}
		c.mu.Unlock()
	}
	close(e.ready)
	return e.value, e.err
}

func (c *ResultCache) recordHit(space string) {
	if c.metrics != nil {
		c.metrics.RecordCacheHit(space)
	}
}

func (c *ResultCache) recordMiss(space string) {
	if c.metrics != nil {
		c.metrics.RecordCacheMiss(space)
	}
}
