// Package balance maintains a time-bounded snapshot of the account's
// spot+perp equity.
//
// The cache holds a single slot with a 30-second TTL. Readers get a value
// copy; a miss triggers one upstream fetch shared by every concurrent
// caller (singleflight), so a burst of status requests never fans out into
// a burst of venue reads.
package balance

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"hyperbridge/internal/venue"
)

// DefaultTTL is how long a snapshot stays fresh.
const DefaultTTL = 30 * time.Second

// Snapshot is one equity reading. USDC-equivalent: perp account value plus
// spot USDC.
type Snapshot struct {
	Total     decimal.Decimal
	Perp      decimal.Decimal
	Spot      decimal.Decimal
	FetchedAt time.Time
}

// Cache is the single-slot TTL cache.
type Cache struct {
	port venue.Port
	addr func() string
	ttl  time.Duration

	mu      sync.RWMutex
	current Snapshot
	valid   bool

	group singleflight.Group
}

// NewCache creates a cache reading the account returned by addr (a function,
// so each refresh reads whatever account the venue client currently points
// at). An environment switch builds a new cache alongside the new client.
func NewCache(port venue.Port, addr func() string, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{port: port, addr: addr, ttl: ttl}
}

// Get returns the cached snapshot, refreshing it when stale. Concurrent
// misses collapse to one upstream fetch.
func (c *Cache) Get(ctx context.Context) (Snapshot, error) {
	c.mu.RLock()
	if c.valid && time.Since(c.current.FetchedAt) < c.ttl {
		snap := c.current
		c.mu.RUnlock()
		return snap, nil
	}
	c.mu.RUnlock()

	v, err, _ := c.group.Do("refresh", func() (any, error) {
		return c.refresh(ctx)
	})
	if err != nil {
		return Snapshot{}, err
	}
	return v.(Snapshot), nil
}

// Invalidate drops the slot, forcing the next Get to fetch.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.valid = false
	c.mu.Unlock()
}

func (c *Cache) refresh(ctx context.Context) (Snapshot, error) {
	// Re-check under the flight: another caller may have refreshed while we
	// waited for the group slot.
	c.mu.RLock()
	if c.valid && time.Since(c.current.FetchedAt) < c.ttl {
		snap := c.current
		c.mu.RUnlock()
		return snap, nil
	}
	c.mu.RUnlock()

	addr := c.addr()

	perp, err := c.port.ClearinghouseState(ctx, addr)
	if err != nil {
		return Snapshot{}, err
	}
	spot, err := c.port.SpotState(ctx, addr)
	if err != nil {
		return Snapshot{}, err
	}

	var spotUSDC decimal.Decimal
	for _, b := range spot.Balances {
		if b.Coin == "USDC" {
			spotUSDC = spotUSDC.Add(b.Total)
		}
	}

	snap := Snapshot{
		Perp:      perp.Equity,
		Spot:      spotUSDC,
		Total:     perp.Equity.Add(spotUSDC),
		FetchedAt: time.Now(),
	}

	c.mu.Lock()
	c.current = snap
	c.valid = true
	c.mu.Unlock()
	return snap, nil
}
