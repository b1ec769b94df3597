package balance

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"hyperbridge/internal/venue"
	"hyperbridge/pkg/types"
)

// statePort stubs the two reads the cache performs.
type statePort struct {
	venue.Port
	fetches atomic.Int64
	block   chan struct{} // non-nil: fetch waits here, to provoke concurrency
}

func (p *statePort) ClearinghouseState(context.Context, string) (*types.PerpState, error) {
	p.fetches.Add(1)
	if p.block != nil {
		<-p.block
	}
	return &types.PerpState{Equity: decimal.RequireFromString("1000.5")}, nil
}

func (p *statePort) SpotState(context.Context, string) (*types.SpotState, error) {
	return &types.SpotState{Balances: []types.SpotBalance{
		{Coin: "USDC", Total: decimal.RequireFromString("250.25")},
		{Coin: "SOL", Total: decimal.RequireFromString("3")},
	}}, nil
}

func addr() string { return "0xmaster" }

func TestGetSumsPerpAndSpotUSDC(t *testing.T) {
	t.Parallel()

	c := NewCache(&statePort{}, addr, time.Minute)
	snap, err := c.Get(context.Background())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !snap.Total.Equal(decimal.RequireFromString("1250.75")) {
		t.Errorf("total = %s, want 1250.75 (non-USDC spot excluded)", snap.Total)
	}
}

func TestGetServesFromCacheWithinTTL(t *testing.T) {
	t.Parallel()

	port := &statePort{}
	c := NewCache(port, addr, time.Minute)
	ctx := context.Background()

	if _, err := c.Get(ctx); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, err := c.Get(ctx); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got := port.fetches.Load(); got != 1 {
		t.Errorf("upstream fetched %d times within TTL, want 1", got)
	}
}

func TestInvalidateForcesRefresh(t *testing.T) {
	t.Parallel()

	port := &statePort{}
	c := NewCache(port, addr, time.Minute)
	ctx := context.Background()

	c.Get(ctx)
	c.Invalidate()
	c.Get(ctx)

	if got := port.fetches.Load(); got != 2 {
		t.Errorf("fetches = %d, want 2 after invalidate", got)
	}
}

func TestConcurrentMissesCollapseToOneFetch(t *testing.T) {
	t.Parallel()

	port := &statePort{block: make(chan struct{})}
	c := NewCache(port, addr, time.Minute)
	ctx := context.Background()

	const callers = 8
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Get(ctx); err != nil {
				t.Errorf("Get: %v", err)
			}
		}()
	}

	// Let every caller reach the miss path, then release the one fetch.
	time.Sleep(50 * time.Millisecond)
	close(port.block)
	wg.Wait()

	if got := port.fetches.Load(); got != 1 {
		t.Errorf("upstream fetched %d times under concurrent misses, want 1", got)
	}
}
