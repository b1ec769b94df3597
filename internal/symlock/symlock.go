// Package symlock provides per-symbol mutual exclusion for order flow.
//
// A reversal is a non-atomic multi-step sequence (close → open → attach
// stop/TPs); two interleaved sequences on the same symbol can produce double
// exposure or orphan triggers. Each symbol therefore gets its own guard, and
// unrelated symbols proceed in parallel.
package symlock

import (
	"context"
	"sync"
	"time"

	"hyperbridge/pkg/types"
)

// DefaultTimeout is the acquisition ceiling; a holder slower than this
// surfaces as SymbolBusy to the next caller.
const DefaultTimeout = 30 * time.Second

// Manager hands out one exclusive guard per symbol. Guards are created
// lazily and live for the process lifetime.
type Manager struct {
	timeout time.Duration

	mu     sync.Mutex
	guards map[string]chan struct{}
}

// NewManager creates a lock manager. A non-positive timeout falls back to
// DefaultTimeout.
func NewManager(timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Manager{
		timeout: timeout,
		guards:  make(map[string]chan struct{}),
	}
}

// Acquire blocks until the symbol's guard is free, the timeout elapses, or
// ctx is cancelled. On success it returns a release function that must be
// called on every exit path (defer it immediately).
func (m *Manager) Acquire(ctx context.Context, symbol string) (func(), error) {
	guard := m.guard(symbol)

	timer := time.NewTimer(m.timeout)
	defer timer.Stop()

	select {
	case guard <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() { <-guard })
		}, nil
	case <-timer.C:
		return nil, &types.SymbolBusyError{Symbol: symbol}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Manager) guard(symbol string) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	guard, ok := m.guards[symbol]
	if !ok {
		guard = make(chan struct{}, 1)
		m.guards[symbol] = guard
	}
	return guard
}
