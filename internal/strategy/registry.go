// Package strategy maintains the named rule-sets signals are classified
// under.
//
// Two strategies are seeded on first start and always exist: IMBA_HYPER and
// OTHERS. A signal carrying an unknown strategy_id auto-registers it with
// the OTHERS defaults; a signal without one binds to OTHERS. Ids are never
// deleted — every id ever observed stays queryable, so historical journal
// filters keep working.
//
// The registry is an in-memory projection guarded by a RWMutex. Writes are
// flushed through an optional Persister (MongoDB in production) best-effort:
// a store failure is logged by the caller and never blocks order flow.
package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"hyperbridge/pkg/types"
)

// Persister stores strategy records durably. Implementations must upsert on
// save so repeated flushes are idempotent.
type Persister interface {
	SaveStrategy(ctx context.Context, s types.Strategy) error
	LoadStrategies(ctx context.Context) ([]types.Strategy, error)
}

// Outcome classifies a counter increment.
type Outcome int

const (
	OutcomeReceived  Outcome = iota // a webhook arrived for the strategy
	OutcomeForwarded                // execution reached the venue successfully
	OutcomeFailed                   // execution failed before or at the venue
)

// Seed rule-sets. OTHERS also serves as the template for auto-registered ids.
var seeds = []types.Strategy{
	{
		ID:      "IMBA_HYPER",
		Enabled: true,
		Rules:   types.StrategyRules{MaxPositionSize: 100.0, MaxDailyTrades: 50, MaxDrawdown: 0.05},
	},
	{
		ID:      types.DefaultStrategyID,
		Enabled: true,
		Rules:   types.StrategyRules{MaxPositionSize: 50.0, MaxDailyTrades: 25, MaxDrawdown: 0.03},
	},
}

// Registry is the process-wide strategy table.
type Registry struct {
	persister Persister
	logger    *slog.Logger

	mu    sync.RWMutex
	items map[string]*types.Strategy
}

// NewRegistry loads persisted strategies, seeds the reserved ids that are
// missing, and returns the ready registry. persister may be nil (tests,
// degraded startup).
func NewRegistry(ctx context.Context, persister Persister, logger *slog.Logger) (*Registry, error) {
	r := &Registry{
		persister: persister,
		logger:    logger.With("component", "strategy-registry"),
		items:     make(map[string]*types.Strategy),
	}

	if persister != nil {
		stored, err := persister.LoadStrategies(ctx)
		if err != nil {
			return nil, fmt.Errorf("load strategies: %w", err)
		}
		for _, s := range stored {
			s := s
			r.items[s.ID] = &s
		}
	}

	for _, seed := range seeds {
		if _, ok := r.items[seed.ID]; ok {
			continue
		}
		seed := seed
		r.items[seed.ID] = &seed
		r.flush(ctx, seed)
		r.logger.Info("strategy seeded", "id", seed.ID)
	}

	return r, nil
}

// Get returns a copy of the strategy, if known.
func (r *Registry) Get(id string) (types.Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.items[id]
	if !ok {
		return types.Strategy{}, false
	}
	return *s, true
}

// List returns copies of every strategy, ordered by id.
func (r *Registry) List() []types.Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.Strategy, 0, len(r.items))
	for _, s := range r.items {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListIDs returns every known id, ordered.
func (r *Registry) ListIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.items))
	for id := range r.items {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Toggle flips enabled and returns the new state.
func (r *Registry) Toggle(ctx context.Context, id string) (types.Strategy, bool) {
	r.mu.Lock()
	s, ok := r.items[id]
	if !ok {
		r.mu.Unlock()
		return types.Strategy{}, false
	}
	s.Enabled = !s.Enabled
	copied := *s
	r.mu.Unlock()

	r.flush(ctx, copied)
	return copied, true
}

// Ensure registers an unknown id with the OTHERS defaults and enabled=true.
// Idempotent: an existing record is returned untouched. An empty id binds to
// OTHERS.
func (r *Registry) Ensure(ctx context.Context, id string) types.Strategy {
	if id == "" {
		id = types.DefaultStrategyID
	}

	r.mu.Lock()
	if s, ok := r.items[id]; ok {
		copied := *s
		r.mu.Unlock()
		return copied
	}

	fresh := types.Strategy{
		ID:      id,
		Enabled: true,
		Rules:   seeds[1].Rules,
	}
	r.items[id] = &fresh
	copied := fresh
	r.mu.Unlock()

	r.flush(ctx, copied)
	r.logger.Info("strategy auto-registered", "id", id)
	return copied
}

// Record increments the counter matching the outcome.
func (r *Registry) Record(ctx context.Context, id string, outcome Outcome) {
	r.mu.Lock()
	s, ok := r.items[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	switch outcome {
	case OutcomeReceived:
		s.Stats.TotalWebhooks++
	case OutcomeForwarded:
		s.Stats.SuccessfulForwards++
	case OutcomeFailed:
		s.Stats.FailedForwards++
	}
	copied := *s
	r.mu.Unlock()

	r.flush(ctx, copied)
}

// Totals aggregates the counters across every strategy for the status
// projection.
func (r *Registry) Totals() types.StrategyStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var total types.StrategyStats
	for _, s := range r.items {
		total.TotalWebhooks += s.Stats.TotalWebhooks
		total.SuccessfulForwards += s.Stats.SuccessfulForwards
		total.FailedForwards += s.Stats.FailedForwards
	}
	return total
}

func (r *Registry) flush(ctx context.Context, s types.Strategy) {
	if r.persister == nil {
		return
	}
	if err := r.persister.SaveStrategy(ctx, s); err != nil {
		r.logger.Error("strategy persist failed", "id", s.ID, "error", err)
	}
}
