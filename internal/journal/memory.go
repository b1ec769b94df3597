package journal

import (
	"context"
	"sync"

	"hyperbridge/pkg/types"
)

// MemoryStore is an in-process Store. It backs unit tests and keeps the
// bridge serving when MongoDB is unreachable at startup.
type MemoryStore struct {
	mu      sync.RWMutex
	seq     int64
	entries []types.Entry
}

// NewMemoryStore creates an empty in-memory journal.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Append assigns the next insertion order and records the entry.
func (s *MemoryStore) Append(_ context.Context, e types.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	e.Seq = s.seq
	s.entries = append(s.entries, e)
	return nil
}

// RecentLogs returns log entries newest-first, optionally filtered by level.
func (s *MemoryStore) RecentLogs(_ context.Context, limit int, level string) ([]types.Entry, error) {
	return s.query(limit, func(e types.Entry) bool {
		if e.Kind != types.KindLog {
			return false
		}
		return level == "" || e.Log.Level == level
	}), nil
}

// RecentWebhooks returns webhook entries newest-first. See Store for the
// tri-state filter contract.
func (s *MemoryStore) RecentWebhooks(_ context.Context, limit int, strategyIDs []string) ([]types.Entry, error) {
	return s.query(limit, func(e types.Entry) bool {
		return e.Kind == types.KindWebhookReceived && matchesFilter(e, strategyIDs)
	}), nil
}

// RecentResponses returns venue-response entries newest-first, same contract
// as RecentWebhooks.
func (s *MemoryStore) RecentResponses(_ context.Context, limit int, strategyIDs []string) ([]types.Entry, error) {
	return s.query(limit, func(e types.Entry) bool {
		return e.Kind == types.KindVenueResponse && matchesFilter(e, strategyIDs)
	}), nil
}

// ClearLogs removes log entries and reports how many were deleted. Webhook
// and response entries are untouched.
func (s *MemoryStore) ClearLogs(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.entries[:0]
	var deleted int64
	for _, e := range s.entries {
		if e.Kind == types.KindLog {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	return deleted, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close(context.Context) error { return nil }

func (s *MemoryStore) query(limit int, keep func(types.Entry) bool) []types.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit = clampLimit(limit)
	out := make([]types.Entry, 0, limit)
	for i := len(s.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if keep(s.entries[i]) {
			out = append(out, s.entries[i])
		}
	}
	return out
}
