// Package journal is the append-only record of inbound signals, outbound
// venue responses, and system logs.
//
// Entries are keyed on insertion order and never mutated. The production
// store persists to MongoDB (collections logs, webhooks, responses); a
// memory store with the same contract backs tests and degraded startup when
// the document store is unreachable. Neither leaks store-internal
// identifiers: callers only ever see pkg/types.Entry values.
package journal

import (
	"context"
	"encoding/json"
	"time"

	"hyperbridge/pkg/types"
)

// Store is the journal contract consumed by the ingress facade and the
// execution engine.
//
// The strategy filter on RecentWebhooks and RecentResponses is tri-state:
// a nil slice means unfiltered, a non-nil empty slice is an explicit empty
// selection and yields no entries (clearing every checkbox is a deliberate
// operator gesture, not "show everything").
type Store interface {
	Append(ctx context.Context, e types.Entry) error
	RecentLogs(ctx context.Context, limit int, level string) ([]types.Entry, error)
	RecentWebhooks(ctx context.Context, limit int, strategyIDs []string) ([]types.Entry, error)
	RecentResponses(ctx context.Context, limit int, strategyIDs []string) ([]types.Entry, error)
	ClearLogs(ctx context.Context) (int64, error)
	Close(ctx context.Context) error
}

// DefaultLimit bounds Recent* queries when the caller passes a non-positive
// limit.
const DefaultLimit = 50

// Log builds a log entry stamped now.
func Log(level, message string, details map[string]any) types.Entry {
	return types.Entry{
		At:   time.Now(),
		Kind: types.KindLog,
		Log:  &types.LogRecord{Level: level, Message: message, Details: details},
	}
}

// Webhook builds a webhook-received entry stamped now.
func Webhook(payload json.RawMessage, status, strategyID string) types.Entry {
	return types.Entry{
		At:      time.Now(),
		Kind:    types.KindWebhookReceived,
		Webhook: &types.WebhookRecord{Payload: payload, Status: status, StrategyID: strategyID},
	}
}

// VenueResponse builds a venue-response entry stamped now.
func VenueResponse(payload json.RawMessage, status, strategyID string, kind types.OrderKind) types.Entry {
	return types.Entry{
		At:   time.Now(),
		Kind: types.KindVenueResponse,
		Response: &types.ResponseRecord{
			Payload:    payload,
			Status:     status,
			StrategyID: strategyID,
			OrderKind:  kind,
		},
	}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return limit
}

func matchesFilter(e types.Entry, strategyIDs []string) bool {
	if strategyIDs == nil {
		return true
	}
	id := e.StrategyID()
	for _, want := range strategyIDs {
		if id == want {
			return true
		}
	}
	return false
}
