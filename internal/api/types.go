package api

import (
	"encoding/json"

	"hyperbridge/pkg/types"
)

// Response DTOs. Every timestamp is rendered through types.Stamp so the
// -03:00 offset is attached unconditionally on emission.

// WebhookAccepted is the 200 body for an ingested signal.
type WebhookAccepted struct {
	Status     string                 `json:"status"`
	DispatchID string                 `json:"dispatch_id"`
	StrategyID string                 `json:"strategy_id"`
	Report     *types.ExecutionReport `json:"report,omitempty"`
	Reason     string                 `json:"reason,omitempty"`
}

// StatusResponse is the operator status projection.
type StatusResponse struct {
	Status               string          `json:"status"`
	Environment          string          `json:"environment"`
	Uptime               string          `json:"uptime"`
	Balance              string          `json:"balance"`
	WalletAddress        string          `json:"wallet_address"`
	HyperliquidConnected bool            `json:"hyperliquid_connected"`
	Statistics           StatisticsBlock `json:"statistics"`
	UptimeMonitoring     MonitoringBlock `json:"uptime_monitoring"`
	Timestamp            string          `json:"timestamp"`
}

// StatisticsBlock aggregates forwarding counters across every strategy.
type StatisticsBlock struct {
	TotalWebhooks      int64   `json:"total_webhooks"`
	SuccessfulForwards int64   `json:"successful_forwards"`
	FailedForwards     int64   `json:"failed_forwards"`
	SuccessRate        float64 `json:"success_rate"`
}

// MonitoringBlock is the uptime prober's rolling view.
type MonitoringBlock struct {
	Percentage      float64 `json:"percentage"`
	TotalPings      int64   `json:"total_pings"`
	SuccessfulPings int64   `json:"successful_pings"`
	FailedPings     int64   `json:"failed_pings"`
	MonitoringSince string  `json:"monitoring_since"`
}

// LogDTO is one journal log line.
type LogDTO struct {
	Timestamp string         `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
}

// WebhookDTO is one journaled inbound signal.
type WebhookDTO struct {
	Timestamp  string          `json:"timestamp"`
	Payload    json.RawMessage `json:"payload"`
	Status     string          `json:"status"`
	StrategyID string          `json:"strategy_id"`
}

// ResponseDTO is one journaled outbound venue call.
type ResponseDTO struct {
	Timestamp  string          `json:"timestamp"`
	Payload    json.RawMessage `json:"payload"`
	Status     string          `json:"status"`
	StrategyID string          `json:"strategy_id"`
	OrderKind  string          `json:"order_kind"`
}

func toLogDTO(e types.Entry) LogDTO {
	return LogDTO{
		Timestamp: types.Stamp(e.At),
		Level:     e.Log.Level,
		Message:   e.Log.Message,
		Details:   e.Log.Details,
	}
}

func toWebhookDTO(e types.Entry) WebhookDTO {
	return WebhookDTO{
		Timestamp:  types.Stamp(e.At),
		Payload:    e.Webhook.Payload,
		Status:     e.Webhook.Status,
		StrategyID: e.Webhook.StrategyID,
	}
}

func toResponseDTO(e types.Entry) ResponseDTO {
	return ResponseDTO{
		Timestamp:  types.Stamp(e.At),
		Payload:    e.Response.Payload,
		Status:     e.Response.Status,
		StrategyID: e.Response.StrategyID,
		OrderKind:  string(e.Response.OrderKind),
	}
}
