// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the bridge — inbound signals,
// strategy records, journal entries, venue results, and account state. It has
// no dependencies on internal packages, so it can be imported by any layer.
package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of a signal or order: buy or sell.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// EntryType selects how the entry order is placed.
type EntryType string

const (
	EntryMarket EntryType = "market"
	EntryLimit  EntryType = "limit"
)

// Tif is the time-in-force for limit orders, in the venue's spelling.
type Tif string

const (
	TifGtc Tif = "Gtc" // rests on the book until filled or cancelled
	TifIoc Tif = "Ioc" // fills immediately or cancels the remainder
)

// Environment selects which venue deployment the bridge talks to.
type Environment string

const (
	Testnet Environment = "testnet"
	Mainnet Environment = "mainnet"
)

// OrderKind labels each venue call an execution produces, in placement order.
type OrderKind string

const (
	KindClose         OrderKind = "close"
	KindCloseFallback OrderKind = "close_fallback"
	KindEntry         OrderKind = "entry"
	KindStop          OrderKind = "stop"
	KindTP1           OrderKind = "tp1"
	KindTP2           OrderKind = "tp2"
	KindTP3           OrderKind = "tp3"
	KindTP4           OrderKind = "tp4"
)

// ————————————————————————————————————————————————————————————————————————
// Signals
// ————————————————————————————————————————————————————————————————————————

// DefaultStrategyID is the reserved strategy every signal without an explicit
// strategy_id is bound to. It always exists in the registry.
const DefaultStrategyID = "OTHERS"

// Signal is the inbound webhook payload from the charting platform.
// Numeric fields arrive as decimal strings to preserve precision.
//
// The tpN_perc fields are named for "percentage" by the upstream alert
// templates but carry an absolute child size in base units. That spelling is
// kept on the wire; TakeProfits exposes the value as a size.
type Signal struct {
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	Entry      EntryType `json:"entry"`
	Quantity   string    `json:"quantity"`
	Price      string    `json:"price,omitempty"`
	Stop       string    `json:"stop,omitempty"`
	TP1Price   string    `json:"tp1_price,omitempty"`
	TP1Perc    string    `json:"tp1_perc,omitempty"`
	TP2Price   string    `json:"tp2_price,omitempty"`
	TP2Perc    string    `json:"tp2_perc,omitempty"`
	TP3Price   string    `json:"tp3_price,omitempty"`
	TP3Perc    string    `json:"tp3_perc,omitempty"`
	TP4Price   string    `json:"tp4_price,omitempty"`
	TP4Perc    string    `json:"tp4_perc,omitempty"`
	StrategyID string    `json:"strategy_id,omitempty"`
}

// TakeProfit is one decoded take-profit level. Size is zero when the signal
// left the level's size implicit (the engine assigns an equal share).
type TakeProfit struct {
	Level int
	Price decimal.Decimal
	Size  decimal.Decimal
}

// Validate checks the schema and numeric preconditions of §"Signal" and
// returns an InvalidSignalError describing the first violation.
func (s Signal) Validate() error {
	if s.Symbol == "" {
		return &InvalidSignalError{Reason: "symbol is required"}
	}
	if s.Side != Buy && s.Side != Sell {
		return &InvalidSignalError{Reason: fmt.Sprintf("side must be %q or %q", Buy, Sell)}
	}
	if s.Entry != EntryMarket && s.Entry != EntryLimit {
		return &InvalidSignalError{Reason: fmt.Sprintf("entry must be %q or %q", EntryMarket, EntryLimit)}
	}
	if _, err := parsePositive("quantity", s.Quantity); err != nil {
		return err
	}
	if s.Entry == EntryLimit {
		if _, err := parsePositive("price", s.Price); err != nil {
			return err
		}
	}
	if s.Stop != "" {
		if _, err := parsePositive("stop", s.Stop); err != nil {
			return err
		}
	}
	for _, tp := range []struct {
		level       int
		price, perc string
	}{
		{1, s.TP1Price, s.TP1Perc},
		{2, s.TP2Price, s.TP2Perc},
		{3, s.TP3Price, s.TP3Perc},
		{4, s.TP4Price, s.TP4Perc},
	} {
		if tp.price == "" && tp.perc == "" {
			continue
		}
		if tp.price == "" {
			return &InvalidSignalError{Reason: fmt.Sprintf("tp%d_perc given without tp%d_price", tp.level, tp.level)}
		}
		if _, err := parsePositive(fmt.Sprintf("tp%d_price", tp.level), tp.price); err != nil {
			return err
		}
		if tp.perc != "" {
			if _, err := parsePositive(fmt.Sprintf("tp%d_perc", tp.level), tp.perc); err != nil {
				return err
			}
		}
	}
	return nil
}

// MustQuantity returns the parsed quantity. Callers run Validate first.
func (s Signal) MustQuantity() decimal.Decimal {
	q, _ := decimal.NewFromString(s.Quantity)
	return q
}

// TakeProfits decodes the configured take-profit levels in level order.
// Levels with no price are skipped.
func (s Signal) TakeProfits() []TakeProfit {
	var out []TakeProfit
	for _, tp := range []struct {
		level       int
		price, perc string
	}{
		{1, s.TP1Price, s.TP1Perc},
		{2, s.TP2Price, s.TP2Perc},
		{3, s.TP3Price, s.TP3Perc},
		{4, s.TP4Price, s.TP4Perc},
	} {
		if tp.price == "" {
			continue
		}
		px, err := decimal.NewFromString(tp.price)
		if err != nil {
			continue
		}
		level := TakeProfit{Level: tp.level, Price: px}
		if tp.perc != "" {
			if sz, err := decimal.NewFromString(tp.perc); err == nil {
				level.Size = sz
			}
		}
		out = append(out, level)
	}
	return out
}

func parsePositive(field, raw string) (decimal.Decimal, error) {
	if strings.TrimSpace(raw) == "" {
		return decimal.Zero, &InvalidSignalError{Reason: field + " is required"}
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, &InvalidSignalError{Reason: fmt.Sprintf("%s is not a decimal: %q", field, raw)}
	}
	if d.Sign() <= 0 {
		return decimal.Zero, &InvalidSignalError{Reason: field + " must be > 0"}
	}
	return d, nil
}

// ————————————————————————————————————————————————————————————————————————
// Strategies
// ————————————————————————————————————————————————————————————————————————

// StrategyRules are the per-strategy trading limits.
type StrategyRules struct {
	MaxPositionSize float64 `json:"max_position_size" bson:"max_position_size"`
	MaxDailyTrades  int     `json:"max_daily_trades" bson:"max_daily_trades"`
	MaxDrawdown     float64 `json:"max_drawdown" bson:"max_drawdown"`
}

// StrategyStats are monotonic per-strategy counters.
type StrategyStats struct {
	TotalWebhooks      int64 `json:"total_webhooks" bson:"total_webhooks"`
	SuccessfulForwards int64 `json:"successful_forwards" bson:"successful_forwards"`
	FailedForwards     int64 `json:"failed_forwards" bson:"failed_forwards"`
}

// Strategy is a named rule-set. Records are never deleted; unknown ids are
// auto-registered on first sighting with the OTHERS defaults.
type Strategy struct {
	ID      string        `json:"id" bson:"_id"`
	Enabled bool          `json:"enabled" bson:"enabled"`
	Rules   StrategyRules `json:"rules" bson:"rules"`
	Stats   StrategyStats `json:"stats" bson:"stats"`
}

// ————————————————————————————————————————————————————————————————————————
// Journal entries
// ————————————————————————————————————————————————————————————————————————

// EntryKind tags the journal entry variants. The set is closed.
type EntryKind string

const (
	KindLog             EntryKind = "log"
	KindWebhookReceived EntryKind = "webhook_received"
	KindVenueResponse   EntryKind = "venue_response"
)

// LogRecord is a system log line preserved in the journal.
type LogRecord struct {
	Level   string         `json:"level" bson:"level"`
	Message string         `json:"message" bson:"message"`
	Details map[string]any `json:"details,omitempty" bson:"details,omitempty"`
}

// WebhookRecord captures an inbound signal payload and its acceptance status.
type WebhookRecord struct {
	Payload    json.RawMessage `json:"payload" bson:"payload"`
	Status     string          `json:"status" bson:"status"`
	StrategyID string          `json:"strategy_id" bson:"strategy_id"`
}

// ResponseRecord captures one outbound venue call result.
type ResponseRecord struct {
	Payload    json.RawMessage `json:"payload" bson:"payload"`
	Status     string          `json:"status" bson:"status"`
	StrategyID string          `json:"strategy_id" bson:"strategy_id"`
	OrderKind  OrderKind       `json:"order_kind" bson:"order_kind"`
}

// Entry is one journal record. Exactly one of Log, Webhook, Response is set,
// matching Kind. Seq is the store-assigned insertion order; At is the
// timezone-aware receive instant.
type Entry struct {
	Seq      int64           `json:"-" bson:"seq"`
	At       time.Time       `json:"timestamp" bson:"at"`
	Kind     EntryKind       `json:"kind" bson:"kind"`
	Log      *LogRecord      `json:"log,omitempty" bson:"log,omitempty"`
	Webhook  *WebhookRecord  `json:"webhook,omitempty" bson:"webhook,omitempty"`
	Response *ResponseRecord `json:"response,omitempty" bson:"response,omitempty"`
}

// StrategyID returns the strategy the entry is attributed to, or "" for logs.
func (e Entry) StrategyID() string {
	switch e.Kind {
	case KindWebhookReceived:
		if e.Webhook != nil {
			return e.Webhook.StrategyID
		}
	case KindVenueResponse:
		if e.Response != nil {
			return e.Response.StrategyID
		}
	}
	return ""
}

// ————————————————————————————————————————————————————————————————————————
// Venue state
// ————————————————————————————————————————————————————————————————————————

// PositionSnapshot is a read-only view of one open perp position.
// Size is signed: positive long, negative short.
type PositionSnapshot struct {
	Symbol  string
	Size    decimal.Decimal
	EntryPx decimal.Decimal
}

// Opposes reports whether the position is open in the opposite direction of
// the given side.
func (p PositionSnapshot) Opposes(side Side) bool {
	if p.Size.IsZero() {
		return false
	}
	if side == Buy {
		return p.Size.Sign() < 0
	}
	return p.Size.Sign() > 0
}

// PerpState is the perp clearinghouse view of an account.
type PerpState struct {
	Equity       decimal.Decimal // marginSummary.accountValue
	MarginUsed   decimal.Decimal
	Withdrawable decimal.Decimal
	Positions    []PositionSnapshot
}

// Position returns the snapshot for a symbol, or a zero-size snapshot.
func (ps PerpState) Position(symbol string) PositionSnapshot {
	for _, p := range ps.Positions {
		if p.Symbol == symbol {
			return p
		}
	}
	return PositionSnapshot{Symbol: symbol}
}

// SpotBalance is one spot coin balance.
type SpotBalance struct {
	Coin  string
	Total decimal.Decimal
}

// SpotState is the spot clearinghouse view of an account.
type SpotState struct {
	Balances []SpotBalance
}

// SymbolMeta carries the venue's precision rules for one instrument.
// Sizes truncate to SzDecimals places; prices snap to PriceDecimals places
// (the venue derives price granularity from size granularity, so sub-decimal
// ticks reduce to a decimal-place rule).
type SymbolMeta struct {
	Symbol        string
	SzDecimals    int
	PriceDecimals int
}

// RoleKind classifies a venue account key.
type RoleKind string

const (
	RoleMaster  RoleKind = "master"
	RoleAgent   RoleKind = "agent"
	RoleUnknown RoleKind = "unknown"
)

// Role is the venue's answer to a userRole query. Master is set for agents.
type Role struct {
	Kind   RoleKind
	Master string
}

// ————————————————————————————————————————————————————————————————————————
// Venue results
// ————————————————————————————————————————————————————————————————————————

// FilledResult reports an immediately-executed order.
type FilledResult struct {
	OrderID int64           `json:"oid"`
	AvgPx   decimal.Decimal `json:"avg_px"`
	Size    decimal.Decimal `json:"size"`
}

// RestingResult reports an order accepted onto the book.
type RestingResult struct {
	OrderID int64 `json:"oid"`
}

// RejectedResult reports an order the venue refused.
type RejectedResult struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// VenueResult is the outcome of one venue write. Exactly one field is set.
// The close path additionally distinguishes a nil *VenueResult (the venue
// answered with no order status at all) from an explicit rejection; callers
// branch on that tri-state.
type VenueResult struct {
	Filled   *FilledResult   `json:"filled,omitempty"`
	Resting  *RestingResult  `json:"resting,omitempty"`
	Rejected *RejectedResult `json:"rejected,omitempty"`
}

// Ok reports whether the venue accepted the order (filled or resting).
func (r *VenueResult) Ok() bool {
	return r != nil && r.Rejected == nil && (r.Filled != nil || r.Resting != nil)
}

// ————————————————————————————————————————————————————————————————————————
// Execution reports
// ————————————————————————————————————————————————————————————————————————

// Terminal is the execution state machine's final state.
type Terminal string

const (
	DoneOK      Terminal = "done_ok"
	DonePartial Terminal = "done_partial"
	DoneFail    Terminal = "done_fail"
)

// VenueCall is one venue write performed during an execution, in order.
type VenueCall struct {
	Kind   OrderKind    `json:"kind"`
	Result *VenueResult `json:"result"` // nil with Err empty = null close response; nil with Err set = call failed
	Err    string       `json:"error,omitempty"`
}

// ExecutionReport is the structured outcome of one signal's execution.
type ExecutionReport struct {
	Symbol     string      `json:"symbol"`
	StrategyID string      `json:"strategy_id"`
	Terminal   Terminal    `json:"terminal"`
	Calls      []VenueCall `json:"calls"`
	Reason     string      `json:"reason,omitempty"`
}
