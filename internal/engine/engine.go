// Package engine is the signal-to-orders state machine at the core of the
// bridge.
//
// One validated signal becomes a sequence of venue calls: an optional
// position flatten (with a fallback when the venue's close path answers
// null or rejects), the entry itself, an optional protective stop, and up
// to four take-profit triggers. The whole sequence runs under the symbol's
// exclusive lock so two signals for the same symbol never interleave.
//
// States: START → INSPECT_POSITION → DECIDE → [FLATTEN → FLATTEN_WAIT →
// [FLATTEN_FALLBACK]] → ENTER → ENTER_WAIT → ATTACH_STOP → ATTACH_TP1..TP4.
// Terminals: DONE_OK, DONE_PARTIAL (a child order was rejected; the entry
// stands), DONE_FAIL. Already-accepted venue side effects are never rolled
// back, and every venue call produces exactly one VenueResponse journal
// entry, success or failure.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"hyperbridge/internal/journal"
	"hyperbridge/internal/precision"
	"hyperbridge/internal/strategy"
	"hyperbridge/internal/symlock"
	"hyperbridge/internal/venue"
	"hyperbridge/pkg/types"
)

// Executor runs the state machine. It is stateless across signals; the
// venue port and master account arrive per call because the operator can
// switch environments at runtime.
type Executor struct {
	journal  journal.Store
	registry *strategy.Registry
	locks    *symlock.Manager
	logger   *slog.Logger
}

// NewExecutor wires the engine's collaborators.
func NewExecutor(store journal.Store, registry *strategy.Registry, locks *symlock.Manager, logger *slog.Logger) *Executor {
	return &Executor{
		journal:  store,
		registry: registry,
		locks:    locks,
		logger:   logger.With("component", "engine"),
	}
}

// Execute translates one signal into venue calls. The returned error is
// non-nil only for pre-venue short-circuits (disabled strategy, busy
// symbol, invalid numerics, venue unreachable before the first write); once
// orders start flowing, failures are reported through the ExecutionReport
// terminal instead.
func (e *Executor) Execute(ctx context.Context, port venue.Port, master string, sig types.Signal, strategyID string) (*types.ExecutionReport, error) {
	st, known := e.registry.Get(strategyID)
	if known && !st.Enabled {
		err := &types.StrategyDisabledError{StrategyID: strategyID}
		e.logSkip(ctx, strategyID, sig, err.Error())
		return nil, err
	}

	release, err := e.locks.Acquire(ctx, sig.Symbol)
	if err != nil {
		e.logSkip(ctx, strategyID, sig, err.Error())
		return nil, err
	}
	defer release()

	metas, err := port.SymbolMeta(ctx)
	if err != nil {
		e.fail(ctx, strategyID, sig, "symbol metadata unavailable", err)
		return nil, err
	}
	meta, ok := metas[sig.Symbol]
	if !ok {
		err := &types.InvalidSignalError{Reason: "unknown symbol " + sig.Symbol}
		e.fail(ctx, strategyID, sig, "unknown symbol", err)
		return nil, err
	}

	size := precision.TruncateSize(meta, sig.MustQuantity())
	if size.IsZero() {
		err := &types.InvalidSignalError{Reason: "quantity truncates to zero at venue precision"}
		e.fail(ctx, strategyID, sig, "zero size after truncation", err)
		return nil, err
	}

	// Strategy-scoped rule enforcement: the entry may never exceed the
	// rule-set's position ceiling.
	if known && st.Rules.MaxPositionSize > 0 && size.GreaterThan(decimal.NewFromFloat(st.Rules.MaxPositionSize)) {
		err := &types.InvalidSignalError{
			Reason: fmt.Sprintf("quantity %s exceeds strategy %s max position size %v", size, strategyID, st.Rules.MaxPositionSize),
		}
		e.fail(ctx, strategyID, sig, "strategy rule violated", err)
		return nil, err
	}

	report := &types.ExecutionReport{Symbol: sig.Symbol, StrategyID: strategyID}

	// INSPECT_POSITION
	state, err := port.ClearinghouseState(ctx, master)
	if err != nil {
		e.fail(ctx, strategyID, sig, "position read failed", err)
		return nil, err
	}
	pos := state.Position(sig.Symbol)

	// DECIDE → FLATTEN: an opposing position must be flat before the entry.
	if pos.Opposes(sig.Side) {
		if !e.flatten(ctx, port, strategyID, sig, meta, pos, report) {
			report.Terminal = types.DoneFail
			report.Reason = "reversal flatten failed; entry not attempted"
			e.registry.Record(ctx, strategyID, strategy.OutcomeFailed)
			return report, nil
		}
	}

	// ENTER
	entry := e.enter(ctx, port, strategyID, sig, meta, size, report)
	if !entry.Ok() {
		report.Terminal = types.DoneFail
		report.Reason = "entry order rejected"
		e.registry.Record(ctx, strategyID, strategy.OutcomeFailed)
		return report, nil
	}

	// ATTACH_STOP → ATTACH_TP1..TP4. A rejected child degrades the terminal
	// to DONE_PARTIAL; the entry (and any placed stop) stands.
	partial := false
	if sig.Stop != "" {
		stopPx := precision.SnapStopPrice(meta, decimal.RequireFromString(sig.Stop), sig.Side)
		res, err := port.TriggerOrder(ctx, sig.Symbol, sig.Side.Opposite(), size, stopPx, true, venue.TpslSL)
		e.record(ctx, strategyID, types.KindStop, res, err, report)
		if err != nil || !res.Ok() {
			partial = true
		}
	}

	tps := sig.TakeProfits()
	for i, alloc := range allocateTPSizes(meta, size, tps) {
		if alloc.IsZero() {
			continue
		}
		tp := tps[i]
		px := precision.SnapTakeProfitPrice(meta, tp.Price, sig.Side)
		res, err := port.TriggerOrder(ctx, sig.Symbol, sig.Side.Opposite(), alloc, px, true, venue.TpslTP)
		e.record(ctx, strategyID, tpKind(tp.Level), res, err, report)
		if err != nil || !res.Ok() {
			partial = true
		}
	}

	if partial {
		report.Terminal = types.DonePartial
		report.Reason = "one or more protective orders were rejected"
	} else {
		report.Terminal = types.DoneOK
	}
	e.registry.Record(ctx, strategyID, strategy.OutcomeForwarded)

	e.logger.Info("signal executed",
		"symbol", sig.Symbol,
		"strategy", strategyID,
		"terminal", string(report.Terminal),
		"venue_calls", len(report.Calls),
	)
	return report, nil
}

// flatten closes an opposing position, falling back to an immediate
// reduce-only open when the venue's close path answers null or rejects.
// Reports whether the account is safe to enter on.
func (e *Executor) flatten(ctx context.Context, port venue.Port, strategyID string, sig types.Signal, meta types.SymbolMeta, pos types.PositionSnapshot, report *types.ExecutionReport) bool {
	res, err := port.MarketClose(ctx, sig.Symbol)
	e.record(ctx, strategyID, types.KindClose, res, err, report)
	if err == nil && res.Ok() {
		return true
	}

	// FLATTEN_FALLBACK: re-flatten by opening against the position with
	// reduce-only, immediate execution. Never a resting limit IOC shape —
	// that path rejects against empty book levels.
	closeSize := precision.TruncateSize(meta, pos.Size.Abs())
	fbRes, fbErr := port.MarketOpen(ctx, sig.Symbol, sig.Side, closeSize, true)
	e.record(ctx, strategyID, types.KindCloseFallback, fbRes, fbErr, report)
	return fbErr == nil && fbRes.Ok()
}

// enter places the entry order per the signal's entry mode.
func (e *Executor) enter(ctx context.Context, port venue.Port, strategyID string, sig types.Signal, meta types.SymbolMeta, size decimal.Decimal, report *types.ExecutionReport) *types.VenueResult {
	var res *types.VenueResult
	var err error
	if sig.Entry == types.EntryLimit {
		px := precision.SnapEntryPrice(meta, decimal.RequireFromString(sig.Price))
		res, err = port.LimitOrder(ctx, sig.Symbol, sig.Side, size, px, types.TifGtc)
	} else {
		res, err = port.MarketOpen(ctx, sig.Symbol, sig.Side, size, false)
	}
	e.record(ctx, strategyID, types.KindEntry, res, err, report)
	if err != nil {
		return nil
	}
	return res
}

// allocateTPSizes resolves each take-profit level's child size. Explicit
// sizes truncate to venue precision; implicit levels default to an equal
// share of the entry across all levels. Allocation walks in level order
// against the remaining unassigned size, so the sum never exceeds the entry
// and any excess comes off the highest levels first.
func allocateTPSizes(meta types.SymbolMeta, entrySize decimal.Decimal, tps []types.TakeProfit) []decimal.Decimal {
	out := make([]decimal.Decimal, len(tps))
	if len(tps) == 0 {
		return out
	}

	share := precision.TruncateSize(meta, entrySize.Div(decimal.NewFromInt(int64(len(tps)))))
	remaining := entrySize

	for i, tp := range tps {
		want := share
		if tp.Size.Sign() > 0 {
			want = precision.TruncateSize(meta, tp.Size)
		}
		if want.GreaterThan(remaining) {
			want = remaining
		}
		out[i] = want
		remaining = remaining.Sub(want)
	}
	return out
}

func tpKind(level int) types.OrderKind {
	switch level {
	case 1:
		return types.KindTP1
	case 2:
		return types.KindTP2
	case 3:
		return types.KindTP3
	default:
		return types.KindTP4
	}
}

// record journals one venue call and appends it to the report. Exactly one
// VenueResponse entry per call, whatever the outcome.
func (e *Executor) record(ctx context.Context, strategyID string, kind types.OrderKind, res *types.VenueResult, callErr error, report *types.ExecutionReport) {
	call := types.VenueCall{Kind: kind, Result: res}
	status := "success"
	switch {
	case callErr != nil:
		call.Err = callErr.Error()
		status = "failed"
	case res == nil:
		status = "null"
	case res.Rejected != nil:
		status = "failed"
	}
	report.Calls = append(report.Calls, call)

	payload, err := json.Marshal(call)
	if err != nil {
		payload = []byte(fmt.Sprintf(`{"kind":%q}`, kind))
	}
	if err := e.journal.Append(ctx, journal.VenueResponse(payload, status, strategyID, kind)); err != nil {
		e.logger.Error("journal venue response failed", "kind", string(kind), "error", err)
	}
}

func (e *Executor) fail(ctx context.Context, strategyID string, sig types.Signal, msg string, cause error) {
	e.registry.Record(ctx, strategyID, strategy.OutcomeFailed)
	e.logSkip(ctx, strategyID, sig, fmt.Sprintf("%s: %v", msg, cause))
}

func (e *Executor) logSkip(ctx context.Context, strategyID string, sig types.Signal, reason string) {
	e.logger.Warn("signal not executed", "symbol", sig.Symbol, "strategy", strategyID, "reason", reason)
	err := e.journal.Append(ctx, journal.Log("ERROR", "signal not executed", map[string]any{
		"symbol":   sig.Symbol,
		"strategy": strategyID,
		"reason":   reason,
	}))
	if err != nil {
		e.logger.Error("journal log failed", "error", err)
	}
}
