package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"hyperbridge/internal/journal"
	"hyperbridge/internal/strategy"
	"hyperbridge/internal/symlock"
	"hyperbridge/internal/venue"
	"hyperbridge/pkg/types"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// portCall records one venue write for order/shape assertions.
type portCall struct {
	Op         string
	Symbol     string
	Side       types.Side
	Size       decimal.Decimal
	Px         decimal.Decimal
	ReduceOnly bool
	IsMarket   bool
	Tpsl       venue.Tpsl
}

// fakePort is a scripted venue. Close behavior and per-kind rejections are
// configured per test; every write is logged in order.
type fakePort struct {
	position  types.PositionSnapshot
	closeNull bool
	closeRej  bool

	rejectOps map[string]bool // Op values whose result is a rejection
	calls     []portCall
	nextOid   int64
}

func (p *fakePort) result(op string) *types.VenueResult {
	if p.rejectOps[op] {
		return &types.VenueResult{Rejected: &types.RejectedResult{Message: "scripted rejection"}}
	}
	p.nextOid++
	return &types.VenueResult{Filled: &types.FilledResult{OrderID: p.nextOid}}
}

func (p *fakePort) UserRole(context.Context, string) (types.Role, error) {
	return types.Role{Kind: types.RoleMaster}, nil
}

func (p *fakePort) ClearinghouseState(context.Context, string) (*types.PerpState, error) {
	state := &types.PerpState{Equity: dec("1000")}
	if !p.position.Size.IsZero() {
		state.Positions = []types.PositionSnapshot{p.position}
	}
	return state, nil
}

func (p *fakePort) SpotState(context.Context, string) (*types.SpotState, error) {
	return &types.SpotState{}, nil
}

func (p *fakePort) SymbolMeta(context.Context) (map[string]types.SymbolMeta, error) {
	return map[string]types.SymbolMeta{
		"SOL": {Symbol: "SOL", SzDecimals: 2, PriceDecimals: 4},
	}, nil
}

func (p *fakePort) MarketOpen(_ context.Context, symbol string, side types.Side, size decimal.Decimal, reduceOnly bool) (*types.VenueResult, error) {
	op := "market_open"
	if reduceOnly {
		op = "market_open_reduce"
	}
	p.calls = append(p.calls, portCall{Op: op, Symbol: symbol, Side: side, Size: size, ReduceOnly: reduceOnly})
	return p.result(op), nil
}

func (p *fakePort) MarketClose(_ context.Context, symbol string) (*types.VenueResult, error) {
	p.calls = append(p.calls, portCall{Op: "market_close", Symbol: symbol})
	if p.closeNull {
		return nil, nil
	}
	if p.closeRej {
		return &types.VenueResult{Rejected: &types.RejectedResult{Message: "close rejected"}}, nil
	}
	p.nextOid++
	return &types.VenueResult{Filled: &types.FilledResult{OrderID: p.nextOid, Size: p.position.Size.Abs()}}, nil
}

func (p *fakePort) LimitOrder(_ context.Context, symbol string, side types.Side, size, px decimal.Decimal, _ types.Tif) (*types.VenueResult, error) {
	p.calls = append(p.calls, portCall{Op: "limit_order", Symbol: symbol, Side: side, Size: size, Px: px})
	if p.rejectOps["limit_order"] {
		return p.result("limit_order"), nil
	}
	// A limit entry rests on the book rather than filling.
	p.nextOid++
	return &types.VenueResult{Resting: &types.RestingResult{OrderID: p.nextOid}}, nil
}

func (p *fakePort) TriggerOrder(_ context.Context, symbol string, side types.Side, size, triggerPx decimal.Decimal, isMarket bool, tpsl venue.Tpsl) (*types.VenueResult, error) {
	op := "trigger_" + string(tpsl)
	p.calls = append(p.calls, portCall{
		Op: op, Symbol: symbol, Side: side, Size: size, Px: triggerPx,
		ReduceOnly: true, IsMarket: isMarket, Tpsl: tpsl,
	})
	return p.result(op), nil
}

func (p *fakePort) OpenOrders(context.Context, string) (json.RawMessage, error) {
	return json.RawMessage(`[]`), nil
}

func (p *fakePort) OrderHistory(context.Context, string) (json.RawMessage, error) {
	return json.RawMessage(`[]`), nil
}

type fixture struct {
	exec     *Executor
	port     *fakePort
	store    *journal.MemoryStore
	registry *strategy.Registry
}

func newFixture(t *testing.T, port *fakePort) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := journal.NewMemoryStore()
	registry, err := strategy.NewRegistry(context.Background(), nil, logger)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	locks := symlock.NewManager(time.Second)
	return &fixture{
		exec:     NewExecutor(store, registry, locks, logger),
		port:     port,
		store:    store,
		registry: registry,
	}
}

func (f *fixture) execute(t *testing.T, sig types.Signal, strategyID string) *types.ExecutionReport {
	t.Helper()
	f.registry.Ensure(context.Background(), strategyID)
	report, err := f.exec.Execute(context.Background(), f.port, "0xmaster", sig, strategyID)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	return report
}

func marketBuy(qty string) types.Signal {
	return types.Signal{Symbol: "SOL", Side: types.Buy, Entry: types.EntryMarket, Quantity: qty}
}

func TestMarketEntryNoPosition(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakePort{})
	report := f.execute(t, marketBuy("0.2"), "OTHERS")

	if report.Terminal != types.DoneOK {
		t.Fatalf("terminal = %s, want done_ok", report.Terminal)
	}
	if len(f.port.calls) != 1 {
		t.Fatalf("venue calls = %d, want 1", len(f.port.calls))
	}
	call := f.port.calls[0]
	if call.Op != "market_open" || call.Side != types.Buy || !call.Size.Equal(dec("0.2")) {
		t.Errorf("entry call = %+v", call)
	}

	s, _ := f.registry.Get("OTHERS")
	if s.Stats.SuccessfulForwards != 1 {
		t.Errorf("successful_forwards = %d, want 1", s.Stats.SuccessfulForwards)
	}

	responses, _ := f.store.RecentResponses(context.Background(), 10, nil)
	if len(responses) != 1 {
		t.Errorf("journal responses = %d, want 1", len(responses))
	}
}

func TestSizeTruncatesTowardZero(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakePort{})
	f.execute(t, marketBuy("0.219999"), "OTHERS")

	if got := f.port.calls[0].Size; !got.Equal(dec("0.21")) {
		t.Fatalf("sent size = %s, want 0.21", got)
	}
}

func TestZeroSizeAfterTruncationIsInvalid(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakePort{})
	f.registry.Ensure(context.Background(), "OTHERS")

	_, err := f.exec.Execute(context.Background(), f.port, "0xmaster", marketBuy("0.001"), "OTHERS")
	var invalid *types.InvalidSignalError
	if !errors.As(err, &invalid) {
		t.Fatalf("Execute = %v, want InvalidSignalError", err)
	}
	if len(f.port.calls) != 0 {
		t.Errorf("venue touched for an invalid signal: %+v", f.port.calls)
	}

	s, _ := f.registry.Get("OTHERS")
	if s.Stats.FailedForwards != 1 {
		t.Errorf("failed_forwards = %d, want 1", s.Stats.FailedForwards)
	}
}

func TestMaxPositionRuleBlocksOversizedEntry(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakePort{})
	f.registry.Ensure(context.Background(), "OTHERS") // max_position_size 50.0

	_, err := f.exec.Execute(context.Background(), f.port, "0xmaster", marketBuy("51"), "OTHERS")
	var invalid *types.InvalidSignalError
	if !errors.As(err, &invalid) {
		t.Fatalf("Execute = %v, want InvalidSignalError", err)
	}
	if len(f.port.calls) != 0 {
		t.Errorf("venue touched despite rule violation: %+v", f.port.calls)
	}
}

func TestReversalViaNativeClose(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakePort{
		position: types.PositionSnapshot{Symbol: "SOL", Size: dec("-10.73")},
	})
	report := f.execute(t, marketBuy("5"), "OTHERS")

	if report.Terminal != types.DoneOK {
		t.Fatalf("terminal = %s", report.Terminal)
	}
	ops := opSequence(f.port.calls)
	want := []string{"market_close", "market_open"}
	if !equalOps(ops, want) {
		t.Fatalf("ops = %v, want %v", ops, want)
	}
	if !f.port.calls[1].Size.Equal(dec("5")) {
		t.Errorf("entry size = %s, want 5", f.port.calls[1].Size)
	}

	responses, _ := f.store.RecentResponses(context.Background(), 10, nil)
	if len(responses) != 2 {
		t.Errorf("journal responses = %d, want 2", len(responses))
	}
}

func TestReversalNullCloseTriggersFallback(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakePort{
		position:  types.PositionSnapshot{Symbol: "SOL", Size: dec("-10.73")},
		closeNull: true,
	})
	report := f.execute(t, marketBuy("5"), "OTHERS")

	if report.Terminal != types.DoneOK {
		t.Fatalf("terminal = %s", report.Terminal)
	}
	ops := opSequence(f.port.calls)
	want := []string{"market_close", "market_open_reduce", "market_open"}
	if !equalOps(ops, want) {
		t.Fatalf("ops = %v, want %v", ops, want)
	}

	fallback := f.port.calls[1]
	if !fallback.Size.Equal(dec("10.73")) || fallback.Side != types.Buy || !fallback.ReduceOnly {
		t.Errorf("fallback call = %+v, want reduce-only buy of 10.73", fallback)
	}

	responses, _ := f.store.RecentResponses(context.Background(), 10, nil)
	if len(responses) != 3 {
		t.Errorf("journal responses = %d, want 3", len(responses))
	}
}

func TestReversalRejectedCloseAlsoFallsBack(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakePort{
		position: types.PositionSnapshot{Symbol: "SOL", Size: dec("3")},
		closeRej: true,
	})
	report := f.execute(t, types.Signal{Symbol: "SOL", Side: types.Sell, Entry: types.EntryMarket, Quantity: "1"}, "OTHERS")

	if report.Terminal != types.DoneOK {
		t.Fatalf("terminal = %s", report.Terminal)
	}
	ops := opSequence(f.port.calls)
	if !equalOps(ops, []string{"market_close", "market_open_reduce", "market_open"}) {
		t.Fatalf("ops = %v", ops)
	}
	// Flattening a long sells it off.
	if f.port.calls[1].Side != types.Sell {
		t.Errorf("fallback side = %s, want sell", f.port.calls[1].Side)
	}
}

func TestFailedFallbackAbortsWithoutEntry(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakePort{
		position:  types.PositionSnapshot{Symbol: "SOL", Size: dec("-10.73")},
		closeNull: true,
		rejectOps: map[string]bool{"market_open_reduce": true},
	})
	report := f.execute(t, marketBuy("5"), "OTHERS")

	if report.Terminal != types.DoneFail {
		t.Fatalf("terminal = %s, want done_fail", report.Terminal)
	}
	ops := opSequence(f.port.calls)
	if !equalOps(ops, []string{"market_close", "market_open_reduce"}) {
		t.Fatalf("ops = %v — an unflattened reversal must never reach the entry", ops)
	}

	s, _ := f.registry.Get("OTHERS")
	if s.Stats.FailedForwards != 1 {
		t.Errorf("failed_forwards = %d, want 1", s.Stats.FailedForwards)
	}
}

func TestFullStackOrderingAndTPClamp(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakePort{})
	sig := marketBuy("0.2")
	sig.Stop = "170.0"
	sig.TP1Price = "180.0"
	sig.TP2Price = "190.0"
	sig.TP2Perc = "10" // far beyond the entry size; must clamp to what remains

	report := f.execute(t, sig, "OTHERS")
	if report.Terminal != types.DoneOK {
		t.Fatalf("terminal = %s", report.Terminal)
	}

	ops := opSequence(f.port.calls)
	if !equalOps(ops, []string{"market_open", "trigger_sl", "trigger_tp", "trigger_tp"}) {
		t.Fatalf("ops = %v, want entry → stop → tp1 → tp2", ops)
	}

	stop := f.port.calls[1]
	if stop.Side != types.Sell || !stop.IsMarket || !stop.ReduceOnly || !stop.Size.Equal(dec("0.2")) {
		t.Errorf("stop = %+v, want reduce-only sell isMarket of full entry size", stop)
	}
	if !stop.Px.Equal(dec("170.0")) {
		t.Errorf("stop trigger px = %s, want 170.0", stop.Px)
	}

	tp1, tp2 := f.port.calls[2], f.port.calls[3]
	if !tp1.Size.Equal(dec("0.1")) {
		t.Errorf("tp1 size = %s, want equal share 0.1", tp1.Size)
	}
	if !tp2.Size.Equal(dec("0.1")) {
		t.Errorf("tp2 size = %s, want clamped remainder 0.1", tp2.Size)
	}
	if tp1.Size.Add(tp2.Size).GreaterThan(dec("0.2")) {
		t.Error("TP sizes exceed entry size")
	}
}

func TestChildRejectionIsPartialNotRollback(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakePort{rejectOps: map[string]bool{"trigger_tp": true}})
	sig := marketBuy("0.2")
	sig.Stop = "170.0"
	sig.TP1Price = "180.0"

	report := f.execute(t, sig, "OTHERS")
	if report.Terminal != types.DonePartial {
		t.Fatalf("terminal = %s, want done_partial", report.Terminal)
	}

	// Entry and stop were placed and stay placed; the engine never cancels.
	ops := opSequence(f.port.calls)
	if !equalOps(ops, []string{"market_open", "trigger_sl", "trigger_tp"}) {
		t.Fatalf("ops = %v", ops)
	}

	// A partial execution still counts as forwarded.
	s, _ := f.registry.Get("OTHERS")
	if s.Stats.SuccessfulForwards != 1 {
		t.Errorf("successful_forwards = %d, want 1", s.Stats.SuccessfulForwards)
	}
}

func TestDisabledStrategyShortCircuits(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakePort{})
	ctx := context.Background()
	f.registry.Toggle(ctx, "IMBA_HYPER")

	_, err := f.exec.Execute(ctx, f.port, "0xmaster", marketBuy("0.2"), "IMBA_HYPER")
	var disabled *types.StrategyDisabledError
	if !errors.As(err, &disabled) {
		t.Fatalf("Execute = %v, want StrategyDisabledError", err)
	}
	if len(f.port.calls) != 0 {
		t.Fatalf("venue calls = %d for a disabled strategy, want 0", len(f.port.calls))
	}

	logs, _ := f.store.RecentLogs(ctx, 10, "ERROR")
	if len(logs) != 1 {
		t.Errorf("journaled error logs = %d, want 1", len(logs))
	}
}

func TestLimitEntrySnapsPriceAndRests(t *testing.T) {
	t.Parallel()

	f := newFixture(t, &fakePort{})
	sig := types.Signal{
		Symbol: "SOL", Side: types.Buy, Entry: types.EntryLimit,
		Quantity: "0.2", Price: "165.123456", Stop: "160.0",
	}

	report := f.execute(t, sig, "OTHERS")
	if report.Terminal != types.DoneOK {
		t.Fatalf("terminal = %s — a resting entry must still carry children", report.Terminal)
	}

	limit := f.port.calls[0]
	if limit.Op != "limit_order" || !limit.Px.Equal(dec("165.1234")) {
		t.Errorf("limit call = %+v, want px floored to 165.1234", limit)
	}
	if f.port.calls[1].Op != "trigger_sl" {
		t.Errorf("stop not attached after resting entry: %v", opSequence(f.port.calls))
	}
}

func TestAllocateTPSizes(t *testing.T) {
	t.Parallel()

	meta := types.SymbolMeta{SzDecimals: 2, PriceDecimals: 4}

	tests := []struct {
		name  string
		entry string
		tps   []types.TakeProfit
		want  []string
	}{
		{
			name:  "all implicit equal shares",
			entry: "0.2",
			tps:   []types.TakeProfit{{Level: 1}, {Level: 2}},
			want:  []string{"0.1", "0.1"},
		},
		{
			name:  "explicit oversizes clamp to remainder",
			entry: "0.2",
			tps:   []types.TakeProfit{{Level: 1}, {Level: 2, Size: dec("10")}},
			want:  []string{"0.1", "0.1"},
		},
		{
			name:  "excess comes off the highest level first",
			entry: "0.3",
			tps: []types.TakeProfit{
				{Level: 1, Size: dec("0.2")},
				{Level: 2, Size: dec("0.2")},
				{Level: 3, Size: dec("0.2")},
			},
			want: []string{"0.2", "0.1", "0"},
		},
		{
			name:  "explicit sizes truncate to venue precision",
			entry: "1",
			tps:   []types.TakeProfit{{Level: 1, Size: dec("0.333333")}},
			want:  []string{"0.33"},
		},
		{
			name:  "odd split truncates the share",
			entry: "0.05",
			tps:   []types.TakeProfit{{Level: 1}, {Level: 2}, {Level: 3}},
			want:  []string{"0.01", "0.01", "0.01"},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := allocateTPSizes(meta, dec(tt.entry), tt.tps)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d allocations, want %d", len(got), len(tt.want))
			}
			total := decimal.Zero
			for i := range got {
				if !got[i].Equal(dec(tt.want[i])) {
					t.Errorf("alloc[%d] = %s, want %s", i, got[i], tt.want[i])
				}
				total = total.Add(got[i])
			}
			if total.GreaterThan(dec(tt.entry)) {
				t.Errorf("total %s exceeds entry %s", total, tt.entry)
			}
		})
	}
}

func opSequence(calls []portCall) []string {
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Op
	}
	return out
}

func equalOps(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}
