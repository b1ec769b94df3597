package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"hyperbridge/pkg/types"
)

const (
	mainnetBaseURL = "https://api.hyperliquid.xyz"
	testnetBaseURL = "https://api.hyperliquid-testnet.xyz"

	readTimeout  = 10 * time.Second
	writeTimeout = 20 * time.Second

	// marketSlippage bounds how far past mid an immediate-execution order may
	// cross. The venue has no pure market orders; "market" is an aggressive
	// IOC limit at mid shifted by this fraction.
	marketSlippage = "0.05"
)

// BaseURL returns the venue endpoint for an environment.
func BaseURL(env types.Environment) string {
	if env == types.Mainnet {
		return mainnetBaseURL
	}
	return testnetBaseURL
}

// Client is the production Port implementation over the Hyperliquid HTTP API.
// Writes are signed with the configured key; reads default to the resolved
// master account. Writes are never retried — a duplicated order is worse
// than a reported failure.
type Client struct {
	http   *resty.Client
	signer *Signer
	env    types.Environment
	dryRun bool
	rl     *RateLimiter
	logger *slog.Logger

	// account is the address reads and closes operate on. Starts as the
	// signer address; the resolver repoints it to the master for agent keys.
	accountMu sync.RWMutex
	account   string

	// metaMu guards the lazily-fetched symbol metadata. assetIndex refetches
	// it once when a symbol is missing; SymbolMeta serves the cached map and
	// never refetches, so a symbol absent from it stays unknown to SymbolMeta
	// callers until restart.
	metaMu  sync.Mutex
	meta    map[string]types.SymbolMeta
	indexes map[string]int
}

// NewClient creates a venue client for one environment.
func NewClient(env types.Environment, keyHex string, dryRun bool, logger *slog.Logger) (*Client, error) {
	signer, err := NewSigner(keyHex)
	if err != nil {
		return nil, err
	}

	httpClient := resty.New().
		SetBaseURL(BaseURL(env)).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:    httpClient,
		signer:  signer,
		env:     env,
		dryRun:  dryRun,
		rl:      NewRateLimiter(),
		logger:  logger.With("component", "venue", "environment", string(env)),
		account: signer.Address().Hex(),
	}, nil
}

// SignerAddress returns the configured key's address.
func (c *Client) SignerAddress() string {
	return c.signer.Address().Hex()
}

// SetAccount repoints reads and closes at the given master account.
func (c *Client) SetAccount(addr string) {
	c.accountMu.Lock()
	c.account = addr
	c.accountMu.Unlock()
}

// Account returns the address reads and closes operate on.
func (c *Client) Account() string {
	c.accountMu.RLock()
	defer c.accountMu.RUnlock()
	return c.account
}

// Environment returns which deployment this client talks to.
func (c *Client) Environment() types.Environment {
	return c.env
}

// Ping performs a cheap metadata read to verify venue reachability.
func (c *Client) Ping(ctx context.Context) error {
	var meta metaResponse
	return c.info(ctx, map[string]any{"type": "meta"}, &meta)
}

// ————————————————————————————————————————————————————————————————————————
// Reads
// ————————————————————————————————————————————————————————————————————————

// UserRole classifies an address as master, agent (with its master), or
// unknown.
func (c *Client) UserRole(ctx context.Context, addr string) (types.Role, error) {
	var resp userRoleResponse
	if err := c.info(ctx, map[string]any{"type": "userRole", "user": addr}, &resp); err != nil {
		return types.Role{}, err
	}

	switch resp.Role {
	case "master", "user", "vault":
		return types.Role{Kind: types.RoleMaster}, nil
	case "agent":
		master := resp.Data.Master
		if master == "" {
			master = resp.Data.User
		}
		return types.Role{Kind: types.RoleAgent, Master: master}, nil
	default:
		return types.Role{Kind: types.RoleUnknown}, nil
	}
}

// ClearinghouseState reads the perp account view for an address.
func (c *Client) ClearinghouseState(ctx context.Context, addr string) (*types.PerpState, error) {
	var state userState
	if err := c.info(ctx, map[string]any{"type": "clearinghouseState", "user": addr}, &state); err != nil {
		return nil, err
	}

	out := &types.PerpState{
		Equity:       parseDec(state.MarginSummary.AccountValue),
		MarginUsed:   parseDec(state.MarginSummary.TotalMarginUsed),
		Withdrawable: parseDec(state.Withdrawable),
	}
	for _, ap := range state.AssetPositions {
		pos := types.PositionSnapshot{
			Symbol: ap.Position.Coin,
			Size:   parseDec(ap.Position.Szi),
		}
		if ap.Position.EntryPx != nil {
			pos.EntryPx = parseDec(*ap.Position.EntryPx)
		}
		if !pos.Size.IsZero() {
			out.Positions = append(out.Positions, pos)
		}
	}
	return out, nil
}

// SpotState reads the spot balances for an address.
func (c *Client) SpotState(ctx context.Context, addr string) (*types.SpotState, error) {
	var state spotUserState
	if err := c.info(ctx, map[string]any{"type": "spotClearinghouseState", "user": addr}, &state); err != nil {
		return nil, err
	}

	out := &types.SpotState{}
	for _, b := range state.Balances {
		out.Balances = append(out.Balances, types.SpotBalance{
			Coin:  b.Coin,
			Total: parseDec(b.Total),
		})
	}
	return out, nil
}

// SymbolMeta returns the precision rules per symbol, fetching and caching
// the venue metadata on first use.
func (c *Client) SymbolMeta(ctx context.Context) (map[string]types.SymbolMeta, error) {
	c.metaMu.Lock()
	defer c.metaMu.Unlock()

	if c.meta == nil {
		if err := c.fetchMetaLocked(ctx); err != nil {
			return nil, err
		}
	}

	out := make(map[string]types.SymbolMeta, len(c.meta))
	for k, v := range c.meta {
		out[k] = v
	}
	return out, nil
}

// OpenOrders passes the venue's open-orders view through untouched.
func (c *Client) OpenOrders(ctx context.Context, addr string) (json.RawMessage, error) {
	return c.infoRaw(ctx, map[string]any{"type": "openOrders", "user": addr})
}

// OrderHistory passes the venue's historical-orders view through untouched.
func (c *Client) OrderHistory(ctx context.Context, addr string) (json.RawMessage, error) {
	return c.infoRaw(ctx, map[string]any{"type": "historicalOrders", "user": addr})
}

// ————————————————————————————————————————————————————————————————————————
// Writes
// ————————————————————————————————————————————————————————————————————————

// MarketOpen submits an immediate-execution order: an aggressive IOC limit
// priced past mid by the slippage bound. With reduceOnly the order can only
// shrink an existing position, which is how the reversal fallback re-flattens.
func (c *Client) MarketOpen(ctx context.Context, symbol string, side types.Side, size decimal.Decimal, reduceOnly bool) (*types.VenueResult, error) {
	px, err := c.aggressivePrice(ctx, symbol, side)
	if err != nil {
		return nil, err
	}

	return c.placeOrder(ctx, symbol, side, size, px, orderTypeWire{
		Limit: &limitOrderType{Tif: string(types.TifIoc)},
	}, reduceOnly)
}

// MarketClose asks the venue to flatten the position on a symbol. Returns
// (nil, nil) when the venue yields no order status — the caller's fallback
// branch hinges on observing that null.
func (c *Client) MarketClose(ctx context.Context, symbol string) (*types.VenueResult, error) {
	state, err := c.ClearinghouseState(ctx, c.Account())
	if err != nil {
		return nil, err
	}

	pos := state.Position(symbol)
	if pos.Size.IsZero() {
		return nil, nil
	}

	side := types.Sell
	if pos.Size.Sign() < 0 {
		side = types.Buy
	}
	return c.MarketOpen(ctx, symbol, side, pos.Size.Abs(), true)
}

// LimitOrder places a resting or crossing limit order.
func (c *Client) LimitOrder(ctx context.Context, symbol string, side types.Side, size, px decimal.Decimal, tif types.Tif) (*types.VenueResult, error) {
	return c.placeOrder(ctx, symbol, side, size, px, orderTypeWire{
		Limit: &limitOrderType{Tif: string(tif)},
	}, false)
}

// TriggerOrder places a reduce-only conditional order. isMarket selects
// market execution on trigger; the limit price doubles as the slippage bound.
func (c *Client) TriggerOrder(ctx context.Context, symbol string, side types.Side, size, triggerPx decimal.Decimal, isMarket bool, tpsl Tpsl) (*types.VenueResult, error) {
	return c.placeOrder(ctx, symbol, side, size, triggerPx, orderTypeWire{
		Trigger: &triggerOrderType{
			IsMarket:  isMarket,
			TriggerPx: wireDecimal(triggerPx),
			Tpsl:      tpsl,
		},
	}, true)
}

// ————————————————————————————————————————————————————————————————————————
// Internals
// ————————————————————————————————————————————————————————————————————————

func (c *Client) placeOrder(ctx context.Context, symbol string, side types.Side, size, px decimal.Decimal, orderType orderTypeWire, reduceOnly bool) (*types.VenueResult, error) {
	asset, err := c.assetIndex(ctx, symbol)
	if err != nil {
		return nil, err
	}

	if c.dryRun {
		c.logger.Info("DRY-RUN: would place order",
			"symbol", symbol, "side", side, "size", size.String(), "px", px.String(), "reduce_only", reduceOnly)
		return &types.VenueResult{Filled: &types.FilledResult{OrderID: -1, AvgPx: px, Size: size}}, nil
	}

	action := orderAction{
		Type: "order",
		Orders: []orderWire{{
			Asset:      asset,
			IsBuy:      side == types.Buy,
			LimitPx:    wireDecimal(px),
			Sz:         wireDecimal(size),
			ReduceOnly: reduceOnly,
			OrderType:  orderType,
		}},
		Grouping: "na",
	}

	if err := c.rl.Order.Wait(ctx); err != nil {
		return nil, err
	}

	nonce := uint64(time.Now().UnixMilli())
	sig, err := c.signer.SignAction(action, nonce, c.env == types.Mainnet)
	if err != nil {
		return nil, err
	}

	req := exchangeRequest{Action: action, Nonce: nonce, Signature: sig}

	callCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	var parsed exchangeResponse
	resp, err := c.http.R().
		SetContext(callCtx).
		SetBody(req).
		SetResult(&parsed).
		Post("/exchange")
	if err != nil {
		return nil, &types.ConnectivityError{Op: "exchange", Err: err}
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, &types.ConnectivityError{
			Op:  "exchange",
			Err: fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String()),
		}
	}

	return mapExchangeResponse(parsed), nil
}

// mapExchangeResponse converts the venue's response into the port's result
// type, preserving the null outcome when no status came back.
func mapExchangeResponse(resp exchangeResponse) *types.VenueResult {
	if resp.Status != "ok" {
		return &types.VenueResult{Rejected: &types.RejectedResult{
			Code:    resp.Status,
			Message: resp.Response.Type,
		}}
	}

	statuses := resp.Response.Data.Statuses
	if len(statuses) == 0 {
		return nil
	}

	st := statuses[0]
	switch {
	case st.Filled != nil:
		return &types.VenueResult{Filled: &types.FilledResult{
			OrderID: st.Filled.Oid,
			AvgPx:   parseDec(st.Filled.AvgPx),
			Size:    parseDec(st.Filled.TotalSz),
		}}
	case st.Resting != nil:
		return &types.VenueResult{Resting: &types.RestingResult{OrderID: st.Resting.Oid}}
	case st.Error != "":
		return &types.VenueResult{Rejected: &types.RejectedResult{Message: st.Error}}
	default:
		return nil
	}
}

// aggressivePrice derives the IOC limit price for an immediate-execution
// order: mid shifted by the slippage bound, snapped to the symbol's price
// decimals.
func (c *Client) aggressivePrice(ctx context.Context, symbol string, side types.Side) (decimal.Decimal, error) {
	mids := map[string]string{}
	if err := c.info(ctx, map[string]any{"type": "allMids"}, &mids); err != nil {
		return decimal.Zero, err
	}
	midRaw, ok := mids[symbol]
	if !ok {
		return decimal.Zero, &types.ConnectivityError{Op: "allMids", Err: fmt.Errorf("no mid for %s", symbol)}
	}
	mid := parseDec(midRaw)

	slip := decimal.RequireFromString(marketSlippage)
	factor := decimal.NewFromInt(1).Add(slip)
	if side == types.Sell {
		factor = decimal.NewFromInt(1).Sub(slip)
	}

	meta, err := c.SymbolMeta(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	m, ok := meta[symbol]
	if !ok {
		return decimal.Zero, &types.InvalidSignalError{Reason: "unknown symbol " + symbol}
	}

	px := mid.Mul(factor)
	if side == types.Buy {
		return px.RoundUp(int32(m.PriceDecimals)), nil
	}
	return px.RoundDown(int32(m.PriceDecimals)), nil
}

func (c *Client) assetIndex(ctx context.Context, symbol string) (int, error) {
	c.metaMu.Lock()
	defer c.metaMu.Unlock()

	if c.indexes == nil {
		if err := c.fetchMetaLocked(ctx); err != nil {
			return 0, err
		}
	}
	if idx, ok := c.indexes[symbol]; ok {
		return idx, nil
	}

	// Unknown symbol: refresh once in case it listed after the cache filled.
	if err := c.fetchMetaLocked(ctx); err != nil {
		return 0, err
	}
	if idx, ok := c.indexes[symbol]; ok {
		return idx, nil
	}
	return 0, &types.InvalidSignalError{Reason: "unknown symbol " + symbol}
}

// fetchMetaLocked refreshes the symbol metadata. Caller holds metaMu.
// Price granularity follows the venue's perp rule: at most 6−szDecimals
// decimal places.
func (c *Client) fetchMetaLocked(ctx context.Context) error {
	var meta metaResponse
	if err := c.info(ctx, map[string]any{"type": "meta"}, &meta); err != nil {
		return err
	}

	c.meta = make(map[string]types.SymbolMeta, len(meta.Universe))
	c.indexes = make(map[string]int, len(meta.Universe))
	for i, asset := range meta.Universe {
		c.meta[asset.Name] = types.SymbolMeta{
			Symbol:        asset.Name,
			SzDecimals:    asset.SzDecimals,
			PriceDecimals: 6 - asset.SzDecimals,
		}
		c.indexes[asset.Name] = i
	}
	return nil
}

func (c *Client) info(ctx context.Context, body any, out any) error {
	if err := c.rl.Info.Wait(ctx); err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	resp, err := c.http.R().
		SetContext(callCtx).
		SetBody(body).
		SetResult(out).
		Post("/info")
	if err != nil {
		return &types.ConnectivityError{Op: "info", Err: err}
	}
	if resp.StatusCode() != http.StatusOK {
		return &types.ConnectivityError{
			Op:  "info",
			Err: fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String()),
		}
	}
	return nil
}

func (c *Client) infoRaw(ctx context.Context, body any) (json.RawMessage, error) {
	if err := c.rl.Info.Wait(ctx); err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	resp, err := c.http.R().
		SetContext(callCtx).
		SetBody(body).
		Post("/info")
	if err != nil {
		return nil, &types.ConnectivityError{Op: "info", Err: err}
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, &types.ConnectivityError{
			Op:  "info",
			Err: fmt.Errorf("status %d: %s", resp.StatusCode(), resp.String()),
		}
	}
	return json.RawMessage(resp.Body()), nil
}

func parseDec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
