package venue

import (
	"context"
	"encoding/json"

	"github.com/shopspring/decimal"

	"hyperbridge/pkg/types"
)

// Port is the narrow venue surface the execution engine consumes. The
// production implementation is Client; tests substitute a fake.
//
// MarketClose returns (nil, nil) when the venue's close path yields no order
// status at all. That null is a distinct, observable outcome — callers must
// not collapse it into a rejection.
type Port interface {
	UserRole(ctx context.Context, addr string) (types.Role, error)
	ClearinghouseState(ctx context.Context, addr string) (*types.PerpState, error)
	SpotState(ctx context.Context, addr string) (*types.SpotState, error)
	SymbolMeta(ctx context.Context) (map[string]types.SymbolMeta, error)

	MarketOpen(ctx context.Context, symbol string, side types.Side, size decimal.Decimal, reduceOnly bool) (*types.VenueResult, error)
	MarketClose(ctx context.Context, symbol string) (*types.VenueResult, error)
	LimitOrder(ctx context.Context, symbol string, side types.Side, size, px decimal.Decimal, tif types.Tif) (*types.VenueResult, error)
	TriggerOrder(ctx context.Context, symbol string, side types.Side, size, triggerPx decimal.Decimal, isMarket bool, tpsl Tpsl) (*types.VenueResult, error)

	OpenOrders(ctx context.Context, addr string) (json.RawMessage, error)
	OrderHistory(ctx context.Context, addr string) (json.RawMessage, error)
}
