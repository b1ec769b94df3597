// Package precision truncates sizes and snaps prices to the venue's
// per-symbol granularity rules.
//
// The venue rejects sizes or prices carrying excess decimal places. Sizes
// always round toward zero — rounding away from zero would enlarge the
// trader's intended risk. Prices default to the same floor rule; trigger
// prices snap side-aware so a stop is never looser, and a take-profit never
// earlier, than requested.
package precision

import (
	"github.com/shopspring/decimal"

	"hyperbridge/pkg/types"
)

// TruncateSize rounds a raw size toward zero to the symbol's size decimals.
// A zero result is returned as-is; callers decide whether zero is actionable.
func TruncateSize(meta types.SymbolMeta, raw decimal.Decimal) decimal.Decimal {
	return raw.RoundDown(int32(meta.SzDecimals))
}

// SnapEntryPrice floors a limit price to the symbol's price decimals.
func SnapEntryPrice(meta types.SymbolMeta, raw decimal.Decimal) decimal.Decimal {
	return raw.RoundDown(int32(meta.PriceDecimals))
}

// SnapStopPrice snaps a stop-loss trigger toward the worse-for-trader
// direction, so the protection is never looser than requested. A long entry
// stops out by selling below, so its trigger floors; a short entry stops out
// by buying above, so its trigger ceils.
func SnapStopPrice(meta types.SymbolMeta, raw decimal.Decimal, entrySide types.Side) decimal.Decimal {
	if entrySide == types.Buy {
		return raw.RoundDown(int32(meta.PriceDecimals))
	}
	return raw.RoundUp(int32(meta.PriceDecimals))
}

// SnapTakeProfitPrice snaps a take-profit trigger toward the better-for-trader
// direction, so profit is taken no earlier than requested. A long entry takes
// profit by selling above, so its trigger ceils; a short entry by buying
// below, so its trigger floors.
func SnapTakeProfitPrice(meta types.SymbolMeta, raw decimal.Decimal, entrySide types.Side) decimal.Decimal {
	if entrySide == types.Buy {
		return raw.RoundUp(int32(meta.PriceDecimals))
	}
	return raw.RoundDown(int32(meta.PriceDecimals))
}
