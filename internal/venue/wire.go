// Package venue implements the narrow port over the Hyperliquid HTTP API
// that the execution engine consumes.
//
// All reads go through POST {base}/info (clearinghouse state, spot state,
// metadata, user role, order queries); all writes go through POST
// {base}/exchange with an EIP-712-signed action. The port deliberately
// preserves the venue's tri-state close outcome: filled/resting, rejected,
// or a null response with no order status at all.
package venue

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Tpsl tags a trigger order as take-profit or stop-loss on the wire.
type Tpsl string

const (
	TpslTP Tpsl = "tp"
	TpslSL Tpsl = "sl"
)

// ————————————————————————————————————————————————————————————————————————
// Info responses
// ————————————————————————————————————————————————————————————————————————

type assetInfo struct {
	Name        string `json:"name"`
	SzDecimals  int    `json:"szDecimals"`
	MaxLeverage int    `json:"maxLeverage"`
}

type metaResponse struct {
	Universe []assetInfo `json:"universe"`
}

type wirePosition struct {
	Coin    string  `json:"coin"`
	EntryPx *string `json:"entryPx"`
	Szi     string  `json:"szi"`
}

type assetPosition struct {
	Position wirePosition `json:"position"`
	Type     string       `json:"type"`
}

type marginSummary struct {
	AccountValue    string `json:"accountValue"`
	TotalMarginUsed string `json:"totalMarginUsed"`
}

type userState struct {
	AssetPositions []assetPosition `json:"assetPositions"`
	MarginSummary  marginSummary   `json:"marginSummary"`
	Withdrawable   string          `json:"withdrawable"`
}

type spotBalance struct {
	Coin  string `json:"coin"`
	Total string `json:"total"`
	Hold  string `json:"hold"`
}

type spotUserState struct {
	Balances []spotBalance `json:"balances"`
}

type userRoleResponse struct {
	Role string `json:"role"`
	Data struct {
		Master string `json:"master"`
		User   string `json:"user"`
	} `json:"data"`
}

// ————————————————————————————————————————————————————————————————————————
// Exchange actions
// ————————————————————————————————————————————————————————————————————————
// Field order matters: the msgpack encoding of the action is what gets
// hashed and signed, and the venue reproduces the hash on its side.

type limitOrderType struct {
	Tif string `json:"tif" msgpack:"tif"`
}

type triggerOrderType struct {
	IsMarket  bool   `json:"isMarket" msgpack:"isMarket"`
	TriggerPx string `json:"triggerPx" msgpack:"triggerPx"`
	Tpsl      Tpsl   `json:"tpsl" msgpack:"tpsl"`
}

type orderTypeWire struct {
	Limit   *limitOrderType   `json:"limit,omitempty" msgpack:"limit,omitempty"`
	Trigger *triggerOrderType `json:"trigger,omitempty" msgpack:"trigger,omitempty"`
}

type orderWire struct {
	Asset      int           `json:"a" msgpack:"a"`
	IsBuy      bool          `json:"b" msgpack:"b"`
	LimitPx    string        `json:"p" msgpack:"p"`
	Sz         string        `json:"s" msgpack:"s"`
	ReduceOnly bool          `json:"r" msgpack:"r"`
	OrderType  orderTypeWire `json:"t" msgpack:"t"`
}

type orderAction struct {
	Type     string      `json:"type" msgpack:"type"`
	Orders   []orderWire `json:"orders" msgpack:"orders"`
	Grouping string      `json:"grouping" msgpack:"grouping"`
}

type wireSignature struct {
	R string `json:"r"`
	S string `json:"s"`
	V int    `json:"v"`
}

type exchangeRequest struct {
	Action       orderAction   `json:"action"`
	Nonce        uint64        `json:"nonce"`
	Signature    wireSignature `json:"signature"`
	VaultAddress *string       `json:"vaultAddress"`
}

// ————————————————————————————————————————————————————————————————————————
// Exchange responses
// ————————————————————————————————————————————————————————————————————————

type restingStatus struct {
	Oid int64 `json:"oid"`
}

type filledStatus struct {
	Oid     int64  `json:"oid"`
	TotalSz string `json:"totalSz"`
	AvgPx   string `json:"avgPx"`
}

// orderStatus is the venue's per-order sum type: exactly one field set.
type orderStatus struct {
	Resting *restingStatus `json:"resting,omitempty"`
	Filled  *filledStatus  `json:"filled,omitempty"`
	Error   string         `json:"error,omitempty"`
}

type exchangeResponse struct {
	Status   string `json:"status"` // "ok" or "err"
	Response struct {
		Type string `json:"type"`
		Data struct {
			Statuses []orderStatus `json:"statuses"`
		} `json:"data"`
	} `json:"response"`
}

// wireDecimal renders a decimal the way the venue expects: plain notation,
// no trailing fraction zeros.
func wireDecimal(d decimal.Decimal) string {
	s := d.String()
	if strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		s = strings.TrimRight(s, ".")
	}
	if s == "" || s == "-" {
		return "0"
	}
	return s
}
