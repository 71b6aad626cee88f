package backend

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Return codes of the manager gateway envelope.
const (
	RetCodeOK           = 0
	RetCodeUnauthorized = 10003
	RetCodeNotFound     = 10004
)

// Position sides.
const (
	SideBuy  = 0
	SideSell = 1
)

// SignedVolume returns volume negated for the sell side.
func SignedVolume(side int, volume decimal.Decimal) decimal.Decimal {
	v := volume.Abs()
	if side == SideSell {
		return v.Neg()
	}
	return v
}

// Response is the envelope wrapping every gateway reply.
type Response struct {
	RetCode int             `json:"retCode"` // 0 means success
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"` // decoded per endpoint
	Time    int64           `json:"time"`   // server time in milliseconds
}

// AccountInfo is the result of GET /v1/accounts/{login}.
type AccountInfo struct {
	Login      int64           `json:"login"`
	Balance    decimal.Decimal `json:"balance"`
	Equity     decimal.Decimal `json:"equity"`
	Margin     decimal.Decimal `json:"margin"`
	FreeMargin decimal.Decimal `json:"marginFree"`
	Profit     decimal.Decimal `json:"profit"`
	Currency   string          `json:"currency"`
	Group      string          `json:"group"`
	Leverage   int             `json:"leverage"`
}

// PositionInfo is one entry of GET /v1/accounts/{login}/positions. Volume is
// unsigned; Side gives the direction.
type PositionInfo struct {
	Ticket       int64           `json:"ticket"`
	Symbol       string          `json:"symbol"`
	Side         int             `json:"side"`
	Volume       decimal.Decimal `json:"volume"`
	PriceOpen    decimal.Decimal `json:"priceOpen"`
	PriceCurrent decimal.Decimal `json:"priceCurrent"`
	Profit       decimal.Decimal `json:"profit"`
}

// DealInfo is one entry of GET /v1/accounts/{login}/deals.
type DealInfo struct {
	Ticket    int64           `json:"ticket"`
	Symbol    string          `json:"symbol"`
	Side      int             `json:"side"`
	Volume    decimal.Decimal `json:"volume"`
	TimeOpen  int64           `json:"timeOpen"`  // unix seconds
	TimeClose int64           `json:"timeClose"` // unix seconds
	Profit    decimal.Decimal `json:"profit"`
}

type listResult[T any] struct {
	List []T `json:"list"`
}
