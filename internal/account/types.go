package account

import (
	"time"

	"github.com/shopspring/decimal"
)

// ID is the backend login of a trading account. Valid IDs are positive.
type ID int64

// Valid reports whether id can identify an account.
func (id ID) Valid() bool { return id > 0 }

// Status values carried by a Snapshot.
const (
	StatusActive = "active"
	StatusError  = "error"
)

var hundred = decimal.NewFromInt(100)

// Fields is the raw account state returned by a DataSource.
type Fields struct {
	Balance    decimal.Decimal `json:"balance"`
	Equity     decimal.Decimal `json:"equity"`
	Margin     decimal.Decimal `json:"margin"`
	FreeMargin decimal.Decimal `json:"free_margin"`
	Profit     decimal.Decimal `json:"profit"`
	Currency   string          `json:"currency"`
	Group      string          `json:"group"`
	Leverage   int             `json:"leverage"`
}

// Snapshot is the state of one account as of one poll. It is never modified
// after construction; a newer poll replaces it wholesale.
type Snapshot struct {
	AccountID   ID               `json:"login_id" yaml:"login_id"`
	Balance     decimal.Decimal  `json:"balance" yaml:"balance"`
	Equity      decimal.Decimal  `json:"equity" yaml:"equity"`
	Margin      decimal.Decimal  `json:"margin" yaml:"margin"`
	FreeMargin  decimal.Decimal  `json:"free_margin" yaml:"free_margin"`
	MarginLevel *decimal.Decimal `json:"margin_level" yaml:"margin_level"` // nil when margin is zero
	Profit      decimal.Decimal  `json:"profit" yaml:"profit"`
	Currency    string           `json:"currency" yaml:"currency"`
	Group       string           `json:"group" yaml:"group"`
	Leverage    int              `json:"leverage" yaml:"leverage"`
	LastUpdated time.Time        `json:"last_update" yaml:"last_update"`
}

// NewSnapshot builds a Snapshot from fetched fields, deriving the margin level
// as equity/margin in percent.
func NewSnapshot(id ID, f Fields, at time.Time) Snapshot {
	s := Snapshot{
		AccountID:   id,
		Balance:     f.Balance,
		Equity:      f.Equity,
		Margin:      f.Margin,
		FreeMargin:  f.FreeMargin,
		Profit:      f.Profit,
		Currency:    f.Currency,
		Group:       f.Group,
		Leverage:    f.Leverage,
		LastUpdated: at,
	}
	if s.FreeMargin.IsZero() && !f.Equity.IsZero() {
		s.FreeMargin = f.Equity.Sub(f.Margin)
	}
	s.MarginLevel = MarginLevel(f.Equity, f.Margin)
	return s
}

// MarginLevel returns equity/margin*100, or nil when margin is zero.
func MarginLevel(equity, margin decimal.Decimal) *decimal.Decimal {
	if margin.IsZero() {
		return nil
	}
	lvl := equity.Div(margin).Mul(hundred)
	return &lvl
}

// Position is one open position. Volume is signed: positive for long,
// negative for short.
type Position struct {
	AccountID    ID              `json:"login_id" yaml:"login_id"`
	PositionID   int64           `json:"position_id" yaml:"position_id"`
	Symbol       string          `json:"symbol" yaml:"symbol"`
	Volume       decimal.Decimal `json:"volume" yaml:"volume"`
	OpenPrice    decimal.Decimal `json:"open_price" yaml:"open_price"`
	CurrentPrice decimal.Decimal `json:"current_price" yaml:"current_price"`
	Profit       decimal.Decimal `json:"profit" yaml:"profit"`
}

// Trade is a closed deal from the trade history window.
type Trade struct {
	AccountID ID              `json:"login_id"`
	TradeID   int64           `json:"trade_id"`
	Symbol    string          `json:"symbol"`
	Volume    decimal.Decimal `json:"volume"`
	OpenTime  time.Time       `json:"open_time"`
	CloseTime time.Time       `json:"close_time"`
	Profit    decimal.Decimal `json:"profit"`
}

// SymbolExposure is the aggregated net volume of one instrument across all
// monitored accounts.
type SymbolExposure struct {
	Symbol        string          `json:"symbol" yaml:"symbol"`
	NetVolume     decimal.Decimal `json:"net_volume" yaml:"net_volume"`
	AccountCount  int             `json:"account_count" yaml:"account_count"`
	PositionCount int             `json:"position_count" yaml:"position_count"`
}

// AlertKind classifies an alert.
type AlertKind string

const (
	MarginWarning  AlertKind = "MarginWarning"
	MarginCritical AlertKind = "MarginCritical"
	MaxLoss        AlertKind = "MaxLoss"
)

// Severity of an alert.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is a risk condition derived from one snapshot. Alerts are recomputed
// every cycle and carry no identity across cycles.
type Alert struct {
	AccountID ID        `json:"login_id"`
	Kind      AlertKind `json:"kind"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
}
