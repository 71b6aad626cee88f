package monitor

import (
	"cmp"
	"slices"
	"time"

	"acctmonitor/internal/account"
	"acctmonitor/internal/memorystore"

	"github.com/shopspring/decimal"
)

// Frame types pushed to subscribers.
const (
	FrameInitial = "initial"
	FrameUpdate  = "update"
)

// AccountView is the client-facing form of one monitored account.
type AccountView struct {
	account.Snapshot `yaml:",inline"`

	Status        string             `json:"status" yaml:"status"`
	LastError     string             `json:"last_error,omitempty" yaml:"last_error,omitempty"`
	PositionCount int                `json:"position_count" yaml:"position_count"`
	Symbols       []string           `json:"symbols" yaml:"symbols"`
	Positions     []account.Position `json:"positions" yaml:"positions"`
}

func newAccountView(e memorystore.Entry) AccountView {
	v := AccountView{
		Snapshot:      e.Snapshot,
		Status:        account.StatusActive,
		LastError:     e.LastError,
		PositionCount: len(e.Positions),
		Symbols:       []string{},
		Positions:     e.Positions,
	}
	if e.LastError != "" {
		v.Status = account.StatusError
	}
	if v.Positions == nil {
		v.Positions = []account.Position{}
	}
	for _, p := range e.Positions {
		if !slices.Contains(v.Symbols, p.Symbol) {
			v.Symbols = append(v.Symbols, p.Symbol)
		}
	}
	slices.Sort(v.Symbols)
	return v
}

// accountViews lists the polled entries ordered by login.
func accountViews(entries map[account.ID]memorystore.Entry) []AccountView {
	out := make([]AccountView, 0, len(entries))
	for _, e := range entries {
		if e.Polled() {
			out = append(out, newAccountView(e))
		}
	}
	slices.SortFunc(out, func(a, b AccountView) int {
		return cmp.Compare(a.AccountID, b.AccountID)
	})
	return out
}

// Summary totals the latest snapshots of all polled accounts.
type Summary struct {
	Accounts       int              `json:"total_accounts" yaml:"total_accounts"`
	Positions      int              `json:"total_positions" yaml:"total_positions"`
	Balance        decimal.Decimal  `json:"total_balance" yaml:"total_balance"`
	Equity         decimal.Decimal  `json:"total_equity" yaml:"total_equity"`
	Margin         decimal.Decimal  `json:"total_margin" yaml:"total_margin"`
	Profit         decimal.Decimal  `json:"total_profit" yaml:"total_profit"`
	AvgMarginLevel *decimal.Decimal `json:"avg_margin_level" yaml:"avg_margin_level"`
}

func summarize(views []AccountView) Summary {
	var (
		s      Summary
		levels decimal.Decimal
		n      int64
	)
	for _, v := range views {
		s.Accounts++
		s.Positions += v.PositionCount
		s.Balance = s.Balance.Add(v.Balance)
		s.Equity = s.Equity.Add(v.Equity)
		s.Margin = s.Margin.Add(v.Margin)
		s.Profit = s.Profit.Add(v.Profit)
		if v.MarginLevel != nil {
			levels = levels.Add(*v.MarginLevel)
			n++
		}
	}
	if n > 0 {
		avg := levels.Div(decimal.NewFromInt(n))
		s.AvgMarginLevel = &avg
	}
	return s
}

// Stats describes the monitor as a whole.
type Stats struct {
	State             string                    `json:"state" yaml:"state"`
	Running           bool                      `json:"running" yaml:"running"`
	Interval          float64                   `json:"update_interval" yaml:"update_interval"` // seconds
	MonitoredCount    int                       `json:"monitored_count" yaml:"monitored_count"`
	CyclesCompleted   uint64                    `json:"total_updates" yaml:"total_updates"`
	LastUpdate        *time.Time                `json:"last_update" yaml:"last_update"`
	LastCycleDuration float64                   `json:"last_cycle_duration" yaml:"last_cycle_duration"` // seconds
	LastErrorCount    int                       `json:"last_error_count" yaml:"last_error_count"`
	AccountsInError   int                       `json:"accounts_in_error" yaml:"accounts_in_error"`
	TotalErrors       uint64                    `json:"errors" yaml:"errors"`
	Alerts            map[account.AlertKind]int `json:"alerts" yaml:"alerts"`
	AlertCount        int                       `json:"alert_count" yaml:"alert_count"`
	ConnectedClients  int                       `json:"connected_clients" yaml:"connected_clients"`
	Summary           Summary                   `json:"summary" yaml:"summary"`
}

// Frame is the full state pushed to subscribers after each poll cycle and
// once on connect.
type Frame struct {
	Type      string                   `json:"type"`
	Cycle     uint64                   `json:"cycle"`
	Timestamp time.Time                `json:"timestamp"`
	Accounts  []AccountView            `json:"accounts"`
	Exposure  []account.SymbolExposure `json:"exposure"`
	Alerts    []account.Alert          `json:"alerts"`
	Stats     Stats                    `json:"stats"`
}

// AccountTrades is the stored trade history of one account.
type AccountTrades struct {
	AccountID account.ID           `json:"login_id"`
	Trades    []account.Trade      `json:"trades"`
	Summary   account.TradeSummary `json:"summary"`
}
