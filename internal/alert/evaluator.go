// Package alert turns account snapshots into risk alerts.
package alert

import (
	"cmp"
	"fmt"
	"slices"

	"acctmonitor/internal/account"
	"acctmonitor/internal/memorystore"

	"github.com/shopspring/decimal"
)

// Thresholds configures the evaluator. Margin levels are percentages.
type Thresholds struct {
	MarginWarningLevel  decimal.Decimal `mapstructure:"margin_warning_level" json:"margin_warning_level"`
	MarginCriticalLevel decimal.Decimal `mapstructure:"margin_critical_level" json:"margin_critical_level"`
	MaxLossThreshold    decimal.Decimal `mapstructure:"max_loss_threshold" json:"max_loss_threshold"`
}

// DefaultThresholds returns 150% warning, 100% critical and a -1000 loss
// limit.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MarginWarningLevel:  decimal.NewFromInt(150),
		MarginCriticalLevel: decimal.NewFromInt(100),
		MaxLossThreshold:    decimal.NewFromInt(-1000),
	}
}

// Evaluator checks snapshots against fixed thresholds. It holds no state
// between calls.
type Evaluator struct {
	th Thresholds
}

func NewEvaluator(th Thresholds) *Evaluator {
	return &Evaluator{th: th}
}

func (e *Evaluator) Thresholds() Thresholds { return e.th }

// Evaluate returns the alerts raised by s. Comparisons are strict: a margin
// level equal to a threshold does not trigger it, and an undefined margin
// level never triggers a margin alert.
func (e *Evaluator) Evaluate(s account.Snapshot) []account.Alert {
	var out []account.Alert

	if lvl := s.MarginLevel; lvl != nil {
		switch {
		case lvl.LessThan(e.th.MarginCriticalLevel):
			out = append(out, account.Alert{
				AccountID: s.AccountID,
				Kind:      account.MarginCritical,
				Severity:  account.SeverityCritical,
				Message:   fmt.Sprintf("margin level %s%% below critical %s%%", lvl.StringFixed(2), e.th.MarginCriticalLevel),
			})
		case lvl.LessThan(e.th.MarginWarningLevel):
			out = append(out, account.Alert{
				AccountID: s.AccountID,
				Kind:      account.MarginWarning,
				Severity:  account.SeverityWarning,
				Message:   fmt.Sprintf("margin level %s%% below warning %s%%", lvl.StringFixed(2), e.th.MarginWarningLevel),
			})
		}
	}

	if s.Profit.LessThan(e.th.MaxLossThreshold) {
		out = append(out, account.Alert{
			AccountID: s.AccountID,
			Kind:      account.MaxLoss,
			Severity:  account.SeverityCritical,
			Message:   fmt.Sprintf("floating profit %s below loss limit %s", s.Profit.StringFixed(2), e.th.MaxLossThreshold),
		})
	}
	return out
}

// EvaluateAll evaluates every entry, ordered by account then kind.
func (e *Evaluator) EvaluateAll(entries map[account.ID]memorystore.Entry) []account.Alert {
	out := make([]account.Alert, 0)
	for _, en := range entries {
		out = append(out, e.Evaluate(en.Snapshot)...)
	}
	slices.SortFunc(out, func(a, b account.Alert) int {
		if c := cmp.Compare(a.AccountID, b.AccountID); c != 0 {
			return c
		}
		return cmp.Compare(a.Kind, b.Kind)
	})
	return out
}

// CountByKind tallies alerts per kind.
func CountByKind(alerts []account.Alert) map[account.AlertKind]int {
	out := make(map[account.AlertKind]int)
	for _, a := range alerts {
		out[a.Kind]++
	}
	return out
}
