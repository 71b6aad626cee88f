package account

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// go test -v --run TestNewSnapshotMarginLevel
func TestNewSnapshotMarginLevel(t *testing.T) {
	now := time.Now()
	s := NewSnapshot(1001, Fields{
		Balance: decimal.NewFromInt(1000),
		Equity:  decimal.NewFromInt(400),
		Margin:  decimal.NewFromInt(500),
	}, now)

	require.NotNil(t, s.MarginLevel)
	assert.True(t, s.MarginLevel.Equal(decimal.NewFromInt(80)), "got %s", s.MarginLevel)
	assert.True(t, s.FreeMargin.Equal(decimal.NewFromInt(-100)))
	assert.Equal(t, now, s.LastUpdated)
}

// go test -v --run TestNewSnapshotZeroMargin
func TestNewSnapshotZeroMargin(t *testing.T) {
	s := NewSnapshot(1001, Fields{Balance: decimal.NewFromInt(1000), Equity: decimal.NewFromInt(1000)}, time.Now())
	assert.Nil(t, s.MarginLevel)
}

// go test -v --run TestSummarizeTrades
func TestSummarizeTrades(t *testing.T) {
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	trades := []Trade{
		{TradeID: 1, Volume: decimal.RequireFromString("1.5"), Profit: decimal.NewFromInt(20), CloseTime: now.Add(-time.Hour)},
		{TradeID: 2, Volume: decimal.RequireFromString("-0.5"), Profit: decimal.NewFromInt(-5), CloseTime: now.Add(-48 * time.Hour)},
	}

	sum := SummarizeTrades(trades, now)
	assert.Equal(t, 2, sum.TradeCount)
	assert.True(t, sum.TotalVolume.Equal(decimal.NewFromInt(2)))
	assert.True(t, sum.TotalProfit.Equal(decimal.NewFromInt(15)))
	assert.Equal(t, "2026-03-10", sum.Daily.Date)
	assert.Equal(t, 1, sum.Daily.TradeCount)
	assert.True(t, sum.Daily.TotalProfit.Equal(decimal.NewFromInt(20)))
}

// go test -v --run TestTradePerformance
func TestTradePerformance(t *testing.T) {
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	trades := []Trade{
		{TradeID: 1, Volume: decimal.NewFromInt(1), Profit: decimal.NewFromInt(10), CloseTime: now},
		{TradeID: 2, Volume: decimal.NewFromInt(1), Profit: decimal.NewFromInt(30), CloseTime: now},
		{TradeID: 3, Volume: decimal.NewFromInt(1), Profit: decimal.NewFromInt(-20), CloseTime: now},
		{TradeID: 4, Volume: decimal.NewFromInt(1), Profit: decimal.Zero, CloseTime: now},
	}

	p := SummarizeTrades(trades, now).Performance
	assert.Equal(t, 2, p.WinningTrades)
	assert.Equal(t, 1, p.LosingTrades)
	assert.True(t, p.WinRate.Equal(decimal.NewFromInt(50)), p.WinRate.String())
	assert.True(t, p.GrossProfit.Equal(decimal.NewFromInt(40)))
	assert.True(t, p.GrossLoss.Equal(decimal.NewFromInt(20)))
	assert.True(t, p.ProfitFactor.Equal(decimal.NewFromInt(2)))
	assert.True(t, p.AverageWin.Equal(decimal.NewFromInt(20)))
	assert.True(t, p.AverageLoss.Equal(decimal.NewFromInt(20)))

	// no losers and no trades leave the ratios at zero
	p = SummarizeTrades(trades[:2], now).Performance
	assert.True(t, p.ProfitFactor.IsZero())
	assert.True(t, p.WinRate.Equal(decimal.NewFromInt(100)))
	p = SummarizeTrades(nil, now).Performance
	assert.True(t, p.WinRate.IsZero())
	assert.True(t, p.AverageWin.IsZero())

	p = SummarizeTrades(trades[:3], now).Performance
	assert.Equal(t, "66.6667", p.WinRate.String())
}

// go test -v --run TestErrorMatching
func TestErrorMatching(t *testing.T) {
	base := errors.New("boom")
	err := fmt.Errorf("initialize: %w", &ConnectionError{Backend: "rest", Err: base})
	assert.True(t, IsConnectionError(err))
	assert.ErrorIs(t, err, base)

	verr := fmt.Errorf("add: %w", &ValidationError{Field: "login_id", Reason: "must be positive"})
	assert.True(t, IsValidationError(verr))
	assert.Equal(t, "add: invalid login_id: must be positive", verr.Error())
}
