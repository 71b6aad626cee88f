package account

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeSummary aggregates a trade history window and the subset closed on
// the current day.
type TradeSummary struct {
	TradeCount  int             `json:"trade_count"`
	TotalVolume decimal.Decimal `json:"total_volume"`
	TotalProfit decimal.Decimal `json:"total_profit"` // net
	Performance Performance     `json:"performance"`
	Daily       DailyStats      `json:"daily_stats"`
	LastUpdated *time.Time      `json:"last_update,omitempty"`
}

// Performance splits a trade window into winners and losers. Break-even
// trades count in neither. Ratios are zero when their denominator is.
type Performance struct {
	WinningTrades int             `json:"winning_trades"`
	LosingTrades  int             `json:"losing_trades"`
	WinRate       decimal.Decimal `json:"win_rate"`     // percent of all trades
	GrossProfit   decimal.Decimal `json:"gross_profit"` // sum of winning profits
	GrossLoss     decimal.Decimal `json:"gross_loss"`   // absolute sum of losing profits
	ProfitFactor  decimal.Decimal `json:"profit_factor"`
	AverageWin    decimal.Decimal `json:"average_win"`
	AverageLoss   decimal.Decimal `json:"average_loss"`
}

const ratioPlaces = 4

// DailyStats covers trades closed on Date.
type DailyStats struct {
	Date        string          `json:"date"`
	TradeCount  int             `json:"trade_count"`
	TotalVolume decimal.Decimal `json:"total_volume"`
	TotalProfit decimal.Decimal `json:"total_profit"`
}

// SummarizeTrades computes totals over trades. The daily bucket uses the
// calendar day of now in now's location.
func SummarizeTrades(trades []Trade, now time.Time) TradeSummary {
	y, m, d := now.Date()
	sum := TradeSummary{
		TradeCount: len(trades),
		Daily:      DailyStats{Date: now.Format(time.DateOnly)},
	}
	for _, t := range trades {
		sum.TotalVolume = sum.TotalVolume.Add(t.Volume.Abs())
		sum.TotalProfit = sum.TotalProfit.Add(t.Profit)
		switch t.Profit.Sign() {
		case 1:
			sum.Performance.WinningTrades++
			sum.Performance.GrossProfit = sum.Performance.GrossProfit.Add(t.Profit)
		case -1:
			sum.Performance.LosingTrades++
			sum.Performance.GrossLoss = sum.Performance.GrossLoss.Add(t.Profit.Abs())
		}

		cy, cm, cd := t.CloseTime.In(now.Location()).Date()
		if cy == y && cm == m && cd == d {
			sum.Daily.TradeCount++
			sum.Daily.TotalVolume = sum.Daily.TotalVolume.Add(t.Volume.Abs())
			sum.Daily.TotalProfit = sum.Daily.TotalProfit.Add(t.Profit)
		}
	}
	sum.Performance.ratios(len(trades))
	return sum
}

func (p *Performance) ratios(total int) {
	if total > 0 {
		p.WinRate = decimal.NewFromInt(int64(p.WinningTrades)).Mul(hundred).DivRound(decimal.NewFromInt(int64(total)), ratioPlaces)
	}
	if p.GrossLoss.IsPositive() {
		p.ProfitFactor = p.GrossProfit.DivRound(p.GrossLoss, ratioPlaces)
	}
	if p.WinningTrades > 0 {
		p.AverageWin = p.GrossProfit.DivRound(decimal.NewFromInt(int64(p.WinningTrades)), ratioPlaces)
	}
	if p.LosingTrades > 0 {
		p.AverageLoss = p.GrossLoss.DivRound(decimal.NewFromInt(int64(p.LosingTrades)), ratioPlaces)
	}
}
