package exposure

import (
	"testing"

	"acctmonitor/internal/account"
	"acctmonitor/internal/memorystore"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pos(id account.ID, pid int64, symbol, volume string) account.Position {
	return account.Position{AccountID: id, PositionID: pid, Symbol: symbol, Volume: decimal.RequireFromString(volume)}
}

func entries() map[account.ID]memorystore.Entry {
	return map[account.ID]memorystore.Entry{
		1001: {Positions: []account.Position{pos(1001, 1, "EURUSD", "1.0"), pos(1001, 2, "XAUUSD", "0.2")}},
		1002: {Positions: []account.Position{pos(1002, 3, "EURUSD", "-0.5")}},
		1003: {Positions: []account.Position{pos(1003, 4, "GBPUSD", "2"), pos(1003, 5, "GBPUSD", "-1")}},
	}
}

// go test -v --run TestAggregateNetVolume
func TestAggregateNetVolume(t *testing.T) {
	got := Aggregate(entries(), "EURUSD")
	require.Len(t, got, 1)
	assert.Equal(t, "EURUSD", got[0].Symbol)
	assert.True(t, got[0].NetVolume.Equal(decimal.RequireFromString("0.5")), "got %s", got[0].NetVolume)
	assert.Equal(t, 2, got[0].AccountCount)
	assert.Equal(t, 2, got[0].PositionCount)
}

// go test -v --run TestAggregateAllSorted
func TestAggregateAllSorted(t *testing.T) {
	got := Aggregate(entries(), "")
	require.Len(t, got, 3)
	assert.Equal(t, []string{"EURUSD", "GBPUSD", "XAUUSD"}, []string{got[0].Symbol, got[1].Symbol, got[2].Symbol})

	gbp := got[1]
	assert.True(t, gbp.NetVolume.Equal(decimal.NewFromInt(1)))
	assert.Equal(t, 1, gbp.AccountCount)
	assert.Equal(t, 2, gbp.PositionCount)
}

// go test -v --run TestAggregateEmpty
func TestAggregateEmpty(t *testing.T) {
	got := Aggregate(map[account.ID]memorystore.Entry{}, "")
	assert.NotNil(t, got)
	assert.Empty(t, got)
	assert.Empty(t, Aggregate(entries(), "USDJPY"))
}

// go test -v --run TestAggregatePure
func TestAggregatePure(t *testing.T) {
	in := entries()
	assert.Equal(t, Aggregate(in, ""), Aggregate(in, ""))
}

// go test -v --run TestPositionsBySymbol
func TestPositionsBySymbol(t *testing.T) {
	got := Positions(entries(), "EURUSD")
	require.Len(t, got, 2)
	assert.Equal(t, account.ID(1001), got[0].AccountID)
	assert.Equal(t, account.ID(1002), got[1].AccountID)
}
