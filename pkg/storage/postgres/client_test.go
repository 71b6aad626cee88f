package postgres

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"acctmonitor/internal/account"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newTestClient returns a client over a migrated sqlite file.
func newTestClient(t *testing.T) *PostgresClient {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "mirror.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	client := &PostgresClient{DB: db}
	require.NoError(t, client.AutoMigrate())
	t.Cleanup(func() { client.Close() })
	return client
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// go test -v --run TestPostgresInvalidDSN
func TestPostgresInvalidDSN(t *testing.T) {
	client, err := NewClient("host=127.0.0.1 port=1 user=fail password=fail dbname=fail sslmode=disable connect_timeout=1")
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	err = client.Connect(ctx)
	require.Error(t, err)
	assert.True(t, account.IsConnectionError(err))
	assert.False(t, client.IsHealthy(ctx))
}

// go test -v --run TestConnect
func TestConnect(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.Connect(ctx))
	assert.True(t, client.IsHealthy(ctx))

	require.NoError(t, client.Close())
	assert.True(t, account.IsConnectionError(client.Connect(ctx)))
}

// go test -v --run TestFetchAccount
func TestFetchAccount(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.UpsertAccount(ctx, &AccountRecord{
		Login:      1001,
		Balance:    dec("1000"),
		Equity:     dec("400.5"),
		Margin:     dec("500"),
		MarginFree: dec("-99.5"),
		Profit:     dec("-12.25"),
		Currency:   "USD",
		Group:      `real\std`,
		Leverage:   100,
	}))

	f, err := client.FetchAccount(ctx, 1001)
	require.NoError(t, err)
	assert.True(t, f.Equity.Equal(dec("400.5")))
	assert.True(t, f.FreeMargin.Equal(dec("-99.5")))
	assert.Equal(t, `real\std`, f.Group)
	assert.Equal(t, 100, f.Leverage)

	// upsert replaces the row
	require.NoError(t, client.UpsertAccount(ctx, &AccountRecord{Login: 1001, Equity: dec("600"), Margin: dec("500")}))
	f, err = client.FetchAccount(ctx, 1001)
	require.NoError(t, err)
	assert.True(t, f.Equity.Equal(dec("600")))

	_, err = client.FetchAccount(ctx, 404)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAccountNotFound))
	assert.False(t, account.IsConnectionError(err))
}

// go test -v --run TestFetchPositions
func TestFetchPositions(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.ReplacePositions(ctx, 1001, []PositionRecord{
		{Ticket: 12, Symbol: "GBPUSD", Side: 1, Volume: dec("0.5")},
		{Ticket: 11, Symbol: "EURUSD", Side: 0, Volume: dec("1"), Profit: dec("10")},
	}))
	require.NoError(t, client.ReplacePositions(ctx, 1002, []PositionRecord{
		{Ticket: 13, Symbol: "EURUSD", Side: 0, Volume: dec("3")},
	}))

	positions, err := client.FetchPositions(ctx, 1001)
	require.NoError(t, err)
	require.Len(t, positions, 2)
	assert.Equal(t, int64(11), positions[0].PositionID)
	assert.Equal(t, account.ID(1001), positions[0].AccountID)
	assert.True(t, positions[0].Volume.Equal(dec("1")))
	assert.True(t, positions[1].Volume.Equal(dec("-0.5")), "sell side is negative")

	// a replace with nothing closes every position
	require.NoError(t, client.ReplacePositions(ctx, 1001, nil))
	positions, err = client.FetchPositions(ctx, 1001)
	require.NoError(t, err)
	assert.Empty(t, positions)

	positions, err = client.FetchPositions(ctx, 1002)
	require.NoError(t, err)
	assert.Len(t, positions, 1)
}

// go test -v --run TestFetchTrades
func TestFetchTrades(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	now := time.Now()

	recent := &DealRecord{
		Ticket: 21, Login: 1001, Symbol: "EURUSD", Side: 1, Volume: dec("2"),
		TimeOpen: now.Add(-25 * time.Hour).Unix(), TimeClose: now.Add(-24 * time.Hour).Unix(), Profit: dec("-3.5"),
	}
	require.NoError(t, client.InsertDeal(ctx, recent))
	require.NoError(t, client.InsertDeal(ctx, &DealRecord{
		Ticket: 20, Login: 1001, Symbol: "EURUSD", Volume: dec("1"),
		TimeOpen: now.AddDate(0, 0, -41).Unix(), TimeClose: now.AddDate(0, 0, -40).Unix(),
	}))
	require.NoError(t, client.InsertDeal(ctx, &DealRecord{
		Ticket: 22, Login: 1002, Symbol: "XAUUSD", Volume: dec("1"),
		TimeOpen: now.Add(-2 * time.Hour).Unix(), TimeClose: now.Add(-time.Hour).Unix(),
	}))

	err := client.InsertDeal(ctx, recent)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate deal")

	trades, err := client.FetchTrades(ctx, 1001, 30)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, int64(21), trades[0].TradeID)
	assert.True(t, trades[0].Volume.Equal(dec("-2")))
	assert.True(t, trades[0].Profit.Equal(dec("-3.5")))
	assert.Equal(t, time.Unix(recent.TimeClose, 0).UTC(), trades[0].CloseTime)

	trades, err = client.FetchTrades(ctx, 1001, 60)
	require.NoError(t, err)
	assert.Len(t, trades, 2)
}

// go test -v --run TestAuthFailure
func TestAuthFailure(t *testing.T) {
	assert.True(t, account.IsConnectionError(wrap(&pq.Error{Code: "28P01"})))
	assert.True(t, account.IsConnectionError(wrap(fmt.Errorf("query: %w", &pq.Error{Code: "42501"}))))
	assert.False(t, account.IsConnectionError(wrap(&pq.Error{Code: "42P01"})))
	assert.False(t, account.IsConnectionError(wrap(errors.New("boom"))))
}
