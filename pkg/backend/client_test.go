package backend

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"acctmonitor/internal/account"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "secret"

func newGateway(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/ping", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{},"time":1}`))
	})
	mux.HandleFunc("/v1/accounts/1001", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{
			"login":1001,"balance":"1000","equity":"400.5","margin":500,"marginFree":"-99.5",
			"profit":"-12.25","currency":"USD","group":"real\\std","leverage":100}}`))
	})
	mux.HandleFunc("/v1/accounts/1001/positions", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"list":[
			{"ticket":11,"symbol":"EURUSD","side":0,"volume":"1.0","priceOpen":"1.1","priceCurrent":"1.2","profit":"10"},
			{"ticket":12,"symbol":"GBPUSD","side":1,"volume":"0.5","priceOpen":"1.3","priceCurrent":"1.25","profit":"2"}]}}`))
	})
	mux.HandleFunc("/v1/accounts/1001/deals", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("from") == "" || r.URL.Query().Get("to") == "" {
			http.Error(w, "missing range", http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"list":[
			{"ticket":21,"symbol":"EURUSD","side":1,"volume":"2","timeOpen":1700000000,"timeClose":1700003600,"profit":"-3.5"}]}}`))
	})
	mux.HandleFunc("/v1/accounts/404", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"retCode":10004,"retMsg":"account not found","result":null}`))
	})

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+testToken {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		mux.ServeHTTP(w, r)
	}))
}

// go test -v --run TestConnect
func TestConnect(t *testing.T) {
	ts := newGateway(t)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, NewClient(Config{BaseURL: ts.URL + "/", Token: testToken}).Connect(ctx))

	err := NewClient(Config{BaseURL: ts.URL, Token: "wrong"}).Connect(ctx)
	require.Error(t, err)
	assert.True(t, account.IsConnectionError(err))

	err = NewClient(Config{BaseURL: "http://127.0.0.1:1", Timeout: time.Second}).Connect(ctx)
	assert.True(t, account.IsConnectionError(err))
}

// go test -v --run TestFetchAccount
func TestFetchAccount(t *testing.T) {
	ts := newGateway(t)
	defer ts.Close()
	c := NewClient(Config{BaseURL: ts.URL, Token: testToken, RateLimit: 100, Burst: 10})

	f, err := c.FetchAccount(context.Background(), 1001)
	require.NoError(t, err)
	assert.True(t, f.Equity.Equal(decimal.RequireFromString("400.5")))
	assert.True(t, f.Margin.Equal(decimal.NewFromInt(500)))
	assert.Equal(t, `real\std`, f.Group)
	assert.Equal(t, 100, f.Leverage)

	_, err = c.FetchAccount(context.Background(), 404)
	require.Error(t, err)
	assert.False(t, account.IsConnectionError(err))
	assert.Contains(t, err.Error(), "account not found")

	_, err = NewClient(Config{BaseURL: ts.URL}).FetchAccount(context.Background(), 1001)
	assert.True(t, account.IsConnectionError(err))
}

// go test -v --run TestFetchPositions
func TestFetchPositions(t *testing.T) {
	ts := newGateway(t)
	defer ts.Close()
	c := NewClient(Config{BaseURL: ts.URL, Token: testToken})

	positions, err := c.FetchPositions(context.Background(), 1001)
	require.NoError(t, err)
	require.Len(t, positions, 2)
	assert.Equal(t, account.ID(1001), positions[0].AccountID)
	assert.True(t, positions[0].Volume.Equal(decimal.NewFromInt(1)))
	assert.True(t, positions[1].Volume.Equal(decimal.RequireFromString("-0.5")), "sell side is negative")
	assert.Equal(t, int64(12), positions[1].PositionID)
}

// go test -v --run TestFetchTrades
func TestFetchTrades(t *testing.T) {
	ts := newGateway(t)
	defer ts.Close()
	c := NewClient(Config{BaseURL: ts.URL, Token: testToken})

	trades, err := c.FetchTrades(context.Background(), 1001, 30)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, int64(21), trades[0].TradeID)
	assert.True(t, trades[0].Volume.Equal(decimal.NewFromInt(-2)))
	assert.Equal(t, time.Unix(1700003600, 0).UTC(), trades[0].CloseTime)
}

// go test -v --run TestRateLimitHonoursContext
func TestRateLimitHonoursContext(t *testing.T) {
	ts := newGateway(t)
	defer ts.Close()
	c := NewClient(Config{BaseURL: ts.URL, Token: testToken, RateLimit: 0.001, Burst: 1})

	_, err := c.FetchAccount(context.Background(), 1001)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.FetchAccount(ctx, 1001)
	require.Error(t, err)
	var ae *apiError
	assert.False(t, errors.As(err, &ae))
}
