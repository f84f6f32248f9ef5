package brokerage

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"trading-hub/src/config"
	"trading-hub/src/helpers"
	"trading-hub/src/logger"
	"trading-hub/src/models"
	"trading-hub/src/network"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSource(t *testing.T, handler http.Handler) *BrokerageSource {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.Default().MConfig
	cfg.Brokerage.BaseURL = srv.URL
	cfg.Brokerage.APIKey = "key"
	cfg.Brokerage.APISecret = "secret"
	log := logger.NewLoggerWithWriter(cfg, "brokerage", io.Discard)

	b := NewBrokerageSource(cfg, network.NewAsyncNetworkManager(cfg, log), log)
	b.now = func() time.Time { return time.UnixMilli(42) }
	return b
}

func TestFetchPortfolioSnapshot(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/account", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.Header.Get("APCA-API-KEY-ID"))
		assert.Equal(t, "secret", r.Header.Get("APCA-API-SECRET-KEY"))
		_, _ = w.Write([]byte(`{"equity":"100250.50","last_equity":"100000","cash":"25000","buying_power":"50000"}`))
	})
	mux.HandleFunc("/v2/positions", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"symbol":"AAPL","qty":"10","avg_entry_price":"190","current_price":"200","market_value":"2000","unrealized_pl":"100"}]`))
	})
	b := newTestSource(t, mux)

	snap, err := b.FetchPortfolioSnapshot(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 100250.50, snap.TotalValue)
	assert.Equal(t, 25000.0, snap.Cash)
	assert.Equal(t, 50000.0, snap.BuyingPower)
	assert.InDelta(t, 250.50, snap.DayChange, 1e-9)
	assert.Equal(t, int64(42), snap.FetchedAt)
	require.Len(t, snap.Positions, 1)
	assert.Equal(t, models.MPosition{
		Symbol: "AAPL", Quantity: 10, AvgEntryPrice: 190, CurrentPrice: 200, MarketValue: 2000, UnrealizedPL: 100,
	}, snap.Positions[0])
}

func TestFetchPortfolioSnapshot_Unavailable(t *testing.T) {
	b := newTestSource(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))

	_, err := b.FetchPortfolioSnapshot(context.Background())
	require.Error(t, err)
	var collabErr *helpers.CollaboratorError
	assert.True(t, errors.As(err, &collabErr))
}

func TestExecuteAction_Buy(t *testing.T) {
	var got orderRequest
	b := newTestSource(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/orders", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"id":"ord-1","status":"accepted"}`))
	}))

	res, err := b.ExecuteAction(context.Background(), models.MActionRequest{
		ActionID: "a-1", Action: "buy", Symbol: "aapl", Quantity: 5,
		Params: map[string]any{"limit_price": 199.5},
	})
	require.NoError(t, err)

	assert.True(t, res.Executed)
	assert.Equal(t, "ord-1", res.OrderID)
	assert.Equal(t, orderRequest{
		Symbol: "AAPL", Qty: "5", Side: "buy", Type: "limit", TimeInForce: "day", LimitPrice: "199.5", ClientID: "a-1",
	}, got)
}

func TestExecuteAction_Close(t *testing.T) {
	b := newTestSource(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/v2/positions/TSLA", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":"ord-9","status":"accepted"}`))
	}))

	res, err := b.ExecuteAction(context.Background(), models.MActionRequest{Action: "close", Symbol: "TSLA"})
	require.NoError(t, err)
	assert.True(t, res.Executed)
	assert.Equal(t, "ord-9", res.OrderID)
}

func TestExecuteAction_Invalid(t *testing.T) {
	b := newTestSource(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
	}))

	cases := []models.MActionRequest{
		{Action: "buy", Quantity: 1},
		{Action: "sell", Symbol: "AAPL"},
		{Action: "close"},
		{Action: "cancel"},
		{Action: "teleport"},
	}
	for _, req := range cases {
		_, err := b.ExecuteAction(context.Background(), req)
		var actionErr *helpers.ActionError
		assert.True(t, errors.As(err, &actionErr), "action %q", req.Action)
	}

	res, err := b.ExecuteAction(context.Background(), models.MActionRequest{Action: "hold"})
	require.NoError(t, err)
	assert.False(t, res.Executed)
}

func TestExecuteAction_Rejected(t *testing.T) {
	b := newTestSource(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"insufficient buying power"}`, http.StatusForbidden)
	}))

	_, err := b.ExecuteAction(context.Background(), models.MActionRequest{Action: "sell", Symbol: "AAPL", Quantity: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient buying power")
}
