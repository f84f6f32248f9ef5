package network

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"trading-hub/src/config"
	"trading-hub/src/helpers"
	"trading-hub/src/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, retries int) *AsyncNetworkManager {
	t.Helper()
	cfg := config.Default().MConfig
	cfg.Network.MaxRetries = retries
	nm := NewAsyncNetworkManager(cfg, logger.NewLoggerWithWriter(cfg, "network", io.Discard))
	nm.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return nm
}

func TestGet_SendsParamsAndHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "5m", r.URL.Query().Get("interval"))
		assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))
		assert.Equal(t, "trading-hub/1.0", r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	nm := newTestManager(t, 0)
	body, err := nm.Get(context.Background(), srv.URL+"/chart", map[string]string{"interval": "5m"}, map[string]string{"X-Api-Key": "secret"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))
}

func TestGet_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("done"))
	}))
	defer srv.Close()

	nm := newTestManager(t, 3)
	body, err := nm.Get(context.Background(), srv.URL, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "done", string(body))
	assert.Equal(t, int32(3), calls.Load())
}

func TestGet_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	nm := newTestManager(t, 3)
	_, err := nm.Get(context.Background(), srv.URL, nil, nil)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())

	var netErr *helpers.NetworkError
	assert.True(t, errors.As(err, &netErr))
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
}

func TestGet_GivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	nm := newTestManager(t, 2)
	_, err := nm.Get(context.Background(), srv.URL, nil, nil)
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestSendJSON_EncodesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var got map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		assert.Equal(t, "AAPL", got["symbol"])
		_, _ = w.Write([]byte(`{"id":"order-1"}`))
	}))
	defer srv.Close()

	nm := newTestManager(t, 0)
	body, err := nm.SendJSON(context.Background(), http.MethodPost, srv.URL+"/orders", map[string]any{"symbol": "AAPL"}, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"order-1"}`, string(body))
}

func TestSendJSON_ReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "insufficient buying power", http.StatusForbidden)
	}))
	defer srv.Close()

	nm := newTestManager(t, 0)
	_, err := nm.SendJSON(context.Background(), http.MethodDelete, srv.URL+"/positions/AAPL", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient buying power")
}

func TestGet_BacksOffBetweenAttempts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	nm := newTestManager(t, 3)
	var delays []time.Duration
	nm.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	_, err := nm.Get(context.Background(), srv.URL, nil, nil)
	require.Error(t, err)
	assert.Equal(t, []time.Duration{retryBaseDelay, 2 * retryBaseDelay, 4 * retryBaseDelay}, delays)
}
