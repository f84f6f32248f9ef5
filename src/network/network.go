package network

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"trading-hub/src/helpers"
	"trading-hub/src/logger"
	"trading-hub/src/models"
)

const (
	retryBaseDelay  = 500 * time.Millisecond
	maxResponseSize = 8 << 20
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("bad status: %d", e.StatusCode)
	}
	return fmt.Sprintf("bad status: %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether repeating the request might succeed.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// -----------------------------------------------------------------------------

type AsyncNetworkManager struct {
	Config *models.MConfig
	Client *http.Client
	Logger *logger.Logger

	// sleep is swapped in tests to skip the backoff waits
	sleep func(ctx context.Context, d time.Duration) error
}

// -----------------------------------------------------------------------------

func NewAsyncNetworkManager(cfg *models.MConfig, log *logger.Logger) *AsyncNetworkManager {
	return &AsyncNetworkManager{
		Config: cfg,
		Client: &http.Client{
			Timeout: time.Duration(cfg.Network.RequestTimeout) * time.Second,
		},
		Logger: log,
		sleep:  helpers.SleepContext,
	}
}

// -----------------------------------------------------------------------------

// Get performs a GET request, retrying transport failures, 429 and 5xx
// responses with exponential backoff.
func (nm *AsyncNetworkManager) Get(ctx context.Context, urlStr string, params map[string]string, headers map[string]string) ([]byte, error) {
	reqURL, err := url.Parse(urlStr)
	if err != nil {
		return nil, helpers.NewNetworkError("invalid url "+urlStr, err)
	}

	q := reqURL.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	reqURL.RawQuery = q.Encode()
	finalURL := reqURL.String()

	var body []byte
	err = helpers.RetryWithBackoff(ctx, "GET "+reqURL.Host+reqURL.Path, helpers.RetryOptions{
		Attempts:  nm.Config.Network.MaxRetries + 1,
		BaseDelay: retryBaseDelay,
		Logger:    nm.Logger,
		Retryable: retryable,
		Sleep:     nm.sleep,
	}, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, finalURL, nil)
		if err != nil {
			return err
		}
		nm.applyHeaders(req, headers)

		body, err = nm.do(req)
		return err
	})
	if err != nil {
		return nil, helpers.NewNetworkError(fmt.Sprintf("GET %s failed", reqURL.Path), err)
	}
	return body, nil
}

// -----------------------------------------------------------------------------

// SendJSON issues a single request with a JSON body.
func (nm *AsyncNetworkManager) SendJSON(ctx context.Context, method string, urlStr string, body any, headers map[string]string) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, helpers.NewNetworkError("failed to encode request body", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, urlStr, reader)
	if err != nil {
		return nil, helpers.NewNetworkError("failed to build request", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	nm.applyHeaders(req, headers)

	resp, err := nm.do(req)
	if err != nil {
		return nil, helpers.NewNetworkError(fmt.Sprintf("%s %s failed", method, req.URL.Path), err)
	}
	return resp, nil
}

// -----------------------------------------------------------------------------

func (nm *AsyncNetworkManager) applyHeaders(req *http.Request, headers map[string]string) {
	req.Header.Set("User-Agent", nm.Config.Network.UserAgent)
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
}

// -----------------------------------------------------------------------------

func (nm *AsyncNetworkManager) do(req *http.Request) ([]byte, error) {
	resp, err := nm.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := string(body)
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: snippet}
	}

	return body, nil
}

// -----------------------------------------------------------------------------

// retryable repeats transport failures, 429 and 5xx responses.
func retryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return true
}
