package connection

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/net/http2"
)

var _ RPC = (*HTTPClient)(nil)

// HTTPClient performs one-shot RPC over HTTP POST against the same /rpc
// endpoint. It serves environments where a persistent socket is unwanted;
// there are no live subscriptions, every call stands alone.
type HTTPClient struct {
	cfg    HTTPConfig
	logger *slog.Logger
	client *http.Client
	url    string

	reqID atomic.Int64
}

// HTTPConfig configures an HTTPClient.
type HTTPConfig struct {
	URL          string        // endpoint URL; ws(s) schemes are rewritten and /rpc appended
	Timeout      time.Duration // per-request timeout
	MaxRetries   int           // retries after the first attempt
	RetryBackoff time.Duration // base backoff, doubled per attempt with jitter
	HTTP2        bool          // force an HTTP/2 transport (TLS endpoints only)
}

// DefaultHTTPConfig returns sensible defaults for the given endpoint.
func DefaultHTTPConfig(url string) HTTPConfig {
	return HTTPConfig{
		URL:          url,
		Timeout:      30 * time.Second,
		MaxRetries:   3,
		RetryBackoff: 500 * time.Millisecond,
	}
}

// NewHTTPClient creates an HTTP RPC client. No connection is made until the
// first Send.
func NewHTTPClient(cfg HTTPConfig, logger *slog.Logger) (*HTTPClient, error) {
	if logger == nil {
		logger = slog.Default()
	}

	url, err := HTTPEndpoint(cfg.URL)
	if err != nil {
		return nil, err
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}

	client := &http.Client{Timeout: cfg.Timeout}
	if cfg.HTTP2 {
		client.Transport = &http2.Transport{
			TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
		}
	}

	return &HTTPClient{
		cfg:    cfg,
		logger: logger,
		client: client,
		url:    url,
	}, nil
}

// HTTPError is a transport-level failure of an HTTP RPC exchange.
type HTTPError struct {
	StatusCode int
	Body       []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("eddydb: http rpc status %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// IsRetryable returns true if the error should trigger a retry.
func (e *HTTPError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Send issues a single RPC over HTTP and returns the raw result payload.
// Server overload (5xx, 429) is retried with jittered exponential backoff.
func (h *HTTPClient) Send(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	if params == nil {
		params = []any{}
	}

	id := h.reqID.Add(1)
	frame, err := json.Marshal(request{ID: id, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", method, err)
	}

	body, err := h.doWithRetry(ctx, method, frame)
	if err != nil {
		return nil, err
	}

	var resp response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", method, err)
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Result, nil
}

// Close releases idle transport connections.
func (h *HTTPClient) Close() error {
	h.client.CloseIdleConnections()
	return nil
}

// doWithRetry posts a frame with exponential backoff retry.
func (h *HTTPClient) doWithRetry(ctx context.Context, method string, frame []byte) ([]byte, error) {
	var lastErr error
	backoff := h.cfg.RetryBackoff

	for attempt := 0; attempt <= h.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			// Add jitter: backoff * (0.5 to 1.5)
			jitter := backoff/2 + time.Duration(rand.Int64N(int64(backoff)))
			h.logger.Debug("retrying rpc",
				"attempt", attempt,
				"backoff", jitter,
				"method", method,
			)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(jitter):
			}

			backoff *= 2
		}

		body, err := h.post(ctx, frame)
		if err == nil {
			return body, nil
		}

		lastErr = err

		httpErr, ok := err.(*HTTPError)
		if !ok || !httpErr.IsRetryable() {
			return nil, err
		}
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// post performs one HTTP exchange.
func (h *HTTPClient) post(ctx context.Context, frame []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(frame))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Body:       body,
		}
	}

	return body, nil
}
