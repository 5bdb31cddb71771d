// Package api implements the DataSnap cloud HTTP client: authentication,
// schema listing, upload token generation, upload completion confirmation,
// and the telemetry event endpoint. Transient failures (429 and 5xx) are
// retried with exponential backoff; everything else fails fast with a
// classified error.
package api

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DefaultBaseURL is the production API endpoint, overridable via config or
// the DATASNAP_API_BASE_URL environment variable.
const DefaultBaseURL = "https://api.datasnap.cloud"

// maxRetries is the transport-level retry budget. The uploader layers its
// own retry loop on top, so one transport retry is enough here.
const maxRetries = 1

// Client is the DataSnap API client. Safe for concurrent use.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger

	// backoffBase is the initial retry interval, shortened in tests.
	backoffBase time.Duration
}

// Options configures a Client.
type Options struct {
	BaseURL string
	APIKey  string

	// Timeout bounds one whole request/response exchange; ConnectTimeout
	// bounds only the TCP dial.
	Timeout        time.Duration
	ConnectTimeout time.Duration

	InsecureSkipVerify bool
	Logger             *slog.Logger
}

// NewTransport clones the default transport, bounding the connection dial
// when connectTimeout is set. TLS verification stays on unless explicitly
// disabled for self-hosted test endpoints.
func NewTransport(connectTimeout time.Duration, insecureSkipVerify bool) *http.Transport {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	if connectTimeout > 0 {
		dialer := &net.Dialer{Timeout: connectTimeout, KeepAlive: 30 * time.Second}
		transport.DialContext = dialer.DialContext
	}

	if insecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // explicit operator opt-out
	}

	return transport
}

// NewClient builds a client.
func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}

	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Client{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		apiKey:      opts.APIKey,
		httpClient:  &http.Client{Timeout: opts.Timeout, Transport: NewTransport(opts.ConnectTimeout, opts.InsecureSkipVerify)},
		logger:      opts.Logger,
		backoffBase: 100 * time.Millisecond,
	}
}

// BaseURL returns the resolved API base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// doJSON performs one authenticated JSON request with retries, decoding the
// response body into out (when out is non-nil). Each endpoint decodes the
// shape its contract documents; there is no shared response wrapper.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var payload []byte

	if body != nil {
		var err error

		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("api: encoding request body: %w", err)
		}
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(c.backoffBase),
			backoff.WithMaxElapsedTime(0),
		), maxRetries),
		ctx,
	)

	attempt := 0

	return backoff.Retry(func() error {
		attempt++

		err := c.doOnce(ctx, method, path, payload, out)
		if err == nil {
			return nil
		}

		var apiErr *APIError
		if errors.As(err, &apiErr) && !retryableStatus(apiErr.StatusCode) {
			return backoff.Permanent(err)
		}

		c.logger.Warn("api request failed, retrying",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)

		return err
	}, policy)
}

func (c *Client) doOnce(ctx context.Context, method, path string, payload []byte, out any) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("api: building request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("api: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("api: reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{
			StatusCode: resp.StatusCode,
			RequestID:  resp.Header.Get("X-Request-Id"),
			Message:    serverMessage(data),
			Err:        classifyStatus(resp.StatusCode),
		}
	}

	if out == nil || len(data) == 0 {
		return nil
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("api: decoding response from %s: %w", path, err)
	}

	return nil
}

func serverMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}

	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}

		if payload.Error != "" {
			return payload.Error
		}
	}

	const max = 200

	s := strings.TrimSpace(string(body))
	if len(s) > max {
		s = s[:max]
	}

	return s
}
