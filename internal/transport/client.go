package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"daymark/internal/metrics"
	"daymark/internal/models"

	"github.com/rs/zerolog"
)

// Config holds the client's retry and timeout policy. All values are
// configuration, not per-call-site constants.
type Config struct {
	BaseURL string
	// Timeout bounds a single attempt unless overridden per call.
	Timeout time.Duration
	// MaxAttempts is the total number of attempts, first try included.
	MaxAttempts int
	// RetryDelay is the fixed wait between attempts.
	RetryDelay time.Duration
}

// Client is a retrying JSON HTTP client for the daymark API. It holds no
// per-call state; concurrent Send calls are independent.
type Client struct {
	cfg    Config
	http   *http.Client
	logger zerolog.Logger
}

func NewClient(cfg Config, logger *zerolog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = models.DefaultRequestTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	log := zerolog.Nop()
	if logger != nil {
		log = logger.With().Str("component", "transport").Logger()
	}

	return &Client{
		cfg:    cfg,
		http:   &http.Client{},
		logger: log,
	}
}

type callOptions struct {
	timeout time.Duration
}

// Option adjusts a single Send call.
type Option func(*callOptions)

// WithTimeout overrides the per-attempt timeout, e.g. shorter for
// latency-sensitive classification calls.
func WithTimeout(d time.Duration) Option {
	return func(o *callOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// Send issues method+path against the API, encoding body and decoding into
// out when provided. Retryable failures are retried with a fixed delay up
// to MaxAttempts; a retry that succeeds is indistinguishable from a
// first-try success. Send never persists anything.
func (c *Client) Send(ctx context.Context, method, path string, body, out any, opts ...Option) error {
	options := callOptions{timeout: c.cfg.Timeout}
	for _, opt := range opts {
		opt(&options)
	}

	var payload []byte
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return newError(KindInvalidInput, 0, "encode request body", err)
		}
		payload = encoded
	}

	url := c.cfg.BaseURL + path

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			metrics.IncTransportRetry()
			timer := time.NewTimer(c.cfg.RetryDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return wrapNetErr(ctx.Err())
			case <-timer.C:
			}
		}

		err := c.do(ctx, method, url, payload, out, options.timeout)
		if err == nil {
			return nil
		}
		lastErr = err

		if IsTerminal(err) {
			return err
		}
		c.logger.Debug().Err(err).Str("method", method).Str("path", path).
			Int("attempt", attempt).Msg("retryable failure")
	}

	return lastErr
}

func (c *Client) do(ctx context.Context, method, url string, payload []byte, out any, timeout time.Duration) error {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(callCtx, method, url, reader)
	if err != nil {
		return newError(KindInvalidInput, 0, fmt.Sprintf("build request for %s", url), err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// A cancelled parent beats the per-attempt deadline.
		if ctx.Err() == context.Canceled {
			return newError(KindCancelled, 0, "request cancelled", ctx.Err())
		}
		return wrapNetErr(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return wrapNetErr(err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		// An empty body on success is valid (fire-and-forget deletes).
		if out != nil && len(bytes.TrimSpace(respBody)) > 0 {
			if err := json.Unmarshal(respBody, out); err != nil {
				return newError(KindDecoding, resp.StatusCode, "decode response body", err)
			}
		}
		return nil
	}

	return newError(classifyStatus(resp.StatusCode), resp.StatusCode, snippet(respBody), nil)
}

// snippet keeps error messages readable when the server returns a page.
func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
