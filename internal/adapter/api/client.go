// Package api is the HTTP client for the chat server: the bot and
// conversation directory plus the streaming send endpoint.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"chatline/internal/domain"
	"chatline/internal/infra/config"
	"chatline/internal/infra/tracer"
)

const (
	// maxResponseBody caps how much of a JSON response is read.
	maxResponseBody = 10 * 1024 * 1024
	// maxErrorBody caps how much of a failed response is kept as its message.
	maxErrorBody = 4096
)

// Client talks to the chat server. It implements domain.Directory and
// domain.StreamTransport and is safe for concurrent use.
type Client struct {
	baseURL        string
	token          string
	channel        string
	requestTimeout time.Duration

	http    *http.Client
	breaker *gobreaker.CircuitBreaker[*http.Response]
	limiter *rate.Limiter
	logger  *slog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the pooled HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New builds a Client from cfg. The HTTP client carries no overall timeout:
// directory calls are bounded by cfg.RequestTimeout and streams run until the
// server closes them or the caller cancels.
func New(cfg config.APIConfig, logger *slog.Logger, opts ...Option) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("%w: api base url %q", domain.ErrInvalidInput, cfg.BaseURL)
	}

	c := &Client{
		baseURL:        strings.TrimRight(base.String(), "/"),
		token:          cfg.Token,
		channel:        cfg.Channel,
		requestTimeout: cfg.RequestTimeout,
		http: &http.Client{
			Transport: NewPooledTransport(cfg.ConnTimeout, cfg.RespTimeout, cfg.Pool),
		},
		breaker: newBreaker("api:"+base.Host, cfg.Breaker, logger),
		logger:  logger,
	}
	if c.channel == "" {
		c.channel = "web"
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BreakerState reports the circuit breaker state for diagnostics.
func (c *Client) BreakerState() gobreaker.State {
	return c.breaker.State()
}

// do sends one request through the limiter and the circuit breaker. A
// non-2xx response is closed and returned as a *domain.TransportError whose
// message is the response text, or failFormat applied to the status code.
func (c *Client) do(ctx context.Context, method, path string, body any, accept, failFormat string) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", accept)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	start := time.Now()
	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("http request: %w", ctx.Err())
			}
			return nil, &domain.TransportError{
				Message: err.Error(),
				Err:     fmt.Errorf("%w: %w", domain.ErrUnavailable, err),
			}
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			defer resp.Body.Close()
			text, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			return nil, mapHTTPError(resp.StatusCode, text, failFormat)
		}
		return resp, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = &domain.TransportError{
			Message: fmt.Sprintf("chat server unavailable (%s)", err),
			Err:     fmt.Errorf("%w: %w", domain.ErrUnavailable, err),
		}
	}

	c.logger.Debug("api request",
		"method", method,
		"path", path,
		"status", statusOf(resp, err),
		"duration", time.Since(start),
	)
	return resp, err
}

// doJSON performs a directory request bounded by the request timeout and
// decodes the response into out when out is non-nil.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) (err error) {
	ctx, span := tracer.StartSpan(ctx, "api.request", trace.WithAttributes(
		tracer.StringAttr("http.method", method),
		tracer.StringAttr("http.path", path),
	))
	defer func() { tracer.Finish(span, err) }()

	if c.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
	}

	resp, err := c.do(ctx, method, path, body, "application/json", "Request failed: %d")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	span.SetAttributes(tracer.IntAttr("http.status", resp.StatusCode))

	if out == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBody))
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBody)).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// mapHTTPError maps a failed response to a *domain.TransportError carrying a
// category sentinel for 401/403, 404, 429 and 5xx.
func mapHTTPError(status int, body []byte, failFormat string) *domain.TransportError {
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = fmt.Sprintf(failFormat, status)
	}

	te := &domain.TransportError{Status: status, Message: msg}
	switch {
	case status == http.StatusTooManyRequests:
		te.Err = domain.ErrRateLimit
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		te.Err = domain.ErrAuthInvalid
	case status == http.StatusNotFound:
		te.Err = domain.ErrNotFound
	case status >= 500:
		te.Err = domain.ErrUnavailable
	}
	return te
}

func statusOf(resp *http.Response, err error) int {
	if resp != nil {
		return resp.StatusCode
	}
	var te *domain.TransportError
	if errors.As(err, &te) {
		return te.Status
	}
	return 0
}

// Compile-time interface checks.
var (
	_ domain.Directory       = (*Client)(nil)
	_ domain.StreamTransport = (*Client)(nil)
)
