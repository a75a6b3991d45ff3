// Package transport provides the rate-limited JSON-over-HTTP client shared by
// the REST connectors and the CoinGlass client. Every failure it returns is a
// *errors.ClassifiedError so callers can hand it straight to a Retrier.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	apperrors "github.com/johnayoung/go-derivs-collector/internal/errors"
)

const (
	// DefaultTimeout bounds a single request when Options.Timeout is zero.
	DefaultTimeout = 30 * time.Second
	// maxErrorBody is how much of a failed response body is kept in the error.
	maxErrorBody = 512
)

// Options configures a Client.
type Options struct {
	// Name identifies the upstream in errors and logs.
	Name       string
	BaseURL    string
	Timeout    time.Duration
	RateLimit  float64 // requests per second; zero disables limiting
	Burst      int
	Headers    map[string]string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client issues GET requests against one upstream and decodes JSON bodies.
// It is safe for concurrent use.
type Client struct {
	name    string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	headers http.Header
	logger  *slog.Logger
}

// New creates a Client from opts.
func New(opts Options) *Client {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	headers := make(http.Header, len(opts.Headers)+1)
	headers.Set("Accept", "application/json")
	for k, v := range opts.Headers {
		headers.Set(k, v)
	}

	return &Client{
		name:    opts.Name,
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		http:    httpClient,
		limiter: limiter,
		headers: headers,
		logger:  opts.Logger,
	}
}

// Name returns the upstream name.
func (c *Client) Name() string { return c.name }

// BaseURL returns the base URL without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// HTTPClient returns the underlying HTTP client so SDK-based connectors can
// share timeouts with it.
func (c *Client) HTTPClient() *http.Client { return c.http }

// Wait blocks until the rate limiter admits one request.
func (c *Client) Wait(ctx context.Context, operation string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return apperrors.New(apperrors.ErrorTypeCanceled, c.name, operation, ctx.Err())
		}
		return apperrors.New(apperrors.ErrorTypeRateLimit, c.name, operation, err)
	}
	return nil
}

// GetJSON waits for the limiter, issues GET baseURL+path?query and decodes
// the JSON body into out.
func (c *Client) GetJSON(ctx context.Context, operation, path string, query url.Values, out any) error {
	if err := c.Wait(ctx, operation); err != nil {
		return err
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return apperrors.New(apperrors.ErrorTypeBadRequest, c.name, operation, fmt.Errorf("build request: %w", err))
	}
	for k, vs := range c.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return c.classifyTransport(ctx, operation, err)
	}
	defer resp.Body.Close()

	c.logger.DebugContext(ctx, "upstream request completed",
		"upstream", c.name,
		"operation", operation,
		"status", resp.StatusCode,
		"duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return apperrors.FromStatus(resp.StatusCode, c.name, operation,
			fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if ctx.Err() != nil {
			return apperrors.New(apperrors.ErrorTypeCanceled, c.name, operation, ctx.Err())
		}
		return apperrors.New(apperrors.ErrorTypeExchange, c.name, operation, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// classifyTransport classifies an error returned by http.Client.Do.
func (c *Client) classifyTransport(ctx context.Context, operation string, err error) error {
	return ClassifyTransportError(ctx, c.name, operation, err)
}

// ClassifyTransportError maps a failed round trip onto the taxonomy: caller
// cancellation, timeouts, and everything else as an unavailable upstream.
func ClassifyTransportError(ctx context.Context, component, operation string, err error) *apperrors.ClassifiedError {
	if errors.Is(ctx.Err(), context.Canceled) {
		return apperrors.New(apperrors.ErrorTypeCanceled, component, operation, err)
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return apperrors.New(apperrors.ErrorTypeTimeout, component, operation, err)
	}
	return apperrors.New(apperrors.ErrorTypeExchangeUnavailable, component, operation, err)
}
