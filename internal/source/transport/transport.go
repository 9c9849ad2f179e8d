// Package transport performs the HTTP round trip shared by every platform
// adapter and classifies failures into rate-limited, transient and fatal
// outcomes.
package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"catalog_sync/internal/domain"
)

// maxResponseSize caps how much of a response body is read (10MB).
const maxResponseSize = 10 * 1024 * 1024

const userAgent = "CatalogSync/1.0"

type Config struct {
	Timeout           time.Duration
	RequestsPerSecond float64
}

// Client is a paced HTTP client.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	now        func() time.Time
}

func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	limit := rate.Inf
	burst := 1
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
		burst = max(1, int(cfg.RequestsPerSecond))
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, burst),
		now:        time.Now,
	}
}

// Do executes req and returns the body of a 2xx response. Failures other than
// context cancellation are *domain.FetchError.
func (c *Client) Do(ctx context.Context, req *http.Request) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, domain.Transient(fmt.Errorf("wait for rate limiter: %w", err))
	}

	req = req.WithContext(ctx)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, domain.Transient(fmt.Errorf("execute request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, domain.Transient(fmt.Errorf("read response: %w", err))
	}

	if err := c.classifyStatus(resp); err != nil {
		return nil, err
	}

	return body, nil
}

func (c *Client) classifyStatus(resp *http.Response) error {
	code := resp.StatusCode
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests:
		return domain.RateLimited(
			ParseRetryAfter(resp.Header.Get("Retry-After"), c.now()),
			fmt.Errorf("unexpected status: %d", code),
		)
	case code == http.StatusRequestTimeout || code >= 500:
		return domain.Transient(fmt.Errorf("unexpected status: %d", code))
	default:
		return domain.Fatal(fmt.Errorf("unexpected status: %d", code))
	}
}

// ParseRetryAfter reads a Retry-After header given in seconds or as an HTTP
// date. Unparseable or past values yield zero.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// Malformed wraps a decode failure of a 2xx body.
func Malformed(err error) error {
	return domain.Fatal(fmt.Errorf("decode response: %w", err))
}
