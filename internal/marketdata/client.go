// Package marketdata fetches Taiwan listed-company codes, daily price bars
// and institutional flow from public endpoints, and caches bars locally.
package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// ErrNoData is returned when a source answered but had nothing usable.
var ErrNoData = errors.New("marketdata: no data")

// UserAgent is sent with every request; the exchange endpoints reject
// requests without a browser-like agent.
const UserAgent = "Mozilla/5.0 (compatible; twstock-screener/1.0)"

// StatusError is a non-200 HTTP answer.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("marketdata: GET %s: status %d", e.URL, e.Code)
}

func (e *StatusError) retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// ClientConfig tunes the shared HTTP client.
type ClientConfig struct {
	Timeout time.Duration // per request, default 20s
	RPS     float64       // requests per second across all goroutines, default 4
	Burst   int           // default 1
	Retries int           // attempts per request, default 4
	Backoff time.Duration // linear backoff step, default 500ms
	Debug   bool
}

// Client is a polite, retrying HTTP GET client shared by every source.
// It is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	retries    int
	backoff    time.Duration
	debug      bool
}

// NewClient builds a Client, filling zero config fields with defaults.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 4
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 4
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 500 * time.Millisecond
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
		retries:    cfg.Retries,
		backoff:    cfg.Backoff,
		debug:      cfg.Debug,
	}
}

// Get fetches url and returns the body. Transport errors, 429 and 5xx
// answers are retried with linear backoff; other statuses fail at once.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= c.retries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		body, err := c.do(ctx, url)
		if err == nil {
			return body, nil
		}
		lastErr = err
		var se *StatusError
		if errors.As(err, &se) && !se.retryable() {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if c.debug {
			log.Printf("[marketdata] GET %s attempt %d/%d: %v", url, attempt, c.retries, err)
		}
		if attempt < c.retries {
			select {
			case <-time.After(time.Duration(attempt) * c.backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, lastErr
}

func (c *Client) do(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("marketdata: create request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "application/json, text/html;q=0.9")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("marketdata: GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{URL: url, Code: resp.StatusCode}
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("marketdata: read %s: %w", url, err)
	}
	return raw, nil
}

// GetJSON fetches url and decodes the JSON body into out.
func (c *Client) GetJSON(ctx context.Context, url string, out any) error {
	raw, err := c.Get(ctx, url)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("marketdata: couldn't parse JSON from %s: %w", url, err)
	}
	return nil
}
