package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aegistrace/aegistrace/internal/logging"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	ErrNotFound         = errors.New("indicator not found")
	ErrUnexpectedStatus = errors.New("unexpected status code")
	ErrDecode           = errors.New("malformed response")
)

const (
	DefaultTimeout   = 10 * time.Second
	DefaultUserAgent = "ThreatIntelPro/1.0 (+https://example.local)"
	maxResponseBytes = 4 << 20
)

// ClientOptions configure the HTTP plumbing shared by providers.
type ClientOptions struct {
	Timeout   time.Duration
	UserAgent string
	// RPS caps requests per second to one provider. Zero means unlimited.
	RPS   float64
	Burst int
	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
	Logger     *zap.SugaredLogger
}

// CallStats counts provider round trips.
type CallStats struct {
	Success      int64
	Error        int64
	LastActivity time.Time
}

// client performs rate-limited, timed JSON lookups against one provider.
type client struct {
	name       string
	baseURL    string
	timeout    time.Duration
	userAgent  string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.SugaredLogger

	mu    sync.RWMutex
	stats CallStats
}

func newClient(name, baseURL string, opts ClientOptions) *client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     30 * time.Second,
			},
		}
	}
	limit := rate.Inf
	if opts.RPS > 0 {
		limit = rate.Limit(opts.RPS)
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	return &client{
		name:       name,
		baseURL:    strings.TrimRight(baseURL, "/"),
		timeout:    opts.Timeout,
		userAgent:  opts.UserAgent,
		httpClient: opts.HTTPClient,
		limiter:    rate.NewLimiter(limit, opts.Burst),
		logger:     logging.OrNop(opts.Logger),
	}
}

// Stats returns a snapshot of the call counters.
func (c *client) Stats() CallStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

func (c *client) recordAPICall(success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if success {
		c.stats.Success++
	} else {
		c.stats.Error++
	}
	c.stats.LastActivity = time.Now()
}

// getJSON issues a GET under the per-call timeout and decodes a 200 body into
// out. A 404 yields ErrNotFound, any other non-200 ErrUnexpectedStatus, and
// an undecodable body ErrDecode.
func (c *client) getJSON(ctx context.Context, path string, header http.Header, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s rate limit wait: %w", c.name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("%s build request: %w", c.name, err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.recordAPICall(false)
		return fmt.Errorf("%s request: %w", c.name, err)
	}
	defer resp.Body.Close()
	c.recordAPICall(resp.StatusCode < 400)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s: %w", c.name, ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("%s: %w: %d", c.name, ErrUnexpectedStatus, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%s read body: %w", c.name, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: %w: %v", c.name, ErrDecode, err)
	}
	return nil
}
