// Package collect turns threat feeds into intel.ThreatRecord values.
//
// Every Source reports failures by logging and counting them; Collect never
// returns an error and never panics into its caller.
package collect

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/aegistrace/aegistrace/internal/intel"
	"github.com/aegistrace/aegistrace/internal/logging"
	"github.com/aegistrace/aegistrace/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Source produces threat records from one feed.
type Source interface {
	Name() string
	Collect(ctx context.Context) []intel.ThreatRecord
}

// Fanout is implemented by sources made of independent sub-feeds. The
// collector schedules each task separately.
type Fanout interface {
	Tasks() []Source
}

var (
	ErrMissingKey       = errors.New("api key not configured")
	ErrUnexpectedStatus = errors.New("unexpected status code")
)

const (
	// DefaultHTTPTimeout bounds each feed request.
	DefaultHTTPTimeout = 10 * time.Second
	// DefaultUserAgent is sent on every feed request.
	DefaultUserAgent = "ThreatIntelPro/1.0 (+https://example.local)"

	summaryWidth = 200
	ellipsis     = "..."
	maxBodyBytes = 32 << 20
)

// Options are shared by every adapter.
type Options struct {
	HTTPTimeout time.Duration
	UserAgent   string
	// Client overrides the HTTP client, mainly for tests.
	Client *http.Client
	// Limiter paces requests across adapters. Nil means unlimited.
	Limiter *rate.Limiter
	// Now is the clock used for backfilled timestamps.
	Now    func() time.Time
	Logger *zap.SugaredLogger
}

func (o Options) withDefaults() Options {
	if o.HTTPTimeout <= 0 {
		o.HTTPTimeout = DefaultHTTPTimeout
	}
	if o.UserAgent == "" {
		o.UserAgent = DefaultUserAgent
	}
	if o.Client == nil {
		o.Client = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     30 * time.Second,
			},
		}
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	o.Logger = logging.OrNop(o.Logger)
	return o
}

// fetcher performs the single HTTP round trip each adapter needs.
type fetcher struct {
	opts Options
}

func newFetcher(opts Options) fetcher {
	return fetcher{opts: opts.withDefaults()}
}

func (f fetcher) logger() *zap.SugaredLogger { return f.opts.Logger }

func (f fetcher) now() time.Time { return f.opts.Now() }

// fetch runs req under its own timeout and returns the body of a 200 response.
func (f fetcher) fetch(ctx context.Context, req *http.Request) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, f.opts.HTTPTimeout)
	defer cancel()

	if f.opts.Limiter != nil {
		if err := f.opts.Limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	req = req.WithContext(ctx)
	req.Header.Set("User-Agent", f.opts.UserAgent)

	resp, err := f.opts.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", req.URL.Redacted(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %d from %s", ErrUnexpectedStatus, resp.StatusCode, req.URL.Redacted())
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body from %s: %w", req.URL.Redacted(), err)
	}
	return body, nil
}

// get is fetch for a plain GET.
func (f fetcher) get(ctx context.Context, url string, header http.Header) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	return f.fetch(ctx, req)
}

// fail logs and counts a source failure.
func (f fetcher) fail(source, reason string, err error) {
	metrics.SourceFailures.WithLabelValues(source, reason).Inc()
	f.logger().Warnw("Source fetch failed", "source", source, "reason", reason, "error", err)
}

// failReason classifies a fetch error for the failures counter.
func failReason(err error) string {
	switch {
	case errors.Is(err, ErrUnexpectedStatus):
		return "status"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "transport"
	}
}

// truncate keeps the first n runes of s and appends the ellipsis marker.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) > n {
		runes := []rune(s)
		s = string(runes[:n])
	}
	return s + ellipsis
}

func firstOr(values []string, fallback string) string {
	if len(values) > 0 && values[0] != "" {
		return values[0]
	}
	return fallback
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func countRecords(source string, records []intel.ThreatRecord) []intel.ThreatRecord {
	metrics.SourceRecords.WithLabelValues(source).Add(float64(len(records)))
	return records
}
