package collect

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/aegistrace/aegistrace/internal/intel"
)

const (
	BazaarName       = "MalwareBazaar"
	DefaultBazaarURL = "https://mb-api.abuse.ch/api/v1/"
	bazaarLimit      = 10
)

// BazaarSource reads recent sample metadata from the MalwareBazaar API.
type BazaarSource struct {
	url string
	f   fetcher
}

// NewBazaarSource returns a MalwareBazaar adapter. An empty url uses the public API.
func NewBazaarSource(url string, opts Options) *BazaarSource {
	if url == "" {
		url = DefaultBazaarURL
	}
	return &BazaarSource{url: url, f: newFetcher(opts)}
}

func (s *BazaarSource) Name() string { return BazaarName }

type bazaarResponse struct {
	QueryStatus string         `json:"query_status"`
	Data        []bazaarSample `json:"data"`
}

type bazaarSample struct {
	SHA256    string `json:"sha256_hash"`
	FileType  string `json:"file_type"`
	FirstSeen string `json:"first_seen"`
}

func (s *BazaarSource) Collect(ctx context.Context) []intel.ThreatRecord {
	form := url.Values{"query": {"get_recent"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, strings.NewReader(form.Encode()))
	if err != nil {
		s.f.fail(BazaarName, "transport", fmt.Errorf("build request: %w", err))
		return nil
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, err := s.f.fetch(ctx, req)
	if err != nil {
		s.f.fail(BazaarName, failReason(err), err)
		return nil
	}

	var resp bazaarResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		s.f.fail(BazaarName, "parse", fmt.Errorf("decode samples: %w", err))
		return nil
	}

	samples := resp.Data
	if len(samples) > bazaarLimit {
		samples = samples[:bazaarLimit]
	}

	records := make([]intel.ThreatRecord, 0, len(samples))
	for _, smp := range samples {
		ts, ok := parseAbuseTime(smp.FirstSeen)
		if !ok {
			continue
		}
		records = append(records, intel.ThreatRecord{
			Title:     "MalwareBazaar: " + smp.FileType,
			Summary:   fmt.Sprintf("Malware sample %s (%s)", smp.SHA256, smp.FileType),
			URL:       intel.URLPlaceholder,
			Sector:    intel.UnknownSector,
			Timestamp: ts,
			Source:    BazaarName,
		})
	}

	s.f.logger().Debugw("Collected MalwareBazaar samples", "count", len(records))
	return countRecords(BazaarName, records)
}
