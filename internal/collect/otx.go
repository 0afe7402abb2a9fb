package collect

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aegistrace/aegistrace/internal/intel"
)

const (
	OTXName        = "OTX"
	DefaultOTXBase = "https://otx.alienvault.com"

	// otxPlaceholderKey is the sample value shipped in example configs.
	otxPlaceholderKey = "your_otx_key_here"
	otxPulseLimit     = 10
	otxDefaultTitle   = "Unknown Threat"
)

var otxTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
}

// OTXSource reads subscribed pulses from an AlienVault OTX style API.
type OTXSource struct {
	baseURL string
	apiKey  string
	f       fetcher
}

// NewOTXSource returns an OTX adapter. An empty baseURL uses the public API.
func NewOTXSource(baseURL, apiKey string, opts Options) *OTXSource {
	if baseURL == "" {
		baseURL = DefaultOTXBase
	}
	return &OTXSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  strings.TrimSpace(apiKey),
		f:       newFetcher(opts),
	}
}

func (s *OTXSource) Name() string { return OTXName }

type otxResponse struct {
	Results []otxPulse `json:"results"`
}

type otxPulse struct {
	Name        *string  `json:"name"`
	Description string   `json:"description"`
	References  []string `json:"references"`
	Industries  []string `json:"industries"`
	Created     string   `json:"created"`
}

func (s *OTXSource) Collect(ctx context.Context) []intel.ThreatRecord {
	if s.apiKey == "" || s.apiKey == otxPlaceholderKey {
		s.f.fail(OTXName, "missing_key", ErrMissingKey)
		return nil
	}

	url := fmt.Sprintf("%s/api/v1/pulses/subscribed?limit=%d", s.baseURL, otxPulseLimit)
	body, err := s.f.get(ctx, url, http.Header{"X-OTX-API-KEY": {s.apiKey}})
	if err != nil {
		s.f.fail(OTXName, failReason(err), err)
		return nil
	}

	var resp otxResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		s.f.fail(OTXName, "parse", fmt.Errorf("decode pulses: %w", err))
		return nil
	}

	records := make([]intel.ThreatRecord, 0, len(resp.Results))
	for _, p := range resp.Results {
		title := otxDefaultTitle
		if p.Name != nil {
			title = *p.Name
		}
		records = append(records, intel.ThreatRecord{
			Title:     title,
			Summary:   truncate(p.Description, summaryWidth),
			URL:       firstOr(p.References, intel.URLPlaceholder),
			Sector:    firstOr(p.Industries, intel.DefaultSector),
			Timestamp: s.parseCreated(p.Created),
			Source:    OTXName,
		})
	}

	s.f.logger().Debugw("Collected OTX pulses", "count", len(records))
	return countRecords(OTXName, records)
}

func (s *OTXSource) parseCreated(v string) time.Time {
	v = strings.TrimSpace(v)
	if v != "" {
		for _, layout := range otxTimeLayouts {
			if ts, err := time.Parse(layout, v); err == nil {
				return ts
			}
		}
	}
	return s.f.now()
}
