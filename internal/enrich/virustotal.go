package enrich

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/aegistrace/aegistrace/internal/intel"
)

const (
	VirusTotalName        = "VirusTotal"
	DefaultVirusTotalBase = "https://www.virustotal.com"
	vtTokenPrefix         = "VT"
)

// VirusTotal reports detection counts for file hashes. It needs an API key.
type VirusTotal struct {
	apiKey string
	c      *client
}

// NewVirusTotal returns the provider. An empty baseURL uses the public API.
func NewVirusTotal(baseURL, apiKey string, opts ClientOptions) *VirusTotal {
	if baseURL == "" {
		baseURL = DefaultVirusTotalBase
	}
	return &VirusTotal{
		apiKey: strings.TrimSpace(apiKey),
		c:      newClient(VirusTotalName, baseURL, opts),
	}
}

func (p *VirusTotal) Name() string { return VirusTotalName }

func (p *VirusTotal) Supports(kind intel.Kind) bool { return kind == intel.KindHash }

type vtFileResponse struct {
	Data struct {
		Attributes struct {
			LastAnalysisStats struct {
				Malicious  int `json:"malicious"`
				Suspicious int `json:"suspicious"`
			} `json:"last_analysis_stats"`
		} `json:"attributes"`
	} `json:"data"`
}

func (p *VirusTotal) Lookup(ctx context.Context, ind intel.Indicator) Partial {
	if p.apiKey == "" {
		return Partial{Provider: VirusTotalName, Token: token(vtTokenPrefix, verdictMissingKey)}
	}

	var resp vtFileResponse
	path := "/api/v3/files/" + url.PathEscape(ind.Value)
	if err := p.c.getJSON(ctx, path, http.Header{"x-apikey": {p.apiKey}}, &resp); err != nil {
		return failure(VirusTotalName, vtTokenPrefix, err, true)
	}

	stats := resp.Data.Attributes.LastAnalysisStats
	return Partial{
		Provider:   VirusTotalName,
		Token:      fmt.Sprintf("%s:m=%d,s=%d", vtTokenPrefix, stats.Malicious, stats.Suspicious),
		Active:     intel.ActiveUnknown,
		DetailsURL: intel.StringPtr("https://www.virustotal.com/gui/file/" + ind.Value),
	}
}
