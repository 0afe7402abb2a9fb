package enrich

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/aegistrace/aegistrace/internal/intel"
)

const (
	AbuseIPDBName        = "AbuseIPDB"
	DefaultAbuseIPDBBase = "https://api.abuseipdb.com"
	abuseIPDBMaxAgeDays  = 90
)

// AbuseIPDB scores IPv4 addresses. It needs an API key.
type AbuseIPDB struct {
	apiKey string
	c      *client
}

// NewAbuseIPDB returns the provider. An empty baseURL uses the public API.
func NewAbuseIPDB(baseURL, apiKey string, opts ClientOptions) *AbuseIPDB {
	if baseURL == "" {
		baseURL = DefaultAbuseIPDBBase
	}
	return &AbuseIPDB{
		apiKey: strings.TrimSpace(apiKey),
		c:      newClient(AbuseIPDBName, baseURL, opts),
	}
}

func (p *AbuseIPDB) Name() string { return AbuseIPDBName }

func (p *AbuseIPDB) Supports(kind intel.Kind) bool { return kind == intel.KindIP }

type abuseIPDBResponse struct {
	Data struct {
		AbuseConfidenceScore *float64 `json:"abuseConfidenceScore"`
		CountryCode          *string  `json:"countryCode"`
	} `json:"data"`
}

func (p *AbuseIPDB) Lookup(ctx context.Context, ind intel.Indicator) Partial {
	if p.apiKey == "" {
		return Partial{Provider: AbuseIPDBName, Token: token(AbuseIPDBName, verdictMissingKey)}
	}

	q := url.Values{}
	q.Set("ipAddress", ind.Value)
	q.Set("maxAgeInDays", strconv.Itoa(abuseIPDBMaxAgeDays))
	header := http.Header{
		"Key":    {p.apiKey},
		"Accept": {"application/json"},
	}

	var resp abuseIPDBResponse
	if err := p.c.getJSON(ctx, "/api/v2/check?"+q.Encode(), header, &resp); err != nil {
		return failure(AbuseIPDBName, AbuseIPDBName, err, false)
	}

	score := 0.0
	if resp.Data.AbuseConfidenceScore != nil {
		score = *resp.Data.AbuseConfidenceScore
	}
	return Partial{
		Provider:   AbuseIPDBName,
		Token:      fmt.Sprintf("%s:%s/100", AbuseIPDBName, strconv.FormatFloat(score, 'f', -1, 64)),
		Country:    resp.Data.CountryCode,
		DetailsURL: intel.StringPtr("https://www.abuseipdb.com/check/" + ind.Value),
	}
}
