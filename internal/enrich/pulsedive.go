package enrich

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"

	"github.com/aegistrace/aegistrace/internal/intel"
)

const (
	PulsediveName        = "Pulsedive"
	DefaultPulsediveBase = "https://pulsedive.com"
)

// Pulsedive answers read queries for IPs and domains. The key is optional.
type Pulsedive struct {
	apiKey string
	c      *client
}

// NewPulsedive returns the provider. An empty baseURL uses the public API.
func NewPulsedive(baseURL, apiKey string, opts ClientOptions) *Pulsedive {
	if baseURL == "" {
		baseURL = DefaultPulsediveBase
	}
	return &Pulsedive{
		apiKey: strings.TrimSpace(apiKey),
		c:      newClient(PulsediveName, baseURL, opts),
	}
}

func (p *Pulsedive) Name() string { return PulsediveName }

func (p *Pulsedive) Supports(kind intel.Kind) bool {
	return kind == intel.KindIP || kind == intel.KindDomain
}

type pulsediveResponse struct {
	Tags   json.RawMessage `json:"tags"`
	State  json.RawMessage `json:"state"`
	Status json.RawMessage `json:"status"`
}

func (p *Pulsedive) Lookup(ctx context.Context, ind intel.Indicator) Partial {
	q := url.Values{}
	q.Set("indicator", ind.Value)
	q.Set("pretty", "1")
	if p.apiKey != "" {
		q.Set("key", p.apiKey)
	}

	var resp pulsediveResponse
	if err := p.c.getJSON(ctx, "/api/info.php?"+q.Encode(), nil, &resp); err != nil {
		return failure(PulsediveName, PulsediveName, err, false)
	}

	active := rawString(resp.State)
	if active == "" {
		active = rawString(resp.Status)
	}
	return Partial{
		Provider:   PulsediveName,
		Token:      token(PulsediveName, verdictOK),
		Active:     active,
		Campaigns:  rawStrings(resp.Tags),
		DetailsURL: intel.StringPtr("https://pulsedive.com/indicator/?ioc=" + ind.Value),
	}
}

// rawString returns the value of a JSON string, or "" for anything else.
func rawString(raw json.RawMessage) string {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return s
}

// rawStrings accepts a single string or a list and keeps the non-empty strings.
func rawStrings(raw json.RawMessage) []string {
	if s := rawString(raw); s != "" {
		return []string{s}
	}
	var items []json.RawMessage
	if len(raw) == 0 || json.Unmarshal(raw, &items) != nil {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s := rawString(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}
