package enrich

import (
	"errors"
	"testing"

	"github.com/aegistrace/aegistrace/internal/intel"
	"github.com/stretchr/testify/assert"
)

func TestReduce(t *testing.T) {
	us, de := "US", "DE"
	first, second := "https://first.example/", "https://second.example/"

	tests := []struct {
		name     string
		partials []Partial
		want     intel.Enrichment
	}{
		{
			name: "empty is no_data with defaults",
			want: intel.Enrichment{Reputation: "no_data", Active: "unknown", Campaigns: []string{}},
		},
		{
			name:     "empty tokens are dropped",
			partials: []Partial{{Token: ""}, {Token: "X:ok"}, {Token: ""}},
			want:     intel.Enrichment{Reputation: "X:ok", Active: "unknown", Campaigns: []string{}},
		},
		{
			name: "first country and details win",
			partials: []Partial{
				{Token: "A:1", Country: &us, DetailsURL: &first},
				{Token: "B:2", Country: &de, DetailsURL: &second},
			},
			want: intel.Enrichment{
				Reputation: "A:1; B:2", Country: &us, DetailsURL: &first,
				Active: "unknown", Campaigns: []string{},
			},
		},
		{
			name: "details filled by a later provider when earlier had none",
			partials: []Partial{
				{Token: "A:missing_key"},
				{Token: "B:ok", DetailsURL: &second},
			},
			want: intel.Enrichment{
				Reputation: "A:missing_key; B:ok", DetailsURL: &second,
				Active: "unknown", Campaigns: []string{},
			},
		},
		{
			name: "campaign union and last active state",
			partials: []Partial{
				{Token: "A:ok", Campaigns: []string{"x", "y"}, Active: "active"},
				{Token: "B:ok", Campaigns: []string{"y", "z"}},
				{Token: "C:ok", Active: "inactive"},
			},
			want: intel.Enrichment{
				Reputation: "A:ok; B:ok; C:ok", Active: "inactive",
				Campaigns: []string{"x", "y", "z"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Reduce(tt.partials))
		})
	}
}

func TestDisabledAndFailed(t *testing.T) {
	d := Disabled()
	assert.Equal(t, "disabled", d.Reputation)
	assert.Equal(t, "enrichment disabled", d.Note)
	assert.Equal(t, []string{}, d.Campaigns)

	f := Failed(errors.New("boom"))
	assert.Equal(t, "error", f.Reputation)
	assert.Equal(t, "error:*errors.errorString", f.Note)
	assert.Nil(t, f.Country)
	assert.Nil(t, f.DetailsURL)
}

func TestFailureTokens(t *testing.T) {
	assert.Equal(t, "VT:not_found", failure("VirusTotal", "VT", ErrNotFound, true).Token)
	assert.Equal(t, "P:unavailable", failure("P", "P", ErrNotFound, false).Token)
	assert.Equal(t, "P:unavailable", failure("P", "P", ErrUnexpectedStatus, false).Token)
	assert.Equal(t, "P:error", failure("P", "P", ErrDecode, false).Token)
	assert.Equal(t, "P:error", failure("P", "P", errors.New("dial tcp"), false).Token)
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, "ok", outcome("AbuseIPDB:85/100"))
	assert.Equal(t, "ok", outcome("VT:m=1,s=0"))
	assert.Equal(t, "missing_key", outcome("VT:missing_key"))
	assert.Equal(t, "unavailable", outcome("Pulsedive:unavailable"))
}
