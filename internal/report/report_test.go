package report

import (
	"bytes"
	"encoding/csv"
	"testing"
	"time"

	"github.com/aegistrace/aegistrace/internal/intel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleIndicators() []intel.EnrichedIndicator {
	seen := time.Date(2024, 5, 30, 8, 0, 0, 0, time.UTC)
	enr := intel.NewEnrichment()
	enr.Reputation = "AbuseIPDB:87/100; Pulsedive:ok"
	enr.Country = intel.StringPtr("US")
	enr.Campaigns = []string{"emotet", "loader"}
	enr.DetailsURL = intel.StringPtr("https://www.abuseipdb.com/check/45.33.32.156")

	return []intel.EnrichedIndicator{
		{
			Indicator:  intel.Indicator{Value: "45.33.32.156", Kind: intel.KindIP, Sources: []string{"OTX", "FeodoTracker"}, Titles: []string{"a", "b"}},
			Enrichment: enr,
		},
		{
			Indicator:  intel.Indicator{Value: "44d88612fea8a8f36de82e1278abb02f", Kind: intel.KindHash, Sources: []string{"MalwareBazaar"}, Titles: []string{"c, with comma"}, FirstSeen: &seen},
			Enrichment: intel.Enrichment{Reputation: "disabled", Active: "unknown", Campaigns: []string{}, Note: "enrichment disabled"},
		},
	}
}

func TestWriteIndicatorsCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteIndicatorsCSV(&buf, sampleIndicators()))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, IndicatorColumns, rows[0])
	assert.Equal(t, []string{
		"45.33.32.156", "ip", "OTX, FeodoTracker", "a, b", "",
		"AbuseIPDB:87/100; Pulsedive:ok", "US", "unknown", "emotet, loader",
		"https://www.abuseipdb.com/check/45.33.32.156", "",
	}, rows[1])
	assert.Equal(t, "c, with comma", rows[2][3])
	assert.Equal(t, "2024-05-30T08:00:00Z", rows[2][4])
	assert.Equal(t, "enrichment disabled", rows[2][10])
}

func TestWriteIndicatorsCSVEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteIndicatorsCSV(&buf, nil))
	assert.Equal(t, "indicator,type,sources,titles,first_seen,reputation,country,active,campaigns,details_url,note\n", buf.String())
}

func TestWriteRunSummary(t *testing.T) {
	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	run := &intel.Run{
		ID:         "run-1",
		StartedAt:  start,
		FinishedAt: start.Add(1500 * time.Millisecond),
		Threats:    []intel.ThreatRecord{{Source: "OTX"}, {Source: "OTX"}, {Source: "MockData"}},
		Indicators: sampleIndicators(),
	}

	var buf bytes.Buffer
	WriteRunSummary(&buf, run)
	out := buf.String()

	assert.Contains(t, out, "Run run-1 finished in 1.5s")
	assert.Contains(t, out, "Threats: 3")
	assert.Contains(t, out, "Indicators: 2 (ip=1 domain=0 hash=1)")
	assert.Regexp(t, `OTX\s+2`, out)
}

func TestWriteListsSkipEmptyFields(t *testing.T) {
	var buf bytes.Buffer
	WriteThreats(&buf, []intel.ThreatRecord{{Title: "Mock Threat", URL: "#", Source: "MockData"}})
	assert.NotContains(t, buf.String(), "URL:")
	assert.Contains(t, buf.String(), "1. Mock Threat")

	buf.Reset()
	WriteIndicators(&buf, sampleIndicators()[1:])
	out := buf.String()
	assert.Contains(t, out, "[HASH] 44d88612fea8a8f36de82e1278abb02f")
	assert.Contains(t, out, "Note: enrichment disabled")
	assert.NotContains(t, out, "Country:")
}
