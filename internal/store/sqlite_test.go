package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/aegistrace/aegistrace/internal/intel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	s.now = func() time.Time { return fixedNow }
	return s
}

func sampleRun() *intel.Run {
	seen := fixedNow.Add(-48 * time.Hour)
	return &intel.Run{
		ID:         "run-1",
		StartedAt:  fixedNow.Add(-time.Minute),
		FinishedAt: fixedNow,
		Threats: []intel.ThreatRecord{
			{
				Title:     "Emotet returns",
				Summary:   "Loader seen at 45.33.32.156",
				URL:       "https://example.com/emotet",
				Sector:    intel.DefaultSector,
				Timestamp: fixedNow.Add(-time.Hour),
				Source:    "OTX",
			},
			{
				Title:          "FeodoTracker: Dridex",
				Summary:        "raw",
				RefinedSummary: "refined",
				URL:            intel.URLPlaceholder,
				Sector:         intel.UnknownSector,
				ThreatType:     "Malware",
				Timestamp:      fixedNow.Add(-2 * time.Hour),
				Source:         "FeodoTracker",
			},
		},
		Indicators: []intel.EnrichedIndicator{
			{
				Indicator: intel.Indicator{
					Value:   "45.33.32.156",
					Kind:    intel.KindIP,
					Sources: []string{"OTX"},
					Titles:  []string{"Emotet returns"},
				},
				Enrichment: intel.Enrichment{
					Reputation: "AbuseIPDB:87/100; Pulsedive:ok",
					Country:    intel.StringPtr("US"),
					Active:     "active",
					Campaigns:  []string{"emotet", "loader"},
					DetailsURL: intel.StringPtr("https://www.abuseipdb.com/check/45.33.32.156"),
				},
			},
			{
				Indicator: intel.Indicator{
					Value:     "44d88612fea8a8f36de82e1278abb02f",
					Kind:      intel.KindHash,
					Sources:   []string{"MalwareBazaar"},
					Titles:    []string{"sample"},
					FirstSeen: &seen,
				},
				Enrichment: intel.NewEnrichment(),
			},
		},
	}
}

func TestNewStore(t *testing.T) {
	s := newTestStore(t)

	for _, table := range []string{"threats", "iocs", "runs"} {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		require.NoError(t, err)
		assert.Equal(t, 1, count, "table %s", table)
	}
}

func TestNewStoreCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "aegistrace.db")
	s, err := NewStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// reopening runs the idempotent migrations again
	s, err = NewStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())
}

func TestSaveRunAndListThreats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveRun(ctx, sampleRun()))

	threats, err := s.ListThreats(ctx, time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, threats, 2)

	assert.Equal(t, "Emotet returns", threats[0].Title)
	assert.Equal(t, "run-1", threats[0].RunID)
	assert.Equal(t, fixedNow.Add(-time.Hour), threats[0].Timestamp)
	assert.NotEmpty(t, threats[0].ID)

	// the refined summary is what gets stored
	assert.Equal(t, "refined", threats[1].Summary)
	assert.Equal(t, "Malware", threats[1].ThreatType)
	assert.Equal(t, intel.UnknownSector, threats[1].Sector)
}

func TestListThreatsFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveRun(ctx, sampleRun()))

	recent, err := s.ListThreats(ctx, fixedNow.Add(-90*time.Minute), 0)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "OTX", recent[0].Source)

	limited, err := s.ListThreats(ctx, time.Time{}, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestListIndicators(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveRun(ctx, sampleRun()))

	all, err := s.ListIndicators(ctx, nil, time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)

	ips, err := s.ListIndicators(ctx, []intel.Kind{intel.KindIP}, time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, ips, 1)

	ip := ips[0]
	assert.Equal(t, "45.33.32.156", ip.Indicator)
	assert.Equal(t, "ip", ip.Type)
	assert.Equal(t, []string{"OTX"}, ip.Sources)
	assert.Equal(t, []string{"emotet", "loader"}, ip.Campaigns)
	assert.Equal(t, "US", ip.Country)
	assert.Equal(t, "active", ip.Active)
	assert.Equal(t, "https://www.abuseipdb.com/check/45.33.32.156", ip.DetailsURL)
	assert.Nil(t, ip.FirstSeen)

	hashes, err := s.ListIndicators(ctx, []intel.Kind{intel.KindHash}, time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, hashes, 1)
	require.NotNil(t, hashes[0].FirstSeen)
	assert.Equal(t, fixedNow.Add(-48*time.Hour), *hashes[0].FirstSeen)
	assert.Equal(t, []string{}, hashes[0].Campaigns)
	assert.Equal(t, intel.ActiveUnknown, hashes[0].Active)
	assert.Empty(t, hashes[0].Country)
}

func TestSaveThreatsAndIndicatorsDirectly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	run := sampleRun()

	require.NoError(t, s.SaveThreats(ctx, "manual", run.Threats[:1]))
	require.NoError(t, s.SaveIndicators(ctx, "manual", run.Indicators[:1]))

	threats, err := s.ListThreats(ctx, time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, threats, 1)
	assert.Equal(t, "manual", threats[0].RunID)

	runs, err := s.ListRuns(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestListRuns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveRun(ctx, sampleRun()))

	runs, err := s.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	r := runs[0]
	assert.Equal(t, "run-1", r.ID)
	assert.Equal(t, 2, r.Threats)
	assert.Equal(t, 2, r.Indicators)
	assert.Equal(t, map[string]int{"OTX": 1, "FeodoTracker": 1}, r.Sources)
	assert.Equal(t, map[string]string{"ip": "1", "domain": "0", "hash": "1"}, r.Metadata)
	assert.Equal(t, fixedNow, r.FinishedAt)
}

func TestThreatCounts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveRun(ctx, sampleRun()))

	s.now = func() time.Time { return fixedNow.AddDate(0, 0, -3) }
	require.NoError(t, s.SaveThreats(ctx, "older", sampleRun().Threats[:1]))

	s.now = func() time.Time { return fixedNow.AddDate(0, 0, -60) }
	require.NoError(t, s.SaveThreats(ctx, "ancient", sampleRun().Threats[:1]))

	s.now = func() time.Time { return fixedNow }
	counts, err := s.ThreatCounts(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, []DayCount{
		{Day: "2024-05-29", Count: 1},
		{Day: "2024-06-01", Count: 2},
	}, counts)

	narrow, err := s.ThreatCounts(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []DayCount{{Day: "2024-06-01", Count: 2}}, narrow)
}

func TestReset(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveRun(ctx, sampleRun()))

	require.NoError(t, s.Reset(ctx))

	threats, err := s.ListThreats(ctx, time.Time{}, 0)
	require.NoError(t, err)
	assert.Empty(t, threats)
	iocs, err := s.ListIndicators(ctx, nil, time.Time{}, 0)
	require.NoError(t, err)
	assert.Empty(t, iocs)
	runs, err := s.ListRuns(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestUnmarshalListAcceptsCommaLists(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, unmarshalList(`["a","b"]`))
	assert.Equal(t, []string{"emotet", "qakbot"}, unmarshalList("emotet, qakbot"))
	assert.Equal(t, []string{}, unmarshalList(""))
}
