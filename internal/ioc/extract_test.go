package ioc

import (
	"testing"
	"time"

	"github.com/aegistrace/aegistrace/internal/intel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(title, summary, url string) intel.ThreatRecord {
	return intel.ThreatRecord{
		Title:     title,
		Summary:   summary,
		URL:       url,
		Sector:    intel.DefaultSector,
		Timestamp: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Source:    "test",
	}
}

func byKey(inds []intel.Indicator) map[intel.Key]intel.Indicator {
	out := make(map[intel.Key]intel.Indicator, len(inds))
	for _, ind := range inds {
		out[ind.Key()] = ind
	}
	return out
}

func TestExtractMixedText(t *testing.T) {
	r := record(
		"Loader campaign",
		"Malware hash 44D88612FEA8A8F36DE82E1278ABB02F found serving from 45.33.32.156 and evil-c2.example.net",
		"#",
	)

	inds := Extract([]intel.ThreatRecord{r})
	require.Len(t, inds, 3)

	got := byKey(inds)
	for _, key := range []intel.Key{
		{Value: "45.33.32.156", Kind: intel.KindIP},
		{Value: "evil-c2.example.net", Kind: intel.KindDomain},
		{Value: "44d88612fea8a8f36de82e1278abb02f", Kind: intel.KindHash},
	} {
		ind, ok := got[key]
		require.True(t, ok, "missing %v", key)
		assert.Equal(t, []string{"#"}, ind.Sources)
		assert.Equal(t, []string{"Loader campaign"}, ind.Titles)
		assert.Nil(t, ind.FirstSeen)
	}
}

func TestExtractOrdersByKindThenValue(t *testing.T) {
	r := record("t", "zeta.example.org 10.0.0.2 alpha.example.org 10.0.0.1 "+
		"da39a3ee5e6b4b0d3255bfef95601890afd80709", "")

	inds := Extract([]intel.ThreatRecord{r})
	var keys []string
	for _, ind := range inds {
		keys = append(keys, string(ind.Kind)+":"+ind.Value)
	}
	assert.Equal(t, []string{
		"ip:10.0.0.1",
		"ip:10.0.0.2",
		"domain:alpha.example.org",
		"domain:zeta.example.org",
		"hash:da39a3ee5e6b4b0d3255bfef95601890afd80709",
	}, keys)
}

func TestExtractMergesAcrossRecords(t *testing.T) {
	a := record("First report", "beacon to 203.0.113.7", "https://a.example.com/1")
	b := record("Second report", "also seen at 203.0.113.7", "https://b.example.com/2")
	c := record("First report", "203.0.113.7 again", "https://a.example.com/1")

	inds := byKey(Extract([]intel.ThreatRecord{b, a, c}))
	ip := inds[intel.Key{Value: "203.0.113.7", Kind: intel.KindIP}]

	assert.Equal(t, []string{"https://a.example.com/1", "https://b.example.com/2"}, ip.Sources)
	assert.Equal(t, []string{"First report", "Second report"}, ip.Titles)
}

func TestExtractSkipsEmptyURLAndTitle(t *testing.T) {
	inds := Extract([]intel.ThreatRecord{record("", "seen at 198.51.100.4", "")})
	require.Len(t, inds, 1)
	assert.Empty(t, inds[0].Sources)
	assert.Empty(t, inds[0].Titles)
	assert.NotNil(t, inds[0].Sources)
}

func TestExtractAddsURLHost(t *testing.T) {
	inds := byKey(Extract([]intel.ThreatRecord{
		record("Advisory", "nothing else here", "https://News.Example.COM:8443/story?id=1"),
	}))

	_, ok := inds[intel.Key{Value: "news.example.com", Kind: intel.KindDomain}]
	assert.True(t, ok)
}

func TestExtractNeverEmitsIPv4AsDomain(t *testing.T) {
	text := "hosts 192.168.1.10 and 10.20.30.40.example.net plus 8.8.8.8."
	for _, ind := range Extract([]intel.ThreatRecord{record("t", text, "http://172.16.0.1/x")}) {
		if ind.Kind == intel.KindDomain {
			assert.False(t, LooksLikeIPv4(ind.Value), "domain %q is an ip literal", ind.Value)
		}
	}
}

func TestExtractPrefersRefinedSummary(t *testing.T) {
	r := record("t", "raw mentions 192.0.2.1", "")
	r.RefinedSummary = "refined mentions 192.0.2.99"

	inds := byKey(Extract([]intel.ThreatRecord{r}))
	_, raw := inds[intel.Key{Value: "192.0.2.1", Kind: intel.KindIP}]
	_, refined := inds[intel.Key{Value: "192.0.2.99", Kind: intel.KindIP}]
	assert.False(t, raw)
	assert.True(t, refined)
}

func TestScanHashLengths(t *testing.T) {
	text := "md5 d41d8cd98f00b204e9800998ecf8427e " +
		"sha1 DA39A3EE5E6B4B0D3255BFEF95601890AFD80709 " +
		"sha256 e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855 " +
		"short abcdef1234"

	found := Scan(text)
	assert.Equal(t, []string{
		"d41d8cd98f00b204e9800998ecf8427e",
		"da39a3ee5e6b4b0d3255bfef95601890afd80709",
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
	}, found.Values(intel.KindHash))
}

func TestScanEmptyText(t *testing.T) {
	assert.Empty(t, Scan(""))
}

func TestNormalizationIsIdempotent(t *testing.T) {
	inputs := []string{
		"  (Evil.Example.COM).  ",
		"\"1.2.3.4\",",
		"[{ABCDEF0123456789ABCDEF0123456789}]",
		". ;x;",
		"",
	}
	for _, in := range inputs {
		for name, fn := range map[string]func(string) string{
			"ip":     NormalizeIP,
			"domain": NormalizeDomain,
			"hash":   NormalizeHash,
		} {
			once := fn(in)
			assert.Equal(t, once, fn(once), "%s(%q)", name, in)
		}
	}
}

func TestNormalizeDomain(t *testing.T) {
	assert.Equal(t, "evil.example.com", NormalizeDomain("  (Evil.Example.COM).  "))
	assert.Equal(t, "1.2.3.4", NormalizeIP("\"1.2.3.4\","))
}

func TestAggregatorLen(t *testing.T) {
	agg := NewAggregator()
	agg.Add(record("t", "10.1.1.1 10.1.1.1 example.org", ""))
	assert.Equal(t, 2, agg.Len())
}
