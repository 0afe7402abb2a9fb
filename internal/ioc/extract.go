// Package ioc finds IPv4 addresses, domain names and file hashes in threat
// records and aggregates them into indicators.
package ioc

import (
	"net/url"
	"sort"
	"strings"

	"github.com/aegistrace/aegistrace/internal/intel"
)

// Found is the set of normalized candidates in one piece of text.
type Found map[intel.Kind]map[string]struct{}

func (f Found) add(kind intel.Kind, value string) {
	if value == "" {
		return
	}
	set, ok := f[kind]
	if !ok {
		set = make(map[string]struct{})
		f[kind] = set
	}
	set[value] = struct{}{}
}

// Values returns the candidates of one kind in sorted order.
func (f Found) Values(kind intel.Kind) []string {
	out := make([]string, 0, len(f[kind]))
	for v := range f[kind] {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Scan runs the three scanners over text.
func Scan(text string) Found {
	found := make(Found)
	if text == "" {
		return found
	}

	for _, m := range ipv4RE.FindAllString(text, -1) {
		found.add(intel.KindIP, NormalizeIP(m))
	}

	for _, m := range findAll2(domainRE, text) {
		if LooksLikeIPv4(m) {
			continue
		}
		found.add(intel.KindDomain, NormalizeDomain(m))
	}

	for _, re := range hashREs {
		for _, m := range re.FindAllString(text, -1) {
			found.add(intel.KindHash, NormalizeHash(m))
		}
	}

	return found
}

// ScanRecord scans the title, summary and url of a record and adds the host
// of an http(s) url as a domain candidate.
func ScanRecord(r intel.ThreatRecord) Found {
	found := Scan(strings.Join([]string{r.Title, r.ExtractionText(), r.URL}, " "))

	if strings.HasPrefix(r.URL, "http") {
		if u, err := url.Parse(r.URL); err == nil {
			if host := u.Hostname(); host != "" && LooksLikeDomain(host) {
				found.add(intel.KindDomain, NormalizeDomain(host))
			}
		}
	}

	return found
}

type entry struct {
	sources map[string]struct{}
	titles  map[string]struct{}
}

// Aggregator merges candidates from many records keyed by (value, kind).
// It is not safe for concurrent use.
type Aggregator struct {
	entries map[intel.Key]*entry
}

// NewAggregator returns an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{entries: make(map[intel.Key]*entry)}
}

// Add scans r and merges its candidates.
func (a *Aggregator) Add(r intel.ThreatRecord) {
	found := ScanRecord(r)
	for _, kind := range intel.Kinds {
		for value := range found[kind] {
			key := intel.Key{Value: value, Kind: kind}
			e, ok := a.entries[key]
			if !ok {
				e = &entry{
					sources: make(map[string]struct{}),
					titles:  make(map[string]struct{}),
				}
				a.entries[key] = e
			}
			if r.URL != "" {
				e.sources[r.URL] = struct{}{}
			}
			if r.Title != "" {
				e.titles[r.Title] = struct{}{}
			}
		}
	}
}

// Len reports the number of distinct indicators seen.
func (a *Aggregator) Len() int {
	return len(a.entries)
}

// Indicators returns the aggregated indicators ordered by kind then value,
// with sorted sources and titles.
func (a *Aggregator) Indicators() []intel.Indicator {
	out := make([]intel.Indicator, 0, len(a.entries))
	for key, e := range a.entries {
		out = append(out, intel.Indicator{
			Value:   key.Value,
			Kind:    key.Kind,
			Sources: sortedKeys(e.sources),
			Titles:  sortedKeys(e.titles),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if ri, rj := out[i].Kind.Rank(), out[j].Kind.Rank(); ri != rj {
			return ri < rj
		}
		return out[i].Value < out[j].Value
	})
	return out
}

// Extract aggregates every indicator mentioned in records.
func Extract(records []intel.ThreatRecord) []intel.Indicator {
	agg := NewAggregator()
	for _, r := range records {
		agg.Add(r)
	}
	return agg.Indicators()
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
