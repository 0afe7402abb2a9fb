package pipeline

import (
	"context"
	"strings"

	"github.com/aegistrace/aegistrace/internal/intel"
)

// TextEnricher augments records before extraction, for example with a
// refined summary or a threat category. It must not drop records.
type TextEnricher interface {
	Refine(ctx context.Context, records []intel.ThreatRecord) []intel.ThreatRecord
}

// PassThrough leaves records untouched.
type PassThrough struct{}

func (PassThrough) Refine(_ context.Context, records []intel.ThreatRecord) []intel.ThreatRecord {
	return records
}

// Category maps a threat type to the lower-case keywords that select it.
type Category struct {
	Name     string
	Keywords []string
}

// Uncategorized is the threat type when no keyword matches.
const Uncategorized = "Uncategorized"

// DefaultCategories are checked in order; the first match wins.
var DefaultCategories = []Category{
	{Name: "Ransomware", Keywords: []string{"ransomware", "lockbit", "blackcat", "encrypt"}},
	{Name: "Phishing", Keywords: []string{"phishing", "credential", "fake login", "spoof"}},
	{Name: "Malware", Keywords: []string{"malware", "trojan", "worm", "virus", "spyware", "stealc"}},
	{Name: "APT", Keywords: []string{"apt", "advanced persistent threat", "state-sponsored"}},
	{Name: "Vulnerability", Keywords: []string{"cve-", "zero-day", "exploit", "patch"}},
	{Name: "Data Breach", Keywords: []string{"data breach", "leak", "compromised records"}},
}

// KeywordClassifier sets ThreatType by substring match on title and summary.
type KeywordClassifier struct {
	Categories []Category
}

// NewKeywordClassifier returns a classifier over DefaultCategories.
func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{Categories: DefaultCategories}
}

// Classify returns the first category whose keyword occurs in text.
func (k *KeywordClassifier) Classify(text string) string {
	lower := strings.ToLower(text)
	for _, c := range k.Categories {
		for _, kw := range c.Keywords {
			if strings.Contains(lower, kw) {
				return c.Name
			}
		}
	}
	return Uncategorized
}

func (k *KeywordClassifier) Refine(_ context.Context, records []intel.ThreatRecord) []intel.ThreatRecord {
	out := make([]intel.ThreatRecord, len(records))
	for i, r := range records {
		r.ThreatType = k.Classify(r.Title + " " + r.Summary)
		out[i] = r
	}
	return out
}

// Chain applies each enricher in order.
type Chain []TextEnricher

func (c Chain) Refine(ctx context.Context, records []intel.ThreatRecord) []intel.ThreatRecord {
	for _, e := range c {
		records = e.Refine(ctx, records)
	}
	return records
}
