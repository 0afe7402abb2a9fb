// Package intel holds the record types shared by every pipeline stage.
package intel

import (
	"strings"
	"time"
)

const (
	// URLPlaceholder marks a record that has no reference link.
	URLPlaceholder = "#"
	// DefaultSector is used when a feed does not name an industry.
	DefaultSector = "General"
	// UnknownSector is used by the abuse list feeds.
	UnknownSector = "Unknown"
	// ActiveUnknown is the activity state before any provider answers.
	ActiveUnknown = "unknown"
)

// ThreatRecord is one normalized item from any feed.
type ThreatRecord struct {
	Title     string    `json:"title"`
	Summary   string    `json:"summary"`
	URL       string    `json:"url"`
	Sector    string    `json:"sector"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`

	// Written by a text enricher, never by a source adapter.
	RefinedSummary string `json:"refined_summary,omitempty"`
	ThreatType     string `json:"threat_type,omitempty"`
}

// ExtractionText returns the summary that indicator extraction should read.
func (r ThreatRecord) ExtractionText() string {
	if r.RefinedSummary != "" {
		return r.RefinedSummary
	}
	return r.Summary
}

// Kind is the indicator category.
type Kind string

const (
	KindIP     Kind = "ip"
	KindDomain Kind = "domain"
	KindHash   Kind = "hash"
)

// Kinds lists every kind in emission order.
var Kinds = []Kind{KindIP, KindDomain, KindHash}

// Rank orders kinds for stable output.
func (k Kind) Rank() int {
	for i, kk := range Kinds {
		if kk == k {
			return i
		}
	}
	return len(Kinds)
}

// ParseKind maps a stored or user-supplied string to a Kind.
func ParseKind(s string) (Kind, bool) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindIP:
		return KindIP, true
	case KindDomain:
		return KindDomain, true
	case KindHash:
		return KindHash, true
	}
	return "", false
}

// Key identifies an indicator.
type Key struct {
	Value string
	Kind  Kind
}

// Indicator is an aggregated IoC with the records that mention it.
type Indicator struct {
	Value     string     `json:"indicator"`
	Kind      Kind       `json:"type"`
	Sources   []string   `json:"sources"`
	Titles    []string   `json:"titles"`
	FirstSeen *time.Time `json:"first_seen"`
}

// Key returns the identity of the indicator.
func (i Indicator) Key() Key {
	return Key{Value: i.Value, Kind: i.Kind}
}

// Enrichment is the merged provider verdict for one indicator.
type Enrichment struct {
	Reputation string   `json:"reputation"`
	Country    *string  `json:"country"`
	Active     string   `json:"active"`
	Campaigns  []string `json:"campaigns"`
	DetailsURL *string  `json:"details_url"`
	Note       string   `json:"note"`
}

// NewEnrichment returns an enrichment with its documented defaults.
func NewEnrichment() Enrichment {
	return Enrichment{
		Active:    ActiveUnknown,
		Campaigns: []string{},
	}
}

// EnrichedIndicator is an indicator plus its enrichment.
type EnrichedIndicator struct {
	Indicator
	Enrichment
}

// Run is the output of one pipeline execution.
type Run struct {
	ID         string              `json:"run_id"`
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt time.Time           `json:"finished_at"`
	Threats    []ThreatRecord      `json:"threats"`
	Indicators []EnrichedIndicator `json:"indicators"`
}

// StringPtr returns a pointer to a copy of s.
func StringPtr(s string) *string {
	return &s
}

// Deref returns the pointed-to string or "".
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
