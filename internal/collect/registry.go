package collect

import "time"

// Endpoints overrides feed locations. Empty fields use the public defaults.
type Endpoints struct {
	OTXBase string `mapstructure:"otx_base"`
	URLhaus string `mapstructure:"urlhaus"`
	Feodo   string `mapstructure:"feodo"`
	Bazaar  string `mapstructure:"bazaar"`
}

// Settings describes the full set of feeds to collect.
type Settings struct {
	OTXKey         string
	RSSFeeds       []string
	BackfillOffset time.Duration
	Endpoints      Endpoints
}

// DefaultSources builds every adapter in the order their records are merged.
func DefaultSources(s Settings, opts Options) []Source {
	feeds := s.RSSFeeds
	if feeds == nil {
		feeds = DefaultRSSFeeds
	}
	return []Source{
		NewOTXSource(s.Endpoints.OTXBase, s.OTXKey, opts),
		NewRSSSource(feeds, s.BackfillOffset, opts),
		NewURLhausSource(s.Endpoints.URLhaus, opts),
		NewBazaarSource(s.Endpoints.Bazaar, opts),
		NewFeodoSource(s.Endpoints.Feodo, opts),
	}
}
