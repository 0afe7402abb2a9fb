package collect

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aegistrace/aegistrace/internal/intel"
)

const (
	rssItemsPerFeed = 5
	rssDefaultTitle = "Unknown"

	// DefaultBackfillOffset is subtracted from the collection time to stamp
	// feed items. It approximates publish time; items are not parsed for it.
	DefaultBackfillOffset = time.Hour
)

// DefaultRSSFeeds are the security news feeds collected when none are configured.
var DefaultRSSFeeds = []string{
	"https://krebsonsecurity.com/feed/",
	"https://feeds.feedburner.com/TheHackersNews",
	"https://www.bleepingcomputer.com/feed/",
	"https://www.darkreading.com/rss.xml",
	"https://www.securityweek.com/feed/",
}

// RSSSource collects the newest items of several syndicated feeds. Each feed
// is fetched and parsed on its own; one broken feed never hides the others.
type RSSSource struct {
	feeds    []string
	backfill time.Duration
	opts     Options
}

// NewRSSSource returns an adapter over feeds. A non-positive backfill uses
// DefaultBackfillOffset.
func NewRSSSource(feeds []string, backfill time.Duration, opts Options) *RSSSource {
	if backfill <= 0 {
		backfill = DefaultBackfillOffset
	}
	return &RSSSource{
		feeds:    append([]string(nil), feeds...),
		backfill: backfill,
		opts:     opts,
	}
}

func (s *RSSSource) Name() string { return "RSS" }

// Tasks returns one source per feed URL.
func (s *RSSSource) Tasks() []Source {
	tasks := make([]Source, 0, len(s.feeds))
	for _, feed := range s.feeds {
		tasks = append(tasks, &feedSource{
			url:      feed,
			backfill: s.backfill,
			f:        newFetcher(s.opts),
		})
	}
	return tasks
}

// Collect reads every feed in turn. The collector uses Tasks instead.
func (s *RSSSource) Collect(ctx context.Context) []intel.ThreatRecord {
	var records []intel.ThreatRecord
	for _, task := range s.Tasks() {
		records = append(records, task.Collect(ctx)...)
	}
	return records
}

// feedSource is a single syndicated feed.
type feedSource struct {
	url      string
	backfill time.Duration
	f        fetcher
}

func (s *feedSource) Name() string { return s.url }

// rssDocument accepts RSS 2.0, RSS 1.0 (RDF) and Atom documents. RDF places
// items beside the channel instead of inside it.
type rssDocument struct {
	Items    []rssItem   `xml:"channel>item"`
	RDFItems []rssItem   `xml:"item"`
	Entries  []atomEntry `xml:"entry"`
}

type rssItem struct {
	Title       *string `xml:"title"`
	Description string  `xml:"description"`
	Link        string  `xml:"link"`
}

type atomEntry struct {
	Title   *string    `xml:"title"`
	Summary string     `xml:"summary"`
	Content string     `xml:"content"`
	Links   []atomLink `xml:"link"`
}

type atomLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr"`
}

func (e atomEntry) link() string {
	for _, l := range e.Links {
		if l.Href != "" && (l.Rel == "" || l.Rel == "alternate") {
			return l.Href
		}
	}
	return ""
}

func (s *feedSource) Collect(ctx context.Context) []intel.ThreatRecord {
	body, err := s.f.get(ctx, s.url, nil)
	if err != nil {
		s.f.fail(s.url, failReason(err), err)
		return nil
	}

	doc, err := parseFeed(body)
	if err != nil {
		s.f.fail(s.url, "parse", err)
		return nil
	}

	stamp := s.f.now().Add(-s.backfill)
	records := make([]intel.ThreatRecord, 0, rssItemsPerFeed)
	for _, item := range append(doc.Items, doc.RDFItems...) {
		if len(records) == rssItemsPerFeed {
			break
		}
		records = append(records, s.record(item.Title, item.Description, item.Link, stamp))
	}
	for _, entry := range doc.Entries {
		if len(records) == rssItemsPerFeed {
			break
		}
		summary := entry.Summary
		if summary == "" {
			summary = entry.Content
		}
		records = append(records, s.record(entry.Title, summary, entry.link(), stamp))
	}

	s.f.logger().Debugw("Collected feed items", "feed", s.url, "count", len(records))
	return countRecords(s.url, records)
}

func (s *feedSource) record(title *string, summary, link string, stamp time.Time) intel.ThreatRecord {
	t := rssDefaultTitle
	if title != nil {
		t = strings.TrimSpace(*title)
	}
	return intel.ThreatRecord{
		Title:     t,
		Summary:   truncate(strings.TrimSpace(summary), summaryWidth),
		URL:       orDefault(strings.TrimSpace(link), intel.URLPlaceholder),
		Sector:    intel.DefaultSector,
		Timestamp: stamp,
		Source:    s.url,
	}
}

func parseFeed(body []byte) (*rssDocument, error) {
	var doc rssDocument
	dec := xml.NewDecoder(bytes.NewReader(body))
	dec.Strict = false
	dec.CharsetReader = func(_ string, r io.Reader) (io.Reader, error) { return r, nil }
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode feed: %w", err)
	}
	return &doc, nil
}
