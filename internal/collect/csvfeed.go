package collect

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aegistrace/aegistrace/internal/intel"
)

const (
	URLhausName       = "URLhaus"
	DefaultURLhausURL = "https://urlhaus.abuse.ch/downloads/csv_recent/"
	FeodoName         = "FeodoTracker"
	DefaultFeodoURL   = "https://feodotracker.abuse.ch/downloads/ipblocklist.csv"
	abuseTimeLayout   = "2006-01-02 15:04:05"
	urlhausMinColumns = 7
	feodoMinColumns   = 5
)

// rowMapper converts one CSV row into a record. ok is false for rows to drop.
type rowMapper func(row []string) (intel.ThreatRecord, bool)

// csvSource is a comment-prefixed CSV blocklist.
type csvSource struct {
	name       string
	url        string
	minColumns int
	mapRow     rowMapper
	f          fetcher
}

// NewURLhausSource returns an adapter over the URLhaus recent URL list.
// Columns: date_added, url, url_status, threat_type, tags, and at least two more.
func NewURLhausSource(url string, opts Options) Source {
	if url == "" {
		url = DefaultURLhausURL
	}
	return &csvSource{
		name:       URLhausName,
		url:        url,
		minColumns: urlhausMinColumns,
		mapRow:     urlhausRow,
		f:          newFetcher(opts),
	}
}

// NewFeodoSource returns an adapter over the Feodo Tracker C2 IP blocklist.
// Columns: ip, first_seen, unused, malware, unused.
func NewFeodoSource(url string, opts Options) Source {
	if url == "" {
		url = DefaultFeodoURL
	}
	return &csvSource{
		name:       FeodoName,
		url:        url,
		minColumns: feodoMinColumns,
		mapRow:     feodoRow,
		f:          newFetcher(opts),
	}
}

func (s *csvSource) Name() string { return s.name }

func (s *csvSource) Collect(ctx context.Context) []intel.ThreatRecord {
	body, err := s.f.get(ctx, s.url, nil)
	if err != nil {
		s.f.fail(s.name, failReason(err), err)
		return nil
	}

	records, skipped := s.parse(bytes.NewReader(body))
	s.f.logger().Debugw("Collected CSV feed", "source", s.name, "count", len(records), "skipped", skipped)
	return countRecords(s.name, records)
}

// parse reads every row of r, skipping comments, short rows and rows whose
// date does not parse.
func (s *csvSource) parse(r io.Reader) ([]intel.ThreatRecord, int) {
	reader := csv.NewReader(r)
	reader.Comment = '#'
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	var records []intel.ThreatRecord
	skipped := 0
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				skipped++
				continue
			}
			s.f.fail(s.name, "parse", fmt.Errorf("read csv: %w", err))
			break
		}

		if len(row) == 0 || strings.HasPrefix(row[0], "#") || len(row) < s.minColumns {
			skipped++
			continue
		}

		rec, ok := s.mapRow(row)
		if !ok {
			skipped++
			continue
		}
		records = append(records, rec)
	}

	return records, skipped
}

func parseAbuseTime(v string) (time.Time, bool) {
	ts, err := time.Parse(abuseTimeLayout, strings.TrimSpace(v))
	return ts, err == nil
}

func urlhausRow(row []string) (intel.ThreatRecord, bool) {
	ts, ok := parseAbuseTime(row[0])
	if !ok {
		return intel.ThreatRecord{}, false
	}
	threat, tags := row[3], row[4]
	return intel.ThreatRecord{
		Title:     "URLhaus: " + threat,
		Summary:   "Malicious URL reported to URLhaus. Tags: " + tags,
		URL:       row[1],
		Sector:    intel.UnknownSector,
		Timestamp: ts,
		Source:    URLhausName,
	}, true
}

func feodoRow(row []string) (intel.ThreatRecord, bool) {
	ts, ok := parseAbuseTime(row[1])
	if !ok {
		return intel.ThreatRecord{}, false
	}
	ip, malware := row[0], row[3]
	return intel.ThreatRecord{
		Title:     "FeodoTracker: " + malware,
		Summary:   fmt.Sprintf("IP %s associated with %s C2 server.", ip, malware),
		URL:       intel.URLPlaceholder,
		Sector:    intel.UnknownSector,
		Timestamp: ts,
		Source:    FeodoName,
	}, true
}
