package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aegistrace/aegistrace/internal/intel"
	"github.com/google/uuid"
)

// Store represents the SQLite storage implementation
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Threat is a stored threat record.
type Threat struct {
	ID         string    `json:"id"`
	RunID      string    `json:"run_id"`
	Title      string    `json:"title"`
	Summary    string    `json:"summary"`
	URL        string    `json:"url"`
	Sector     string    `json:"sector"`
	ThreatType string    `json:"threat_type,omitempty"`
	Source     string    `json:"source"`
	Timestamp  time.Time `json:"timestamp"`
	CreatedAt  time.Time `json:"created_at"`
}

// IOC is a stored enriched indicator.
type IOC struct {
	ID         string     `json:"id"`
	RunID      string     `json:"run_id"`
	Indicator  string     `json:"indicator"`
	Type       string     `json:"type"`
	Sources    []string   `json:"sources"`
	Titles     []string   `json:"titles"`
	Reputation string     `json:"reputation"`
	Country    string     `json:"country,omitempty"`
	Active     string     `json:"active"`
	Campaigns  []string   `json:"campaigns"`
	DetailsURL string     `json:"details_url,omitempty"`
	Note       string     `json:"note,omitempty"`
	FirstSeen  *time.Time `json:"first_seen,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// DayCount is the number of threats stored on one calendar day (UTC).
type DayCount struct {
	Day   string `json:"day"`
	Count int    `json:"count"`
}

// NewStore creates a new SQLite store instance
func NewStore(dbPath string) (*Store, error) {
	// Ensure target directory exists (e.g., ./data)
	if dir := filepath.Dir(dbPath); dbPath != ":memory:" && dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open(sqliteDriver, dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// each pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db, now: time.Now}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS threats (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			title TEXT NOT NULL,
			summary TEXT,
			url TEXT,
			sector TEXT,
			threat_type TEXT,
			source TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS iocs (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			indicator TEXT NOT NULL,
			type TEXT NOT NULL,
			sources TEXT NOT NULL,
			titles TEXT NOT NULL,
			reputation TEXT,
			country TEXT,
			active TEXT,
			campaigns TEXT,
			details_url TEXT,
			note TEXT,
			first_seen INTEGER,
			created_at INTEGER NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_threats_run_id ON threats(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_threats_timestamp ON threats(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_threats_created_at ON threats(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_iocs_run_id ON iocs(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_iocs_indicator ON iocs(indicator)`,
		`CREATE INDEX IF NOT EXISTS idx_iocs_type ON iocs(type)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return fmt.Errorf("failed to execute migration: %w", err)
		}
	}
	return s.setupRunTables()
}

// SaveRun persists the threats and indicators of a run in one transaction and
// records the run in the run log.
func (s *Store) SaveRun(ctx context.Context, run *intel.Run) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	rollback := func(e error) error {
		_ = tx.Rollback()
		return e
	}

	if err := s.insertThreats(ctx, tx, run.ID, run.Threats); err != nil {
		return rollback(err)
	}
	if err := s.insertIndicators(ctx, tx, run.ID, run.Indicators); err != nil {
		return rollback(err)
	}
	if err := s.insertRun(ctx, tx, run); err != nil {
		return rollback(err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// SaveThreats stores threat records under runID.
func (s *Store) SaveThreats(ctx context.Context, runID string, threats []intel.ThreatRecord) error {
	return s.insertThreats(ctx, s.db, runID, threats)
}

// SaveIndicators stores enriched indicators under runID.
func (s *Store) SaveIndicators(ctx context.Context, runID string, inds []intel.EnrichedIndicator) error {
	return s.insertIndicators(ctx, s.db, runID, inds)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (s *Store) insertThreats(ctx context.Context, db execer, runID string, threats []intel.ThreatRecord) error {
	query := `INSERT INTO threats (
		id, run_id, title, summary, url, sector, threat_type, source, timestamp, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	now := s.now().Unix()
	for _, t := range threats {
		summary := t.ExtractionText()
		_, err := db.ExecContext(ctx, query,
			uuid.NewString(), runID, t.Title, summary, t.URL, t.Sector,
			t.ThreatType, t.Source, t.Timestamp.Unix(), now,
		)
		if err != nil {
			return fmt.Errorf("failed to save threat %q: %w", t.Title, err)
		}
	}
	return nil
}

func (s *Store) insertIndicators(ctx context.Context, db execer, runID string, inds []intel.EnrichedIndicator) error {
	query := `INSERT INTO iocs (
		id, run_id, indicator, type, sources, titles, reputation, country,
		active, campaigns, details_url, note, first_seen, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	now := s.now().Unix()
	for _, ind := range inds {
		sources, err := marshalList(ind.Sources)
		if err != nil {
			return err
		}
		titles, err := marshalList(ind.Titles)
		if err != nil {
			return err
		}
		campaigns, err := marshalList(ind.Campaigns)
		if err != nil {
			return err
		}
		var firstSeen sql.NullInt64
		if ind.FirstSeen != nil {
			firstSeen = sql.NullInt64{Int64: ind.FirstSeen.Unix(), Valid: true}
		}

		_, err = db.ExecContext(ctx, query,
			uuid.NewString(), runID, ind.Value, string(ind.Kind), sources, titles,
			ind.Reputation, nullString(ind.Country), ind.Active, campaigns,
			nullString(ind.DetailsURL), ind.Note, firstSeen, now,
		)
		if err != nil {
			return fmt.Errorf("failed to save indicator %s: %w", ind.Value, err)
		}
	}
	return nil
}

// ListThreats returns stored threats newest first. A zero since disables the
// time filter; a non-positive limit returns every row.
func (s *Store) ListThreats(ctx context.Context, since time.Time, limit int) ([]Threat, error) {
	query := `SELECT id, run_id, title, summary, url, sector, threat_type, source, timestamp, created_at
		FROM threats WHERE 1=1`
	args := []interface{}{}

	if !since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, since.Unix())
	}
	query += " ORDER BY timestamp DESC, created_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query threats: %w", err)
	}
	defer rows.Close()

	var threats []Threat
	for rows.Next() {
		var (
			t                                 Threat
			summary, url, sector, threatType sql.NullString
			timestamp, createdAt              int64
		)
		if err := rows.Scan(&t.ID, &t.RunID, &t.Title, &summary, &url, &sector,
			&threatType, &t.Source, &timestamp, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan threat: %w", err)
		}
		t.Summary = summary.String
		t.URL = url.String
		t.Sector = sector.String
		t.ThreatType = threatType.String
		t.Timestamp = time.Unix(timestamp, 0).UTC()
		t.CreatedAt = time.Unix(createdAt, 0).UTC()
		threats = append(threats, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating threat rows: %w", err)
	}
	return threats, nil
}

// ListIndicators returns stored indicators, newest first, optionally filtered
// by kind.
func (s *Store) ListIndicators(ctx context.Context, kinds []intel.Kind, since time.Time, limit int) ([]IOC, error) {
	query := `SELECT id, run_id, indicator, type, sources, titles, reputation, country,
		active, campaigns, details_url, note, first_seen, created_at
		FROM iocs WHERE 1=1`
	args := []interface{}{}

	if !since.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, since.Unix())
	}
	if len(kinds) > 0 {
		placeholders := make([]string, 0, len(kinds))
		for _, k := range kinds {
			placeholders = append(placeholders, "?")
			args = append(args, string(k))
		}
		query += " AND type IN (" + strings.Join(placeholders, ",") + ")"
	}
	query += " ORDER BY created_at DESC, indicator ASC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query iocs: %w", err)
	}
	defer rows.Close()

	var iocs []IOC
	for rows.Next() {
		var (
			i                                            IOC
			sources, titles                              string
			reputation, country, active, campaigns, note sql.NullString
			details                                      sql.NullString
			firstSeen                                    sql.NullInt64
			createdAt                                    int64
		)
		if err := rows.Scan(&i.ID, &i.RunID, &i.Indicator, &i.Type, &sources, &titles,
			&reputation, &country, &active, &campaigns, &details, &note,
			&firstSeen, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan ioc: %w", err)
		}
		i.Sources = unmarshalList(sources)
		i.Titles = unmarshalList(titles)
		i.Campaigns = unmarshalList(campaigns.String)
		i.Reputation = reputation.String
		i.Country = country.String
		i.Active = active.String
		i.DetailsURL = details.String
		i.Note = note.String
		if firstSeen.Valid {
			ts := time.Unix(firstSeen.Int64, 0).UTC()
			i.FirstSeen = &ts
		}
		i.CreatedAt = time.Unix(createdAt, 0).UTC()
		iocs = append(iocs, i)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ioc rows: %w", err)
	}
	return iocs, nil
}

// ThreatCounts returns the number of threats stored per UTC day over the last
// days days, oldest day first. Days without rows are omitted.
func (s *Store) ThreatCounts(ctx context.Context, days int) ([]DayCount, error) {
	if days <= 0 {
		days = 30
	}
	today := s.now().UTC().Truncate(24 * time.Hour)
	cutoff := today.AddDate(0, 0, -days)

	rows, err := s.db.QueryContext(ctx, `SELECT date(created_at, 'unixepoch') AS day, COUNT(1)
		FROM threats
		WHERE created_at >= ?
		GROUP BY day
		ORDER BY day`, cutoff.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to count threats: %w", err)
	}
	defer rows.Close()

	var counts []DayCount
	for rows.Next() {
		var c DayCount
		if err := rows.Scan(&c.Day, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan threat count: %w", err)
		}
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating threat counts: %w", err)
	}
	return counts, nil
}

// Reset deletes every stored threat, indicator and run.
func (s *Store) Reset(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	for _, table := range []string{"threats", "iocs", "runs"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func marshalList(v []string) (string, error) {
	if v == nil {
		v = []string{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal list: %w", err)
	}
	return string(b), nil
}

func unmarshalList(s string) []string {
	out := []string{}
	if s == "" {
		return out
	}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		// rows written by hand may hold a plain comma list
		out = out[:0]
		for _, part := range strings.Split(s, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
