package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aegistrace/aegistrace/internal/intel"
)

// RunEntry is one row of the run log.
type RunEntry struct {
	ID         string            `json:"id"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Threats    int               `json:"threats"`
	Indicators int               `json:"indicators"`
	Sources    map[string]int    `json:"sources"`    // threat count per feed
	Metadata   map[string]string `json:"metadata"`   // reputation tallies etc.
	CreatedAt  time.Time         `json:"created_at"`
}

func (s *Store) setupRunTables() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			started_at INTEGER NOT NULL,
			finished_at INTEGER NOT NULL,
			threats INTEGER NOT NULL,
			indicators INTEGER NOT NULL,
			sources TEXT NOT NULL,
			metadata TEXT,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return fmt.Errorf("failed to execute run log migration: %w", err)
		}
	}
	return nil
}

func (s *Store) insertRun(ctx context.Context, db execer, run *intel.Run) error {
	entry := summarize(run)

	sourcesJSON, err := json.Marshal(entry.Sources)
	if err != nil {
		return fmt.Errorf("failed to marshal run sources: %w", err)
	}
	metadataJSON, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal run metadata: %w", err)
	}

	query := `INSERT OR REPLACE INTO runs (
		id, started_at, finished_at, threats, indicators, sources, metadata, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = db.ExecContext(ctx, query,
		entry.ID, entry.StartedAt.Unix(), entry.FinishedAt.Unix(), entry.Threats,
		entry.Indicators, string(sourcesJSON), string(metadataJSON), s.now().Unix())
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", run.ID, err)
	}
	return nil
}

// summarize derives the run log row for a run.
func summarize(run *intel.Run) RunEntry {
	entry := RunEntry{
		ID:         run.ID,
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
		Threats:    len(run.Threats),
		Indicators: len(run.Indicators),
		Sources:    map[string]int{},
		Metadata:   map[string]string{},
	}
	for _, t := range run.Threats {
		entry.Sources[t.Source]++
	}
	kinds := map[intel.Kind]int{}
	for _, ind := range run.Indicators {
		kinds[ind.Kind]++
	}
	for _, k := range intel.Kinds {
		entry.Metadata[string(k)] = fmt.Sprintf("%d", kinds[k])
	}
	return entry
}

// ListRuns returns the run log, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunEntry, error) {
	query := `SELECT id, started_at, finished_at, threats, indicators, sources, metadata, created_at
		FROM runs ORDER BY started_at DESC`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var entries []RunEntry
	for rows.Next() {
		var (
			entry                            RunEntry
			sourcesJSON                      string
			metadataJSON                     sql.NullString
			startedAt, finishedAt, createdAt int64
		)
		if err := rows.Scan(&entry.ID, &startedAt, &finishedAt, &entry.Threats,
			&entry.Indicators, &sourcesJSON, &metadataJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		entry.StartedAt = time.Unix(startedAt, 0).UTC()
		entry.FinishedAt = time.Unix(finishedAt, 0).UTC()
		entry.CreatedAt = time.Unix(createdAt, 0).UTC()

		if err := json.Unmarshal([]byte(sourcesJSON), &entry.Sources); err != nil {
			entry.Sources = map[string]int{}
		}
		if metadataJSON.Valid {
			if err := json.Unmarshal([]byte(metadataJSON.String), &entry.Metadata); err != nil {
				entry.Metadata = map[string]string{"raw": metadataJSON.String}
			}
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating run rows: %w", err)
	}
	return entries, nil
}
