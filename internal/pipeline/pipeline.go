// Package pipeline sequences collection, extraction, enrichment and
// persistence for one run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aegistrace/aegistrace/internal/intel"
	"github.com/aegistrace/aegistrace/internal/ioc"
	"github.com/aegistrace/aegistrace/internal/logging"
	"github.com/aegistrace/aegistrace/internal/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// DefaultMaxThreats caps the threats kept per run.
	DefaultMaxThreats = 25

	MockSource  = "MockData"
	mockTitle   = "Mock Threat"
	mockSummary = "Simulated threat for testing."
)

// Collector gathers threat records from every feed.
type Collector interface {
	Collect(ctx context.Context) []intel.ThreatRecord
}

// Enricher attaches reputation data to indicators, preserving order.
type Enricher interface {
	EnrichAll(ctx context.Context, inds []intel.Indicator) []intel.EnrichedIndicator
}

// Sink receives a finished run, e.g. a record store or a message bus.
type Sink interface {
	SaveRun(ctx context.Context, run *intel.Run) error
}

// Deps wires a Pipeline.
type Deps struct {
	Collector  Collector
	Text       TextEnricher
	Enricher   Enricher
	Sinks      []Sink
	MaxThreats int
	Now        func() time.Time
	Logger     *zap.SugaredLogger
}

// Pipeline runs the stages in order.
type Pipeline struct {
	deps Deps
}

// New returns a pipeline. Text defaults to PassThrough and MaxThreats to
// DefaultMaxThreats.
func New(d Deps) *Pipeline {
	if d.Text == nil {
		d.Text = PassThrough{}
	}
	if d.MaxThreats <= 0 {
		d.MaxThreats = DefaultMaxThreats
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	d.Logger = logging.OrNop(d.Logger)
	return &Pipeline{deps: d}
}

// Run executes one full pass. The returned run is always complete; the error
// only reports sinks that failed to accept it.
func (p *Pipeline) Run(ctx context.Context) (*intel.Run, error) {
	log := p.deps.Logger
	run := &intel.Run{ID: uuid.NewString(), StartedAt: p.deps.Now()}
	log.Infow("Pipeline started", "run_id", run.ID)

	threats := p.deps.Collector.Collect(ctx)
	threats = p.prepare(threats)
	threats = p.deps.Text.Refine(ctx, threats)
	run.Threats = threats

	inds := ioc.Extract(threats)
	for _, ind := range inds {
		metrics.Indicators.WithLabelValues(string(ind.Kind)).Inc()
	}
	log.Infow("Indicators extracted", "run_id", run.ID, "threats", len(threats), "indicators", len(inds))

	if p.deps.Enricher != nil {
		run.Indicators = p.deps.Enricher.EnrichAll(ctx, inds)
	} else {
		run.Indicators = make([]intel.EnrichedIndicator, len(inds))
		for i, ind := range inds {
			run.Indicators[i] = intel.EnrichedIndicator{Indicator: ind, Enrichment: intel.NewEnrichment()}
		}
	}

	run.FinishedAt = p.deps.Now()
	metrics.PipelineDuration.Observe(run.FinishedAt.Sub(run.StartedAt).Seconds())

	var errs []error
	for _, s := range p.deps.Sinks {
		if err := s.SaveRun(ctx, run); err != nil {
			log.Errorw("Sink failed", "run_id", run.ID, "sink", fmt.Sprintf("%T", s), "error", err)
			errs = append(errs, err)
		}
	}

	log.Infow("Pipeline finished",
		"run_id", run.ID,
		"threats", len(run.Threats),
		"indicators", len(run.Indicators),
		"duration", run.FinishedAt.Sub(run.StartedAt).String())
	return run, errors.Join(errs...)
}

// prepare substitutes the mock record for an empty collection, then sorts by
// timestamp descending and applies the cap.
func (p *Pipeline) prepare(threats []intel.ThreatRecord) []intel.ThreatRecord {
	if len(threats) == 0 {
		p.deps.Logger.Warnw("No records collected, using mock data")
		threats = []intel.ThreatRecord{MockRecord(p.deps.Now())}
	}

	sorted := append([]intel.ThreatRecord(nil), threats...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.After(sorted[j].Timestamp)
	})
	if len(sorted) > p.deps.MaxThreats {
		sorted = sorted[:p.deps.MaxThreats]
	}
	return sorted
}

// MockRecord is the synthetic record used when no feed produced anything.
func MockRecord(now time.Time) intel.ThreatRecord {
	return intel.ThreatRecord{
		Title:     mockTitle,
		Summary:   mockSummary,
		URL:       intel.URLPlaceholder,
		Sector:    intel.DefaultSector,
		Timestamp: now,
		Source:    MockSource,
	}
}
