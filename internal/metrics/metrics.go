// Package metrics holds the prometheus collectors for a pipeline run.
package metrics

import (
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
)

// Registry is the registry every collector below is registered on.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	SourceRecords = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegistrace_source_records_total",
			Help: "Threat records produced per source",
		},
		[]string{"source"},
	)

	SourceFailures = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegistrace_source_failures_total",
			Help: "Source fetch or parse failures",
		},
		[]string{"source", "reason"},
	)

	ProviderCalls = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegistrace_provider_calls_total",
			Help: "Enrichment provider lookups by outcome",
		},
		[]string{"provider", "outcome"},
	)

	Indicators = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegistrace_indicators_total",
			Help: "Indicators extracted per kind",
		},
		[]string{"kind"},
	)

	CacheLookups = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegistrace_enrichment_cache_lookups_total",
			Help: "Enrichment cache lookups by result",
		},
		[]string{"result"},
	)

	Summaries = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aegistrace_summaries_total",
			Help: "Model summary requests by outcome",
		},
		[]string{"provider", "outcome"},
	)

	PipelineDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "aegistrace_pipeline_duration_seconds",
			Help:    "Wall time of a full pipeline run",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// WriteText writes every registered metric family in the text exposition format.
func WriteText(w io.Writer) error {
	families, err := Registry.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("failed to encode metric %s: %w", mf.GetName(), err)
		}
	}
	return nil
}
