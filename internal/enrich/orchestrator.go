package enrich

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/aegistrace/aegistrace/internal/intel"
	"github.com/aegistrace/aegistrace/internal/logging"
	"github.com/aegistrace/aegistrace/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultWorkers bounds how many indicators are enriched at once.
const DefaultWorkers = 8

// Config controls an Orchestrator.
type Config struct {
	// Enabled false skips every provider and stamps the disabled result.
	Enabled bool
	Workers int
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithCache reuses enrichments that every provider answered definitively.
func WithCache(c Cache) Option {
	return func(o *Orchestrator) { o.cache = c }
}

// Orchestrator routes indicators to the providers that support their kind.
type Orchestrator struct {
	cfg       Config
	providers []Provider
	cache     Cache
	logger    *zap.SugaredLogger
}

// NewOrchestrator returns an orchestrator calling providers in the given
// order. That order is the order of reputation tokens.
func NewOrchestrator(cfg Config, providers []Provider, logger *zap.SugaredLogger, opts ...Option) *Orchestrator {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	o := &Orchestrator{
		cfg:       cfg,
		providers: providers,
		logger:    logging.OrNop(logger),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Enabled reports whether providers are called at all.
func (o *Orchestrator) Enabled() bool { return o.cfg.Enabled }

func (o *Orchestrator) route(kind intel.Kind) []Provider {
	var out []Provider
	for _, p := range o.providers {
		if p.Supports(kind) {
			out = append(out, p)
		}
	}
	return out
}

// Enrich returns the enrichment of one indicator. It always returns a fully
// populated result: a panic anywhere in the lookup becomes the error result.
func (o *Orchestrator) Enrich(ctx context.Context, ind intel.Indicator) (res intel.Enrichment) {
	if !o.cfg.Enabled {
		return Disabled()
	}

	defer func() {
		if r := recover(); r != nil {
			o.logger.Errorw("Enrichment failed", "indicator", ind.Value, "kind", ind.Kind, "panic", fmt.Sprint(r))
			res = Failed(r)
		}
	}()

	key := CacheKey(ind)
	if o.cache != nil {
		if cached, ok := o.cache.Get(ctx, key); ok {
			return cached
		}
	}

	providers := o.route(ind.Kind)
	partials := make([]Partial, len(providers))
	panics := make([]any, len(providers))

	var wg sync.WaitGroup
	for i, p := range providers {
		i, p := i, p
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					panics[i] = r
				}
			}()
			partials[i] = p.Lookup(ctx, ind)
		}()
	}
	wg.Wait()

	for _, r := range panics {
		if r != nil {
			panic(r)
		}
	}

	transient := false
	for _, p := range partials {
		o.observe(ind, p)
		transient = transient || p.Transient
	}

	res = Reduce(partials)
	if o.cache != nil && !transient {
		o.cache.Set(ctx, key, res)
	}
	return res
}

func (o *Orchestrator) observe(ind intel.Indicator, p Partial) {
	if p.Err != nil {
		o.logger.Warnw("Provider lookup failed",
			"provider", p.Provider, "indicator", ind.Value, "token", p.Token, "error", p.Err)
	}
	metrics.ProviderCalls.WithLabelValues(p.Provider, outcome(p.Token)).Inc()
}

// outcome is the verdict part of a failure token, or "ok".
func outcome(tok string) string {
	if i := strings.LastIndexByte(tok, ':'); i >= 0 {
		switch v := tok[i+1:]; v {
		case verdictUnavailable, verdictError, verdictMissingKey, verdictNotFound:
			return v
		}
	}
	return verdictOK
}

// EnrichAll enriches indicators on a bounded pool. Output order matches input.
func (o *Orchestrator) EnrichAll(ctx context.Context, inds []intel.Indicator) []intel.EnrichedIndicator {
	out := make([]intel.EnrichedIndicator, len(inds))

	var g errgroup.Group
	g.SetLimit(o.cfg.Workers)
	for i, ind := range inds {
		i, ind := i, ind
		g.Go(func() error {
			out[i] = intel.EnrichedIndicator{Indicator: ind, Enrichment: o.Enrich(ctx, ind)}
			return nil
		})
	}
	_ = g.Wait()

	o.logger.Infow("Enrichment finished", "indicators", len(inds), "enabled", o.cfg.Enabled)
	return out
}
