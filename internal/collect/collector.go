package collect

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/aegistrace/aegistrace/internal/intel"
	"github.com/aegistrace/aegistrace/internal/logging"
	"github.com/aegistrace/aegistrace/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultWorkers bounds concurrent feed fetches.
const DefaultWorkers = 4

// Collector runs every source on a bounded pool and merges the results once
// all of them have finished.
type Collector struct {
	sources []Source
	workers int
	logger  *zap.SugaredLogger
}

// NewCollector returns a collector over sources. Sources implementing Fanout
// are split into their tasks.
func NewCollector(sources []Source, workers int, logger *zap.SugaredLogger) *Collector {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Collector{
		sources: sources,
		workers: workers,
		logger:  logging.OrNop(logger),
	}
}

// tasks expands fan-out sources, keeping registration order.
func (c *Collector) tasks() []Source {
	var out []Source
	for _, s := range c.sources {
		if fo, ok := s.(Fanout); ok {
			out = append(out, fo.Tasks()...)
			continue
		}
		out = append(out, s)
	}
	return out
}

// Collect returns the records of every task, grouped in task order.
func (c *Collector) Collect(ctx context.Context) []intel.ThreatRecord {
	tasks := c.tasks()
	results := make([][]intel.ThreatRecord, len(tasks))

	start := time.Now()
	var g errgroup.Group
	g.SetLimit(c.workers)
	for i, task := range tasks {
		i, task := i, task
		g.Go(func() error {
			results[i] = c.run(ctx, task)
			return nil
		})
	}
	_ = g.Wait()

	var records []intel.ThreatRecord
	for _, rs := range results {
		records = append(records, rs...)
	}

	c.logger.Infow("Collection finished",
		"tasks", len(tasks),
		"records", len(records),
		"duration", time.Since(start).String())
	return records
}

// run calls one task, converting a panic into an empty result.
func (c *Collector) run(ctx context.Context, task Source) (records []intel.ThreatRecord) {
	defer func() {
		if r := recover(); r != nil {
			metrics.SourceFailures.WithLabelValues(task.Name(), "panic").Inc()
			c.logger.Errorw("Source panicked",
				"source", task.Name(),
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()))
			records = nil
		}
	}()
	return task.Collect(ctx)
}
