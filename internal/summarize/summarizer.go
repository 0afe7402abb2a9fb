package summarize

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aegistrace/aegistrace/internal/intel"
	"github.com/aegistrace/aegistrace/internal/logging"
	"github.com/aegistrace/aegistrace/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const systemPrompt = "You are a threat intelligence analyst. Rewrite the report below as a concise summary of at most three sentences. " +
	"Copy every IP address, domain name and file hash that appears in the report verbatim. Reply with the summary only."

// Summarizer sets RefinedSummary on each record. Records whose call fails or
// times out keep their original summary.
type Summarizer struct {
	provider Provider
	timeout  time.Duration
	workers  int
	logger   *zap.SugaredLogger
}

// New returns a Summarizer over p. Non-positive timeout and workers fall
// back to the package defaults.
func New(p Provider, timeout time.Duration, workers int, logger *zap.SugaredLogger) *Summarizer {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Summarizer{provider: p, timeout: timeout, workers: workers, logger: logging.OrNop(logger)}
}

// Refine summarizes records in parallel. Output order and length match input.
func (s *Summarizer) Refine(ctx context.Context, records []intel.ThreatRecord) []intel.ThreatRecord {
	out := make([]intel.ThreatRecord, len(records))
	copy(out, records)

	var g errgroup.Group
	g.SetLimit(s.workers)
	for i := range out {
		i := i
		if strings.TrimSpace(out[i].Summary) == "" {
			continue
		}
		g.Go(func() error {
			refined, err := s.summarize(ctx, out[i])
			if err != nil {
				metrics.Summaries.WithLabelValues(s.provider.Name(), "error").Inc()
				s.logger.Warnw("Summary failed", "provider", s.provider.Name(), "title", out[i].Title, "error", err)
				return nil
			}
			metrics.Summaries.WithLabelValues(s.provider.Name(), "ok").Inc()
			out[i].RefinedSummary = refined
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (s *Summarizer) summarize(ctx context.Context, r intel.ThreatRecord) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	prompt := fmt.Sprintf("Source: %s\nTitle: %s\n\n%s", r.Source, r.Title, r.Summary)
	text, err := s.provider.Complete(ctx, systemPrompt, prompt)
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", fmt.Errorf("%s: empty summary", s.provider.Name())
	}
	return text, nil
}
