package cmd

import (
	"fmt"
	"os"

	"github.com/aegistrace/aegistrace/internal/bus"
	"github.com/aegistrace/aegistrace/internal/collect"
	"github.com/aegistrace/aegistrace/internal/config"
	"github.com/aegistrace/aegistrace/internal/enrich"
	"github.com/aegistrace/aegistrace/internal/logging"
	"github.com/aegistrace/aegistrace/internal/metrics"
	"github.com/aegistrace/aegistrace/internal/pipeline"
	"github.com/aegistrace/aegistrace/internal/report"
	"github.com/aegistrace/aegistrace/internal/store"
	"github.com/aegistrace/aegistrace/internal/summarize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	maxThreats int
	noEnrich   bool
	workers    int
	noStore    bool
	publish    bool
	exportCSV  string
	metricsOut string
	noClassify bool
	summarizer string
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Collect, extract and enrich once",
	Long: `Run executes the pipeline once:

1. Collects threat records from every configured feed in parallel
2. Keeps the newest records up to --max-threats
3. Extracts IP, domain and hash indicators
4. Enriches each indicator with AbuseIPDB, Pulsedive and VirusTotal
5. Stores the run in SQLite and optionally publishes it to Redis Streams

Examples:
  # Full run with the configured keys
  aegistrace run

  # Collect and extract only
  aegistrace run --no-enrich

  # Export enriched indicators for a spreadsheet
  aegistrace run --export-csv iocs_enriched.csv

  # Publish indicators to Redis Streams
  aegistrace run --redis redis://localhost:6379 --publish`,
	Args: cobra.NoArgs,
	RunE: runPipeline,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().IntVar(&maxThreats, "max-threats", 0, "Maximum number of threats to keep (default from config, 25)")
	runCmd.Flags().BoolVar(&noEnrich, "no-enrich", false, "Skip provider lookups")
	runCmd.Flags().IntVar(&workers, "workers", 0, "Concurrent feed fetches (default from config)")
	runCmd.Flags().BoolVar(&noStore, "no-store", false, "Do not write the run to the database")
	runCmd.Flags().BoolVar(&publish, "publish", false, "Publish indicators to Redis Streams")
	runCmd.Flags().StringVar(&exportCSV, "export-csv", "", "Write enriched indicators to this CSV file")
	runCmd.Flags().StringVar(&metricsOut, "metrics-out", "", "Write Prometheus metrics to this file after the run")
	runCmd.Flags().BoolVar(&noClassify, "no-classify", false, "Leave threat types unset")
	runCmd.Flags().StringVar(&summarizer, "summarize", "", "Rewrite summaries with a model provider: ollama or openrouter (default from config)")
}

func runPipeline(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyRunFlags(cfg)

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	var sinks []pipeline.Sink
	if !noStore {
		logger.Infow("Using database", "path", cfg.Database.Path)
		st, err := store.NewStore(cfg.Database.Path)
		if err != nil {
			return fmt.Errorf("failed to initialize store: %w", err)
		}
		defer st.Close()
		sinks = append(sinks, st)
	}
	if publish {
		if cfg.Redis.URL == "" {
			return fmt.Errorf("--publish requires a Redis URL (--redis or redis.url)")
		}
		b := bus.NewBus(cfg.Redis.URL, logger)
		defer b.Close()
		sinks = append(sinks, b)
	}

	orchestrator, closeCache := buildOrchestrator(cfg, logger)
	defer closeCache()

	text, err := buildTextEnricher(cfg, logger)
	if err != nil {
		return err
	}

	p := pipeline.New(pipeline.Deps{
		Collector:  collect.NewCollector(collect.DefaultSources(cfg.CollectSettings(), collectOptions(cfg, logger)), cfg.Collect.Workers, logger),
		Text:       text,
		Enricher:   orchestrator,
		Sinks:      sinks,
		MaxThreats: cfg.Pipeline.MaxThreats,
		Logger:     logger,
	})

	run, runErr := p.Run(ctx)
	if run != nil {
		report.WriteRunSummary(os.Stdout, run)
	}

	if exportCSV != "" && run != nil {
		if err := writeFile(exportCSV, func(f *os.File) error { return report.WriteIndicatorsCSV(f, run.Indicators) }); err != nil {
			return fmt.Errorf("failed to export indicators: %w", err)
		}
		fmt.Printf("IoCs exported to %s\n", exportCSV)
	}
	if metricsOut != "" {
		if err := writeFile(metricsOut, func(f *os.File) error { return metrics.WriteText(f) }); err != nil {
			return fmt.Errorf("failed to write metrics: %w", err)
		}
	}

	if runErr != nil {
		return fmt.Errorf("run %s completed with sink errors: %w", run.ID, runErr)
	}
	return nil
}

func applyRunFlags(cfg *config.Config) {
	if maxThreats > 0 {
		cfg.Pipeline.MaxThreats = maxThreats
	}
	if workers > 0 {
		cfg.Collect.Workers = workers
	}
	if noEnrich {
		cfg.Enrich.Enabled = false
	}
	if summarizer != "" {
		cfg.Summarize.Provider = summarizer
	}
}

// buildTextEnricher chains the optional model summarizer and the keyword
// classifier.
func buildTextEnricher(cfg *config.Config, logger *zap.SugaredLogger) (pipeline.TextEnricher, error) {
	var chain pipeline.Chain
	if cfg.Summarize.Enabled() {
		provider, err := summarize.NewProvider(cfg.Summarize)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize summarizer: %w", err)
		}
		chain = append(chain, summarize.New(provider, cfg.Summarize.Timeout, cfg.Summarize.Workers, logger))
	}
	if !noClassify {
		chain = append(chain, pipeline.NewKeywordClassifier())
	}
	return chain, nil
}

func collectOptions(cfg *config.Config, logger *zap.SugaredLogger) collect.Options {
	opts := collect.Options{
		HTTPTimeout: cfg.HTTP.Timeout,
		UserAgent:   cfg.HTTP.UserAgent,
		Logger:      logger,
	}
	if cfg.HTTP.RPS > 0 {
		opts.Limiter = rate.NewLimiter(rate.Limit(cfg.HTTP.RPS), 1)
	}
	return opts
}

// buildOrchestrator wires providers and the optional result cache. The
// returned func releases the cache.
func buildOrchestrator(cfg *config.Config, logger *zap.SugaredLogger) (*enrich.Orchestrator, func()) {
	logger = logging.OrNop(logger)
	providers := enrich.DefaultProviders(cfg.EnrichKeys(), cfg.Enrich.Endpoints, enrich.ClientOptions{
		Timeout:   cfg.HTTP.Timeout,
		UserAgent: cfg.HTTP.UserAgent,
		RPS:       cfg.Enrich.RPS,
		Burst:     cfg.Enrich.Burst,
		Logger:    logger,
	})

	ecfg := enrich.Config{Enabled: cfg.Enrich.Enabled, Workers: cfg.Enrich.Workers}
	if cfg.Enrich.CacheTTL <= 0 || !cfg.Enrich.Enabled {
		return enrich.NewOrchestrator(ecfg, providers, logger), func() {}
	}

	cache := enrich.NewCacheManager(cfg.Redis.URL, cfg.Enrich.CacheSize, cfg.Enrich.CacheTTL, logger)
	closeCache := func() {
		hits, misses := cache.Stats()
		logger.Infow("Enrichment cache", "hits", hits, "misses", misses)
		_ = cache.Close()
	}
	return enrich.NewOrchestrator(ecfg, providers, logger, enrich.WithCache(cache)), closeCache
}

func writeFile(path string, write func(f *os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
