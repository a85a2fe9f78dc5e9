package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"etenders/internal/bid"
	"etenders/internal/classifier"
	"etenders/internal/config"
	"etenders/internal/cpv"
	"etenders/internal/crawler"
	"etenders/internal/logger"
	"etenders/internal/metrics"
	"etenders/internal/pipeline"
	"etenders/internal/sink"
)

const pdfAccept = "application/pdf,*/*;q=0.8"

// runFlags are command-line overrides of the configuration file.
type runFlags struct {
	configPath  string
	output      string
	startPage   int
	endPage     int
	delayMs     int
	noDocuments bool
	noCodes     bool
	analyzeBids bool
	debug       bool
}

func newRunCommand() *cobra.Command {
	var f runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Scrape the listing and write every derived record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadRunConfig(cmd, &f)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg)
		},
	}

	f.bind(cmd)

	return cmd
}

func (f *runFlags) bind(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&f.configPath, "config", "", "Path to the configuration file (defaults are used when empty)")
	flags.StringVar(&f.output, "output", "", "Output sink: json, csv or postgres")
	flags.IntVar(&f.startPage, "start-page", 0, "First listing page")
	flags.IntVar(&f.endPage, "end-page", 0, "Last listing page")
	flags.IntVar(&f.delayMs, "delay", 0, "Pause between listing pages in milliseconds")
	flags.BoolVar(&f.noDocuments, "no-documents", false, "Skip notice document enrichment")
	flags.BoolVar(&f.noCodes, "no-codes", false, "Skip classification code checking")
	flags.BoolVar(&f.analyzeBids, "analyze-bids", false, "Run bid analysis on every tender")
	flags.BoolVar(&f.debug, "debug", false, "Verbose logging and classifier debug artifacts")
}

// loadRunConfig reads .env and the config file, then applies the flags the
// user actually set.
func loadRunConfig(cmd *cobra.Command, f *runFlags) (*config.Config, error) {
	if err := config.LoadDotEnv(".env"); err != nil {
		return nil, err
	}

	cfg := config.Default()

	if f.configPath != "" {
		loaded, err := config.LoadConfig(f.configPath)
		if err != nil {
			return nil, err
		}

		cfg = loaded
	} else if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	flags := cmd.Flags()

	if flags.Changed("output") {
		cfg.Pipeline.Output = f.output
	}

	if flags.Changed("start-page") {
		cfg.Pipeline.StartPage = f.startPage
	}

	if flags.Changed("end-page") {
		cfg.Pipeline.EndPage = f.endPage
	}

	if flags.Changed("delay") {
		cfg.Scraper.PageDelayMs = f.delayMs
	}

	if f.noDocuments {
		cfg.Features.ProcessDocuments = false
	}

	if f.noCodes {
		cfg.Features.CheckCodes = false
	}

	if f.analyzeBids {
		cfg.Features.AnalyzeBids = true
	}

	if f.debug {
		cfg.Features.Debug = true
		cfg.Logging.Level = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func run(ctx context.Context, cfg *config.Config) error {
	runID := uuid.NewString()
	log := logger.New(os.Stderr, cfg.Logging.Level, cfg.Logging.Format).With("run_id", runID)
	startedAt := time.Now()

	log.Info("🚀 Starting eTenders pipeline")
	log.Info(fmt.Sprintf("📍 Source: %s (pages %d..%d)", cfg.Scraper.BaseURL, cfg.Pipeline.StartPage, cfg.Pipeline.EndPage))
	log.Info(fmt.Sprintf("🎯 Output: %s", cfg.Pipeline.Output))
	log.Debug("configuration loaded", "config", cfg.String())

	m := metrics.New()

	if cfg.Metrics.ListenAddr != "" {
		srv := metrics.NewServer(m, cfg.Metrics.ListenAddr)

		go func() {
			if err := srv.Serve(); err != nil {
				log.Warn(fmt.Sprintf("⚠️  Metrics server stopped: %v", err))
			}
		}()

		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			_ = srv.Shutdown(shutdownCtx)
		}()

		log.Info(fmt.Sprintf("ℹ️  Metrics on %s/metrics", cfg.Metrics.ListenAddr))
	}

	errlog := sink.NewErrorLog(cfg.Logging.ErrorLog, runID)

	deps, err := buildDeps(cfg, m, errlog, log)
	if err != nil {
		log.Error(fmt.Sprintf("❌ Setup failed: %v", err))

		return err
	}

	sinks, err := sink.Open(ctx, sink.Options{
		Format:    cfg.Pipeline.Output,
		OutputDir: cfg.Pipeline.OutputDir,
		DSN:       cfg.Postgres.DSN(),
		BatchSize: cfg.Postgres.BatchSize,
		Timeout:   cfg.Retry.GetTimeout(),
		ErrorLog:  errlog,
		Recorder:  m,
		Logger:    log.With("component", "sink"),
		StartedAt: startedAt,
	})
	if err != nil {
		log.Error(fmt.Sprintf("❌ Could not open %s output: %v", cfg.Pipeline.Output, err))

		return err
	}

	processor := pipeline.NewProcessor(deps, pipeline.Options{
		ProcessDocuments: cfg.Features.ProcessDocuments,
		CheckCodes:       cfg.Features.CheckCodes,
		AnalyzeBids:      cfg.Features.AnalyzeBids,
		Debug:            cfg.Features.Debug,
	}, log.With("component", "processor"))

	lister := crawler.NewLister(
		crawler.NewFetcherWithConfig(&cfg.Retry, cfg.MaxDocumentBytes()),
		cfg.Scraper.BaseURL,
		cfg.PageDelay(),
		log.With("component", "scraper"),
	)

	runner := pipeline.NewRunner(processor, sinks, errlog, log, cfg.Pipeline.ProgressEvery)

	summary, runErr := runner.Run(ctx, lister.Records(ctx, cfg.Pipeline.StartPage, cfg.Pipeline.EndPage))

	switch {
	case runErr == nil:
		log.Info("✨ Pipeline Complete!")
	case errors.Is(runErr, context.Canceled):
		log.Warn(fmt.Sprintf("⚠️  Run interrupted: %v", runErr))
	default:
		log.Error(fmt.Sprintf("❌ Run failed: %v", runErr))
	}

	printSummary(summary, errlog)

	return runErr
}

// buildDeps creates the stage collaborators the enabled features need.
func buildDeps(cfg *config.Config, m *metrics.Metrics, errlog *sink.ErrorLog, log *logger.Logger) (pipeline.Deps, error) {
	deps := pipeline.Deps{
		Metrics:  m,
		ErrorLog: errlog,
	}

	if cfg.Features.ProcessDocuments {
		deps.Documents = crawler.NewDocumentClientWithDeps(
			crawler.NewFetcherWithConfig(&cfg.Retry, cfg.MaxDocumentBytes()).WithAccept(pdfAccept),
			crawler.NewPDFExtractor(),
		)

		deps.Classifier = classifier.New(
			classifier.NewOllamaClient(cfg.Classifier.Endpoint, cfg.Classifier.Model, cfg.ClassifierTimeout()),
			classifier.Options{
				DebugDir: cfg.Classifier.DebugDir,
				MaxChars: cfg.Classifier.MaxChars,
				Debug:    cfg.Features.Debug,
			},
			log.With("component", "classifier"),
		).WithObserver(m)

		log.Info(fmt.Sprintf("ℹ️  Classifier: %s @ %s", cfg.Classifier.Model, cfg.Classifier.Endpoint))
	}

	if cfg.Features.CheckCodes {
		dict, err := cpv.LoadDictionary(cfg.Reference.Path)
		if err != nil {
			return deps, fmt.Errorf("failed to load code dictionary: %w", err)
		}

		deps.Extractor = cpv.NewExtractor(dict)

		log.Info(fmt.Sprintf("✅ Loaded %d reference codes", dict.Len()))
	}

	if cfg.Features.AnalyzeBids {
		deps.Bids = bid.NewAnalyzer(
			classifier.NewOllamaClient(cfg.Classifier.Endpoint, cfg.Bid.Model, cfg.BidTimeout()),
			log.With("component", "bid"),
		)

		log.Info(fmt.Sprintf("ℹ️  Bid analysis: %s", cfg.Bid.Model))
	}

	return deps, nil
}

func printSummary(s pipeline.Summary, errlog *sink.ErrorLog) {
	fmt.Println("\n------------------------------------------------")
	fmt.Printf("📊 Summary Report\n")
	fmt.Println("------------------------------------------------")
	fmt.Printf("Tenders processed: %d\n", s.Records)
	fmt.Printf("Documents enriched: %d (fallbacks: %d)\n", s.Enriched, s.Fallbacks)
	fmt.Printf("Code records: %d\n", s.CodeRecords)

	if s.Bids > 0 {
		fmt.Printf("Bid analyses: %d (recommended: %d)\n", s.Bids, s.Recommended)
	}

	fmt.Printf("Total Duration: %v\n\n", s.Duration.Round(time.Millisecond))
	fmt.Println(s.Table())

	if s.ScrapeErrors > 0 || s.Failed() > 0 {
		fmt.Printf("\n⚠️  Errors encountered: %d listing, %d writes", s.ScrapeErrors, s.Failed())

		if path := errlog.Path(); path != "" {
			fmt.Printf(" (see %s)", path)
		}

		fmt.Println()
	}

	fmt.Println("------------------------------------------------")
}
