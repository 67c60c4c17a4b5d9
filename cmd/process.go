package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"call-insights-go/internal/config"
	"call-insights-go/internal/driver"
	"call-insights-go/internal/extractor"
	"call-insights-go/internal/gateway"
	"call-insights-go/internal/logger"
	"call-insights-go/internal/scheduler"
	"call-insights-go/internal/transcription"
)

var (
	clipsDir       string
	exportPath     string
	language       string
	batchSize      int
	maxAttempts    int
	baseDelay      time.Duration
	maxDelay       time.Duration
	resume         bool
	forceReprocess bool
	mockProviders  bool
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Process pending clips from the source directory",
	Long: `Process enumerates audio clips once, reconciles them with the durable
processing records, and drives the pending set through transcription,
analysis and persistence. Already-persisted clips are skipped unless
--force-reprocess is set.`,
	RunE: runProcess,
}

func init() {
	processCmd.Flags().StringVar(&clipsDir, "clips-dir", "", "directory containing audio clips (default: CLIPS_DIR)")
	processCmd.Flags().StringVar(&exportPath, "export", "", "write an xlsx run report to this path")
	processCmd.Flags().StringVarP(&language, "language", "l", "", "language hint for transcription")
	processCmd.Flags().IntVarP(&batchSize, "batch-size", "b", 0, "worker pool size")
	processCmd.Flags().IntVar(&maxAttempts, "max-attempts", 0, "per-stage retry cap")
	processCmd.Flags().DurationVar(&baseDelay, "base-delay", 0, "backoff base delay")
	processCmd.Flags().DurationVar(&maxDelay, "max-delay", 0, "backoff delay cap")
	processCmd.Flags().BoolVar(&resume, "resume", false, "requeue pending records missing from the clips directory")
	processCmd.Flags().BoolVar(&forceReprocess, "force-reprocess", false, "reprocess clips already in a terminal state")
	processCmd.Flags().BoolVar(&mockProviders, "mock-providers", false, "use deterministic in-memory providers")

	rootCmd.AddCommand(processCmd)
}

func runProcess(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyFlags(cmd, &cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log := logger.New()
	log.WithField("service", "call-insights").Info("starting batch run")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gw := gateway.NewPostgres(cfg, log.Entry)
	if err := gw.Connect(ctx); err != nil {
		return fmt.Errorf("connect storage: %w", err)
	}
	defer gw.Close()
	if err := gw.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate storage: %w", err)
	}

	var (
		tr scheduler.Transcriber
		an scheduler.Analyzer
	)
	if cfg.MockProviders {
		log.Warn("mock providers enabled, no remote calls will be made")
		tr = driver.MockTranscriber{}
		an = driver.MockAnalyzer{}
	} else {
		tr = transcription.NewClient(cfg, log.Entry)
		an = extractor.NewClient(cfg, log.Entry)
	}

	d := driver.New(cfg, gw, tr, an, log.Entry)
	sum, err := d.Run(ctx)
	if err != nil {
		return err
	}
	if sum.Pending > 0 {
		log.WithField("pending", sum.Pending).Warn("run interrupted, rerun to resume pending clips")
	}
	return nil
}

// applyFlags overrides env-derived config with explicitly set flags.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("clips-dir") {
		cfg.ClipsDir = clipsDir
	}
	if cmd.Flags().Changed("export") {
		cfg.ExportPath = exportPath
	}
	if cmd.Flags().Changed("language") {
		cfg.Language = language
	}
	if cmd.Flags().Changed("batch-size") {
		cfg.BatchSize = batchSize
	}
	if cmd.Flags().Changed("max-attempts") {
		cfg.MaxAttempts = maxAttempts
	}
	if cmd.Flags().Changed("base-delay") {
		cfg.BaseDelay = baseDelay
	}
	if cmd.Flags().Changed("max-delay") {
		cfg.MaxDelay = maxDelay
	}
	if cmd.Flags().Changed("mock-providers") {
		cfg.MockProviders = mockProviders
	}
	cfg.Resume = cfg.Resume || resume
	cfg.ForceReprocess = cfg.ForceReprocess || forceReprocess
}
