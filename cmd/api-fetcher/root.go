package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Sternrassler/api-fetcher/pkg/config"
	"github.com/Sternrassler/api-fetcher/pkg/fetcher"
	"github.com/Sternrassler/api-fetcher/pkg/logging"
	"github.com/Sternrassler/api-fetcher/pkg/metrics"
	"github.com/Sternrassler/api-fetcher/pkg/scheduler"
)

type options struct {
	configPath  string
	dryRun      bool
	once        bool
	interval    int
	baseName    string
	logLevel    string
	logPretty   bool
	metricsAddr string
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "api-fetcher",
		Short: "Fetch paginated API data and save it as JSON, CSV and Excel",
		Long: `api-fetcher pulls every page of a REST endpoint described by a YAML or
JSON config file, flattens the records and writes them to the configured
outputs. Without a url in the config, or with --dry-run, sample data is
written instead.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.interval < 0 {
				return errors.New("--interval must be a positive number of minutes")
			}
			if err := logging.ValidLevel(opts.logLevel); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, opts, cmd.ErrOrStderr())
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Path to the YAML or JSON config file")
	flags.BoolVar(&opts.dryRun, "dry-run", false, "Write sample data instead of calling the API")
	flags.BoolVar(&opts.once, "once", false, "Run a single fetch and exit, even when --interval is set")
	flags.IntVar(&opts.interval, "interval", 0, "Fetch every N minutes until interrupted")
	flags.StringVar(&opts.baseName, "base-name", fetcher.DefaultBaseName, "Base name of output files")
	flags.StringVar(&opts.logLevel, "log-level", string(logging.LevelInfo), "Log level (debug, info, warn, error)")
	flags.BoolVar(&opts.logPretty, "log-pretty", false, "Human-readable console logs instead of JSON")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve /metrics and /health on this address, e.g. :9090")

	return cmd
}

func run(ctx context.Context, opts *options, logOut io.Writer) error {
	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(opts.logLevel),
		Pretty: opts.logPretty,
		Output: logOut,
	})

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		logger.Error().Err(err).Str("path", opts.configPath).Msg("Failed to load config")
		return err
	}
	cfg = cfg.WithAPIKeyFallback(os.Getenv("API_KEY"))

	if opts.metricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, opts.metricsAddr, logger); err != nil {
				logger.Error().Err(err).Msg("Metrics server stopped")
			}
		}()
	}

	st, err := fetcher.Build(cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to set up fetcher")
		return err
	}
	defer st.Close()

	if opts.dryRun || cfg.URL == "" {
		_, err := st.Fetcher.SaveSample(ctx, opts.baseName)
		return err
	}

	job := func(ctx context.Context) error {
		_, err := st.Fetcher.FetchAndSave(ctx, opts.baseName)
		return err
	}

	if opts.interval == 0 || opts.once {
		return job(ctx)
	}
	return schedule(ctx, cfg, st, job, time.Duration(opts.interval)*time.Minute, logger)
}

func schedule(ctx context.Context, cfg *config.FetchConfig, st *fetcher.Stack, job scheduler.Job, interval time.Duration, logger zerolog.Logger) error {
	var locker scheduler.Locker = scheduler.NewLocalLocker()
	if st.Redis != nil {
		locker = scheduler.NewRedisLocker(st.Redis)
	}
	host := cfg.Host()

	s, err := scheduler.New(interval, job,
		scheduler.WithLocker(locker, cfg.Fingerprint()),
		scheduler.WithCooldown(func(ctx context.Context) time.Duration {
			return st.Tracker.Cooldown(ctx, host)
		}),
		scheduler.WithLogger(logger.With().Str("component", "scheduler").Logger()),
	)
	if err != nil {
		return err
	}

	logger.Info().
		Str("url", cfg.URL).
		Int("interval_minutes", int(interval/time.Minute)).
		Msg("Running on schedule, interrupt to stop")
	return s.Run(ctx)
}
