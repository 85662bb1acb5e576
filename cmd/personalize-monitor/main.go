package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/opscart/personalize-monitor/pkg/arn"
	"github.com/opscart/personalize-monitor/pkg/config"
	"github.com/opscart/personalize-monitor/pkg/logging"
	"github.com/opscart/personalize-monitor/pkg/models"
	"github.com/opscart/personalize-monitor/pkg/reporter"
	"github.com/opscart/personalize-monitor/pkg/storage"
)

var (
	// Global flags
	configFile   string
	outputFormat string

	// History flags
	historyARN        string
	historyLimit      int
	historySince      time.Duration
	historyActionable bool

	cfg *config.Config
	log zerolog.Logger
)

func main() {
	cfg = config.NewConfig()
	log = logging.Default()

	rootCmd := &cobra.Command{
		Use:   "personalize-monitor",
		Short: "Amazon Personalize campaign and recommender monitor",
		Long: `Watches request traffic of Amazon Personalize campaigns and recommenders, keeps
utilization and idle alarms in place and emits events to lower over-provisioned
minimum rates or retire idle resources.`,
		SilenceUsage:      true,
		PersistentPreRunE: setup,
		PersistentPostRun: func(*cobra.Command, []string) { sentry.Flush(2 * time.Second) },
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "YAML configuration file (overrides environment defaults)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "text", "Output format: text, json, csv")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run one monitoring pass and print its report",
		RunE:  runPass,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run passes on an interval and serve /metrics, /healthz and POST /run",
		RunE:  runServe,
	}

	cleanupCmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete every alarm created by the monitor in the configured regions",
		RunE:  runCleanup,
	}

	deleteAlarmsCmd := &cobra.Command{
		Use:   "delete-alarms <resource-arn>",
		Short: "Delete the monitor's alarms for one campaign or recommender",
		Args:  cobra.ExactArgs(1),
		RunE:  runDeleteAlarms,
	}

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "View recent decisions from the history store",
		RunE:  runHistory,
	}
	historyCmd.Flags().StringVar(&historyARN, "arn", "", "Only decisions for this resource ARN")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Number of decisions to show")
	historyCmd.Flags().DurationVar(&historySince, "since", 7*24*time.Hour, "How far back to look")
	historyCmd.Flags().BoolVar(&historyActionable, "actionable", false, "Hide NO_ACTION decisions")

	rootCmd.AddCommand(runCmd, serveCmd, cleanupCmd, deleteAlarmsCmd, historyCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup loads configuration and builds the logger shared by every command
func setup(cmd *cobra.Command, _ []string) error {
	if configFile != "" {
		if err := cfg.LoadFile(configFile); err != nil {
			return &models.ConfigError{Err: err}
		}
	}

	l, err := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return &models.ConfigError{Err: fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)}
	}
	log = l.With().Str("command", cmd.Name()).Logger()

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			AttachStacktrace: true,
		}); err != nil {
			log.Warn().Err(err).Msg("sentry initialization failed")
		}
	}
	return nil
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func validateConfig() error {
	if err := cfg.Validate(); err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		sentry.CaptureException(err)
		return err
	}
	return nil
}

func runPass(cmd *cobra.Command, _ []string) error {
	format, err := reporter.ParseFormat(outputFormat)
	if err != nil {
		return err
	}
	if err := validateConfig(); err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.runPass(ctx)
	if err != nil {
		return err
	}
	return reporter.New(format).Write(cmd.OutOrStdout(), report)
}

func runServe(_ *cobra.Command, _ []string) error {
	if err := validateConfig(); err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	a.telemetry.WithRuntimeCollectors()
	srv := newServer(a, a.telemetry.Handler(), log, cfg.SentryDSN != "")
	return srv.Serve(ctx, cfg.ListenAddr, cfg.Interval)
}

func runCleanup(cmd *cobra.Command, _ []string) error {
	if len(cfg.Regions) == 0 {
		return &models.ConfigError{Err: fmt.Errorf("REGIONS or AWS_REGION must be set")}
	}

	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	total := 0
	var failed error
	for _, region := range cfg.Regions {
		n, err := a.alarms.DeleteAll(ctx, region)
		total += n
		if err != nil {
			log.Error().Err(err).Str("region", region).Msg("cleanup failed")
			failed = err
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d alarm(s) in %d region(s)\n", total, len(cfg.Regions))
	return failed
}

func runDeleteAlarms(cmd *cobra.Command, args []string) error {
	resourceARN := args[0]
	if _, err := arn.Parse(resourceARN); err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.alarms.DeleteForResource(ctx, resourceARN)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d alarm(s) for %s\n", n, resourceARN)
	return nil
}

func runHistory(cmd *cobra.Command, _ []string) error {
	if !cfg.StorageEnabled {
		return fmt.Errorf("storage is disabled; set STORAGE_ENABLED=true to record and view history")
	}

	ctx, cancel := signalContext()
	defer cancel()

	store, err := storage.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer store.Close()

	records, err := store.ListDecisions(ctx, storage.DecisionFilter{
		ResourceARN:    historyARN,
		Since:          time.Now().Add(-historySince),
		ActionableOnly: historyActionable,
		Limit:          historyLimit,
	})
	if err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}
	return reporter.GenerateHistory(records, cmd.OutOrStdout())
}
