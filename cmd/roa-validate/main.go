package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"roafetch/pkg/config"
	"roafetch/pkg/logger"
	"roafetch/pkg/metrics"
	"roafetch/pkg/session"
)

const version = "0.1.0"

type options struct {
	configPath    string
	collectors    string
	intervals     string
	unified       bool
	mode          string
	brokerURL     string
	sshOptions    string
	metricsListen string
	logLevel      string
	debug         bool
}

func main() {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "roa-validate [ts asn prefix masklen]",
		Short: "Validate route origins against historical or live ROAs",
		Long: `Validate route origins against the ROA archive or a live RTR cache.

Records are read from the arguments or, when none are given, one per line from
stdin. A record is "ts asn prefix masklen" or "ts asn prefix/masklen"; lines
starting with # are skipped. One result line is printed per record.`,
		Example: `  # Validate one announcement against the FU-Berlin archive
  roa-validate --intervals 1438416516-1438416516 1438416516 12654 93.175.146.0 24

  # Validate a file of records against two collectors, unified
  roa-validate --collectors 'FU-Berlin:CC01;FU-Berlin:CC06(RTR)' \
      --intervals 1438416516-0 --unified < records.txt`,
		Version:       version,
		Args:          cobra.MaximumNArgs(4),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, args)
		},
	}

	flags := rootCmd.Flags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "YAML configuration file")
	flags.StringVar(&opts.collectors, "collectors", "", "Project:collector pairs, e.g. 'FU-Berlin:CC01;FU-Berlin:CC06(RTR)'")
	flags.StringVar(&opts.intervals, "intervals", "", "Time intervals, e.g. '1438416516-1438416516,1440000000-0'")
	flags.BoolVarP(&opts.unified, "unified", "u", false, "Validate against all collectors as one table")
	flags.StringVar(&opts.mode, "mode", "", "historical or live")
	flags.StringVar(&opts.brokerURL, "broker-url", "", "Broker base URL")
	flags.StringVar(&opts.sshOptions, "ssh", "", "RTR ssh options: user,hostkey,privkey")
	flags.StringVar(&opts.metricsListen, "metrics-listen", "", "Serve prometheus metrics on this address")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flags.BoolVar(&opts.debug, "debug", false, "Enable debug logging")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration file and applies the flags that were set
func loadConfig(cmd *cobra.Command, opts *options) (*config.Config, error) {
	cfg := config.Default()
	if opts.configPath != "" {
		var err error
		if cfg, err = config.Load(opts.configPath); err != nil {
			return nil, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("collectors") {
		cfg.Collectors = opts.collectors
	}
	if flags.Changed("intervals") {
		cfg.Intervals = opts.intervals
	}
	if flags.Changed("unified") {
		cfg.Unified = opts.unified
	}
	if flags.Changed("mode") {
		cfg.Mode = opts.mode
	}
	if flags.Changed("broker-url") {
		cfg.BrokerURL = opts.brokerURL
	}
	if flags.Changed("ssh") {
		cfg.SSHOptions = opts.sshOptions
	}
	if flags.Changed("metrics-listen") {
		cfg.Metrics.Listen = opts.metricsListen
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = opts.logLevel
	}
	if opts.debug {
		cfg.Log.Debug = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(cmd *cobra.Command, opts *options, args []string) error {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Log); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	log := logger.WithComponent("roa-validate")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.Metrics.Listen != "" {
		srv := serveMetrics(cfg.Metrics.Listen, log)
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	sessCfg, err := session.ConfigFrom(cfg, logger.GetLogger())
	if err != nil {
		return err
	}
	sess, err := session.New(ctx, sessCfg)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	defer sess.Close()

	log.Info().
		Str("session", sess.ID()).
		Str("mode", sess.Mode().String()).
		Str("collectors", config.FormatCollectors(sess.Collectors())).
		Msg("session ready")

	if len(args) > 0 {
		rec, err := parseArgs(args)
		if err != nil {
			return err
		}
		out, err := sess.Validate(ctx, rec.ts, rec.asn, rec.addr, rec.maskLen)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
		return nil
	}

	stats, err := validateStream(ctx, sess, cmd.InOrStdin(), cmd.OutOrStdout(), log)
	log.Info().
		Int("records", stats.records).
		Int("failed", stats.failed).
		Str("mode", sess.Mode().String()).
		Msg("validation finished")
	if err != nil {
		return err
	}
	if stats.failed > 0 {
		return fmt.Errorf("%d of %d records failed", stats.failed, stats.records)
	}
	return nil
}

func serveMetrics(addr string, log zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.NewRegistry(), promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", addr).Msg("metrics server failed")
		}
	}()
	log.Info().Str("addr", addr).Msg("serving metrics")
	return srv
}
