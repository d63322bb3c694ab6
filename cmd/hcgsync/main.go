package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"codeberg.org/mutker/hcgsync/internal/collector"
	"codeberg.org/mutker/hcgsync/internal/config"
	"codeberg.org/mutker/hcgsync/internal/errors"
	"codeberg.org/mutker/hcgsync/internal/gateway"
	"codeberg.org/mutker/hcgsync/internal/logger"
	"codeberg.org/mutker/hcgsync/internal/pid"
	"codeberg.org/mutker/hcgsync/internal/state"
	"codeberg.org/mutker/hcgsync/internal/store"
	"codeberg.org/mutker/hcgsync/internal/telemetry"
)

type app struct {
	cfg       *config.Config
	metrics   []gateway.Metric
	window    collector.Window
	records   store.Store
	collector *collector.Collector
}

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(2)
	}

	if err := logger.Init(cfg.LogLevel, logger.IsService()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(2)
	}
	logger.Debug().Str("config", cfg.String()).Msg("Config loaded")

	if cfg.Status {
		if err := printStatus(os.Stdout, cfg); err != nil {
			logger.Error().Err(err).Msg("failed to read status")
			os.Exit(1)
		}
		return
	}

	os.Exit(run(cfg))
}

func run(cfg *config.Config) int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	if err := pid.Write(cfg.StateDir); err != nil {
		logger.Error().Err(err).Str("pid_file", pid.Path(cfg.StateDir)).Msg("failed to acquire PID file")
		return 1
	}
	defer func() {
		if err := pid.Remove(cfg.StateDir); err != nil {
			logger.Error().Err(err).Msg("failed to remove PID file")
		}
	}()

	a, err := newApp(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("failed to initialize")
		return 1
	}
	defer a.cleanup()

	if telemetryCfg := cfg.TelemetryConfig(); telemetryCfg.Enabled() {
		go func() {
			if err := telemetry.Serve(ctx, telemetryCfg); err != nil {
				logger.Error().Err(err).Msg("metrics endpoint stopped")
			}
		}()
	}

	if cfg.SingleRun() {
		if failed := a.cycle(ctx); failed > 0 {
			return 1
		}
		return 0
	}

	if err := a.loop(ctx); err != nil {
		logger.Error().Err(err).Msg("error in main loop")
		return 1
	}
	return 0
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	errFactory := errors.New()

	metrics, err := cfg.Metrics()
	if err != nil {
		return nil, err
	}
	window, err := cfg.Window()
	if err != nil {
		return nil, err
	}

	client, err := gateway.NewClient(cfg.GatewayConfig())
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrInitApp, err)
	}

	tokens, err := gateway.NewTokenManager(ctx, client, cfg.Credentials())
	if err != nil {
		return nil, err
	}

	states, err := state.New(cfg.StateConfig())
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrInitApp, err)
	}

	records, err := store.Open(cfg.StoreConfig())
	if err != nil {
		return nil, errFactory.Wrap(errors.ErrInitApp, err)
	}

	c, err := collector.New(cfg.CollectorConfig(), client, tokens, states, records)
	if err != nil {
		records.Close()
		return nil, errFactory.Wrap(errors.ErrInitApp, err)
	}

	logger.Info().
		Int("methods", len(metrics)).
		Str("store", cfg.StoreBackend).
		Str("data_dir", cfg.DataDir).
		Msg("Collector ready")

	return &app{
		cfg:       cfg,
		metrics:   metrics,
		window:    window,
		records:   records,
		collector: c,
	}, nil
}

// loop collects immediately and then once per interval until ctx is done.
func (a *app) loop(ctx context.Context) error {
	interval := a.cfg.Interval()
	if interval <= 0 {
		return errors.New().WithData(errors.ErrMainLoop, "invalid interval: "+interval.String())
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	a.cycle(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			a.cycle(ctx)
		}
	}
}

// cycle runs every metric once and returns how many failed.
func (a *app) cycle(ctx context.Context) int {
	outcomes := a.collector.CollectAll(ctx, a.metrics, a.window)

	failed := 0
	for _, metric := range a.metrics {
		out := outcomes[metric]
		if out.Err != nil {
			failed++
			continue
		}
		logger.Debug().
			Str("method", string(metric)).
			Int("count", out.Count).
			Str("cursor", out.Cursor).
			Msg("Collected")
	}

	return failed
}

func (a *app) cleanup() {
	if err := a.records.Close(); err != nil {
		logger.Error().Err(err).Msg("failed to close record store")
	}
	logger.Info().Msg("Exiting...")
}

func printStatus(w io.Writer, cfg *config.Config) error {
	metrics, err := cfg.Metrics()
	if err != nil {
		return err
	}

	states, err := state.New(cfg.StateConfig())
	if err != nil {
		return err
	}
	records, err := store.Open(cfg.StoreConfig())
	if err != nil {
		return err
	}
	defer records.Close()

	statuses, err := collector.Status(metrics, states, records)
	if err != nil {
		return err
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Metric < statuses[j].Metric
	})

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "METHOD\tROWS\tLAST SINCE\tUPDATED")
	for _, st := range statuses {
		since, updated := "-", "never"
		if st.Collected {
			since = st.LastSince
			updated = st.LastUpdate.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", st.Metric, st.Rows, since, updated)
	}

	return tw.Flush()
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}
