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

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/fruitsalade/sdbrowser/internal/config"
	"github.com/fruitsalade/sdbrowser/internal/logging"
	"github.com/fruitsalade/sdbrowser/internal/metrics"
)

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Config file (default: " + config.DefaultPath + " when present)",
		},
		&cli.StringFlag{
			Name:    "server",
			Aliases: []string{"s"},
			Usage:   "HTTP origin of the card server, e.g. http://192.168.4.1",
		},
		&cli.IntFlag{
			Name:  "ws-port",
			Usage: "Listing socket port",
		},
		&cli.StringFlag{
			Name:  "repair",
			Usage: "Truncated listing repair: braces, tokens",
		},
		&cli.StringFlag{
			Name:  "emit",
			Usage: "When a repaired listing is shown: deferred, eager",
		},
		&cli.DurationFlag{
			Name:  "settle",
			Usage: "Quiet period before a deferred repair is shown",
		},
		&cli.IntFlag{
			Name:  "max-buffer",
			Usage: "Discard undecoded listing data beyond this many bytes (0 = unbounded)",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "Log level: debug, info, warn, error",
		},
		&cli.StringFlag{
			Name:  "log-format",
			Usage: "Log format: console, json",
		},
		&cli.StringFlag{
			Name:  "log-file",
			Usage: "Write logs to this file instead of stderr",
		},
		&cli.StringFlag{
			Name:  "metrics-addr",
			Usage: "Serve Prometheus metrics on this address, e.g. :9090",
		},
	}
}

// loadConfig reads the config file and environment, then applies global
// flags. The result is validated by start.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}

	if c.IsSet("server") {
		cfg.Server.URL = c.String("server")
	}
	if c.IsSet("ws-port") {
		cfg.Server.WSPort = c.Int("ws-port")
	}
	if c.IsSet("repair") {
		cfg.Stream.Repair = c.String("repair")
	}
	if c.IsSet("emit") {
		cfg.Stream.Emit = c.String("emit")
	}
	if c.IsSet("settle") {
		cfg.Stream.Settle.Duration = c.Duration("settle")
	}
	if c.IsSet("max-buffer") {
		cfg.Stream.MaxBufferBytes = c.Int("max-buffer")
	}
	if c.IsSet("log-level") {
		cfg.Log.Level = c.String("log-level")
	}
	if c.IsSet("log-format") {
		cfg.Log.Format = c.String("log-format")
	}
	if c.IsSet("log-file") {
		cfg.Log.Output = c.String("log-file")
	}
	if c.IsSet("metrics-addr") {
		cfg.Metrics.Addr = c.String("metrics-addr")
	}
	return cfg, nil
}

// start validates cfg, sets up logging and the metrics endpoint, and returns
// a context cancelled on SIGINT or SIGTERM. Interactive commands discard logs
// unless a log file is configured. The returned func releases everything.
func start(c *cli.Context, cfg *config.Config, interactive bool) (context.Context, func(), error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if interactive && cfg.Log.Output == "" {
		logging.Discard()
	} else if err := logging.Init(cfg.LoggingConfig()); err != nil {
		return nil, nil, fmt.Errorf("init logging: %w", err)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	stopMetrics := serveMetrics(cfg.Metrics.Addr)

	return ctx, func() {
		stopMetrics()
		stop()
		_ = logging.Sync()
	}, nil
}

func serveMetrics(addr string) func() {
	if addr == "" {
		return func() {}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logging.Info("metrics listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("metrics server failed", zap.Error(err))
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// isStderrTTY returns true if stderr is a terminal.
func isStderrTTY() bool {
	info, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
