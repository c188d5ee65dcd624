// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ManuGH/stemrelay/internal/api"
	"github.com/ManuGH/stemrelay/internal/artifacts"
	"github.com/ManuGH/stemrelay/internal/config"
	"github.com/ManuGH/stemrelay/internal/daemon"
	"github.com/ManuGH/stemrelay/internal/health"
	"github.com/ManuGH/stemrelay/internal/history"
	"github.com/ManuGH/stemrelay/internal/jobs"
	xglog "github.com/ManuGH/stemrelay/internal/log"
	"github.com/ManuGH/stemrelay/internal/pipeline"
	"github.com/ManuGH/stemrelay/internal/stage"
	"github.com/ManuGH/stemrelay/internal/telemetry"
	"github.com/ManuGH/stemrelay/internal/upload"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

// maskURL removes user info from a URL string for safe logging.
func maskURL(rawURL string) string {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return "invalid-url-redacted"
	}
	parsedURL.User = nil
	return parsedURL.String()
}

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "config":
			os.Exit(runConfigCLI(os.Args[2:], os.Stdout, os.Stderr))
		case "healthcheck":
			os.Exit(runHealthcheckCLI(os.Args[2:]))
		}
	}

	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	// Configure logger with safe defaults until config is loaded
	xglog.Configure(xglog.Config{
		Level:   "info",
		Service: "stemrelay",
		Version: version,
	})
	logger := xglog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, resolveConfigPath(*configPath)); err != nil {
		logger.Fatal().
			Err(err).
			Str(xglog.FieldEvent, "daemon.failed").
			Msg("daemon failed")
	}
	logger.Info().Msg("server exiting")
}

func run(ctx context.Context, logger zerolog.Logger, configPath string) error {
	loader := config.NewLoader(configPath, version)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load configuration from %q: %w", configPath, err)
	}

	xglog.Configure(xglog.Config{
		Level:   cfg.LogLevel,
		Service: "stemrelay",
		Version: cfg.Version,
	})
	logger = xglog.WithComponent("daemon")

	source := "env+defaults"
	if configPath != "" {
		source = "file"
	}
	logger.Info().
		Str(xglog.FieldEvent, "config.loaded").
		Str("source", source).
		Str(xglog.FieldPath, configPath).
		Msg("configuration loaded")

	if err := health.PerformStartupChecks(cfg); err != nil {
		return err
	}

	logger.Info().
		Str(xglog.FieldEvent, "startup").
		Str("version", version).
		Str("commit", commit).
		Str("build_date", buildDate).
		Str("addr", cfg.API.ListenAddr).
		Msg("starting stemrelay")
	logger.Info().Msgf("→ Project root: %s", cfg.Pipeline.ProjectRoot)
	logger.Info().Msgf("→ Stems root: %s", cfg.Pipeline.StemsRoot)
	logger.Info().Msgf("→ History: %s %s", cfg.History.Backend, cfg.History.Path)
	if cfg.Metrics.ListenAddr == "" {
		logger.Info().Msg("→ Metrics: disabled")
	} else {
		logger.Info().Msgf("→ Metrics: %s", cfg.Metrics.ListenAddr)
	}

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "stemrelay",
		ServiceVersion: cfg.Version,
		Environment:    cfg.Telemetry.Environment,
		ExporterType:   cfg.Telemetry.Exporter,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	if cfg.Telemetry.Enabled {
		logger.Info().Msgf("→ Tracing: %s via %s", maskURL(cfg.Telemetry.Endpoint), cfg.Telemetry.Exporter)
	}

	locator := artifacts.NewLocator(cfg.Pipeline.StemsRoot)
	store, err := history.OpenStore(cfg.History.Backend, cfg.History.Path, locator)
	if err != nil {
		_ = tp.Shutdown(context.Background())
		return fmt.Errorf("history store: %w", err)
	}

	svc := newJobService(cfg, store)

	hm := health.NewManager(cfg.Version)
	health.RegisterDefaults(hm, cfg)
	if p, ok := store.(health.Pinger); ok {
		hm.RegisterChecker(health.NewPingChecker("history_store", p, 0))
	}

	holder := config.NewConfigHolder(cfg, loader)
	srv, err := api.New(api.Deps{
		Config:  holder.Get,
		Jobs:    svc,
		Uploads: upload.NewStore(cfg.Uploads.Dir, cfg.API.MaxUploadBytes),
		Locator: locator,
		Health:  hm,
	})
	if err != nil {
		_ = store.Close()
		_ = tp.Shutdown(context.Background())
		return fmt.Errorf("api: %w", err)
	}

	mgr, err := daemon.NewManager(cfg.APIServer(), daemon.Deps{
		Logger:         logger,
		APIHandler:     srv.Handler(),
		MetricsHandler: promhttp.Handler(),
		MetricsServer:  cfg.MetricsServer(),
	})
	if err != nil {
		_ = store.Close()
		_ = tp.Shutdown(context.Background())
		return fmt.Errorf("manager: %w", err)
	}
	mgr.RegisterShutdownHook("telemetry", tp.Shutdown)
	mgr.RegisterShutdownHook("history_store", func(context.Context) error { return store.Close() })
	mgr.RegisterDrainHook("jobs", svc.Shutdown)

	app := daemon.NewApp(logger, mgr, holder, func(next config.AppConfig) {
		logger.Info().
			Str(xglog.FieldEvent, "config.applied").
			Str("log_level", next.LogLevel).
			Int("history_limit", next.History.Limit).
			Msg("runtime configuration applied")
	})
	return app.Run(ctx)
}

func newJobService(cfg config.AppConfig, store history.Store) *jobs.Service {
	runner := stage.NewExecRunner()
	runner.LineBuffer = cfg.Pipeline.LineBuffer
	runner.KillGrace = cfg.Pipeline.KillGrace

	plan := pipeline.Plan{
		Shell:          cfg.Pipeline.Shell,
		ProjectRoot:    cfg.Pipeline.ProjectRoot,
		SeparateScript: cfg.Pipeline.SeparateScript,
		RemixScript:    cfg.Pipeline.RemixScript,
	}
	orch := pipeline.NewOrchestrator(runner, plan,
		pipeline.WithStageTimeout(cfg.Pipeline.StageTimeout),
		pipeline.WithEventBuffer(cfg.Pipeline.LineBuffer),
	)
	return jobs.NewService(orch, store, cfg.Pipeline.MaxConcurrentJobs)
}
