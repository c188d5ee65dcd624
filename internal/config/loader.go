// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"fmt"
	"net"
	"path/filepath"

	"github.com/ManuGH/stemrelay/internal/history"
	"github.com/ManuGH/stemrelay/internal/log"
)

// Environment keys. PORT and DEMUCS_PROJECT_ROOT are accepted for
// compatibility with existing deployments.
const (
	EnvLogLevel          = "STEMRELAY_LOG_LEVEL"
	EnvDataDir           = "STEMRELAY_DATA"
	EnvListen            = "STEMRELAY_LISTEN"
	EnvLegacyPort        = "PORT"
	EnvMaxUploadBytes    = "STEMRELAY_MAX_UPLOAD_BYTES"
	EnvSubmitRateLimit   = "STEMRELAY_SUBMIT_RATE_LIMIT"
	EnvMetricsListen     = "STEMRELAY_METRICS_LISTEN"
	EnvProjectRoot       = "STEMRELAY_PROJECT_ROOT"
	EnvLegacyProjectRoot = "DEMUCS_PROJECT_ROOT"
	EnvShell             = "STEMRELAY_SHELL"
	EnvSeparateScript    = "STEMRELAY_SEPARATE_SCRIPT"
	EnvRemixScript       = "STEMRELAY_REMIX_SCRIPT"
	EnvStemsRoot         = "STEMRELAY_STEMS_ROOT"
	EnvStageTimeout      = "STEMRELAY_STAGE_TIMEOUT"
	EnvKillGrace         = "STEMRELAY_KILL_GRACE"
	EnvMaxConcurrentJobs = "STEMRELAY_MAX_CONCURRENT_JOBS"
	EnvLineBuffer        = "STEMRELAY_LINE_BUFFER"
	EnvUploadsDir        = "STEMRELAY_UPLOADS_DIR"
	EnvHistoryBackend    = "STEMRELAY_HISTORY_BACKEND"
	EnvHistoryPath       = "STEMRELAY_HISTORY_PATH"
	EnvHistoryLimit      = "STEMRELAY_HISTORY_LIMIT"
	EnvTelemetryEnabled  = "STEMRELAY_TELEMETRY_ENABLED"
	EnvOTLPExporter      = "STEMRELAY_OTLP_EXPORTER"
	EnvOTLPEndpoint      = "STEMRELAY_OTLP_ENDPOINT"
	EnvEnvironment       = "STEMRELAY_ENVIRONMENT"
	EnvTraceSampleRate   = "STEMRELAY_TRACE_SAMPLE_RATE"
	EnvShutdownTimeout   = "STEMRELAY_SERVER_SHUTDOWN_TIMEOUT"
)

// Loader resolves an AppConfig: defaults, then the file, then the environment.
type Loader struct {
	configPath string
	version    string
	// ConsumedEnvKeys records every key the last Load looked at.
	ConsumedEnvKeys map[string]struct{}
}

func NewLoader(configPath, version string) *Loader {
	return &Loader{
		configPath:      configPath,
		version:         version,
		ConsumedEnvKeys: make(map[string]struct{}),
	}
}

// Path returns the config file path, empty for environment-only setups.
func (l *Loader) Path() string { return l.configPath }

// Load returns a resolved and validated configuration.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Defaults()

	if l.configPath != "" {
		fc, err := loadFile(l.configPath)
		if err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
		fc.apply(&cfg)
	}

	l.mergeEnv(&cfg)
	cfg.Version = l.version

	if err := resolvePaths(&cfg); err != nil {
		return cfg, err
	}
	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (l *Loader) str(key string, dst *string) {
	l.ConsumedEnvKeys[key] = struct{}{}
	*dst = ParseString(key, *dst)
}

func (l *Loader) mergeEnv(cfg *AppConfig) {
	l.str(EnvLogLevel, &cfg.LogLevel)
	l.str(EnvDataDir, &cfg.DataDir)

	l.ConsumedEnvKeys[EnvLegacyPort] = struct{}{}
	if port, ok := lookup(EnvLegacyPort); ok {
		if _, set := lookup(EnvListen); set {
			logger := log.WithComponent("config")
			logger.Warn().
				Str("key", EnvLegacyPort).
				Str("winner", EnvListen).
				Msg("both legacy and current listen variables set")
		} else {
			cfg.API.ListenAddr = net.JoinHostPort("", port)
		}
	}
	l.str(EnvListen, &cfg.API.ListenAddr)

	l.ConsumedEnvKeys[EnvMaxUploadBytes] = struct{}{}
	cfg.API.MaxUploadBytes = ParseInt64(EnvMaxUploadBytes, cfg.API.MaxUploadBytes)
	l.ConsumedEnvKeys[EnvSubmitRateLimit] = struct{}{}
	cfg.API.SubmitRateLimit = ParseInt(EnvSubmitRateLimit, cfg.API.SubmitRateLimit)

	// An explicitly empty value disables the metrics listener.
	l.ConsumedEnvKeys[EnvMetricsListen] = struct{}{}
	if v, ok := lookupRaw(EnvMetricsListen); ok {
		cfg.Metrics.ListenAddr = v
	}

	l.ConsumedEnvKeys[EnvLegacyProjectRoot] = struct{}{}
	if root, ok := lookup(EnvLegacyProjectRoot); ok {
		cfg.Pipeline.ProjectRoot = root
	}
	l.str(EnvProjectRoot, &cfg.Pipeline.ProjectRoot)
	l.str(EnvShell, &cfg.Pipeline.Shell)
	l.str(EnvSeparateScript, &cfg.Pipeline.SeparateScript)
	l.str(EnvRemixScript, &cfg.Pipeline.RemixScript)
	l.str(EnvStemsRoot, &cfg.Pipeline.StemsRoot)

	l.ConsumedEnvKeys[EnvStageTimeout] = struct{}{}
	cfg.Pipeline.StageTimeout = ParseDuration(EnvStageTimeout, cfg.Pipeline.StageTimeout)
	l.ConsumedEnvKeys[EnvKillGrace] = struct{}{}
	cfg.Pipeline.KillGrace = ParseDuration(EnvKillGrace, cfg.Pipeline.KillGrace)
	l.ConsumedEnvKeys[EnvMaxConcurrentJobs] = struct{}{}
	cfg.Pipeline.MaxConcurrentJobs = ParseInt(EnvMaxConcurrentJobs, cfg.Pipeline.MaxConcurrentJobs)
	l.ConsumedEnvKeys[EnvLineBuffer] = struct{}{}
	cfg.Pipeline.LineBuffer = ParseInt(EnvLineBuffer, cfg.Pipeline.LineBuffer)

	l.str(EnvUploadsDir, &cfg.Uploads.Dir)
	l.str(EnvHistoryBackend, &cfg.History.Backend)
	l.str(EnvHistoryPath, &cfg.History.Path)
	l.ConsumedEnvKeys[EnvHistoryLimit] = struct{}{}
	cfg.History.Limit = ParseInt(EnvHistoryLimit, cfg.History.Limit)

	l.ConsumedEnvKeys[EnvTelemetryEnabled] = struct{}{}
	cfg.Telemetry.Enabled = ParseBool(EnvTelemetryEnabled, cfg.Telemetry.Enabled)
	l.str(EnvOTLPExporter, &cfg.Telemetry.Exporter)
	l.str(EnvOTLPEndpoint, &cfg.Telemetry.Endpoint)
	l.str(EnvEnvironment, &cfg.Telemetry.Environment)
	l.ConsumedEnvKeys[EnvTraceSampleRate] = struct{}{}
	cfg.Telemetry.SamplingRate = ParseFloat(EnvTraceSampleRate, cfg.Telemetry.SamplingRate)

	l.ConsumedEnvKeys[EnvShutdownTimeout] = struct{}{}
	cfg.Server.ShutdownTimeout = ParseDuration(EnvShutdownTimeout, cfg.Server.ShutdownTimeout)
}

// resolvePaths makes directories absolute and derives the ones left empty.
func resolvePaths(cfg *AppConfig) error {
	abs := func(field string, p *string) error {
		if *p == "" {
			return nil
		}
		a, err := filepath.Abs(*p)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", field, err)
		}
		*p = a
		return nil
	}

	if err := abs("dataDir", &cfg.DataDir); err != nil {
		return err
	}
	if err := abs("pipeline.projectRoot", &cfg.Pipeline.ProjectRoot); err != nil {
		return err
	}
	if cfg.Pipeline.StemsRoot == "" {
		cfg.Pipeline.StemsRoot = filepath.Join(cfg.Pipeline.ProjectRoot, "stems", "htdemucs")
	} else if !filepath.IsAbs(cfg.Pipeline.StemsRoot) {
		cfg.Pipeline.StemsRoot = filepath.Join(cfg.Pipeline.ProjectRoot, cfg.Pipeline.StemsRoot)
	}
	if cfg.Uploads.Dir == "" {
		cfg.Uploads.Dir = filepath.Join(cfg.DataDir, "uploads")
	}
	if err := abs("uploads.dir", &cfg.Uploads.Dir); err != nil {
		return err
	}
	// The fs backend scans the stems root and ignores history.path.
	if cfg.History.Path == "" && cfg.History.Backend == history.BackendSqlite {
		cfg.History.Path = filepath.Join(cfg.DataDir, "stemrelay.db")
	}
	return abs("history.path", &cfg.History.Path)
}
