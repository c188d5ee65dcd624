// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"github.com/ManuGH/stemrelay/internal/history"
	"github.com/ManuGH/stemrelay/internal/validate"
)

// Validate checks value ranges and enumerations. It does not touch the
// filesystem; see CheckPaths.
func Validate(cfg AppConfig) error {
	v := validate.New()

	v.OneOf("logLevel", cfg.LogLevel, validate.LogLevels)
	v.NotEmpty("dataDir", cfg.DataDir)

	v.ListenAddr("api.listenAddr", cfg.API.ListenAddr)
	v.Positive("api.maxUploadBytes", cfg.API.MaxUploadBytes)
	v.NonNegative("api.submitRateLimit", cfg.API.SubmitRateLimit)
	if cfg.API.SubmitRateLimit > 0 {
		v.PositiveDuration("api.submitRateWindow", cfg.API.SubmitRateWindow)
	}
	if cfg.Metrics.ListenAddr != "" {
		v.ListenAddr("metrics.listenAddr", cfg.Metrics.ListenAddr)
		if cfg.Metrics.ListenAddr == cfg.API.ListenAddr {
			v.AddError("metrics.listenAddr", "must differ from api.listenAddr", cfg.Metrics.ListenAddr)
		}
	}

	v.PositiveDuration("server.readHeaderTimeout", cfg.Server.ReadHeaderTimeout)
	v.NonNegativeDuration("server.readTimeout", cfg.Server.ReadTimeout)
	v.NonNegativeDuration("server.writeTimeout", cfg.Server.WriteTimeout)
	v.PositiveDuration("server.idleTimeout", cfg.Server.IdleTimeout)
	v.Positive("server.maxHeaderBytes", int64(cfg.Server.MaxHeaderBytes))
	v.PositiveDuration("server.shutdownTimeout", cfg.Server.ShutdownTimeout)

	p := cfg.Pipeline
	v.NotEmpty("pipeline.projectRoot", p.ProjectRoot)
	v.NotEmpty("pipeline.shell", p.Shell)
	v.NotEmpty("pipeline.separateScript", p.SeparateScript)
	v.NotEmpty("pipeline.remixScript", p.RemixScript)
	v.NotEmpty("pipeline.stemsRoot", p.StemsRoot)
	v.NonNegativeDuration("pipeline.stageTimeout", p.StageTimeout)
	v.PositiveDuration("pipeline.killGrace", p.KillGrace)
	v.NonNegative("pipeline.maxConcurrentJobs", p.MaxConcurrentJobs)
	v.Range("pipeline.lineBuffer", p.LineBuffer, 1, 65536)

	v.NotEmpty("uploads.dir", cfg.Uploads.Dir)

	v.OneOf("history.backend", cfg.History.Backend, history.Backends)
	if cfg.History.Backend == history.BackendSqlite {
		v.NotEmpty("history.path", cfg.History.Path)
	}
	v.Range("history.limit", cfg.History.Limit, 1, 1000)

	if cfg.Telemetry.Enabled {
		v.OneOf("telemetry.exporter", cfg.Telemetry.Exporter, []string{"grpc", "http"})
		v.NotEmpty("telemetry.endpoint", cfg.Telemetry.Endpoint)
		v.Rate("telemetry.samplingRate", cfg.Telemetry.SamplingRate)
	}

	return v.Err()
}

// CheckPaths verifies the filesystem layout: the project root and both stage
// scripts exist, and the writable directories exist or can be created.
func CheckPaths(cfg AppConfig) error {
	v := validate.New()
	p := cfg.Pipeline

	v.Directory("pipeline.projectRoot", p.ProjectRoot, true)
	v.File("pipeline.separateScript", p.ProjectRoot, p.SeparateScript)
	v.File("pipeline.remixScript", p.ProjectRoot, p.RemixScript)
	v.WritableDirectory("pipeline.stemsRoot", p.StemsRoot, false)
	v.WritableDirectory("uploads.dir", cfg.Uploads.Dir, false)
	v.WritableDirectory("dataDir", cfg.DataDir, false)

	return v.Err()
}
