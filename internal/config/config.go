// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads the daemon configuration from defaults, an optional
// strict YAML file and the environment, in that order of precedence.
package config

import (
	"time"

	"github.com/ManuGH/stemrelay/internal/history"
)

// AppConfig is the fully resolved configuration.
type AppConfig struct {
	Version   string
	LogLevel  string
	DataDir   string
	API       APIConfig
	Metrics   MetricsConfig
	Server    ServerRuntimeConfig
	Pipeline  PipelineConfig
	Uploads   UploadsConfig
	History   HistoryConfig
	Telemetry TelemetryConfig
}

type APIConfig struct {
	ListenAddr     string
	MaxUploadBytes int64
	// SubmitRateLimit is the number of submissions per SubmitRateWindow and
	// client IP. Zero disables the limit.
	SubmitRateLimit  int
	SubmitRateWindow time.Duration
}

// MetricsConfig configures the Prometheus listener. An empty address disables it.
type MetricsConfig struct {
	ListenAddr string
}

type ServerRuntimeConfig struct {
	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	// WriteTimeout 0 means none. Streaming responses clear their own deadline.
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	MaxHeaderBytes  int
	ShutdownTimeout time.Duration
}

// PipelineConfig describes the two external stages.
type PipelineConfig struct {
	ProjectRoot    string
	Shell          string
	SeparateScript string
	RemixScript    string
	StemsRoot      string
	// StageTimeout bounds each stage. Zero means no deadline.
	StageTimeout time.Duration
	KillGrace    time.Duration
	// MaxConcurrentJobs bounds running pipelines. Zero means unlimited.
	MaxConcurrentJobs int
	LineBuffer        int
}

type UploadsConfig struct {
	Dir string
}

type HistoryConfig struct {
	Backend string
	Path    string
	Limit   int
}

type TelemetryConfig struct {
	Enabled      bool
	Exporter     string
	Endpoint     string
	Environment  string
	SamplingRate float64
}

const (
	DefaultListenAddr        = ":5000"
	DefaultMetricsListenAddr = ":9090"
	DefaultMaxUploadBytes    = 200 << 20
	DefaultSeparateScript    = "scripts/demucs_one.sh"
	DefaultRemixScript       = "scripts/mix_instrumental_from_stems.sh"
)

// Defaults returns the built-in configuration. Paths left empty are derived
// during Load.
func Defaults() AppConfig {
	return AppConfig{
		LogLevel: "info",
		DataDir:  "data",
		API: APIConfig{
			ListenAddr:       DefaultListenAddr,
			MaxUploadBytes:   DefaultMaxUploadBytes,
			SubmitRateLimit:  10,
			SubmitRateWindow: time.Minute,
		},
		Metrics: MetricsConfig{ListenAddr: DefaultMetricsListenAddr},
		Server: ServerRuntimeConfig{
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       10 * time.Minute,
			WriteTimeout:      0,
			IdleTimeout:       120 * time.Second,
			MaxHeaderBytes:    1 << 20,
			ShutdownTimeout:   15 * time.Second,
		},
		Pipeline: PipelineConfig{
			ProjectRoot:    ".",
			Shell:          "bash",
			SeparateScript: DefaultSeparateScript,
			RemixScript:    DefaultRemixScript,
			KillGrace:      5 * time.Second,
			LineBuffer:     64,
		},
		History: HistoryConfig{
			Backend: history.BackendSqlite,
			Limit:   history.DefaultLimit,
		},
		Telemetry: TelemetryConfig{
			Exporter:     "grpc",
			Endpoint:     "localhost:4317",
			Environment:  "production",
			SamplingRate: 1.0,
		},
	}
}
