// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileConfig is the YAML file schema. Pointer fields distinguish "unset"
// from zero values.
type FileConfig struct {
	LogLevel  *string        `yaml:"logLevel,omitempty"`
	DataDir   *string        `yaml:"dataDir,omitempty"`
	API       *FileAPI       `yaml:"api,omitempty"`
	Metrics   *FileMetrics   `yaml:"metrics,omitempty"`
	Server    *FileServer    `yaml:"server,omitempty"`
	Pipeline  *FilePipeline  `yaml:"pipeline,omitempty"`
	Uploads   *FileUploads   `yaml:"uploads,omitempty"`
	History   *FileHistory   `yaml:"history,omitempty"`
	Telemetry *FileTelemetry `yaml:"telemetry,omitempty"`
}

type FileAPI struct {
	ListenAddr       *string        `yaml:"listenAddr,omitempty"`
	MaxUploadBytes   *int64         `yaml:"maxUploadBytes,omitempty"`
	SubmitRateLimit  *int           `yaml:"submitRateLimit,omitempty"`
	SubmitRateWindow *time.Duration `yaml:"submitRateWindow,omitempty"`
}

type FileMetrics struct {
	ListenAddr *string `yaml:"listenAddr,omitempty"`
}

type FileServer struct {
	ReadHeaderTimeout *time.Duration `yaml:"readHeaderTimeout,omitempty"`
	ReadTimeout       *time.Duration `yaml:"readTimeout,omitempty"`
	WriteTimeout      *time.Duration `yaml:"writeTimeout,omitempty"`
	IdleTimeout       *time.Duration `yaml:"idleTimeout,omitempty"`
	MaxHeaderBytes    *int           `yaml:"maxHeaderBytes,omitempty"`
	ShutdownTimeout   *time.Duration `yaml:"shutdownTimeout,omitempty"`
}

type FilePipeline struct {
	ProjectRoot       *string        `yaml:"projectRoot,omitempty"`
	Shell             *string        `yaml:"shell,omitempty"`
	SeparateScript    *string        `yaml:"separateScript,omitempty"`
	RemixScript       *string        `yaml:"remixScript,omitempty"`
	StemsRoot         *string        `yaml:"stemsRoot,omitempty"`
	StageTimeout      *time.Duration `yaml:"stageTimeout,omitempty"`
	KillGrace         *time.Duration `yaml:"killGrace,omitempty"`
	MaxConcurrentJobs *int           `yaml:"maxConcurrentJobs,omitempty"`
	LineBuffer        *int           `yaml:"lineBuffer,omitempty"`
}

type FileUploads struct {
	Dir *string `yaml:"dir,omitempty"`
}

type FileHistory struct {
	Backend *string `yaml:"backend,omitempty"`
	Path    *string `yaml:"path,omitempty"`
	Limit   *int    `yaml:"limit,omitempty"`
}

type FileTelemetry struct {
	Enabled      *bool    `yaml:"enabled,omitempty"`
	Exporter     *string  `yaml:"exporter,omitempty"`
	Endpoint     *string  `yaml:"endpoint,omitempty"`
	Environment  *string  `yaml:"environment,omitempty"`
	SamplingRate *float64 `yaml:"samplingRate,omitempty"`
}

// loadFile parses path strictly: unknown keys and extra documents are errors.
func loadFile(path string) (*FileConfig, error) {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- the config path is provided by the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return parseFile(data)
}

func parseFile(data []byte) (*FileConfig, error) {
	var fc FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(&fc); err != nil {
		if errors.Is(err, io.EOF) {
			return &FileConfig{}, nil
		}
		return nil, fmt.Errorf("strict config parse error: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return &fc, nil
}

func set[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

// apply merges the set fields of fc into cfg.
func (fc *FileConfig) apply(cfg *AppConfig) {
	set(&cfg.LogLevel, fc.LogLevel)
	set(&cfg.DataDir, fc.DataDir)

	if a := fc.API; a != nil {
		set(&cfg.API.ListenAddr, a.ListenAddr)
		set(&cfg.API.MaxUploadBytes, a.MaxUploadBytes)
		set(&cfg.API.SubmitRateLimit, a.SubmitRateLimit)
		set(&cfg.API.SubmitRateWindow, a.SubmitRateWindow)
	}
	if m := fc.Metrics; m != nil {
		set(&cfg.Metrics.ListenAddr, m.ListenAddr)
	}
	if s := fc.Server; s != nil {
		set(&cfg.Server.ReadHeaderTimeout, s.ReadHeaderTimeout)
		set(&cfg.Server.ReadTimeout, s.ReadTimeout)
		set(&cfg.Server.WriteTimeout, s.WriteTimeout)
		set(&cfg.Server.IdleTimeout, s.IdleTimeout)
		set(&cfg.Server.MaxHeaderBytes, s.MaxHeaderBytes)
		set(&cfg.Server.ShutdownTimeout, s.ShutdownTimeout)
	}
	if p := fc.Pipeline; p != nil {
		set(&cfg.Pipeline.ProjectRoot, p.ProjectRoot)
		set(&cfg.Pipeline.Shell, p.Shell)
		set(&cfg.Pipeline.SeparateScript, p.SeparateScript)
		set(&cfg.Pipeline.RemixScript, p.RemixScript)
		set(&cfg.Pipeline.StemsRoot, p.StemsRoot)
		set(&cfg.Pipeline.StageTimeout, p.StageTimeout)
		set(&cfg.Pipeline.KillGrace, p.KillGrace)
		set(&cfg.Pipeline.MaxConcurrentJobs, p.MaxConcurrentJobs)
		set(&cfg.Pipeline.LineBuffer, p.LineBuffer)
	}
	if u := fc.Uploads; u != nil {
		set(&cfg.Uploads.Dir, u.Dir)
	}
	if h := fc.History; h != nil {
		set(&cfg.History.Backend, h.Backend)
		set(&cfg.History.Path, h.Path)
		set(&cfg.History.Limit, h.Limit)
	}
	if t := fc.Telemetry; t != nil {
		set(&cfg.Telemetry.Enabled, t.Enabled)
		set(&cfg.Telemetry.Exporter, t.Exporter)
		set(&cfg.Telemetry.Endpoint, t.Endpoint)
		set(&cfg.Telemetry.Environment, t.Environment)
		set(&cfg.Telemetry.SamplingRate, t.SamplingRate)
	}
}
