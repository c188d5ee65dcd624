// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ManuGH/stemrelay/internal/config"
	"github.com/ManuGH/stemrelay/internal/health"
)

func runConfigCLI(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printConfigUsage(stderr)
		return 0
	}

	switch args[0] {
	case "validate":
		return runConfigValidate(args[1:], stdout, stderr)
	case "dump":
		return runConfigDump(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown subcommand: %s\n\n", args[0])
		printConfigUsage(stderr)
		return 2
	}
}

func printConfigUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  stemrelay config validate [--file|-f config.yaml] [--paths]")
	fmt.Fprintln(w, "  stemrelay config dump [--file|-f config.yaml] [--format=yaml|json]")
}

// resolveConfigPath returns explicit, or ${STEMRELAY_DATA}/config.yaml when it exists.
func resolveConfigPath(explicit string) string {
	if p := strings.TrimSpace(explicit); p != "" {
		return p
	}
	dataDir := strings.TrimSpace(config.ParseString(config.EnvDataDir, "data"))
	if dataDir == "" {
		return ""
	}
	autoPath := filepath.Join(dataDir, "config.yaml")
	if _, err := os.Stat(autoPath); err == nil {
		return autoPath
	}
	return ""
}

func runConfigValidate(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("stemrelay config validate", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var file string
	var paths bool
	fs.StringVar(&file, "file", "", "path to YAML configuration file")
	fs.StringVar(&file, "f", "", "path to YAML configuration file (shorthand)")
	fs.BoolVar(&paths, "paths", false, "also check scripts and directories on disk")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	configPath := resolveConfigPath(file)
	source := configPath
	if source == "" {
		source = "environment and defaults"
	}

	cfg, err := config.NewLoader(configPath, version).Load()
	if err != nil {
		fmt.Fprintf(stderr, "Configuration error in %s:\n  %v\n", source, err)
		return 1
	}
	if paths {
		if err := health.PerformStartupChecks(cfg); err != nil {
			fmt.Fprintf(stderr, "Path check failed:\n  %v\n", err)
			return 1
		}
	}

	fmt.Fprintf(stdout, "✓ %s is valid\n", source)
	return 0
}

func runConfigDump(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("stemrelay config dump", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var file string
	var format string
	fs.StringVar(&file, "file", "", "path to YAML configuration file")
	fs.StringVar(&file, "f", "", "path to YAML configuration file (shorthand)")
	fs.StringVar(&format, "format", "yaml", "output format: yaml or json")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	configPath := resolveConfigPath(file)
	cfg, err := config.NewLoader(configPath, version).Load()
	if err != nil {
		fmt.Fprintf(stderr, "Configuration error: %v\n", err)
		return 1
	}
	eff := effectiveFileConfig(cfg)

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "yaml", "yml":
		enc := yaml.NewEncoder(stdout)
		enc.SetIndent(2)
		if err := enc.Encode(eff); err != nil {
			fmt.Fprintf(stderr, "Failed to encode YAML: %v\n", err)
			return 1
		}
		_ = enc.Close()
		return 0
	case "json":
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(eff); err != nil {
			fmt.Fprintf(stderr, "Failed to encode JSON: %v\n", err)
			return 1
		}
		return 0
	default:
		fmt.Fprintf(stderr, "Unsupported format: %s (use yaml or json)\n", format)
		return 2
	}
}

func ptr[T any](v T) *T { return &v }

// effectiveFileConfig renders the loaded configuration in file schema, so a
// dump can be fed back as a config file.
func effectiveFileConfig(cfg config.AppConfig) config.FileConfig {
	return config.FileConfig{
		LogLevel: ptr(cfg.LogLevel),
		DataDir:  ptr(cfg.DataDir),
		API: &config.FileAPI{
			ListenAddr:       ptr(cfg.API.ListenAddr),
			MaxUploadBytes:   ptr(cfg.API.MaxUploadBytes),
			SubmitRateLimit:  ptr(cfg.API.SubmitRateLimit),
			SubmitRateWindow: ptr(cfg.API.SubmitRateWindow),
		},
		Metrics: &config.FileMetrics{ListenAddr: ptr(cfg.Metrics.ListenAddr)},
		Server: &config.FileServer{
			ReadHeaderTimeout: ptr(cfg.Server.ReadHeaderTimeout),
			ReadTimeout:       ptr(cfg.Server.ReadTimeout),
			WriteTimeout:      ptr(cfg.Server.WriteTimeout),
			IdleTimeout:       ptr(cfg.Server.IdleTimeout),
			MaxHeaderBytes:    ptr(cfg.Server.MaxHeaderBytes),
			ShutdownTimeout:   ptr(cfg.Server.ShutdownTimeout),
		},
		Pipeline: &config.FilePipeline{
			ProjectRoot:       ptr(cfg.Pipeline.ProjectRoot),
			Shell:             ptr(cfg.Pipeline.Shell),
			SeparateScript:    ptr(cfg.Pipeline.SeparateScript),
			RemixScript:       ptr(cfg.Pipeline.RemixScript),
			StemsRoot:         ptr(cfg.Pipeline.StemsRoot),
			StageTimeout:      ptr(cfg.Pipeline.StageTimeout),
			KillGrace:         ptr(cfg.Pipeline.KillGrace),
			MaxConcurrentJobs: ptr(cfg.Pipeline.MaxConcurrentJobs),
			LineBuffer:        ptr(cfg.Pipeline.LineBuffer),
		},
		Uploads: &config.FileUploads{Dir: ptr(cfg.Uploads.Dir)},
		History: &config.FileHistory{
			Backend: ptr(cfg.History.Backend),
			Path:    ptr(cfg.History.Path),
			Limit:   ptr(cfg.History.Limit),
		},
		Telemetry: &config.FileTelemetry{
			Enabled:      ptr(cfg.Telemetry.Enabled),
			Exporter:     ptr(cfg.Telemetry.Exporter),
			Endpoint:     ptr(cfg.Telemetry.Endpoint),
			Environment:  ptr(cfg.Telemetry.Environment),
			SamplingRate: ptr(cfg.Telemetry.SamplingRate),
		},
	}
}
