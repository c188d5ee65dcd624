// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"fmt"
	"path/filepath"

	"github.com/ManuGH/stemrelay/internal/config"
	"github.com/ManuGH/stemrelay/internal/log"
)

// PerformStartupChecks verifies the filesystem layout before serving. A
// missing stage script is fatal since every job would fail.
func PerformStartupChecks(cfg config.AppConfig) error {
	logger := log.WithComponent("startup-check")
	if err := config.CheckPaths(cfg); err != nil {
		return fmt.Errorf("startup checks failed: %w", err)
	}
	logger.Info().
		Str(log.FieldEvent, "startup.checks_passed").
		Str("project_root", cfg.Pipeline.ProjectRoot).
		Str("stems_root", cfg.Pipeline.StemsRoot).
		Msg("startup checks passed")
	return nil
}

// RegisterDefaults adds the checkers every deployment needs.
func RegisterDefaults(m *Manager, cfg config.AppConfig) {
	p := cfg.Pipeline
	m.RegisterChecker(NewFileChecker("separate_script", scriptPath(p.ProjectRoot, p.SeparateScript)))
	m.RegisterChecker(NewFileChecker("remix_script", scriptPath(p.ProjectRoot, p.RemixScript)))
	m.RegisterChecker(NewDirChecker("stems_root", p.StemsRoot))
	m.RegisterChecker(NewDirChecker("uploads_dir", cfg.Uploads.Dir))
}

func scriptPath(root, script string) string {
	if filepath.IsAbs(script) {
		return script
	}
	return filepath.Join(root, script)
}
