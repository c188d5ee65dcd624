// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package pipeline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ManuGH/stemrelay/internal/stage"
)

// StageName identifies one of the two fixed pipeline stages.
type StageName string

const (
	StageSeparate StageName = "separate"
	StageRemix    StageName = "remix"
)

// ErrScriptMissing is returned by Plan.Check when a stage script is absent.
var ErrScriptMissing = errors.New("stage script missing")

// Plan turns a job into the concrete stage commands.
// Scripts are resolved against ProjectRoot, which is also the working directory.
type Plan struct {
	Shell          string
	ProjectRoot    string
	SeparateScript string
	RemixScript    string
}

// Separate builds `<shell> <separateScript> <input> <slug>`.
func (p Plan) Separate(input, slug string) stage.Command {
	return stage.Command{
		Name: p.Shell,
		Args: []string{p.SeparateScript, input, slug},
		Dir:  p.ProjectRoot,
	}
}

// Remix builds `<shell> <remixScript> <slug>`.
func (p Plan) Remix(slug string) stage.Command {
	return stage.Command{
		Name: p.Shell,
		Args: []string{p.RemixScript, slug},
		Dir:  p.ProjectRoot,
	}
}

// Check verifies that both scripts exist as regular files.
func (p Plan) Check() error {
	var errs []error
	for _, s := range []string{p.SeparateScript, p.RemixScript} {
		path := s
		if !filepath.IsAbs(path) {
			path = filepath.Join(p.ProjectRoot, path)
		}
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			errs = append(errs, fmt.Errorf("%w: %s", ErrScriptMissing, path))
		}
	}
	return errors.Join(errs...)
}
