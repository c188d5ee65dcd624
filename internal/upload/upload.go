// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package upload materializes submitted audio files on disk.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/renameio/v2"

	xglog "github.com/ManuGH/stemrelay/internal/log"
	"github.com/ManuGH/stemrelay/internal/metrics"
)

var (
	// ErrNoFile is returned for submissions without a usable file name.
	ErrNoFile = errors.New("no file submitted")
	// ErrTooLarge is returned when the body exceeds the configured limit.
	ErrTooLarge = errors.New("upload exceeds size limit")
)

var unsafeChars = regexp.MustCompile(`[^\p{L}\p{N}_.\-]+`)

// SafeName reduces a client-supplied file name to its base name with every
// run of unsafe characters replaced by "_". Hidden or empty names yield "".
func SafeName(name string) string {
	name = strings.ReplaceAll(name, `\`, "/")
	name = filepath.Base(strings.TrimSpace(name))
	if name == "." || name == "/" {
		return ""
	}
	name = unsafeChars.ReplaceAllString(name, "_")
	name = strings.TrimLeft(name, ".")
	if strings.Trim(name, "_") == "" {
		return ""
	}
	return name
}

// Stem returns the file name without its extension, the slug base.
func Stem(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// Store writes uploads below dir, one subdirectory per job slug.
type Store struct {
	dir      string
	maxBytes int64
}

// NewStore returns a store rooted at dir. maxBytes <= 0 disables the limit.
func NewStore(dir string, maxBytes int64) *Store {
	return &Store{dir: dir, maxBytes: maxBytes}
}

// Dir returns the upload root.
func (s *Store) Dir() string { return s.dir }

// Save copies r to <dir>/<slug>/<safe name> atomically and returns the final
// absolute path. A partial upload never appears under the final name.
func (s *Store) Save(ctx context.Context, slug, filename string, r io.Reader) (string, error) {
	name := SafeName(filename)
	if name == "" {
		return "", ErrNoFile
	}
	if slug == "" || strings.ContainsAny(slug, `/\`) || strings.Contains(slug, "..") {
		return "", fmt.Errorf("upload: invalid slug %q", slug)
	}

	jobDir := filepath.Join(s.dir, slug)
	if err := os.MkdirAll(jobDir, 0o750); err != nil {
		return "", fmt.Errorf("upload: create job dir: %w", err)
	}
	path, err := filepath.Abs(filepath.Join(jobDir, name))
	if err != nil {
		return "", fmt.Errorf("upload: resolve path: %w", err)
	}

	logger := xglog.FromContext(ctx)

	pending, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o640))
	if err != nil {
		return "", fmt.Errorf("upload: create pending file: %w", err)
	}
	defer func() {
		if err := pending.Cleanup(); err != nil {
			logger.Debug().Err(err).Msg("cleanup pending upload")
		}
	}()

	src := r
	if s.maxBytes > 0 {
		src = io.LimitReader(r, s.maxBytes+1)
	}
	n, err := io.Copy(pending, &ctxReader{ctx: ctx, r: src})
	if err != nil {
		return "", fmt.Errorf("upload: write: %w", err)
	}
	if s.maxBytes > 0 && n > s.maxBytes {
		return "", ErrTooLarge
	}

	if err := pending.CloseAtomicallyReplace(); err != nil {
		return "", fmt.Errorf("upload: commit: %w", err)
	}
	metrics.UploadBytesTotal.Add(float64(n))

	logger.Info().
		Str(xglog.FieldEvent, "upload.saved").
		Str(xglog.FieldPath, path).
		Int64(xglog.FieldBytes, n).
		Msg("upload saved")
	return path, nil
}

// ctxReader stops a copy once the request context is gone.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
