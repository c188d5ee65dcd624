// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api serves the web pages, the job API and the progress streams.
package api

import (
	"embed"
	"errors"
	"html/template"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/stemrelay/internal/api/middleware"
	"github.com/ManuGH/stemrelay/internal/artifacts"
	"github.com/ManuGH/stemrelay/internal/config"
	"github.com/ManuGH/stemrelay/internal/health"
	"github.com/ManuGH/stemrelay/internal/jobs"
	"github.com/ManuGH/stemrelay/internal/upload"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed openapi.yaml
var openAPISpec []byte

// OpenAPISpec returns the embedded API description.
func OpenAPISpec() []byte { return openAPISpec }

// Deps are the collaborators of the HTTP server.
type Deps struct {
	// Config returns the current configuration; reloads are picked up per request.
	Config  func() config.AppConfig
	Jobs    *jobs.Service
	Uploads *upload.Store
	Locator *artifacts.Locator
	Health  *health.Manager
}

// Server holds the HTTP handlers.
type Server struct {
	cfg     func() config.AppConfig
	jobs    *jobs.Service
	uploads *upload.Store
	locator *artifacts.Locator
	health  *health.Manager
	pages   *template.Template
	router  chi.Router
}

// New builds the server and its router.
func New(d Deps) (*Server, error) {
	if d.Config == nil || d.Jobs == nil || d.Uploads == nil || d.Locator == nil {
		return nil, errors.New("api: missing dependency")
	}
	pages, err := template.New("pages").ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, err
	}
	hm := d.Health
	if hm == nil {
		hm = health.NewManager(d.Config().Version)
	}
	s := &Server{
		cfg:     d.Config,
		jobs:    d.Jobs,
		uploads: d.Uploads,
		locator: d.Locator,
		health:  hm,
		pages:   pages,
	}
	s.router = s.routes()
	return s, nil
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	cfg := s.cfg()
	r := middleware.NewRouter(middleware.StackConfig{
		EnableSecurityHeaders: true,
		EnableMetrics:         true,
		TracingService:        "stemrelay",
		EnableLogging:         true,
	})

	r.Get("/healthz", s.health.ServeHealth)
	r.Get("/readyz", s.health.ServeReady)

	r.Get("/", s.handleIndex)
	r.Get("/track/{slug}", s.handleTrack)
	r.Get("/download/{slug}/{track}", s.handleDownload)
	r.Get("/audio/{slug}/{track}", s.handleAudio)

	submit := middleware.SubmitRateLimit(cfg.API.SubmitRateLimit, cfg.API.SubmitRateWindow)
	r.With(submit).Post("/process", s.handleProcess)
	r.With(submit).Post("/process_stream", s.handleProcessStream)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/openapi.yaml", s.handleOpenAPI)
		r.Get("/jobs", s.handleListJobs)
		r.With(submit).Post("/jobs", s.handleSubmitJob)
		r.Get("/jobs/{slug}", s.handleGetJob)
	})
	return r
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	w.Header().Set("Cache-Control", "public, max-age=300")
	_, _ = w.Write(openAPISpec)
}

// TrackURL is the result page of a job.
func TrackURL(slug string) string { return "/track/" + slug }

func downloadURL(slug string, t artifacts.Track) string {
	return "/download/" + slug + "/" + string(t)
}

func audioURL(slug string, t artifacts.Track) string {
	return "/audio/" + slug + "/" + string(t)
}

func since(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format("2006-01-02 15:04")
}
