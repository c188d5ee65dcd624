// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"errors"
	"net/http"

	"github.com/ManuGH/stemrelay/internal/jobs"
	xglog "github.com/ManuGH/stemrelay/internal/log"
	"github.com/ManuGH/stemrelay/internal/relay"
)

// handleProcess runs the job synchronously and redirects to the result.
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	job, err := s.receive(w, r)
	if err != nil {
		s.logUploadError(r, err)
		_, msg := uploadFailure(err)
		redirectWithFlash(w, r, "/", msg)
		return
	}
	out := s.jobs.Execute(r.Context(), job, jobs.Discard)
	if !out.Completed() {
		redirectWithFlash(w, r, "/", flashPipelineError)
		return
	}
	http.Redirect(w, r, TrackURL(job.Slug), http.StatusSeeOther)
}

// handleProcessStream runs the job and streams its progress as an HTML page.
func (s *Server) handleProcessStream(w http.ResponseWriter, r *http.Request) {
	job, err := s.receive(w, r)
	if err != nil {
		s.logUploadError(r, err)
		_, msg := uploadFailure(err)
		redirectWithFlash(w, r, "/", msg)
		return
	}
	rl := relay.NewHTML(w, TrackURL)
	s.stream(r, rl, job)
}

// handleSubmitJob is the API submission: an SSE stream by default, or 202
// with the job running in the background when async=true.
func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.receive(w, r)
	if err != nil {
		s.logUploadError(r, err)
		code, msg := uploadFailure(err)
		writeError(w, code, uploadErrorKind(code), msg)
		return
	}
	if r.URL.Query().Get("async") == "true" {
		if err := s.jobs.Start(r.Context(), job); err != nil {
			if errors.Is(err, jobs.ErrShuttingDown) {
				writeError(w, http.StatusServiceUnavailable, "shutting_down", err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		rec, err := s.jobs.Store().Get(r.Context(), job.Slug)
		if err != nil {
			rec = queuedRecord(job)
		}
		w.Header().Set("Location", "/api/v1/jobs/"+job.Slug)
		writeJSON(w, http.StatusAccepted, s.jobView(rec))
		return
	}
	s.stream(r, relay.NewSSE(w, TrackURL), job)
}

// stream opens rl and runs the job with rl as its observer. The job keeps
// running if the client goes away.
func (s *Server) stream(r *http.Request, rl *relay.Relay, job jobs.Job) {
	logger := xglog.FromContext(r.Context())
	if err := rl.Open(job.Title); err != nil {
		logger.Warn().Err(err).Str(xglog.FieldEvent, "relay.open_failed").Msg("could not open progress stream")
	}
	out := s.jobs.Execute(r.Context(), job, rl)
	logger.Debug().
		Str(xglog.FieldEvent, "relay.closed").
		Str(xglog.FieldJobID, job.Slug).
		Str(xglog.FieldStatus, string(out.Status)).
		Msg("progress stream finished")
}
