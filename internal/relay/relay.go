// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package relay pushes job progress to a remote observer over a streaming
// HTTP response. Each event becomes one unit, written and flushed on its own.
package relay

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ManuGH/stemrelay/internal/metrics"
	"github.com/ManuGH/stemrelay/internal/pipeline"
)

var (
	// ErrObserverDisconnected is returned once a write to the observer failed.
	ErrObserverDisconnected = errors.New("observer disconnected")
	// ErrClosed is returned for units written after a terminal unit.
	ErrClosed = errors.New("relay closed")
)

// Relay writes units to one HTTP response. It is safe for use by one
// producer; the mutex only guards against late writes after Close.
type Relay struct {
	mu        sync.Mutex
	w         http.ResponseWriter
	rc        *http.ResponseController
	enc       Encoder
	resultURL func(slug string) string
	opened    bool
	closed    bool
	err       error
}

// New returns a relay on w. resultURL maps a slug to the result page.
func New(w http.ResponseWriter, enc Encoder, resultURL func(string) string) *Relay {
	return &Relay{
		w:         w,
		rc:        http.NewResponseController(w),
		enc:       enc,
		resultURL: resultURL,
	}
}

// NewNonce returns a random CSP nonce for one response.
func NewNonce() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return base64.StdEncoding.EncodeToString(b[:])
}

// NewHTML returns a relay that streams an HTML page and sets a matching
// nonce-based Content-Security-Policy.
func NewHTML(w http.ResponseWriter, resultURL func(string) string) *Relay {
	nonce := NewNonce()
	w.Header().Set("Content-Security-Policy",
		fmt.Sprintf("default-src 'self'; script-src 'nonce-%s'; style-src 'nonce-%s'; frame-ancestors 'none'", nonce, nonce))
	return New(w, HTMLEncoder{Nonce: nonce}, resultURL)
}

// NewSSE returns a relay that streams server-sent events.
func NewSSE(w http.ResponseWriter, resultURL func(string) string) *Relay {
	return New(w, SSEEncoder{}, resultURL)
}

// Open sends the response header and the encoder prelude. Long jobs outlive
// the server write timeout, so the write deadline is cleared for this response.
func (r *Relay) Open(title string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.opened {
		return nil
	}
	r.opened = true

	if err := r.rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return r.fail(err)
	}

	h := r.w.Header()
	h.Set("Content-Type", r.enc.ContentType())
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Accel-Buffering", "no")
	h.Del("Content-Length")
	r.w.WriteHeader(http.StatusOK)

	return r.write(r.enc.Open(title), "")
}

// Status writes a framing unit (stage started, waiting for a worker).
func (r *Relay) Status(text string, state State) error {
	return r.unit(r.enc.Status(text, state), "status", false)
}

// Line writes one output line as one unit.
func (r *Relay) Line(text string) error {
	return r.unit(r.enc.Line(text), "line", false)
}

// Completed writes the terminal success unit pointing at the result page.
func (r *Relay) Completed(slug string) error {
	return r.unit(r.enc.Completed(slug, r.resultURL(slug)), "completed", true)
}

// Failed writes the terminal failure unit.
func (r *Relay) Failed(o pipeline.Outcome) error {
	return r.unit(r.enc.Failed(o), "failed", true)
}

// Err returns the first write error, wrapped in ErrObserverDisconnected.
func (r *Relay) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

func (r *Relay) unit(b []byte, kind string, terminal bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	if r.closed {
		return ErrClosed
	}
	if !r.opened {
		return fmt.Errorf("relay: unit before Open")
	}
	err := r.write(b, kind)
	if terminal {
		r.closed = true
	}
	return err
}

// write must be called with mu held.
func (r *Relay) write(b []byte, kind string) error {
	if len(b) > 0 {
		if _, err := r.w.Write(b); err != nil {
			return r.fail(err)
		}
	}
	if err := r.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return r.fail(err)
	}
	if kind != "" {
		metrics.RelayUnitsTotal.WithLabelValues(kind).Inc()
	}
	return nil
}

func (r *Relay) fail(err error) error {
	r.err = fmt.Errorf("%w: %v", ErrObserverDisconnected, err)
	return r.err
}
