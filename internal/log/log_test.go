// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	Configure(Config{Level: "debug", Output: &buf, Version: "test"})
	t.Cleanup(func() { Configure(Config{Level: "info"}) })
	return &buf
}

func lastEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.NotEmpty(t, lines)
	var m map[string]any
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &m))
	return m
}

func TestWithComponentFromContext(t *testing.T) {
	buf := captureLogs(t)

	ctx := ContextWithRequestID(context.Background(), "req-1")
	ctx = ContextWithJobID(ctx, "song-abc123")
	l := WithComponentFromContext(ctx, "jobs")
	l.Info().Msg("hello")

	entry := lastEntry(t, buf)
	assert.Equal(t, "jobs", entry[FieldComponent])
	assert.Equal(t, "req-1", entry[FieldRequestID])
	assert.Equal(t, "song-abc123", entry[FieldJobID])
	assert.Equal(t, "stemrelay", entry["service"])
	assert.Equal(t, "test", entry["version"])
}

func TestWithContextNoFields(t *testing.T) {
	l := zerolog.Nop()
	out := WithContext(context.Background(), l)
	assert.Equal(t, l, out)
	assert.Equal(t, "", RequestIDFromContext(context.TODO()))
	assert.Equal(t, "", JobIDFromContext(context.TODO()))
}

func TestSetLevel(t *testing.T) {
	captureLogs(t)
	require.NoError(t, SetLevel("warn"))
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())
	assert.Error(t, SetLevel("loud"))
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())
}

func TestMiddleware(t *testing.T) {
	buf := captureLogs(t)

	r := chi.NewRouter()
	r.Use(Middleware())
	r.Get("/track/{slug}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("abc"))
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/track/x-000000", nil))

	entry := lastEntry(t, buf)
	assert.Equal(t, "http.request", entry[FieldEvent])
	assert.Equal(t, "/track/{slug}", entry[FieldRoute])
	assert.EqualValues(t, http.StatusTeapot, entry[FieldStatus])
	assert.EqualValues(t, 3, entry[FieldBytes])
}
