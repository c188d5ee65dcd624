// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/stemrelay/internal/artifacts"
	"github.com/ManuGH/stemrelay/internal/config"
	"github.com/ManuGH/stemrelay/internal/history"
	"github.com/ManuGH/stemrelay/internal/jobs"
	"github.com/ManuGH/stemrelay/internal/pipeline"
	"github.com/ManuGH/stemrelay/internal/slug"
	"github.com/ManuGH/stemrelay/internal/stage"
	"github.com/ManuGH/stemrelay/internal/upload"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	separateOK = `set -e
echo "separating $1"
mkdir -p "stems/htdemucs/$2"
for t in vocals drums bass other; do printf 'RIFF' > "stems/htdemucs/$2/$t.wav"; done
echo done
`
	remixOK = `set -e
echo "mixing $1"
printf 'RIFF' > "stems/htdemucs/$1/$1_instrumental.wav"
`
	separateFail = `echo "model not found" >&2
exit 3
`
)

type testEnv struct {
	srv     *Server
	svc     *jobs.Service
	store   *history.MemoryStore
	locator *artifacts.Locator
	cfg     config.AppConfig
}

func newTestEnv(t *testing.T, separate string) *testEnv {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("requires /bin/sh")
	}
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "scripts"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "scripts", "sep.sh"), []byte(separate), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "scripts", "mix.sh"), []byte(remixOK), 0o755))

	cfg := config.Defaults()
	cfg.Version = "test"
	cfg.API.MaxUploadBytes = 1024
	cfg.API.SubmitRateLimit = 0
	cfg.Pipeline.ProjectRoot = root
	cfg.Pipeline.Shell = "/bin/sh"
	cfg.Pipeline.SeparateScript = "scripts/sep.sh"
	cfg.Pipeline.RemixScript = "scripts/mix.sh"
	cfg.Pipeline.StemsRoot = filepath.Join(root, "stems", "htdemucs")
	cfg.Uploads.Dir = filepath.Join(root, "uploads")

	runner := stage.NewExecRunner()
	runner.Logger = zerolog.Nop()
	plan := pipeline.Plan{
		Shell:          cfg.Pipeline.Shell,
		ProjectRoot:    root,
		SeparateScript: cfg.Pipeline.SeparateScript,
		RemixScript:    cfg.Pipeline.RemixScript,
	}
	orch := pipeline.NewOrchestrator(runner, plan, pipeline.WithLogger(zerolog.Nop()), pipeline.WithStageTimeout(10*time.Second))
	store := history.NewMemoryStore()
	svc := jobs.NewService(orch, store, 2)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})

	locator := artifacts.NewLocator(cfg.Pipeline.StemsRoot)
	srv, err := New(Deps{
		Config:  func() config.AppConfig { return cfg },
		Jobs:    svc,
		Uploads: upload.NewStore(cfg.Uploads.Dir, cfg.API.MaxUploadBytes),
		Locator: locator,
	})
	require.NoError(t, err)
	return &testEnv{srv: srv, svc: svc, store: store, locator: locator, cfg: cfg}
}

func multipartBody(t *testing.T, field, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("note", "ignored"))
	if field != "" {
		fw, err := mw.CreateFormFile(field, filename)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func (e *testEnv) upload(t *testing.T, target, filename string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := multipartBody(t, uploadField, filename, content)
	req := httptest.NewRequest(http.MethodPost, target, body)
	req.Header.Set("Content-Type", ct)
	rr := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) get(t *testing.T, target string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rr := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rr, req)
	return rr
}

func flashCookieOf(t *testing.T, rr *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rr.Result().Cookies() {
		if c.Name == flashCookie {
			return c
		}
	}
	t.Fatalf("no flash cookie set")
	return nil
}

func TestProcessRedirectsToTrack(t *testing.T) {
	e := newTestEnv(t, separateOK)

	rr := e.upload(t, "/process", "My Song.wav", []byte("RIFF....WAVE"))
	require.Equal(t, http.StatusSeeOther, rr.Code)
	loc := rr.Header().Get("Location")
	require.True(t, strings.HasPrefix(loc, "/track/my-song-"), loc)
	id := strings.TrimPrefix(loc, "/track/")
	require.True(t, slug.Valid(id))

	rec, err := e.store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, history.StatusCompleted, rec.Status)
	assert.Equal(t, "My_Song", rec.Title)
	assert.Equal(t, "My Song.wav", rec.SourceName)

	_, err = os.Stat(filepath.Join(e.cfg.Uploads.Dir, id, "My_Song.wav"))
	require.NoError(t, err)

	page := e.get(t, loc)
	require.Equal(t, http.StatusOK, page.Code)
	body := page.Body.String()
	assert.Contains(t, body, "My_Song")
	assert.Contains(t, body, "/download/"+id+"/instrumental")
	assert.Contains(t, body, "/audio/"+id+"/vocals")
	assert.NotContains(t, body, "not available")
}

func TestProcessFailureFlashesOnIndex(t *testing.T) {
	e := newTestEnv(t, separateFail)

	rr := e.upload(t, "/process", "song.mp3", []byte("ID3"))
	require.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/", rr.Header().Get("Location"))

	idx := e.get(t, "/", flashCookieOf(t, rr))
	require.Equal(t, http.StatusOK, idx.Code)
	assert.Contains(t, idx.Body.String(), flashPipelineError)
	assert.Contains(t, idx.Body.String(), `badge failed`)

	recs, err := e.store.ListRecent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, history.StatusFailed, recs[0].Status)
	assert.Equal(t, string(pipeline.StageSeparate), recs[0].FailedStage)
	assert.Equal(t, 3, recs[0].ExitCode)
}

func TestProcessWithoutFile(t *testing.T) {
	e := newTestEnv(t, separateOK)

	body, ct := multipartBody(t, "", "", nil)
	req := httptest.NewRequest(http.MethodPost, "/process", body)
	req.Header.Set("Content-Type", ct)
	rr := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rr, req)

	require.Equal(t, http.StatusSeeOther, rr.Code)
	idx := e.get(t, "/", flashCookieOf(t, rr))
	assert.Contains(t, idx.Body.String(), flashNoFile)

	recs, err := e.store.ListRecent(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestFlashIsShownOnce(t *testing.T) {
	e := newTestEnv(t, separateOK)
	rr := httptest.NewRecorder()
	setFlash(rr, "hello there")
	c := flashCookieOf(t, rr)

	first := e.get(t, "/", c)
	assert.Contains(t, first.Body.String(), "hello there")
	cleared := flashCookieOf(t, first)
	assert.Less(t, cleared.MaxAge, 0)

	second := e.get(t, "/")
	assert.NotContains(t, second.Body.String(), "hello there")
}

func TestProcessStreamRelaysProgress(t *testing.T) {
	e := newTestEnv(t, separateOK)

	rr := e.upload(t, "/process_stream", "Live Take.flac", []byte("fLaC"))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/html; charset=utf-8", rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Header().Get("Content-Security-Policy"), "nonce-")

	body := rr.Body.String()
	sep := strings.Index(body, "step 1/2")
	mix := strings.Index(body, "step 2/2")
	require.GreaterOrEqual(t, sep, 0)
	require.Greater(t, mix, sep)
	assert.Contains(t, body, "separating")
	assert.Contains(t, body, "/track/live-take-")
}

func TestSubmitJobStreamsEvents(t *testing.T) {
	e := newTestEnv(t, separateOK)

	rr := e.upload(t, "/api/v1/jobs", "a.wav", []byte("RIFF"))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/event-stream", rr.Header().Get("Content-Type"))

	body := rr.Body.String()
	assert.Contains(t, body, "event: status\n")
	assert.Contains(t, body, "event: line\n")
	assert.Contains(t, body, "event: completed\n")
	assert.NotContains(t, body, "event: failed\n")
	assert.True(t, strings.HasSuffix(body, "\n\n"))
}

func TestSubmitJobAsync(t *testing.T) {
	e := newTestEnv(t, separateOK)

	rr := e.upload(t, "/api/v1/jobs?async=true", "b.wav", []byte("RIFF"))
	require.Equal(t, http.StatusAccepted, rr.Code)
	loc := rr.Header().Get("Location")
	require.True(t, strings.HasPrefix(loc, "/api/v1/jobs/b-"), loc)

	var accepted jobView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &accepted))
	assert.True(t, accepted.Status == history.StatusQueued || accepted.Status == history.StatusRunning, string(accepted.Status))
	assert.Equal(t, TrackURL(accepted.Slug), accepted.ResultURL)

	require.Eventually(t, func() bool {
		res := e.get(t, loc)
		if res.Code != http.StatusOK {
			return false
		}
		var v jobView
		if err := json.Unmarshal(res.Body.Bytes(), &v); err != nil {
			return false
		}
		return v.Status == history.StatusCompleted && v.Artifacts["instrumental"].Exists
	}, 10*time.Second, 50*time.Millisecond)
}

func TestSubmitJobTooLarge(t *testing.T) {
	e := newTestEnv(t, separateOK)

	rr := e.upload(t, "/api/v1/jobs", "big.wav", bytes.Repeat([]byte{1}, 4096))
	require.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	var body apiError
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "too_large", body.Error)
}

func TestGetJob(t *testing.T) {
	e := newTestEnv(t, separateOK)

	t.Run("unknown", func(t *testing.T) {
		rr := e.get(t, "/api/v1/jobs/nothing-abcdef")
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("invalid slug", func(t *testing.T) {
		rr := e.get(t, "/api/v1/jobs/..%2Fetc")
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("artifacts without record", func(t *testing.T) {
		dir := filepath.Join(e.cfg.Pipeline.StemsRoot, "old-song-0a1b2c")
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "vocals.wav"), []byte("RIFF"), 0o644))

		rr := e.get(t, "/api/v1/jobs/old-song-0a1b2c")
		require.Equal(t, http.StatusOK, rr.Code)
		var v jobView
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v))
		assert.Equal(t, history.StatusPartial, v.Status)
		assert.Equal(t, "old song", v.Title)
		assert.True(t, v.Artifacts["vocals"].Exists)
		assert.Equal(t, "/download/old-song-0a1b2c/vocals", v.Artifacts["vocals"].DownloadURL)
		assert.False(t, v.Artifacts["drums"].Exists)
		assert.Empty(t, v.Artifacts["drums"].DownloadURL)
	})
}

func TestListJobs(t *testing.T) {
	e := newTestEnv(t, separateOK)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"one-000001", "two-000002", "three-000003"} {
		require.NoError(t, e.store.Put(ctx, history.Record{
			Slug: id, Title: id, Status: history.StatusCompleted,
			CreatedAt: base.Add(time.Duration(i) * time.Minute), UpdatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	rr := e.get(t, "/api/v1/jobs?limit=2")
	require.Equal(t, http.StatusOK, rr.Code)
	var out struct {
		Jobs []jobView `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	require.Len(t, out.Jobs, 2)
	assert.Equal(t, "three-000003", out.Jobs[0].Slug)
	assert.Equal(t, "two-000002", out.Jobs[1].Slug)

	for _, q := range []string{"0", "1001", "x"} {
		rr := e.get(t, "/api/v1/jobs?limit="+q)
		assert.Equal(t, http.StatusBadRequest, rr.Code, q)
	}
}

func TestServeTracks(t *testing.T) {
	e := newTestEnv(t, separateOK)
	id := "demo-abc123"
	dir := filepath.Join(e.cfg.Pipeline.StemsRoot, id)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "vocals.wav"), []byte("full-vocals"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "vocals_preview.mp3"), []byte("preview-vocals"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, id+"_instrumental.wav"), []byte("full-inst"), 0o644))

	t.Run("download is the full wav", func(t *testing.T) {
		rr := e.get(t, "/download/"+id+"/vocals")
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "full-vocals", rr.Body.String())
		assert.Equal(t, `attachment; filename=vocals.wav`, rr.Header().Get("Content-Disposition"))
	})

	t.Run("audio prefers the preview", func(t *testing.T) {
		rr := e.get(t, "/audio/"+id+"/vocals")
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "preview-vocals", rr.Body.String())
		assert.True(t, strings.HasPrefix(rr.Header().Get("Content-Disposition"), "inline"))
	})

	t.Run("audio falls back to the wav", func(t *testing.T) {
		rr := e.get(t, "/audio/"+id+"/instrumental")
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "full-inst", rr.Body.String())
	})

	t.Run("range requests", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/download/"+id+"/vocals", nil)
		req.Header.Set("Range", "bytes=0-3")
		rr := httptest.NewRecorder()
		e.srv.Handler().ServeHTTP(rr, req)
		assert.Equal(t, http.StatusPartialContent, rr.Code)
		assert.Equal(t, "full", rr.Body.String())
	})

	t.Run("unknown track", func(t *testing.T) {
		rr := e.get(t, "/download/"+id+"/kazoo")
		require.Equal(t, http.StatusSeeOther, rr.Code)
		assert.Equal(t, TrackURL(id), rr.Header().Get("Location"))
		page := e.get(t, TrackURL(id), flashCookieOf(t, rr))
		assert.Contains(t, page.Body.String(), flashBadTrack)
	})

	t.Run("missing file", func(t *testing.T) {
		rr := e.get(t, "/download/"+id+"/drums")
		require.Equal(t, http.StatusSeeOther, rr.Code)
		page := e.get(t, TrackURL(id), flashCookieOf(t, rr))
		assert.Contains(t, page.Body.String(), flashMissingTrack)
	})

	t.Run("symlink outside the stems root", func(t *testing.T) {
		secret := filepath.Join(t.TempDir(), "secret.wav")
		require.NoError(t, os.WriteFile(secret, []byte("secret"), 0o644))
		require.NoError(t, os.Symlink(secret, filepath.Join(dir, "other.wav")))

		rr := e.get(t, "/download/"+id+"/other")
		require.Equal(t, http.StatusSeeOther, rr.Code)
		assert.NotContains(t, rr.Body.String(), "secret")
	})

	t.Run("track page lists missing tracks", func(t *testing.T) {
		rr := e.get(t, TrackURL(id))
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), "not available")
		assert.Contains(t, rr.Body.String(), "/audio/"+id+"/vocals")
	})
}

func TestHealthEndpoints(t *testing.T) {
	e := newTestEnv(t, separateOK)
	assert.Equal(t, http.StatusOK, e.get(t, "/healthz").Code)
	assert.Equal(t, http.StatusOK, e.get(t, "/readyz").Code)

	rr := e.get(t, "/api/v1/openapi.yaml")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, OpenAPISpec(), rr.Body.Bytes())
}

func TestNewRequiresDeps(t *testing.T) {
	_, err := New(Deps{})
	require.Error(t, err)
}

func TestRedirectTargetsAreRelative(t *testing.T) {
	u, err := url.Parse(TrackURL("x-abcdef"))
	require.NoError(t, err)
	assert.False(t, u.IsAbs())
}
