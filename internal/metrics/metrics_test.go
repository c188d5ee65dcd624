// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics_test

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ManuGH/stemrelay/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordJob(t *testing.T) {
	completed := metrics.JobsTotal.WithLabelValues("completed")
	failed := metrics.JobFailuresTotal.WithLabelValues("remix", "launch failure")
	beforeCompleted := metrics.CounterValue(completed)
	beforeFailed := metrics.CounterValue(failed)

	metrics.RecordJob("completed", "", "")
	metrics.RecordJob("failed", "remix", "launch failure")

	assert.Equal(t, beforeCompleted+1, metrics.CounterValue(completed))
	assert.Equal(t, beforeFailed+1, metrics.CounterValue(failed))
}

func TestIncProcTerminate(t *testing.T) {
	c := metrics.ProcTerminateTotal.WithLabelValues("SIGTERM", "sent")
	before := metrics.CounterValue(c)
	metrics.IncProcTerminate("SIGTERM", "sent")
	assert.Equal(t, before+1, metrics.CounterValue(c))
}

func TestPromhttpExposure(t *testing.T) {
	metrics.ObserveStage("separate", "success", 3*time.Second)
	metrics.JobsInFlight.Set(0)

	srv := httptest.NewServer(promhttp.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.True(t, strings.Contains(string(body), `stemrelay_stage_duration_seconds_count{result="success",stage="separate"}`))
	assert.True(t, strings.Contains(string(body), "stemrelay_jobs_in_flight 0"))
}
