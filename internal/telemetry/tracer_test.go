// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestNewProviderDisabled(t *testing.T) {
	provider, err := NewProvider(context.Background(), Config{Enabled: false, ServiceName: "stemrelay"})
	require.NoError(t, err)
	assert.Nil(t, provider.tp)

	_, span := otel.Tracer("test").Start(context.Background(), "noop-check")
	assert.False(t, span.IsRecording())
	span.End()

	assert.NoError(t, provider.Shutdown(context.Background()))
}

func TestNewProviderInvalidExporter(t *testing.T) {
	_, err := NewProvider(context.Background(), Config{Enabled: true, ExporterType: "invalid"})
	require.Error(t, err)
	assert.Equal(t, "unsupported exporter type: invalid (supported: grpc, http)", err.Error())
}

func TestNewProviderHTTP(t *testing.T) {
	provider, err := NewProvider(context.Background(), Config{
		Enabled:      true,
		ServiceName:  "stemrelay",
		ExporterType: "http",
		Endpoint:     "127.0.0.1:4318",
		SamplingRate: 1.0,
	})
	require.NoError(t, err)
	require.NotNil(t, provider.tp)

	_, span := Tracer("test").Start(context.Background(), "recording")
	assert.True(t, span.IsRecording())
	span.End()

	// Nothing listens on the endpoint; shutdown must still return.
	_ = provider.Shutdown(context.Background())
	_, err = NewProvider(context.Background(), Config{Enabled: false})
	require.NoError(t, err)
}

func TestSampler(t *testing.T) {
	assert.Equal(t, sdktrace.AlwaysSample().Description(), sampler(1.5).Description())
	assert.Equal(t, sdktrace.NeverSample().Description(), sampler(0).Description())
	assert.Equal(t, sdktrace.TraceIDRatioBased(0.25).Description(), sampler(0.25).Description())
}

func TestStageAttributes(t *testing.T) {
	attrs := StageAttributes("separate", "bash x.sh")
	require.Len(t, attrs, 2)
	assert.Equal(t, StageNameKey, string(attrs[0].Key))
	assert.Equal(t, "bash x.sh", attrs[1].Value.AsString())

	assert.Len(t, JobAttributes("a-000000", ""), 1)
	assert.Len(t, JobAttributes("a-000000", "completed"), 2)
	assert.Len(t, StageResultAttributes(1, 10, false), 3)
}
