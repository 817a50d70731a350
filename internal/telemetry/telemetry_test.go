package telemetry

import (
	"context"
	"testing"

	"github.com/fyrsmithlabs/conductor/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.TelemetryConfig
		wantErr bool
	}{
		{"disabled skips checks", config.TelemetryConfig{}, false},
		{"valid grpc", config.TelemetryConfig{Enabled: true, Endpoint: "localhost:4317", Protocol: "grpc", SamplingRate: 1}, false},
		{"missing endpoint", config.TelemetryConfig{Enabled: true, Protocol: "grpc"}, true},
		{"bad protocol", config.TelemetryConfig{Enabled: true, Endpoint: "x:1", Protocol: "udp"}, true},
		{"bad rate", config.TelemetryConfig{Enabled: true, Endpoint: "x:1", Protocol: "http", SamplingRate: 2}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNew_Disabled(t *testing.T) {
	tel, err := New(context.Background(), config.TelemetryConfig{})
	require.NoError(t, err)

	assert.False(t, tel.Health().Enabled)
	assert.NotNil(t, tel.Tracer("x"))
	assert.NotNil(t, tel.Meter("x"))
	assert.NoError(t, tel.ForceFlush(context.Background()))
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestTestTelemetry_RecordsSpansAndMetrics(t *testing.T) {
	ctx := context.Background()
	tel := NewTestTelemetry()

	_, span := tel.Tracer("conductor.test").Start(ctx, "orchestrate")
	span.End()
	tel.AssertSpanExists(t, "orchestrate")

	counter, err := tel.Meter("conductor.test").Int64Counter("runs")
	require.NoError(t, err)
	counter.Add(ctx, 2)

	rm, err := tel.CollectMetrics(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, rm.ScopeMetrics)
	assert.Equal(t, "runs", rm.ScopeMetrics[0].Metrics[0].Name)
}

func TestStripScheme(t *testing.T) {
	assert.Equal(t, "otel:4318", stripScheme("https://otel:4318"))
	assert.Equal(t, "otel:4318", stripScheme("http://otel:4318"))
	assert.Equal(t, "otel:4318", stripScheme("otel:4318"))
}
