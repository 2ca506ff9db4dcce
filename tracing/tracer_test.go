package tracing_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/pilab-dev/lectio/tracing"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestInitTracerProvider(t *testing.T) {
	var buf bytes.Buffer
	tp, err := tracing.InitTracerProvider(tracing.Config{ServiceName: "lectio-test", Output: &buf})
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "Manager.Login")
	span.End()

	require.NoError(t, tp.Shutdown(context.Background()))
	assert.Contains(t, buf.String(), "Manager.Login")
	assert.Contains(t, buf.String(), "lectio-test")
}

func TestInitMeterProvider(t *testing.T) {
	reg := prometheus.NewRegistry()
	mp, err := tracing.InitMeterProvider(reg)
	require.NoError(t, err)

	hist, err := otel.Meter("test").Float64Histogram("lectio_test_duration")
	require.NoError(t, err)
	hist.Record(context.Background(), 0.5)

	families, err := reg.Gather()
	require.NoError(t, err)

	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "lectio_test_duration")

	tracing.Shutdown(context.Background(), nil, mp)
}
