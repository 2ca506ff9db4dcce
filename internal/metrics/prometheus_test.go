package metrics_test

import (
	"testing"

	"github.com/pilab-dev/lectio/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitCustomMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics.InitCustomMetrics(reg)

	before := testutil.ToFloat64(metrics.LoginSuccessTotal)
	metrics.LoginSuccessTotal.Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.LoginSuccessTotal))

	metrics.LoginFailureTotal.WithLabelValues("wrong-password").Inc()

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "lectio_logins_success_total")
	assert.Contains(t, names, "lectio_logins_failure_total")

	// Registering twice only warns.
	metrics.InitCustomMetrics(reg)
	metrics.InitCustomMetrics(nil)
}
