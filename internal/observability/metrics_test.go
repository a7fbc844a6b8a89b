package observability

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func value(t *testing.T, m prometheus.Metric) float64 {
	t.Helper()
	var out dto.Metric
	require.NoError(t, m.Write(&out))
	if out.Gauge != nil {
		return out.Gauge.GetValue()
	}
	return out.Counter.GetValue()
}

func TestRecordCoverage(t *testing.T) {
	RecordCoverage("w-metrics", 42)
	assert.Equal(t, 42.0, value(t, coverageGauge.WithLabelValues("w-metrics")))

	assert.True(t, coverageGauge.DeleteLabelValues("w-metrics"))
	RecordCoverage("w-metrics", 10)
	ForgetWorkshop("w-metrics")
	assert.False(t, coverageGauge.DeleteLabelValues("w-metrics"))
}

func TestRecordExport(t *testing.T) {
	RecordExport("matrix", nil)
	RecordExport("matrix", errors.New("boom"))
	assert.Equal(t, 1.0, value(t, exportsTotal.WithLabelValues("matrix", "ok")))
	assert.Equal(t, 1.0, value(t, exportsTotal.WithLabelValues("matrix", "error")))
}

func TestRecordFinding(t *testing.T) {
	RecordFinding("missing_accountable", "danger")
	RecordFinding("missing_accountable", "danger")
	assert.Equal(t, 2.0, value(t, findingsTotal.WithLabelValues("missing_accountable", "danger")))
}
