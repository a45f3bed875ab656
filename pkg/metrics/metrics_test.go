package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mchmarny/dermai/pkg/train"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveEpoch(t *testing.T) {
	m := New()
	m.ObserveEpoch(train.EpochRecord{Phase: "fine_tuning", Loss: 1.2, ValLoss: 0.9, Accuracy: 0.5, ValAccuracy: 0.6, LearningRate: 1e-5})
	m.ObserveEpoch(train.EpochRecord{Phase: "fine_tuning", Loss: 1.0, ValLoss: 0.8, Accuracy: 0.55, ValAccuracy: 0.65, LearningRate: 5e-6})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.EpochLoss.WithLabelValues("fine_tuning", "train")))
	assert.Equal(t, 0.8, testutil.ToFloat64(m.EpochLoss.WithLabelValues("fine_tuning", "val")))
	assert.Equal(t, 0.65, testutil.ToFloat64(m.EpochAccuracy.WithLabelValues("fine_tuning", "val")))
	assert.Equal(t, 5e-6, testutil.ToFloat64(m.LearningRate))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Epochs.WithLabelValues("fine_tuning")))
}

func TestObserveAssessment(t *testing.T) {
	m := New()
	m.ObserveAssessment("high", 20*time.Millisecond)
	m.ObserveAssessment("high", 30*time.Millisecond)
	m.ObserveAssessment("low", 10*time.Millisecond)
	m.ObserveFailure("validate")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Assessments.WithLabelValues("high")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Assessments.WithLabelValues("low")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Failures.WithLabelValues("validate")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.AssessLatency))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveEpoch(train.EpochRecord{})
		m.ObserveAssessment("low", time.Second)
		m.ObserveFailure("predict")
	})
	assert.Nil(t, m.Registry())
	assert.NoError(t, m.WriteTextfile("ignored.prom"))
}

func TestIndependentRegistries(t *testing.T) {
	a, b := New(), New()
	a.ObserveFailure("predict")
	assert.Equal(t, 0.0, testutil.ToFloat64(b.Failures.WithLabelValues("predict")))
}

func TestWriteTextfile(t *testing.T) {
	m := New()
	m.ObserveAssessment("moderate", time.Millisecond)

	path := filepath.Join(t.TempDir(), "dermai.prom")
	require.NoError(t, m.WriteTextfile(path))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), `dermai_assessments_total{tier="moderate"} 1`)

	assert.NoError(t, m.WriteTextfile(""))
}
