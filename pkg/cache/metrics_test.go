package cache

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/vatdata/metric"
)

func TestWriteBackMetrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	r := newRecorder()

	c, err := NewWriteBack[string](1, r.flush, WithMetrics[string](registry, "test_cache"))
	require.NoError(t, err)

	require.NoError(t, c.Insert("a", "1", true, false))
	_, _ = c.Lookup("a")
	_, _ = c.Lookup("zz")
	require.NoError(t, c.Insert("b", "2", false, false))

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)

	byName := make(map[string]*dto.MetricFamily)
	for _, mf := range families {
		byName[mf.GetName()] = mf
	}

	expect := map[string]float64{
		"vatdata_cache_hits_total":      1,
		"vatdata_cache_misses_total":    1,
		"vatdata_cache_sets_total":      2,
		"vatdata_cache_evictions_total": 1,
		"vatdata_cache_flushes_total":   1,
	}
	for name, want := range expect {
		mf := byName[name]
		require.NotNil(t, mf, "%s should be registered", name)
		assert.Equal(t, want, mf.GetMetric()[0].GetCounter().GetValue(), name)
	}

	size := byName["vatdata_cache_size"]
	require.NotNil(t, size)
	assert.Equal(t, 1.0, size.GetMetric()[0].GetGauge().GetValue())
	assert.Equal(t, "test_cache", size.GetMetric()[0].GetLabel()[0].GetValue())
}

func TestWriteBackMetrics_DuplicatePrefix(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	r := newRecorder()

	_, err := NewWriteBack[string](1, r.flush, WithMetrics[string](registry, "dup"))
	require.NoError(t, err)

	_, err = NewWriteBack[string](1, r.flush, WithMetrics[string](registry, "dup"))
	assert.Error(t, err)
}

func TestWriteBackMetrics_NilRegistryIgnored(t *testing.T) {
	_, err := NewWriteBack[string](1, newRecorder().flush, WithMetrics[string](nil, "x"))
	assert.NoError(t, err)
}
