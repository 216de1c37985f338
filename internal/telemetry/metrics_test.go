package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics_Registers(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.CacheHits.WithLabelValues("same_origin").Inc()
	m.CacheHits.WithLabelValues("same_origin").Inc()
	m.CacheMisses.WithLabelValues("cross_origin").Inc()

	if got := testutil.ToFloat64(m.CacheHits.WithLabelValues("same_origin")); got != 2 {
		t.Errorf("cache hits = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.CacheMisses.WithLabelValues("cross_origin")); got != 1 {
		t.Errorf("cache misses = %v, want 1", got)
	}
}

func TestNewMetrics_DoubleRegisterPanics(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	NewMetrics(reg)

	defer func() {
		if recover() == nil {
			t.Error("second registration should panic")
		}
	}()
	NewMetrics(reg)
}
