package metrics_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/dantte-lp/loco/internal/metrics"
)

func TestNewCollector(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	if c.PhaseDuration == nil {
		t.Error("PhaseDuration is nil")
	}
	if c.Discards == nil {
		t.Error("Discards is nil")
	}
	if c.SamplesAccepted == nil {
		t.Error("SamplesAccepted is nil")
	}
	if c.BandwidthEstimated == nil {
		t.Error("BandwidthEstimated is nil")
	}
	if c.BandwidthBinWidth == nil {
		t.Error("BandwidthBinWidth is nil")
	}
	if c.Assessment == nil {
		t.Error("Assessment is nil")
	}

	if _, err := reg.Gather(); err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
}

func TestObservePhaseDuration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.ObservePhaseDuration(metrics.PhaseP1, 1500*time.Millisecond)

	val := gaugeVecValue(t, c.PhaseDuration, metrics.PhaseP1)
	if val != 1.5 {
		t.Errorf("PhaseDuration(p1) = %v, want 1.5", val)
	}
}

func TestIncDiscardsAndSamplesAccepted(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.IncDiscards(metrics.PhaseP2, 3)
	c.IncDiscards(metrics.PhaseP2, 2)
	c.IncSamplesAccepted(metrics.PhaseP2, 40)

	if val := counterVecValue(t, c.Discards, metrics.PhaseP2); val != 5 {
		t.Errorf("Discards(p2) = %v, want 5", val)
	}
	if val := counterVecValue(t, c.SamplesAccepted, metrics.PhaseP2); val != 40 {
		t.Errorf("SamplesAccepted(p2) = %v, want 40", val)
	}
}

func TestSetResult(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.SetResult(94.5, 6.0, 2)

	if val := gaugeValue(t, c.BandwidthEstimated); val != 94.5 {
		t.Errorf("BandwidthEstimated = %v, want 94.5", val)
	}
	if val := gaugeValue(t, c.BandwidthBinWidth); val != 6.0 {
		t.Errorf("BandwidthBinWidth = %v, want 6.0", val)
	}
	if val := gaugeValue(t, c.Assessment); val != 2 {
		t.Errorf("Assessment = %v, want 2", val)
	}
}

func gaugeVecValue(t *testing.T, vec *prometheus.GaugeVec, labels ...string) float64 {
	t.Helper()

	g, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v): %v", labels, err)
	}

	m := &dto.Metric{}
	if err := g.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}
	return m.GetGauge().GetValue()
}

func counterVecValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()

	c, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v): %v", labels, err)
	}

	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()

	m := &dto.Metric{}
	if err := g.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}
	return m.GetGauge().GetValue()
}
