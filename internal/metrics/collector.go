// Package metrics exposes Prometheus metrics for a loco measurement run:
// phase durations, per-phase discard counts, and the final capacity
// estimate. A run only emits one sample per series (loco is a single-shot
// CLI, not a long-running daemon), so gauges stand in for what would be
// histograms in a server that ran many sessions.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "loco"
	subsystem = "engine"
)

// Phase label values for PhaseDuration and Discards.
const (
	PhaseRTTSync  = "rtt_sync"
	PhaseLatency  = "latency"
	PhaseDiscover = "discover"
	PhasePrelim   = "prelim"
	PhaseP1       = "p1"
	PhaseP2       = "p2"
)

// Collector holds every Prometheus metric emitted by one measurement
// session.
type Collector struct {
	// PhaseDuration records the wall-clock time spent in each named phase.
	PhaseDuration *prometheus.GaugeVec

	// Discards counts samples discarded within each phase (stale trains,
	// timeouts, overload backoff).
	Discards *prometheus.CounterVec

	// SamplesAccepted counts samples accepted into a phase's sample set.
	SamplesAccepted *prometheus.CounterVec

	// BandwidthEstimated is the final estimated capacity in Mbps.
	BandwidthEstimated prometheus.Gauge

	// BandwidthBinWidth is the bin width used by modal analysis in Mbps.
	BandwidthBinWidth prometheus.Gauge

	// Assessment is the numeric assessment class of the final result
	// (engine.Assessment), exposed so a scrape can alert on LBOUND/NOMODE
	// runs distinct from a confident MODE result.
	Assessment prometheus.Gauge
}

// NewCollector creates a Collector with every metric registered against
// reg. If reg is nil, prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.PhaseDuration,
		c.Discards,
		c.SamplesAccepted,
		c.BandwidthEstimated,
		c.BandwidthBinWidth,
		c.Assessment,
	)

	return c
}

func newMetrics() *Collector {
	phaseLabels := []string{"phase"}

	return &Collector{
		PhaseDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "phase_duration_seconds",
			Help:      "Wall-clock duration of each measurement phase.",
		}, phaseLabels),

		Discards: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "discards_total",
			Help:      "Samples discarded per phase (stale trains, timeouts, overload backoff).",
		}, phaseLabels),

		SamplesAccepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "samples_accepted_total",
			Help:      "Samples accepted into a phase's sample set.",
		}, phaseLabels),

		BandwidthEstimated: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "bandwidth_estimated_mbps",
			Help:      "Final estimated capacity in Mbps.",
		}),

		BandwidthBinWidth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "bandwidth_bin_width_mbps",
			Help:      "Bin width used by modal analysis, in Mbps.",
		}),

		Assessment: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "assessment",
			Help:      "Numeric assessment class of the final result (0=UNKNOWN,1=QUICK,2=MODE,3=NOMODE,4=LBOUND).",
		}),
	}
}

// ObservePhaseDuration records how long a named phase took.
func (c *Collector) ObservePhaseDuration(phase string, d time.Duration) {
	c.PhaseDuration.WithLabelValues(phase).Set(d.Seconds())
}

// IncDiscards increments the discard counter for a named phase.
func (c *Collector) IncDiscards(phase string, n int) {
	c.Discards.WithLabelValues(phase).Add(float64(n))
}

// IncSamplesAccepted increments the accepted-sample counter for a named phase.
func (c *Collector) IncSamplesAccepted(phase string, n int) {
	c.SamplesAccepted.WithLabelValues(phase).Add(float64(n))
}

// SetResult publishes the final estimate, bin width, and assessment class.
func (c *Collector) SetResult(estimatedMbps, binWidthMbps float64, assessment int) {
	c.BandwidthEstimated.Set(estimatedMbps)
	c.BandwidthBinWidth.Set(binWidthMbps)
	c.Assessment.Set(float64(assessment))
}
