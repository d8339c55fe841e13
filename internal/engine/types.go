package engine

import (
	"net/netip"
	"time"

	"github.com/dantte-lp/loco/internal/engineconf"
)

// Config is the session configuration built from CLI flags before the
// engine starts. It is read-mostly after Run begins; the few fields the
// engine derives during calibration (TrainSpacingMin/Max,
// PacketDispersionDeltaMin, TrainLengthMax, BinWidth) are reported on
// Result instead, since they are write-once outputs of specific phases
// rather than caller input.
type Config struct {
	Host        string
	ControlPort int
	BindDevice  string
	BindAddr    netip.Addr

	Quick   bool
	Network bool // true for live measurement, false for CSV replay

	OfflineInputPath  string
	OfflineOutputPath string

	BinWidthOverride float64 // used only in offline mode

	Format string

	Constants engineconf.Constants
}

// TrainDescriptor identifies one train attempt.
type TrainDescriptor struct {
	TrainID      uint32
	Length       int
	PacketLength int
}

// Sample is one accepted dispersion measurement.
type Sample struct {
	BandwidthMbps float64
	DeltaMicros   float64
}

// SampleSet accumulates samples for one phase, capped at Constants.SampleCap.
type SampleSet struct {
	Samples        []Sample
	DiscardedCount int
	cap            int
}

// NewSampleSet returns a SampleSet capped at the given size.
func NewSampleSet(capacity int) *SampleSet {
	return &SampleSet{cap: capacity}
}

// Add appends a sample, refusing to overflow the cap rather than silently
// truncating past it.
func (s *SampleSet) Add(sample Sample) bool {
	if len(s.Samples) >= s.cap {
		return false
	}
	s.Samples = append(s.Samples, sample)
	return true
}

// Discard records a discarded attempt.
func (s *SampleSet) Discard() {
	s.DiscardedCount++
}

// Bandwidths returns the bandwidth component of every sample, in
// insertion order (the caller sorts before feeding the modal analyzer).
func (s *SampleSet) Bandwidths() []float64 {
	out := make([]float64, len(s.Samples))
	for i, v := range s.Samples {
		out[i] = v.BandwidthMbps
	}
	return out
}

// Assessment classifies the final capacity estimate.
type Assessment int

// Assessment values.
const (
	AssessmentUnknown Assessment = iota
	AssessmentQuick
	AssessmentMode
	AssessmentNoMode
	AssessmentLBound
)

// String renders an Assessment for logging and the %am/%AM format tokens.
func (a Assessment) String() string {
	switch a {
	case AssessmentQuick:
		return "QUICK"
	case AssessmentMode:
		return "MODE"
	case AssessmentNoMode:
		return "NO MODE"
	case AssessmentLBound:
		return "LBOUND"
	default:
		return "UNKNOWN"
	}
}

// Result is the final output of a completed session.
type Result struct {
	Estimated  float64
	Lo, Hi     float64
	Assessment Assessment
	BinWidth   float64

	PrelimMean float64
	PrelimStd  float64

	ADR    float64
	ADRStd float64

	PacketDispersionDeltaMin float64
	TrainSpacingMin          time.Duration
	TrainSpacingMax          time.Duration

	TrainLengthMax       int
	TrainPacketLengthMax int

	// RTT is the mean round trip measured by RTT_SYNC calibration — the
	// TCP control channel latency reported by the %lt format token.
	RTT time.Duration

	// UDPLatencyMean is the mean kernel/user UDP round trip measured by
	// latency calibration — the %ul format token.
	UDPLatencyMean float64
}
