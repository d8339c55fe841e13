package engine

import (
	"github.com/dantte-lp/loco/internal/modal"
	"github.com/dantte-lp/loco/internal/stats"
)

// ExtractModes runs the modal analyzer to exhaustion over a phase's
// samples, returning only the accepted (non-rejected) modes plus the
// total sample count used for merit weighting.
func ExtractModes(samples []Sample, binWidth, tolerance float64, noiseThreshold int) ([]modal.Mode, int) {
	bandwidths := stats.Sort(samplesToBandwidths(samples))
	valid := make([]bool, len(bandwidths))
	for i := range valid {
		valid[i] = true
	}

	analyzer := modal.Analyzer{BinWidth: binWidth, BinCountTolerance: tolerance, NoiseThreshold: noiseThreshold}

	var modes []modal.Mode
	for {
		m, rejected, ok := analyzer.Extract(bandwidths, valid)
		if !ok {
			break
		}
		if !rejected {
			modes = append(modes, m)
		}
	}

	return modes, len(bandwidths)
}

func samplesToBandwidths(samples []Sample) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s.BandwidthMbps
	}
	return out
}

// DecisionInput bundles everything the decision procedure needs.
type DecisionInput struct {
	P1Modes []modal.Mode
	P1Total int

	P2Modes   []modal.Mode
	P2Total   int
	P2Samples []Sample

	PrelimMean float64
	BinWidth   float64

	BWCovarThreshold float64
	ADRThreshold     float64

	// Phase1Completed tracks whether phase 1 ran to completion rather
	// than aborting early, resolved here in favor of determinism rather
	// than an always-true stand-in.
	Phase1Completed bool
}

// Decide combines Phase-1 and Phase-2 modes into a final
// capacity estimate, bounds, and assessment class.
func Decide(in DecisionInput) Result {
	p2Bandwidths := stats.Sort(samplesToBandwidths(in.P2Samples))
	adr := stats.InterquartileMean(p2Bandwidths)
	adrStd := stats.StdDev(p2Bandwidths)

	switch {
	case len(in.P2Modes) == 1:
		// Unimodal ADR branch: uses the single mode's own (lo+hi)/2
		// rather than indexing a second mode that doesn't exist.
		if adr != 0 && adrStd/adr < in.BWCovarThreshold && adr/in.PrelimMean < in.ADRThreshold {
			m := in.P2Modes[0]
			adr = (m.Lo + m.Hi) / 2
		}

	case len(in.P2Modes) > 1:
		best := bestMeritMode(in.P2Modes, in.P2Total)
		adr = (best.Lo + best.Hi) / 2
	}

	if !in.Phase1Completed {
		return Result{
			Estimated:  adr,
			Lo:         adr,
			Hi:         adr + in.BinWidth,
			Assessment: AssessmentLBound,
			BinWidth:   in.BinWidth,
			ADR:        adr,
			ADRStd:     adrStd,
			PrelimMean: in.PrelimMean,
		}
	}

	var candidate modal.Mode
	haveCandidate := false
	bestMerit := 0.0
	for _, m := range in.P1Modes {
		if m.Hi <= adr {
			continue
		}
		merit := m.Merit(in.P1Total)
		if !haveCandidate || merit > bestMerit {
			candidate, bestMerit, haveCandidate = m, merit, true
		}
	}

	if haveCandidate && bestMerit > 0 {
		return Result{
			Estimated:  (candidate.Lo + candidate.Hi) / 2,
			Lo:         candidate.Lo,
			Hi:         candidate.Hi,
			Assessment: AssessmentMode,
			BinWidth:   in.BinWidth,
			ADR:        adr,
			ADRStd:     adrStd,
			PrelimMean: in.PrelimMean,
		}
	}

	return Result{
		Estimated:  adr,
		Lo:         adr - in.BinWidth,
		Hi:         adr + in.BinWidth,
		Assessment: AssessmentNoMode,
		BinWidth:   in.BinWidth,
		ADR:        adr,
		ADRStd:     adrStd,
		PrelimMean: in.PrelimMean,
	}
}

func bestMeritMode(modes []modal.Mode, total int) modal.Mode {
	best := modes[0]
	bestMerit := best.Merit(total)
	for _, m := range modes[1:] {
		if merit := m.Merit(total); merit > bestMerit {
			best, bestMerit = m, merit
		}
	}
	return best
}
