package engine

import (
	"testing"

	"github.com/dantte-lp/loco/internal/modal"
)

func TestDecideUnimodalMode(t *testing.T) {
	p1Modes := []modal.Mode{
		{Lo: 47, Hi: 50, Count: 900, BellKurtosis: 3.0},
	}
	p2Samples := make([]Sample, 0, 40)
	for i := 0; i < 40; i++ {
		p2Samples = append(p2Samples, Sample{BandwidthMbps: 48.5})
	}

	in := DecisionInput{
		P1Modes:          p1Modes,
		P1Total:          1000,
		P2Modes:          []modal.Mode{{Lo: 48, Hi: 49, Count: 40, BellKurtosis: 2.0}},
		P2Total:          40,
		P2Samples:        p2Samples,
		PrelimMean:       48.5,
		BinWidth:         6.0,
		BWCovarThreshold: 0.05,
		ADRThreshold:     0.9,
		Phase1Completed:  true,
	}

	result := Decide(in)
	if result.Assessment != AssessmentMode {
		t.Fatalf("Assessment = %v, want MODE", result.Assessment)
	}
	wantEstimated := (p1Modes[0].Lo + p1Modes[0].Hi) / 2
	if result.Estimated != wantEstimated {
		t.Errorf("Estimated = %v, want %v", result.Estimated, wantEstimated)
	}
}

func TestDecideBimodalNoMode(t *testing.T) {
	p1Modes := []modal.Mode{
		{Lo: 9, Hi: 11, Count: 800, BellKurtosis: 4.0},  // dominant low mode, Hi < adr
		{Lo: 48, Hi: 50, Count: 50, BellKurtosis: 0.1},  // smaller mode near 50, Hi < adr (51)
	}
	p2Samples := []Sample{
		{BandwidthMbps: 50}, {BandwidthMbps: 51}, {BandwidthMbps: 52}, {BandwidthMbps: 53},
		{BandwidthMbps: 54}, {BandwidthMbps: 55}, {BandwidthMbps: 56},
	}

	in := DecisionInput{
		P1Modes: p1Modes,
		P1Total: 850,
		P2Modes: []modal.Mode{
			{Lo: 50, Hi: 52, Count: 4, BellKurtosis: 1.0},
			{Lo: 54, Hi: 56, Count: 3, BellKurtosis: 1.0},
		},
		P2Total:          7,
		P2Samples:        p2Samples,
		PrelimMean:       50,
		BinWidth:         3.0,
		BWCovarThreshold: 0.05,
		ADRThreshold:     0.9,
		Phase1Completed:  true,
	}

	result := Decide(in)
	if result.Assessment != AssessmentNoMode {
		t.Fatalf("Assessment = %v, want NOMODE (got estimated=%v)", result.Assessment, result.Estimated)
	}
}

func TestDecideLBoundWhenPhase1DidNotComplete(t *testing.T) {
	in := DecisionInput{
		P2Samples:        []Sample{{BandwidthMbps: 90}, {BandwidthMbps: 91}, {BandwidthMbps: 89}, {BandwidthMbps: 90}},
		PrelimMean:       90,
		BinWidth:         2.0,
		BWCovarThreshold: 0.05,
		ADRThreshold:     0.9,
		Phase1Completed:  false,
	}

	result := Decide(in)
	if result.Assessment != AssessmentLBound {
		t.Fatalf("Assessment = %v, want LBOUND", result.Assessment)
	}
	if result.Lo != result.ADR || result.Hi != result.ADR+in.BinWidth {
		t.Errorf("bounds = [%v, %v], want [%v, %v]", result.Lo, result.Hi, result.ADR, result.ADR+in.BinWidth)
	}
}

func TestDecideUnimodalUsesSingleModeNotArrayOverread(t *testing.T) {
	// Regression test for the preserved-vs-fixed open question: with
	// exactly one P2 mode, Decide must use that mode's own (lo+hi)/2
	// rather than reading a second, nonexistent mode.
	single := modal.Mode{Lo: 10, Hi: 12, Count: 100, BellKurtosis: 5.0}
	p2Samples := []Sample{
		{BandwidthMbps: 10}, {BandwidthMbps: 11}, {BandwidthMbps: 11}, {BandwidthMbps: 12},
	}

	in := DecisionInput{
		P2Modes:          []modal.Mode{single},
		P2Total:          4,
		P2Samples:        p2Samples,
		PrelimMean:       11,
		BinWidth:         1.0,
		BWCovarThreshold: 1.0, // force the branch to trigger
		ADRThreshold:     10,
		Phase1Completed:  false,
	}

	result := Decide(in)
	want := (single.Lo + single.Hi) / 2
	if result.ADR != want {
		t.Errorf("ADR = %v, want %v (single mode midpoint)", result.ADR, want)
	}
}
