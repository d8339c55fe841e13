package engine

import (
	"context"

	"github.com/dantte-lp/loco/internal/stats"
)

// PrelimResult is preliminary sampling's output: pilot statistics, the
// derived bin width, and whether the QUICK early exit applies.
type PrelimResult struct {
	Samples  *SampleSet
	Mean     float64
	Std      float64
	BinWidth float64
	Quick    bool
}

// RunPrelim collects a coarse sample set across every
// discovered train length at the session's maximum packet length, then
// derive the pilot mean/std and histogram bin width.
func RunPrelim(ctx context.Context, sampler *Sampler, trainLengthMin, trainLengthMax, packetLengthMax int, validCountTarget, attemptCap int, covarThreshold float64, quickFlag bool, samples *SampleSet) (PrelimResult, error) {
	for length := trainLengthMin; length <= trainLengthMax; length++ {
		valid := 0
		for attempts := 0; valid < validCountTarget && attempts < attemptCap; attempts++ {
			outcome, err := sampler.attempt(ctx, length, packetLengthMax)
			if err != nil {
				return PrelimResult{}, err
			}
			if outcome.HasSample {
				if !samples.Add(outcome.Sample) {
					break
				}
				valid++
			} else {
				samples.Discard()
			}
		}
	}

	bandwidths := stats.Sort(samples.Bandwidths())
	mean := stats.InterquartileMean(bandwidths)
	std := stats.StdDev(bandwidths)

	binWidth := mean * 0.125
	if mean < 1.0 {
		binWidth = mean * 0.25
	}

	quick := quickFlag
	if mean > 0 && std/mean < covarThreshold {
		quick = true
	}

	return PrelimResult{
		Samples:  samples,
		Mean:     mean,
		Std:      std,
		BinWidth: binWidth,
		Quick:    quick,
	}, nil
}
