package engine

import "context"

// RunPhase2 samples at the maximum usable train length and
// packet length until targetSamples valid samples are accumulated. There
// is no discard cap — phase 2 spins until the target is met.
func RunPhase2(ctx context.Context, sampler *Sampler, trainLengthMax, packetLengthMax, targetSamples int, samples *SampleSet) error {
	for len(samples.Samples) < targetSamples {
		outcome, err := sampler.attempt(ctx, trainLengthMax, packetLengthMax)
		if err != nil {
			return err
		}
		if outcome.HasSample {
			if !samples.Add(outcome.Sample) {
				return nil
			}
		} else {
			samples.Discard()
		}
	}
	return nil
}
