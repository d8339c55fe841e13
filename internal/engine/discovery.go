package engine

import "context"

// DiscoveryResult is train-length discovery's output: the usable
// train-length ceiling plus the early-exit classification needed by the
// caller to short-circuit the rest of the session.
type DiscoveryResult struct {
	TrainLengthMax int
	Samples        *SampleSet

	Attempts int

	// Indeterminate is set when discovery produced zero valid samples;
	// the caller should report indeterminate and exit cleanly.
	Indeterminate bool

	// GigabitInferred is set when valid samples were too sparse relative
	// to attempts, inferring interrupt coalescence on a gigabit-class
	// link; the caller reports estimated = 1000.0, bin_width = 0.0.
	GigabitInferred bool
}

// gigabitValidRatioMax is the "≤ 40% of attempts" valid-sample ratio at or
// below which discovery infers a gigabit-class link (GigabitInferred).
const gigabitValidRatioMax = 0.4

// RunDiscovery probes increasing train lengths until path overload, then
// determines the usable train-length ceiling.
func RunDiscovery(ctx context.Context, sampler *Sampler, packetLengthMax int, cfg engineDiscoveryConfig) (DiscoveryResult, error) {
	samples := NewSampleSet(cfg.SampleCap)
	fails := make(map[int]int)

	length := cfg.TrainLengthMin
	attempts := 0

	for {
		if length > cfg.TrainLengthMax {
			break
		}

		outcome, err := sampler.attempt(ctx, length, packetLengthMax)
		if err != nil {
			return DiscoveryResult{}, err
		}
		attempts++

		if outcome.Outcome != ReceiveOK {
			fails[length]++
			if fails[length] > cfg.FailOverload {
				break // path_overload
			}
			if fails[length] > cfg.FailBackoff {
				length--
				if length < cfg.TrainLengthMin {
					length = cfg.TrainLengthMin
				}
			}
			continue
		}

		if outcome.HasSample {
			if !samples.Add(outcome.Sample) {
				break // cap reached; stop discovery rather than overflow
			}
		} else {
			samples.Discard()
		}

		length++
	}

	// Post-loop scan: from TrainLengthMin+1 upward while fails at that
	// length < the post-loop threshold, never past the configured ceiling.
	trainLengthMax := cfg.TrainLengthMin
	for l := cfg.TrainLengthMin + 1; l <= cfg.TrainLengthMax && fails[l] < cfg.MaxLengthFailThreshold; l++ {
		trainLengthMax = l
	}

	result := DiscoveryResult{
		TrainLengthMax: trainLengthMax,
		Samples:        samples,
		Attempts:       attempts,
	}

	if len(samples.Samples) == 0 {
		result.Indeterminate = true
		return result, nil
	}

	if float64(len(samples.Samples))/float64(attempts) <= gigabitValidRatioMax {
		result.GigabitInferred = true
	}

	return result, nil
}

// engineDiscoveryConfig carries the subset of engineconf.Constants train-length
// discovery needs.
type engineDiscoveryConfig struct {
	TrainLengthMin         int
	TrainLengthMax         int
	FailOverload           int
	FailBackoff            int
	MaxLengthFailThreshold int
	SampleCap              int
}
