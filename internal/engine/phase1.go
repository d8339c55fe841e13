package engine

import "context"

// RunPhase1 sweeps TrainPacketLengthSizes packet sizes
// linearly from packetLengthMin to packetLengthMax at trainLength,
// targeting ~1000/sizes valid samples per size and tolerating up to
// discardMax additional discards before moving to the next size.
// Abandons phase 1 entirely if discards exhaust at a trainLength that
// already exceeds trainLengthMax.
func RunPhase1(ctx context.Context, sampler *Sampler, trainLength, trainLengthMax, packetLengthMin, packetLengthMax, sizes, discardMax int, samples *SampleSet) (abandoned bool, err error) {
	if sizes <= 0 {
		sizes = 1
	}
	step := packetLengthMax - packetLengthMin
	if sizes > 1 {
		step /= sizes - 1
	}
	if step <= 0 {
		step = 1
	}
	targetPerSize := 1000 / sizes
	if targetPerSize <= 0 {
		targetPerSize = 1
	}

	for size := 0; size < sizes; size++ {
		packetLength := packetLengthMin + size*step
		valid := 0
		discards := 0

		for valid < targetPerSize && discards < discardMax {
			outcome, attErr := sampler.attempt(ctx, trainLength, packetLength)
			if attErr != nil {
				return false, attErr
			}
			if outcome.HasSample {
				if !samples.Add(outcome.Sample) {
					return false, nil
				}
				valid++
			} else {
				samples.Discard()
				discards++
			}
		}

		if discards >= discardMax && trainLength > trainLengthMax {
			return true, nil
		}
	}

	return false, nil
}
