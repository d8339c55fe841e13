// Package modal implements the greedy modal analyzer: repeated extraction
// of statistical modes (a central bin plus an inflated kurtotic "bell")
// from a sorted sample array, until no valid samples remain.
package modal

import "github.com/dantte-lp/loco/internal/stats"

// Mode describes one extracted statistical mode.
//
// Invariant: BellLo <= Lo <= Hi <= BellHi and BellCount >= Count.
type Mode struct {
	Count int
	Lo    float64
	Hi    float64

	BellCount    int
	BellLo       float64
	BellHi       float64
	BellKurtosis float64
}

// Merit is the figure of merit used by the decision procedure to rank
// competing modes: bell kurtosis weighted by the mode's share of all
// samples in its phase.
func (m Mode) Merit(totalSamples int) float64 {
	if totalSamples == 0 {
		return 0
	}
	return m.BellKurtosis * (float64(m.Count) / float64(totalSamples))
}

// Analyzer extracts successive modes from a sorted sample array.
type Analyzer struct {
	// BinWidth is the bandwidth resolution (Mbps) used to size the
	// central bin.
	BinWidth float64

	// BinCountTolerance is the fractional growth allowance applied at
	// each bell-expansion step (tolerance = BinCountTolerance *
	// priorBinCount).
	BinCountTolerance float64

	// NoiseThreshold rejects a candidate central bin whose count does
	// not exceed this value.
	NoiseThreshold int
}

// Extract runs one round of modal extraction against samples (sorted
// ascending) and valid (a parallel validity bitmap, mutated in place).
// Returns ok=false when no valid samples remain. A central bin that fails
// the noise threshold or whose bell kurtosis is degenerate is rejected:
// its samples are still marked invalid (so repeated calls converge) but
// no Mode is returned — the caller should call Extract again.
func (a Analyzer) Extract(samples []float64, valid []bool) (mode Mode, rejected bool, ok bool) {
	lo, hi, count, found := a.centralBin(samples, valid)
	if !found {
		return Mode{}, false, false
	}

	bellLo, bellHi, bellCount := a.expandLeft(samples, valid, lo, hi, count)
	bellLo2, bellHi2, bellCount2 := a.expandRight(samples, valid, bellLo, bellHi, bellCount)

	for i := bellLo2; i <= bellHi2; i++ {
		valid[i] = false
	}

	m := Mode{
		Count: count,
		Lo:    samples[lo],
		Hi:    samples[hi],

		BellCount: bellCount2,
		BellLo:    samples[bellLo2],
		BellHi:    samples[bellHi2],
	}

	if count <= a.NoiseThreshold {
		return Mode{}, true, true
	}

	k := stats.Kurtosis(samples[bellLo2 : bellHi2+1])
	if k == stats.KurtosisDegenerate {
		return Mode{}, true, true
	}

	m.BellKurtosis = k

	return m, false, true
}

// centralBin finds the widest contiguous run of valid samples whose span
// is at most BinWidth, breaking ties by the lowest lo (the first, since
// scanning ascending with a strict improvement test keeps the earliest
// maximal window).
func (a Analyzer) centralBin(samples []float64, valid []bool) (lo, hi, count int, found bool) {
	n := len(samples)
	bestLo, bestHi, bestCount := -1, -1, 0

	for i := 0; i < n; i++ {
		if !valid[i] {
			continue
		}
		j := i
		for j+1 < n && valid[j+1] && samples[j+1]-samples[i] <= a.BinWidth {
			j++
		}
		if c := j - i + 1; c > bestCount {
			bestCount, bestLo, bestHi = c, i, j
		}
	}

	if bestCount == 0 {
		return 0, 0, 0, false
	}
	return bestLo, bestHi, bestCount, true
}

// expandLeft grows the bell leftward from [lo, hi] while each successive
// candidate window (reaching further left, its right edge still anchored
// within the current bell) has a count within tolerance of the prior
// bin's count.
func (a Analyzer) expandLeft(samples []float64, valid []bool, lo, hi, count int) (bellLo, bellHi, bellCount int) {
	bellLo, bellHi, bellCount = lo, hi, count
	binCount := count

	for bellLo > 0 {
		tolerance := a.BinCountTolerance * float64(binCount)

		bestJ, bestCount := -1, 0
		for k := bellLo; k <= bellHi; k++ {
			if !valid[k] {
				continue
			}
			j := k
			for j-1 >= 0 && valid[j-1] && samples[k]-samples[j-1] <= a.BinWidth {
				j--
			}
			if j >= bellLo {
				continue // does not reach further left than the current bell
			}
			if c := k - j + 1; c > bestCount {
				bestCount, bestJ = c, j
			}
		}

		if bestJ == -1 {
			break
		}
		if float64(bestCount) >= float64(binCount)+tolerance {
			break
		}

		bellCount += bestCount - binCount
		bellLo = bestJ
		binCount = bestCount
	}

	return bellLo, bellHi, bellCount
}

// expandRight is the mirror of expandLeft, growing the bell rightward.
func (a Analyzer) expandRight(samples []float64, valid []bool, lo, hi, count int) (bellLo, bellHi, bellCount int) {
	n := len(samples)
	bellLo, bellHi, bellCount = lo, hi, count
	binCount := count

	for bellHi < n-1 {
		tolerance := a.BinCountTolerance * float64(binCount)

		bestK, bestCount := -1, 0
		for j := bellLo; j <= bellHi; j++ {
			if !valid[j] {
				continue
			}
			k := j
			for k+1 < n && valid[k+1] && samples[k+1]-samples[j] <= a.BinWidth {
				k++
			}
			if k <= bellHi {
				continue // does not reach further right than the current bell
			}
			if c := k - j + 1; c > bestCount {
				bestCount, bestK = c, k
			}
		}

		if bestK == -1 {
			break
		}
		if float64(bestCount) >= float64(binCount)+tolerance {
			break
		}

		bellCount += bestCount - binCount
		bellHi = bestK
		binCount = bestCount
	}

	return bellLo, bellHi, bellCount
}
