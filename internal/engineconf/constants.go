// Package engineconf holds the tunable constants that drive the
// measurement engine: calibration attempt ceilings, train-length and
// packet-size ranges, sample caps, and the various threshold ratios the
// decision procedure uses to classify a result.
package engineconf

import "time"

// Constants bundles every tunable used by the calibration, discovery, and
// sampling phases. A single value is built by Default and overlaid by CLI
// flags or a koanf-loaded constants file.
type Constants struct {
	RTTCountMax   int
	RTTValidCount int

	LatencyCountMax   int
	LatencyValidCount int

	TrainLengthMin int
	TrainLengthMax int

	TrainPacketLengthMin   int
	TrainPacketLengthMax   int
	TrainPacketLengthSizes int

	P1TrainDiscardCountMax int

	PrelimValidCount int
	PrelimCountMax   int

	BinCountTolerance      float64
	BinCountNoiseThreshold int

	BWCovarThreshold float64
	ADRThreshold     float64

	DefaultControlPort int
	SampleCap          int

	TrainReceiveTimeout time.Duration

	DiscoveryFailOverload           int
	DiscoveryFailBackoff            int
	DiscoveryMaxLengthFailThreshold int

	Phase2TargetSamples int

	// TrainTTL is the IP TTL set on the UDP measurement socket. 0 leaves
	// the platform default in place.
	TrainTTL int
}

// Default returns the constant set used when no override file is supplied.
func Default() Constants {
	return Constants{
		RTTCountMax:   32,
		RTTValidCount: 10,

		LatencyCountMax:   64,
		LatencyValidCount: 20,

		TrainLengthMin: 4,
		TrainLengthMax: 64,

		TrainPacketLengthMin:   64,
		TrainPacketLengthMax:   1400,
		TrainPacketLengthSizes: 8,

		P1TrainDiscardCountMax: 50,

		PrelimValidCount: 8,
		PrelimCountMax:   40,

		BinCountTolerance:      0.25,
		BinCountNoiseThreshold: 3,

		BWCovarThreshold: 0.05,
		ADRThreshold:     0.9,

		DefaultControlPort: 9930,
		SampleCap:          4096,

		TrainReceiveTimeout: 2 * time.Second,

		DiscoveryFailOverload:           4,
		DiscoveryFailBackoff:            1,
		DiscoveryMaxLengthFailThreshold: 3,

		Phase2TargetSamples: 500,

		TrainTTL: 64,
	}
}
