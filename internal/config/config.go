// Package config loads an optional YAML file of constant overrides for a
// measurement run, layering it on top of engineconf.Default() with
// koanf/v2. loco is a single client binary with no daemon-side
// config/env layering to replicate; CLI flags (bound in cmd/loco) are the
// primary input, and this loader exists for the constants-override file
// named by `-c/--config`.
package config

import (
	"errors"
	"fmt"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/dantte-lp/loco/internal/engineconf"
)

// ErrInvalidOverride is returned when a loaded constants file produces an
// out-of-range tunable.
var ErrInvalidOverride = errors.New("config: invalid constant override")

// Load reads a YAML constants-override file at path and merges it on top
// of engineconf.Default(). Missing keys inherit the default. An empty
// path returns the defaults unmodified without touching the filesystem.
func Load(path string) (engineconf.Constants, error) {
	defaults := engineconf.Default()
	if path == "" {
		return defaults, nil
	}

	k := koanf.New(".")
	if err := loadDefaults(k, defaults); err != nil {
		return engineconf.Constants{}, fmt.Errorf("load constants defaults: %w", err)
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return engineconf.Constants{}, fmt.Errorf("load constants from %s: %w", path, err)
	}

	var c engineconf.Constants
	if err := k.Unmarshal("", &c); err != nil {
		return engineconf.Constants{}, fmt.Errorf("unmarshal constants: %w", err)
	}

	if err := Validate(c); err != nil {
		return engineconf.Constants{}, fmt.Errorf("validate constants from %s: %w", path, err)
	}

	return c, nil
}

// loadDefaults marshals the default constants into koanf as the base
// layer so a partial override file only touches the keys it mentions.
func loadDefaults(k *koanf.Koanf, defaults engineconf.Constants) error {
	m := map[string]any{
		"rttcountmax":                     defaults.RTTCountMax,
		"rttvalidcount":                   defaults.RTTValidCount,
		"latencycountmax":                 defaults.LatencyCountMax,
		"latencyvalidcount":               defaults.LatencyValidCount,
		"trainlengthmin":                  defaults.TrainLengthMin,
		"trainlengthmax":                  defaults.TrainLengthMax,
		"trainpacketlengthmin":            defaults.TrainPacketLengthMin,
		"trainpacketlengthmax":            defaults.TrainPacketLengthMax,
		"trainpacketlengthsizes":          defaults.TrainPacketLengthSizes,
		"p1traindiscardcountmax":          defaults.P1TrainDiscardCountMax,
		"prelimvalidcount":                defaults.PrelimValidCount,
		"prelimcountmax":                  defaults.PrelimCountMax,
		"bincounttolerance":               defaults.BinCountTolerance,
		"bincountnoisethreshold":          defaults.BinCountNoiseThreshold,
		"bwcovarthreshold":                defaults.BWCovarThreshold,
		"adrthreshold":                    defaults.ADRThreshold,
		"defaultcontrolport":              defaults.DefaultControlPort,
		"samplecap":                       defaults.SampleCap,
		"trainreceivetimeout":             defaults.TrainReceiveTimeout.String(),
		"discoveryfailoverload":           defaults.DiscoveryFailOverload,
		"discoveryfailbackoff":            defaults.DiscoveryFailBackoff,
		"discoverymaxlengthfailthreshold": defaults.DiscoveryMaxLengthFailThreshold,
		"phase2targetsamples":             defaults.Phase2TargetSamples,
		"trainttl":                        defaults.TrainTTL,
	}

	for key, val := range m {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}
	return nil
}

// Validate checks that a loaded constants set is internally consistent,
// so a malformed override file fails fast rather than producing a
// session that stalls or discards every sample.
func Validate(c engineconf.Constants) error {
	switch {
	case c.TrainLengthMin < 1 || c.TrainLengthMin > c.TrainLengthMax:
		return fmt.Errorf("train_length_min=%d, train_length_max=%d: %w", c.TrainLengthMin, c.TrainLengthMax, ErrInvalidOverride)
	case c.TrainPacketLengthMin < 1 || c.TrainPacketLengthMin > c.TrainPacketLengthMax:
		return fmt.Errorf("train_packet_length_min=%d, train_packet_length_max=%d: %w", c.TrainPacketLengthMin, c.TrainPacketLengthMax, ErrInvalidOverride)
	case c.RTTValidCount < 1 || c.RTTValidCount > c.RTTCountMax:
		return fmt.Errorf("rtt_valid_count=%d, rtt_count_max=%d: %w", c.RTTValidCount, c.RTTCountMax, ErrInvalidOverride)
	case c.LatencyValidCount < 1 || c.LatencyValidCount > c.LatencyCountMax:
		return fmt.Errorf("latency_valid_count=%d, latency_count_max=%d: %w", c.LatencyValidCount, c.LatencyCountMax, ErrInvalidOverride)
	case c.PrelimValidCount < 1 || c.PrelimValidCount > c.PrelimCountMax:
		return fmt.Errorf("prelim_valid_count=%d, prelim_count_max=%d: %w", c.PrelimValidCount, c.PrelimCountMax, ErrInvalidOverride)
	case c.BinCountTolerance <= 0:
		return fmt.Errorf("bin_count_tolerance=%v: %w", c.BinCountTolerance, ErrInvalidOverride)
	case c.SampleCap < 1:
		return fmt.Errorf("sample_cap=%d: %w", c.SampleCap, ErrInvalidOverride)
	}
	return nil
}
