package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dantte-lp/loco/internal/config"
	"github.com/dantte-lp/loco/internal/engineconf"
)

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	t.Parallel()

	c, err := config.Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error: %v", err)
	}

	want := engineconf.Default()
	if c != want {
		t.Errorf("Load(\"\") = %+v, want defaults %+v", c, want)
	}
}

func TestLoadFromYAMLOverridesSomeFields(t *testing.T) {
	t.Parallel()

	yamlContent := `
trainlengthmin: 8
trainlengthmax: 32
bincounttolerance: 0.5
trainreceivetimeout: "3s"
trainttl: 16
`
	path := writeTemp(t, yamlContent)

	c, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if c.TrainLengthMin != 8 {
		t.Errorf("TrainLengthMin = %d, want 8", c.TrainLengthMin)
	}
	if c.TrainLengthMax != 32 {
		t.Errorf("TrainLengthMax = %d, want 32", c.TrainLengthMax)
	}
	if c.BinCountTolerance != 0.5 {
		t.Errorf("BinCountTolerance = %v, want 0.5", c.BinCountTolerance)
	}
	if c.TrainReceiveTimeout != 3*time.Second {
		t.Errorf("TrainReceiveTimeout = %v, want 3s", c.TrainReceiveTimeout)
	}
	if c.TrainTTL != 16 {
		t.Errorf("TrainTTL = %d, want 16", c.TrainTTL)
	}

	// Untouched fields must inherit defaults.
	defaults := engineconf.Default()
	if c.RTTCountMax != defaults.RTTCountMax {
		t.Errorf("RTTCountMax = %d, want default %d", c.RTTCountMax, defaults.RTTCountMax)
	}
	if c.SampleCap != defaults.SampleCap {
		t.Errorf("SampleCap = %d, want default %d", c.SampleCap, defaults.SampleCap)
	}
}

func TestLoadNonexistentFile(t *testing.T) {
	t.Parallel()

	if _, err := config.Load("/nonexistent/path/constants.yml"); err == nil {
		t.Fatal("Load() returned nil error for nonexistent file")
	}
}

func TestLoadRejectsInvalidOverride(t *testing.T) {
	t.Parallel()

	yamlContent := `
trainlengthmin: 100
trainlengthmax: 10
`
	path := writeTemp(t, yamlContent)

	_, err := config.Load(path)
	if err == nil {
		t.Fatal("Load() with train_length_min > train_length_max: want error, got nil")
	}
	if !errors.Is(err, config.ErrInvalidOverride) {
		t.Errorf("Load() error = %v, want wrapping ErrInvalidOverride", err)
	}
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		modify func(*engineconf.Constants)
	}{
		{"train length min > max", func(c *engineconf.Constants) { c.TrainLengthMin = 100 }},
		{"packet length min > max", func(c *engineconf.Constants) { c.TrainPacketLengthMin = 99999 }},
		{"rtt valid count > max", func(c *engineconf.Constants) { c.RTTValidCount = 9999 }},
		{"latency valid count > max", func(c *engineconf.Constants) { c.LatencyValidCount = 9999 }},
		{"prelim valid count > max", func(c *engineconf.Constants) { c.PrelimValidCount = 9999 }},
		{"zero bin tolerance", func(c *engineconf.Constants) { c.BinCountTolerance = 0 }},
		{"zero sample cap", func(c *engineconf.Constants) { c.SampleCap = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := engineconf.Default()
			tt.modify(&c)

			if err := config.Validate(c); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}

func TestValidateDefaultsPass(t *testing.T) {
	t.Parallel()

	if err := config.Validate(engineconf.Default()); err != nil {
		t.Errorf("Validate(Default()) = %v, want nil", err)
	}
}

// writeTemp creates a temporary YAML file and returns its path.
func writeTemp(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "loco-constants.yml")

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	return path
}
