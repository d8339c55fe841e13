// Package csvstore persists and replays phase-1/phase-2 sample sets for
// offline analysis.
//
// Format: two sections, phase 1 then phase 2. Each begins with a line
// containing the sample count N, followed by N lines of
// "bandwidth,delta" (4-decimal floats). Reading rejects any data line
// that does not match "float,float" rather than silently carrying
// forward the previous value (unlike fscanf-style
// ingestion). An optional YAML sidecar (path+".meta.yml") records the
// host and flags a run was collected with, for a later offline replay
// to report.
package csvstore

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Sample is one persisted (bandwidth, delta) pair.
type Sample struct {
	BandwidthMbps float64
	DeltaMicros   float64
}

// Store is the two-phase sample set persisted to and read from disk.
type Store struct {
	Phase1 []Sample
	Phase2 []Sample
}

// ErrMalformedLine is returned when a data line is not "float,float".
var ErrMalformedLine = errors.New("csvstore: malformed sample line")

// ErrMalformedCount is returned when a section's count line is not a
// valid non-negative integer.
var ErrMalformedCount = errors.New("csvstore: malformed section count")

// Write persists s to path, truncating any existing file.
func Write(path string, s Store) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("csvstore write %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if err := writeSection(w, s.Phase1); err != nil {
		return fmt.Errorf("csvstore write %s: %w", path, err)
	}
	if err := writeSection(w, s.Phase2); err != nil {
		return fmt.Errorf("csvstore write %s: %w", path, err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("csvstore write %s: %w", path, err)
	}
	return nil
}

func writeSection(w *bufio.Writer, samples []Sample) error {
	if _, err := fmt.Fprintf(w, "%d\n", len(samples)); err != nil {
		return err
	}
	for _, s := range samples {
		if _, err := fmt.Fprintf(w, "%.4f,%.4f\n", s.BandwidthMbps, s.DeltaMicros); err != nil {
			return err
		}
	}
	return nil
}

// Read parses a Store from path. It rejects malformed count or sample
// lines rather than silently carrying forward a previous value.
func Read(path string) (Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return Store{}, fmt.Errorf("csvstore read %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)

	phase1, err := readSection(scanner)
	if err != nil {
		return Store{}, fmt.Errorf("csvstore read %s: phase 1: %w", path, err)
	}
	phase2, err := readSection(scanner)
	if err != nil {
		return Store{}, fmt.Errorf("csvstore read %s: phase 2: %w", path, err)
	}

	return Store{Phase1: phase1, Phase2: phase2}, nil
}

func readSection(scanner *bufio.Scanner) ([]Sample, error) {
	if !scanner.Scan() {
		return nil, fmt.Errorf("missing section count: %w", io.ErrUnexpectedEOF)
	}
	count, err := strconv.Atoi(strings.TrimSpace(scanner.Text()))
	if err != nil || count < 0 {
		return nil, fmt.Errorf("%q: %w", scanner.Text(), ErrMalformedCount)
	}

	samples := make([]Sample, 0, count)
	for i := 0; i < count; i++ {
		if !scanner.Scan() {
			return nil, fmt.Errorf("expected %d samples, got %d: %w", count, i, io.ErrUnexpectedEOF)
		}
		sample, err := parseSampleLine(scanner.Text())
		if err != nil {
			return nil, err
		}
		samples = append(samples, sample)
	}

	return samples, scanner.Err()
}

func parseSampleLine(line string) (Sample, error) {
	parts := strings.Split(strings.TrimSpace(line), ",")
	if len(parts) != 2 {
		return Sample{}, fmt.Errorf("%q: %w", line, ErrMalformedLine)
	}

	bandwidth, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return Sample{}, fmt.Errorf("%q: %w", line, ErrMalformedLine)
	}
	delta, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return Sample{}, fmt.Errorf("%q: %w", line, ErrMalformedLine)
	}

	return Sample{BandwidthMbps: bandwidth, DeltaMicros: delta}, nil
}

// Meta is descriptive context for a persisted sample set, written
// alongside the CSV as a YAML sidecar so an offline replay run can report
// where its samples came from.
type Meta struct {
	Host        string    `yaml:"host,omitempty"`
	Quick       bool      `yaml:"quick"`
	GeneratedAt time.Time `yaml:"generated_at"`
}

func metaPath(path string) string {
	return path + ".meta.yml"
}

// WriteMeta persists m as a YAML sidecar for the CSV at path.
func WriteMeta(path string, m Meta) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("csvstore marshal meta: %w", err)
	}
	if err := os.WriteFile(metaPath(path), data, 0o644); err != nil {
		return fmt.Errorf("csvstore write meta %s: %w", metaPath(path), err)
	}
	return nil
}

// ReadMeta reads the YAML sidecar for the CSV at path, if present.
func ReadMeta(path string) (Meta, error) {
	data, err := os.ReadFile(metaPath(path))
	if err != nil {
		return Meta{}, fmt.Errorf("csvstore read meta %s: %w", metaPath(path), err)
	}
	var m Meta
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Meta{}, fmt.Errorf("csvstore unmarshal meta %s: %w", metaPath(path), err)
	}
	return m, nil
}
