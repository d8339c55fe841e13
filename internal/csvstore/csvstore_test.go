package csvstore

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWriteReadRoundTrip(t *testing.T) {
	store := Store{
		Phase1: []Sample{{BandwidthMbps: 95.1234, DeltaMicros: 120.5}},
		Phase2: []Sample{
			{BandwidthMbps: 48.0001, DeltaMicros: 99.9999},
			{BandwidthMbps: 48.5, DeltaMicros: 100.0},
		},
	}

	path := filepath.Join(t.TempDir(), "loco.csv")
	if err := Write(path, store); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := Read(path)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	if len(got.Phase1) != len(store.Phase1) || len(got.Phase2) != len(store.Phase2) {
		t.Fatalf("sample counts differ: got %+v, want %+v", got, store)
	}
	for i := range store.Phase1 {
		if got.Phase1[i] != store.Phase1[i] {
			t.Errorf("phase1[%d] = %+v, want %+v", i, got.Phase1[i], store.Phase1[i])
		}
	}
	for i := range store.Phase2 {
		if got.Phase2[i] != store.Phase2[i] {
			t.Errorf("phase2[%d] = %+v, want %+v", i, got.Phase2[i], store.Phase2[i])
		}
	}
}

func TestReadRejectsMalformedCount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.csv")
	writeRaw(t, path, "not-a-number\n")

	if _, err := Read(path); err == nil {
		t.Error("Read with malformed count: want error, got nil")
	}
}

func TestReadRejectsMalformedSampleLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.csv")
	writeRaw(t, path, "1\nnot,a,valid,line\n0\n")

	if _, err := Read(path); err == nil {
		t.Error("Read with malformed sample line: want error, got nil")
	}
}

func TestReadRejectsNonNumericSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.csv")
	writeRaw(t, path, "1\nabc,def\n0\n")

	if _, err := Read(path); err == nil {
		t.Error("Read with non-numeric sample: want error, got nil")
	}
}

func TestWriteReadMetaRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loco.csv")
	want := Meta{Host: "daemon.example.net", Quick: true, GeneratedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}

	if err := WriteMeta(path, want); err != nil {
		t.Fatalf("WriteMeta: %v", err)
	}

	got, err := ReadMeta(path)
	if err != nil {
		t.Fatalf("ReadMeta: %v", err)
	}
	if got.Host != want.Host || got.Quick != want.Quick || !got.GeneratedAt.Equal(want.GeneratedAt) {
		t.Errorf("ReadMeta = %+v, want %+v", got, want)
	}
}

func TestReadMetaMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nonexistent.csv")
	if _, err := ReadMeta(path); err == nil {
		t.Error("ReadMeta on missing sidecar: want error, got nil")
	}
}

func writeRaw(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("os.WriteFile: %v", err)
	}
}
