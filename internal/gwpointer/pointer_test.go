package gwpointer

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func samplePointer() *Pointer {
	return &Pointer{
		WorkspaceRoot:        "/home/user/repo",
		WorkspaceRuntimeRoot: "/home/user/.cache/harness/runtime/abc",
		GatewayRecordPath:    "/home/user/.cache/harness/runtime/abc/gateway.json",
		GatewayLogPath:       "/home/user/.cache/harness/runtime/abc/gateway.log",
		StateDBPath:          "/home/user/.cache/harness/runtime/abc/control-plane.sqlite",
		PID:                  1234,
		StartedAt:            time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt:            time.Date(2026, 3, 1, 0, 5, 0, 0, time.UTC),
		GatewayRunID:         "run-1",
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pointers", "abc.json")
	want := samplePointer()

	if err := Write(path, want); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := Read(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got == nil {
		t.Fatal("expected a pointer, got nil")
	}
	if got.Version != CurrentVersion {
		t.Errorf("version = %d, want %d", got.Version, CurrentVersion)
	}
	if got.WorkspaceRoot != want.WorkspaceRoot || got.PID != want.PID || got.GatewayRunID != want.GatewayRunID {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, want)
	}
	if !got.StartedAt.Equal(want.StartedAt) {
		t.Errorf("StartedAt mismatch: got %v, want %v", got.StartedAt, want.StartedAt)
	}
}

func TestReadMissingFile(t *testing.T) {
	got, err := Read(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for a missing file, got %+v", got)
	}
}

func TestReadRejectsWrongVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pointer.json")
	if err := os.WriteFile(path, []byte(`{"version":99,"pid":1}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Read(path); err == nil {
		t.Fatal("expected an error for an unsupported version")
	}
}

func TestRemoveMissingFileIsNotAnError(t *testing.T) {
	if err := Remove(filepath.Join(t.TempDir(), "missing.json")); err != nil {
		t.Fatalf("remove: %v", err)
	}
}

func TestWriteCreatesParentDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "c", "pointer.json")
	if err := Write(path, samplePointer()); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Read(path); err != nil {
		t.Fatalf("read after write: %v", err)
	}
}
