package gc

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func mkSession(t *testing.T, root, name string, age time.Duration, recordJSON string) string {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if recordJSON != "" {
		if err := os.WriteFile(filepath.Join(dir, "gateway.json"), []byte(recordJSON), 0o644); err != nil {
			t.Fatal(err)
		}
	} else {
		if err := os.WriteFile(filepath.Join(dir, "marker"), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	old := time.Now().Add(-age)
	if err := os.Chtimes(dir, old, old); err != nil {
		t.Fatal(err)
	}
	for _, f := range []string{"gateway.json", "marker"} {
		p := filepath.Join(dir, f)
		if _, err := os.Stat(p); err == nil {
			os.Chtimes(p, old, old)
		}
	}
	return dir
}

func validRecord(pid int) string {
	return `{
  "version": 1,
  "pid": ` + itoa(pid) + `,
  "host": "127.0.0.1",
  "port": 4000,
  "authToken": null,
  "stateDbPath": "/tmp/db.sqlite",
  "startedAt": "2026-01-01T00:00:00.000Z",
  "workspaceRoot": "/work/repo"
}
`
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func TestRunRemovesOldDeadSessions(t *testing.T) {
	root := t.TempDir()
	mkSession(t, root, "old-dead", 10*24*time.Hour, "")

	summary := Run(root, 7*24*time.Hour)
	if len(summary.Removed) != 1 || summary.Removed[0] != "old-dead" {
		t.Fatalf("Removed = %v, want [old-dead]", summary.Removed)
	}
	if _, err := os.Stat(filepath.Join(root, "old-dead")); !os.IsNotExist(err) {
		t.Fatal("expected directory to be removed from disk")
	}
}

func TestRunSkipsRecentSessions(t *testing.T) {
	root := t.TempDir()
	mkSession(t, root, "fresh", time.Hour, "")

	summary := Run(root, 7*24*time.Hour)
	if len(summary.Removed) != 0 {
		t.Fatalf("Removed = %v, want none", summary.Removed)
	}
}

func TestRunSkipsLivePIDRegardlessOfAge(t *testing.T) {
	root := t.TempDir()
	isProcessAlive = func(pid int) bool { return pid == os.Getpid() }
	t.Cleanup(func() {
		isProcessAlive = func(pid int) bool { return false }
	})

	mkSession(t, root, "live", 30*24*time.Hour, validRecord(os.Getpid()))

	summary := Run(root, 7*24*time.Hour)
	if len(summary.Removed) != 0 {
		t.Fatalf("Removed = %v, want none (live PID)", summary.Removed)
	}
	if len(summary.SkippedLive) != 1 || summary.SkippedLive[0] != "live" {
		t.Fatalf("SkippedLive = %v, want [live]", summary.SkippedLive)
	}
}

func TestRunRemovesOldSessionsWithDeadRecordedPID(t *testing.T) {
	root := t.TempDir()
	isProcessAlive = func(pid int) bool { return false }
	t.Cleanup(func() {
		isProcessAlive = func(pid int) bool { return false }
	})

	mkSession(t, root, "dead-recorded", 30*24*time.Hour, validRecord(999999))

	summary := Run(root, 7*24*time.Hour)
	if len(summary.Removed) != 1 {
		t.Fatalf("Removed = %v, want 1 entry", summary.Removed)
	}
}

func TestRunMissingSessionsDirIsNoop(t *testing.T) {
	summary := Run("/nonexistent/path/xyz", 7*24*time.Hour)
	if summary.Scanned != 0 || len(summary.Errors) != 0 {
		t.Fatalf("expected clean no-op summary, got %+v", summary)
	}
}
