package ptyengine

import (
	"bytes"
	"os/exec"
	"testing"
	"time"
)

func requireSh(t *testing.T) string {
	t.Helper()
	path, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	return path
}

func TestStartWriteReadEcho(t *testing.T) {
	sh := requireSh(t)
	e := New()
	if err := e.Start("s1", "", []string{sh, "-c", "read line; echo \"got:$line\""}, 80, 24); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer e.Kill("s1", 100*time.Millisecond)

	sub, err := e.Subscribe("s1", nil)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := e.Write("s1", []byte("hello\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	var collected bytes.Buffer
	deadline := time.After(5 * time.Second)
	for {
		select {
		case env, ok := <-sub.Chan():
			if !ok {
				t.Fatalf("channel closed before seeing echoed output, got %q", collected.String())
			}
			if env.Kind == EnvelopeOutput {
				collected.Write(env.Data)
				if bytes.Contains(collected.Bytes(), []byte("got:hello")) {
					return
				}
			}
		case <-deadline:
			t.Fatalf("timed out waiting for echo, got %q", collected.String())
		}
	}
}

func TestStartAlreadyLive(t *testing.T) {
	sh := requireSh(t)
	e := New()
	if err := e.Start("s1", "", []string{sh, "-c", "sleep 5"}, 80, 24); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer e.Kill("s1", 50*time.Millisecond)

	if err := e.Start("s1", "", []string{sh, "-c", "sleep 5"}, 80, 24); err != ErrAlreadyLive {
		t.Fatalf("expected ErrAlreadyLive, got %v", err)
	}
}

func TestWriteUnknownSession(t *testing.T) {
	e := New()
	if err := e.Write("nope", []byte("x")); err != ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestExitEnvelopeOnProcessExit(t *testing.T) {
	sh := requireSh(t)
	e := New()
	if err := e.Start("s1", "", []string{sh, "-c", "exit 3"}, 80, 24); err != nil {
		t.Fatalf("start: %v", err)
	}

	sub, err := e.Subscribe("s1", nil)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case env, ok := <-sub.Chan():
			if !ok {
				t.Fatal("channel closed without an exit envelope")
			}
			if env.Kind == EnvelopeExit {
				if env.ExitStatus != 3 {
					t.Errorf("exit status = %d, want 3", env.ExitStatus)
				}
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for exit envelope")
		}
	}
}

func TestDetachKeepsPTYAlive(t *testing.T) {
	sh := requireSh(t)
	e := New()
	if err := e.Start("s1", "", []string{sh, "-c", "sleep 5"}, 80, 24); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer e.Kill("s1", 50*time.Millisecond)

	sub, err := e.Subscribe("s1", nil)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	e.Detach(sub)

	if !e.IsLive("s1") {
		t.Fatal("expected session to remain live after detach")
	}
}

func TestResizeUnknownSession(t *testing.T) {
	e := New()
	if err := e.Resize("nope", 80, 24); err != ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestFilteredEnvStripsDeniedPrefixes(t *testing.T) {
	in := []string{"HOME=/root", "HARNESS_PROFILE_CPU=1", "HARNESS_TRACE_ID=abc", "PATH=/bin"}
	out := filteredEnv(in)
	for _, kv := range out {
		if bytesHasDeniedPrefix(kv) {
			t.Errorf("denied env leaked through: %s", kv)
		}
	}
	if len(out) != 2 {
		t.Fatalf("len(out) = %d, want 2: %v", len(out), out)
	}
}

func bytesHasDeniedPrefix(kv string) bool {
	for _, p := range deniedEnvPrefixes {
		if len(kv) >= len(p) && kv[:len(p)] == p {
			return true
		}
	}
	return false
}
