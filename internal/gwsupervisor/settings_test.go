package gwsupervisor

import (
	"testing"

	"github.com/relaypane/harness/internal/gatewayrecord"
	"github.com/relaypane/harness/internal/gwconfig"
)

func TestSettingsFromConfigFillsUnsetFields(t *testing.T) {
	cfg := &gwconfig.Config{Host: "0.0.0.0", Port: 9123, AuthToken: "tok"}

	got := Settings{}.FromConfig(cfg)
	if got.Host != "0.0.0.0" || got.Port != 9123 {
		t.Errorf("got %+v", got)
	}
	if !got.AuthTokenSet || got.AuthToken != "tok" {
		t.Errorf("expected config auth token to be adopted, got %+v", got)
	}
}

func TestSettingsFromConfigKeepsExplicitOverrides(t *testing.T) {
	cfg := &gwconfig.Config{Host: "0.0.0.0", Port: 9123, AuthToken: "tok"}
	explicit := Settings{Host: "127.0.0.1", Port: 7777, AuthToken: "explicit", AuthTokenSet: true}

	got := explicit.FromConfig(cfg)
	if got.Host != "127.0.0.1" || got.Port != 7777 || got.AuthToken != "explicit" {
		t.Errorf("explicit settings should win over config, got %+v", got)
	}
}

func TestSettingsFromConfigNilConfigIsNoop(t *testing.T) {
	in := Settings{Host: "127.0.0.1"}
	if got := in.FromConfig(nil); got != in {
		t.Errorf("got %+v, want unchanged %+v", got, in)
	}
}

func TestResolveHostPrefersExplicitThenExistingThenDefault(t *testing.T) {
	if got := resolveHost(Settings{Host: "10.0.0.1"}, nil); got != "10.0.0.1" {
		t.Errorf("got %q", got)
	}
	if got := resolveHost(Settings{}, &gatewayrecord.Record{Host: "10.0.0.2"}); got != "10.0.0.2" {
		t.Errorf("got %q", got)
	}
	if got := resolveHost(Settings{}, nil); got != "127.0.0.1" {
		t.Errorf("got %q, want default loopback", got)
	}
}

func TestResolvePortPrefersExplicitThenExisting(t *testing.T) {
	port, err := resolvePort(Settings{Port: 4242}, nil)
	if err != nil || port != 4242 {
		t.Fatalf("got (%d, %v)", port, err)
	}
	port, err = resolvePort(Settings{}, &gatewayrecord.Record{Port: 5353})
	if err != nil || port != 5353 {
		t.Fatalf("got (%d, %v)", port, err)
	}
}

func TestResolvePortFallsBackToReservation(t *testing.T) {
	port, err := resolvePort(Settings{}, nil)
	if err != nil {
		t.Fatalf("resolvePort: %v", err)
	}
	if port <= 0 || port > 65535 {
		t.Errorf("expected a reserved ephemeral port, got %d", port)
	}
}

func TestResolveTokenPrefersExplicitSetThenExisting(t *testing.T) {
	if got := resolveToken(Settings{AuthToken: "a", AuthTokenSet: true}, nil); got != "a" {
		t.Errorf("got %q", got)
	}
	existingTok := "b"
	if got := resolveToken(Settings{}, &gatewayrecord.Record{AuthToken: &existingTok}); got != "b" {
		t.Errorf("got %q", got)
	}
	if got := resolveToken(Settings{}, nil); got != "" {
		t.Errorf("got %q, want empty default", got)
	}
}

func TestTokenPtrEmptyIsNil(t *testing.T) {
	if tokenPtr("") != nil {
		t.Error("expected nil for an empty token")
	}
	if got := tokenPtr("x"); got == nil || *got != "x" {
		t.Errorf("got %v, want pointer to \"x\"", got)
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1": true,
		"localhost": true,
		"0.0.0.0":   false,
		"10.0.0.5":  false,
	}
	for host, want := range cases {
		if got := isLoopbackAddr(host); got != want {
			t.Errorf("isLoopbackAddr(%q) = %v, want %v", host, got, want)
		}
	}
}
