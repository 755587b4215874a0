package gwsupervisor

import (
	"net"
	"os"
	"strconv"

	"github.com/relaypane/harness/internal/gatewayrecord"
	"github.com/relaypane/harness/internal/gwconfig"
)

// Settings carries the explicit, user-supplied overrides for one
// EnsureRunning call — CLI flags and/or the loaded config file, already
// merged by the caller with CLI taking precedence. Zero values mean
// "unset"; resolution then falls through to the existing record and
// then a built-in default. Only the port consults the environment
// (HARNESS_CONTROL_PLANE_PORT, between the setting and the record); host
// and auth token have no env step.
type Settings struct {
	Host        string
	Port        int
	AuthToken   string
	AuthTokenSet bool // distinguishes "" (clear token) from "unset"
	StateDBPath string // explicit --state-db-path; only ever validated, never adopted as-is
	DebugInspect gwconfig.DebugInspect
}

// FromConfig folds a loaded gwconfig.Config under explicit overrides,
// so callers can pass Settings built purely from CLI flags and let the
// supervisor fill gaps from the config file.
func (s Settings) FromConfig(cfg *gwconfig.Config) Settings {
	if cfg == nil {
		return s
	}
	if s.Host == "" {
		s.Host = cfg.Host
	}
	if s.Port == 0 {
		s.Port = cfg.Port
	}
	if !s.AuthTokenSet && cfg.AuthToken != "" {
		s.AuthToken = cfg.AuthToken
		s.AuthTokenSet = true
	}
	if !s.DebugInspect.Enabled {
		s.DebugInspect = cfg.Debug
	}
	return s
}

func resolveHost(in Settings, existing *gatewayrecord.Record) string {
	if in.Host != "" {
		return in.Host
	}
	if existing != nil && existing.Host != "" {
		return existing.Host
	}
	return "127.0.0.1"
}

func resolvePort(in Settings, existing *gatewayrecord.Record) (int, error) {
	if in.Port != 0 {
		return in.Port, nil
	}
	if v := os.Getenv("HARNESS_CONTROL_PLANE_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 && p <= 65535 {
			return p, nil
		}
	}
	if existing != nil && existing.Port != 0 {
		return existing.Port, nil
	}
	return reservePort()
}

func resolveToken(in Settings, existing *gatewayrecord.Record) string {
	if in.AuthTokenSet {
		return in.AuthToken
	}
	if existing != nil && existing.AuthToken != nil {
		return *existing.AuthToken
	}
	return ""
}

func tokenPtr(token string) *string {
	if token == "" {
		return nil
	}
	return &token
}

// reservePort binds an ephemeral loopback port, reads it back, and
// releases it immediately — the daemon child rebinds it a moment
// later. There is an unavoidable, narrow race between release and
// rebind; EnsureRunning's startup probe loop catches a lost race as
// StartupTimeout rather than a hang.
func reservePort() (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port, nil
}

func isLoopbackAddr(host string) bool {
	return gatewayrecord.IsLoopback(host)
}
