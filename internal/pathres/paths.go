// Package pathres computes every filesystem path the gateway and CLI
// need, given a workspace root and an optional named session. It never
// touches the filesystem itself — callers create directories lazily.
package pathres

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// ErrInvalidSessionName is returned when a session name fails validation.
var ErrInvalidSessionName = errors.New("pathres: invalid session name")

// ErrPathsUnavailable is returned when neither a home nor a cache
// directory can be determined from the environment.
var ErrPathsUnavailable = errors.New("pathres: no home or cache directory available")

var sessionNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateSessionName enforces the session-name grammar: nonempty,
// restricted charset, must not start with '-', must not contain path
// separators.
func ValidateSessionName(name string) error {
	if name == "" {
		return ErrInvalidSessionName
	}
	if name[0] == '-' {
		return ErrInvalidSessionName
	}
	if !sessionNamePattern.MatchString(name) {
		return ErrInvalidSessionName
	}
	return nil
}

// Paths is the full set of absolute paths derived from a workspace root
// and optional session name.
type Paths struct {
	WorkspaceRoot string
	SessionName   string // "" for the default (unnamed) gateway

	runtimeRoot string // <cache>/harness/runtime/<hashed-workspace>
	configRoot  string // <config>/harness
}

// Resolve computes Paths for workspaceRoot/sessionName using the process
// environment. sessionName may be empty for the default gateway.
func Resolve(workspaceRoot, sessionName string) (*Paths, error) {
	if sessionName != "" {
		if err := ValidateSessionName(sessionName); err != nil {
			return nil, err
		}
	}

	cacheDir, cacheErr := cacheHome()
	configDir, configErr := configHome()
	if cacheErr != nil && configErr != nil {
		return nil, ErrPathsUnavailable
	}
	// A missing cache dir falls back to the config dir and vice versa —
	// both ultimately resolve from $HOME, so only a wholly absent
	// environment (neither HOME nor XDG_*) is fatal.
	if cacheErr != nil {
		cacheDir = configDir
	}
	if configErr != nil {
		configDir = cacheDir
	}

	hashed := hashWorkspace(workspaceRoot)
	return &Paths{
		WorkspaceRoot: workspaceRoot,
		SessionName:   sessionName,
		runtimeRoot:   filepath.Join(cacheDir, "harness", "runtime", hashed),
		configRoot:    filepath.Join(configDir, "harness"),
	}, nil
}

func hashWorkspace(root string) string {
	sum := sha256.Sum256([]byte(filepath.Clean(root)))
	return hex.EncodeToString(sum[:])[:16]
}

// WorkspaceRuntimeRoot is the default (unnamed) gateway's runtime root,
// regardless of SessionName — used by the default pointer and by the GC
// to enumerate sibling named sessions.
func (p *Paths) WorkspaceRuntimeRoot() string {
	return p.runtimeRoot
}

// sessionRoot is runtimeRoot, or runtimeRoot/sessions/<name> when named.
func (p *Paths) sessionRoot() string {
	if p.SessionName == "" {
		return p.runtimeRoot
	}
	return filepath.Join(p.runtimeRoot, "sessions", p.SessionName)
}

func (p *Paths) GatewayRecordPath() string { return filepath.Join(p.sessionRoot(), "gateway.json") }
func (p *Paths) GatewayLogPath() string    { return filepath.Join(p.sessionRoot(), "gateway.log") }
func (p *Paths) GatewayLockPath() string   { return filepath.Join(p.sessionRoot(), "gateway.lock") }

// StateDBPath is the runtime-default control-plane database location.
// Stale or legacy values elsewhere are normalized to this path silently.
func (p *Paths) StateDBPath() string {
	return filepath.Join(p.runtimeRoot, "control-plane.sqlite")
}

func (p *Paths) ProfileStatePath() string {
	return filepath.Join(p.sessionRoot(), "active-profile.json")
}

func (p *Paths) StatusTimelineStatePath() string {
	return filepath.Join(p.sessionRoot(), "active-status-timeline.json")
}

func (p *Paths) RenderTraceStatePath() string {
	return filepath.Join(p.sessionRoot(), "active-render-trace.json")
}

func (p *Paths) ProfileDir(name string) string {
	return filepath.Join(p.runtimeRoot, "profiles", name)
}

func (p *Paths) SessionsDir() string {
	return filepath.Join(p.runtimeRoot, "sessions")
}

// ConfigDir is $XDG_CONFIG_HOME/harness/<hashed-workspace>.
func (p *Paths) ConfigDir() string {
	return filepath.Join(p.configRoot, hashWorkspace(p.WorkspaceRoot))
}

func (p *Paths) ConfigFilePath() string {
	return filepath.Join(p.ConfigDir(), "harness.config.jsonc")
}

func (p *Paths) SecretsFilePath() string {
	return filepath.Join(p.ConfigDir(), "secrets.env")
}

// PointerPath is the default-gateway pointer file for this workspace,
// independent of SessionName (pointers only ever describe the default
// gateway).
func (p *Paths) PointerPath() string {
	return filepath.Join(p.configRoot, "pointers", hashWorkspace(p.WorkspaceRoot)+".json")
}

// IsUnderLegacyDir reports whether candidate lies inside the workspace's
// legacy `.harness/` directory — used to reject --state-db-path flags
// that point into it.
func (p *Paths) IsUnderLegacyDir(candidate string) bool {
	legacy := filepath.Join(p.WorkspaceRoot, ".harness")
	rel, err := filepath.Rel(legacy, candidate)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	if filepath.IsAbs(rel) || rel == ".." {
		return false
	}
	return !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func cacheHome() (string, error) {
	if v := os.Getenv("XDG_CACHE_HOME"); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".cache"), nil
}

func configHome() (string, error) {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config"), nil
}
