// Package gatewayrecord reads and writes the JSON record describing a
// running gateway. It is a pure codec: no locking, no process checks.
package gatewayrecord

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// CurrentVersion is the only schema version this codec accepts.
// A record with any other version is treated as absent.
const CurrentVersion = 1

// Record is the on-disk gateway record, version 1.
type Record struct {
	Version       int       `json:"version"`
	PID           int       `json:"pid"`
	Host          string    `json:"host"`
	Port          int       `json:"port"`
	AuthToken     *string   `json:"authToken"`
	StateDBPath   string    `json:"stateDbPath"`
	StartedAt     time.Time `json:"startedAt"`
	WorkspaceRoot string    `json:"workspaceRoot"`
}

var loopbackHosts = map[string]bool{
	"127.0.0.1": true,
	"localhost": true,
	"::1":       true,
}

// IsLoopback reports whether host (after trim + lowercase) is one of the
// canonical loopback names or any IP address in a loopback range.
func IsLoopback(host string) bool {
	h := strings.ToLower(strings.TrimSpace(host))
	if loopbackHosts[h] {
		return true
	}
	if ip := net.ParseIP(h); ip != nil {
		return ip.IsLoopback()
	}
	return false
}

// Parse decodes text into a Record, or returns (nil, nil) if the record
// fails validation (treated as absent, not an error).
// A malformed top-level JSON shape (e.g. an array) is likewise (nil, nil).
func Parse(text []byte) (*Record, error) {
	var raw struct {
		Version       *int    `json:"version"`
		PID           *int    `json:"pid"`
		Host          *string `json:"host"`
		Port          *int    `json:"port"`
		AuthToken     *string `json:"authToken"`
		AuthTokenSet  bool    `json:"-"`
		StateDBPath   *string `json:"stateDbPath"`
		StartedAt     *string `json:"startedAt"`
		WorkspaceRoot *string `json:"workspaceRoot"`
	}

	dec := json.NewDecoder(bytes.NewReader(text))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, nil // top-level array, etc.
		}
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, nil
	}

	if raw.Version == nil || *raw.Version != CurrentVersion {
		return nil, nil
	}
	if raw.PID == nil || *raw.PID <= 0 {
		return nil, nil
	}
	if raw.Host == nil || strings.TrimSpace(*raw.Host) == "" {
		return nil, nil
	}
	if raw.Port == nil || *raw.Port < 1 || *raw.Port > 65535 {
		return nil, nil
	}
	if raw.StateDBPath == nil || strings.TrimSpace(*raw.StateDBPath) == "" {
		return nil, nil
	}
	if raw.WorkspaceRoot == nil || strings.TrimSpace(*raw.WorkspaceRoot) == "" {
		return nil, nil
	}
	if raw.StartedAt == nil || strings.TrimSpace(*raw.StartedAt) == "" {
		return nil, nil
	}
	startedAt, err := time.Parse(time.RFC3339, *raw.StartedAt)
	if err != nil {
		startedAt, err = time.Parse(time.RFC3339Nano, *raw.StartedAt)
		if err != nil {
			return nil, nil
		}
	}

	// authToken is required, and must be JSON null or a non-empty string.
	if !hasKey(text, "authToken") {
		return nil, nil
	}
	if raw.AuthToken != nil && *raw.AuthToken == "" {
		return nil, nil
	}

	return &Record{
		Version:       CurrentVersion,
		PID:           *raw.PID,
		Host:          strings.TrimSpace(*raw.Host),
		Port:          *raw.Port,
		AuthToken:     raw.AuthToken,
		StateDBPath:   strings.TrimSpace(*raw.StateDBPath),
		StartedAt:     startedAt.UTC(),
		WorkspaceRoot: strings.TrimSpace(*raw.WorkspaceRoot),
	}, nil
}

// hasKey does a cheap structural check for the presence of a top-level
// JSON key, used only to distinguish "authToken omitted" (invalid, since
// the field is required) from "authToken: null" (valid).
func hasKey(text []byte, key string) bool {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(text, &m); err != nil {
		return false
	}
	_, ok := m[key]
	return ok
}

// Serialize emits two-space-indented JSON terminated by a newline, with
// keys in a fixed, stable order.
func Serialize(r *Record) []byte {
	type ordered struct {
		Version       int     `json:"version"`
		PID           int     `json:"pid"`
		Host          string  `json:"host"`
		Port          int     `json:"port"`
		AuthToken     *string `json:"authToken"`
		StateDBPath   string  `json:"stateDbPath"`
		StartedAt     string  `json:"startedAt"`
		WorkspaceRoot string  `json:"workspaceRoot"`
	}
	out := ordered{
		Version:       CurrentVersion,
		PID:           r.PID,
		Host:          r.Host,
		Port:          r.Port,
		AuthToken:     r.AuthToken,
		StateDBPath:   r.StateDBPath,
		StartedAt:     r.StartedAt.UTC().Format(time.RFC3339Nano),
		WorkspaceRoot: r.WorkspaceRoot,
	}
	data, _ := json.MarshalIndent(out, "", "  ")
	return append(data, '\n')
}

// Read loads the record at path. A missing file returns (nil, nil); any
// other I/O error propagates. A present-but-invalid record also returns
// (nil, nil), per Parse's contract.
func Read(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("gatewayrecord: read %s: %w", path, err)
	}
	return Parse(data)
}

// Write atomically replaces the record at path: write to a tempfile in
// the same directory, then rename. Parent directories are created as
// needed.
func Write(path string, r *Record) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("gatewayrecord: mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".gateway-*.json.tmp")
	if err != nil {
		return fmt.Errorf("gatewayrecord: create tempfile: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	if _, err := tmp.Write(Serialize(r)); err != nil {
		tmp.Close()
		return fmt.Errorf("gatewayrecord: write tempfile: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("gatewayrecord: close tempfile: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("gatewayrecord: rename into place: %w", err)
	}
	return nil
}

// Remove unlinks the record at path. A missing file is not an error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("gatewayrecord: remove %s: %w", path, err)
	}
	return nil
}
