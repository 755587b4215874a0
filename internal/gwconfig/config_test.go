package gwconfig

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestLoadMissingFileYieldsZeroValue(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.jsonc"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg == nil || *cfg != (Config{}) {
		t.Errorf("expected zero-value config, got %+v", cfg)
	}
}

func TestLoadStripsComments(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "harness.config.jsonc")
	body := `{
  // bind address
  "host": "0.0.0.0", /* not loopback on purpose */
  "port": 9123,
  "debug": {
    "enabled": true,
    "tag": "a \"quoted\" // not a comment"
  }
}
`
	if err := writeFile(path, body); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Host != "0.0.0.0" || cfg.Port != 9123 {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if !cfg.Debug.Enabled || cfg.Debug.Tag != `a "quoted" // not a comment` {
		t.Errorf("string literal containing // was mangled: %+v", cfg.Debug)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "harness.config.jsonc")
	want := &Config{
		Host:                "127.0.0.1",
		Port:                7777,
		AuthToken:           "tok",
		ResizeMinIntervalMs: 50,
	}
	if err := Save(path, want); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, want)
	}
}

func TestLoadSecrets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.env")
	body := "# comment\n\nAPI_KEY=\"abc123\"\nPLAIN=xyz\nmalformed-line\n"
	if err := writeFile(path, body); err != nil {
		t.Fatal(err)
	}
	secrets, err := LoadSecrets(path)
	if err != nil {
		t.Fatalf("load secrets: %v", err)
	}
	want := map[string]string{"API_KEY": "abc123", "PLAIN": "xyz"}
	if !reflect.DeepEqual(secrets, want) {
		t.Errorf("got %+v, want %+v", secrets, want)
	}
}

func TestLoadSecretsMissingFile(t *testing.T) {
	secrets, err := LoadSecrets(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("load secrets: %v", err)
	}
	if len(secrets) != 0 {
		t.Errorf("expected empty map, got %+v", secrets)
	}
}

func writeFile(path, body string) error {
	return os.WriteFile(path, []byte(body), 0o644)
}
