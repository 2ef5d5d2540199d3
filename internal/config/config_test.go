package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadResolvesRelativePaths(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.json")
	body := `{
		"basic_config": {"file_base_dir": "data/uploads"},
		"databases": {"sqlite3": {"dsn": "data/app.db"}},
		"drive": {"client_secret_file": "secrets/client.json", "token_file": "secrets/token.json"},
		"speech": {"work_dir": "data/tts"}
	}`
	if err := os.WriteFile(cfgPath, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	want := map[string]string{
		"file_base_dir":      filepath.Join(dir, "data/uploads"),
		"dsn":                filepath.Join(dir, "data/app.db"),
		"client_secret_file": filepath.Join(dir, "secrets/client.json"),
		"token_file":         filepath.Join(dir, "secrets/token.json"),
		"work_dir":           filepath.Join(dir, "data/tts"),
	}
	got := map[string]string{
		"file_base_dir":      cfg.BasicConfig.FileBaseDir,
		"dsn":                cfg.Databases["sqlite3"].DSN,
		"client_secret_file": cfg.Drive.ClientSecretFile,
		"token_file":         cfg.Drive.TokenFile,
		"work_dir":           cfg.Speech.WorkDir,
	}
	for key, w := range want {
		if got[key] != w {
			t.Errorf("%s = %q, want %q", key, got[key], w)
		}
	}
}

func TestLoadLeavesAbsoluteAndMemoryDSN(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.json")
	body := `{
		"basic_config": {"file_base_dir": "/srv/uploads"},
		"databases": {"sqlite3": {"dsn": ":memory:"}}
	}`
	if err := os.WriteFile(cfgPath, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.BasicConfig.FileBaseDir != "/srv/uploads" {
		t.Errorf("absolute path rewritten: %q", cfg.BasicConfig.FileBaseDir)
	}
	if cfg.Databases["sqlite3"].DSN != ":memory:" {
		t.Errorf(":memory: DSN rewritten: %q", cfg.Databases["sqlite3"].DSN)
	}
	if cfg.Summarizer.Model != "gemini-2.5-flash" {
		t.Errorf("default model not applied: %q", cfg.Summarizer.Model)
	}
}
