package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		API: APIConfig{BaseURL: "https://api.example.com"},
		UI:  "cli",
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "minimal valid", mutate: func(c *Config) {}},
		{name: "missing base url", mutate: func(c *Config) { c.API.BaseURL = "" }, wantErr: true},
		{name: "non-http base url", mutate: func(c *Config) { c.API.BaseURL = "ftp://api.example.com" }, wantErr: true},
		{name: "unknown ui", mutate: func(c *Config) { c.UI = "web" }, wantErr: true},
		{name: "known strategy", mutate: func(c *Config) { c.Sync.Strategy = "timestamp-based" }},
		{name: "unknown strategy", mutate: func(c *Config) { c.Sync.Strategy = "last-writer" }, wantErr: true},
		{name: "negative batch size", mutate: func(c *Config) { c.Sync.BatchSize = -1 }, wantErr: true},
		{name: "negative retries", mutate: func(c *Config) { c.Sync.MaxRetries = -2 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSampleConfigIsValid(t *testing.T) {
	cfg := Sample()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("sample config invalid: %v", err)
	}
	if cfg.Sync.Strategy != "server-wins" || cfg.Sync.MaxRetries != 3 || cfg.Sync.BatchSize != 10 {
		t.Errorf("sample sync section = %+v", cfg.Sync)
	}
	if cfg.SyncInterval() != 30*time.Second {
		t.Errorf("SyncInterval() = %v", cfg.SyncInterval())
	}
}

func TestDurationDefaults(t *testing.T) {
	cfg := validConfig()
	if cfg.SyncInterval() != 30*time.Second {
		t.Errorf("SyncInterval() = %v, want 30s", cfg.SyncInterval())
	}
	if cfg.CleanupAge() != 30*24*time.Hour {
		t.Errorf("CleanupAge() = %v, want 30 days", cfg.CleanupAge())
	}
	if cfg.RetryBackoff() != 0 || cfg.APITimeout() != 0 {
		t.Errorf("zero values should stay zero: backoff %v timeout %v", cfg.RetryBackoff(), cfg.APITimeout())
	}

	cfg.Sync.IntervalSeconds = 5
	cfg.Sync.RetryBackoffSeconds = 2
	cfg.Network.ProbeIntervalSeconds = 7
	if cfg.SyncInterval() != 5*time.Second || cfg.RetryBackoff() != 2*time.Second || cfg.ProbeInterval() != 7*time.Second {
		t.Errorf("configured durations not honoured")
	}
}

func TestLoadJSONAndYAML(t *testing.T) {
	dir := t.TempDir()

	jsonPath := filepath.Join(dir, "config.json")
	jsonData := `{"api": {"base_url": "https://api.example.com", "timeout_seconds": 5}, "sync": {"strategy": "manual"}, "ui": "cli"}`
	if err := os.WriteFile(jsonPath, []byte(jsonData), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(jsonPath)
	if err != nil {
		t.Fatalf("Load(json) error = %v", err)
	}
	if cfg.API.TimeoutSeconds != 5 || cfg.Sync.Strategy != "manual" {
		t.Errorf("json config = %+v", cfg)
	}

	yamlPath := filepath.Join(dir, "config.yaml")
	yamlData := `
api:
  base_url: https://api.example.com
sync:
  enabled: true
  batch_size: 25
  max_retries: 5
database:
  path: ~/projects.db
ui: tui
`
	if err := os.WriteFile(yamlPath, []byte(yamlData), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err = Load(yamlPath)
	if err != nil {
		t.Fatalf("Load(yaml) error = %v", err)
	}
	if cfg.Sync.BatchSize != 25 || cfg.Sync.MaxRetries != 5 || !cfg.Sync.Enabled || cfg.UI != "tui" {
		t.Errorf("yaml config = %+v", cfg)
	}
}

func TestLoadRejectsInvalidFiles(t *testing.T) {
	dir := t.TempDir()

	broken := filepath.Join(dir, "broken.json")
	_ = os.WriteFile(broken, []byte(`{"api": `), 0644)
	if _, err := Load(broken); err == nil || !strings.Contains(err.Error(), "invalid JSON") {
		t.Errorf("Load(broken) error = %v", err)
	}

	invalid := filepath.Join(dir, "invalid.yml")
	_ = os.WriteFile(invalid, []byte("api:\n  base_url: https://x\nui: web\n"), 0644)
	if _, err := Load(invalid); err == nil {
		t.Error("Load() accepted ui: web")
	}

	if _, err := Load(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("Load() of a missing file should fail")
	}
}

func TestGetDatabasePathExpansion(t *testing.T) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		t.Fatalf("Failed to get home directory: %v", err)
	}

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "empty keeps store default", input: "", expected: ""},
		{name: "tilde", input: "~/.local/share/projectsync/projects.db", expected: filepath.Join(homeDir, ".local/share/projectsync/projects.db")},
		{name: "$HOME", input: "$HOME/data/projects.db", expected: filepath.Join(homeDir, "data/projects.db")},
		{name: "absolute", input: "/var/lib/projectsync.db", expected: "/var/lib/projectsync.db"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Database.Path = tt.input
			got, err := cfg.GetDatabasePath()
			if err != nil {
				t.Fatalf("GetDatabasePath() error = %v", err)
			}
			if got != tt.expected {
				t.Errorf("GetDatabasePath() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestSetCustomConfigPath(t *testing.T) {
	original := customConfigPath
	defer func() { customConfigPath = original }()

	dir := t.TempDir()
	SetCustomConfigPath(dir)
	if got, _ := GetConfigPath(); got != filepath.Join(dir, CONFIG_FILE_PATH) {
		t.Errorf("directory path resolved to %q", got)
	}

	file := filepath.Join(dir, "custom.yaml")
	SetCustomConfigPath(file)
	if got, _ := GetConfigPath(); got != file {
		t.Errorf("file path resolved to %q", got)
	}

	SetCustomConfigPath(".")
	if got, _ := GetConfigPath(); got != filepath.Join(".", CONFIG_DIR_PATH, CONFIG_FILE_PATH) {
		t.Errorf("dot path resolved to %q", got)
	}
}

func TestCreateConfigFromSampleYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	if _, err := createConfigFromSample(path); err != nil {
		t.Fatalf("createConfigFromSample() error = %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() of written sample error = %v", err)
	}
	if cfg.API.BaseURL != Sample().API.BaseURL {
		t.Errorf("base url = %q", cfg.API.BaseURL)
	}
}

func TestWatchReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	write := func(strategy string) {
		data := `{"api": {"base_url": "https://api.example.com"}, "sync": {"strategy": "` + strategy + `"}, "ui": "cli"}`
		if err := os.WriteFile(path, []byte(data), 0644); err != nil {
			t.Fatal(err)
		}
	}
	write("server-wins")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() { done <- Watch(ctx, path, func(c *Config) { changes <- c }) }()

	// give the watcher time to register the directory
	time.Sleep(100 * time.Millisecond)
	write("last-writer") // invalid, skipped
	time.Sleep(reloadDebounce * 2)
	write("client-wins")

	select {
	case cfg := <-changes:
		if cfg.Sync.Strategy != "client-wins" {
			t.Errorf("reloaded strategy = %q", cfg.Sync.Strategy)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Watch() never reported the change")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Watch() error = %v", err)
	}
}
