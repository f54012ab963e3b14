package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"projectsync/internal/utils"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	_ "embed"
)

var configOnce sync.Once

var globalConfig *Config

var customConfigPath string // Custom config path set via --config flag

//go:embed config.sample.json
var sampleConfig []byte

const (
	CONFIG_DIR_PATH  = "projectsync"
	CONFIG_FILE_PATH = "config.json"
	CONFIG_DIR_PERM  = 0755
	CONFIG_FILE_PERM = 0644
)

// Config represents the application configuration
type Config struct {
	API      APIConfig      `json:"api" yaml:"api"`
	Database DatabaseConfig `json:"database" yaml:"database"`
	Sync     SyncConfig     `json:"sync" yaml:"sync"`
	Network  NetworkConfig  `json:"network" yaml:"network"`
	Logging  LoggingConfig  `json:"logging" yaml:"logging"`

	UI string `json:"ui" yaml:"ui" validate:"oneof=cli tui"`
}

// APIConfig points at the remote project API
type APIConfig struct {
	BaseURL        string `json:"base_url" yaml:"base_url" validate:"required,url"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty" validate:"gte=0"`
	Username       string `json:"username,omitempty" yaml:"username,omitempty"`
	// Token is the lowest-priority credential source; prefer the keyring
	Token string `json:"token,omitempty" yaml:"token,omitempty"`
}

// DatabaseConfig locates the local SQLite store
type DatabaseConfig struct {
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// SyncConfig tunes the sync engine and the coordinator
type SyncConfig struct {
	Enabled             bool   `json:"enabled" yaml:"enabled"`
	Strategy            string `json:"strategy,omitempty" yaml:"strategy,omitempty" validate:"omitempty,oneof=server-wins client-wins timestamp-based manual"`
	BatchSize           int    `json:"batch_size,omitempty" yaml:"batch_size,omitempty" validate:"gte=0,lte=1000"`
	MaxRetries          int    `json:"max_retries,omitempty" yaml:"max_retries,omitempty" validate:"gte=0,lte=100"`
	IntervalSeconds     int    `json:"interval_seconds,omitempty" yaml:"interval_seconds,omitempty" validate:"gte=0"`
	RetryBackoffSeconds int    `json:"retry_backoff_seconds,omitempty" yaml:"retry_backoff_seconds,omitempty" validate:"gte=0"`
	PullLimit           int    `json:"pull_limit,omitempty" yaml:"pull_limit,omitempty" validate:"gte=0"`
	AutoPull            bool   `json:"auto_pull,omitempty" yaml:"auto_pull,omitempty"`
	CleanupDays         int    `json:"cleanup_days,omitempty" yaml:"cleanup_days,omitempty" validate:"gte=0"`
}

// NetworkConfig tunes connectivity probing
type NetworkConfig struct {
	ProbeIntervalSeconds int `json:"probe_interval_seconds,omitempty" yaml:"probe_interval_seconds,omitempty" validate:"gte=0"`
	ProbeTimeoutSeconds  int `json:"probe_timeout_seconds,omitempty" yaml:"probe_timeout_seconds,omitempty" validate:"gte=0"`
}

// LoggingConfig controls verbosity and the daemon log file
type LoggingConfig struct {
	Verbose    bool   `json:"verbose,omitempty" yaml:"verbose,omitempty"`
	File       string `json:"file,omitempty" yaml:"file,omitempty"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty" yaml:"max_size_mb,omitempty" validate:"gte=0"`
	MaxBackups int    `json:"max_backups,omitempty" yaml:"max_backups,omitempty" validate:"gte=0"`
}

func (c Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.API.BaseURL != "" && !strings.HasPrefix(c.API.BaseURL, "http://") && !strings.HasPrefix(c.API.BaseURL, "https://") {
		return fmt.Errorf("api.base_url must use http or https: %q", c.API.BaseURL)
	}
	return nil
}

// APITimeout returns the HTTP client timeout (0 means the client default)
func (c *Config) APITimeout() time.Duration {
	return time.Duration(c.API.TimeoutSeconds) * time.Second
}

// SyncInterval returns the periodic sync interval, defaulting to 30s
func (c *Config) SyncInterval() time.Duration {
	if c.Sync.IntervalSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Sync.IntervalSeconds) * time.Second
}

// RetryBackoff returns the base retry backoff (0 disables it)
func (c *Config) RetryBackoff() time.Duration {
	return time.Duration(c.Sync.RetryBackoffSeconds) * time.Second
}

// ProbeInterval returns how often connectivity is probed
func (c *Config) ProbeInterval() time.Duration {
	return time.Duration(c.Network.ProbeIntervalSeconds) * time.Second
}

// ProbeTimeout returns the timeout for a single probe
func (c *Config) ProbeTimeout() time.Duration {
	return time.Duration(c.Network.ProbeTimeoutSeconds) * time.Second
}

// CleanupAge returns how long synced records are kept, defaulting to 30 days
func (c *Config) CleanupAge() time.Duration {
	days := c.Sync.CleanupDays
	if days <= 0 {
		days = 30
	}
	return time.Duration(days) * 24 * time.Hour
}

// GetDatabasePath returns the configured database path with ~ and $VARS
// expanded. An empty result lets the store pick its XDG default.
func (c *Config) GetDatabasePath() (string, error) {
	return utils.ExpandPath(c.Database.Path)
}

// GetLogFilePath returns the expanded daemon log path, or "" when unset
func (c *Config) GetLogFilePath() (string, error) {
	return utils.ExpandPath(c.Logging.File)
}

// SetCustomConfigPath sets a custom config path to use instead of the default user config directory.
// If path is empty or ".", it uses "./projectsync/config.json" (current directory).
// If path is a directory, it looks for "config.json" inside it.
// If path is a file, it uses that file directly.
// This must be called before GetConfig() is called for the first time.
func SetCustomConfigPath(path string) {
	if path == "" || path == "." {
		customConfigPath = filepath.Join(".", CONFIG_DIR_PATH, CONFIG_FILE_PATH)
	} else {
		info, err := os.Stat(path)
		if err == nil && info.IsDir() {
			customConfigPath = filepath.Join(path, CONFIG_FILE_PATH)
		} else {
			customConfigPath = path
		}
	}
}

func GetConfig() *Config {
	configOnce.Do(func() {
		config, err := loadUserOrSampleConfig()
		if err != nil {
			log.Fatal(err)
		}
		globalConfig = config
	})
	return globalConfig
}

func loadUserOrSampleConfig() (*Config, error) {
	configPath, err := GetConfigPath()
	if err != nil {
		return nil, fmt.Errorf("config path couldn't be retrieved: %w", err)
	}
	configData, err := configDataFromPath(configPath)
	if err != nil {
		return nil, err
	}
	return parseConfig(configData, configPath)
}

// Load reads and validates the config at path without prompting
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return parseConfig(data, path)
}

func GetConfigPath() (string, error) {
	if customConfigPath != "" {
		// Custom path may not exist yet (allows creation in custom location)
		return customConfigPath, nil
	}

	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user config dir: %w", err)
	}
	return filepath.Join(dir, CONFIG_DIR_PATH, CONFIG_FILE_PATH), nil
}

func createConfigDir(configPath string) error {
	return os.MkdirAll(filepath.Dir(configPath), CONFIG_DIR_PERM)
}

func WriteConfigFile(configPath string, data []byte) error {
	return os.WriteFile(configPath, data, CONFIG_FILE_PERM)
}

func createConfigFromSample(configPath string) ([]byte, error) {
	if err := createConfigDir(configPath); err != nil {
		return nil, err
	}
	data := sampleConfig
	if isYAML(configPath) {
		var cfg Config
		if err := json.Unmarshal(sampleConfig, &cfg); err != nil {
			return nil, err
		}
		converted, err := yaml.Marshal(cfg)
		if err != nil {
			return nil, err
		}
		data = converted
	}
	if err := WriteConfigFile(configPath, data); err != nil {
		return nil, err
	}
	return data, nil
}

// Sample returns the built-in sample configuration
func Sample() *Config {
	var cfg Config
	if err := json.Unmarshal(sampleConfig, &cfg); err != nil {
		panic(fmt.Sprintf("embedded sample config is invalid: %v", err))
	}
	return &cfg
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func parseConfig(configData []byte, configPath string) (*Config, error) {
	var configObj Config

	if isYAML(configPath) {
		if err := yaml.Unmarshal(configData, &configObj); err != nil {
			return nil, fmt.Errorf("invalid YAML in config file %s: %w", configPath, err)
		}
	} else {
		if err := json.Unmarshal(configData, &configObj); err != nil {
			return nil, fmt.Errorf("invalid JSON in config file %s: %w", configPath, err)
		}
	}

	if err := configObj.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}
	return &configObj, nil
}

func configDataFromPath(configPath string) ([]byte, error) {
	configData, err := os.ReadFile(configPath)
	if err == nil {
		return configData, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	fmt.Println("No config exist at ", configPath)
	if utils.PromptYesNo("Do you want to copy config sample to " + configPath + "?") {
		return createConfigFromSample(configPath)
	}
	return sampleConfig, nil
}
