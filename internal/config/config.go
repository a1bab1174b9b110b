package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// API contains configuration for the HTTP surface.
type API struct {
	Bind                     string `toml:"bind"`
	Token                    string `toml:"token"`
	MaxUploadMB              int    `toml:"max_upload_mb"`
	StreamIdleTimeoutSeconds int    `toml:"stream_idle_timeout_seconds"`
}

// Jobs selects how submitted jobs are executed.
type Jobs struct {
	// Mode is "queued" (lane workers) or "inline" (the submitting request runs the job).
	Mode string `toml:"mode"`
}

// Lane sizes a single worker lane.
type Lane struct {
	Workers int `toml:"workers"`
	Buffer  int `toml:"buffer"`
}

// Lanes contains per-lane worker pool sizing.
type Lanes struct {
	Generation        Lane `toml:"generation"`
	BackgroundRemoval Lane `toml:"background_removal"`
}

// Provider contains the image-edit provider and its resilience policy.
type Provider struct {
	Name                   string  `toml:"name"`
	APIKey                 string  `toml:"api_key"`
	BaseURL                string  `toml:"base_url"`
	Model                  string  `toml:"model"`
	ModelFast              string  `toml:"model_fast"`
	TimeoutSeconds         float64 `toml:"timeout_seconds"`
	MaxRetries             int     `toml:"max_retries"`
	BackoffBaseSeconds     float64 `toml:"backoff_base_seconds"`
	BackoffMaxSeconds      float64 `toml:"backoff_max_seconds"`
	BreakerThreshold       int     `toml:"breaker_threshold"`
	BreakerWindowSeconds   float64 `toml:"breaker_window_seconds"`
	BreakerCooldownSeconds float64 `toml:"breaker_cooldown_seconds"`
	ReferenceMaxSize       int     `toml:"reference_max_size"`
}

// Segment contains background removal thresholds.
type Segment struct {
	Tolerance     int `toml:"tolerance"`
	FGThreshold   int `toml:"fg_threshold"`
	BGThreshold   int `toml:"bg_threshold"`
	ErodeSize     int `toml:"erode_size"`
	FastTolerance int `toml:"fast_tolerance"`
	FastErodeSize int `toml:"fast_erode_size"`
}

// Storage selects the asset, style and history backend.
type Storage struct {
	Driver            string   `toml:"driver"`
	DSN               string   `toml:"dsn"`
	AllowedExtensions []string `toml:"allowed_extensions"`
}

// Styles contains style catalog settings.
type Styles struct {
	RulesMaxChars int `toml:"rules_max_chars"`
}

// History contains generation history settings.
type History struct {
	MaxEntries int `toml:"max_entries"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout_seconds"`
	BreakerOpen    bool   `toml:"breaker_open"`
	JobFailed      bool   `toml:"job_failed"`
}

// Config encapsulates all configuration values for ivg.
type Config struct {
	Paths         Paths         `toml:"paths"`
	Logging       Logging       `toml:"logging"`
	API           API           `toml:"api"`
	Jobs          Jobs          `toml:"jobs"`
	Lanes         Lanes         `toml:"lanes"`
	Provider      Provider      `toml:"provider"`
	Segment       Segment       `toml:"segment"`
	Storage       Storage       `toml:"storage"`
	Styles        Styles        `toml:"styles"`
	History       History       `toml:"history"`
	Notifications Notifications `toml:"notifications"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/ivg/config.toml")
}

// Load locates, parses, and validates a configuration file. A .env file next
// to the config file or in the working directory is applied first; it never
// overrides variables that are already set.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}
	if err := loadDotEnv(resolvedPath); err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}
	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs("ivg.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}
	return defaultPath, false, nil
}

func loadDotEnv(configPath string) error {
	candidates := []string{".env"}
	if configPath != "" {
		candidates = append([]string{filepath.Join(filepath.Dir(configPath), ".env")}, candidates...)
	}
	var files []string
	seen := map[string]struct{}{}
	for _, candidate := range candidates {
		abs, err := filepath.Abs(candidate)
		if err != nil {
			continue
		}
		if _, ok := seen[abs]; ok {
			continue
		}
		seen[abs] = struct{}{}
		if info, err := os.Stat(abs); err == nil && !info.IsDir() {
			files = append(files, abs)
		}
	}
	if len(files) == 0 {
		return nil
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath is the sqlite file holding jobs and, for the sqlite driver,
// assets, styles and history.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "ivg.db")
}

// LockPath is the daemon lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "ivg.lock")
}

// ProviderTimeout returns the per-attempt provider timeout.
func (c *Config) ProviderTimeout() time.Duration {
	return seconds(c.Provider.TimeoutSeconds)
}

// BackoffBase returns the first retry delay.
func (c *Config) BackoffBase() time.Duration {
	return seconds(c.Provider.BackoffBaseSeconds)
}

// BackoffMax returns the retry delay cap.
func (c *Config) BackoffMax() time.Duration {
	return seconds(c.Provider.BackoffMaxSeconds)
}

// BreakerWindow returns the failure counting window.
func (c *Config) BreakerWindow() time.Duration {
	return seconds(c.Provider.BreakerWindowSeconds)
}

// BreakerCooldown returns how long an open breaker rejects calls.
func (c *Config) BreakerCooldown() time.Duration {
	return seconds(c.Provider.BreakerCooldownSeconds)
}

// StreamIdleTimeout bounds how long a job stream may stay silent.
func (c *Config) StreamIdleTimeout() time.Duration {
	return time.Duration(c.API.StreamIdleTimeoutSeconds) * time.Second
}

// MaxUploadBytes returns the upload size limit.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.API.MaxUploadMB) * 1024 * 1024
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Sample returns the embedded sample configuration.
func Sample() string {
	return sampleConfig
}
