// Package bconfig loads the orchestration bridge's configuration: the
// per-component tunables of the phase machine, delegation enforcer,
// concurrency limiter, supervisor, sidecar, and observability stack.
// It follows the teacher's koanf precedence and filesystem-security
// posture (internal/config/loader.go): environment variables override
// the YAML file, which overrides hardcoded defaults.
package bconfig

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const maxConfigFileSize = 1024 * 1024 // 1MB

// OrchestratorConfig tunes the per-request phase state machine (C2).
type OrchestratorConfig struct {
	MaxCritiques int  `koanf:"max_critiques"`
	StrictMode   bool `koanf:"strict_mode"`
	GateEnabled  bool `koanf:"gate_enabled"`
}

// DelegationConfig tunes the Delegation Enforcer (C4).
type DelegationConfig struct {
	WindowMS int64 `koanf:"window_ms"`
	Strict   bool  `koanf:"strict"`
}

// ConcurrencyConfig tunes the Concurrency Limiter (C7).
type ConcurrencyConfig struct {
	KindCapacity map[string]int64 `koanf:"kind_capacity"`
	RateLimit    int              `koanf:"rate_limit"`
	RateWindowMS int64            `koanf:"rate_window_ms"`
}

// SupervisorConfig tunes the Agent Supervisor (C6).
type SupervisorConfig struct {
	StartTimeout  time.Duration `koanf:"start_timeout"`
	GracePeriod   time.Duration `koanf:"grace_period"`
	MaxRetries    int           `koanf:"max_retries"`
	ProgressBytes int           `koanf:"progress_bytes"`
}

// SidecarConfig tunes the best-effort per-request persistence sidecar.
type SidecarConfig struct {
	Enabled bool   `koanf:"enabled"`
	Dir     string `koanf:"dir"`
}

// ObservabilityConfig toggles the logging and metrics stack.
type ObservabilityConfig struct {
	LogLevel    string `koanf:"log_level"`
	LogFormat   string `koanf:"log_format"`
	MetricsAddr string `koanf:"metrics_addr"`
}

// Config is the bridge's full configuration tree.
type Config struct {
	Orchestrator  OrchestratorConfig  `koanf:"orchestrator"`
	Delegation    DelegationConfig    `koanf:"delegation"`
	Concurrency   ConcurrencyConfig   `koanf:"concurrency"`
	Supervisor    SupervisorConfig    `koanf:"supervisor"`
	Sidecar       SidecarConfig       `koanf:"sidecar"`
	Observability ObservabilityConfig `koanf:"observability"`
}

// Validate checks the loaded configuration for obviously unusable
// values before the bridge starts serving requests.
func (c *Config) Validate() error {
	if c.Orchestrator.MaxCritiques < 0 {
		return fmt.Errorf("orchestrator.max_critiques must be >= 0, got %d", c.Orchestrator.MaxCritiques)
	}
	if c.Delegation.WindowMS < 0 {
		return fmt.Errorf("delegation.window_ms must be >= 0, got %d", c.Delegation.WindowMS)
	}
	if c.Concurrency.RateLimit <= 0 {
		return fmt.Errorf("concurrency.rate_limit must be > 0, got %d", c.Concurrency.RateLimit)
	}
	return nil
}

// defaultsYAML is the bottom layer of the koanf stack, overridden by
// the config file and then by environment variables. Booleans live
// here rather than in applyDefaults so an explicit false in the file
// survives.
const defaultsYAML = `
orchestrator:
  max_critiques: 3
  strict_mode: true
  gate_enabled: false
delegation:
  window_ms: 500
  strict: true
concurrency:
  rate_limit: 30
  rate_window_ms: 60000
supervisor:
  start_timeout: 30s
  grace_period: 2s
  progress_bytes: 4096
observability:
  log_level: info
  log_format: json
`

// applyDefaults fills the values that cannot be expressed statically:
// the home-relative sidecar directory and the cost-tier capacity map.
func applyDefaults(cfg *Config) {
	if cfg.Concurrency.KindCapacity == nil {
		cfg.Concurrency.KindCapacity = map[string]int64{
			"cheap": 10, "medium": 5, "expensive": 3,
		}
	}
	if cfg.Sidecar.Dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.Sidecar.Dir = filepath.Join(home, ".local", "state", "bridgeorch", "sidecar")
		}
	}
}

// defaultConfigPath returns ~/.config/bridgeorch/config.yaml.
func defaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "bridgeorch", "config.yaml"), nil
}

// Load reads configuration from configPath (or the default path, if
// empty), overlays environment variables, applies defaults, and
// validates the result. Environment variables win over the file, which
// wins over defaults.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(rawbytes.Provider([]byte(defaultsYAML)), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load default config: %w", err)
	}

	if configPath == "" {
		var err error
		configPath, err = defaultConfigPath()
		if err != nil {
			return nil, err
		}
	}

	if err := validateConfigPath(configPath); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}

	if _, err := os.Stat(configPath); err == nil {
		f, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		if err := validateConfigFileProperties(info); err != nil {
			return nil, fmt.Errorf("config file validation failed: %w", err)
		}

		content, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("BRIDGEORCH_", ".", func(s string) string {
		trimmed := strings.TrimPrefix(s, "BRIDGEORCH_")
		lower := strings.ToLower(trimmed)
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// EnsureConfigDir creates ~/.config/bridgeorch with owner-only
// permissions if it does not already exist.
func EnsureConfigDir() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}
	dir := filepath.Join(home, ".config", "bridgeorch")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", dir, err)
	}
	return nil
}

func validateConfigPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	resolvedPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		resolvedPath = absPath
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}
	allowedDirs := []string{
		filepath.Join(home, ".config", "bridgeorch"),
		"/etc/bridgeorch",
	}
	for _, dir := range allowedDirs {
		if strings.HasPrefix(resolvedPath, dir) {
			return nil
		}
	}
	return fmt.Errorf("config file must be in ~/.config/bridgeorch/ or /etc/bridgeorch/")
}

func validateConfigFileProperties(info os.FileInfo) error {
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}
