// Package config loads and hot-reloads the host's YAML configuration:
// group registration, container runner timers, the two auth lanes, the
// Telegram channel, and the cron scheduler.
package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// GroupConfigEntry registers a group_folder and its lane class at startup.
type GroupConfigEntry struct {
	GroupFolder string   `yaml:"group_folder"`
	LaneClass   string   `yaml:"lane_class"` // main | controller-developer | controller-observer | worker
	Image       string   `yaml:"image"`
	Mounts      []string `yaml:"mounts"`
	SecretScope string   `yaml:"secret_scope"`
}

// RunnerConfig holds the Container Runner's three-timer model and the
// global concurrency cap.
type RunnerConfig struct {
	NoOutputTimeoutSeconds int `yaml:"no_output_timeout_seconds"`
	IdleTimeoutSeconds     int `yaml:"idle_timeout_seconds"`
	HardTimeoutSeconds     int `yaml:"hard_timeout_seconds"`
	MaxConcurrentContainers int `yaml:"max_concurrent_containers"`
}

// AuthLaneConfig holds the two named credential sets the Agent Runner
// switches between on a rate-limit signal.
type AuthLaneConfig struct {
	PrimaryAPIKeyEnv  string   `yaml:"primary_api_key_env"`
	FallbackAPIKeyEnv string   `yaml:"fallback_api_key_env"`
	FallbackEnabled   bool     `yaml:"fallback_enabled"`
	// ApprovedFallbackLanes lists the lane classes allowed to use auth-lane
	// fallback. Workers never fall back, regardless of this list.
	ApprovedFallbackLanes []string `yaml:"approved_fallback_lanes"`
}

// TelegramConfig configures the chat channel driver.
type TelegramConfig struct {
	Token      string  `yaml:"token"`
	AllowedIDs []int64 `yaml:"allowed_ids"`
	Enabled    bool    `yaml:"enabled"`
}

// ChannelsConfig groups external chat channel drivers.
type ChannelsConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// CronConfig configures the scheduled_tasks minute-tick scanner.
type CronConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Config is the host's fully resolved configuration.
type Config struct {
	HomeDir string `yaml:"-"`

	LogLevel string `yaml:"log_level"`

	Groups []GroupConfigEntry `yaml:"groups"`
	Runner RunnerConfig        `yaml:"runner"`
	Auth   AuthLaneConfig      `yaml:"auth"`

	Channels ChannelsConfig `yaml:"channels"`
	Cron     CronConfig     `yaml:"cron"`

	// ReloadInstructionsForNonMainLanes resolves the Open Question on
	// CLAUDE.md-equivalent instruction reload: the main lane's instructions
	// are injected once by the SDK itself, so only non-main lanes re-read
	// AGENTS.md on every turn.
	ReloadInstructionsForNonMainLanes bool `yaml:"reload_instructions_for_non_main_lanes"`

	AGENTS string `yaml:"-"`

	NeedsGenesis bool `yaml:"-"`
}

// ConfigPath returns the path to config.yaml within the given home directory.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

func defaultConfig() Config {
	return Config{
		LogLevel: "info",
		Runner: RunnerConfig{
			NoOutputTimeoutSeconds:  int((12 * time.Minute).Seconds()),
			IdleTimeoutSeconds:      int((5 * time.Minute).Seconds()),
			HardTimeoutSeconds:      int((30 * time.Minute).Seconds()),
			MaxConcurrentContainers: 4,
		},
		Auth: AuthLaneConfig{
			PrimaryAPIKeyEnv:      "ANTHROPIC_API_KEY_PRIMARY",
			FallbackAPIKeyEnv:     "ANTHROPIC_API_KEY_FALLBACK",
			FallbackEnabled:       true,
			ApprovedFallbackLanes: []string{"main", "controller-developer", "controller-observer"},
		},
		Cron:                              CronConfig{Enabled: true},
		ReloadInstructionsForNonMainLanes: true,
	}
}

// HomeDir returns the host's data directory, honoring NANOCLAW_HOME.
func HomeDir() string {
	if override := os.Getenv("NANOCLAW_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".nanoclaw")
}

func Load() (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = HomeDir()

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create nanoclaw home: %w", err)
	}

	configPath := ConfigPath(cfg.HomeDir)
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.NeedsGenesis = true
		} else {
			return cfg, fmt.Errorf("read config.yaml: %w", err)
		}
	} else if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	loadTextFiles(&cfg)
	normalize(&cfg)
	if err := validateGroups(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func normalize(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Runner.NoOutputTimeoutSeconds <= 0 {
		cfg.Runner.NoOutputTimeoutSeconds = int((12 * time.Minute).Seconds())
	}
	if cfg.Runner.IdleTimeoutSeconds <= 0 {
		cfg.Runner.IdleTimeoutSeconds = int((5 * time.Minute).Seconds())
	}
	if cfg.Runner.HardTimeoutSeconds < int((30 * time.Minute).Seconds()) {
		cfg.Runner.HardTimeoutSeconds = int((30 * time.Minute).Seconds())
	}
	if cfg.Runner.MaxConcurrentContainers <= 0 {
		cfg.Runner.MaxConcurrentContainers = 4
	}
	if cfg.Auth.PrimaryAPIKeyEnv == "" {
		cfg.Auth.PrimaryAPIKeyEnv = "ANTHROPIC_API_KEY_PRIMARY"
	}
	if cfg.Auth.FallbackAPIKeyEnv == "" {
		cfg.Auth.FallbackAPIKeyEnv = "ANTHROPIC_API_KEY_FALLBACK"
	}
}

// validateGroups rejects a group_folder registered under more than one lane
// class and an unknown lane class.
func validateGroups(cfg *Config) error {
	seen := make(map[string]string, len(cfg.Groups))
	for _, g := range cfg.Groups {
		switch g.LaneClass {
		case "main", "controller-developer", "controller-observer", "worker":
		default:
			return fmt.Errorf("group %q has unknown lane_class %q", g.GroupFolder, g.LaneClass)
		}
		if prior, ok := seen[g.GroupFolder]; ok {
			return fmt.Errorf("group %q registered twice (lane_class %q and %q)", g.GroupFolder, prior, g.LaneClass)
		}
		seen[g.GroupFolder] = g.LaneClass
	}
	return nil
}

// Fingerprint returns a stable hash of the active config.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "log=%s|no_output=%d|idle=%d|hard=%d|max_containers=%d|groups=%d",
		c.LogLevel, c.Runner.NoOutputTimeoutSeconds, c.Runner.IdleTimeoutSeconds,
		c.Runner.HardTimeoutSeconds, c.Runner.MaxConcurrentContainers, len(c.Groups))
	return fmt.Sprintf("cfg-%x", h.Sum64())
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("NANOCLAW_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("MAX_CONCURRENT_CONTAINERS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Runner.MaxConcurrentContainers = v
		}
	}
	if raw := os.Getenv("TELEGRAM_BOT_TOKEN"); raw != "" {
		cfg.Channels.Telegram.Token = raw
		cfg.Channels.Telegram.Enabled = true
	}
}

func loadTextFiles(cfg *Config) {
	agentsPath := filepath.Join(cfg.HomeDir, "AGENTS.md")
	if b, err := os.ReadFile(agentsPath); err == nil {
		cfg.AGENTS = string(b)
	}
}
