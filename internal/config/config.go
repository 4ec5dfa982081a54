package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Library  string   `yaml:"library"`
	DataDir  string   `yaml:"data_dir"`
	AI       AI       `yaml:"ai"`
	Naming   Naming   `yaml:"naming"`
	Classify Classify `yaml:"classify"`
	Extract  Extract  `yaml:"extract"`
	Run      Run      `yaml:"run"`
	Learning Learning `yaml:"learning"`
	Logging  Logging  `yaml:"logging"`
}

type AI struct {
	Provider           string   `yaml:"provider"`
	Models             []string `yaml:"models"`
	APIKeyEnv          string   `yaml:"api_key_env"`
	BaseURL            string   `yaml:"base_url"`
	MaxKeyCycles       int      `yaml:"max_key_cycles"`
	BackoffBaseSeconds float64  `yaml:"backoff_base_seconds"`
	BackoffMaxSeconds  float64  `yaml:"backoff_max_seconds"`
	BackoffJitter      float64  `yaml:"backoff_jitter"`
	StrictQuota        bool     `yaml:"strict_quota"`
	ExcerptChars       int      `yaml:"excerpt_chars"`
	MinConfidence      float64  `yaml:"min_confidence"`
	MaxTokens          int      `yaml:"max_tokens"`
}

type Naming struct {
	MaxLength int `yaml:"max_length"`
}

type Classify struct {
	SegmentFloor  int    `yaml:"segment_floor"`
	MaxWordLength int    `yaml:"max_word_length"`
	JournalKey    string `yaml:"journal_key"`
}

type Extract struct {
	MaxPages        int `yaml:"max_pages"`
	StructuralPages int `yaml:"structural_pages"`
	MinChars        int `yaml:"min_chars"`
}

type Run struct {
	MaxCycles       int     `yaml:"max_cycles"`
	CooldownMinutes float64 `yaml:"cooldown_minutes"`
	Concurrency     int     `yaml:"concurrency"`
	CacheTTLHours   float64 `yaml:"cache_ttl_hours"`
}

type Learning struct {
	MinEntries       int     `yaml:"min_entries"`
	FailureThreshold float64 `yaml:"failure_threshold"`
}

type Logging struct {
	Level string `yaml:"level"`
}

// ConfigDir returns the XDG config directory for biblionamer.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "biblionamer")
}

// DataDir returns the XDG data directory for biblionamer.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "biblionamer")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/biblionamer/config.yaml > ./config.yaml.
// An empty path with a nil error means no file exists and the embedded
// defaults apply.
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", nil
}

// Resolve loads the config found by ResolveConfigPath, or the embedded
// defaults when there is none.
func Resolve(explicit string) (*Config, string, error) {
	path, err := ResolveConfigPath(explicit)
	if err != nil {
		return nil, "", err
	}
	if path == "" {
		cfg, err := parse(DefaultConfigYAML)
		return cfg, "", err
	}
	cfg, err := Load(path)
	return cfg, path, err
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		AI: AI{
			Provider:           "gemini",
			Models:             []string{"gemini-2.5-flash", "gemini-2.0-flash", "gemini-2.0-flash-lite"},
			APIKeyEnv:          "GEMINI_API_KEY",
			MaxKeyCycles:       6,
			BackoffBaseSeconds: 10,
			BackoffMaxSeconds:  120,
			BackoffJitter:      0.2,
			StrictQuota:        true,
			ExcerptChars:       8000,
			MinConfidence:      0.7,
			MaxTokens:          1024,
		},
		Naming:   Naming{MaxLength: 150},
		Classify: Classify{SegmentFloor: 16, MaxWordLength: 30, JournalKey: "relative"},
		Extract:  Extract{MaxPages: 5, StructuralPages: 2, MinChars: 100},
		Run:      Run{MaxCycles: 5, CooldownMinutes: 1, Concurrency: 5, CacheTTLHours: 24},
		Learning: Learning{MinEntries: 20, FailureThreshold: 0.10},
		Logging:  Logging{Level: "info"},
	}
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := Defaults()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects values the pipeline cannot run with.
func (c *Config) Validate() error {
	switch c.AI.Provider {
	case "gemini", "openai":
	default:
		return fmt.Errorf("ai.provider: unknown provider %q", c.AI.Provider)
	}
	if len(c.AI.Models) == 0 {
		return fmt.Errorf("ai.models: at least one model is required")
	}
	if c.AI.APIKeyEnv == "" {
		return fmt.Errorf("ai.api_key_env: must name an environment variable")
	}
	if c.AI.MinConfidence < 0 || c.AI.MinConfidence > 1 {
		return fmt.Errorf("ai.min_confidence: %v is outside [0, 1]", c.AI.MinConfidence)
	}
	if c.AI.BackoffJitter < 0 || c.AI.BackoffJitter >= 1 {
		return fmt.Errorf("ai.backoff_jitter: %v is outside [0, 1)", c.AI.BackoffJitter)
	}
	switch c.Classify.JournalKey {
	case "relative", "basename":
	default:
		return fmt.Errorf("classify.journal_key: must be relative or basename, got %q", c.Classify.JournalKey)
	}
	if c.Run.MaxCycles < 1 {
		return fmt.Errorf("run.max_cycles: must be at least 1")
	}
	if c.Run.Concurrency < 1 {
		return fmt.Errorf("run.concurrency: must be at least 1")
	}
	return nil
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.DataDir != "" {
		return c.DataDir
	}
	return DataDir()
}

// LibraryDir returns the directory activated when none is given, with a
// leading "~/" expanded. The default is ~/Documents/Library.
func (c *Config) LibraryDir() string {
	dir := c.Library
	if dir == "" {
		return filepath.Join(homeDir(), "Documents", "Library")
	}
	if rest, ok := strings.CutPrefix(dir, "~/"); ok {
		return filepath.Join(homeDir(), rest)
	}
	return dir
}

// Cooldown returns the pause between cycles that saw failures.
func (c *Config) Cooldown() time.Duration {
	return seconds(c.Run.CooldownMinutes * 60)
}

// CacheTTL returns how long cached analyses stay valid.
func (c *Config) CacheTTL() time.Duration {
	return seconds(c.Run.CacheTTLHours * 3600)
}

// BackoffBase returns the first exhaustion backoff.
func (c *Config) BackoffBase() time.Duration {
	return seconds(c.AI.BackoffBaseSeconds)
}

// BackoffMax returns the backoff cap.
func (c *Config) BackoffMax() time.Duration {
	return seconds(c.AI.BackoffMaxSeconds)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
