package config

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable of the helix binary. Values resolve in three
// layers: built-in defaults, the YAML settings file, then HELIX_* env vars.
// Duration fields hold Go duration strings like "30s"; the Get accessors
// parse them and fall back to defaults on bad input.
type Config struct {
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`

	MaxSteps      int    `yaml:"max_steps"`
	ToolTimeout   string `yaml:"tool_timeout"`
	MaxToolOutput int    `yaml:"max_tool_output"`

	RelayURL          string `yaml:"relay_url"`
	RelayAPIKey       string `yaml:"relay_api_key"`
	HeartbeatInterval string `yaml:"heartbeat_interval"`
	BackoffFloor      string `yaml:"backoff_floor"`
	BackoffCeiling    string `yaml:"backoff_ceiling"`

	ServerAddr string `yaml:"server_addr"`

	DangerousTools []string `yaml:"dangerous_tools"`

	MemoryPath  string `yaml:"memory_path"`
	JournalPath string `yaml:"journal_path"`
	StateDir    string `yaml:"state_dir"`
	WorkDir     string `yaml:"work_dir"`
}

func Default() Config {
	return Config{
		BaseURL:           "https://api.openai.com/v1",
		Model:             "gpt-4.1",
		MaxTokens:         4096,
		MaxSteps:          16,
		ToolTimeout:       "30s",
		MaxToolOutput:     64 * 1024,
		HeartbeatInterval: "30s",
		BackoffFloor:      "1s",
		BackoffCeiling:    "30s",
		ServerAddr:        "127.0.0.1:8466",
		DangerousTools:    []string{"exec", "write_file", "edit_file", "apply_patch"},
		MemoryPath:        filepath.Join(DefaultDataDir(), "spiral.db"),
		JournalPath:       filepath.Join(DefaultDataDir(), "journal.db"),
		StateDir:          filepath.Join(DefaultDataDir(), "state"),
	}
}

// Load reads the settings file at path (missing file is fine), applies env
// overrides, and clamps nonsense values back to defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return cfg, err
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	applyEnv(&cfg)

	if cfg.Model == "" {
		cfg.Model = "gpt-4.1"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = 16
	}
	if cfg.MaxSteps > 128 {
		cfg.MaxSteps = 128
	}
	if cfg.MaxToolOutput <= 0 {
		cfg.MaxToolOutput = 64 * 1024
	}
	if cfg.ServerAddr == "" {
		cfg.ServerAddr = "127.0.0.1:8466"
	}
	if len(cfg.DangerousTools) == 0 {
		cfg.DangerousTools = []string{"exec", "write_file", "edit_file", "apply_patch"}
	}
	if cfg.MemoryPath == "" {
		cfg.MemoryPath = filepath.Join(DefaultDataDir(), "spiral.db")
	}
	if cfg.JournalPath == "" {
		cfg.JournalPath = filepath.Join(DefaultDataDir(), "journal.db")
	}
	if cfg.StateDir == "" {
		cfg.StateDir = filepath.Join(DefaultDataDir(), "state")
	}
	if cfg.WorkDir == "" {
		if wd, err := os.Getwd(); err == nil {
			cfg.WorkDir = wd
		}
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("HELIX_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("HELIX_BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("HELIX_MODEL"); v != "" {
		cfg.Model = v
	}
	if v := os.Getenv("HELIX_MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxTokens = n
		}
	}
	if v := os.Getenv("HELIX_MAX_STEPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxSteps = n
		}
	}
	if v := os.Getenv("HELIX_TOOL_TIMEOUT"); v != "" {
		if _, err := time.ParseDuration(v); err == nil {
			cfg.ToolTimeout = v
		}
	}
	if v := os.Getenv("HELIX_RELAY_URL"); v != "" {
		cfg.RelayURL = v
	}
	if v := os.Getenv("HELIX_RELAY_API_KEY"); v != "" {
		cfg.RelayAPIKey = v
	}
	if v := os.Getenv("HELIX_HEARTBEAT_INTERVAL"); v != "" {
		if _, err := time.ParseDuration(v); err == nil {
			cfg.HeartbeatInterval = v
		}
	}
	if v := os.Getenv("HELIX_SERVER_ADDR"); v != "" {
		cfg.ServerAddr = v
	}
	if v := os.Getenv("HELIX_MEMORY_PATH"); v != "" {
		cfg.MemoryPath = v
	}
	if v := os.Getenv("HELIX_JOURNAL_PATH"); v != "" {
		cfg.JournalPath = v
	}
	if v := os.Getenv("HELIX_STATE_DIR"); v != "" {
		cfg.StateDir = v
	}
	if v := os.Getenv("HELIX_WORK_DIR"); v != "" {
		cfg.WorkDir = v
	}
}

// GetToolTimeout returns the per-call tool timeout as a duration.
func (c Config) GetToolTimeout() time.Duration {
	d, err := time.ParseDuration(c.ToolTimeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// GetHeartbeatInterval returns the relay heartbeat interval as a duration.
func (c Config) GetHeartbeatInterval() time.Duration {
	d, err := time.ParseDuration(c.HeartbeatInterval)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// GetBackoffFloor returns the relay reconnect floor as a duration.
func (c Config) GetBackoffFloor() time.Duration {
	d, err := time.ParseDuration(c.BackoffFloor)
	if err != nil || d <= 0 {
		return time.Second
	}
	return d
}

// GetBackoffCeiling returns the relay reconnect ceiling as a duration. A
// ceiling below the floor falls back to the default.
func (c Config) GetBackoffCeiling() time.Duration {
	d, err := time.ParseDuration(c.BackoffCeiling)
	if err != nil || d < c.GetBackoffFloor() {
		return 30 * time.Second
	}
	return d
}

func Save(cfg Config, path string) error {
	if path == "" {
		return errors.New("no path provided for config")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func DefaultPath() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(base, "helixmind", "settings.yaml")
}

func DefaultDataDir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "helixmind")
	}
	return filepath.Join(base, "helixmind")
}
