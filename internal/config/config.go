package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
)

type Config struct {
	DataDir       string `json:"data_dir"`
	LogLevel      string `json:"log_level"`
	MaxConcurrent int    `json:"max_concurrent"`
	LaneSize      int    `json:"lane_size"`
	Server        struct {
		BaseURL        string `json:"base_url"`
		StreamPath     string `json:"stream_path"`
		TimeoutSeconds int    `json:"timeout_seconds"`
	} `json:"server"`
	Stream struct {
		Sentinel string `json:"sentinel"`
		Capture  bool   `json:"capture"`
	} `json:"stream"`
	Tokenizer struct {
		Model string `json:"model"`
	} `json:"tokenizer"`
	Fixture struct {
		Addr       string `json:"addr"`
		ScriptsDir string `json:"scripts_dir"`
	} `json:"fixture"`
}

// Default returns the configuration used when no file exists yet.
func Default() *Config {
	home, _ := os.UserHomeDir()
	cfg := &Config{
		DataDir:       filepath.Join(home, ".chatstream"),
		LogLevel:      "info",
		MaxConcurrent: 4,
		LaneSize:      32,
	}
	cfg.Server.BaseURL = "http://127.0.0.1:8088"
	cfg.Server.StreamPath = "/chat/stream"
	cfg.Server.TimeoutSeconds = 0
	cfg.Stream.Sentinel = "done"
	cfg.Stream.Capture = true
	cfg.Tokenizer.Model = "gpt-4"
	cfg.Fixture.Addr = "127.0.0.1:8088"
	return cfg
}

func Load(path string) (*Config, error) {
	cfg := Default()

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if os.IsNotExist(err) {
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	}

	// Override from env (highest precedence)
	if baseURL := os.Getenv("CHATSTREAM_BASE_URL"); baseURL != "" {
		cfg.Server.BaseURL = baseURL
	}
	if level := os.Getenv("CHATSTREAM_LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}
	if dataDir := os.Getenv("CHATSTREAM_DATA_DIR"); dataDir != "" {
		cfg.DataDir = dataDir
	}

	return cfg, nil
}

// Validate reports the first setting that cannot be used.
func (c *Config) Validate() error {
	if c.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", c.MaxConcurrent)
	}
	if c.LaneSize < 1 {
		return fmt.Errorf("lane_size must be at least 1, got %d", c.LaneSize)
	}
	u, err := url.Parse(c.Server.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("server.base_url must be an absolute URL, got %q", c.Server.BaseURL)
	}
	if c.Server.TimeoutSeconds < 0 {
		return fmt.Errorf("server.timeout_seconds must not be negative")
	}
	return nil
}

// Save writes cfg to path atomically, creating the parent directory.
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeAtomic(path, data)
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// ToMap converts cfg to its nested JSON map form.
func ToMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return m, nil
}

// ListValues returns cfg as a flat map keyed by dotted paths.
func ListValues(cfg *Config) (map[string]any, error) {
	m, err := ToMap(cfg)
	if err != nil {
		return nil, err
	}
	return Flatten(m), nil
}

// GetValue loads the config at path and returns the value at the dotted key.
func GetValue(path, key string) (any, error) {
	if _, err := Load(path); err != nil {
		return nil, err
	}
	flat, err := readFlat(path)
	if err != nil {
		return nil, err
	}
	v, ok := flat[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	return v, nil
}

// SetValue stores value at the dotted key in the existing config file.
// Values that parse as JSON (numbers, booleans) keep their type; anything
// else is stored as a string. Unknown keys are preserved in the file.
func SetValue(path, key, value string) error {
	flat, err := readFlat(path)
	if err != nil {
		return err
	}

	var parsed any
	if err := json.Unmarshal([]byte(value), &parsed); err != nil {
		parsed = value
	}
	flat[key] = parsed

	data, err := json.MarshalIndent(Unflatten(flat), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeAtomic(path, data)
}

func readFlat(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return Flatten(m), nil
}
