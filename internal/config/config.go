package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file the CLI looks for when --config is not set.
const DefaultPath = "atmoscope.yaml"

// Config holds all atmoscope configuration.
type Config struct {
	Simulator SimulatorConfig `yaml:"simulator"`
	Defaults  DefaultsConfig  `yaml:"defaults"`
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DefaultsConfig holds the compute request values used when the caller
// leaves a field empty.
type DefaultsConfig struct {
	Gas1     string `yaml:"gas1"`
	Gas2     string `yaml:"gas2"`
	Gas3     string `yaml:"gas3"`
	Mixt1    string `yaml:"mixt1"`
	Mixt2    string `yaml:"mixt2"`
	Thirt1   string `yaml:"thirt1"`
	Thirt2   string `yaml:"thirt2"`
	Ticks    string `yaml:"ticks"`
	DoRetest bool   `yaml:"doretest"`
}

// ServerConfig configures the websocket bridge.
type ServerConfig struct {
	Listen         string   `yaml:"listen"`
	MaxConnections int      `yaml:"max_connections"`
	AllowedOrigins []string `yaml:"allowed_origins,omitempty"`
}

// StoreConfig configures run history.
type StoreConfig struct {
	DatabasePath string `yaml:"database_path"`

	// Record saves every job, not only those run with --record.
	Record bool `yaml:"record"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Simulator: SimulatorConfig{
			Binary:             "atmosim",
			WorkingDirectory:   ".",
			Timeout:            "2m",
			AllowedEnvVars:     []string{"PATH", "HOME", "TMPDIR"},
			MaxTranscriptBytes: 4 << 20,
		},

		Defaults: DefaultsConfig{
			Gas1:   "plasma",
			Gas2:   "tritium",
			Gas3:   "oxygen",
			Mixt1:  "70",
			Mixt2:  "1000",
			Thirt1: "200",
			Thirt2: "300",
		},

		Server: ServerConfig{
			Listen:         "127.0.0.1:8765",
			MaxConnections: 64,
		},

		Store: StoreConfig{
			DatabasePath: "data/atmoscope.db",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults; environment overrides apply either way.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if bin := os.Getenv("ATMOSCOPE_SIMULATOR"); bin != "" {
		c.Simulator.Binary = bin
	}
	if path := os.Getenv("ATMOSCOPE_DB"); path != "" {
		c.Store.DatabasePath = path
	}
	if addr := os.Getenv("ATMOSCOPE_LISTEN"); addr != "" {
		c.Server.Listen = addr
	}
	if level := os.Getenv("ATMOSCOPE_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
		c.Logging.DebugMode = true
	}
}

// GetSimulatorTimeout returns the simulator timeout as a duration.
func (c *Config) GetSimulatorTimeout() time.Duration {
	d, err := time.ParseDuration(c.Simulator.Timeout)
	if err != nil {
		return 2 * time.Minute
	}
	return d
}

// ValidLogFormats lists the accepted logging.format values.
var ValidLogFormats = []string{"json", "console"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Simulator.Binary) == "" {
		errs = append(errs, errors.New("simulator.binary is required"))
	}
	if c.Simulator.Timeout != "" {
		if d, err := time.ParseDuration(c.Simulator.Timeout); err != nil {
			errs = append(errs, fmt.Errorf("simulator.timeout: %w", err))
		} else if d <= 0 {
			errs = append(errs, fmt.Errorf("simulator.timeout must be positive, got %s", d))
		}
	}
	if c.Simulator.MaxTranscriptBytes < 0 {
		errs = append(errs, fmt.Errorf("simulator.max_transcript_bytes must not be negative"))
	}
	if c.Server.Listen == "" {
		errs = append(errs, errors.New("server.listen is required"))
	}
	if c.Server.MaxConnections < 0 {
		errs = append(errs, errors.New("server.max_connections must not be negative"))
	}
	if c.Logging.Format != "" {
		valid := false
		for _, f := range ValidLogFormats {
			if c.Logging.Format == f {
				valid = true
				break
			}
		}
		if !valid {
			errs = append(errs, fmt.Errorf("invalid logging.format: %s (valid: %v)", c.Logging.Format, ValidLogFormats))
		}
	}

	return errors.Join(errs...)
}
