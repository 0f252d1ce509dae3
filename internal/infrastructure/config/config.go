// Package config holds kernel configuration: environment-driven tunables
// and the TOML boot manifest describing what to run.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
)

// Config holds all kernel configuration.
type Config struct {
	Machine MachineConfig
	Logging LogConfig
	Monitor MonitorConfig
}

// MachineConfig sizes the simulated machine.
type MachineConfig struct {
	UserPages    int           `envconfig:"USER_PAGES" default:"1024"`
	MaxThreads   int           `envconfig:"MAX_THREADS" default:"512"`
	TickInterval time.Duration `envconfig:"TICK_INTERVAL" default:"1ms"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// MonitorConfig holds the debug HTTP server configuration.
type MonitorConfig struct {
	Enabled bool   `envconfig:"MONITOR_ENABLED" default:"false"`
	Port    string `envconfig:"MONITOR_PORT" default:"9090"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns defaults.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Machine: MachineConfig{
			UserPages:    1024,
			MaxThreads:   512,
			TickInterval: time.Millisecond,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		Monitor: MonitorConfig{
			Enabled: false,
			Port:    "9090",
		},
	}
}

// BootManifest describes the machine's initial file store contents and
// the init command line, read from a TOML file at boot.
type BootManifest struct {
	Init  string     `toml:"init"` // command line of the first process
	Files []BootFile `toml:"files"`
}

// BootFile preloads one file into the store.
type BootFile struct {
	Name string `toml:"name"`
	Path string `toml:"path"` // host path of the contents
}

// LoadManifest reads a boot manifest.
func LoadManifest(path string) (*BootManifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read boot manifest: %w", err)
	}
	var m BootManifest
	if err := toml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to parse boot manifest: %w", err)
	}
	return &m, nil
}
