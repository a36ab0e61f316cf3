package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const envPrefix = "QRUN"

// Config holds runtime settings read from QRUN_* environment variables.
// The groups are embedded so every key sits directly under the prefix.
type Config struct {
	LogConfig
	RunConfig
	DaemonConfig

	// Profiles is an optional YAML file with tool profiles.
	Profiles string `envconfig:"PROFILES"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"warn"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RunConfig holds child process settings.
type RunConfig struct {
	KillGrace time.Duration `envconfig:"KILL_GRACE" default:"5s"`
}

// DaemonConfig holds daemon settings.
type DaemonConfig struct {
	SocketDir     string `envconfig:"SOCKET_DIR"`
	MaxLogEntries int    `envconfig:"MAX_LOG_ENTRIES" default:"10000"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.SocketDir == "" {
		cfg.SocketDir = DefaultSocketDir()
	}
	return &cfg, nil
}

// DefaultSocketDir is ~/.qrun, or a directory under the system temp dir
// when there is no home directory.
func DefaultSocketDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(os.TempDir(), "qrun")
	}
	return filepath.Join(home, ".qrun")
}
