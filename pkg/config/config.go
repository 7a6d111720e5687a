// Package config loads the service configuration and validates
// inbound run requests before any engine process is spawned.
package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/opsforge/opsforge/pkg/telemetry"
)

// Config is the service configuration.
type Config struct {
	// ListenAddress is the HTTP listen address for serve mode.
	ListenAddress string `yaml:"listen_address" validate:"required"`

	// EngineBinary is the automation engine executable.
	EngineBinary string `yaml:"engine_binary" validate:"required"`

	// PlaybookRoot is the directory holding playbooks and role trees.
	PlaybookRoot string `yaml:"playbook_root" validate:"required"`

	// ScratchDir holds per-run inventory files.
	ScratchDir string `yaml:"scratch_dir" validate:"required"`

	// KeyDir holds per-run ephemeral key files. Empty uses the system
	// temporary directory.
	KeyDir string `yaml:"key_dir"`

	// StorePath is the SQLite database path for run history.
	StorePath string `yaml:"store_path" validate:"required"`

	// Telemetry configures logging, metrics, and tracing.
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		ListenAddress: ":8780",
		EngineBinary:  "ansible-playbook",
		PlaybookRoot:  "playbooks",
		ScratchDir:    os.TempDir(),
		StorePath:     "opsforge.db",
		Telemetry:     telemetry.DefaultConfig(),
	}
}

// Load reads the configuration file at path, applies it over the
// defaults, and validates the result. An empty path returns the
// defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
