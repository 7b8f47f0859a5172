package session

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/gridnode/gridnode/pkg/rest"
	"github.com/gridnode/gridnode/pkg/storage"
	"github.com/gridnode/gridnode/pkg/telemetry"
)

// Config is the full session configuration.
type Config struct {
	// API configures the remote node endpoints and demand defaults.
	API rest.Config `yaml:"api"`

	// Telemetry configures logging, tracing and metrics.
	Telemetry telemetry.Config `yaml:"telemetry"`

	// Storage configures the SFTP transfer provider. Nil disables file
	// transfer commands.
	Storage *storage.SFTPConfig `yaml:"storage"`

	// JournalPath is the SQLite file recording the session's negotiation
	// history. Empty disables the journal.
	JournalPath string `yaml:"journal_path"`
}

// DefaultConfig returns a config populated from environment variables where
// set, falling back to local-node defaults.
func DefaultConfig() Config {
	return Config{
		API:         rest.DefaultConfig(),
		Telemetry:   telemetry.DefaultConfig(),
		JournalPath: os.Getenv("GRIDNODE_JOURNAL"),
	}
}

// LoadConfig reads a YAML config file over the environment defaults and
// validates the result.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.API.Validate(); err != nil {
		return Config{}, err
	}
	if err := cfg.Telemetry.Validate(); err != nil {
		return Config{}, err
	}
	if cfg.Storage != nil {
		if err := cfg.Storage.Validate(); err != nil {
			return Config{}, err
		}
	}
	return cfg, nil
}
