package service

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/vecdex/vecdex/backend"
	"github.com/vecdex/vecdex/backend/mem"
	"github.com/vecdex/vecdex/backend/sqlitevec"
)

// Backend kinds accepted in configuration.
const (
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Config defines the engine settings loaded at application startup.
type Config struct {
	// BasePath is the directory holding models/ and documents/ index files.
	BasePath string `yaml:"basePath"`
	// DefaultModel and DefaultDimension select the vector space used when a
	// request does not name one.
	DefaultModel     string `yaml:"defaultModel"`
	DefaultDimension int    `yaml:"defaultDimension"`
	// Backend picks the storage strategy: sqlite (default) or memory.
	Backend string `yaml:"backend"`
	// VecModule overrides the accelerated virtual table module name.
	VecModule string `yaml:"vecModule,omitempty"`
}

// LoadConfig reads a YAML config and expands user-relative paths.
func LoadConfig(path string) (*Config, error) {
	path, err := expandUserPath(path)
	if err != nil {
		return nil, err
	}
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(payload, &cfg); err != nil {
		return nil, err
	}
	if cfg.BasePath != "" {
		expanded, err := expandUserPath(cfg.BasePath)
		if err != nil {
			return nil, err
		}
		cfg.BasePath = expanded
	}
	if cfg.Backend == "" {
		cfg.Backend = BackendSQLite
	}
	return &cfg, nil
}

// Factory returns the backend factory for the configured kind.
func (c *Config) Factory() (backend.Factory, error) {
	switch c.Backend {
	case "", BackendSQLite:
		return sqlitevec.Factory, nil
	case BackendMemory:
		return mem.Factory, nil
	default:
		return nil, fmt.Errorf("service: unknown backend %q", c.Backend)
	}
}

// Ext returns the index file extension for the configured backend.
func (c *Config) Ext() string {
	if c.Backend == BackendMemory {
		return mem.Ext
	}
	return sqlitevec.Ext
}

func expandUserPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return path, nil
	}
	if trimmed == "~" || strings.HasPrefix(trimmed, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		if trimmed == "~" {
			return home, nil
		}
		return filepath.Join(home, trimmed[2:]), nil
	}
	return trimmed, nil
}
