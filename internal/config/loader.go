package config

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. RELAY_SERVER_PORT
const EnvPrefix = "RELAY_"

// LoadOptions represents options for loading configuration
type LoadOptions struct {
	// Path is an optional YAML or JSON config file
	Path string
	// EnvFile is loaded into the environment when present. Defaults to ".env".
	EnvFile string
	// Environ replaces the process environment, for tests
	Environ map[string]string
}

// Load loads configuration from defaults, file, .env and environment, in
// increasing order of precedence
func Load(opts ...LoadOptions) (*Config, error) {
	cfg := Default()

	var options LoadOptions
	if len(opts) > 0 {
		options = opts[0]
	}

	if options.Path != "" {
		if err := loadFromFile(cfg, options.Path); err != nil {
			return nil, err
		}
	}

	if options.Environ == nil {
		if err := loadEnvFile(options.EnvFile); err != nil {
			return nil, err
		}
	}

	if err := loadFromEnv(cfg, options.Environ); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFromFile loads configuration from a file
func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse JSON config: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file format: %s", ext)
	}

	return nil
}

// loadEnvFile loads a dotenv file without overriding variables already set
func loadEnvFile(path string) error {
	explicit := path != ""
	if !explicit {
		path = ".env"
	}

	if err := godotenv.Load(path); err != nil {
		if !explicit && stderrors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// loadFromEnv applies RELAY_* overrides
func loadFromEnv(cfg *Config, environ map[string]string) error {
	options := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		options.Environment = environ
	}

	if err := env.ParseWithOptions(cfg, options); err != nil {
		return fmt.Errorf("failed to parse environment: %w", err)
	}

	if len(cfg.WebRTC.ICEURLs) > 0 {
		cfg.WebRTC.ICEServers = []ICEServer{{URLs: cfg.WebRTC.ICEURLs}}
	}

	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

// NewConfigError creates a new configuration error
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{
		Field:   field,
		Message: message,
	}
}

// Error implements the error interface
func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error in field '%s': %s", e.Field, e.Message)
}
