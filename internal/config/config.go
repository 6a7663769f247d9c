// Package config loads varyant settings from defaults, an optional YAML
// file and VARYANT_* environment variables, then validates them against
// an embedded CUE schema.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const (
	StoreSQLite  = "sqlite"
	StorePostHog = "posthog"

	EnvPrefix = "VARYANT"
)

type PostHog struct {
	Host      string `yaml:"host" json:"host" envconfig:"HOST"`
	ProjectID string `yaml:"project_id" json:"project_id" envconfig:"PROJECT_ID"`
	APIKey    string `yaml:"api_key" json:"api_key" envconfig:"API_KEY"`
}

type Monitor struct {
	RefreshInterval time.Duration `yaml:"refresh_interval" json:"refresh_interval" envconfig:"REFRESH_INTERVAL"`
}

type Server struct {
	Port      int    `yaml:"port" json:"port" envconfig:"PORT"`
	TokenFile string `yaml:"token_file" json:"token_file" envconfig:"TOKEN_FILE"`
}

type Log struct {
	Level  string `yaml:"level" json:"level" envconfig:"LEVEL"`
	Format string `yaml:"format" json:"format" envconfig:"FORMAT"`
}

type Telemetry struct {
	Enabled        bool          `yaml:"enabled" json:"enabled" envconfig:"ENABLED"`
	Endpoint       string        `yaml:"endpoint" json:"endpoint" envconfig:"ENDPOINT"`
	Insecure       bool          `yaml:"insecure" json:"insecure" envconfig:"INSECURE"`
	ExportInterval time.Duration `yaml:"export_interval" json:"export_interval" envconfig:"EXPORT_INTERVAL"`
}

// Config is the root configuration.
type Config struct {
	Store     string    `yaml:"store" json:"store" envconfig:"STORE"`
	DBPath    string    `yaml:"db_path" json:"db_path" envconfig:"DB_PATH"`
	PostHog   PostHog   `yaml:"posthog" json:"posthog" envconfig:"POSTHOG"`
	Monitor   Monitor   `yaml:"monitor" json:"monitor" envconfig:"MONITOR"`
	Server    Server    `yaml:"server" json:"server" envconfig:"SERVER"`
	Log       Log       `yaml:"log" json:"log" envconfig:"LOG"`
	Telemetry Telemetry `yaml:"telemetry" json:"telemetry" envconfig:"TELEMETRY"`
}

func Default() *Config {
	return &Config{
		Store:     StoreSQLite,
		DBPath:    "./varyant.db",
		PostHog:   PostHog{Host: "https://us.posthog.com"},
		Monitor:   Monitor{RefreshInterval: 10 * time.Second},
		Server:    Server{Port: 8080},
		Log:       Log{Level: "info", Format: "text"},
		Telemetry: Telemetry{ExportInterval: time.Minute},
	}
}

// Load applies the YAML file at path (skipped when path is empty) and the
// environment on top of the defaults, then validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadEnvFile loads KEY=value pairs from path into the process
// environment without overriding variables that are already set. A
// missing file is not an error.
func LoadEnvFile(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// Validate checks the config against the schema and cross-field rules.
func (c *Config) Validate() error {
	if err := validateSchema(c); err != nil {
		return err
	}
	if c.Store == StorePostHog {
		if c.PostHog.ProjectID == "" || c.PostHog.APIKey == "" {
			return errors.New("invalid config: posthog store requires posthog.project_id and posthog.api_key")
		}
	}
	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		return errors.New("invalid config: telemetry.enabled requires telemetry.endpoint")
	}
	return nil
}
