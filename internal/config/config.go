package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models eightd.yml. It is stored per application id in the DB and
// imported explicitly, the file on disk is only a seed.
type Config struct {
	App struct {
		ID string `yaml:"id" json:"id"`
	} `yaml:"app" json:"app"`
	// Namespace overrides the derived collection path. Reports are visible
	// to everyone inside the same namespace; there is no per-user filter.
	Namespace string `yaml:"namespace,omitempty" json:"namespace,omitempty"`
	Auth      struct {
		// AllowAnonymous mints an anonymous principal when a request
		// carries no credentials, matching automatic anonymous sign-in.
		AllowAnonymous bool `yaml:"allow_anonymous" json:"allow_anonymous"`
	} `yaml:"auth" json:"auth"`
	Export struct {
		Dir string `yaml:"dir,omitempty" json:"dir,omitempty"`
	} `yaml:"export" json:"export"`
	Webhooks []WebhookConfig `yaml:"webhooks,omitempty" json:"webhooks,omitempty"`
}

// WebhookConfig describes one event-forwarding target.
type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Events         []string `yaml:"events,omitempty" json:"events,omitempty"`
	Secret         string   `yaml:"secret,omitempty" json:"secret,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty" json:"enabled,omitempty"`
}

// CollectionPath returns the namespace all reports live under. The pattern
// mirrors the hosted document store layout: artifacts/{appId}/public/data/8d-reports.
func (c *Config) CollectionPath() string {
	if c.Namespace != "" {
		return c.Namespace
	}
	return fmt.Sprintf("artifacts/%s/public/data/8d-reports", c.App.ID)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.App.ID == "" {
		return fmt.Errorf("config.app.id is required")
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must be >= 0", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "eightd.yml")
}

// Default returns the default Config for an application id.
func Default(appID string) *Config {
	var cfg Config
	cfg.App.ID = appID
	cfg.Auth.AllowAnonymous = true
	cfg.Export.Dir = "exports"
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the workspace config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}
