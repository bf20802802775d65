package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"gridwell/internal/convert"
)

// Config models gridwell.yml.
type Config struct {
	Server struct {
		Listen   string `yaml:"listen"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Auth struct {
		JWTSecret      string            `yaml:"jwt_secret"`
		APIKeys        map[string]string `yaml:"api_keys"` // name -> sha256 hex of the key
		AllowAnonymous bool              `yaml:"allow_anonymous"`
	} `yaml:"auth"`
	Collab struct {
		JoinTimeoutSeconds int    `yaml:"join_timeout_seconds"`
		Resolver           string `yaml:"resolver"`
	} `yaml:"collab"`
	History struct {
		Enabled   bool   `yaml:"enabled"`
		Workspace string `yaml:"workspace"`
	} `yaml:"history"`
	Webhooks []Webhook `yaml:"webhooks"`
	Convert  struct {
		DetectOrder []string `yaml:"detect_order"`
	} `yaml:"convert"`
}

// Webhook is one outbound delivery target for collaboration events.
type Webhook struct {
	Name   string   `yaml:"name"`
	URL    string   `yaml:"url"`
	Secret string   `yaml:"secret"`
	Events []string `yaml:"events"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; generate one with gridwell init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
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

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("config.server.listen is required")
	}
	if !c.Auth.AllowAnonymous && c.Auth.JWTSecret == "" && len(c.Auth.APIKeys) == 0 {
		return fmt.Errorf("config.auth needs jwt_secret or api_keys unless allow_anonymous is set")
	}
	for name, hash := range c.Auth.APIKeys {
		if name == "" {
			return fmt.Errorf("config.auth.api_keys contains an empty key name")
		}
		if len(hash) != 64 {
			return fmt.Errorf("api key %s: value must be a sha256 hex digest", name)
		}
	}
	if c.Collab.JoinTimeoutSeconds < 0 {
		return fmt.Errorf("config.collab.join_timeout_seconds must not be negative")
	}
	switch c.Collab.Resolver {
	case "", "last-write-wins":
	default:
		return fmt.Errorf("unknown conflict resolver %q", c.Collab.Resolver)
	}
	for i, hook := range c.Webhooks {
		if hook.Name == "" {
			return fmt.Errorf("webhook %d has no name", i)
		}
		if hook.URL == "" {
			return fmt.Errorf("webhook %s has no url", hook.Name)
		}
	}
	for _, name := range c.Convert.DetectOrder {
		if _, err := convert.ParseFormat(name); err != nil {
			return fmt.Errorf("config.convert.detect_order: %w", err)
		}
	}
	return nil
}

// DetectOrder returns the configured detection order, falling back to the
// built-in priority list.
func (c *Config) DetectOrder() []convert.Format {
	if len(c.Convert.DetectOrder) == 0 {
		return convert.Formats()
	}
	out := make([]convert.Format, 0, len(c.Convert.DetectOrder))
	for _, name := range c.Convert.DetectOrder {
		f, err := convert.ParseFormat(name)
		if err != nil {
			continue
		}
		out = append(out, f)
	}
	return out
}

// JoinTimeoutSeconds returns the configured join timeout, defaulting to 30.
func (c *Config) JoinTimeoutSeconds() int {
	if c.Collab.JoinTimeoutSeconds == 0 {
		return 30
	}
	return c.Collab.JoinTimeoutSeconds
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "gridwell.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

const defaultTemplate = `server:
  listen: "127.0.0.1:8087"
  base_path: /v1

auth:
  allow_anonymous: true
  # jwt_secret: change-me
  # api_keys:
  #   ci-bot: <sha256 hex of the raw key>

collab:
  join_timeout_seconds: 30
  resolver: last-write-wins

history:
  enabled: false
  workspace: .

webhooks: []

convert:
  detect_order: []
`
