package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"raciline/internal/gaps"
	"raciline/internal/progress"
)

// Config models raciline.yml.
type Config struct {
	Workspace struct {
		ID string `yaml:"id" json:"id"`
	} `yaml:"workspace" json:"workspace"`
	Rules struct {
		RequireAccountable    bool `yaml:"require_accountable" json:"require_accountable"`
		SingleAccountable     bool `yaml:"single_accountable" json:"single_accountable"`
		RequireResponsible    bool `yaml:"require_responsible" json:"require_responsible"`
		MaxResponsible        int  `yaml:"max_responsible" json:"max_responsible"`
		RoleOverloadThreshold int  `yaml:"role_overload_threshold" json:"role_overload_threshold"`
	} `yaml:"rules" json:"rules"`
	Gate struct {
		PercentThreshold int `yaml:"percent_threshold" json:"percent_threshold"`
	} `yaml:"gate" json:"gate"`
	Report struct {
		TopGapsLimit int `yaml:"top_gaps_limit" json:"top_gaps_limit"`
	} `yaml:"report" json:"report"`
	Webhooks []WebhookConfig `yaml:"webhooks,omitempty" json:"webhooks,omitempty"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Events         []string `yaml:"events,omitempty" json:"events,omitempty"`
	Secret         string   `yaml:"secret,omitempty" json:"-"`
	Enabled        *bool    `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
}

// Active reports whether the webhook should receive deliveries.
func (w WebhookConfig) Active() bool {
	if w.Enabled != nil && !*w.Enabled {
		return false
	}
	return strings.TrimSpace(w.URL) != ""
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Workspace.ID) == "" {
		return fmt.Errorf("config.workspace.id is required")
	}
	if c.Rules.MaxResponsible < 0 {
		return fmt.Errorf("config.rules.max_responsible must be >= 0")
	}
	if c.Rules.RoleOverloadThreshold < 0 {
		return fmt.Errorf("config.rules.role_overload_threshold must be >= 0")
	}
	if c.Gate.PercentThreshold < 0 || c.Gate.PercentThreshold > 100 {
		return fmt.Errorf("config.gate.percent_threshold must be between 0 and 100")
	}
	if c.Report.TopGapsLimit < 1 {
		return fmt.Errorf("config.report.top_gaps_limit must be >= 1")
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		u, err := url.Parse(hook.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("config.webhooks[%d].url must be an http(s) url", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must be >= 0", i)
		}
		for _, evt := range hook.Events {
			if strings.TrimSpace(evt) == "" {
				return fmt.Errorf("config.webhooks[%d] has empty event type", i)
			}
		}
	}
	return nil
}

// GapRules converts the rules section for the gap evaluator.
func (c *Config) GapRules() gaps.Rules {
	return gaps.Rules{
		RequireAccountable:    c.Rules.RequireAccountable,
		SingleAccountable:     c.Rules.SingleAccountable,
		RequireResponsible:    c.Rules.RequireResponsible,
		MaxResponsible:        c.Rules.MaxResponsible,
		RoleOverloadThreshold: c.Rules.RoleOverloadThreshold,
	}
}

func (c *Config) Progress() progress.Config {
	return progress.Config{GatePercentThreshold: c.Gate.PercentThreshold}
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "raciline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(workspaceID string) string {
	return fmt.Sprintf(defaultTemplate, workspaceID)
}

// Default returns the default Config struct for a workspace.
func Default(workspaceID string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault(workspaceID))).Decode(&cfg)
	cfg.Workspace.ID = workspaceID
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
// Keys absent from data keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default("")
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
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

// YAML renders the config back to YAML.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

const defaultTemplate = `workspace:
  id: %s

rules:
  require_accountable: true
  single_accountable: true
  require_responsible: true
  max_responsible: 3
  role_overload_threshold: 5

gate:
  percent_threshold: 70

report:
  top_gaps_limit: 5
`
