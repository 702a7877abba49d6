package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config models pdfcp.yml.
type Config struct {
	Comparatif struct {
		Tolerance   float64 `yaml:"tolerance"`
		DefaultUnit string  `yaml:"default_unit"`
	} `yaml:"comparatif"`
	Unlock struct {
		MaxReasonLength int    `yaml:"max_reason_length"`
		AdminEmail      string `yaml:"admin_email"`
	} `yaml:"unlock"`
	Notify struct {
		Redis    RedisConfig     `yaml:"redis"`
		Webhooks []WebhookConfig `yaml:"webhooks"`
	} `yaml:"notify"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr"`
	DB        int    `yaml:"db"`
	Channel   string `yaml:"channel"`
	Inbox     string `yaml:"inbox"`
	InboxSize int    `yaml:"inbox_size"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// Active reports whether the hook should receive deliveries.
func (w WebhookConfig) Active() bool {
	if w.Enabled != nil && !*w.Enabled {
		return false
	}
	return strings.TrimSpace(w.URL) != ""
}

const (
	DefaultTolerance       = 0.05
	DefaultUnit            = "ha"
	DefaultMaxReasonLength = 1000
	DefaultRedisChannel    = "pdfcp:unlock-requests"
	DefaultRedisInbox      = "pdfcp:admin:inbox"
	DefaultRedisInboxSize  = 200
)

// Default returns a config with every default applied.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Comparatif.Tolerance == 0 {
		c.Comparatif.Tolerance = DefaultTolerance
	}
	if c.Comparatif.DefaultUnit == "" {
		c.Comparatif.DefaultUnit = DefaultUnit
	}
	if c.Unlock.MaxReasonLength == 0 {
		c.Unlock.MaxReasonLength = DefaultMaxReasonLength
	}
	if c.Notify.Redis.Channel == "" {
		c.Notify.Redis.Channel = DefaultRedisChannel
	}
	if c.Notify.Redis.Inbox == "" {
		c.Notify.Redis.Inbox = DefaultRedisInbox
	}
	if c.Notify.Redis.InboxSize == 0 {
		c.Notify.Redis.InboxSize = DefaultRedisInboxSize
	}
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Comparatif.Tolerance <= 0 || c.Comparatif.Tolerance >= 1 {
		return fmt.Errorf("config.comparatif.tolerance must be between 0 and 1 (got %v)", c.Comparatif.Tolerance)
	}
	if c.Unlock.MaxReasonLength < 0 {
		return fmt.Errorf("config.unlock.max_reason_length must be positive")
	}
	if c.Notify.Redis.DB < 0 {
		return fmt.Errorf("config.notify.redis.db must be >= 0")
	}
	if c.Notify.Redis.InboxSize < 0 {
		return fmt.Errorf("config.notify.redis.inbox_size must be >= 0")
	}
	for i, hook := range c.Notify.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.notify.webhooks[%d].url is required", i)
		}
		if !strings.HasPrefix(hook.URL, "http://") && !strings.HasPrefix(hook.URL, "https://") {
			return fmt.Errorf("config.notify.webhooks[%d].url must be http(s)", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.notify.webhooks[%d].timeout_seconds must be >= 0", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "pdfcp.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with pdfcp config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the defaults if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
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
	cfg.applyDefaults()
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

// GenerateDefault returns a commented default config.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `comparatif:
  # executed within +/- tolerance of the forecast is on_track
  tolerance: 0.05
  default_unit: ha

unlock:
  max_reason_length: 1000
  admin_email: ""

notify:
  redis:
    addr: ""
    db: 0
    channel: pdfcp:unlock-requests
    inbox: pdfcp:admin:inbox
    inbox_size: 200
  webhooks: []
`
