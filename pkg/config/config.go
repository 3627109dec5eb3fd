package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App          AppConfig                 `json:"app" yaml:"app"`
	Gateways     map[string]GatewayConfig  `json:"gateways" yaml:"gateways"`
	Providers    map[string]ProviderConfig `json:"providers" yaml:"providers"`
	Memory       MemoryConfig              `json:"memory" yaml:"memory"`
	Orchestrator OrchestratorConfig        `json:"orchestrator" yaml:"orchestrator"`
	Policy       PolicyConfig              `json:"policy" yaml:"policy"`
	Email        EmailConfig               `json:"email" yaml:"email"`
	// Contacts maps a name used in requests to a gateway user id, e.g.
	// "alice": "tg:12345".
	Contacts map[string]string `json:"contacts" yaml:"contacts"`
}

type AppConfig struct {
	Name      string `json:"name" yaml:"name"`
	Workspace string `json:"workspace" yaml:"workspace"`
	// Prompts is the directory of classifier prompt fragments.
	Prompts string `json:"prompts" yaml:"prompts"`
	// LogFile receives plan-level events as JSON lines. Empty disables it.
	LogFile string `json:"log_file" yaml:"log_file"`
}

type GatewayConfig struct {
	Token   string `json:"token" yaml:"token"`
	Enabled bool   `json:"enabled" yaml:"enabled"`
}

type ProviderConfig struct {
	APIKey  string `json:"api_key" yaml:"api_key"`
	Model   string `json:"model" yaml:"model"`
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Enabled bool   `json:"enabled" yaml:"enabled"`
}

type MemoryConfig struct {
	Type string `json:"type" yaml:"type"`
	Path string `json:"path" yaml:"path"`
	// HistoryLimit is how many past messages the classifier sees.
	HistoryLimit int `json:"history_limit" yaml:"history_limit"`
}

// OrchestratorConfig tunes plan execution. Durations are whole seconds or
// milliseconds as named.
type OrchestratorConfig struct {
	Concurrency            int  `json:"concurrency" yaml:"concurrency"`
	MaxRetries             int  `json:"max_retries" yaml:"max_retries"`
	ActionTimeoutSeconds   int  `json:"action_timeout_seconds" yaml:"action_timeout_seconds"`
	ConfirmationTTLSeconds int  `json:"confirmation_ttl_seconds" yaml:"confirmation_ttl_seconds"`
	SweepIntervalSeconds   int  `json:"sweep_interval_seconds" yaml:"sweep_interval_seconds"`
	ReminderPollSeconds    int  `json:"reminder_poll_seconds" yaml:"reminder_poll_seconds"`
	RetryBackoffMs         int  `json:"retry_backoff_ms" yaml:"retry_backoff_ms"`
	MaxRetryBackoffMs      int  `json:"max_retry_backoff_ms" yaml:"max_retry_backoff_ms"`
	AutoRun                bool `json:"auto_run" yaml:"auto_run"`
}

func (o OrchestratorConfig) ActionTimeout() time.Duration {
	return time.Duration(o.ActionTimeoutSeconds) * time.Second
}

func (o OrchestratorConfig) ConfirmationTTL() time.Duration {
	return time.Duration(o.ConfirmationTTLSeconds) * time.Second
}

func (o OrchestratorConfig) SweepInterval() time.Duration {
	return time.Duration(o.SweepIntervalSeconds) * time.Second
}

func (o OrchestratorConfig) ReminderPoll() time.Duration {
	return time.Duration(o.ReminderPollSeconds) * time.Second
}

func (o OrchestratorConfig) RetryBackoff() time.Duration {
	return time.Duration(o.RetryBackoffMs) * time.Millisecond
}

func (o OrchestratorConfig) MaxRetryBackoff() time.Duration {
	return time.Duration(o.MaxRetryBackoffMs) * time.Millisecond
}

// PolicyConfig overrides the built-in confirmation policy. Entries are action
// type tags such as "email.send".
type PolicyConfig struct {
	HighImpact    []string `json:"high_impact" yaml:"high_impact"`
	AutoApprove   []string `json:"auto_approve" yaml:"auto_approve"`
	DenyTypes     []string `json:"deny_types" yaml:"deny_types"`
	DenyArguments []string `json:"deny_arguments" yaml:"deny_arguments"`
}

type EmailConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	From     string `json:"from" yaml:"from"`
}

// Load reads a JSON or YAML config, chosen by file extension, and applies
// defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	default:
		err = json.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode config file %s: %w", path, err)
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// LoadConfig is Load for startup: any error is fatal.
func LoadConfig(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		log.Fatal(err)
	}
	return cfg
}

// ApplyDefaults fills every unset field.
func (c *Config) ApplyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "taskmesh"
	}
	if c.App.Prompts == "" {
		c.App.Prompts = "./prompts"
	}
	if c.Memory.Type == "" {
		c.Memory.Type = "sqlite"
	}
	if c.Memory.Path == "" {
		c.Memory.Path = filepath.Join("data", "taskmesh.db")
	}
	if c.Memory.HistoryLimit <= 0 {
		c.Memory.HistoryLimit = 5
	}

	o := &c.Orchestrator
	if o.Concurrency <= 0 {
		o.Concurrency = 3
	}
	// Negative disables retries; actions store it as a single attempt.
	if o.MaxRetries < 0 {
		o.MaxRetries = -1
	} else if o.MaxRetries == 0 {
		o.MaxRetries = 3
	}
	if o.ActionTimeoutSeconds <= 0 {
		o.ActionTimeoutSeconds = 30
	}
	if o.ConfirmationTTLSeconds <= 0 {
		o.ConfirmationTTLSeconds = 600
	}
	if o.SweepIntervalSeconds <= 0 {
		o.SweepIntervalSeconds = 30
	}
	if o.ReminderPollSeconds <= 0 {
		o.ReminderPollSeconds = 60
	}
	if o.RetryBackoffMs < 0 {
		o.RetryBackoffMs = 0
	}

	if c.Email.Port == 0 {
		c.Email.Port = 587
	}
	if c.Gateways == nil {
		c.Gateways = map[string]GatewayConfig{}
	}
	if c.Providers == nil {
		c.Providers = map[string]ProviderConfig{}
	}
	if c.Contacts == nil {
		c.Contacts = map[string]string{}
	}
}

// GetDefaultProvider returns the first enabled provider in name order.
func (c *Config) GetDefaultProvider() (string, ProviderConfig) {
	var (
		best string
		cfg  ProviderConfig
	)
	for name, p := range c.Providers {
		if p.Enabled && (best == "" || name < best) {
			best, cfg = name, p
		}
	}
	return best, cfg
}

// GetTelegramConfig returns telegram config if enabled
func (c *Config) GetTelegramConfig() (GatewayConfig, bool) {
	return c.gateway("telegram")
}

// GetDiscordConfig returns discord config if enabled
func (c *Config) GetDiscordConfig() (GatewayConfig, bool) {
	return c.gateway("discord")
}

func (c *Config) gateway(name string) (GatewayConfig, bool) {
	g, ok := c.Gateways[name]
	if ok && g.Enabled && g.Token != "" {
		return g, true
	}
	return GatewayConfig{}, false
}
