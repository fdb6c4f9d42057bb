package config

import (
	"fmt"
	"time"
)

// Config holds the agent's configuration.
type Config struct {
	Agent      AgentConfig      `mapstructure:"agent"`
	Heartbeat  HeartbeatConfig  `mapstructure:"heartbeat"`
	Escalation EscalationConfig `mapstructure:"escalation"`
	Monitor    MonitorConfig    `mapstructure:"monitor"`
	Commands   CommandsConfig   `mapstructure:"commands"`
	Integrity  IntegrityConfig  `mapstructure:"integrity"`
	History    HistoryConfig    `mapstructure:"history"`
	LocalAPI   LocalAPIConfig   `mapstructure:"local_api"`
	Log        LogConfig        `mapstructure:"log"`
}

// AgentConfig identifies the agent installation and its backend.
type AgentConfig struct {
	DataDir       string `mapstructure:"data_dir"`
	ServerURL     string `mapstructure:"server_url"`
	APIKey        string `mapstructure:"api_key"`
	CommandSecret string `mapstructure:"command_secret"` // shared secret for command signature verification
}

type HeartbeatConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	MinInterval time.Duration `mapstructure:"min_interval"`
	MaxRetries  int           `mapstructure:"max_retries"`
}

type EscalationConfig struct {
	Window          time.Duration `mapstructure:"window"`
	PaymentReminder time.Duration `mapstructure:"payment_reminder_window"`
}

type MonitorConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

type CommandsConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

type IntegrityConfig struct {
	// Namespaces lists the preference namespaces covered by the hash
	// checkpoint discipline.
	Namespaces []string `mapstructure:"namespaces"`

	// WatchPaths lists system files monitored for modification.
	WatchPaths []string `mapstructure:"watch_paths"`
}

type HistoryConfig struct {
	Limit int `mapstructure:"limit"`
}

type LocalAPIConfig struct {
	// ListenAddr must stay on loopback; the local API serves the overlay UI
	// and the operator CLI on the same device only.
	ListenAddr string `mapstructure:"listen_addr"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Validate checks for essential configuration values.
func (c *Config) Validate() error {
	if c.Agent.DataDir == "" {
		return fmt.Errorf("agent.data_dir is required")
	}
	if c.Agent.ServerURL == "" {
		return fmt.Errorf("agent.server_url is required")
	}
	if c.Heartbeat.MinInterval > c.Heartbeat.Interval {
		return fmt.Errorf("heartbeat.min_interval must not exceed heartbeat.interval")
	}
	if c.Escalation.Window <= 0 {
		return fmt.Errorf("escalation.window must be positive")
	}
	return nil
}
