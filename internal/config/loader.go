package config

import (
	"strings"

	"github.com/spf13/viper"

	"github.com/nexivo/sentinel/pkg/constants"
)

// LoadConfig loads the configuration from file, environment variables, and defaults.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	// Set default values
	v.SetDefault("agent.data_dir", "/var/lib/sentinel")
	v.SetDefault("heartbeat.interval", constants.DefaultHeartbeatInterval)
	v.SetDefault("heartbeat.min_interval", constants.MinHeartbeatInterval)
	v.SetDefault("heartbeat.max_retries", 5)
	v.SetDefault("escalation.window", constants.DefaultEscalationWindow)
	v.SetDefault("escalation.payment_reminder_window", constants.DefaultPaymentReminderWindow)
	v.SetDefault("monitor.interval", constants.DefaultMonitorInterval)
	v.SetDefault("commands.poll_interval", constants.DefaultCommandPollInterval)
	v.SetDefault("integrity.namespaces", []string{"locks", "commands", "baseline", "escalation"})
	v.SetDefault("history.limit", constants.DefaultChangeHistoryLimit)
	v.SetDefault("local_api.listen_addr", "127.0.0.1:7411")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Load from config file
	v.SetConfigName("sentinel")
	v.SetConfigType("yaml")
	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath("/etc/sentinel/")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	// Load from environment variables
	v.SetEnvPrefix("SENTINEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}
