// Package config loads and validates the msgvault YAML configuration.
package config

import "fmt"

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	return Config{
		Gateway: GatewayConfig{
			Port: 18790,
			Bind: "loopback",
		},
		Provider: ProviderConfig{
			TimeoutSeconds: 30,
		},
		Store: StoreConfig{
			Path: "msgvault.db",
		},
		Dedup: DedupConfig{
			WindowHours: 4,
		},
		Reconnect: ReconnectConfig{
			MaxAttempts:         5,
			InitialDelaySeconds: 2,
			MaxDelaySeconds:     60,
			OpTimeoutSeconds:    30,
			ForceAfterSeconds:   30,
		},
		History: HistoryConfig{
			DefaultLimit: 200,
			MaxLimit:     1000,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}
