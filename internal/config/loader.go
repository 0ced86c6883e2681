package config

import (
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} patterns in strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} patterns with environment variable values.
// Unset variables are left unchanged.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

// expandSensitiveFields processes environment variable references in
// credential fields so tokens can be stored as ${ENV_VAR}.
func expandSensitiveFields(cfg *Config) {
	cfg.Gateway.AuthToken = expandEnvVars(cfg.Gateway.AuthToken)
	cfg.Gateway.WebhookToken = expandEnvVars(cfg.Gateway.WebhookToken)
	cfg.Provider.Token = expandEnvVars(cfg.Provider.Token)
}

// Load reads the config file, applies environment overrides, and returns a
// merged Config. Missing files produce defaults only.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(&cfg)
			return cfg, nil
		}
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	expandSensitiveFields(&cfg)
	return cfg, nil
}

// applyDefaults fills zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	def := Defaults()
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = def.Gateway.Port
	}
	if cfg.Gateway.Bind == "" {
		cfg.Gateway.Bind = def.Gateway.Bind
	}
	if cfg.Provider.TimeoutSeconds == 0 {
		cfg.Provider.TimeoutSeconds = def.Provider.TimeoutSeconds
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = def.Store.Path
	}
	if cfg.Dedup.WindowHours == 0 {
		cfg.Dedup.WindowHours = def.Dedup.WindowHours
	}
	if cfg.Reconnect.MaxAttempts == 0 {
		cfg.Reconnect.MaxAttempts = def.Reconnect.MaxAttempts
	}
	if cfg.Reconnect.InitialDelaySeconds == 0 {
		cfg.Reconnect.InitialDelaySeconds = def.Reconnect.InitialDelaySeconds
	}
	if cfg.Reconnect.MaxDelaySeconds == 0 {
		cfg.Reconnect.MaxDelaySeconds = def.Reconnect.MaxDelaySeconds
	}
	if cfg.Reconnect.OpTimeoutSeconds == 0 {
		cfg.Reconnect.OpTimeoutSeconds = def.Reconnect.OpTimeoutSeconds
	}
	if cfg.Reconnect.ForceAfterSeconds == 0 {
		cfg.Reconnect.ForceAfterSeconds = def.Reconnect.ForceAfterSeconds
	}
	if cfg.History.DefaultLimit == 0 {
		cfg.History.DefaultLimit = def.History.DefaultLimit
	}
	if cfg.History.MaxLimit == 0 {
		cfg.History.MaxLimit = def.History.MaxLimit
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = def.Logging.Level
	}
}

// applyEnvOverrides reads MSGVAULT_* environment variables and overrides
// config values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MSGVAULT_GATEWAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Gateway.Port = port
		}
	}
	if v := os.Getenv("MSGVAULT_PROVIDER_URL"); v != "" {
		cfg.Provider.BaseURL = v
	}
	if v := os.Getenv("MSGVAULT_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("MSGVAULT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
}
