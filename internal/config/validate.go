package config

import (
	"fmt"
	"net/url"
	"slices"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue

	if cfg.Gateway.Port < 0 || cfg.Gateway.Port > 65535 {
		issues = append(issues, ValidationIssue{
			Path:    "gateway.port",
			Message: fmt.Sprintf("port must be 0-65535, got %d", cfg.Gateway.Port),
		})
	}

	validBinds := []string{"loopback", "lan", "custom"}
	if cfg.Gateway.Bind != "" && !slices.Contains(validBinds, cfg.Gateway.Bind) {
		issues = append(issues, ValidationIssue{
			Path:    "gateway.bind",
			Message: fmt.Sprintf("must be one of %v, got %q", validBinds, cfg.Gateway.Bind),
		})
	}
	if cfg.Gateway.Bind == "custom" && cfg.Gateway.CustomBindHost == "" {
		issues = append(issues, ValidationIssue{
			Path:    "gateway.customBindHost",
			Message: "required when gateway.bind is custom",
		})
	}

	if cfg.Provider.BaseURL == "" {
		issues = append(issues, ValidationIssue{
			Path:    "provider.baseUrl",
			Message: "provider base URL is required",
		})
	} else if u, err := url.Parse(cfg.Provider.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		issues = append(issues, ValidationIssue{
			Path:    "provider.baseUrl",
			Message: fmt.Sprintf("not a valid URL: %q", cfg.Provider.BaseURL),
		})
	}
	if cfg.Provider.TimeoutSeconds < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "provider.timeoutSeconds",
			Message: "must not be negative",
		})
	}

	if cfg.Dedup.WindowHours < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "dedup.windowHours",
			Message: "must not be negative",
		})
	}

	if cfg.Reconnect.MaxAttempts < 1 {
		issues = append(issues, ValidationIssue{
			Path:    "reconnect.maxAttempts",
			Message: fmt.Sprintf("must be at least 1, got %d", cfg.Reconnect.MaxAttempts),
		})
	}
	if cfg.Reconnect.InitialDelaySeconds < 0 || cfg.Reconnect.MaxDelaySeconds < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "reconnect",
			Message: "delays must not be negative",
		})
	}
	if cfg.Reconnect.MaxDelaySeconds > 0 && cfg.Reconnect.InitialDelaySeconds > cfg.Reconnect.MaxDelaySeconds {
		issues = append(issues, ValidationIssue{
			Path:    "reconnect.initialDelaySeconds",
			Message: "must not exceed reconnect.maxDelaySeconds",
		})
	}

	if cfg.History.MaxLimit > 0 && cfg.History.DefaultLimit > cfg.History.MaxLimit {
		issues = append(issues, ValidationIssue{
			Path:    "history.defaultLimit",
			Message: "must not exceed history.maxLimit",
		})
	}

	validLogLevels := []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"}
	if cfg.Logging.Level != "" && !slices.Contains(validLogLevels, cfg.Logging.Level) {
		issues = append(issues, ValidationIssue{
			Path:    "logging.level",
			Message: fmt.Sprintf("must be one of %v, got %q", validLogLevels, cfg.Logging.Level),
		})
	}

	return issues
}
