package config

// Config is the root configuration for msgvault.
type Config struct {
	Gateway   GatewayConfig   `yaml:"gateway,omitempty"`
	Provider  ProviderConfig  `yaml:"provider,omitempty"`
	Store     StoreConfig     `yaml:"store,omitempty"`
	Dedup     DedupConfig     `yaml:"dedup,omitempty"`
	Reconnect ReconnectConfig `yaml:"reconnect,omitempty"`
	History   HistoryConfig   `yaml:"history,omitempty"`
	Logging   LoggingConfig   `yaml:"logging,omitempty"`
}

// GatewayConfig controls the HTTP/WebSocket surface.
type GatewayConfig struct {
	Port           int      `yaml:"port,omitempty"`
	Bind           string   `yaml:"bind,omitempty"` // "loopback" | "lan" | "custom"
	CustomBindHost string   `yaml:"customBindHost,omitempty"`
	AuthToken      string   `yaml:"authToken,omitempty"`    // bearer token for control/query calls
	WebhookToken   string   `yaml:"webhookToken,omitempty"` // shared secret the provider sends on webhook deliveries
	AllowedOrigins []string `yaml:"allowedOrigins,omitempty"`
}

// ProviderConfig points at the external provider daemon.
type ProviderConfig struct {
	BaseURL        string `yaml:"baseUrl"`
	Token          string `yaml:"token,omitempty"`
	TimeoutSeconds int    `yaml:"timeoutSeconds,omitempty"`
}

// StoreConfig controls persistence.
type StoreConfig struct {
	Path string `yaml:"path,omitempty"` // ":memory:" for ephemeral
}

// DedupConfig is the per-deployment dedup window policy for messages that
// arrive without a usable provider id.
type DedupConfig struct {
	RefreshMode bool `yaml:"refreshMode,omitempty"`
	WindowHours int  `yaml:"windowHours,omitempty"`
}

// ReconnectConfig tunes the session watchdog.
type ReconnectConfig struct {
	MaxAttempts         int `yaml:"maxAttempts,omitempty"`
	InitialDelaySeconds int `yaml:"initialDelaySeconds,omitempty"`
	MaxDelaySeconds     int `yaml:"maxDelaySeconds,omitempty"`
	OpTimeoutSeconds    int `yaml:"opTimeoutSeconds,omitempty"`
	ForceAfterSeconds   int `yaml:"forceAfterSeconds,omitempty"` // min in-flight age before force-restart interrupts
}

// HistoryConfig bounds backfill requests.
type HistoryConfig struct {
	DefaultLimit int `yaml:"defaultLimit,omitempty"`
	MaxLimit     int `yaml:"maxLimit,omitempty"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level string `yaml:"level,omitempty"` // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	File  string `yaml:"file,omitempty"`
}
