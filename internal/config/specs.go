package config

import (
	"time"
)

// EnvSpec is the basic environment configuration setup needed for the app to start
type EnvSpec struct {
	OtelGRPCEndpoint string `envconfig:"otel_grpc_endpoint"`
	OtelHTTPEndpoint string `envconfig:"otel_http_endpoint"`
	TracingEnabled   bool   `envconfig:"tracing_enabled" default:"true"`

	LogLevel string `envconfig:"log_level" default:"error"`
	Debug    bool   `envconfig:"debug" default:"false"`

	Port     int `envconfig:"port" default:"8080"`
	GRPCPort int `envconfig:"grpc_port" default:"50051"`

	// StorageBackend is either postgres or memory, the latter is meant for local development only
	StorageBackend string `envconfig:"storage_backend" default:"postgres"`

	DSN string `envconfig:"DSN"`

	DBMaxConns        int32         `envconfig:"db_max_conns" default:"25"`
	DBMinConns        int32         `envconfig:"db_min_conns" default:"2"`
	DBMaxConnLifetime time.Duration `envconfig:"db_max_conn_lifetime" default:"1h"`
	DBMaxConnIdleTime time.Duration `envconfig:"db_max_conn_idle_time" default:"30m"`

	SessionTTL             time.Duration `envconfig:"session_ttl" default:"12h"`
	SessionCookieName      string        `envconfig:"session_cookie_name" default:"mc_session"`
	SessionCleanupInterval time.Duration `envconfig:"session_cleanup_interval" default:"10m"`
	CookieSecure           bool          `envconfig:"cookie_secure" default:"true"`
	CookieDomain           string        `envconfig:"cookie_domain"`

	TwoFactorTTL     time.Duration `envconfig:"two_factor_ttl" default:"10m"`
	PasswordResetTTL time.Duration `envconfig:"password_reset_ttl" default:"1h"`

	AuthRateLimit float64 `envconfig:"auth_rate_limit" default:"1"`
	AuthRateBurst int     `envconfig:"auth_rate_burst" default:"5"`

	TwoFactorMaxAttempts int `envconfig:"two_factor_max_attempts" default:"5"`

	// TrustProxyHeaders takes the client address from X-Forwarded-For / X-Real-IP,
	// enable it only behind a reverse proxy that overwrites them
	TrustProxyHeaders bool `envconfig:"trust_proxy_headers" default:"false"`

	CORSAllowedOrigins []string `envconfig:"cors_allowed_origins" default:"*"`

	HeartbeatInterval     time.Duration `envconfig:"heartbeat_interval" default:"15s"`
	StreamRecheckInterval time.Duration `envconfig:"stream_recheck_interval" default:"15s"`
	ObserverBuffer        int           `envconfig:"observer_buffer" default:"32"`
	DriverWorkers         int           `envconfig:"driver_workers" default:"4"`
	DriverQueueSize       int           `envconfig:"driver_queue_size" default:"64"`
	CheckpointInterval    time.Duration `envconfig:"checkpoint_interval" default:"2s"`
}
