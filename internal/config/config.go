// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// GRPCAddr is the address the gRPC server listens on (e.g. :8080).
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// HTTPAddr is the ops listener serving /metrics and /healthz; empty disables it.
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// DatabaseURL is the Postgres DSN.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// RedisURL enables the shared role-definition cache (e.g. redis://localhost:6379/0).
	RedisURL string `mapstructure:"REDIS_URL"`

	// JWTAccessPrivateKey and JWTAccessPublicKey sign and verify access credentials.
	// Each is inline PEM (RSA or ECDSA P-256) or a path to a PEM file.
	JWTAccessPrivateKey string `mapstructure:"JWT_ACCESS_PRIVATE_KEY"`
	JWTAccessPublicKey  string `mapstructure:"JWT_ACCESS_PUBLIC_KEY"`
	// JWTRefreshPrivateKey and JWTRefreshPublicKey sign and verify refresh credentials.
	// They must not be the same material as the access pair.
	JWTRefreshPrivateKey string `mapstructure:"JWT_REFRESH_PRIVATE_KEY"`
	JWTRefreshPublicKey  string `mapstructure:"JWT_REFRESH_PUBLIC_KEY"`
	// JWTIssuer is the iss claim.
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAudience is the aud claim.
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`
	// JWTAccessTTL is the access token lifetime (e.g. "15m").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// JWTRefreshTTL is the refresh token lifetime (e.g. "720h").
	JWTRefreshTTL string `mapstructure:"JWT_REFRESH_TTL"`
	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`

	// StoreTimeout bounds every ledger and store call (e.g. "3s").
	StoreTimeout string `mapstructure:"STORE_TIMEOUT"`
	// SweepInterval is how often the worker deletes expired refresh records.
	SweepInterval string `mapstructure:"SWEEP_INTERVAL"`
	// RoleCacheTTL is how long role definitions are cached in process and in Redis.
	RoleCacheTTL string `mapstructure:"ROLE_CACHE_TTL"`
	// LoginRatePerMinute and LoginBurst throttle login attempts per source address.
	LoginRatePerMinute int `mapstructure:"LOGIN_RATE_PER_MINUTE"`
	LoginBurst         int `mapstructure:"LOGIN_BURST"`
	// RevokeOnReuse revokes every session of an identity when a rotated-out refresh token is presented.
	RevokeOnReuse bool `mapstructure:"REVOKE_ON_REUSE"`
	// RequireVerifiedEmail rejects logins for identities whose e-mail is not verified.
	RequireVerifiedEmail bool `mapstructure:"REQUIRE_VERIFIED_EMAIL"`

	// RolesFile is the YAML role catalog: role definitions (seeded) and the gRPC method
	// permission table (enforced by the server).
	RolesFile string `mapstructure:"ROLES_FILE"`
	// AdmissionPolicyFile optionally replaces the built-in Rego admission policy.
	AdmissionPolicyFile string `mapstructure:"ADMISSION_POLICY_FILE"`
	// BootstrapAdminEmail and BootstrapAdminPassword make cmd/seed create a SUPER_ADMIN identity.
	BootstrapAdminEmail    string `mapstructure:"BOOTSTRAP_ADMIN_EMAIL"`
	BootstrapAdminPassword string `mapstructure:"BOOTSTRAP_ADMIN_PASSWORD"`

	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`

	// OTelEndpoint is the OTLP gRPC collector (e.g. localhost:4317). Empty disables export.
	OTelEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTelInsecure disables TLS to the collector.
	OTelInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`

	// KafkaBrokers is a comma-separated list of Kafka broker addresses. When set, auth events
	// are also published to AuthEventsKafkaTopic.
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// AuthEventsKafkaTopic is the Kafka topic for auth events.
	AuthEventsKafkaTopic string `mapstructure:"AUTH_EVENTS_KAFKA_TOPIC"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	// AutomaticEnv only feeds Unmarshal for keys viper already knows, so every key gets a default.
	v.SetDefault("GRPC_ADDR", ":8080")
	v.SetDefault("HTTP_ADDR", ":9090")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("JWT_ACCESS_PRIVATE_KEY", "")
	v.SetDefault("JWT_ACCESS_PUBLIC_KEY", "")
	v.SetDefault("JWT_REFRESH_PRIVATE_KEY", "")
	v.SetDefault("JWT_REFRESH_PUBLIC_KEY", "")
	v.SetDefault("JWT_ISSUER", "gathering-auth")
	v.SetDefault("JWT_AUDIENCE", "gathering-api")
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("JWT_REFRESH_TTL", "720h") // 30d
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("STORE_TIMEOUT", "3s")
	v.SetDefault("SWEEP_INTERVAL", "1h")
	v.SetDefault("ROLE_CACHE_TTL", "5m")
	v.SetDefault("LOGIN_RATE_PER_MINUTE", 10)
	v.SetDefault("LOGIN_BURST", 5)
	v.SetDefault("REVOKE_ON_REUSE", false)
	v.SetDefault("REQUIRE_VERIFIED_EMAIL", false)
	v.SetDefault("ROLES_FILE", "configs/roles.yaml")
	v.SetDefault("ADMISSION_POLICY_FILE", "")
	v.SetDefault("BOOTSTRAP_ADMIN_EMAIL", "")
	v.SetDefault("BOOTSTRAP_ADMIN_PASSWORD", "")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("AUTH_EVENTS_KAFKA_TOPIC", "gathering-auth-events")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.GRPCAddr == "" {
		return nil, errors.New("config: GRPC_ADDR must be set")
	}

	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}

	if cfg.LoginRatePerMinute < 0 || cfg.LoginBurst < 0 {
		return nil, errors.New("config: LOGIN_RATE_PER_MINUTE and LOGIN_BURST must not be negative")
	}

	if cfg.JWTAccessPrivateKey != "" && cfg.JWTAccessPrivateKey == cfg.JWTRefreshPrivateKey {
		return nil, errors.New("config: JWT_ACCESS_PRIVATE_KEY and JWT_REFRESH_PRIVATE_KEY must differ")
	}

	return &cfg, nil
}

// IsProduction reports whether APP_ENV is "production".
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// AuthEnabled reports whether both signing key pairs are configured.
func (c *Config) AuthEnabled() bool {
	return c.JWTAccessPrivateKey != "" && c.JWTAccessPublicKey != "" &&
		c.JWTRefreshPrivateKey != "" && c.JWTRefreshPublicKey != ""
}

// AccessTTL parses JWTAccessTTL. Returns 15m if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	return parseDuration(c.JWTAccessTTL, 15*time.Minute)
}

// RefreshTTL parses JWTRefreshTTL. Returns 720h if unset or invalid.
func (c *Config) RefreshTTL() time.Duration {
	return parseDuration(c.JWTRefreshTTL, 720*time.Hour)
}

// StoreTimeoutDuration parses StoreTimeout. Returns 3s if unset or invalid.
func (c *Config) StoreTimeoutDuration() time.Duration {
	return parseDuration(c.StoreTimeout, 3*time.Second)
}

// SweepIntervalDuration parses SweepInterval. Returns 1h if unset or invalid.
func (c *Config) SweepIntervalDuration() time.Duration {
	return parseDuration(c.SweepInterval, time.Hour)
}

// RoleCacheTTLDuration parses RoleCacheTTL. Returns 5m if unset or invalid.
func (c *Config) RoleCacheTTLDuration() time.Duration {
	return parseDuration(c.RoleCacheTTL, 5*time.Minute)
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if event publishing is enabled (non-empty list) and to create the producer.
func (c *Config) KafkaBrokersList() []string {
	if c == nil || c.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
