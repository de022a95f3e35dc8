// Package config loads the application's configuration surface from
// environment variables following the AUTH__<SECTION>__<KEY> convention,
// with an optional .env/.env.local development overlay. Config supports an
// atomic Reload that validates a full replacement before swapping it in,
// so readers never observe a partially-applied configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/joho/godotenv"
)

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host    string
	Port    int
	Workers int
	Timeout time.Duration
}

// DatabaseConfig controls the Postgres connection pool.
type DatabaseConfig struct {
	URL             string
	MaxConnections  int
	MinConnections  int
	ConnectTimeout  time.Duration
	IdleTimeout     time.Duration
	MaxConnLifetime time.Duration
}

// PasswordHashParams are the Argon2id cost parameters. They are config so
// they can be raised over time without a code change, per the rehash-on-
// login upgrade path.
type PasswordHashParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
}

// PasswordPolicy is the validation ruleset applied before a password is hashed.
type PasswordPolicy struct {
	MinLength          int
	MaxLength          int
	RequireUpper       bool
	RequireLower       bool
	RequireDigit       bool
	RequireSymbol      bool
	RejectCommonList   bool
	RejectPreviousHash bool
}

// SecurityConfig controls tokens, password policy, and lockout.
type SecurityConfig struct {
	AccessTokenTTL     time.Duration
	RefreshTokenTTL    time.Duration
	RefreshMaxLifetime time.Duration
	PasswordPolicy     PasswordPolicy
	PasswordHashParams PasswordHashParams
	LockoutMaxAttempts int
	LockoutWindow      time.Duration
	RequireMFA         bool
	AllowedOrigins     []string
}

// KeySource enumerates where signing-key material comes from.
type KeySource string

const (
	KeySourceFile KeySource = "file"
	KeySourceKMS  KeySource = "kms"
)

// KeysConfig controls the signing-key provider and rotation.
type KeysConfig struct {
	Algorithm           string
	Source              KeySource
	RotationGracePeriod time.Duration
	RSAPrivateKeyPath   string
	RSAPublicKeyPath    string
	KMSKeyID            string
	KMSRegion           string
}

// FeaturesConfig holds global and per-tenant feature toggles.
type FeaturesConfig struct {
	Enabled             map[string]bool
	AllowPublicRegister bool
	PerTenantOverrides  map[string]map[string]bool
}

// ObservabilityConfig controls logging and tracing.
type ObservabilityConfig struct {
	LogLevel        string
	LogFormat       string
	TracingEndpoint string
	SentryDSN       string
	Environment     string
}

// Config is the full, validated configuration snapshot.
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Security      SecurityConfig
	Keys          KeysConfig
	Features      FeaturesConfig
	Observability ObservabilityConfig
	RedisURL      string
}

// Validate rejects a Config that would put the service in an unsafe or
// inconsistent state. It is called before every Load and Reload swap.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid server port %d", c.Server.Port)
	}
	if c.Database.URL == "" {
		return fmt.Errorf("config: database url is required")
	}
	if c.Security.AccessTokenTTL <= 0 || c.Security.AccessTokenTTL > 60*time.Minute {
		return fmt.Errorf("config: access_token_ttl must be in (0, 60m], got %s", c.Security.AccessTokenTTL)
	}
	if c.Security.RefreshTokenTTL <= 0 {
		return fmt.Errorf("config: refresh_token_ttl must be positive")
	}
	if c.Security.PasswordPolicy.MinLength < 8 {
		return fmt.Errorf("config: password policy min_length must be >= 8")
	}
	if c.Security.PasswordPolicy.MaxLength > 128 {
		return fmt.Errorf("config: password policy max_length must be <= 128")
	}
	if c.Keys.Source != KeySourceFile && c.Keys.Source != KeySourceKMS {
		return fmt.Errorf("config: unknown key source %q", c.Keys.Source)
	}
	if c.Keys.Source == KeySourceFile && (c.Keys.RSAPrivateKeyPath == "" || c.Keys.RSAPublicKeyPath == "") {
		return fmt.Errorf("config: file key source requires rsa key paths")
	}
	if c.Keys.Source == KeySourceKMS && c.Keys.KMSKeyID == "" {
		return fmt.Errorf("config: kms key source requires a key id")
	}
	return nil
}

// Load reads configuration from the environment, after applying any
// .env/.env.local development overlay. It returns an error if the
// resulting config fails Validate.
func Load() (*Config, error) {
	_ = godotenv.Load(".env.local", ".env")

	cfg := &Config{
		Server: ServerConfig{
			Host:    envString("AUTH__SERVER__HOST", "0.0.0.0"),
			Port:    envInt("AUTH__SERVER__PORT", 8080),
			Workers: envInt("AUTH__SERVER__WORKERS", 4),
			Timeout: envDuration("AUTH__SERVER__TIMEOUT", 10*time.Second),
		},
		Database: DatabaseConfig{
			URL:             envString("AUTH__DATABASE__URL", os.Getenv("DATABASE_URL")),
			MaxConnections:  envInt("AUTH__DATABASE__MAX_CONNECTIONS", 20),
			MinConnections:  envInt("AUTH__DATABASE__MIN_CONNECTIONS", 2),
			ConnectTimeout:  envDuration("AUTH__DATABASE__CONNECT_TIMEOUT", 5*time.Second),
			IdleTimeout:     envDuration("AUTH__DATABASE__IDLE_TIMEOUT", 5*time.Minute),
			MaxConnLifetime: envDuration("AUTH__DATABASE__MAX_CONN_LIFETIME", time.Hour),
		},
		Security: SecurityConfig{
			AccessTokenTTL:     envDuration("AUTH__SECURITY__ACCESS_TOKEN_TTL", 15*time.Minute),
			RefreshTokenTTL:    envDuration("AUTH__SECURITY__REFRESH_TOKEN_TTL", 30*24*time.Hour),
			RefreshMaxLifetime: envDuration("AUTH__SECURITY__REFRESH_MAX_LIFETIME", 30*24*time.Hour),
			PasswordPolicy: PasswordPolicy{
				MinLength:          envInt("AUTH__SECURITY__PASSWORD_MIN_LENGTH", 12),
				MaxLength:          envInt("AUTH__SECURITY__PASSWORD_MAX_LENGTH", 128),
				RequireUpper:       envBool("AUTH__SECURITY__PASSWORD_REQUIRE_UPPER", true),
				RequireLower:       envBool("AUTH__SECURITY__PASSWORD_REQUIRE_LOWER", true),
				RequireDigit:       envBool("AUTH__SECURITY__PASSWORD_REQUIRE_DIGIT", true),
				RequireSymbol:      envBool("AUTH__SECURITY__PASSWORD_REQUIRE_SYMBOL", true),
				RejectCommonList:   envBool("AUTH__SECURITY__PASSWORD_REJECT_COMMON", true),
				RejectPreviousHash: true,
			},
			PasswordHashParams: PasswordHashParams{
				MemoryKiB:   uint32(envInt("AUTH__SECURITY__ARGON2_MEMORY_KIB", 64*1024)),
				Iterations:  uint32(envInt("AUTH__SECURITY__ARGON2_ITERATIONS", 3)),
				Parallelism: uint8(envInt("AUTH__SECURITY__ARGON2_PARALLELISM", 2)),
			},
			LockoutMaxAttempts: envInt("AUTH__SECURITY__LOCKOUT_MAX_ATTEMPTS", 5),
			LockoutWindow:      envDuration("AUTH__SECURITY__LOCKOUT_WINDOW", 30*time.Minute),
			RequireMFA:         envBool("AUTH__SECURITY__REQUIRE_MFA", false),
			AllowedOrigins:     envStringList("AUTH__SECURITY__ALLOWED_ORIGINS", nil),
		},
		Keys: KeysConfig{
			Algorithm:           envString("AUTH__KEYS__ALGORITHM", "RS256"),
			Source:              KeySource(envString("AUTH__KEYS__SOURCE", string(KeySourceFile))),
			RotationGracePeriod: envDuration("AUTH__KEYS__ROTATION_GRACE_PERIOD", 24*time.Hour),
			RSAPrivateKeyPath:   envString("AUTH__KEYS__RSA_PRIVATE_KEY_PATH", "keys/private.pem"),
			RSAPublicKeyPath:    envString("AUTH__KEYS__RSA_PUBLIC_KEY_PATH", "keys/public.pem"),
			KMSKeyID:            envString("AUTH__KEYS__KMS_KEY_ID", ""),
			KMSRegion:           envString("AUTH__KEYS__KMS_REGION", "us-east-1"),
		},
		Features: FeaturesConfig{
			Enabled:             map[string]bool{},
			AllowPublicRegister: envBool("AUTH__FEATURES__ALLOW_PUBLIC_REGISTRATION", envBool("ALLOW_PUBLIC_REGISTRATION", false)),
			PerTenantOverrides:  map[string]map[string]bool{},
		},
		Observability: ObservabilityConfig{
			LogLevel:        envString("AUTH__OBSERVABILITY__LOG_LEVEL", "info"),
			LogFormat:       envString("AUTH__OBSERVABILITY__LOG_FORMAT", "json"),
			TracingEndpoint: envString("AUTH__OBSERVABILITY__TRACING_ENDPOINT", ""),
			SentryDSN:       envString("AUTH__OBSERVABILITY__SENTRY_DSN", os.Getenv("SENTRY_DSN")),
			Environment:     envString("AUTH__OBSERVABILITY__ENVIRONMENT", "development"),
		},
		RedisURL: envString("AUTH__REDIS__URL", "redis://localhost:6379/0"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Store is an atomically-swappable config holder. Readers call Get; a
// caller wanting to apply new values calls Reload, which validates the
// replacement before the swap so no goroutine ever observes a half-applied
// config.
type Store struct {
	ptr atomic.Pointer[Config]
}

// NewStore constructs a Store seeded with the given config.
func NewStore(initial *Config) *Store {
	s := &Store{}
	s.ptr.Store(initial)
	return s
}

// Get returns the currently active config.
func (s *Store) Get() *Config {
	return s.ptr.Load()
}

// Reload validates next and, only if valid, swaps it in atomically.
func (s *Store) Reload(next *Config) error {
	if err := next.Validate(); err != nil {
		return fmt.Errorf("config: reload rejected: %w", err)
	}
	s.ptr.Store(next)
	return nil
}

func envString(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

func envInt(name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(name string, def bool) bool {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envDuration(name string, def time.Duration) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func envStringList(name string, def []string) []string {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
