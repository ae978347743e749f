package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port              string        `mapstructure:"PORT"`
	Env               string        `mapstructure:"ENV"`
	LogLevel          string        `mapstructure:"LOG_LEVEL"`
	APIPrefix         string        `mapstructure:"API_PREFIX"`
	Customer          string        `mapstructure:"CUSTOMER"`
	SystemConfigFile  string        `mapstructure:"SYSTEM_CONFIG_FILE"`
	StorageBackend    string        `mapstructure:"STORAGE_BACKEND"`
	S3Endpoint        string        `mapstructure:"S3_ENDPOINT"`
	S3AccessKeyID     string        `mapstructure:"S3_ACCESS_KEY_ID"`
	S3SecretAccessKey string        `mapstructure:"S3_SECRET_ACCESS_KEY"`
	S3UseSSL          bool          `mapstructure:"S3_USE_SSL"`
	S3Bucket          string        `mapstructure:"S3_BUCKET"`
	AuthSigningKey    string        `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer        string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience      string        `mapstructure:"AUTH_AUDIENCE"`
	CORSOrigins       []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS      float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst    int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout    time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BundleWorkers     int           `mapstructure:"BUNDLE_WORKERS"`
	BundleRetryMax    int           `mapstructure:"BUNDLE_RETRY_MAX"`
	BundleOrigin      string        `mapstructure:"BUNDLE_ORIGIN"`
	BodyLimit         string        `mapstructure:"BODY_LIMIT"`
	BundleBodyLimit   string        `mapstructure:"BUNDLE_BODY_LIMIT"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("API_PREFIX", "/api/v1")
	v.SetDefault("STORAGE_BACKEND", "local")
	v.SetDefault("CORS_ORIGINS", "http://localhost:8000,http://localhost:2000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("BUNDLE_WORKERS", 8)
	v.SetDefault("BUNDLE_RETRY_MAX", 2)
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("BUNDLE_BODY_LIMIT", "10M")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range []string{
		"PORT", "ENV", "LOG_LEVEL", "API_PREFIX", "CUSTOMER", "SYSTEM_CONFIG_FILE",
		"STORAGE_BACKEND", "S3_ENDPOINT", "S3_ACCESS_KEY_ID", "S3_SECRET_ACCESS_KEY",
		"S3_USE_SSL", "S3_BUCKET", "AUTH_SIGNING_KEY", "AUTH_ISSUER", "AUTH_AUDIENCE",
		"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "REQUEST_TIMEOUT",
		"BUNDLE_WORKERS", "BUNDLE_RETRY_MAX", "BUNDLE_ORIGIN", "BODY_LIMIT", "BUNDLE_BODY_LIMIT",
	} {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}

	if cfg.SystemConfigFile == "" && cfg.Customer != "" {
		cfg.SystemConfigFile = filepath.Join("config", strings.ToLower(cfg.Customer)+".toml")
	}

	if cfg.SystemConfigFile == "" {
		return nil, fmt.Errorf("SYSTEM_CONFIG_FILE or CUSTOMER is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// AuthEnabled reports whether bearer tokens are verified on API routes.
func (c *Config) AuthEnabled() bool {
	return c.AuthSigningKey != ""
}

// LoopbackOrigin is where bundle entries are replayed: BUNDLE_ORIGIN when
// set, otherwise this server on the loopback interface.
func (c *Config) LoopbackOrigin() string {
	if c.BundleOrigin != "" {
		return strings.TrimSuffix(c.BundleOrigin, "/")
	}
	return "http://127.0.0.1:" + c.Port
}

// Validate checks that the configuration is safe to run. Production requires
// an auth signing key, and the s3 backend requires endpoint and bucket.
func (c *Config) Validate() error {
	switch c.StorageBackend {
	case "local", "memory":
	case "s3":
		if c.S3Endpoint == "" {
			return fmt.Errorf("S3_ENDPOINT is required when STORAGE_BACKEND is \"s3\"")
		}
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when STORAGE_BACKEND is \"s3\"")
		}
	default:
		return fmt.Errorf("STORAGE_BACKEND must be \"local\", \"memory\", or \"s3\", got %q", c.StorageBackend)
	}

	if c.IsProduction() && !c.AuthEnabled() {
		return fmt.Errorf("AUTH_SIGNING_KEY is required in production")
	}

	if c.BundleWorkers <= 0 {
		return fmt.Errorf("BUNDLE_WORKERS must be positive, got %d", c.BundleWorkers)
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must not be negative, got %s", c.RequestTimeout)
	}

	return nil
}
