package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_RequiresSystemConfig(t *testing.T) {
	os.Unsetenv("SYSTEM_CONFIG_FILE")
	os.Unsetenv("CUSTOMER")
	_, err := Load()
	if err == nil {
		t.Fatal("expected error when SYSTEM_CONFIG_FILE and CUSTOMER are missing")
	}
}

func TestLoad_WithSystemConfigFile(t *testing.T) {
	t.Setenv("SYSTEM_CONFIG_FILE", "/etc/fhir/systems.toml")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.SystemConfigFile != "/etc/fhir/systems.toml" {
		t.Errorf("expected SYSTEM_CONFIG_FILE to be set, got %s", cfg.SystemConfigFile)
	}
	if cfg.Port != "8000" {
		t.Errorf("expected default port 8000, got %s", cfg.Port)
	}
	if cfg.APIPrefix != "/api/v1" {
		t.Errorf("expected default api prefix /api/v1, got %s", cfg.APIPrefix)
	}
	if cfg.StorageBackend != "local" {
		t.Errorf("expected default storage backend local, got %s", cfg.StorageBackend)
	}
	if cfg.RequestTimeout != 30*time.Second {
		t.Errorf("expected default request timeout 30s, got %s", cfg.RequestTimeout)
	}
	if cfg.BundleWorkers != 8 {
		t.Errorf("expected default bundle workers 8, got %d", cfg.BundleWorkers)
	}
}

func TestLoad_CustomerDerivesSystemConfigFile(t *testing.T) {
	os.Unsetenv("SYSTEM_CONFIG_FILE")
	t.Setenv("CUSTOMER", "Acme")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := filepath.Join("config", "acme.toml")
	if cfg.SystemConfigFile != want {
		t.Errorf("expected %s, got %s", want, cfg.SystemConfigFile)
	}
}

func TestLoad_CORSOriginsSplit(t *testing.T) {
	t.Setenv("SYSTEM_CONFIG_FILE", "systems.toml")
	t.Setenv("CORS_ORIGINS", "http://a.example,http://b.example")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.CORSOrigins) != 2 {
		t.Fatalf("expected 2 origins, got %v", cfg.CORSOrigins)
	}
	if cfg.CORSOrigins[1] != "http://b.example" {
		t.Errorf("unexpected second origin %q", cfg.CORSOrigins[1])
	}
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{Env: "development", StorageBackend: "local", BundleWorkers: 4}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid local", func(c *Config) {}, false},
		{"valid memory", func(c *Config) { c.StorageBackend = "memory" }, false},
		{"unknown backend", func(c *Config) { c.StorageBackend = "hdfs" }, true},
		{"s3 without endpoint", func(c *Config) { c.StorageBackend = "s3"; c.S3Bucket = "b" }, true},
		{"s3 without bucket", func(c *Config) { c.StorageBackend = "s3"; c.S3Endpoint = "localhost:9000" }, true},
		{"s3 complete", func(c *Config) {
			c.StorageBackend = "s3"
			c.S3Endpoint = "localhost:9000"
			c.S3Bucket = "fhir"
		}, false},
		{"production without key", func(c *Config) { c.Env = "production" }, true},
		{"production with key", func(c *Config) { c.Env = "production"; c.AuthSigningKey = "secret" }, false},
		{"zero bundle workers", func(c *Config) { c.BundleWorkers = 0 }, true},
		{"negative timeout", func(c *Config) { c.RequestTimeout = -time.Second }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestIsDev(t *testing.T) {
	cfg := &Config{Env: "development"}
	if !cfg.IsDev() {
		t.Error("expected IsDev to be true")
	}

	cfg.Env = "production"
	if cfg.IsDev() {
		t.Error("expected IsDev to be false")
	}
	if !cfg.IsProduction() {
		t.Error("expected IsProduction to be true")
	}
}

func TestLoopbackOrigin(t *testing.T) {
	cfg := Config{Port: "8000"}
	if got := cfg.LoopbackOrigin(); got != "http://127.0.0.1:8000" {
		t.Errorf("expected loopback origin, got %q", got)
	}
	cfg.BundleOrigin = "http://fhir.internal:9000/"
	if got := cfg.LoopbackOrigin(); got != "http://fhir.internal:9000" {
		t.Errorf("expected configured origin, got %q", got)
	}
}
