package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8443 {
		t.Errorf("Server.Port = %d, want 8443", cfg.Server.Port)
	}
	if cfg.Server.WriteTimeout != 90*time.Minute {
		t.Errorf("Server.WriteTimeout = %s", cfg.Server.WriteTimeout)
	}
	if cfg.Store.Backend != "redis" || cfg.Redis.KeyPrefix != "eam" {
		t.Errorf("Store = %+v, Redis = %+v", cfg.Store, cfg.Redis)
	}
	if cfg.Auth.TokenTTL != time.Hour || cfg.Auth.RootUsername != "admin" {
		t.Errorf("Auth = %+v", cfg.Auth)
	}
	if d := cfg.Splunk.StackDefaults(); d.SplunkdPort != 8089 || d.SplunkHome != "/opt/splunk" {
		t.Errorf("StackDefaults() = %+v", d)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() on defaults error = %v", err)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", "9000")
	t.Setenv("STORE_BACKEND", "sql")
	t.Setenv("DB_DRIVER", "pgx")
	t.Setenv("DB_DSN", "postgres://localhost/eam")
	t.Setenv("LOCK_LEASE", "30m")
	t.Setenv("AUTOMATION_BACKEND", "shim")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Addr() != "0.0.0.0:9000" {
		t.Errorf("Addr() = %s", cfg.Server.Addr())
	}
	if cfg.Lock.Lease != 30*time.Minute {
		t.Errorf("Lock.Lease = %s", cfg.Lock.Lease)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoadBadDuration(t *testing.T) {
	t.Setenv("AUTH_TOKEN_TTL", "forever")
	if _, err := Load(); err == nil {
		t.Fatal("Load() expected error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"tls cert without key", func(c *Config) { c.Server.TLSCert = "cert.pem" }, "SERVER_TLS_CERT"},
		{"unknown store", func(c *Config) { c.Store.Backend = "etcd" }, "STORE_BACKEND"},
		{"unknown driver", func(c *Config) { c.Store.Backend = "sql"; c.Database.Driver = "mysql" }, "DB_DRIVER"},
		{"renew not shorter than lease", func(c *Config) { c.Lock.RenewInterval = c.Lock.Lease }, "LOCK_RENEW_INTERVAL"},
		{"unknown automation backend", func(c *Config) { c.Automation.Backend = "salt" }, "AUTOMATION_BACKEND"},
		{"zero concurrency", func(c *Config) { c.Automation.MaxConcurrent = 0 }, "AUTOMATION_MAX_CONCURRENT"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "LOG_FORMAT"},
		{"zero token ttl", func(c *Config) { c.Auth.TokenTTL = 0 }, "AUTH_TOKEN_TTL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			if err != nil {
				t.Fatal(err)
			}
			tt.mutate(cfg)
			err = cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %s", err, tt.wantErr)
			}
		})
	}
}
