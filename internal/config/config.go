package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v9"

	"github.com/bcnelson/splunk-eam/internal/domain"
)

// Config holds all configuration for the application.
type Config struct {
	Server     ServerConfig
	Store      StoreConfig
	Redis      RedisConfig
	Database   DatabaseConfig
	Auth       AuthConfig
	Lock       LockConfig
	Automation AutomationConfig
	Splunk     SplunkConfig
	Log        LogConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `env:"SERVER_HOST" envDefault:"0.0.0.0"`
	Port            int           `env:"SERVER_PORT" envDefault:"8443"`
	TLSCert         string        `env:"SERVER_TLS_CERT"`
	TLSKey          string        `env:"SERVER_TLS_KEY"`
	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"30s"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"90m"` // automation calls are synchronous
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// StoreConfig selects the credential store backend.
type StoreConfig struct {
	Backend       string        `env:"STORE_BACKEND" envDefault:"redis"`
	SweepInterval time.Duration `env:"STORE_SWEEP_INTERVAL" envDefault:"1m"`
}

// RedisConfig holds redis store configuration.
type RedisConfig struct {
	Addr      string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password  string `env:"REDIS_PASSWORD"`
	DB        int    `env:"REDIS_DB" envDefault:"0"`
	KeyPrefix string `env:"REDIS_KEY_PREFIX" envDefault:"eam"`
}

// DatabaseConfig holds SQL store configuration.
type DatabaseConfig struct {
	Driver string `env:"DB_DRIVER" envDefault:"sqlite3"`
	DSN    string `env:"DB_DSN" envDefault:"data/eam.db"`
}

// AuthConfig holds token authority configuration.
type AuthConfig struct {
	RootUsername string        `env:"AUTH_ROOT_USERNAME" envDefault:"admin"`
	RootPassword string        `env:"AUTH_ROOT_PASSWORD"` // seeds the root credential on first start only
	TokenTTL     time.Duration `env:"AUTH_TOKEN_TTL" envDefault:"1h"`
	LoginRate    float64       `env:"AUTH_LOGIN_RATE" envDefault:"1"`
	LoginBurst   int           `env:"AUTH_LOGIN_BURST" envDefault:"5"`
}

// LockConfig holds lease configuration.
type LockConfig struct {
	Lease         time.Duration `env:"LOCK_LEASE" envDefault:"15m"`
	RenewInterval time.Duration `env:"LOCK_RENEW_INTERVAL" envDefault:"5m"`
}

// AutomationConfig holds automation backend configuration.
type AutomationConfig struct {
	Backend       string        `env:"AUTOMATION_BACKEND" envDefault:"ansible"`
	PlaybookBin   string        `env:"ANSIBLE_PLAYBOOK_BIN" envDefault:"ansible-playbook"`
	PlaybookDir   string        `env:"ANSIBLE_PLAYBOOK_DIR" envDefault:"playbooks"`
	ExtraArgs     string        `env:"ANSIBLE_EXTRA_ARGS"`
	Timeout       time.Duration `env:"AUTOMATION_TIMEOUT" envDefault:"60m"`
	MaxConcurrent int64         `env:"AUTOMATION_MAX_CONCURRENT" envDefault:"4"`
	ShimFile      string        `env:"AUTOMATION_SHIM_FILE"` // Path to file for the recording shim
}

// SplunkConfig holds the defaults applied to new stacks.
type SplunkConfig struct {
	Home  string `env:"SPLUNK_HOME" envDefault:"/opt/splunk"`
	Port  int    `env:"SPLUNKD_PORT" envDefault:"8089"`
	User  string `env:"SPLUNK_USER" envDefault:"splunk"`
	Group string `env:"SPLUNK_GROUP" envDefault:"splunk"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}

	sections := []struct {
		name string
		v    any
	}{
		{"server", &cfg.Server},
		{"store", &cfg.Store},
		{"redis", &cfg.Redis},
		{"database", &cfg.Database},
		{"auth", &cfg.Auth},
		{"lock", &cfg.Lock},
		{"automation", &cfg.Automation},
		{"splunk", &cfg.Splunk},
		{"log", &cfg.Log},
	}
	for _, s := range sections {
		if err := env.Parse(s.v); err != nil {
			return nil, fmt.Errorf("parsing %s config: %w", s.name, err)
		}
	}

	return cfg, nil
}

// Addr returns the server address in host:port format.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// TLSEnabled reports whether both a certificate and a key are configured.
func (c *ServerConfig) TLSEnabled() bool {
	return c.TLSCert != "" && c.TLSKey != ""
}

// StackDefaults returns the defaults applied to new stacks.
func (c *SplunkConfig) StackDefaults() domain.StackDefaults {
	return domain.StackDefaults{
		SplunkHome:  c.Home,
		SplunkdPort: c.Port,
		SplunkUser:  c.User,
		SplunkGroup: c.Group,
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if (c.Server.TLSCert == "") != (c.Server.TLSKey == "") {
		return fmt.Errorf("SERVER_TLS_CERT and SERVER_TLS_KEY must be set together")
	}

	switch c.Store.Backend {
	case "memory", "redis":
	case "sql":
		switch c.Database.Driver {
		case "sqlite3", "postgres", "pgx":
		default:
			return fmt.Errorf("DB_DRIVER must be one of: sqlite3, postgres, pgx")
		}
		if c.Database.DSN == "" {
			return fmt.Errorf("DB_DSN is required when STORE_BACKEND is sql")
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be one of: memory, redis, sql")
	}
	if c.Store.SweepInterval <= 0 {
		return fmt.Errorf("STORE_SWEEP_INTERVAL must be positive")
	}

	if c.Auth.RootUsername == "" {
		return fmt.Errorf("AUTH_ROOT_USERNAME must not be empty")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("AUTH_TOKEN_TTL must be positive")
	}
	if c.Auth.LoginRate <= 0 || c.Auth.LoginBurst < 1 {
		return fmt.Errorf("AUTH_LOGIN_RATE and AUTH_LOGIN_BURST must be positive")
	}

	if c.Lock.Lease <= 0 || c.Lock.RenewInterval <= 0 {
		return fmt.Errorf("LOCK_LEASE and LOCK_RENEW_INTERVAL must be positive")
	}
	if c.Lock.RenewInterval >= c.Lock.Lease {
		return fmt.Errorf("LOCK_RENEW_INTERVAL (%s) must be shorter than LOCK_LEASE (%s)", c.Lock.RenewInterval, c.Lock.Lease)
	}

	switch c.Automation.Backend {
	case "ansible":
		if c.Automation.PlaybookDir == "" {
			return fmt.Errorf("ANSIBLE_PLAYBOOK_DIR is required for the ansible backend")
		}
	case "shim":
	default:
		return fmt.Errorf("AUTOMATION_BACKEND must be one of: ansible, shim")
	}
	if c.Automation.MaxConcurrent < 1 {
		return fmt.Errorf("AUTOMATION_MAX_CONCURRENT must be at least 1")
	}

	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("LOG_FORMAT must be one of: json, console")
	}

	return nil
}
