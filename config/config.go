// Package config loads service configuration from an optional .env file, an optional
// cmdb.yaml and CMDB_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the CMDB configuration
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Redis    RedisConfig    `mapstructure:"redis"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
	Limits   LimitsConfig   `mapstructure:"limits"`

	// Cascade lists the status side effects applied after status changes
	Cascade []CascadeRule `mapstructure:"cascade"`
	// ProtectedTags maps a tag name to the groups allowed to change it
	ProtectedTags map[string][]string `mapstructure:"protected_tags"`
}

// DatabaseConfig selects the store. Driver is sqlite3, pgx or postgres.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	UseHTTPS        bool          `mapstructure:"use_https"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr is the listen address
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LogConfig represents logger configuration
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// AuthConfig configures actor identity. OIDC is enabled when an issuer is set, bearer tokens
// when a JWT secret is set.
type AuthConfig struct {
	JWTSecret        string `mapstructure:"jwt_secret"`
	OIDCIssuer       string `mapstructure:"oidc_issuer"`
	OIDCClientID     string `mapstructure:"oidc_client_id"`
	OIDCClientSecret string `mapstructure:"oidc_client_secret"`
	OIDCRedirectURL  string `mapstructure:"oidc_redirect_url"`
	GroupsClaim      string `mapstructure:"groups_claim"`
}

// RedisConfig configures the label cache. An empty address disables it.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// NATSConfig configures audit event publishing. An empty URL disables it.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

// TracingConfig enables span export to stdout
type TracingConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LimitsConfig bounds request sizes
type LimitsConfig struct {
	MaxBulkItems int `mapstructure:"max_bulk_items"`
	UIPerPage    int `mapstructure:"ui_per_page"`
	CascadeDepth int `mapstructure:"cascade_depth"`
}

// CascadeRule maps a status change on one resource type to the status of its dependent
type CascadeRule struct {
	Source       string `mapstructure:"source"`
	Status       string `mapstructure:"status"`
	Target       string `mapstructure:"target"`
	TargetStatus string `mapstructure:"target_status"`
}

// Load loads the configuration. path names an explicit config file; when empty cmdb.yaml is
// looked up in the working directory and /etc/cmdb.
func Load(path string) (*Config, error) {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load the env vars: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("cmdb")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/cmdb")
	}

	// Enable environment variable support
	v.SetEnvPrefix("CMDB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file if it exists
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || path != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.dsn", "cmdb.db?_busy_timeout=5000")
	v.SetDefault("server.host", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.use_https", false)
	v.SetDefault("server.request_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.oidc_issuer", "")
	v.SetDefault("auth.oidc_client_id", "")
	v.SetDefault("auth.oidc_client_secret", "")
	v.SetDefault("auth.oidc_redirect_url", "")
	v.SetDefault("auth.groups_claim", "groups")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", 10*time.Minute)
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject_prefix", "cmdb.audit")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("limits.max_bulk_items", 500)
	v.SetDefault("limits.ui_per_page", 50)
	v.SetDefault("limits.cascade_depth", 3)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Limits.MaxBulkItems <= 0 {
		return fmt.Errorf("limits.max_bulk_items must be positive, got %d", c.Limits.MaxBulkItems)
	}
	if c.Limits.UIPerPage <= 0 {
		return fmt.Errorf("limits.ui_per_page must be positive, got %d", c.Limits.UIPerPage)
	}
	for i, rule := range c.Cascade {
		if rule.Source == "" || rule.Status == "" || rule.Target == "" || rule.TargetStatus == "" {
			return fmt.Errorf("cascade[%d] needs source, status, target and target_status", i)
		}
	}
	if c.Auth.OIDCIssuer != "" && (c.Auth.OIDCClientID == "" || c.Auth.OIDCRedirectURL == "") {
		return fmt.Errorf("auth.oidc_issuer requires oidc_client_id and oidc_redirect_url")
	}
	return nil
}
