package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/marmos91/boowebserver/pkg/assets"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every environment variable read by Load.
const EnvPrefix = "BOOWEB"

// Config represents the complete server configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority, applied by the caller after Load)
//  2. Environment variables (BOOWEB_*, plus DATABASE_URL)
//  3. Configuration file (YAML or TOML)
//  4. Default values (lowest priority)
//
// Store Configuration Pattern:
// The asset source and credential store each select an implementation with a
// Type field. Type-specific settings live in a map named after the type and
// only the section matching the selected type is decoded.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging"`

	// Server contains listener, concurrency and shutdown settings
	Server ServerConfig `mapstructure:"server"`

	// TLS selects plaintext or TLS transport
	TLS TLSConfig `mapstructure:"tls"`

	// Assets selects where pages and icons are read from
	Assets AssetsConfig `mapstructure:"assets"`

	// Credentials selects the backend consulted by POST /login
	Credentials CredentialsConfig `mapstructure:"credentials"`

	// Metrics controls the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required"`
}

// ServerConfig contains listener and dispatcher settings.
type ServerConfig struct {
	// Address is the IP address to bind
	Address string `mapstructure:"address" validate:"required,ip"`

	// Port is the TCP port to bind (0 = ephemeral)
	Port int `mapstructure:"port" validate:"min=0,max=65535"`

	// Mode is the concurrency strategy
	// Valid values: pooled, cooperative
	Mode string `mapstructure:"mode" validate:"required,oneof=pooled cooperative"`

	// PoolSize is the number of workers in pooled mode. A pool of 0 workers
	// is rejected when the dispatcher is created.
	PoolSize int `mapstructure:"pool_size" validate:"min=0"`

	// QueueDepth bounds the pooled-mode job queue (0 = 64 per worker)
	QueueDepth int `mapstructure:"queue_depth" validate:"min=0"`

	// MaxConnections caps concurrent connections in cooperative mode (0 = unlimited)
	MaxConnections int `mapstructure:"max_connections" validate:"min=0"`

	// ReadBufferSize is the size of the single read a request is classified from
	ReadBufferSize int `mapstructure:"read_buffer_size" validate:"min=0"`

	// SlowDelay is the artificial delay of GET /sleep
	SlowDelay time.Duration `mapstructure:"slow_delay" validate:"min=0"`

	// ShutdownTimeout is the maximum time to wait for in-flight connections
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0"`

	// MaxAcceptRate limits new connections per second (0 = unlimited)
	MaxAcceptRate float64 `mapstructure:"max_accept_rate" validate:"min=0"`

	// AcceptBurst is the burst allowed above MaxAcceptRate
	AcceptBurst int `mapstructure:"accept_burst" validate:"min=0"`

	// SecurityHeaders adds CSP, nosniff, XSS protection and a CORS wildcard
	// to every response
	SecurityHeaders bool `mapstructure:"security_headers"`

	// MetricsLogInterval is how often to log the active connection count (0 disables)
	MetricsLogInterval time.Duration `mapstructure:"metrics_log_interval" validate:"min=0"`
}

// TLSConfig selects the transport.
type TLSConfig struct {
	// Enabled serves TLS instead of plaintext
	Enabled bool `mapstructure:"enabled"`

	// CertFile is the PEM certificate chain
	CertFile string `mapstructure:"cert_file"`

	// KeyFile is the PEM private key
	KeyFile string `mapstructure:"key_file"`
}

// AssetsConfig specifies the asset source.
type AssetsConfig struct {
	// Type specifies which source implementation to use
	// Valid values: filesystem, s3
	Type string `mapstructure:"type" validate:"required,oneof=filesystem s3"`

	// Filesystem contains filesystem-specific configuration
	// Only used when Type = "filesystem"
	Filesystem map[string]any `mapstructure:"filesystem"`

	// S3 contains S3-specific configuration
	// Only used when Type = "s3"
	S3 map[string]any `mapstructure:"s3"`

	// Paths names the asset served by each route
	Paths assets.Paths `mapstructure:"paths"`
}

// CredentialsConfig specifies the credential backend.
type CredentialsConfig struct {
	// Type specifies which backend to use
	// Valid values: none, memory, badger, sql
	// "none" answers POST /login with the static login page.
	Type string `mapstructure:"type" validate:"required,oneof=none memory badger sql"`

	// Memory contains memory-specific configuration
	Memory map[string]any `mapstructure:"memory"`

	// Badger contains BadgerDB-specific configuration
	Badger map[string]any `mapstructure:"badger"`

	// SQL contains database/sql-specific configuration. The dsn key is also
	// read from DATABASE_URL.
	SQL map[string]any `mapstructure:"sql"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	// Enabled starts the metrics HTTP server
	Enabled bool `mapstructure:"enabled"`

	// Port is the metrics HTTP port
	Port int `mapstructure:"port" validate:"min=0,max=65535"`
}

// envKeys lists every scalar key that may be set from the environment.
// Viper only consults the environment for keys it already knows about.
var envKeys = []string{
	"logging.level",
	"logging.format",
	"logging.output",
	"server.address",
	"server.port",
	"server.mode",
	"server.pool_size",
	"server.queue_depth",
	"server.max_connections",
	"server.read_buffer_size",
	"server.slow_delay",
	"server.shutdown_timeout",
	"server.max_accept_rate",
	"server.accept_burst",
	"server.security_headers",
	"server.metrics_log_interval",
	"tls.enabled",
	"tls.cert_file",
	"tls.key_file",
	"assets.type",
	"assets.filesystem.root",
	"assets.s3.bucket",
	"assets.s3.region",
	"assets.s3.endpoint",
	"credentials.type",
	"credentials.badger.path",
	"credentials.sql.driver",
	"metrics.enabled",
	"metrics.port",
}

// Load loads configuration from file, environment, and defaults.
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if err := setupViper(v, configPath); err != nil {
		return nil, err
	}

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures environment variables and the config file location.
func setupViper(v *viper.Viper, configPath string) error {
	// Example: BOOWEB_SERVER_PORT=8080
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setViperDefaults(v)

	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	// The credential DSN keeps the conventional unprefixed name too.
	if err := v.BindEnv("credentials.sql.dsn", EnvPrefix+"_CREDENTIALS_SQL_DSN", "DATABASE_URL"); err != nil {
		return fmt.Errorf("failed to bind env for credentials.sql.dsn: %w", err)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// $XDG_CONFIG_HOME/boowebserver/config.{yaml,toml}
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	return nil
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to the
// current directory if the home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "boowebserver")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "boowebserver")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// GetConfigDir returns the configuration directory path.
func GetConfigDir() string {
	return getConfigDir()
}
