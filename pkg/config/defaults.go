package config

import (
	"strings"
	"time"

	"github.com/marmos91/boowebserver/pkg/assets"
	"github.com/spf13/viper"
)

const (
	// DefaultAddress and DefaultPort are the listener used when none is given.
	DefaultAddress = "127.0.0.1"
	DefaultPort    = 7878

	// DefaultPoolSize is the pooled-mode worker count used by the sample config.
	DefaultPoolSize = 10

	DefaultCertFile = "certs/sample.pem"
	DefaultKeyFile  = "certs/sample.rsa"
	DefaultAssetDir = "resources/html"
)

// setViperDefaults registers defaults that cannot be told apart from an
// explicit zero value after unmarshalling.
func setViperDefaults(v *viper.Viper) {
	v.SetDefault("tls.enabled", true)
}

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", nil) are replaced with defaults
//   - Explicit values are preserved
//   - Booleans keep whatever viper produced (see setViperDefaults)
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyTLSDefaults(&cfg.TLS)
	applyAssetsDefaults(&cfg.Assets)
	applyCredentialsDefaults(&cfg.Credentials)
	applyMetricsDefaults(&cfg.Metrics)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyServerDefaults sets server defaults.
func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Address == "" {
		cfg.Address = DefaultAddress
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Mode == "" {
		cfg.Mode = "cooperative"
	}
	cfg.Mode = strings.ToLower(cfg.Mode)

	// PoolSize is left alone: a pooled server with 0 workers must fail at
	// startup, not silently grow a pool.

	if cfg.ReadBufferSize == 0 {
		cfg.ReadBufferSize = 1024
	}
	if cfg.SlowDelay == 0 {
		cfg.SlowDelay = 5 * time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}

	// MaxConnections, MaxAcceptRate and MetricsLogInterval default to 0 (off)
}

// applyTLSDefaults fills the bundled sample certificate paths.
func applyTLSDefaults(cfg *TLSConfig) {
	if cfg.CertFile == "" {
		cfg.CertFile = DefaultCertFile
	}
	if cfg.KeyFile == "" {
		cfg.KeyFile = DefaultKeyFile
	}
}

// applyAssetsDefaults sets asset source defaults.
func applyAssetsDefaults(cfg *AssetsConfig) {
	if cfg.Type == "" {
		cfg.Type = "filesystem"
	}

	// Initialize maps if nil
	if cfg.Filesystem == nil {
		cfg.Filesystem = make(map[string]any)
	}
	if cfg.S3 == nil {
		cfg.S3 = make(map[string]any)
	}

	if _, ok := cfg.Filesystem["root"]; !ok {
		cfg.Filesystem["root"] = DefaultAssetDir
	}

	// Each path falls back independently so a config can override one page.
	def := assets.DefaultPaths()
	if cfg.Paths.Home == "" {
		cfg.Paths.Home = def.Home
	}
	if cfg.Paths.NotFound == "" {
		cfg.Paths.NotFound = def.NotFound
	}
	if cfg.Paths.Unauthorized == "" {
		cfg.Paths.Unauthorized = def.Unauthorized
	}
	if cfg.Paths.Login == "" {
		cfg.Paths.Login = def.Login
	}
	if cfg.Paths.Favicon == "" {
		cfg.Paths.Favicon = def.Favicon
	}
}

// applyCredentialsDefaults picks the SQL backend when a DSN is available
// (usually from DATABASE_URL), the in-memory store otherwise.
func applyCredentialsDefaults(cfg *CredentialsConfig) {
	if cfg.Memory == nil {
		cfg.Memory = make(map[string]any)
	}
	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}
	if cfg.SQL == nil {
		cfg.SQL = make(map[string]any)
	}

	if cfg.Type == "" {
		if dsn, _ := cfg.SQL["dsn"].(string); dsn != "" {
			cfg.Type = "sql"
		} else {
			cfg.Type = "memory"
		}
	}
	cfg.Type = strings.ToLower(cfg.Type)

	if _, ok := cfg.SQL["driver"]; !ok {
		cfg.SQL["driver"] = "pgx"
	}
}

// applyMetricsDefaults sets metrics defaults.
func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = 9090
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
func GetDefaultConfig() *Config {
	cfg := &Config{
		Server: ServerConfig{
			PoolSize: DefaultPoolSize,
		},
		TLS: TLSConfig{
			Enabled: true,
		},
		Credentials: CredentialsConfig{
			Type: "memory",
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
