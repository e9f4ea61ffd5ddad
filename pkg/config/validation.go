package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// This function uses go-playground/validator for declarative validation
// via struct tags, with additional custom validation for complex rules
// that cannot be expressed in tags.
//
// Note: Log level normalization is handled in ApplyDefaults, not here.
// Validation accepts both uppercase and lowercase log levels.
//
// A pooled server with pool_size 0 passes validation; the dispatcher rejects
// it when it is created.
//
// Returns an error describing validation failures.
func Validate(cfg *Config) error {
	// Run struct tag validation
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	// Custom validation rules that can't be expressed in tags
	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	if cfg.TLS.Enabled && (cfg.TLS.CertFile == "" || cfg.TLS.KeyFile == "") {
		return fmt.Errorf("tls: cert_file and key_file are required when tls is enabled")
	}

	switch cfg.Assets.Type {
	case "filesystem":
		if root, _ := cfg.Assets.Filesystem["root"].(string); root == "" {
			return fmt.Errorf("assets.filesystem: root is required")
		}
	case "s3":
		if bucket, _ := cfg.Assets.S3["bucket"].(string); bucket == "" {
			return fmt.Errorf("assets.s3: bucket is required")
		}
	}

	switch cfg.Credentials.Type {
	case "sql":
		if dsn, _ := cfg.Credentials.SQL["dsn"].(string); dsn == "" {
			return fmt.Errorf("credentials.sql: dsn is required (set DATABASE_URL)")
		}
	case "badger":
		path, _ := cfg.Credentials.Badger["path"].(string)
		inMemory, _ := cfg.Credentials.Badger["in_memory"].(bool)
		if path == "" && !inMemory {
			return fmt.Errorf("credentials.badger: path is required unless in_memory is set")
		}
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Port == cfg.Server.Port {
		return fmt.Errorf("metrics: port %d conflicts with server port", cfg.Metrics.Port)
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		// Return the first validation error with context
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}
