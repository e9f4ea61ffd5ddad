package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

const configHeader = `# boowebserver configuration file
#
# Every key can be overridden with an environment variable named
# BOOWEB_<SECTION>_<KEY>, e.g. BOOWEB_SERVER_PORT=8443.
# credentials.sql.dsn is also read from DATABASE_URL.

`

// sectionComments documents each top-level section of the generated file.
var sectionComments = map[string]string{
	"logging":     "Log level (DEBUG, INFO, WARN, ERROR), format (text, json) and output (stdout, stderr, path)",
	"server":      "Listener, concurrency mode (pooled, cooperative) and shutdown behavior",
	"tls":         "TLS transport. Set enabled: false to serve plaintext",
	"assets":      "Where pages are read from: filesystem (root) or s3 (bucket, region, endpoint)",
	"credentials": "Login backend: none, memory, badger or sql (driver pgx or sqlite)",
	"metrics":     "Prometheus endpoint served on its own port",
}

// InitConfig writes a default configuration file to the default location.
//
// Returns the path written. Fails if the file exists and force is false.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes a default configuration file to path, creating
// parent directories as needed.
func InitConfigToPath(path string, force bool) error {
	if !force && ConfigExists(path) {
		return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
	}

	data, err := RenderConfig(GetDefaultConfig())
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// ConfigExists reports whether a file exists at path.
func ConfigExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// RenderConfig encodes cfg as commented YAML using the same key names Load reads.
func RenderConfig(cfg *Config) ([]byte, error) {
	var tree map[string]any
	if err := mapstructure.Decode(cfg, &tree); err != nil {
		return nil, fmt.Errorf("failed to flatten config: %w", err)
	}

	var doc yaml.Node
	if err := doc.Encode(tree); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}

	// Mapping nodes alternate key, value.
	for i := 0; i+1 < len(doc.Content); i += 2 {
		key := doc.Content[i]
		if comment, ok := sectionComments[key.Value]; ok {
			key.HeadComment = comment
		}
	}

	var buf bytes.Buffer
	buf.WriteString(configHeader)

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}

	return buf.Bytes(), nil
}
