package config

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	awsCredentials "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/marmos91/boowebserver/internal/logger"
	"github.com/marmos91/boowebserver/pkg/assets"
	"github.com/marmos91/boowebserver/pkg/credentials"
	"github.com/marmos91/boowebserver/pkg/dispatcher"
	"github.com/marmos91/boowebserver/pkg/handler"
	"github.com/marmos91/boowebserver/pkg/response"
	"github.com/marmos91/boowebserver/pkg/router"
	"github.com/marmos91/boowebserver/pkg/transport"
	"github.com/mitchellh/mapstructure"
)

// decode decodes a type-specific options map into out, accepting duration
// strings such as "5s".
func decode(options map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	return decoder.Decode(options)
}

// CreateAssetSource creates an asset source based on configuration.
//
// Supported types:
//   - "filesystem": files under a local root directory
//   - "s3": objects in an S3 (or S3-compatible) bucket
func CreateAssetSource(ctx context.Context, cfg *AssetsConfig) (assets.Source, error) {
	switch cfg.Type {
	case "filesystem":
		return createFilesystemAssetSource(cfg.Filesystem)
	case "s3":
		return createS3AssetSource(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown asset source type: %q (supported: filesystem, s3)", cfg.Type)
	}
}

// createFilesystemAssetSource creates a filesystem-based asset source.
func createFilesystemAssetSource(options map[string]any) (assets.Source, error) {
	type FilesystemAssetConfig struct {
		Root string `mapstructure:"root"`
	}

	var srcCfg FilesystemAssetConfig
	if err := decode(options, &srcCfg); err != nil {
		return nil, fmt.Errorf("failed to decode filesystem asset config: %w", err)
	}

	if srcCfg.Root == "" {
		return nil, fmt.Errorf("filesystem asset source: root is required")
	}

	src, err := assets.NewFilesystem(srcCfg.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem asset source: %w", err)
	}
	return src, nil
}

// S3AssetConfig is the decoded form of assets.s3.
type S3AssetConfig struct {
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	KeyPrefix       string `mapstructure:"key_prefix"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	MaxRetries      int    `mapstructure:"max_retries"`
}

// createS3AssetSource creates an S3-based asset source.
func createS3AssetSource(ctx context.Context, options map[string]any) (assets.Source, error) {
	var srcCfg S3AssetConfig
	if err := decode(options, &srcCfg); err != nil {
		return nil, fmt.Errorf("failed to decode S3 asset config: %w", err)
	}

	if srcCfg.Bucket == "" {
		return nil, fmt.Errorf("S3 asset source: bucket is required")
	}
	if srcCfg.Region == "" {
		return nil, fmt.Errorf("S3 asset source: region is required")
	}

	client, err := NewS3Client(ctx, srcCfg)
	if err != nil {
		return nil, err
	}

	src, err := assets.NewS3(assets.S3SourceConfig{
		Client:    client,
		Bucket:    srcCfg.Bucket,
		KeyPrefix: srcCfg.KeyPrefix,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 asset source: %w", err)
	}

	logger.Info("S3 asset source initialized: bucket=%s, region=%s, prefix=%s",
		srcCfg.Bucket, srcCfg.Region, srcCfg.KeyPrefix)

	return src, nil
}

// NewS3Client builds an S3 client from decoded configuration.
func NewS3Client(ctx context.Context, srcCfg S3AssetConfig) (*s3.Client, error) {
	var configOptions []func(*awsConfig.LoadOptions) error

	configOptions = append(configOptions, awsConfig.WithRegion(srcCfg.Region))

	// Custom endpoint for MinIO, Localstack, etc.
	if srcCfg.Endpoint != "" {
		//nolint:staticcheck // TODO: migrate to BaseEndpoint when AWS SDK v2 stabilizes the new API
		customResolver := aws.EndpointResolverWithOptionsFunc(
			func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				//nolint:staticcheck // TODO: migrate to BaseEndpoint when AWS SDK v2 stabilizes the new API
				return aws.Endpoint{
					URL:               srcCfg.Endpoint,
					HostnameImmutable: true,
					Source:            aws.EndpointSourceCustom,
				}, nil
			},
		)
		//nolint:staticcheck // TODO: migrate to BaseEndpoint when AWS SDK v2 stabilizes the new API
		configOptions = append(configOptions, awsConfig.WithEndpointResolverWithOptions(customResolver))
	}

	// Static credentials if provided, otherwise the default credential chain
	if srcCfg.AccessKeyID != "" && srcCfg.SecretAccessKey != "" {
		credProvider := awsCredentials.NewStaticCredentialsProvider(
			srcCfg.AccessKeyID,
			srcCfg.SecretAccessKey,
			"",
		)
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(credProvider))
	}

	maxRetries := srcCfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}
	configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxRetries
		})
	}))

	cfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		// Path-style addressing for MinIO/Localstack
		if srcCfg.Endpoint != "" {
			o.UsePathStyle = true
		}
	}), nil
}

// CreateCredentialStore creates the credential backend based on configuration.
//
// Supported types:
//   - "none": returns a nil store; POST /login serves the static login page
//   - "memory": bcrypt hashes in a map, seeded from memory.users
//   - "badger": BadgerDB, persistent
//   - "sql": database/sql over PostgreSQL (pgx) or SQLite
func CreateCredentialStore(ctx context.Context, cfg *CredentialsConfig) (credentials.Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch cfg.Type {
	case "none":
		return nil, nil
	case "memory":
		var storeCfg credentials.MemoryStoreConfig
		if err := decode(cfg.Memory, &storeCfg); err != nil {
			return nil, fmt.Errorf("failed to decode memory credential config: %w", err)
		}
		return credentials.NewMemoryStore(storeCfg)
	case "badger":
		var storeCfg credentials.BadgerStoreConfig
		if err := decode(cfg.Badger, &storeCfg); err != nil {
			return nil, fmt.Errorf("failed to decode badger credential config: %w", err)
		}
		return credentials.NewBadgerStore(ctx, storeCfg)
	case "sql":
		var storeCfg credentials.SQLStoreConfig
		if err := decode(cfg.SQL, &storeCfg); err != nil {
			return nil, fmt.Errorf("failed to decode sql credential config: %w", err)
		}
		return credentials.NewSQLStore(ctx, storeCfg)
	default:
		return nil, fmt.Errorf("unknown credential store type: %q (supported: none, memory, badger, sql)", cfg.Type)
	}
}

// CreateTLSConfig loads the certificate and key when TLS is enabled. It
// returns nil for plaintext.
func CreateTLSConfig(cfg *TLSConfig) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	tlsConfig, err := transport.LoadServerTLSConfig(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS materials: %w", err)
	}
	return tlsConfig, nil
}

// DispatcherConfig converts the server section into dispatcher settings.
func DispatcherConfig(cfg *ServerConfig, tlsConfig *tls.Config) dispatcher.Config {
	return dispatcher.Config{
		Address:            cfg.Address,
		Port:               cfg.Port,
		Mode:               dispatcher.Mode(cfg.Mode),
		PoolSize:           cfg.PoolSize,
		QueueDepth:         cfg.QueueDepth,
		MaxConnections:     cfg.MaxConnections,
		TLSConfig:          tlsConfig,
		MaxAcceptRate:      cfg.MaxAcceptRate,
		AcceptBurst:        cfg.AcceptBurst,
		ShutdownTimeout:    cfg.ShutdownTimeout,
		MetricsLogInterval: cfg.MetricsLogInterval,
	}
}

// CreateHandler builds the request handler from configuration and the
// already-created asset source and validator.
func CreateHandler(cfg *Config, src assets.Source, validator credentials.Validator, rec handler.Recorder) *handler.Handler {
	r := router.New(router.Config{
		BufferSize: cfg.Server.ReadBufferSize,
		SlowDelay:  cfg.Server.SlowDelay,
	})

	return handler.New(handler.Config{
		Paths:    cfg.Assets.Paths,
		Response: response.Options{SecurityHeaders: cfg.Server.SecurityHeaders},
		Recorder: rec,
	}, r, src, validator)
}
