package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3API is the subset of the S3 client used by S3Source.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Source reads assets from an S3 (or S3-compatible) bucket.
type S3Source struct {
	client    S3API
	bucket    string
	keyPrefix string
}

// S3SourceConfig configures an S3Source.
type S3SourceConfig struct {
	// Client is the configured S3 client
	Client S3API

	// Bucket holding the assets
	Bucket string

	// KeyPrefix is prepended to every asset name, e.g. "site/html/"
	KeyPrefix string
}

// NewS3 creates an S3-backed asset source.
func NewS3(cfg S3SourceConfig) (*S3Source, error) {
	if cfg.Client == nil {
		return nil, errors.New("s3 asset source: client is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("s3 asset source: bucket is required")
	}

	return &S3Source{
		client:    cfg.Client,
		bucket:    cfg.Bucket,
		keyPrefix: cfg.KeyPrefix,
	}, nil
}

// Read downloads the object keyPrefix+name.
func (s *S3Source) Read(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := s.keyPrefix + strings.TrimPrefix(name, "/")

	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, fmt.Errorf("asset %s: %w", name, ErrAssetNotFound)
		}
		return nil, fmt.Errorf("failed to get object %s from S3: %w", key, err)
	}
	defer func() { _ = result.Body.Close() }()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", key, err)
	}

	return data, nil
}

// Close is a no-op; the S3 client holds no per-source resources.
func (s *S3Source) Close() error {
	return nil
}
