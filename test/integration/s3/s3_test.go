//go:build integration

package s3_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/marmos91/boowebserver/pkg/assets"
	"github.com/marmos91/boowebserver/pkg/config"
	"github.com/marmos91/boowebserver/test/e2e/framework"
)

// localstackConfig returns the asset options pointing at Localstack (or any
// S3-compatible endpoint set in LOCALSTACK_ENDPOINT).
func localstackConfig(bucket string) map[string]any {
	endpoint := os.Getenv("LOCALSTACK_ENDPOINT")
	if endpoint == "" {
		endpoint = "http://localhost:4566"
	}
	return map[string]any{
		"region":            "us-east-1",
		"bucket":            bucket,
		"key_prefix":        "site/",
		"endpoint":          endpoint,
		"access_key_id":     "test",
		"secret_access_key": "test",
	}
}

// setupBucket creates bucket and uploads the framework pages under the
// "site/" prefix. The returned cleanup deletes the objects and the bucket.
func setupBucket(t *testing.T, bucket string) (*s3.Client, func()) {
	t.Helper()
	ctx := context.Background()

	opts := localstackConfig(bucket)
	client, err := config.NewS3Client(ctx, config.S3AssetConfig{
		Region:          opts["region"].(string),
		Endpoint:        opts["endpoint"].(string),
		AccessKeyID:     "test",
		SecretAccessKey: "test",
	})
	if err != nil {
		t.Fatalf("Failed to create S3 client: %v", err)
	}

	if _, err := client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)}); err != nil {
		t.Fatalf("Failed to create test bucket: %v", err)
	}

	for name, data := range framework.Pages {
		_, err := client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String("site/" + name),
			Body:   bytes.NewReader(data),
		})
		if err != nil {
			t.Fatalf("Failed to upload %s: %v", name, err)
		}
	}

	cleanup := func() {
		for name := range framework.Pages {
			_, _ = client.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(bucket),
				Key:    aws.String("site/" + name),
			})
		}
		_, _ = client.DeleteBucket(ctx, &s3.DeleteBucketInput{Bucket: aws.String(bucket)})
	}
	return client, cleanup
}

func TestS3AssetSource(t *testing.T) {
	ctx := context.Background()
	bucket := fmt.Sprintf("boowebserver-test-%d", os.Getpid())

	_, cleanup := setupBucket(t, bucket)
	defer cleanup()

	src, err := config.CreateAssetSource(ctx, &config.AssetsConfig{
		Type:  "s3",
		S3:    localstackConfig(bucket),
		Paths: assets.DefaultPaths(),
	})
	if err != nil {
		t.Fatalf("Failed to create S3 asset source: %v", err)
	}
	defer src.Close()

	t.Run("ReadExisting", func(t *testing.T) {
		for name, want := range framework.Pages {
			got, err := src.Read(ctx, name)
			if err != nil {
				t.Fatalf("Read(%s) failed: %v", name, err)
			}
			if !bytes.Equal(got, want) {
				t.Errorf("Read(%s) = %q, want %q", name, got, want)
			}
		}
	})

	t.Run("ReadMissing", func(t *testing.T) {
		_, err := src.Read(ctx, "missing.html")
		if !errors.Is(err, assets.ErrAssetNotFound) {
			t.Errorf("expected ErrAssetNotFound, got %v", err)
		}
	})
}
