package assets

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilesystemSource(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "home.html"), []byte("<h1>home</h1>"), 0644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "img"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "img", "favicon.ico"), []byte{0, 1, 2}, 0644))

	src, err := NewFilesystem(dir)
	require.NoError(t, err)
	defer src.Close()

	ctx := context.Background()

	data, err := src.Read(ctx, "home.html")
	require.NoError(t, err)
	assert.Equal(t, "<h1>home</h1>", string(data))

	data, err = src.Read(ctx, "img/favicon.ico")
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1, 2}, data)

	_, err = src.Read(ctx, "missing.html")
	assert.ErrorIs(t, err, ErrAssetNotFound)
}

func TestFilesystemSource_NoEscape(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "site")
	require.NoError(t, os.Mkdir(root, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(parent, "secret.txt"), []byte("x"), 0644))

	src, err := NewFilesystem(root)
	require.NoError(t, err)

	_, err = src.Read(context.Background(), "../secret.txt")
	assert.ErrorIs(t, err, ErrAssetNotFound)
}

func TestNewFilesystem_MissingRoot(t *testing.T) {
	_, err := NewFilesystem(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestFilesystemSource_CancelledContext(t *testing.T) {
	src, err := NewFilesystem(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = src.Read(ctx, "home.html")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemorySource(t *testing.T) {
	src := NewMemory(map[string][]byte{"a": []byte("1")})
	src.Put("b", []byte("2"))

	data, err := src.Read(context.Background(), "b")
	require.NoError(t, err)
	assert.Equal(t, "2", string(data))

	_, err = src.Read(context.Background(), "c")
	assert.ErrorIs(t, err, ErrAssetNotFound)
}

type fakeS3 struct {
	objects map[string][]byte
	err     error
	lastKey string
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.lastKey = aws.ToString(in.Key)
	if f.err != nil {
		return nil, f.err
	}
	data, ok := f.objects[f.lastKey]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func TestS3Source(t *testing.T) {
	client := &fakeS3{objects: map[string][]byte{"site/home.html": []byte("<p>s3</p>")}}
	src, err := NewS3(S3SourceConfig{Client: client, Bucket: "assets", KeyPrefix: "site/"})
	require.NoError(t, err)

	data, err := src.Read(context.Background(), "home.html")
	require.NoError(t, err)
	assert.Equal(t, "<p>s3</p>", string(data))
	assert.Equal(t, "site/home.html", client.lastKey)

	_, err = src.Read(context.Background(), "404.html")
	assert.ErrorIs(t, err, ErrAssetNotFound)

	client.err = errors.New("network down")
	_, err = src.Read(context.Background(), "home.html")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrAssetNotFound)
}

func TestNewS3_Validation(t *testing.T) {
	_, err := NewS3(S3SourceConfig{Bucket: "b"})
	assert.Error(t, err)
	_, err = NewS3(S3SourceConfig{Client: &fakeS3{}})
	assert.Error(t, err)
}
