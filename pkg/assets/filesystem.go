package assets

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FilesystemSource reads assets from a directory tree on local disk.
//
// Reads are plain blocking file reads. Connection goroutines that block on
// disk are parked by the Go runtime, so no other connection stalls behind them.
type FilesystemSource struct {
	root string
}

// NewFilesystem creates a source rooted at root. The directory must exist.
func NewFilesystem(root string) (*FilesystemSource, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("asset root %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("asset root %s is not a directory", root)
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve asset root %s: %w", root, err)
	}

	return &FilesystemSource{root: abs}, nil
}

// Read returns the contents of root/name. Names escaping root are treated as
// missing.
func (s *FilesystemSource) Read(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := filepath.Join(s.root, filepath.Clean("/"+name))
	if !strings.HasPrefix(path, s.root+string(filepath.Separator)) {
		return nil, fmt.Errorf("asset %s: %w", name, ErrAssetNotFound)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("asset %s: %w", name, ErrAssetNotFound)
		}
		return nil, fmt.Errorf("read asset %s: %w", name, err)
	}

	return data, nil
}

// Root returns the absolute directory assets are read from.
func (s *FilesystemSource) Root() string {
	return s.root
}

// Close is a no-op for the filesystem source.
func (s *FilesystemSource) Close() error {
	return nil
}
