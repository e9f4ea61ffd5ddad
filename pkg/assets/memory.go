package assets

import (
	"context"
	"fmt"
	"sync"
)

// MemorySource serves assets from an in-memory map. Useful for tests and for
// embedding a fixed site.
type MemorySource struct {
	mu     sync.RWMutex
	assets map[string][]byte
}

// NewMemory creates a source holding a copy of assets.
func NewMemory(assets map[string][]byte) *MemorySource {
	m := &MemorySource{assets: make(map[string][]byte, len(assets))}
	for name, data := range assets {
		m.assets[name] = append([]byte(nil), data...)
	}
	return m
}

// Put adds or replaces an asset.
func (m *MemorySource) Put(name string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assets[name] = append([]byte(nil), data...)
}

func (m *MemorySource) Read(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.assets[name]
	if !ok {
		return nil, fmt.Errorf("asset %s: %w", name, ErrAssetNotFound)
	}
	return append([]byte(nil), data...), nil
}

func (m *MemorySource) Close() error {
	return nil
}
