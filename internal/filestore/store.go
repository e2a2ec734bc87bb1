// Package filestore is the read-only external object-storage collaborator
// of spec.md §6: read(path) -> bytes. Upload/ownership of stored files
// belongs to the excluded API layer; the core only ever reads what it is
// told to ingest.
package filestore

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/xxxsen/kbengine/internal/config"
)

type Store interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

type Factory func(args interface{}) (Store, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

func Register(name string, factory Factory) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || factory == nil {
		return
	}
	registryMu.Lock()
	registry[key] = factory
	registryMu.Unlock()
}

func New(cfg config.FileStoreConfig) (Store, error) {
	key := strings.ToLower(strings.TrimSpace(cfg.Type))
	if key == "" {
		return nil, fmt.Errorf("file_store.type is required")
	}
	registryMu.RLock()
	factory := registry[key]
	registryMu.RUnlock()
	if factory == nil {
		return nil, fmt.Errorf("unsupported file store type: %s", cfg.Type)
	}
	return factory(cfg)
}
