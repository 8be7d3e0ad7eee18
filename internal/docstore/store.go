// Package docstore reads uploaded study documents from the durable object
// store. The store is the source of truth: indexes are always reconstructible
// from it.
package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/padhai/ragserver/internal/config"
)

// ObjectInfo describes an immediate child of a listed directory. Folder
// groupings have no lifecycle record of their own; a folder exists exactly
// when objects exist under its prefix, so directory entries surface as
// IsDir entries.
type ObjectInfo struct {
	Name  string
	Size  int64
	IsDir bool
}

type Store interface {
	// List returns the immediate children of dir (no recursion).
	List(ctx context.Context, dir string) ([]ObjectInfo, error)
	// Open returns the raw bytes of one stored object.
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

func New(cfg config.DocStoreConfig) (Store, error) {
	key := strings.ToLower(strings.TrimSpace(cfg.Type))
	if key == "" {
		return nil, fmt.Errorf("doc_store.type is required")
	}
	registryMu.RLock()
	factory := registry[key]
	registryMu.RUnlock()
	if factory == nil {
		return nil, fmt.Errorf("unsupported doc store type: %s", cfg.Type)
	}
	return factory(cfg.Data)
}

func decodeConfig(args interface{}, dst interface{}) error {
	if args == nil {
		return fmt.Errorf("store config is required")
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode store config: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode store config: %w", err)
	}
	return nil
}
