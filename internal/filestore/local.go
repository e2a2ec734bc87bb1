package filestore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xxxsen/kbengine/internal/config"
)

type localStore struct {
	dir string
}

func init() {
	Register("local", createLocalStore)
}

func createLocalStore(args interface{}) (Store, error) {
	cfg, ok := args.(config.FileStoreConfig)
	if !ok {
		return nil, fmt.Errorf("local store: unexpected config type %T", args)
	}
	if cfg.Dir == "" {
		return nil, fmt.Errorf("local store dir is required")
	}
	return &localStore{dir: cfg.Dir}, nil
}

func (s *localStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	_ = ctx
	if strings.Contains(key, "..") {
		return nil, fmt.Errorf("invalid file key")
	}
	path := filepath.Join(s.dir, key)
	return os.Open(path)
}
