package cache

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Open 根据后端名称（fs|badger）构建缓存存储；badger 数据位于 <basePath>/badger。
func Open(backend, basePath string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", "fs":
		return NewStore(basePath)
	case "badger":
		if basePath == "" {
			return nil, fmt.Errorf("storage path required")
		}
		return NewBadgerStore(filepath.Join(basePath, "badger"))
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", backend)
	}
}
