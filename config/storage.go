package config

import (
	"context"
	"fmt"

	"github.com/chhz0/baybikes/storage"
)

// OpenStorage 按配置打开存储后端
func OpenStorage(ctx context.Context, c StorageConfig) (storage.Storage, error) {
	switch c.Backend {
	case BackendMemory:
		return storage.NewMemoryStorage(), nil
	case BackendBolt:
		return storage.NewBoltStorage(c.Path)
	case BackendSQLite:
		return storage.NewSQLiteStorage(c.Path)
	case BackendRedis:
		s := storage.NewRedisStorage(c.Redis.Addr, c.Redis.Password, c.Redis.DB)
		if err := s.Ping(ctx); err != nil {
			s.Close()
			return nil, fmt.Errorf("connecting to redis %s: %w", c.Redis.Addr, err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", c.Backend)
	}
}
