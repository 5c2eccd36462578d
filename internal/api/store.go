package api

import (
	"fmt"
	"io"

	"github.com/geonexus/entitlements/internal/config"
	"github.com/geonexus/entitlements/internal/store"
	"github.com/geonexus/entitlements/internal/store/memorystore"
	"github.com/geonexus/entitlements/internal/store/redisstore"
)

// OpenStore opens the backend named by cfg. The returned closer releases it.
func OpenStore(cfg *config.Config) (store.Store, io.Closer, error) {
	switch cfg.StoreBackend {
	case config.StoreMemory:
		s := memorystore.New()
		return s, s, nil
	case config.StoreRedis:
		s, err := redisstore.Open(redisstore.Options{
			URL:       cfg.RedisURL,
			KeyPrefix: cfg.KeyPrefix,
			Timeout:   cfg.StoreTimeout,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("open redis store: %w", err)
		}
		return s, s, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
