package dedup

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/angelmondragon/stockledger/pkg/config"
)

// NewStore picks the marker store configured by cfg.Backend. rdb may be nil
// unless the redis backend is selected.
func NewStore(cfg config.DedupConfig, conn *gorm.DB, rdb redisMarkers) (MarkerStore, error) {
	switch cfg.Backend {
	case config.DedupBackendPostgres, "":
		if conn == nil {
			return nil, fmt.Errorf("dedup backend %q requires a database", config.DedupBackendPostgres)
		}
		return NewGormStore(conn), nil
	case config.DedupBackendRedis:
		if rdb == nil {
			return nil, fmt.Errorf("dedup backend %q requires a redis client", config.DedupBackendRedis)
		}
		return NewRedisStore(rdb, cfg.TTL)
	default:
		return nil, fmt.Errorf("unsupported dedup backend %q", cfg.Backend)
	}
}
