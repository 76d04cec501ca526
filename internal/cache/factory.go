package cache

import (
	"fmt"

	"github.com/redis/go-redis/v9"
)

// NewStore picks the durable backend. "redis" expects an already-connected
// client; anything else falls back to the local SQLite file.
func NewStore(backend, sqlitePath string, redisClient *redis.Client) (Store, error) {
	switch backend {
	case "redis":
		if redisClient == nil {
			return nil, fmt.Errorf("redis backend selected but no client configured")
		}
		return NewRedisStore(redisClient), nil
	case "sqlite", "":
		if sqlitePath == "" {
			sqlitePath = "gridprompt.db"
		}
		return NewSQLiteStore(sqlitePath)
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}
