package conversation

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"

	"github.com/into-the-night/fin-breaker/config"
	"github.com/into-the-night/fin-breaker/internal/agent/core"
	"github.com/redis/go-redis/v9"
)

// Store persists conversation state between loop steps and across restarts.
type Store interface {
	core.StateStore
	Close() error
}

// Open returns the backend selected by cfg.Backend.
func Open(ctx context.Context, cfg config.StorageConfig, logger *log.Logger) (Store, error) {
	if logger == nil {
		logger = log.New(os.Stdout, "[STORE] ", log.LstdFlags)
	}
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(cfg.StateTTL), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:        cfg.Redis.Addr(),
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			DialTimeout: cfg.Redis.Timeout,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr(), err)
		}
		logger.Printf("conversation state stored in redis %s", cfg.Redis.Addr())
		return NewRedisStore(client, cfg.StateTTL), nil
	case "postgres":
		db, err := sql.Open("postgres", cfg.Postgres.DSN())
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		logger.Printf("conversation state stored in postgres")
		return NewPostgresStore(db), nil
	}
	return nil, fmt.Errorf("unsupported storage backend: %s", cfg.Backend)
}
