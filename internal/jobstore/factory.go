package jobstore

import (
	"github.com/go-redis/redis"
	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"

	"github.com/uqdispatch/uqdispatch/internal/common/config"
	"github.com/uqdispatch/uqdispatch/internal/common/uqcontext"
	"github.com/uqdispatch/uqdispatch/internal/common/uqerrors"
)

const (
	MemoryStoreType   = "memory"
	SQLiteStoreType   = "sqlite"
	RedisStoreType    = "redis"
	PostgresStoreType = "postgres"
)

type Config struct {
	Type   string `validate:"omitempty,oneof=memory sqlite redis postgres"`
	Sqlite SqliteConfig
	// Only validated when present.
	Redis    *config.RedisConfig    `validate:"omitempty"`
	Postgres *config.PostgresConfig `validate:"omitempty"`
}

type SqliteConfig struct {
	Path string
}

// NewStore opens the store selected by config.Type.
func NewStore(ctx *uqcontext.Context, cfg Config) (Store, error) {
	switch cfg.Type {
	case MemoryStoreType:
		return NewInMemoryStore(), nil
	case SQLiteStoreType, "":
		path, err := homedir.Expand(cfg.Sqlite.Path)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		if path == "" {
			return nil, errors.WithStack(&uqerrors.ErrInvalidArgument{
				Name:    "store.sqlite.path",
				Value:   cfg.Sqlite.Path,
				Message: "a path is required for the sqlite store",
			})
		}
		return NewSQLiteStore(ctx, path)
	case RedisStoreType:
		if cfg.Redis == nil {
			return nil, errors.WithStack(&uqerrors.ErrInvalidArgument{Name: "store.redis", Message: "redis store selected without redis settings"})
		}
		client := redis.NewUniversalClient(cfg.Redis.AsUniversalOptions())
		store := NewRedisStore(client, cfg.Redis.Ttl)
		if err := store.Health(ctx); err != nil {
			_ = client.Close()
			return nil, errors.WithMessage(err, "redis store is unreachable")
		}
		return store, nil
	case PostgresStoreType:
		if cfg.Postgres == nil {
			return nil, errors.WithStack(&uqerrors.ErrInvalidArgument{Name: "store.postgres", Message: "postgres store selected without postgres settings"})
		}
		pool, err := OpenPgxPool(ctx, *cfg.Postgres)
		if err != nil {
			return nil, err
		}
		store, err := NewPostgresStore(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, err
		}
		return store, nil
	default:
		return nil, errors.WithStack(&uqerrors.ErrInvalidArgument{
			Name:    "store.type",
			Value:   cfg.Type,
			Message: "must be one of memory, sqlite, redis, postgres",
		})
	}
}
