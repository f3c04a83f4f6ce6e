package conversation

import (
	"context"
	"fmt"
	"time"
)

// Backend names a Store implementation.
type Backend string

const (
	BackendMemory   Backend = "memory"
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgres"
	BackendRedis    Backend = "redis"
)

type storeOptions struct {
	sqlitePath  string
	databaseURL string
	redisURL    string
	redisTTL    time.Duration
}

type Option func(*storeOptions)

func WithSQLitePath(path string) Option { return func(o *storeOptions) { o.sqlitePath = path } }

func WithDatabaseURL(url string) Option { return func(o *storeOptions) { o.databaseURL = url } }

func WithRedis(url string, ttl time.Duration) Option {
	return func(o *storeOptions) {
		o.redisURL = url
		o.redisTTL = ttl
	}
}

// NewStore opens the backend selected by configuration.
func NewStore(ctx context.Context, backend Backend, opts ...Option) (Store, error) {
	o := storeOptions{sqlitePath: "vaani.db", redisTTL: DefaultRedisTTL}
	for _, opt := range opts {
		opt(&o)
	}
	switch backend {
	case BackendMemory, "":
		return NewMemoryStore(), nil
	case BackendSQLite:
		return NewSQLiteStore(ctx, o.sqlitePath)
	case BackendPostgres:
		if o.databaseURL == "" {
			return nil, fmt.Errorf("postgres store requires a database url")
		}
		return NewPostgresStore(ctx, o.databaseURL)
	case BackendRedis:
		if o.redisURL == "" {
			return nil, fmt.Errorf("redis store requires a redis url")
		}
		return NewRedisStore(ctx, o.redisURL, o.redisTTL)
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}
