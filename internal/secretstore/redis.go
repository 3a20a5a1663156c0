package secretstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	rdb "github.com/redis/go-redis/v9"
)

// Redis backs the store with a shared Redis instance: SETNX is the
// create-if-absent primitive. Keys never expire; a bootstrap secret has no
// TTL. CreatedAt is not tracked by this backend and reads back as zero.
type Redis struct {
	c *rdb.Client
}

func NewRedis(addr string, db int) *Redis {
	return &Redis{c: rdb.NewClient(&rdb.Options{Addr: addr, DB: db})}
}

func (r *Redis) Get(ctx context.Context, key string) (string, time.Time, error) {
	v, err := r.c.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, rdb.Nil) {
			return "", time.Time{}, ErrNotFound
		}
		return "", time.Time{}, fmt.Errorf("redis get %s: %w", key, err)
	}
	return v, time.Time{}, nil
}

func (r *Redis) CreateIfAbsent(ctx context.Context, key, value string) error {
	set, err := r.c.SetNX(ctx, key, value, 0).Result()
	if err != nil {
		return fmt.Errorf("redis setnx %s: %w", key, err)
	}
	if !set {
		return ErrAlreadyExists
	}
	return nil
}

// Close releases the underlying connection pool.
func (r *Redis) Close() error { return r.c.Close() }
