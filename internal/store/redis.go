package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/pluvio/hydroclim-go/internal/timeline"
	"github.com/pluvio/hydroclim-go/pkg/raster"
)

const redisDateFormat = "20060102"

// RedisBackend persists grids in Redis: one JSON-encoded value per
// (scope, timestep) plus a per-scope sorted-set index of timestamps,
// written in the same pipeline so the index never lags the values.
type RedisBackend struct {
	client    *redis.Client
	namespace string
}

// RedisOptions configures the Redis backend connection.
type RedisOptions struct {
	Addr      string
	Password  string
	DB        int
	Namespace string
}

// NewRedisBackend connects to Redis and verifies the connection.
func NewRedisBackend(opts RedisOptions) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logrus.Info("Successfully connected to Redis store backend")
	return newRedisBackend(client, opts.Namespace), nil
}

func newRedisBackend(client *redis.Client, namespace string) *RedisBackend {
	if namespace == "" {
		namespace = "hydroclim"
	}
	return &RedisBackend{client: client, namespace: namespace}
}

func (r *RedisBackend) valueKey(key string, t time.Time) string {
	return fmt.Sprintf("%s:%s:%s", r.namespace, key, t.Format(redisDateFormat))
}

func (r *RedisBackend) indexKey(key string) string {
	return fmt.Sprintf("%s:%s:times", r.namespace, key)
}

// Times returns the persisted timesteps for key inside [start, end] via the
// per-scope sorted-set index.
func (r *RedisBackend) Times(ctx context.Context, key string, start, end time.Time) ([]time.Time, error) {
	members, err := r.client.ZRangeByScore(ctx, r.indexKey(key), &redis.ZRangeBy{
		Min: fmt.Sprintf("%d", start.Unix()),
		Max: fmt.Sprintf("%d", end.Unix()),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read time index for %s: %w", key, err)
	}

	out := make([]time.Time, 0, len(members))
	for _, m := range members {
		t, err := time.ParseInLocation(redisDateFormat, m, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("corrupt time index entry %q for %s: %w", m, key, err)
		}
		out = append(out, t)
	}
	timeline.SortTimes(out)
	return out, nil
}

// Read returns the grid stored at (key, t), or ErrNotFound.
func (r *RedisBackend) Read(ctx context.Context, key string, t time.Time) (raster.Grid, error) {
	raw, err := r.client.Get(ctx, r.valueKey(key, t)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s at %s: %w", key, t.Format(redisDateFormat), err)
	}

	var g raster.Grid
	if err := json.Unmarshal([]byte(raw), &g); err != nil {
		return nil, fmt.Errorf("corrupt value for %s at %s: %w", key, t.Format(redisDateFormat), err)
	}
	return g, nil
}

// Write stores g at (key, t) and updates the time index atomically.
func (r *RedisBackend) Write(ctx context.Context, key string, t time.Time, g raster.Grid) error {
	payload, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("failed to encode value for %s: %w", key, err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.valueKey(key, t), payload, 0)
	pipe.ZAdd(ctx, r.indexKey(key), redis.Z{
		Score:  float64(t.Unix()),
		Member: t.Format(redisDateFormat),
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write %s at %s: %w", key, t.Format(redisDateFormat), err)
	}
	return nil
}

// Ping verifies the connection.
func (r *RedisBackend) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (r *RedisBackend) Close() error {
	logrus.Info("Redis store backend closed")
	return r.client.Close()
}
