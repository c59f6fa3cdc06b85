// Package store wraps the single Redis connection behind the verb set
// the cache layer is built on. Every command failure is folded into
// ErrUnavailable so callers can treat a dead store as a cache miss.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"telegram-alerts-go/alert"

	"tagcache-service/internal/config"
	"tagcache-service/internal/metrics"
)

var (
	// ErrNotFound marks a missing key. It is not a failure.
	ErrNotFound = errors.New("store: key not found")
	// ErrUnavailable wraps every connection or command failure.
	ErrUnavailable = errors.New("store: unavailable")
)

const (
	minChunk  = 400
	maxChunk  = 500
	scanCount = 200
)

// Client is the store surface the cache service is built on.
type Client interface {
	Ping(ctx context.Context) error
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) (int64, error)
	SAdd(ctx context.Context, set string, members ...string) error
	SRem(ctx context.Context, set string, members ...string) error
	SMembers(ctx context.Context, set string) ([]string, error)
	SCard(ctx context.Context, set string) (int64, error)
	Keys(ctx context.Context, pattern string) ([]string, error)
	Pipelined(ctx context.Context, fn func(redis.Pipeliner) error) error
	Eval(ctx context.Context, script string, keys []string, args ...any) (any, error)
	Info(ctx context.Context) (string, error)
	DBSize(ctx context.Context) (int64, error)
	Close() error
}

// RedisClient implements Client over one go-redis connection pool.
type RedisClient struct {
	rdb     *redis.Client
	breaker *gobreaker.CircuitBreaker
}

// NewClient builds the client. The connection itself is established
// lazily by the driver; an unreachable store is logged and the client
// returned anyway so the service can start degraded.
func NewClient(ctx context.Context, cfg config.Store) *RedisClient {
	rdb := redis.NewClient(&redis.Options{
		Addr:            fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:        cfg.Password,
		DB:              cfg.DB,
		PoolSize:        cfg.PoolSize,
		MaxRetries:      cfg.MaxRetries,
		MinRetryBackoff: cfg.MinRetryBackoff,
		MaxRetryBackoff: cfg.MaxRetryBackoff,
		DialTimeout:     cfg.DialTimeout,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
	})

	c := &RedisClient{rdb: rdb}
	if !cfg.OfflineQueue {
		c.breaker = newBreaker()
	}

	if err := rdb.Ping(ctx).Err(); err != nil {
		zap.S().Warnw(alert.Prefix("store unreachable, starting degraded"),
			"host", cfg.Host, "port", cfg.Port, "error", err)
	} else {
		zap.S().Infow("connected to store", "host", cfg.Host, "port", cfg.Port, "db", cfg.DB)
	}
	return c
}

// newBreaker fronts commands when the offline queue is disabled, so a
// dead store rejects work immediately instead of queueing timeouts.
func newBreaker() *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "store",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && ratio >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			zap.S().Warnw(alert.Prefix("store breaker state change"),
				"breaker", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, redis.Nil)
		},
	})
}

// do runs one command through the breaker (when configured) and folds
// the outcome into the metric series. redis.Nil passes through as
// ErrNotFound and never counts as a failure.
func (c *RedisClient) do(op string, fn func() error) error {
	start := time.Now()
	var err error
	if c.breaker != nil {
		_, err = c.breaker.Execute(func() (any, error) { return nil, fn() })
	} else {
		err = fn()
	}

	if errors.Is(err, redis.Nil) {
		err = ErrNotFound
	} else if err != nil {
		err = fmt.Errorf("redis %s: %w", op, errors.Join(ErrUnavailable, err))
	}

	metricErr := err
	if errors.Is(metricErr, ErrNotFound) {
		metricErr = nil
	}
	metrics.RecordStoreLatency(op, time.Since(start).Seconds())
	metrics.RecordStoreOp(op, metricErr)
	return err
}

func (c *RedisClient) Ping(ctx context.Context) error {
	return c.do("ping", func() error { return c.rdb.Ping(ctx).Err() })
}

func (c *RedisClient) Get(ctx context.Context, key string) ([]byte, error) {
	var val []byte
	err := c.do("get", func() error {
		b, err := c.rdb.Get(ctx, key).Bytes()
		if err != nil {
			return err
		}
		val = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return val, nil
}

// Set writes with expiry when ttl > 0 and without otherwise.
func (c *RedisClient) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.do("set", func() error {
		if ttl < 0 {
			ttl = 0
		}
		return c.rdb.Set(ctx, key, value, ttl).Err()
	})
}

// SetNX writes only when the key is absent. Used for lock acquisition.
func (c *RedisClient) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	var acquired bool
	err := c.do("setnx", func() error {
		ok, err := c.rdb.SetNX(ctx, key, value, ttl).Result()
		if err != nil {
			return err
		}
		acquired = ok
		return nil
	})
	if err != nil {
		return false, err
	}
	return acquired, nil
}

// Del removes keys in chunks over UNLINK and returns how many existed.
func (c *RedisClient) Del(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	var removed int64
	err := c.do("del", func() error {
		for chunkIndex, chunk := range splitToChunks(keys, minChunk, maxChunk) {
			n, err := c.rdb.Unlink(ctx, chunk...).Result()
			if err != nil {
				zap.S().Errorw(alert.Prefix("store unlink error"),
					"chunk", chunkIndex+1, "error", err)
				return err
			}
			removed += n
		}
		return nil
	})
	if err != nil {
		return removed, err
	}
	return removed, nil
}

func (c *RedisClient) SAdd(ctx context.Context, set string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	return c.do("sadd", func() error {
		return c.rdb.SAdd(ctx, set, toAny(members)...).Err()
	})
}

func (c *RedisClient) SRem(ctx context.Context, set string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	return c.do("srem", func() error {
		return c.rdb.SRem(ctx, set, toAny(members)...).Err()
	})
}

func (c *RedisClient) SMembers(ctx context.Context, set string) ([]string, error) {
	var members []string
	err := c.do("smembers", func() error {
		m, err := c.rdb.SMembers(ctx, set).Result()
		if err != nil {
			return err
		}
		members = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return members, nil
}

func (c *RedisClient) SCard(ctx context.Context, set string) (int64, error) {
	var n int64
	err := c.do("scard", func() error {
		card, err := c.rdb.SCard(ctx, set).Result()
		if err != nil {
			return err
		}
		n = card
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Keys resolves a glob with SCAN, never the blocking KEYS command.
func (c *RedisClient) Keys(ctx context.Context, pattern string) ([]string, error) {
	var found []string
	err := c.do("scan", func() error {
		iter := c.rdb.Scan(ctx, 0, pattern, scanCount).Iterator()
		for iter.Next(ctx) {
			found = append(found, iter.Val())
		}
		return iter.Err()
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// Pipelined queues commands through fn and executes them as one batch.
func (c *RedisClient) Pipelined(ctx context.Context, fn func(redis.Pipeliner) error) error {
	return c.do("pipeline", func() error {
		_, err := c.rdb.Pipelined(ctx, fn)
		return err
	})
}

// Eval runs a server-side script. Lock release depends on it for
// compare-and-delete.
func (c *RedisClient) Eval(ctx context.Context, script string, keys []string, args ...any) (any, error) {
	var res any
	err := c.do("eval", func() error {
		r, err := c.rdb.Eval(ctx, script, keys, args...).Result()
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (c *RedisClient) Info(ctx context.Context) (string, error) {
	var info string
	err := c.do("info", func() error {
		s, err := c.rdb.Info(ctx).Result()
		if err != nil {
			return err
		}
		info = s
		return nil
	})
	if err != nil {
		return "", err
	}
	return info, nil
}

func (c *RedisClient) DBSize(ctx context.Context) (int64, error) {
	var n int64
	err := c.do("dbsize", func() error {
		size, err := c.rdb.DBSize(ctx).Result()
		if err != nil {
			return err
		}
		n = size
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (c *RedisClient) Close() error {
	return c.rdb.Close()
}

func toAny(members []string) []any {
	out := make([]any, len(members))
	for i, m := range members {
		out[i] = m
	}
	return out
}

// splitToChunks cuts keys into evenly sized batches so huge
// invalidations do not monopolize the connection.
func splitToChunks(keys []string, minSize, maxSize int) [][]string {
	if len(keys) == 0 {
		return nil
	}
	chunkSize := calcChunkSize(len(keys), minSize, maxSize)
	chunks := make([][]string, 0, (len(keys)+chunkSize-1)/chunkSize)
	for i := 0; i < len(keys); i += chunkSize {
		end := i + chunkSize
		if end > len(keys) {
			end = len(keys)
		}
		chunks = append(chunks, keys[i:end])
	}
	return chunks
}

// calcChunkSize picks an even chunk size within [minSize, maxSize].
func calcChunkSize(givenSize, minSize, maxSize int) int {
	if givenSize <= maxSize {
		return givenSize
	}
	optimalChunks := (givenSize + maxSize - 1) / maxSize
	optimalSize := (givenSize + optimalChunks - 1) / optimalChunks
	if optimalSize < minSize {
		return minSize
	}
	if optimalSize > maxSize {
		return maxSize
	}
	return optimalSize
}
