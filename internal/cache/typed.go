package cache

import (
	"context"
	"time"

	"tagcache-service/internal/keys"
)

// Typed helpers over Service. Go methods cannot carry type parameters,
// so these are free functions taking the service first. They keep the
// same safe-default contract as the methods they wrap.

// Get decodes the cached value for key into T. Malformed payloads
// count as a miss.
func Get[T any](ctx context.Context, s *Service, key keys.Key) (T, bool) {
	var zero T
	raw, ok := s.Get(ctx, key)
	if !ok {
		return zero, false
	}
	var v T
	if err := s.codec.Unmarshal(raw, &v); err != nil {
		s.warn(newError(KindSerialization, "get", s.policy.Storage(key), err))
		return zero, false
	}
	return v, true
}

// Set encodes v and stores it under key.
func Set[T any](ctx context.Context, s *Service, key keys.Key, v T, ttl time.Duration) bool {
	raw, err := s.codec.Marshal(v)
	if err != nil {
		s.warn(newError(KindSerialization, "set", s.policy.Storage(key), err))
		return false
	}
	return s.Set(ctx, key, raw, ttl)
}

// GetOrSet is the typed cache-aside helper. compute runs on a miss;
// its error is the caller's own and passes through unchanged. The
// write-back follows Service.GetOrSet semantics.
func GetOrSet[T any](ctx context.Context, s *Service, key keys.Key, ttl time.Duration, compute func(context.Context) (T, error)) (T, error) {
	if v, ok := Get[T](ctx, s, key); ok {
		return v, nil
	}
	var zero T
	v, err := compute(ctx)
	if err != nil {
		return zero, err
	}
	if raw, merr := s.codec.Marshal(v); merr == nil {
		s.scheduleSet(key, raw, ttl)
	} else {
		s.warn(newError(KindSerialization, "getOrSet", s.policy.Storage(key), merr))
	}
	return v, nil
}

// WithLock runs fn under the named lock and returns its value. On a
// lock timeout the zero value comes back with the error.
func WithLock[T any](ctx context.Context, s *Service, name string, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := s.WithLock(ctx, name, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// WarmupEntryOf builds a warmup entry from a typed compute function.
func WarmupEntryOf[T any](s *Service, key keys.Key, ttl time.Duration, compute func(context.Context) (T, error)) WarmupEntry {
	return WarmupEntry{
		Key: key,
		TTL: ttl,
		Compute: func(ctx context.Context) ([]byte, error) {
			v, err := compute(ctx)
			if err != nil {
				return nil, err
			}
			return s.codec.Marshal(v)
		},
	}
}
