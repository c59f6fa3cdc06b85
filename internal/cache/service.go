// Package cache implements the tag-indexed, TTL-governed cache over a
// single store client. Internal operations return typed errors; the
// exported methods map every failure to a documented safe default so
// a broken cache can never fail its callers.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"telegram-alerts-go/alert"

	"tagcache-service/internal/config"
	"tagcache-service/internal/keys"
	"tagcache-service/internal/metrics"
	"tagcache-service/internal/store"
)

// Options carries the narrow slice of configuration the service needs.
type Options struct {
	Codec             config.Codec
	MaxValueBytes     uint64
	AsyncWriters      int
	AsyncWriteTimeout time.Duration
	Lock              config.Lock
	WarmupConcurrency int
}

// OptionsFrom extracts service options from the loaded config.
func OptionsFrom(cfg *config.AppConfig) (Options, error) {
	maxBytes, err := cfg.Cache.MaxValueBytes()
	if err != nil {
		return Options{}, fmt.Errorf("maxValueSize: %w", err)
	}
	return Options{
		Codec:             cfg.Cache.Codec,
		MaxValueBytes:     maxBytes,
		AsyncWriters:      cfg.Cache.AsyncWriters,
		Lock:              cfg.Lock,
		WarmupConcurrency: cfg.Warmup.Concurrency,
	}, nil
}

// Service is the cache. Construct it explicitly with NewService and
// release it with Close; there is no package-level instance.
type Service struct {
	store  store.Client
	policy *keys.Policy
	codec  Codec
	opts   Options
	pool   *asyncPool
}

// NewService builds a cache service on an injected store client and
// key policy. Zero option fields fall back to safe defaults.
func NewService(st store.Client, policy *keys.Policy, opts Options) *Service {
	if opts.Lock.TTL <= 0 {
		opts.Lock.TTL = 30 * time.Second
	}
	if opts.Lock.InitialBackoff <= 0 {
		opts.Lock.InitialBackoff = 20 * time.Millisecond
	}
	if opts.Lock.MaxBackoff < opts.Lock.InitialBackoff {
		opts.Lock.MaxBackoff = 500 * time.Millisecond
	}
	if opts.Lock.MaxWait <= 0 {
		opts.Lock.MaxWait = 5 * time.Second
	}
	if opts.WarmupConcurrency <= 0 {
		opts.WarmupConcurrency = 4
	}
	return &Service{
		store:  st,
		policy: policy,
		codec:  NewCodec(opts.Codec),
		opts:   opts,
		pool:   newAsyncPool(opts.AsyncWriters, opts.AsyncWriteTimeout),
	}
}

// Policy exposes the key policy for callers that build keys.
func (s *Service) Policy() *keys.Policy { return s.policy }

// TTLFor returns the policy TTL for an entity kind.
func (s *Service) TTLFor(kind string) time.Duration { return s.policy.TTL(kind) }

// Close drains in-flight async writes and releases the store client.
func (s *Service) Close() error {
	s.pool.drain()
	return s.store.Close()
}

///////////////////////////////////////////////////////////
/// Public adapter: never returns a cache failure
///////////////////////////////////////////////////////////

// Get returns the cached payload for key. Store failures and
// malformed entries surface as a plain miss.
func (s *Service) Get(ctx context.Context, key keys.Key) ([]byte, bool) {
	raw, found, err := s.getRaw(ctx, key)
	if err != nil {
		s.warn(err)
		metrics.RecordCacheResult(key.Kind, false)
		return nil, false
	}
	metrics.RecordCacheResult(key.Kind, found)
	return raw, found
}

// Set writes value under key, with expiry when ttl > 0. Returns false
// when the write did not land.
func (s *Service) Set(ctx context.Context, key keys.Key, value []byte, ttl time.Duration) bool {
	if err := s.setRaw(ctx, key, value, ttl); err != nil {
		s.warn(err)
		return false
	}
	return true
}

// Delete removes the entry and its tag memberships.
func (s *Service) Delete(ctx context.Context, key keys.Key) bool {
	removed, err := s.deleteRaw(ctx, key)
	if err != nil {
		s.warn(err)
		return false
	}
	return removed
}

// DeleteMany removes every entry matching the prefix-relative glob,
// e.g. "user:*". Tag indices and locks are never pattern-deleted.
func (s *Service) DeleteMany(ctx context.Context, glob string) int64 {
	count, err := s.deleteManyRaw(ctx, glob)
	if err != nil {
		s.warn(err)
		return count
	}
	return count
}

// InvalidateByTag removes every entry in the tag's member set and the
// set itself, returning how many entries existed. Unknown and empty
// tags yield 0.
func (s *Service) InvalidateByTag(ctx context.Context, tag keys.Tag) int64 {
	count, err := s.invalidateByTagRaw(ctx, tag)
	if err != nil {
		s.warn(err)
		return 0
	}
	return count
}

// GetOrSet returns the cached payload when present; otherwise it runs
// compute, hands its result straight back and persists it off the
// caller's path. Concurrent missers each run compute independently;
// wrap expensive computations in WithLock when that matters. Because
// the write is fire-and-forget, an invalidation arriving between
// compute and the write can leave the stale result cached until the
// next invalidation or TTL expiry.
func (s *Service) GetOrSet(ctx context.Context, key keys.Key, ttl time.Duration, compute func(context.Context) ([]byte, error)) ([]byte, error) {
	if raw, ok := s.Get(ctx, key); ok {
		return raw, nil
	}
	raw, err := compute(ctx)
	if err != nil {
		return nil, err
	}
	s.scheduleSet(key, raw, ttl)
	return raw, nil
}

// Stats reports store diagnostics, nil when the store is unreachable.
func (s *Service) Stats(ctx context.Context) *Stats {
	st, err := s.statsRaw(ctx)
	if err != nil {
		s.warn(err)
		return nil
	}
	return st
}

///////////////////////////////////////////////////////////
/// Internal operations
///////////////////////////////////////////////////////////

func (s *Service) getRaw(ctx context.Context, key keys.Key) ([]byte, bool, error) {
	storage := s.policy.Storage(key)
	raw, err := s.store.Get(ctx, storage)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, newError(KindUnavailable, "get", storage, err)
	}
	return raw, true, nil
}

func (s *Service) setRaw(ctx context.Context, key keys.Key, value []byte, ttl time.Duration) error {
	storage := s.policy.Storage(key)
	if s.opts.MaxValueBytes > 0 && uint64(len(value)) > s.opts.MaxValueBytes {
		return newError(KindValueTooLarge, "set", storage,
			fmt.Errorf("%d bytes over limit %d", len(value), s.opts.MaxValueBytes))
	}
	if err := s.store.Set(ctx, storage, value, ttl); err != nil {
		return newError(KindUnavailable, "set", storage, err)
	}
	s.indexTags(ctx, storage, s.policy.Tags(key))
	return nil
}

func (s *Service) deleteRaw(ctx context.Context, key keys.Key) (bool, error) {
	storage := s.policy.Storage(key)
	removed, err := s.store.Del(ctx, storage)
	if err != nil {
		return false, newError(KindUnavailable, "delete", storage, err)
	}
	s.removeTagMembers(ctx, map[string][]keys.Tag{storage: s.policy.Tags(key)})
	metrics.RecordInvalidation("delete", removed)
	return removed > 0, nil
}

func (s *Service) deleteManyRaw(ctx context.Context, glob string) (int64, error) {
	pattern := s.policy.Pattern(glob)
	matches, err := s.store.Keys(ctx, pattern)
	if err != nil {
		return 0, newError(KindUnavailable, "deleteMany", pattern, err)
	}

	memberships := make(map[string][]keys.Tag)
	entries := make([]string, 0, len(matches))
	for _, storage := range matches {
		tags, ok := s.tagsForStorage(storage)
		if !ok {
			continue
		}
		entries = append(entries, storage)
		memberships[storage] = tags
	}
	if len(entries) == 0 {
		return 0, nil
	}

	s.removeTagMembers(ctx, memberships)
	removed, err := s.store.Del(ctx, entries...)
	if err != nil {
		return removed, newError(KindUnavailable, "deleteMany", pattern, err)
	}
	metrics.RecordInvalidation("pattern", removed)
	return removed, nil
}

func (s *Service) invalidateByTagRaw(ctx context.Context, tag keys.Tag) (int64, error) {
	tagKey := s.policy.TagStorage(tag)
	members, err := s.store.SMembers(ctx, tagKey)
	if err != nil {
		return 0, newError(KindUnavailable, "invalidateByTag", tagKey, err)
	}
	if len(members) == 0 {
		return 0, nil
	}

	// Drop sibling memberships so other tag sets stop pointing at the
	// removed entries.
	memberships := make(map[string][]keys.Tag, len(members))
	for _, storage := range members {
		if tags, ok := s.tagsForStorage(storage); ok {
			memberships[storage] = tags
		}
	}
	s.removeTagMembers(ctx, memberships)

	removed, err := s.store.Del(ctx, members...)
	if err != nil {
		return 0, newError(KindUnavailable, "invalidateByTag", tagKey, err)
	}
	if _, err := s.store.Del(ctx, tagKey); err != nil {
		zap.S().Warnw("tag set removal failed", "tag", tagKey, "error", err)
	}
	metrics.RecordInvalidation("tag", removed)
	return removed, nil
}

// Stats carries store-reported diagnostics.
type Stats struct {
	DBSize     int64
	UsedMemory uint64
	Version    string
}

func (s *Service) statsRaw(ctx context.Context) (*Stats, error) {
	size, err := s.store.DBSize(ctx)
	if err != nil {
		return nil, newError(KindUnavailable, "stats", "", err)
	}
	st := &Stats{DBSize: size}

	info, err := s.store.Info(ctx)
	if err != nil {
		zap.S().Debugw("store info unavailable", "error", err)
		return st, nil
	}
	if v := infoField(info, "used_memory"); v != "" {
		if n, perr := strconv.ParseUint(v, 10, 64); perr == nil {
			st.UsedMemory = n
		}
	}
	st.Version = infoField(info, "redis_version")
	return st, nil
}

///////////////////////////////////////////////////////////
/// Helpers
///////////////////////////////////////////////////////////

var errPoolSaturated = errors.New("async pool saturated")

// scheduleSet persists a computed value off the caller's path.
func (s *Service) scheduleSet(key keys.Key, value []byte, ttl time.Duration) {
	admitted := s.pool.tryRun("set "+key.String(), func(ctx context.Context) {
		err := s.setRaw(ctx, key, value, ttl)
		metrics.RecordAsyncWrite(err)
		if err != nil {
			s.warn(err)
		}
	})
	if !admitted {
		metrics.RecordAsyncWrite(errPoolSaturated)
		zap.S().Warnw("async write dropped", "key", key.String(), "error", errPoolSaturated)
	}
}

// indexTags adds the entry to each tag's member set. Best-effort: a
// failed index never rolls back the value write.
func (s *Service) indexTags(ctx context.Context, storage string, tags []keys.Tag) {
	if len(tags) == 0 {
		return
	}
	err := s.store.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, tag := range tags {
			pipe.SAdd(ctx, s.policy.TagStorage(tag), storage)
		}
		return nil
	})
	if err != nil {
		zap.S().Warnw("tag index update failed", "key", storage, "error", err)
	}
}

// removeTagMembers drops entry memberships from their tag sets in one
// batch. Best-effort, symmetric with indexTags.
func (s *Service) removeTagMembers(ctx context.Context, memberships map[string][]keys.Tag) {
	total := 0
	for _, tags := range memberships {
		total += len(tags)
	}
	if total == 0 {
		return
	}
	err := s.store.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for storage, tags := range memberships {
			for _, tag := range tags {
				pipe.SRem(ctx, s.policy.TagStorage(tag), storage)
			}
		}
		return nil
	})
	if err != nil {
		zap.S().Warnw("tag member removal failed", "error", err)
	}
}

// tagsForStorage recovers policy tags by parsing a storage key. Tags
// attached ad hoc at write time are not recoverable here; their stale
// memberships are reclaimed by Cleanup.
func (s *Service) tagsForStorage(storage string) ([]keys.Tag, bool) {
	rest, ok := s.policy.Strip(storage)
	if !ok {
		return nil, false
	}
	key, ok := keys.Parse(rest)
	if !ok {
		return nil, false
	}
	return s.policy.Tags(key), true
}

func (s *Service) warn(err error) {
	var ce *Error
	if errors.As(err, &ce) && ce.Kind == KindUnavailable {
		zap.S().Warnw(alert.Prefix("cache store unavailable"),
			"op", ce.Op, "key", ce.Key, "error", ce.Err)
		return
	}
	zap.S().Warnw("cache operation failed", "error", err)
}

func infoField(info, field string) string {
	for _, line := range strings.Split(info, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if strings.HasPrefix(line, field+":") {
			return strings.TrimPrefix(line, field+":")
		}
	}
	return ""
}
