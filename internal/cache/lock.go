package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tagcache-service/internal/metrics"
)

// releaseScript deletes the lock only when it still holds our token,
// so a lock that expired and was re-acquired elsewhere is never
// released by us.
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`

const releaseTimeout = 2 * time.Second

// WithLock runs fn under the named distributed lock. Acquisition
// retries with exponential backoff up to the configured maximum wait
// and then fails with a lock-timeout error (check IsLockTimeout);
// callers decide whether to fall back. When the store itself is
// unavailable fn runs unprotected. The lock's TTL bounds how long a
// crashed holder can block others.
func (s *Service) WithLock(ctx context.Context, name string, fn func(context.Context) error) error {
	lockKey := s.policy.LockStorage(name)
	token := uuid.NewString()

	start := time.Now()
	deadline := start.Add(s.opts.Lock.MaxWait)
	backoff := s.opts.Lock.InitialBackoff

	for {
		acquired, err := s.store.SetNX(ctx, lockKey, []byte(token), s.opts.Lock.TTL)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			metrics.RecordLock("unavailable", time.Since(start).Seconds())
			zap.S().Warnw("lock store unavailable, running unprotected",
				"lock", name, "error", err)
			return fn(ctx)
		}
		if acquired {
			break
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			metrics.RecordLock("timeout", time.Since(start).Seconds())
			return newError(KindLockTimeout, "withLock", lockKey,
				fmt.Errorf("lock acquisition timed out after %s", s.opts.Lock.MaxWait))
		}
		sleep := backoff
		if sleep > remaining {
			sleep = remaining
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
		backoff *= 2
		if backoff > s.opts.Lock.MaxBackoff {
			backoff = s.opts.Lock.MaxBackoff
		}
	}

	metrics.RecordLock("acquired", time.Since(start).Seconds())
	defer s.releaseLock(lockKey, token)
	return fn(ctx)
}

// releaseLock is best-effort compare-and-delete on a fresh context so
// a cancelled caller still releases what it acquired.
func (s *Service) releaseLock(lockKey, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if _, err := s.store.Eval(ctx, releaseScript, []string{lockKey}, token); err != nil {
		zap.S().Warnw("lock release failed", "lock", lockKey, "error", err)
	}
}
