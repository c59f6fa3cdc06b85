package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"tagcache-service/internal/keys"
	"tagcache-service/internal/metrics"
)

// WarmupEntry declares one value to precompute.
type WarmupEntry struct {
	Key     keys.Key
	TTL     time.Duration
	Compute func(ctx context.Context) ([]byte, error)
}

// WarmupReport summarizes a warmup pass.
type WarmupReport struct {
	Succeeded int
	Failed    int
}

// Warmup computes and stores all entries with bounded concurrency.
// Entries fail independently; a cancelled context counts the entries
// that never ran as failed.
func (s *Service) Warmup(ctx context.Context, entries []WarmupEntry) WarmupReport {
	sem := semaphore.NewWeighted(int64(s.opts.WarmupConcurrency))
	var wg sync.WaitGroup
	var succeeded, failed atomic.Int64

	for i, entry := range entries {
		if err := sem.Acquire(ctx, 1); err != nil {
			failed.Add(int64(len(entries) - i))
			break
		}
		wg.Add(1)
		go func(e WarmupEntry) {
			defer wg.Done()
			defer sem.Release(1)
			defer func() {
				if r := recover(); r != nil {
					failed.Add(1)
					zap.S().Errorw("warmup compute panic", "key", e.Key.String(), "panic", r)
				}
			}()

			raw, err := e.Compute(ctx)
			if err != nil {
				failed.Add(1)
				zap.S().Warnw("warmup compute failed", "key", e.Key.String(), "error", err)
				return
			}
			if err := s.setRaw(ctx, e.Key, raw, e.TTL); err != nil {
				failed.Add(1)
				s.warn(err)
				return
			}
			succeeded.Add(1)
		}(entry)
	}
	wg.Wait()

	report := WarmupReport{Succeeded: int(succeeded.Load()), Failed: int(failed.Load())}
	metrics.RecordWarmup(report.Succeeded, report.Failed)
	zap.S().Infow("warmup finished", "succeeded", report.Succeeded, "failed", report.Failed)
	return report
}
