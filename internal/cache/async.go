package cache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"telegram-alerts-go/alert"
)

const defaultAsyncTimeout = 5 * time.Second

// asyncPool admits a bounded number of concurrent background tasks.
// Admission never blocks the caller: when every token is taken the
// task is dropped, which is acceptable for best-effort cache writes.
type asyncPool struct {
	tokens  chan struct{}
	timeout time.Duration
	wg      sync.WaitGroup
}

func newAsyncPool(size int, timeout time.Duration) *asyncPool {
	if size <= 0 {
		size = 64
	}
	if timeout <= 0 {
		timeout = defaultAsyncTimeout
	}
	return &asyncPool{
		tokens:  make(chan struct{}, size),
		timeout: timeout,
	}
}

// tryRun schedules f on its own goroutine with a detached timeout
// context. Returns false when the pool is saturated.
func (p *asyncPool) tryRun(name string, f func(ctx context.Context)) bool {
	select {
	case p.tokens <- struct{}{}:
	default:
		return false
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() { <-p.tokens }()

		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				zap.S().Errorf(alert.Prefix("async panic in %s: %v"), name, r)
			}
		}()

		f(ctx)
	}()
	return true
}

// drain waits for every admitted task to finish.
func (p *asyncPool) drain() {
	p.wg.Wait()
}
