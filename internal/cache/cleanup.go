package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"tagcache-service/internal/metrics"
)

// Cleanup prunes stale tag memberships and drops tag sets left empty,
// returning how many sets were removed. Entry expiry itself belongs
// to the store.
func (s *Service) Cleanup(ctx context.Context) int64 {
	pruned, err := s.cleanupRaw(ctx)
	if err != nil {
		s.warn(err)
	}
	return pruned
}

func (s *Service) cleanupRaw(ctx context.Context) (int64, error) {
	pattern := s.policy.TagPattern()
	tagKeys, err := s.store.Keys(ctx, pattern)
	if err != nil {
		return 0, newError(KindUnavailable, "cleanup", pattern, err)
	}

	var pruned int64
	for _, tagKey := range tagKeys {
		if ctx.Err() != nil {
			return pruned, newError(KindUnavailable, "cleanup", pattern, ctx.Err())
		}
		members, err := s.store.SMembers(ctx, tagKey)
		if err != nil {
			continue
		}
		stale := s.staleMembers(ctx, members)
		if len(stale) > 0 {
			if err := s.store.SRem(ctx, tagKey, stale...); err != nil {
				continue
			}
			metrics.RecordInvalidation("cleanup", int64(len(stale)))
		}
		card, err := s.store.SCard(ctx, tagKey)
		if err == nil && card == 0 {
			if _, err := s.store.Del(ctx, tagKey); err == nil {
				pruned++
			}
		}
	}
	zap.S().Debugw("cleanup pass finished", "tagSets", len(tagKeys), "pruned", pruned)
	return pruned, nil
}

// staleMembers returns members whose entry no longer exists.
func (s *Service) staleMembers(ctx context.Context, members []string) []string {
	if len(members) == 0 {
		return nil
	}
	cmds := make([]*redis.IntCmd, len(members))
	err := s.store.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, m := range members {
			cmds[i] = pipe.Exists(ctx, m)
		}
		return nil
	})
	if err != nil {
		return nil
	}
	var stale []string
	for i, cmd := range cmds {
		if cmd.Val() == 0 {
			stale = append(stale, members[i])
		}
	}
	return stale
}

// Runner invokes Cleanup on a fixed interval until ctx ends.
type Runner struct {
	svc      *Service
	interval time.Duration
}

func NewRunner(svc *Service, interval time.Duration) *Runner {
	return &Runner{svc: svc, interval: interval}
}

func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	zap.S().Infow("cleanup runner started", "interval", r.interval)
	for {
		select {
		case <-ctx.Done():
			zap.S().Infow("cleanup runner stopped")
			return
		case <-ticker.C:
			r.svc.Cleanup(ctx)
		}
	}
}
