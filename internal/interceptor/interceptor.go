// Package interceptor sits between a data layer and its callers.
// Read operations are answered cache-aside under a canonical key
// derived from the operation; write operations run first and then
// invalidate everything the mutated model could have cached. The data
// layer itself stays behind a runner function, so any repository or
// client can be wrapped without this package knowing it.
package interceptor

import (
	"context"

	"go.uber.org/zap"

	"tagcache-service/internal/cache"
	"tagcache-service/internal/keys"
)

// Action names what a data-layer operation does to its model.
type Action string

const (
	ActionGet      Action = "get"
	ActionFind     Action = "find"
	ActionFindOne  Action = "findOne"
	ActionFindMany Action = "findMany"
	ActionList     Action = "list"
	ActionCount    Action = "count"
	ActionExists   Action = "exists"

	ActionCreate     Action = "create"
	ActionCreateMany Action = "createMany"
	ActionUpdate     Action = "update"
	ActionUpdateMany Action = "updateMany"
	ActionUpsert     Action = "upsert"
	ActionDelete     Action = "delete"
	ActionDeleteMany Action = "deleteMany"
)

type class int

const (
	classBypass class = iota
	classRead
	classWrite
)

// Unknown actions stay at the zero value and bypass the cache.
var actionClasses = map[Action]class{
	ActionGet:      classRead,
	ActionFind:     classRead,
	ActionFindOne:  classRead,
	ActionFindMany: classRead,
	ActionList:     classRead,
	ActionCount:    classRead,
	ActionExists:   classRead,

	ActionCreate:     classWrite,
	ActionCreateMany: classWrite,
	ActionUpdate:     classWrite,
	ActionUpdateMany: classWrite,
	ActionUpsert:     classWrite,
	ActionDelete:     classWrite,
	ActionDeleteMany: classWrite,
}

func classify(a Action) class { return actionClasses[a] }

// Operation describes one data-layer call. ID keys single-entity
// lookups; Args carries the filter or payload for everything else and
// is folded into the cache key for reads.
type Operation struct {
	Model  string
	Action Action
	ID     string
	Args   any
}

// Runner executes the underlying operation and returns its encoded
// result.
type Runner func(ctx context.Context) ([]byte, error)

// Interceptor wraps a cache service around data-layer operations.
type Interceptor struct {
	svc *cache.Service
}

func New(svc *cache.Service) *Interceptor {
	return &Interceptor{svc: svc}
}

// queryShape is what query keys are derived from. Struct field order
// and encoding/json's sorted map keys keep the serialization stable,
// so equal filters always land on one key.
type queryShape struct {
	Action Action `json:"action"`
	Args   any    `json:"args,omitempty"`
}

// Key returns the canonical cache key for op: entity keys for ID
// lookups, query keys for everything else. Callers can use it to warm
// or inspect what Execute would touch.
func (i *Interceptor) Key(op Operation) (keys.Key, error) {
	if op.ID != "" {
		return keys.NewIDKey(op.Model, op.ID), nil
	}
	return keys.NewQueryKey(op.Model, queryShape{Action: op.Action, Args: op.Args})
}

// Execute routes op by its action class. Reads come from the cache
// when possible, falling back to next on a miss; writes run next
// first and invalidate on success only. Cache trouble never surfaces
// here: the worst case is running next uncached.
func (i *Interceptor) Execute(ctx context.Context, op Operation, next Runner) ([]byte, error) {
	switch classify(op.Action) {
	case classRead:
		return i.readThrough(ctx, op, next)
	case classWrite:
		return i.writeAround(ctx, op, next)
	default:
		return next(ctx)
	}
}

func (i *Interceptor) readThrough(ctx context.Context, op Operation, next Runner) ([]byte, error) {
	key, err := i.Key(op)
	if err != nil {
		// unserializable args cannot be keyed; run uncached
		zap.S().Debugw("uncacheable read", "model", op.Model, "action", op.Action, "error", err)
		return next(ctx)
	}
	return i.svc.GetOrSet(ctx, key, i.svc.TTLFor(op.Model), next)
}

func (i *Interceptor) writeAround(ctx context.Context, op Operation, next Runner) ([]byte, error) {
	out, err := next(ctx)
	if err != nil {
		return nil, err
	}
	i.Invalidate(ctx, op.Model)
	return out, nil
}

// Invalidate removes every entry the model could have cached: its own
// keyspace by pattern, then the model's tags. A tag shared with other
// models removes their entries as well.
func (i *Interceptor) Invalidate(ctx context.Context, model string) {
	policy := i.svc.Policy()
	entries := i.svc.DeleteMany(ctx, model+keys.Separator+"*")

	var tagged int64
	for _, tag := range policy.KindTags(model) {
		tagged += i.svc.InvalidateByTag(ctx, tag)
	}
	zap.S().Debugw("model invalidated",
		"model", model, "entries", entries, "viaTags", tagged)
}

// Do is the typed counterpart of Execute for callers that hold a
// decoded runner. It shares Execute's routing and key derivation.
func Do[T any](ctx context.Context, i *Interceptor, op Operation, next func(context.Context) (T, error)) (T, error) {
	switch classify(op.Action) {
	case classRead:
		key, err := i.Key(op)
		if err != nil {
			zap.S().Debugw("uncacheable read", "model", op.Model, "action", op.Action, "error", err)
			return next(ctx)
		}
		return cache.GetOrSet(ctx, i.svc, key, i.svc.TTLFor(op.Model), next)
	case classWrite:
		out, err := next(ctx)
		if err != nil {
			var zero T
			return zero, err
		}
		i.Invalidate(ctx, op.Model)
		return out, nil
	default:
		return next(ctx)
	}
}
