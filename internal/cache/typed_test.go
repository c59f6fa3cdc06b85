package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tagcache-service/internal/config"
	"tagcache-service/internal/keys"
)

type testUser struct {
	ID    int      `json:"id" msgpack:"id"`
	Name  string   `json:"name" msgpack:"name"`
	Roles []string `json:"roles,omitempty" msgpack:"roles,omitempty"`
}

func TestTyped_RoundTrip(t *testing.T) {
	svc, _, cleanup := setupTestService(t, Options{})
	defer cleanup()
	ctx := context.Background()

	key := keys.NewIDKey("user", "42")
	want := testUser{ID: 42, Name: "Alice", Roles: []string{"admin"}}

	require.True(t, Set(ctx, svc, key, want, time.Minute))

	got, ok := Get[testUser](ctx, svc, key)
	require.True(t, ok)
	assert.Equal(t, want, got)
}

func TestTyped_RoundTripMsgpack(t *testing.T) {
	svc, _, cleanup := setupTestService(t, Options{Codec: config.CodecMsgpack})
	defer cleanup()
	ctx := context.Background()

	key := keys.NewIDKey("user", "42")
	want := testUser{ID: 42, Name: "Alice"}

	require.True(t, Set(ctx, svc, key, want, time.Minute))

	got, ok := Get[testUser](ctx, svc, key)
	require.True(t, ok)
	assert.Equal(t, want, got)
}

func TestTyped_MalformedPayloadIsMiss(t *testing.T) {
	svc, _, cleanup := setupTestService(t, Options{})
	defer cleanup()
	ctx := context.Background()

	key := keys.NewIDKey("user", "42")
	require.True(t, svc.Set(ctx, key, []byte("{not json"), time.Minute))

	got, ok := Get[testUser](ctx, svc, key)
	assert.False(t, ok)
	assert.Zero(t, got)
}

func TestTyped_GetOrSet(t *testing.T) {
	svc, _, cleanup := setupTestService(t, Options{})
	defer cleanup()
	ctx := context.Background()

	key := keys.NewIDKey("user", "7")
	calls := 0
	compute := func(context.Context) (testUser, error) {
		calls++
		return testUser{ID: 7, Name: "Bob"}, nil
	}

	got, err := GetOrSet(ctx, svc, key, time.Minute, compute)
	require.NoError(t, err)
	assert.Equal(t, testUser{ID: 7, Name: "Bob"}, got)
	assert.Equal(t, 1, calls)

	svc.pool.drain()

	got, err = GetOrSet(ctx, svc, key, time.Minute, compute)
	require.NoError(t, err)
	assert.Equal(t, testUser{ID: 7, Name: "Bob"}, got)
	assert.Equal(t, 1, calls)
}

func TestTyped_GetOrSetComputeError(t *testing.T) {
	svc, _, cleanup := setupTestService(t, Options{})
	defer cleanup()
	ctx := context.Background()

	boom := errors.New("backend down")
	got, err := GetOrSet(ctx, svc, keys.NewIDKey("user", "8"), time.Minute,
		func(context.Context) (testUser, error) { return testUser{}, boom })

	assert.ErrorIs(t, err, boom)
	assert.Zero(t, got)
}

func TestTyped_WithLock(t *testing.T) {
	svc, _, cleanup := setupTestService(t, lockOptions(time.Second))
	defer cleanup()
	ctx := context.Background()

	got, err := WithLock(ctx, svc, "job", func(context.Context) (testUser, error) {
		return testUser{ID: 1, Name: "Worker"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, testUser{ID: 1, Name: "Worker"}, got)
}

func TestTyped_WithLockTimeout(t *testing.T) {
	svc, _, cleanup := setupTestService(t, lockOptions(50*time.Millisecond))
	defer cleanup()
	ctx := context.Background()

	lockKey := svc.policy.LockStorage("busy")
	require.NoError(t, svc.store.Set(ctx, lockKey, []byte("foreign"), 0))

	got, err := WithLock(ctx, svc, "busy", func(context.Context) (testUser, error) {
		return testUser{ID: 1}, nil
	})
	assert.True(t, IsLockTimeout(err))
	assert.Zero(t, got)
}

func TestWarmupEntryOf(t *testing.T) {
	svc, _, cleanup := setupTestService(t, Options{})
	defer cleanup()
	ctx := context.Background()

	entry := WarmupEntryOf(svc, keys.NewIDKey("user", "42"), time.Minute,
		func(context.Context) (testUser, error) { return testUser{ID: 42, Name: "Alice"}, nil })

	raw, err := entry.Compute(ctx)
	require.NoError(t, err)

	var got testUser
	require.NoError(t, svc.codec.Unmarshal(raw, &got))
	assert.Equal(t, testUser{ID: 42, Name: "Alice"}, got)
}
