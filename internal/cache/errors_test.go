package cache

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_WrapsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := newError(KindUnavailable, "get", "app:user:id:1", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "get")
	assert.Contains(t, err.Error(), "app:user:id:1")
	assert.Contains(t, err.Error(), "unavailable")
}

func TestKindOf(t *testing.T) {
	err := newError(KindValueTooLarge, "set", "app:user:id:1", nil)

	kind, ok := KindOf(err)
	assert.True(t, ok)
	assert.Equal(t, KindValueTooLarge, kind)

	// kinds survive wrapping
	kind, ok = KindOf(fmt.Errorf("outer: %w", err))
	assert.True(t, ok)
	assert.Equal(t, KindValueTooLarge, kind)

	_, ok = KindOf(errors.New("plain"))
	assert.False(t, ok)
}

func TestIsLockTimeout(t *testing.T) {
	assert.True(t, IsLockTimeout(newError(KindLockTimeout, "withLock", "app:lock:job", nil)))
	assert.False(t, IsLockTimeout(newError(KindUnavailable, "get", "k", nil)))
	assert.False(t, IsLockTimeout(errors.New("plain")))
	assert.False(t, IsLockTimeout(nil))
}
