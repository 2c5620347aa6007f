package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniredisManager(t *testing.T) *RedisManager {
	t.Helper()
	mr := miniredis.RunT(t)
	return NewRedisManager(mr.Addr(), "", 0)
}

type payload struct {
	Value string `json:"value"`
}

func TestInMemoryManager_SetThenGet(t *testing.T) {
	m := NewInMemoryManager()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", payload{Value: "hello"}, time.Minute))

	var out payload
	hit, err := m.Get(ctx, "k", &out)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "hello", out.Value)
}

func TestInMemoryManager_ExpiredEntryIsAMiss(t *testing.T) {
	m := NewInMemoryManager()
	ctx := context.Background()

	require.NoError(t, m.Set(ctx, "k", payload{Value: "stale"}, -time.Second))

	var out payload
	hit, err := m.Get(ctx, "k", &out)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestInMemoryManager_MissingKeyIsAMiss(t *testing.T) {
	m := NewInMemoryManager()
	var out payload
	hit, err := m.Get(context.Background(), "missing", &out)
	require.NoError(t, err)
	assert.False(t, hit)
}

// failingManager always errors, to exercise Fallback's degrade path.
type failingManager struct{}

func (failingManager) Get(context.Context, string, interface{}) (bool, error) {
	return false, errors.New("primary unreachable")
}
func (failingManager) Set(context.Context, string, interface{}, time.Duration) error {
	return errors.New("primary unreachable")
}
func (failingManager) Health(context.Context) bool { return false }
func (failingManager) Close() error                { return nil }

func TestFallback_GetUsesFallbackWhenPrimaryErrors(t *testing.T) {
	fallback := NewInMemoryManager()
	require.NoError(t, fallback.Set(context.Background(), "k", payload{Value: "backup"}, time.Minute))

	f := NewFallback(failingManager{}, fallback)

	var out payload
	hit, err := f.Get(context.Background(), "k", &out)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "backup", out.Value)
}

func TestFallback_SetWritesToFallbackWhenPrimaryErrors(t *testing.T) {
	fallback := NewInMemoryManager()
	f := NewFallback(failingManager{}, fallback)

	err := f.Set(context.Background(), "k", payload{Value: "written"}, time.Minute)
	require.NoError(t, err)

	var out payload
	hit, err := fallback.Get(context.Background(), "k", &out)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "written", out.Value)
}

func TestFallback_HealthReflectsPrimary(t *testing.T) {
	f := NewFallback(failingManager{}, NewInMemoryManager())
	assert.False(t, f.Health(context.Background()))
}

func TestRedisManager_SetThenGet(t *testing.T) {
	r := newMiniredisManager(t)
	ctx := context.Background()

	require.NoError(t, r.Set(ctx, "k", payload{Value: "hello"}, time.Minute))

	var out payload
	hit, err := r.Get(ctx, "k", &out)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "hello", out.Value)
}

func TestRedisManager_MissingKeyIsACleanMiss(t *testing.T) {
	r := newMiniredisManager(t)

	var out payload
	hit, err := r.Get(context.Background(), "missing", &out)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestRedisManager_Health(t *testing.T) {
	r := newMiniredisManager(t)
	assert.True(t, r.Health(context.Background()))
}

func TestRedisManager_KeysAreNamespacedByPrefix(t *testing.T) {
	mr := miniredis.RunT(t)
	r := NewRedisManager(mr.Addr(), "", 0)

	require.NoError(t, r.Set(context.Background(), "k", payload{Value: "hello"}, time.Minute))

	assert.True(t, mr.Exists("sentinel:k"))
}
