package proxy

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/adnymics/redicts/backend"
)

func newTestBackend(t *testing.T) backend.Backend {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return backend.New(client)
}

func newProxy(t *testing.T, be backend.Backend, path string) *Proxy {
	t.Helper()
	p, err := New(be, path, DefaultOptions())
	require.NoError(t, err)
	return p
}

func TestScalarThenMappingOverwrites(t *testing.T) {
	ctx := context.Background()
	be := newTestBackend(t)
	root := newProxy(t, be, "")

	_, err := root.Set(ctx, "a", float64(2), nil)
	require.NoError(t, err)

	_, err = root.Set(ctx, "a.b", float64(3), nil)
	require.NoError(t, err)

	b, err := newProxy(t, be, "a.b").Val(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, float64(3), b)

	a, err := newProxy(t, be, "a").Val(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, map[string]interface{}{"b": float64(3)}, a)

	_, ok, err := be.Get(ctx, "v:.a")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestExplicitNullWithDeeperSiblings(t *testing.T) {
	ctx := context.Background()
	be := newTestBackend(t)
	root := newProxy(t, be, "")

	_, err := root.Set(ctx, "a", float64(2), nil)
	require.NoError(t, err)
	_, err = root.Set(ctx, "a.b", float64(3), nil)
	require.NoError(t, err)
	_, err = root.Set(ctx, "a.c", nil, nil)
	require.NoError(t, err)

	a, err := newProxy(t, be, "a").Val(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, map[string]interface{}{"b": float64(3), "c": nil}, a)

	_, err = root.Set(ctx, "a", map[string]interface{}{"b": float64(42), "e": float64(3)}, nil)
	require.NoError(t, err)

	a, err = newProxy(t, be, "a").Val(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, map[string]interface{}{"b": float64(42), "e": float64(3)}, a)

	_, ok, err := be.Get(ctx, "v:.a.c")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestValRoundTripsMapping(t *testing.T) {
	ctx := context.Background()
	be := newTestBackend(t)
	root := newProxy(t, be, "")

	nested := map[string]interface{}{
		"x": float64(1),
		"y": map[string]interface{}{
			"z": "hello",
		},
	}
	_, err := root.Set(ctx, "n", nested, nil)
	require.NoError(t, err)

	got, err := newProxy(t, be, "n").Val(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, nested, got)
}

func TestAncestorClearingUpward(t *testing.T) {
	ctx := context.Background()
	be := newTestBackend(t)
	root := newProxy(t, be, "")

	_, err := root.Set(ctx, "p.q.r", float64(1), nil)
	require.NoError(t, err)

	_, err = root.Set(ctx, "p", float64(9), nil)
	require.NoError(t, err)

	_, ok, err := be.Get(ctx, "v:.p.q.r")
	require.NoError(t, err)
	require.False(t, ok)

	p, err := newProxy(t, be, "p").Val(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, float64(9), p)
}

func TestScalarWriteClearsDescendants(t *testing.T) {
	ctx := context.Background()
	be := newTestBackend(t)
	root := newProxy(t, be, "")

	_, err := root.Set(ctx, "p.q", float64(1), nil)
	require.NoError(t, err)
	_, err = root.Set(ctx, "p.r", float64(2), nil)
	require.NoError(t, err)

	_, err = root.Set(ctx, "p", float64(9), nil)
	require.NoError(t, err)

	_, ok, err := be.Get(ctx, "v:.p.q")
	require.NoError(t, err)
	require.False(t, ok)
	_, ok, err = be.Get(ctx, "v:.p.r")
	require.NoError(t, err)
	require.False(t, ok)

	p, err := newProxy(t, be, "p").Val(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, float64(9), p)
}

func TestValDefaultAndExists(t *testing.T) {
	ctx := context.Background()
	be := newTestBackend(t)
	root := newProxy(t, be, "")

	v, err := root.Get("missing")
	require.NoError(t, err)
	val, err := v.Val(ctx, nil)
	require.NoError(t, err)
	require.Nil(t, val)

	val, err = v.Val(ctx, "fallback")
	require.NoError(t, err)
	require.Equal(t, "fallback", val)

	_, err = root.Set(ctx, "n", nil, nil)
	require.NoError(t, err)

	nProxy, err := root.Get("n")
	require.NoError(t, err)
	val, err = nProxy.Val(ctx, "fallback")
	require.NoError(t, err)
	require.Nil(t, val)
}

func TestIterChildren(t *testing.T) {
	ctx := context.Background()
	be := newTestBackend(t)
	root := newProxy(t, be, "")

	_, err := root.Set(ctx, "a.b", float64(1), nil)
	require.NoError(t, err)
	_, err = root.Set(ctx, "a.c", float64(2), nil)
	require.NoError(t, err)

	aProxy, err := root.Get("a")
	require.NoError(t, err)
	children, err := aProxy.IterChildren(ctx)
	require.NoError(t, err)
	require.Len(t, children, 2)
}

func TestAddWithoutExistingKey(t *testing.T) {
	ctx := context.Background()
	be := newTestBackend(t)
	root := newProxy(t, be, "")

	x, err := root.Get("x")
	require.NoError(t, err)

	sum, err := x.Add(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, float64(5), sum)

	sum, err = x.Add(ctx, 3)
	require.NoError(t, err)
	require.Equal(t, float64(8), sum)
}

func TestExpireAndTimeToLive(t *testing.T) {
	ctx := context.Background()
	be := newTestBackend(t)
	root := newProxy(t, be, "")

	_, err := root.Set(ctx, "a.b", float64(1), nil)
	require.NoError(t, err)

	aProxy, err := root.Get("a")
	require.NoError(t, err)

	ttl, err := aProxy.TimeToLive(ctx)
	require.NoError(t, err)
	require.Nil(t, ttl)

	require.NoError(t, aProxy.Expire(ctx, 5))

	ttl, err = aProxy.TimeToLive(ctx)
	require.NoError(t, err)
	require.NotNil(t, ttl)
	require.InDelta(t, 5, ttl.Seconds(), 1)
}

func TestDeleteAndClear(t *testing.T) {
	ctx := context.Background()
	be := newTestBackend(t)
	root := newProxy(t, be, "")

	_, err := root.Set(ctx, "a.b", float64(1), nil)
	require.NoError(t, err)

	require.NoError(t, root.Delete(ctx, "a"))

	val, err := newProxy(t, be, "a").Val(ctx, nil)
	require.NoError(t, err)
	require.Nil(t, val)
}

func TestEqual(t *testing.T) {
	ctx := context.Background()
	be := newTestBackend(t)
	root := newProxy(t, be, "")

	_, err := root.Set(ctx, "a", float64(1), nil)
	require.NoError(t, err)
	_, err = root.Set(ctx, "b", float64(1), nil)
	require.NoError(t, err)
	_, err = root.Set(ctx, "c", float64(2), nil)
	require.NoError(t, err)

	a, err := root.Get("a")
	require.NoError(t, err)
	b, err := root.Get("b")
	require.NoError(t, err)
	c, err := root.Get("c")
	require.NoError(t, err)

	eq, err := a.Equal(ctx, b)
	require.NoError(t, err)
	require.True(t, eq)

	eq, err = a.Equal(ctx, c)
	require.NoError(t, err)
	require.False(t, eq)
}

func TestProxyIdentityCache(t *testing.T) {
	be := newTestBackend(t)

	p1, err := FromRegistry(be, "default", "a.b", DefaultOptions())
	require.NoError(t, err)
	p2, err := FromRegistry(be, "default", "a.b", DefaultOptions())
	require.NoError(t, err)
	require.Same(t, p1, p2)

	p3, err := FromRegistry(be, "default", "a.c", DefaultOptions())
	require.NoError(t, err)
	require.NotSame(t, p1, p3)
}

func TestWithLockBracketsOperation(t *testing.T) {
	ctx := context.Background()
	be := newTestBackend(t)
	p := newProxy(t, be, "guarded")

	var sawLocked bool
	err := p.WithLock(ctx, func(ctx context.Context) error {
		locked, err := p.IsLocked(ctx)
		require.NoError(t, err)
		sawLocked = locked
		return nil
	})
	require.NoError(t, err)
	require.True(t, sawLocked)

	locked, err := p.IsLocked(ctx)
	require.NoError(t, err)
	require.False(t, locked)
}
