package redis

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestFixedWindowAllow(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}

	allowed, count, err := client.FixedWindowAllow(ctx, "restore:1.2.3.4", 2, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !allowed {
		t.Fatalf("expected allowed on first request")
	}
	if count != 1 {
		t.Fatalf("expected counter 1 got %d", count)
	}
	if len(mock.expireCalls) != 1 {
		t.Fatalf("expected expire for first increment")
	}

	allowed, count, err = client.FixedWindowAllow(ctx, "restore:1.2.3.4", 2, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !allowed || count != 2 {
		t.Fatalf("unexpected second call state allowed=%v count=%d", allowed, count)
	}
	if len(mock.expireCalls) != 1 {
		t.Fatalf("expire should not be set again")
	}

	allowed, _, err = client.FixedWindowAllow(ctx, "restore:1.2.3.4", 2, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if allowed {
		t.Fatalf("expected limit reached")
	}
}

func TestKeyBuilders(t *testing.T) {
	client := &Client{}
	if got := client.CartKey("abc"); got != "cp:cart:abc" {
		t.Fatalf("unexpected cart key %s", got)
	}
	if got := client.CartKeyPrefix(); got != "cp:cart:" {
		t.Fatalf("unexpected cart key prefix %s", got)
	}
	if got := client.CartsKey("candidates", "step", "2"); got != "cp:carts:candidates:step:2" {
		t.Fatalf("unexpected carts key %s", got)
	}
	if got := client.CartsPrefix(); got != "cp:carts:" {
		t.Fatalf("unexpected carts prefix %s", got)
	}
	if got := client.LockKey("cart-recovery"); got != "cp:lock:cart-recovery" {
		t.Fatalf("unexpected lock key %s", got)
	}
	if got := client.RateLimitKey("scope"); got != "cp:rate_limit:scope" {
		t.Fatalf("unexpected rate limit key %s", got)
	}
	if got := client.CartsKey("", "stats"); got != "cp:carts:stats" {
		t.Fatalf("empty parts should be skipped, got %s", got)
	}
}

func TestDelPrefixAgainstMiniredis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := NewFromRaw(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	for i := 0; i < 450; i++ {
		require.NoError(t, client.Set(ctx, client.CartsKey("candidates", fmt.Sprint(i)), "x", time.Minute))
	}
	require.NoError(t, client.Set(ctx, client.CartKey("keep"), "x", time.Minute))

	deleted, err := client.DelPrefix(ctx, client.CartsPrefix())
	require.NoError(t, err)
	require.EqualValues(t, 450, deleted)

	for _, key := range mr.Keys() {
		require.False(t, strings.HasPrefix(key, client.CartsPrefix()), "leftover key %s", key)
	}
	require.True(t, mr.Exists(client.CartKey("keep")))

	deleted, err = client.DelPrefix(ctx, client.CartKeyPrefix())
	require.NoError(t, err)
	require.EqualValues(t, 1, deleted)
}

func TestDelPrefixRequiresPrefix(t *testing.T) {
	client := &Client{store: newMockCmdable()}
	_, err := client.DelPrefix(context.Background(), "")
	require.Error(t, err)
}

func TestCompareAndDeleteRequiresOwner(t *testing.T) {
	mock := newMockCmdable()
	client := &Client{store: mock}
	ctx := context.Background()
	key := client.LockKey("cart-recovery")
	mock.data[key] = "owner-a"

	ok, err := client.CompareAndDelete(ctx, key, "owner-b")
	require.NoError(t, err)
	require.False(t, ok)
	require.Contains(t, mock.data, key)

	ok, err = client.CompareAndDelete(ctx, key, "owner-a")
	require.NoError(t, err)
	require.True(t, ok)
	require.NotContains(t, mock.data, key)
}

func TestCompareAndDeleteAgainstMiniredis(t *testing.T) {
	mr := miniredis.RunT(t)
	raw := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = raw.Close() })
	client := NewFromRaw(raw)
	ctx := context.Background()

	require.NoError(t, mr.Set("cp:lock:job", "owner-a"))
	ok, err := client.CompareAndDelete(ctx, "cp:lock:job", "owner-b")
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = client.CompareAndDelete(ctx, "cp:lock:job", "owner-a")
	require.NoError(t, err)
	require.True(t, ok)
	require.False(t, mr.Exists("cp:lock:job"))
}

func TestGetMissingReturnsNil(t *testing.T) {
	client := &Client{store: newMockCmdable()}
	_, err := client.Get(context.Background(), client.CartKey("missing"))
	require.ErrorIs(t, err, Nil)
}

type mockCmdable struct {
	data        map[string]string
	incr        map[string]int64
	expireCalls []expireCall
}

type expireCall struct {
	key string
	ttl time.Duration
}

func newMockCmdable() *mockCmdable {
	return &mockCmdable{
		data: make(map[string]string),
		incr: make(map[string]int64),
	}
}

func (m *mockCmdable) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (m *mockCmdable) Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	m.data[key] = fmt.Sprint(value)
	return redis.NewStatusResult("OK", nil)
}

func (m *mockCmdable) Get(ctx context.Context, key string) *redis.StringCmd {
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *mockCmdable) SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd {
	if _, exists := m.data[key]; exists {
		return redis.NewBoolResult(false, nil)
	}
	m.data[key] = fmt.Sprint(value)
	return redis.NewBoolResult(true, nil)
}

func (m *mockCmdable) Incr(ctx context.Context, key string) *redis.IntCmd {
	m.incr[key]++
	return redis.NewIntResult(m.incr[key], nil)
}

func (m *mockCmdable) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	m.expireCalls = append(m.expireCalls, expireCall{key: key, ttl: expiration})
	return redis.NewBoolResult(true, nil)
}

func (m *mockCmdable) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	var n int64
	for _, key := range keys {
		if _, ok := m.data[key]; ok {
			n++
		}
		delete(m.data, key)
	}
	return redis.NewIntResult(n, nil)
}

func (m *mockCmdable) Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd {
	prefix := strings.TrimSuffix(match, "*")
	var keys []string
	for key := range m.data {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return redis.NewScanCmdResult(keys, 0, nil)
}

func (m *mockCmdable) Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd {
	if len(keys) != 1 || len(args) != 1 {
		return redis.NewCmdResult(nil, fmt.Errorf("unexpected eval arity"))
	}
	if v, ok := m.data[keys[0]]; ok && v == fmt.Sprint(args[0]) {
		delete(m.data, keys[0])
		return redis.NewCmdResult(int64(1), nil)
	}
	return redis.NewCmdResult(int64(0), nil)
}
