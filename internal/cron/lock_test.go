package cron

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	pkgredis "github.com/angelmondragon/cartpulse-backend/pkg/redis"
)

func newLockClient(t *testing.T) (*pkgredis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	raw := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = raw.Close() })
	return pkgredis.NewFromRaw(raw), mr
}

func TestRedisLockExclusive(t *testing.T) {
	client, mr := newLockClient(t)
	ctx := context.Background()
	key := client.LockKey("cart-recovery")

	first, err := NewRedisLock(client, key, time.Minute)
	if err != nil {
		t.Fatalf("new lock: %v", err)
	}
	second, _ := NewRedisLock(client, key, time.Minute)

	ok, err := first.Acquire(ctx)
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	ok, err = second.Acquire(ctx)
	if err != nil || ok {
		t.Fatalf("second acquire should fail: ok=%v err=%v", ok, err)
	}

	// releasing without ownership leaves the key alone
	if err := second.Release(ctx); err != nil {
		t.Fatalf("second release: %v", err)
	}
	if !mr.Exists(key) {
		t.Fatal("lock dropped by non-owner")
	}

	if err := first.Release(ctx); err != nil {
		t.Fatalf("first release: %v", err)
	}
	if mr.Exists(key) {
		t.Fatal("lock still held after release")
	}
	ok, err = second.Acquire(ctx)
	if err != nil || !ok {
		t.Fatalf("reacquire: ok=%v err=%v", ok, err)
	}
}

func TestRedisLockExpiredOwnerDoesNotDeleteNewHolder(t *testing.T) {
	client, mr := newLockClient(t)
	ctx := context.Background()
	key := client.LockKey("cart-recovery")

	stale, _ := NewRedisLock(client, key, time.Minute)
	if ok, _ := stale.Acquire(ctx); !ok {
		t.Fatal("stale acquire failed")
	}
	mr.FastForward(2 * time.Minute)

	fresh, _ := NewRedisLock(client, key, time.Minute)
	if ok, _ := fresh.Acquire(ctx); !ok {
		t.Fatal("fresh acquire failed after ttl")
	}
	if err := stale.Release(ctx); err != nil {
		t.Fatalf("stale release: %v", err)
	}
	if !mr.Exists(key) {
		t.Fatal("stale owner deleted the new holder's lock")
	}
}

func TestNewRedisLockValidates(t *testing.T) {
	if _, err := NewRedisLock(nil, "k", time.Minute); err == nil {
		t.Fatal("expected client error")
	}
	client, _ := newLockClient(t)
	if _, err := NewRedisLock(client, "", time.Minute); err == nil {
		t.Fatal("expected key error")
	}
	lock, err := NewRedisLock(client, "k", 0)
	if err != nil {
		t.Fatalf("new lock: %v", err)
	}
	if lock.ttl != defaultLockTTL {
		t.Fatalf("expected default ttl, got %s", lock.ttl)
	}
}
