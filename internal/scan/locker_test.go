package scan

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestLocalLockerSerializesPerOrg(t *testing.T) {
	l := NewLocalLocker()
	unlock, err := l.Lock(context.Background(), "a")
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}

	other, err := l.Lock(context.Background(), "b")
	if err != nil {
		t.Fatalf("lock on another org should not block: %v", err)
	}
	other()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(ctx, "a"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	unlock()
	unlock()
	again, err := l.Lock(context.Background(), "a")
	if err != nil {
		t.Fatalf("Lock after release: %v", err)
	}
	again()
}

func newRedisLocker(t *testing.T) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	l := NewRedisLocker(client, time.Minute, nil)
	l.Retry = 5 * time.Millisecond
	return l, mr
}

func TestRedisLockerExcludesAndReleases(t *testing.T) {
	l, mr := newRedisLocker(t)
	unlock, err := l.Lock(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if !mr.Exists("scan:lock:org-1") {
		t.Fatalf("lock key not set")
	}
	if ttl := mr.TTL("scan:lock:org-1"); ttl != time.Minute {
		t.Fatalf("ttl = %s", ttl)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(ctx, "org-1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected contention, got %v", err)
	}

	unlock()
	if mr.Exists("scan:lock:org-1") {
		t.Fatalf("lock key not released")
	}
	again, err := l.Lock(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("relock: %v", err)
	}
	again()
}

func TestRedisLockerKeepsForeignToken(t *testing.T) {
	l, mr := newRedisLocker(t)
	unlock, err := l.Lock(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	// simulate expiry and takeover by another worker
	if err := mr.Set("scan:lock:org-1", "someone-else"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	unlock()
	got, err := mr.Get("scan:lock:org-1")
	if err != nil || got != "someone-else" {
		t.Fatalf("foreign lock removed: %q %v", got, err)
	}
}

func TestLocalLockerDropsIdleSlots(t *testing.T) {
	l := NewLocalLocker()
	for _, org := range []string{"a", "b", "c"} {
		unlock, err := l.Lock(context.Background(), org)
		if err != nil {
			t.Fatalf("Lock %s: %v", org, err)
		}
		unlock()
	}

	held, err := l.Lock(context.Background(), "a")
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(ctx, "a"); err == nil {
		t.Fatalf("expected contention")
	}
	held()

	l.mu.Lock()
	n := len(l.slots)
	l.mu.Unlock()
	if n != 0 {
		t.Fatalf("slots left behind: %d", n)
	}
}

func TestRedisLockerRenewsWhileHeld(t *testing.T) {
	l, mr := newRedisLocker(t)
	l.Renew = 5 * time.Millisecond
	unlock, err := l.Lock(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}

	// Eight 40s jumps outlast the one minute TTL several times over.
	for i := 0; i < 8; i++ {
		mr.FastForward(40 * time.Second)
		time.Sleep(25 * time.Millisecond)
	}
	if !mr.Exists("scan:lock:org-1") {
		t.Fatalf("lock expired while held")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(ctx, "org-1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected contention, got %v", err)
	}

	unlock()
	if mr.Exists("scan:lock:org-1") {
		t.Fatalf("lock key not released")
	}
}
