package scan

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker serializes passes per organization. Lock blocks until the lock is
// held or ctx is done; the returned func releases it.
type Locker interface {
	Lock(ctx context.Context, orgID string) (func(), error)
}

// LocalLocker serializes passes within one process. A slot lives only while
// someone holds or waits for it.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]*localSlot
}

type localSlot struct {
	ch   chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[string]*localSlot)}
}

func (l *LocalLocker) Lock(ctx context.Context, orgID string) (func(), error) {
	l.mu.Lock()
	slot, ok := l.slots[orgID]
	if !ok {
		slot = &localSlot{ch: make(chan struct{}, 1)}
		l.slots[orgID] = slot
	}
	slot.refs++
	l.mu.Unlock()

	select {
	case slot.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-slot.ch
				l.leave(orgID, slot)
			})
		}, nil
	case <-ctx.Done():
		l.leave(orgID, slot)
		return nil, ctx.Err()
	}
}

func (l *LocalLocker) leave(orgID string, slot *localSlot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot.refs--
	if slot.refs == 0 {
		delete(l.slots, orgID)
	}
}

// releaseScript deletes the key only while it still holds our token, so a
// pass that outlived its TTL cannot free a lock taken by someone else.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript extends the TTL only while the key still holds our token.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker serializes passes across processes with SET NX on
// scan:lock:<org>. While held, the lock is renewed every Renew so a long
// pass keeps it; TTL only bounds how long a crashed holder blocks others.
type RedisLocker struct {
	Client redis.UniversalClient
	TTL    time.Duration
	Renew  time.Duration
	Retry  time.Duration
	Logger *log.Logger
}

func NewRedisLocker(client redis.UniversalClient, ttl time.Duration, logger *log.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &RedisLocker{Client: client, TTL: ttl, Renew: ttl / 3, Retry: 500 * time.Millisecond, Logger: logger}
}

func lockKey(orgID string) string { return "scan:lock:" + orgID }

func (r *RedisLocker) Lock(ctx context.Context, orgID string) (func(), error) {
	key := lockKey(orgID)
	token := uuid.NewString()
	retry := r.Retry
	if retry <= 0 {
		retry = 500 * time.Millisecond
	}
	for {
		ok, err := r.Client.SetNX(ctx, key, token, r.TTL).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire %s: %w", key, err)
		}
		if ok {
			break
		}
		t := time.NewTimer(retry)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go r.keepAlive(key, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(rctx, r.Client, []string{key}, token).Err(); err != nil {
				r.Logger.Printf("release %s: %v", key, err)
			}
		})
	}, nil
}

// keepAlive renews key until stop is closed or the token is gone.
func (r *RedisLocker) keepAlive(key, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	every := r.Renew
	if every <= 0 || every >= r.TTL {
		every = r.TTL / 3
	}
	tick := time.NewTicker(every)
	defer tick.Stop()
	for {
		select {
		case <-stop:
			return
		case <-tick.C:
		}
		rctx, cancel := context.WithTimeout(context.Background(), every)
		n, err := renewScript.Run(rctx, r.Client, []string{key}, token, r.TTL.Milliseconds()).Int64()
		cancel()
		if err != nil {
			r.Logger.Printf("renew %s: %v", key, err)
			continue
		}
		if n == 0 {
			r.Logger.Printf("lock %s lost before the pass finished", key)
			return
		}
	}
}
