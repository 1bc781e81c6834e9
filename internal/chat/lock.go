package chat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"arxivchat/internal/util"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker serializes turns of one session. Lock waits until the key is free
// or ctx ends, in which case the error wraps util.ErrSessionBusy.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

var (
	_ Locker = (*LocalLocker)(nil)
	_ Locker = (*RedisLocker)(nil)
)

type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: map[string]*slot{}}
}

func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	s := l.slots[key]
	if s == nil {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-s.ch
				l.release(key, s)
			})
		}, nil
	case <-ctx.Done():
		l.release(key, s)
		return nil, fmt.Errorf("%w: %v", util.ErrSessionBusy, ctx.Err())
	}
}

func (l *LocalLocker) release(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

const lockPrefix = "arxivchat:lock:"

// RedisLocker is a SETNX lock with a per-acquire token, so a holder whose
// lease expired cannot release the next holder's lock. While held, the lease
// is extended every ttl/3.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	poll   time.Duration
}

func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisLocker{client: client, ttl: ttl, poll: 50 * time.Millisecond}
}

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

var extendScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("pexpire", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

// extend resets the lease on name if token still owns it.
func (l *RedisLocker) extend(ctx context.Context, name, token string) (bool, error) {
	n, err := extendScript.Run(ctx, l.client, []string{name}, token, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("extend lock %s: %w", name, err)
	}
	return n == 1, nil
}

func (l *RedisLocker) keepAlive(name, token string, stop <-chan struct{}) {
	t := time.NewTicker(max(l.ttl/3, time.Millisecond))
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			held, err := l.extend(context.Background(), name, token)
			if err == nil && !held {
				return
			}
		}
	}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	name := lockPrefix + key
	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()
	for {
		ok, err := l.client.SetNX(ctx, name, token, l.ttl).Result()
		if err != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("acquire lock %s: %w: %v", key, util.ErrExternalUnavailable, err)
		}
		if ok {
			stop := make(chan struct{})
			go l.keepAlive(name, token, stop)
			var once sync.Once
			return func() {
				once.Do(func() {
					close(stop)
					_ = releaseScript.Run(context.Background(), l.client, []string{name}, token).Err()
				})
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", util.ErrSessionBusy, ctx.Err())
		case <-ticker.C:
		}
	}
}
