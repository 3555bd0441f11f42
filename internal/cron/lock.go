package cron

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultLockTTL = 10 * time.Minute

// Lock gives one worker at a time ownership of a named job.
type Lock interface {
	Acquire(ctx context.Context, name string) (bool, error)
	Release(ctx context.Context, name string) error
}

type lockStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	DelIfValue(ctx context.Context, key, value string) (bool, error)
	LockKey(name string) string
}

// RedisLock holds one Redis key per job, valued with a token unique to the
// acquisition. The TTL caps how long a crashed worker blocks the job.
type RedisLock struct {
	store  lockStore
	prefix string
	ttl    time.Duration

	mu     sync.Mutex
	tokens map[string]string
}

func NewRedisLock(store lockStore, prefix string, ttl time.Duration) (*RedisLock, error) {
	switch {
	case store == nil:
		return nil, errors.New("redis client required for lock")
	case prefix == "":
		return nil, errors.New("lock prefix is required")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLock{store: store, prefix: prefix, ttl: ttl, tokens: map[string]string{}}, nil
}

func (l *RedisLock) Acquire(ctx context.Context, name string) (bool, error) {
	token := uuid.NewString()
	won, err := l.store.SetNX(ctx, l.store.LockKey(l.prefix+":"+name), token, l.ttl)
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", name, err)
	}
	if won {
		l.mu.Lock()
		l.tokens[name] = token
		l.mu.Unlock()
	}
	return won, nil
}

// Release drops the lock if the key still carries our token. Releasing a job
// this process never acquired does nothing.
func (l *RedisLock) Release(ctx context.Context, name string) error {
	l.mu.Lock()
	token, held := l.tokens[name]
	delete(l.tokens, name)
	l.mu.Unlock()
	if !held {
		return nil
	}
	if _, err := l.store.DelIfValue(ctx, l.store.LockKey(l.prefix+":"+name), token); err != nil {
		return fmt.Errorf("release %s: %w", name, err)
	}
	return nil
}
