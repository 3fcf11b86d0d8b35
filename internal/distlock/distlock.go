package distlock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lock is a distributed mutex backed by Redis SET NX with TTL. Each Lock
// carries a random ownership token so releasing can never delete a lock
// acquired by a different holder (release goes through a Lua script that
// compares the token first).
//
// Acquire fails closed: any transport error reads as "not acquired".
// Release swallows transport errors; once the TTL expires a stuck lock
// clears itself, so failing to release must not abort the caller's cleanup.
type Lock struct {
	client *redis.Client
	key    string
	value  string
	ttl    time.Duration
}

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// New creates a lock for the given key. TTL bounds how long a crashed holder
// can block other instances.
func New(client *redis.Client, key string, ttl time.Duration) *Lock {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return &Lock{
		client: client,
		key:    "lock:" + key,
		value:  hex.EncodeToString(b),
		ttl:    ttl,
	}
}

// Acquire attempts to take the lock. Returns true iff this caller now holds
// it. A Redis error returns (false, err): callers must treat that as not
// acquired.
func (l *Lock) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.value, l.ttl).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

// Release deletes the lock if this instance still owns it. Errors are
// swallowed: the TTL is the safety net and the caller's exit path must not
// fail on release.
func (l *Lock) Release(ctx context.Context) {
	_, _ = releaseScript.Run(ctx, l.client, []string{l.key}, l.value).Result()
}

// IsHeld reports whether the key currently exists. Diagnostics only; the
// check races with expiry, so never use it to decide whether to proceed.
func (l *Lock) IsHeld(ctx context.Context) bool {
	n, err := l.client.Exists(ctx, l.key).Result()
	return err == nil && n > 0
}
