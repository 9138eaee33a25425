package redislock

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-crmsync/core"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const DefaultPrefix = "crmsync:lock:"

// releaseScript deletes the key only while it still holds our token so an
// expired lock taken over by another process is left alone.
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`

type Option func(*Locker)

func WithPrefix(prefix string) Option {
	return func(l *Locker) {
		l.prefix = prefix
	}
}

func WithTokenGenerator(next func() string) Option {
	return func(l *Locker) {
		if next != nil {
			l.token = next
		}
	}
}

// Locker implements core.RunLocker with SET NX PX and a compare-and-delete
// release.
type Locker struct {
	client redis.UniversalClient
	prefix string
	token  func() string
}

func New(client redis.UniversalClient, opts ...Option) (*Locker, error) {
	if client == nil {
		return nil, fmt.Errorf("redislock: redis client is required")
	}
	locker := &Locker{
		client: client,
		prefix: DefaultPrefix,
		token:  uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(locker)
		}
	}
	return locker, nil
}

func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (core.RunLock, bool, error) {
	if l == nil || l.client == nil {
		return nil, false, fmt.Errorf("redislock: locker is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, false, fmt.Errorf("redislock: key is required")
	}
	if ttl <= 0 {
		return nil, false, fmt.Errorf("redislock: ttl must be positive")
	}
	fullKey := l.prefix + key
	token := l.token()
	ok, err := l.client.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redislock: acquire %s: %w", fullKey, err)
	}
	if !ok {
		return nil, false, nil
	}
	return &lock{client: l.client, key: fullKey, token: token}, true, nil
}

type lock struct {
	client redis.UniversalClient
	key    string
	token  string
}

func (l *lock) Unlock(ctx context.Context) error {
	if l == nil || l.client == nil {
		return nil
	}
	if err := l.client.Eval(ctx, releaseScript, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("redislock: release %s: %w", l.key, err)
	}
	return nil
}

var _ core.RunLocker = (*Locker)(nil)
