// Package redis provides Redis-backed stores for deployments that run more
// than one gateway replica. Every mutation is a single server-side script,
// so concurrent replicas never lose an increment.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jmcleod/gatehouse/ratelimit"
	"github.com/jmcleod/gatehouse/storage"
	goredis "github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces every key written by this package.
const DefaultPrefix = "gatehouse:"

// Option configures the stores.
type Option func(*base)

// WithPrefix replaces DefaultPrefix.
func WithPrefix(prefix string) Option {
	return func(b *base) { b.prefix = prefix }
}

type base struct {
	rdb    goredis.UniversalClient
	prefix string
}

func newBase(rdb goredis.UniversalClient, kind string, opts []Option) base {
	b := base{rdb: rdb, prefix: DefaultPrefix}
	for _, opt := range opts {
		opt(&b)
	}
	b.prefix += kind + ":"
	return b
}

func (b base) key(id string) string { return b.prefix + id }

// NewClient parses a redis:// URL and pings the server.
func NewClient(ctx context.Context, url string) (*goredis.Client, error) {
	opt, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	rdb := goredis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return rdb, nil
}

func ms(t time.Time) int64 { return t.UnixMilli() }

func fromMS(v int64) time.Time { return time.UnixMilli(v) }

// recordFailureScript restarts a record whose last failure is ttl or more
// old, then counts one failure and refreshes the expiry.
var recordFailureScript = goredis.NewScript(`
local last = redis.call('HGET', KEYS[1], 'last')
if last and (tonumber(ARGV[1]) - tonumber(last)) >= tonumber(ARGV[2]) then
  redis.call('DEL', KEYS[1])
end
local n = redis.call('HINCRBY', KEYS[1], 'failures', 1)
redis.call('HSET', KEYS[1], 'last', ARGV[1])
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return n
`)

// deleteStaleScript deletes the record only if its last failure is still
// ttl or more old.
var deleteStaleScript = goredis.NewScript(`
local last = redis.call('HGET', KEYS[1], 'last')
if last and (tonumber(ARGV[1]) - tonumber(last)) >= tonumber(ARGV[2]) then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// AttemptStore is a ratelimit.AttemptStore kept in a Redis hash per origin.
type AttemptStore struct{ base }

var _ ratelimit.AttemptStore = (*AttemptStore)(nil)

func NewAttemptStore(rdb goredis.UniversalClient, opts ...Option) *AttemptStore {
	return &AttemptStore{newBase(rdb, "attempts", opts)}
}

func (s *AttemptStore) Load(ctx context.Context, key string) (ratelimit.AttemptRecord, bool, error) {
	vals, err := s.rdb.HMGet(ctx, s.key(key), "failures", "last").Result()
	if err != nil {
		return ratelimit.AttemptRecord{}, false, err
	}
	failures, ok1 := parseInt(vals[0])
	last, ok2 := parseInt(vals[1])
	if !ok1 || !ok2 {
		return ratelimit.AttemptRecord{}, false, nil
	}
	return ratelimit.AttemptRecord{Failures: int(failures), LastAttemptAt: fromMS(last)}, true, nil
}

func (s *AttemptStore) RecordFailure(ctx context.Context, key string, now time.Time, ttl time.Duration) (ratelimit.AttemptRecord, error) {
	n, err := recordFailureScript.Run(ctx, s.rdb, []string{s.key(key)}, ms(now), ttl.Milliseconds()).Int64()
	if err != nil {
		return ratelimit.AttemptRecord{}, err
	}
	return ratelimit.AttemptRecord{Failures: int(n), LastAttemptAt: fromMS(ms(now))}, nil
}

func (s *AttemptStore) Delete(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, s.key(key)).Err()
}

func (s *AttemptStore) DeleteStale(ctx context.Context, key string, now time.Time, ttl time.Duration) error {
	return deleteStaleScript.Run(ctx, s.rdb, []string{s.key(key)}, ms(now), ttl.Milliseconds()).Err()
}

// hitScript opens a new window when none exists or the current one is
// more than its length old, otherwise counts into it. The key outlives
// the window by a second so a boundary hit still sees it.
var hitScript = goredis.NewScript(`
local now = tonumber(ARGV[1])
local start = redis.call('HGET', KEYS[1], 'start')
if (not start) or (now - tonumber(start) > tonumber(ARGV[2])) then
  redis.call('DEL', KEYS[1])
  redis.call('HSET', KEYS[1], 'start', ARGV[1], 'count', '1')
  redis.call('PEXPIRE', KEYS[1], ARGV[3])
  return {1, now}
end
local n = redis.call('HINCRBY', KEYS[1], 'count', 1)
return {n, tonumber(start)}
`)

// WindowStore is a ratelimit.WindowStore kept in a Redis hash per origin.
type WindowStore struct{ base }

var _ ratelimit.WindowStore = (*WindowStore)(nil)

func NewWindowStore(rdb goredis.UniversalClient, opts ...Option) *WindowStore {
	return &WindowStore{newBase(rdb, "window", opts)}
}

func (s *WindowStore) Hit(ctx context.Context, key string, now time.Time, length time.Duration) (ratelimit.Window, error) {
	vals, err := hitScript.Run(ctx, s.rdb, []string{s.key(key)}, ms(now), length.Milliseconds(), (length + time.Second).Milliseconds()).Int64Slice()
	if err != nil {
		return ratelimit.Window{}, err
	}
	if len(vals) != 2 {
		return ratelimit.Window{}, fmt.Errorf("unexpected window reply: %v", vals)
	}
	return ratelimit.Window{Count: int(vals[0]), Start: fromMS(vals[1])}, nil
}

func (s *WindowStore) Peek(ctx context.Context, key string) (ratelimit.Window, bool, error) {
	vals, err := s.rdb.HMGet(ctx, s.key(key), "count", "start").Result()
	if err != nil {
		return ratelimit.Window{}, false, err
	}
	count, ok1 := parseInt(vals[0])
	start, ok2 := parseInt(vals[1])
	if !ok1 || !ok2 {
		return ratelimit.Window{}, false, nil
	}
	return ratelimit.Window{Count: int(count), Start: fromMS(start)}, true, nil
}

// revokeScript never shortens an existing entry.
var revokeScript = goredis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur and tonumber(cur) >= tonumber(ARGV[1]) then
  return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
return 1
`)

// Revocations is a storage.Revocations whose entries expire in Redis.
type Revocations struct{ base }

var _ storage.Revocations = (*Revocations)(nil)

func NewRevocations(rdb goredis.UniversalClient, opts ...Option) *Revocations {
	return &Revocations{newBase(rdb, "revoked", opts)}
}

func (r *Revocations) Revoke(ctx context.Context, id string, until time.Time) error {
	if id == "" {
		return storage.ErrEmptyID
	}
	ttl := time.Until(until).Milliseconds()
	if ttl <= 0 {
		return nil
	}
	return revokeScript.Run(ctx, r.rdb, []string{r.key(id)}, ms(until), ttl).Err()
}

func (r *Revocations) IsRevoked(ctx context.Context, id string, now time.Time) (bool, error) {
	if id == "" {
		return false, nil
	}
	v, err := r.rdb.Get(ctx, r.key(id)).Int64()
	if errors.Is(err, goredis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return now.Before(fromMS(v)), nil
}

func parseInt(v any) (int64, bool) {
	s, ok := v.(string)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(s, 10, 64)
	return n, err == nil
}
