package admission

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// takeScript performs the check-and-increment server side so concurrent
// instances sharing one Redis see a single counter.
// Returns {allowed, count, pttl_ms}.
var takeScript = redis.NewScript(`
local count = tonumber(redis.call('GET', KEYS[1]) or '0')
if count >= tonumber(ARGV[1]) then
  return {0, count, redis.call('PTTL', KEYS[1])}
end
count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return {1, count, redis.call('PTTL', KEYS[1])}
`)

// RedisStore keeps windows in Redis as counters with a TTL equal to the
// window duration. Expiry replaces the explicit reset of InMemoryStore.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore returns a RedisStore using keys "<prefix><identity>".
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "ratelimit:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

// Ping reports whether the server is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Take implements Store.Take.
func (s *RedisStore) Take(ctx context.Context, identity string, now time.Time, window time.Duration, limit int) (Window, bool, error) {
	res, err := takeScript.Run(ctx, s.client, []string{s.prefix + identity}, limit, window.Milliseconds()).Int64Slice()
	if err != nil {
		return Window{}, false, fmt.Errorf("redis take %s: %w", identity, err)
	}
	if len(res) != 3 {
		return Window{}, false, fmt.Errorf("redis take %s: unexpected reply %v", identity, res)
	}

	remaining := window
	if res[2] > 0 {
		remaining = time.Duration(res[2]) * time.Millisecond
	}

	w := Window{
		Identity: identity,
		Start:    now.Add(remaining - window),
		Count:    int(res[1]),
	}
	return w, res[0] == 1, nil
}
