package ratelimit

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/gzhole/promptshield/internal/logging"
)

// KeyPrefix namespaces counter keys.
const KeyPrefix = "ratelimit:agent:"

// incrScript increments the counter, starts the window on first use, and
// returns {count, remaining ms}.
var incrScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {n, ttl}
`)

// Redis shares counts across instances through a Redis server.
type Redis struct {
	client   redis.UniversalClient
	window   time.Duration
	fallback Counter
	logger   *zap.Logger
}

// NewRedis creates a shared counter. When fallback is non-nil it serves
// increments while Redis is unreachable.
func NewRedis(client redis.UniversalClient, windowSize time.Duration, fallback Counter, logger *zap.Logger) *Redis {
	if windowSize <= 0 {
		windowSize = DefaultWindow
	}
	return &Redis{client: client, window: windowSize, fallback: fallback, logger: logging.OrNop(logger)}
}

func (r *Redis) Increment(ctx context.Context, agentID string, now time.Time) (Count, error) {
	res, err := incrScript.Run(ctx, r.client, []string{KeyPrefix + agentID}, r.window.Milliseconds()).Int64Slice()
	if err == nil && len(res) != 2 {
		err = fmt.Errorf("unexpected script reply %v", res)
	}
	if err != nil {
		if r.fallback == nil {
			return Count{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		r.logger.Warn("shared request counter unavailable, counting locally",
			zap.String("agent_id", agentID), zap.Error(err))
		return r.fallback.Increment(ctx, agentID, now)
	}
	return Count{
		Value:   int(res[0]),
		ResetAt: now.Add(time.Duration(res[1]) * time.Millisecond),
	}, nil
}
