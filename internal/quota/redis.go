package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// The first hit in a window starts its expiry; later hits only count.
var hitScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// Redis is a fixed-window limiter shared by every gateway using the same server.
type Redis struct {
	client redis.UniversalClient
	prefix string
	window time.Duration
	limit  int
}

func NewRedis(client redis.UniversalClient, prefix string, window time.Duration, limit int) *Redis {
	return &Redis{client: client, prefix: prefix + "quota:", window: window, limit: limit}
}

func (r *Redis) RecordAndCheck(ctx context.Context, actorID string) (bool, error) {
	if r.limit <= 0 {
		return true, nil
	}
	n, err := hitScript.Run(ctx, r.client, []string{r.prefix + actorID}, r.window.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("quota hit: %w", err)
	}
	return n <= r.limit, nil
}

// Prune is a no-op; keys expire on their own.
func (r *Redis) Prune(context.Context) (int, error) { return 0, nil }
