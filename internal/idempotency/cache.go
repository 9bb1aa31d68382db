// Package idempotency tracks which task IDs have already been completed, so
// a message redelivered after a crash or a network-level requeue is not
// processed twice.
package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache answers "has this task already completed" and records completions,
// atomically, so two consumers racing on a redelivered message agree on who
// gets to process it.
type Cache struct {
	redis  *redis.Client
	ttl    time.Duration
	script *redis.Script
}

// New builds a Cache backed by rdb. Completed task IDs are forgotten after
// ttl, bounding memory use; ttl should comfortably exceed the time a
// redelivery could plausibly lag the original delivery.
func New(rdb *redis.Client, ttl time.Duration) *Cache {
	return &Cache{
		redis:  rdb,
		ttl:    ttl,
		script: redis.NewScript(claimScript),
	}
}

// claimScript atomically checks and sets a completion marker, so a
// concurrent Claim from another worker for the same task ID never both
// succeed.
const claimScript = `
local key = KEYS[1]
local ttl_ms = tonumber(ARGV[1])

if redis.call("EXISTS", key) == 1 then
  return 0
end

redis.call("SET", key, "1", "PX", ttl_ms)
return 1
`

// Claim marks taskId as completed and reports whether this call was the
// first to do so. A caller that does not win the claim should skip
// reprocessing the task and, if it holds a queue delivery, ack it without
// re-running the engine.
func (c *Cache) Claim(ctx context.Context, taskId string) (won bool, err error) {
	res, err := c.script.Run(ctx, c.redis, []string{completedKey(taskId)}, c.ttl.Milliseconds()).Result()
	if err != nil {
		return false, fmt.Errorf("idempotency: claim %s: %w", taskId, err)
	}
	n, ok := res.(int64)
	if !ok {
		return false, fmt.Errorf("idempotency: unexpected claim result %T", res)
	}
	return n == 1, nil
}

// Seen reports whether taskId has already been claimed as completed.
func (c *Cache) Seen(ctx context.Context, taskId string) (bool, error) {
	n, err := c.redis.Exists(ctx, completedKey(taskId)).Result()
	if err != nil {
		return false, fmt.Errorf("idempotency: check %s: %w", taskId, err)
	}
	return n == 1, nil
}

// Ping satisfies httpserver.Pinger for the /readyz handler.
func (c *Cache) Ping(ctx context.Context) error {
	return c.redis.Ping(ctx).Err()
}

func completedKey(taskId string) string {
	return "task:completed:" + taskId
}
