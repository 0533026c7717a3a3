package queue

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

// priorityBand separates priorities in the sorted-set score; the enqueue time
// in milliseconds stays below it until the year 2286.
const priorityBand = 1e13

// Redis keeps the queue in a sorted set so every worker instance shares it.
type Redis struct {
	rdb redis.UniversalClient
	key string
	now func() time.Time
}

// NewRedis creates a queue stored under key.
func NewRedis(rdb redis.UniversalClient, key string) *Redis {
	if key == "" {
		key = "ingest:queue"
	}
	return &Redis{rdb: rdb, key: key, now: time.Now}
}

func score(priority int, at time.Time) float64 {
	return -float64(priority)*priorityBand + float64(at.UnixMilli())
}

func decodeScore(s float64) (int, time.Time) {
	priority := -int(math.Floor(s / priorityBand))
	ms := int64(s + float64(priority)*priorityBand)
	return priority, time.UnixMilli(ms)
}

func (q *Redis) Enqueue(ctx context.Context, jobID string, priority int) error {
	return q.EnqueueAt(ctx, jobID, priority, q.now())
}

func (q *Redis) EnqueueAt(ctx context.Context, jobID string, priority int, at time.Time) error {
	if err := CheckPriority(priority); err != nil {
		return fmt.Errorf("enqueue %s: %w", jobID, err)
	}
	err := q.rdb.ZAdd(ctx, q.key, redis.Z{Score: score(priority, at), Member: jobID}).Err()
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", jobID, err)
	}
	return nil
}

func (q *Redis) Dequeue(ctx context.Context) (Item, bool, error) {
	zs, err := q.rdb.ZPopMin(ctx, q.key, 1).Result()
	if err != nil {
		return Item{}, false, fmt.Errorf("dequeue: %w", err)
	}
	if len(zs) == 0 {
		return Item{}, false, nil
	}
	member, ok := zs[0].Member.(string)
	if !ok {
		return Item{}, false, fmt.Errorf("dequeue: unexpected member type %T", zs[0].Member)
	}
	priority, at := decodeScore(zs[0].Score)
	return Item{JobID: member, Priority: priority, EnqueuedAt: at}, true, nil
}

func (q *Redis) Len(ctx context.Context) (int, error) {
	n, err := q.rdb.ZCard(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("queue length: %w", err)
	}
	return int(n), nil
}
