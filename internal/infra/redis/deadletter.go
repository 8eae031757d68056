package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/robinmin/ccbridge/internal/dispatch/recovery"
)

// Dead letters are kept for replay but not forever.
const deadLetterTTL = 7 * 24 * time.Hour

// DeadLetterQueue implements recovery.DeadLetterSink using Redis.
type DeadLetterQueue struct {
	rdb *redis.Client
}

// NewDeadLetterQueue creates a Redis-backed dead-letter queue.
func NewDeadLetterQueue(client *Client) *DeadLetterQueue {
	return &DeadLetterQueue{rdb: client.rdb}
}

// Key helpers
func (q *DeadLetterQueue) queueKey() string {
	return "dead_letters:queue"
}

func (q *DeadLetterQueue) letterKey(id string) string {
	return fmt.Sprintf("dead_letter:%s", id)
}

// Push parks an operation for out-of-band replay.
func (q *DeadLetterQueue) Push(ctx context.Context, letter recovery.DeadLetter) error {
	if letter.ID == "" {
		letter.ID = uuid.NewString()
	}
	if letter.ParkedAt.IsZero() {
		letter.ParkedAt = time.Now()
	}

	data, err := json.Marshal(letter)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter: %w", err)
	}

	if err := q.rdb.Set(ctx, q.letterKey(letter.ID), data, deadLetterTTL).Err(); err != nil {
		return fmt.Errorf("failed to set dead letter: %w", err)
	}

	// Score = park time, so replay proceeds oldest-first.
	if err := q.rdb.ZAdd(ctx, q.queueKey(), redis.Z{
		Score:  float64(letter.ParkedAt.UnixMilli()),
		Member: letter.ID,
	}).Err(); err != nil {
		return fmt.Errorf("failed to add to queue: %w", err)
	}

	return nil
}

// Next retrieves the oldest parked operation, or nil when the queue is
// empty.
func (q *DeadLetterQueue) Next(ctx context.Context) (*recovery.DeadLetter, error) {
	ids, err := q.rdb.ZRange(ctx, q.queueKey(), 0, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("zrange failed: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	id := ids[0]
	data, err := q.rdb.Get(ctx, q.letterKey(id)).Bytes()
	if err == redis.Nil {
		// Data expired but ID still in queue, remove it
		q.rdb.ZRem(ctx, q.queueKey(), id)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dead letter: %w", err)
	}

	var letter recovery.DeadLetter
	if err := json.Unmarshal(data, &letter); err != nil {
		return nil, fmt.Errorf("failed to unmarshal dead letter: %w", err)
	}
	return &letter, nil
}

// Resolve removes a replayed operation.
func (q *DeadLetterQueue) Resolve(ctx context.Context, id string) error {
	if err := q.rdb.ZRem(ctx, q.queueKey(), id).Err(); err != nil {
		return fmt.Errorf("failed to remove from queue: %w", err)
	}
	if err := q.rdb.Del(ctx, q.letterKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete dead letter: %w", err)
	}
	return nil
}

// Count returns the number of parked operations.
func (q *DeadLetterQueue) Count(ctx context.Context) (int, error) {
	count, err := q.rdb.ZCard(ctx, q.queueKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("zcard failed: %w", err)
	}
	return int(count), nil
}
