package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	v1 "github.com/purplecabbage/asset-compute-sdk/internal/contracts/activation/v1"
)

// commands is the subset of *redis.Client the queue uses.
type commands interface {
	LPush(ctx context.Context, key string, values ...any) *redis.IntCmd
	BRPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
	LLen(ctx context.Context, key string) *redis.IntCmd
}

type RedisQueue struct {
	rdb        commands
	queueName  string
	popTimeout time.Duration
}

// NewRedisQueue returns a FIFO queue of activation envelopes: producers
// LPUSH, consumers BRPOP.
func NewRedisQueue(rdb *redis.Client, queueName string, popTimeout time.Duration) *RedisQueue {
	return newQueue(rdb, queueName, popTimeout)
}

func newQueue(rdb commands, queueName string, popTimeout time.Duration) *RedisQueue {
	if popTimeout <= 0 {
		popTimeout = 5 * time.Second
	}
	return &RedisQueue{rdb: rdb, queueName: queueName, popTimeout: popTimeout}
}

// Push enqueues params and returns the activation id. An empty id is
// replaced by a fresh one.
func (q *RedisQueue) Push(ctx context.Context, activationID string, params json.RawMessage) (string, error) {
	if activationID == "" {
		activationID = uuid.NewString()
	}
	b, err := json.Marshal(v1.Envelope{
		ActivationID: activationID,
		Params:       params,
		EnqueuedAt:   time.Now().UTC(),
	})
	if err != nil {
		return "", err
	}
	if err := q.rdb.LPush(ctx, q.queueName, b).Err(); err != nil {
		return "", err
	}
	return activationID, nil
}

// Pop blocks up to the pop timeout (BRPOP). It returns nil, nil when the
// queue stayed empty.
func (q *RedisQueue) Pop(ctx context.Context) (*v1.Envelope, error) {
	res, err := q.rdb.BRPop(ctx, q.popTimeout, q.queueName).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(res) < 2 {
		return nil, nil
	}
	return v1.Decode([]byte(res[1]))
}

// Len reports how many activations are waiting.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, q.queueName).Result()
}
