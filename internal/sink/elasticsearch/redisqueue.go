package elasticsearch

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// RedisQueue is the production Queue: a Redis list plus a per-consumer
// processing list (reliable-queue pattern). Pull atomically moves an
// envelope from the ready list to the processing list; Ack removes it
// from the processing list; Nack moves it back to the ready list for
// redelivery. Envelopes stranded in the processing list by a crashed
// worker are reclaimed on the next start.
type RedisQueue struct {
	rdb        goredis.UniversalClient
	key        string
	processing string
}

// NewRedisQueue creates a queue on the given key. The processing list is
// suffixed ":processing".
func NewRedisQueue(rdb goredis.UniversalClient, key string) *RedisQueue {
	return &RedisQueue{
		rdb:        rdb,
		key:        key,
		processing: key + ":processing",
	}
}

// Publish appends the payload to the ready list.
func (q *RedisQueue) Publish(ctx context.Context, payload []byte) error {
	return q.rdb.LPush(ctx, q.key, payload).Err()
}

// Pull blocks up to timeout, moving the oldest envelope to the
// processing list. Timeout yields (nil, nil).
func (q *RedisQueue) Pull(ctx context.Context, timeout time.Duration) (*Delivery, error) {
	val, err := q.rdb.BLMove(ctx, q.key, q.processing, "RIGHT", "LEFT", timeout).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	payload := []byte(val)
	return &Delivery{
		Payload: payload,
		Ack: func(ctx context.Context) error {
			return q.rdb.LRem(ctx, q.processing, 1, val).Err()
		},
		Nack: func(ctx context.Context) error {
			// Back to the consuming end of the ready list so the
			// envelope is re-offered promptly.
			_, err := q.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
				p.LRem(ctx, q.processing, 1, val)
				p.RPush(ctx, q.key, val)
				return nil
			})
			return err
		},
	}, nil
}

// Reclaim moves every envelope from the processing list back to the
// ready list. Called once at worker start so envelopes stranded by a
// crash are redelivered rather than lost.
func (q *RedisQueue) Reclaim(ctx context.Context) (int, error) {
	moved := 0
	for {
		_, err := q.rdb.LMove(ctx, q.processing, q.key, "RIGHT", "RIGHT").Result()
		if errors.Is(err, goredis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, err
		}
		moved++
	}
}
