package elasticsearch

import (
	"context"
	"sync"
	"time"
)

// MemQueue is an in-process Queue for tests and single-node development.
// Unacked deliveries are tracked so redelivery semantics can be asserted.
type MemQueue struct {
	mu       sync.Mutex
	ready    chan []byte
	pending  map[string][]byte // key: payload identity
	sequence int
}

// NewMemQueue creates a queue with the given buffer capacity.
func NewMemQueue(capacity int) *MemQueue {
	return &MemQueue{
		ready:   make(chan []byte, capacity),
		pending: make(map[string][]byte),
	}
}

// Publish appends the payload to the ready channel.
func (q *MemQueue) Publish(_ context.Context, payload []byte) error {
	q.ready <- payload
	return nil
}

// Pull blocks up to timeout for the next payload. The delivery is held
// as pending until acked.
func (q *MemQueue) Pull(ctx context.Context, timeout time.Duration) (*Delivery, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, nil
	case payload := <-q.ready:
		q.mu.Lock()
		key := string(payload)
		q.pending[key] = payload
		q.mu.Unlock()
		return &Delivery{
			Payload: payload,
			Ack: func(context.Context) error {
				q.mu.Lock()
				defer q.mu.Unlock()
				delete(q.pending, key)
				return nil
			},
			Nack: func(context.Context) error {
				q.mu.Lock()
				delete(q.pending, key)
				q.mu.Unlock()
				q.ready <- payload
				return nil
			},
		}, nil
	}
}

// Outstanding returns the payloads pulled but never acked. These are the
// envelopes a real broker would redeliver.
func (q *MemQueue) Outstanding() [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([][]byte, 0, len(q.pending))
	for _, p := range q.pending {
		out = append(out, p)
	}
	return out
}

// Len reports the number of ready (not yet pulled) payloads.
func (q *MemQueue) Len() int {
	return len(q.ready)
}
