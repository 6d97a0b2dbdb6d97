package elasticsearch

import (
	"context"
	"time"
)

// Delivery is one envelope pulled from the durable queue. Ack removes it
// permanently; Nack returns it to the ready queue for redelivery to a
// later flush. A delivery that is neither acked nor nacked stays on the
// broker and is reclaimed after a worker restart. Acknowledgement is
// per-item, never per-batch.
type Delivery struct {
	Payload []byte
	Ack     func(ctx context.Context) error
	Nack    func(ctx context.Context) error
}

// Queue is the durable hand-off between correlation workers and the bulk
// flush engine.
type Queue interface {
	// Publish appends an envelope. A publish error means the envelope
	// was not durably queued and the enqueue task must retry.
	Publish(ctx context.Context, payload []byte) error

	// Pull blocks up to timeout for the next envelope. A nil delivery
	// with nil error means the timeout elapsed; callers loop and pull
	// again (this is not an error).
	Pull(ctx context.Context, timeout time.Duration) (*Delivery, error)
}
