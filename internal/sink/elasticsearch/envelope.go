// Package elasticsearch implements the indexing sink: an enqueue side
// that wraps correlated events in index-request envelopes on a durable
// queue, and a bulk flush engine that streams those envelopes into the
// storage backend, acknowledging each envelope only after the backend
// confirmed that specific document.
package elasticsearch

import (
	"encoding/json"

	"github.com/google/uuid"

	"meniscus/internal/event"
)

// Envelope is the index-request wire record published to the durable
// queue. The target collection is the tenant id and the document type is
// the producer pattern, so per-tenant indices stay queryable by message
// shape.
type Envelope struct {
	Index   string      `json:"_index"`
	DocType string      `json:"_type"`
	ID      string      `json:"_id"`
	TTL     int64       `json:"_ttl"` // milliseconds, 0 = no expiry
	Source  event.Event `json:"_source"`
}

// NewEnvelope wraps a correlated event for indexing.
func NewEnvelope(ev *event.Event, ttlMillis int64) Envelope {
	return Envelope{
		Index:   ev.Meniscus.Tenant,
		DocType: ev.Meniscus.Correlation.Pattern,
		ID:      uuid.NewString(),
		TTL:     ttlMillis,
		Source:  *ev,
	}
}

// Marshal returns the queue wire form.
func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalEnvelope parses the queue wire form.
func UnmarshalEnvelope(raw []byte) (Envelope, error) {
	var e Envelope
	err := json.Unmarshal(raw, &e)
	return e, err
}
