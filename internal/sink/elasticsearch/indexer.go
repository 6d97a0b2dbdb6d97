package elasticsearch

import (
	"context"
)

// BulkResult is the backend's verdict on one envelope within a bulk
// flush, position-aligned with the submitted batch.
type BulkResult struct {
	OK     bool
	Status int
	Reason string
}

// Indexer is the narrow contract against the storage backend. Bulk
// returns one result per envelope (same order) when the round trip
// succeeded at the transport level, or an error when the backend was
// unreachable entirely, in which case no envelope may be acked.
//
// EnsureIndex and PutTTLMapping are idempotent setup calls invoked once
// per new tenant / producer pattern, off the per-message hot path.
type Indexer interface {
	Bulk(ctx context.Context, envelopes []Envelope) ([]BulkResult, error)
	EnsureIndex(ctx context.Context, index string) error
	PutTTLMapping(ctx context.Context, index, docType string) error
}
