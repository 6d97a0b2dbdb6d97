package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	es "github.com/elastic/go-elasticsearch/v8"
)

// ESIndexer implements Indexer against an Elasticsearch cluster using
// the official client's bulk API.
type ESIndexer struct {
	client *es.Client
}

// NewESIndexer connects to the given cluster addresses.
func NewESIndexer(addresses []string) (*ESIndexer, error) {
	client, err := es.NewClient(es.Config{Addresses: addresses})
	if err != nil {
		return nil, fmt.Errorf("elasticsearch client: %w", err)
	}
	return &ESIndexer{client: client}, nil
}

// bulkResponse is the subset of the _bulk response we act on.
type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		Status int `json:"status"`
		Error  *struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error"`
	} `json:"items"`
}

// Bulk submits the envelopes in one _bulk round trip and reports a
// per-envelope verdict. A transport-level failure returns an error and
// no results.
func (ix *ESIndexer) Bulk(ctx context.Context, envelopes []Envelope) ([]BulkResult, error) {
	var body bytes.Buffer
	for _, env := range envelopes {
		action, err := json.Marshal(map[string]any{
			"index": map[string]any{"_index": env.Index, "_id": env.ID},
		})
		if err != nil {
			return nil, fmt.Errorf("bulk action: %w", err)
		}
		doc, err := json.Marshal(env.Source)
		if err != nil {
			return nil, fmt.Errorf("bulk document %s: %w", env.ID, err)
		}
		body.Write(action)
		body.WriteByte('\n')
		body.Write(doc)
		body.WriteByte('\n')
	}

	res, err := ix.client.Bulk(bytes.NewReader(body.Bytes()), ix.client.Bulk.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("bulk request: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("bulk request: status %s", res.Status())
	}

	var parsed bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("bulk response: %w", err)
	}
	if len(parsed.Items) != len(envelopes) {
		return nil, fmt.Errorf("bulk response: %d items for %d envelopes", len(parsed.Items), len(envelopes))
	}

	results := make([]BulkResult, len(parsed.Items))
	for i, item := range parsed.Items {
		// Each item is keyed by its action ("index").
		for _, verdict := range item {
			r := BulkResult{
				OK:     verdict.Status >= 200 && verdict.Status < 300,
				Status: verdict.Status,
			}
			if verdict.Error != nil {
				r.Reason = verdict.Error.Type + ": " + verdict.Error.Reason
			}
			results[i] = r
		}
	}
	return results, nil
}

// EnsureIndex creates the index, tolerating prior existence.
func (ix *ESIndexer) EnsureIndex(ctx context.Context, index string) error {
	res, err := ix.client.Indices.Create(index, ix.client.Indices.Create.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("create index %s: %w", index, err)
	}
	defer res.Body.Close()
	if res.IsError() && res.StatusCode != 400 {
		return fmt.Errorf("create index %s: status %s", index, res.Status())
	}
	return nil
}

// PutTTLMapping installs the expiry-field mapping for a document type.
// Safe to repeat; the mapping is additive.
func (ix *ESIndexer) PutTTLMapping(ctx context.Context, index, docType string) error {
	body := `{"properties":{"meniscus":{"properties":{"correlation":{"properties":{"@timestamp":{"type":"date"}}}}}}}`
	res, err := ix.client.Indices.PutMapping(
		[]string{index},
		strings.NewReader(body),
		ix.client.Indices.PutMapping.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("put mapping %s/%s: %w", index, docType, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("put mapping %s/%s: status %s", index, docType, res.Status())
	}
	return nil
}
