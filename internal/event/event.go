// Package event defines the canonical correlated event: the transient,
// CEE-shaped record built once per log message and handed through the
// pipeline by value. It is never persisted as-is; sinks wrap it in their
// own envelopes.
package event

// Event is the canonical shape of a log event after formatting. Absent
// syslog fields default to "-" (except ver, which defaults to "1").
type Event struct {
	Time   string         `json:"time"`
	Host   string         `json:"host"`
	Pname  string         `json:"pname"`
	Pri    string         `json:"pri"`
	Ver    string         `json:"ver"`
	Pid    string         `json:"pid"`
	MsgID  string         `json:"msgid"`
	Msg    string         `json:"msg"`
	Native map[string]any `json:"native"`

	Meniscus Meniscus `json:"meniscus"`

	// Normalized is present only when the normalization stage ran,
	// keyed by the producer pattern that selected the rule set.
	Normalized map[string]map[string]string `json:"normalized,omitempty"`
}

// Meniscus carries the tenant identity and the enrichment added by the
// correlation pipeline.
type Meniscus struct {
	Tenant      string      `json:"tenant"`
	Correlation Correlation `json:"correlation"`
}

// Correlation is the enrichment sub-record built from the matched (or
// synthesized) event producer.
type Correlation struct {
	TenantName string `json:"tenant_name"`
	// EpID is the matched producer's id, nil for a synthesized default
	// producer.
	EpID      *int     `json:"ep_id"`
	Pattern   string   `json:"pattern"`
	Durable   bool     `json:"durable"`
	Encrypted bool     `json:"encrypted"`
	Timestamp string   `json:"@timestamp"`
	Sinks     []string `json:"sinks"`
	// Destinations reserves one bookkeeping slot per sink; transaction
	// fields start null and are filled in sink-side.
	Destinations map[string]Destination `json:"destinations"`
}

// Destination is per-sink transaction bookkeeping.
type Destination struct {
	TransactionID   *string `json:"transaction_id"`
	TransactionTime *string `json:"transaction_time"`
}
