// Package tenant holds the in-memory representations of Tenant,
// EventProducer, and Token entities and their (de)serialization.
//
// These are pure data types: no I/O, no side effects. Format() produces
// the canonical map shape used by the cache layer and the coordinator wire
// contract, and the Load*FromMap constructors are exact inverses of
// Format() so a cached entity round-trips byte-for-byte.
package tenant

import (
	"fmt"
	"slices"
)

// DefaultSink is the sink assigned to producers created without an
// explicit sink list, and to the synthesized default producer.
const DefaultSink = "elasticsearch"

// DefaultPattern is the routing/doc-type pattern used when a message's
// program name matches no producer on the tenant.
const DefaultPattern = "default"

// EventProducer is a named message-shape/routing profile belonging to a
// tenant. Name is unique within the owning tenant; ID is a per-tenant
// sequence assigned by Tenant.AddEventProducer.
type EventProducer struct {
	ID        int
	Name      string
	Pattern   string
	Durable   bool
	Encrypted bool
	Sinks     []string
}

// NewEventProducer creates a producer profile. A nil or empty sink list
// gets a fresh single-element default; the slice is always newly
// allocated, never shared between producers.
func NewEventProducer(id int, name, pattern string, durable, encrypted bool, sinks []string) *EventProducer {
	ep := &EventProducer{
		ID:        id,
		Name:      name,
		Pattern:   pattern,
		Durable:   durable,
		Encrypted: encrypted,
	}
	if len(sinks) == 0 {
		ep.Sinks = []string{DefaultSink}
	} else {
		ep.Sinks = slices.Clone(sinks)
	}
	return ep
}

// GetID returns the per-tenant sequence id, distinct from the producer's
// externally-visible name.
func (ep *EventProducer) GetID() int { return ep.ID }

// Format returns the canonical serialization of the producer.
func (ep *EventProducer) Format() map[string]any {
	sinks := make([]any, len(ep.Sinks))
	for i, s := range ep.Sinks {
		sinks[i] = s
	}
	return map[string]any{
		"id":        ep.ID,
		"name":      ep.Name,
		"pattern":   ep.Pattern,
		"durable":   ep.Durable,
		"encrypted": ep.Encrypted,
		"sinks":     sinks,
	}
}

// Tenant is a customer account sending log events. TenantID is externally
// assigned and immutable; sid is the opaque storage-backend id. A tenant
// always owns exactly one Token.
type Tenant struct {
	TenantID       string
	TenantName     string
	Token          *Token
	EventProducers []*EventProducer

	sid string
}

// NewTenant creates a tenant with a fresh token and no producers.
// An empty name defaults to the tenant id.
func NewTenant(tenantID, tenantName string) *Tenant {
	if tenantName == "" {
		tenantName = tenantID
	}
	return &Tenant{
		TenantID:       tenantID,
		TenantName:     tenantName,
		Token:          NewToken(),
		EventProducers: make([]*EventProducer, 0),
	}
}

// GetID returns the storage-assigned internal id, distinct from TenantID.
func (t *Tenant) GetID() string { return t.sid }

// SetID records the storage-assigned internal id.
func (t *Tenant) SetID(sid string) { t.sid = sid }

// FindEventProducer returns the producer whose name matches, or nil.
func (t *Tenant) FindEventProducer(name string) *EventProducer {
	for _, ep := range t.EventProducers {
		if ep.Name == name {
			return ep
		}
	}
	return nil
}

// AddEventProducer creates a producer with the next sequence id for this
// tenant. The name must be unique within the tenant's producer list.
func (t *Tenant) AddEventProducer(name, pattern string, durable, encrypted bool, sinks []string) (*EventProducer, error) {
	if t.FindEventProducer(name) != nil {
		return nil, fmt.Errorf("tenant %s: event producer %q already exists", t.TenantID, name)
	}
	next := 1
	for _, ep := range t.EventProducers {
		if ep.ID >= next {
			next = ep.ID + 1
		}
	}
	ep := NewEventProducer(next, name, pattern, durable, encrypted, sinks)
	t.EventProducers = append(t.EventProducers, ep)
	return ep, nil
}

// RemoveEventProducer detaches the producer with the given id. Reports
// whether a producer was removed.
func (t *Tenant) RemoveEventProducer(id int) bool {
	for i, ep := range t.EventProducers {
		if ep.ID == id {
			t.EventProducers = slices.Delete(t.EventProducers, i, i+1)
			return true
		}
	}
	return false
}

// Format returns the canonical serialization of the tenant, including its
// token and producers. LoadTenantFromMap is its exact inverse.
func (t *Tenant) Format() map[string]any {
	eps := make([]any, len(t.EventProducers))
	for i, ep := range t.EventProducers {
		eps[i] = ep.Format()
	}
	m := map[string]any{
		"tenant_id":       t.TenantID,
		"tenant_name":     t.TenantName,
		"event_producers": eps,
		"token":           t.Token.Format(),
	}
	if t.sid != "" {
		m["_id"] = t.sid
	}
	return m
}

// LoadTenantFromMap reconstructs a Tenant from its Format() shape.
// Numeric fields accept both int and float64 so maps that round-tripped
// through encoding/json load identically to freshly formatted ones.
func LoadTenantFromMap(m map[string]any) (*Tenant, error) {
	tenantID, ok := m["tenant_id"].(string)
	if !ok || tenantID == "" {
		return nil, fmt.Errorf("tenant: missing tenant_id")
	}
	t := &Tenant{
		TenantID:       tenantID,
		TenantName:     tenantID,
		EventProducers: make([]*EventProducer, 0),
	}
	if name, ok := m["tenant_name"].(string); ok && name != "" {
		t.TenantName = name
	}
	if sid, ok := m["_id"].(string); ok {
		t.sid = sid
	}

	tm, ok := m["token"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("tenant %s: missing token", tenantID)
	}
	tk, err := LoadTokenFromMap(tm)
	if err != nil {
		return nil, fmt.Errorf("tenant %s: %w", tenantID, err)
	}
	t.Token = tk

	eps, _ := m["event_producers"].([]any)
	for _, raw := range eps {
		em, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("tenant %s: malformed event producer", tenantID)
		}
		ep, err := loadEventProducerFromMap(em)
		if err != nil {
			return nil, fmt.Errorf("tenant %s: %w", tenantID, err)
		}
		t.EventProducers = append(t.EventProducers, ep)
	}
	return t, nil
}

func loadEventProducerFromMap(m map[string]any) (*EventProducer, error) {
	name, ok := m["name"].(string)
	if !ok || name == "" {
		return nil, fmt.Errorf("event producer: missing name")
	}
	id, err := intField(m, "id")
	if err != nil {
		return nil, fmt.Errorf("event producer %s: %w", name, err)
	}
	ep := &EventProducer{
		ID:   id,
		Name: name,
	}
	ep.Pattern, _ = m["pattern"].(string)
	ep.Durable, _ = m["durable"].(bool)
	ep.Encrypted, _ = m["encrypted"].(bool)
	sinks, _ := m["sinks"].([]any)
	ep.Sinks = make([]string, 0, len(sinks))
	for _, s := range sinks {
		if name, ok := s.(string); ok {
			ep.Sinks = append(ep.Sinks, name)
		}
	}
	if len(ep.Sinks) == 0 {
		ep.Sinks = []string{DefaultSink}
	}
	return ep, nil
}

func intField(m map[string]any, key string) (int, error) {
	switch v := m[key].(type) {
	case int:
		return v, nil
	case float64:
		return int(v), nil
	default:
		return 0, fmt.Errorf("missing or non-numeric %q", key)
	}
}
