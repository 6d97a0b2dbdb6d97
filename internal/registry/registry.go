// Package registry is the in-memory tenant system-of-record behind the
// coordinator personality. It owns entity lifecycle: auto-provisioning,
// producer creation, and token rotation policy. The minimum rotation
// interval is enforced here, at the resource layer, so Token stays a pure
// state machine and the immediate-invalidation path remains a distinct
// operation.
package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"meniscus/internal/tenant"
)

// DefaultMinRotationInterval is the minimum time between ordinary token
// resets.
const DefaultMinRotationInterval = 3 * time.Hour

// ErrTenantNotFound is returned for lookups of unknown tenant ids.
var ErrTenantNotFound = fmt.Errorf("tenant not found")

// ErrRotationTooSoon is returned when an ordinary reset is requested
// before the minimum rotation interval has elapsed.
var ErrRotationTooSoon = fmt.Errorf("token was changed within the minimum rotation interval")

// Registry holds tenants keyed by tenant id. Safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	tenants     map[string]*tenant.Tenant
	minRotation time.Duration
	now         func() time.Time
}

// New creates an empty registry. A zero minRotation falls back to the
// default three-hour policy.
func New(minRotation time.Duration) *Registry {
	if minRotation == 0 {
		minRotation = DefaultMinRotationInterval
	}
	return &Registry{
		tenants:     make(map[string]*tenant.Tenant),
		minRotation: minRotation,
		now:         time.Now,
	}
}

// CreateTenant provisions a tenant with a fresh token. Creating an
// existing tenant id is an error; use GetOrCreate for auto-provisioning.
func (r *Registry) CreateTenant(tenantID, tenantName string) (*tenant.Tenant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tenants[tenantID]; ok {
		return nil, fmt.Errorf("tenant %s already exists", tenantID)
	}
	t := tenant.NewTenant(tenantID, tenantName)
	t.SetID(uuid.NewString())
	r.tenants[tenantID] = t
	return t, nil
}

// GetOrCreate returns the tenant, provisioning it on first reference.
func (r *Registry) GetOrCreate(tenantID string) *tenant.Tenant {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tenants[tenantID]; ok {
		return t
	}
	t := tenant.NewTenant(tenantID, "")
	t.SetID(uuid.NewString())
	r.tenants[tenantID] = t
	return t
}

// GetTenant returns the tenant or ErrTenantNotFound.
func (r *Registry) GetTenant(tenantID string) (*tenant.Tenant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tenants[tenantID]
	if !ok {
		return nil, ErrTenantNotFound
	}
	return t, nil
}

// AddEventProducer creates a producer on the tenant, assigning the next
// sequence id.
func (r *Registry) AddEventProducer(tenantID, name, pattern string, durable, encrypted bool, sinks []string) (*tenant.EventProducer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tenants[tenantID]
	if !ok {
		return nil, ErrTenantNotFound
	}
	return t.AddEventProducer(name, pattern, durable, encrypted, sinks)
}

// ResetToken rotates the tenant's token. The ordinary variant keeps the
// old secret as a grace period and is rejected with ErrRotationTooSoon
// inside the minimum rotation interval; invalidateNow bypasses both the
// interval check and the grace period.
func (r *Registry) ResetToken(tenantID string, invalidateNow bool) (*tenant.Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tenants[tenantID]
	if !ok {
		return nil, ErrTenantNotFound
	}
	if invalidateNow {
		t.Token.ResetNow()
		return t.Token, nil
	}
	if r.now().Sub(t.Token.LastChanged) < r.minRotation {
		return nil, ErrRotationTooSoon
	}
	t.Token.Reset()
	return t.Token, nil
}
