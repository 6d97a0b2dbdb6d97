package registry

import (
	"errors"
	"testing"
	"time"
)

func TestCreateAndGet(t *testing.T) {
	r := New(0)

	tn, err := r.CreateTenant("t1", "acme")
	if err != nil {
		t.Fatalf("CreateTenant: %v", err)
	}
	if tn.GetID() == "" {
		t.Error("created tenant has no storage id")
	}

	if _, err := r.CreateTenant("t1", ""); err == nil {
		t.Error("duplicate tenant id must be rejected")
	}

	got, err := r.GetTenant("t1")
	if err != nil || got.TenantID != "t1" {
		t.Errorf("GetTenant = %+v, %v", got, err)
	}
	if _, err := r.GetTenant("nope"); !errors.Is(err, ErrTenantNotFound) {
		t.Errorf("GetTenant(nope) = %v, want ErrTenantNotFound", err)
	}
}

func TestGetOrCreateAutoProvisions(t *testing.T) {
	r := New(0)
	a := r.GetOrCreate("t1")
	b := r.GetOrCreate("t1")
	if a != b {
		t.Error("GetOrCreate must return the same tenant on repeat calls")
	}
	if a.Token == nil || a.Token.Valid == "" {
		t.Error("auto-provisioned tenant must own a token")
	}
}

func TestAddEventProducer(t *testing.T) {
	r := New(0)
	r.CreateTenant("t1", "")

	ep, err := r.AddEventProducer("t1", "apache", "apache2.cee", true, false, []string{"elasticsearch"})
	if err != nil {
		t.Fatalf("AddEventProducer: %v", err)
	}
	if ep.GetID() != 1 {
		t.Errorf("producer id = %d, want 1", ep.GetID())
	}

	if _, err := r.AddEventProducer("missing", "x", "p", false, false, nil); !errors.Is(err, ErrTenantNotFound) {
		t.Errorf("unknown tenant error = %v", err)
	}
}

func TestResetTokenPolicy(t *testing.T) {
	r := New(0)
	now := time.Now()
	r.now = func() time.Time { return now }

	tn, _ := r.CreateTenant("t1", "")
	original := tn.Token.Valid

	// Fresh token: ordinary reset is inside the minimum interval.
	if _, err := r.ResetToken("t1", false); !errors.Is(err, ErrRotationTooSoon) {
		t.Fatalf("reset inside interval = %v, want ErrRotationTooSoon", err)
	}
	if tn.Token.Valid != original {
		t.Error("rejected reset must not touch the token")
	}

	// Immediate invalidation bypasses the interval.
	tk, err := r.ResetToken("t1", true)
	if err != nil {
		t.Fatalf("ResetToken(now): %v", err)
	}
	if tk.Previous != "" {
		t.Error("invalidate-now must drop the grace period")
	}
	if tk.Validate(original) {
		t.Error("original secret must be dead after invalidate-now")
	}

	// After the interval elapses, ordinary reset works and keeps grace.
	beforeReset := tn.Token.Valid
	now = now.Add(DefaultMinRotationInterval + time.Minute)
	tk, err = r.ResetToken("t1", false)
	if err != nil {
		t.Fatalf("ResetToken after interval: %v", err)
	}
	if tk.Previous != beforeReset {
		t.Error("ordinary reset must keep the old secret as previous")
	}

	if _, err := r.ResetToken("missing", false); !errors.Is(err, ErrTenantNotFound) {
		t.Errorf("unknown tenant error = %v", err)
	}
}
