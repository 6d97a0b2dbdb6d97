package tenant

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Token is a rotating shared-secret credential bound 1:1 to a Tenant.
//
// A presented credential authenticates if it equals the current secret or
// the previous one; the previous secret is a grace window so clients with
// an in-flight rotation keep working. Token is a pure state machine: the
// minimum-rotation-interval policy belongs to the caller (see registry),
// not here, so the immediate-invalidation path stays available.
type Token struct {
	Valid       string
	Previous    string // empty means no previous secret
	LastChanged time.Time
}

// NewToken creates a token with a fresh secret and no previous secret.
func NewToken() *Token {
	return &Token{
		Valid:       uuid.NewString(),
		LastChanged: time.Now().UTC(),
	}
}

// Validate reports whether the presented credential authenticates.
// An empty credential never validates.
func (t *Token) Validate(presented string) bool {
	if presented == "" {
		return false
	}
	return presented == t.Valid || (t.Previous != "" && presented == t.Previous)
}

// Reset rotates the secret, keeping the old one as the grace-period
// previous secret.
func (t *Token) Reset() {
	t.Previous = t.Valid
	t.Valid = uuid.NewString()
	t.LastChanged = time.Now().UTC()
}

// ResetNow rotates the secret and drops the grace period, immediately
// invalidating all previously issued secrets. Used as a compromise
// response.
func (t *Token) ResetNow() {
	t.Previous = ""
	t.Valid = uuid.NewString()
	t.LastChanged = time.Now().UTC()
}

// Format returns the canonical serialization used for caching and the
// coordinator wire contract. LoadTokenFromMap is its exact inverse.
func (t *Token) Format() map[string]any {
	var previous any
	if t.Previous != "" {
		previous = t.Previous
	}
	return map[string]any{
		"valid":        t.Valid,
		"previous":     previous,
		"last_changed": t.LastChanged.Format(time.RFC3339Nano),
	}
}

// LoadTokenFromMap reconstructs a Token from its Format() shape.
func LoadTokenFromMap(m map[string]any) (*Token, error) {
	valid, ok := m["valid"].(string)
	if !ok {
		return nil, fmt.Errorf("token: missing valid secret")
	}
	tk := &Token{Valid: valid}
	if prev, ok := m["previous"].(string); ok {
		tk.Previous = prev
	}
	if lc, ok := m["last_changed"].(string); ok {
		ts, err := time.Parse(time.RFC3339Nano, lc)
		if err != nil {
			return nil, fmt.Errorf("token: bad last_changed %q: %w", lc, err)
		}
		tk.LastChanged = ts
	}
	return tk, nil
}
