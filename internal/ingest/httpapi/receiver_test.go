package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"meniscus/internal/coordinator"
	"meniscus/internal/correlation"
	"meniscus/internal/task"
)

type submission struct {
	TenantID string          `json:"tenant_id"`
	Token    string          `json:"token"`
	Event    json.RawMessage `json:"event"`
}

// newTestReceiver wires a receiver whose correlation tasks are captured
// instead of executed.
func newTestReceiver(t *testing.T, cfg Config) (*Receiver, *task.Runner, func() []submission) {
	t.Helper()
	runner := task.NewRunner(task.Config{InitialInterval: time.Millisecond})

	var mu sync.Mutex
	var got []submission
	err := runner.Register(correlation.TaskHTTP, func(_ context.Context, payload []byte) error {
		var s submission
		if err := json.Unmarshal(payload, &s); err != nil {
			return err
		}
		mu.Lock()
		got = append(got, s)
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	cfg.Runner = runner
	all := func() []submission {
		mu.Lock()
		defer mu.Unlock()
		return append([]submission(nil), got...)
	}
	return New(cfg), runner, all
}

func postEvent(t *testing.T, h http.Handler, tenantID, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/tenant/"+tenantID, strings.NewReader(body))
	if token != "" {
		req.Header.Set(coordinator.TokenHeader, token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestSubmitAccepted(t *testing.T) {
	r, runner, all := newTestReceiver(t, Config{})
	h := r.Handler()

	w := postEvent(t, h, "acme01", "s3cret", `{"host":"web01","msg":"hello"}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", w.Code)
	}
	runner.Wait()

	subs := all()
	if len(subs) != 1 {
		t.Fatalf("scheduled %d tasks, want 1", len(subs))
	}
	if subs[0].TenantID != "acme01" || subs[0].Token != "s3cret" {
		t.Errorf("credentials = %+v", subs[0])
	}
}

func TestSubmitRejectsMissingToken(t *testing.T) {
	r, runner, all := newTestReceiver(t, Config{})
	w := postEvent(t, r.Handler(), "acme01", "", `{"msg":"x"}`)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	runner.Wait()
	if len(all()) != 0 {
		t.Error("unauthenticated request scheduled a task")
	}
}

func TestSubmitRejectsMalformedBody(t *testing.T) {
	r, runner, all := newTestReceiver(t, Config{})
	w := postEvent(t, r.Handler(), "acme01", "s3cret", `{not json`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	runner.Wait()
	if len(all()) != 0 {
		t.Error("malformed request scheduled a task")
	}
}

func TestRateLimitExceeded(t *testing.T) {
	// A limiter with burst 2 and a negligible refill rate admits exactly
	// two requests.
	r, runner, all := newTestReceiver(t, Config{RateLimit: 0.0001, Burst: 2})
	h := r.Handler()

	codes := make(map[int]int)
	for range 5 {
		w := postEvent(t, h, "acme01", "s3cret", `{"msg":"x"}`)
		codes[w.Code]++
	}
	runner.Wait()

	if codes[http.StatusAccepted] != 2 {
		t.Errorf("accepted = %d, want 2 (codes %v)", codes[http.StatusAccepted], codes)
	}
	if codes[http.StatusTooManyRequests] != 3 {
		t.Errorf("throttled = %d, want 3 (codes %v)", codes[http.StatusTooManyRequests], codes)
	}
	if len(all()) != 2 {
		t.Errorf("scheduled %d tasks, want 2", len(all()))
	}
}

func TestHealthz(t *testing.T) {
	r, _, _ := newTestReceiver(t, Config{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	r.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}
