package correlation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"meniscus/internal/cache"
	"meniscus/internal/cache/memory"
	"meniscus/internal/coordinator"
	"meniscus/internal/event"
	"meniscus/internal/fault"
	"meniscus/internal/normalize"
	"meniscus/internal/sink"
	"meniscus/internal/task"
	"meniscus/internal/tenant"
)

// captureSink records events enqueued through the router.
type captureSink struct {
	name string

	mu     sync.Mutex
	events []*event.Event
}

func (c *captureSink) Name() string { return c.name }

func (c *captureSink) Enqueue(_ context.Context, ev *event.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *captureSink) all() []*event.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*event.Event(nil), c.events...)
}

// authority is an httptest coordinator serving a single tenant and
// counting validate/fetch round trips.
type authority struct {
	tenant *tenant.Tenant
	server *httptest.Server

	validates atomic.Int64
	fetches   atomic.Int64
}

func newAuthority(t *testing.T, tn *tenant.Tenant) *authority {
	t.Helper()
	a := &authority{tenant: tn}
	mux := http.NewServeMux()
	mux.HandleFunc("HEAD /tenant/{tenant_id}/token", func(w http.ResponseWriter, r *http.Request) {
		a.validates.Add(1)
		if r.PathValue("tenant_id") != tn.TenantID || !tn.Token.Validate(r.Header.Get(coordinator.TokenHeader)) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /tenant/{tenant_id}", func(w http.ResponseWriter, r *http.Request) {
		a.fetches.Add(1)
		if r.PathValue("tenant_id") != tn.TenantID || !tn.Token.Validate(r.Header.Get(coordinator.TokenHeader)) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"tenant": tn.Format()})
	})
	a.server = httptest.NewServer(mux)
	t.Cleanup(a.server.Close)
	return a
}

// harness wires a full pipeline over memory caches, an httptest
// authority, and a capture sink.
type harness struct {
	pipeline *Pipeline
	runner   *task.Runner
	tenants  *cache.TenantCache
	tokens   *cache.TokenCache
	sink     *captureSink
	auth     *authority
}

func newHarness(t *testing.T, tn *tenant.Tenant, rules string) *harness {
	t.Helper()
	h := &harness{
		tenants: cache.NewTenantCache(memory.New(), time.Hour, nil),
		tokens:  cache.NewTokenCache(memory.New(), time.Hour, nil),
		sink:    &captureSink{name: tenant.DefaultSink},
		auth:    newAuthority(t, tn),
	}
	h.runner = task.NewRunner(task.Config{InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond})
	router := sink.NewRouter(sink.RouterConfig{Runner: h.runner})
	if err := router.Register(h.sink); err != nil {
		t.Fatal(err)
	}
	var norm *normalize.Normalizer
	if rules != "" {
		path := filepath.Join(t.TempDir(), "rules.yaml")
		if err := os.WriteFile(path, []byte(rules), 0o644); err != nil {
			t.Fatal(err)
		}
		var err error
		norm, err = normalize.New(normalize.Config{RulesPath: path})
		if err != nil {
			t.Fatal(err)
		}
	}
	h.pipeline = New(Config{
		Tenants:     h.tenants,
		Tokens:      h.tokens,
		Coordinator: coordinator.New(coordinator.Config{URI: h.auth.server.URL}),
		Normalizer:  norm,
		Router:      router,
		Hostname:    "worker-test",
	})
	return h
}

// drainSinks waits for all fire-and-forget route tasks to land.
func (h *harness) drainSinks() {
	h.runner.Wait()
}

func wwwTenant(t *testing.T) *tenant.Tenant {
	t.Helper()
	tn := tenant.NewTenant("acme01", "Acme Corp")
	if _, err := tn.AddEventProducer("apache", "apache2.cee", true, false, []string{tenant.DefaultSink}); err != nil {
		t.Fatal(err)
	}
	return tn
}

func syslogMessage(tn *tenant.Tenant, program, msg string) map[string]any {
	return map[string]any{
		"PRIORITY": "info",
		"VERSION":  "1",
		"ISODATE":  "2026-09-01T10:15:00+00:00",
		"HOST":     "web01",
		"PROGRAM":  program,
		"MESSAGE":  msg,
		"_SDATA": map[string]any{
			"meniscus": map[string]any{
				"tenant": tn.TenantID,
				"token":  tn.Token.Valid,
			},
		},
	}
}

func TestCorrelateSyslogCacheCold(t *testing.T) {
	tn := wwwTenant(t)
	h := newHarness(t, tn, "")

	err := h.pipeline.CorrelateSyslog(context.Background(), syslogMessage(tn, "apache", "GET / 200"))
	if err != nil {
		t.Fatalf("CorrelateSyslog: %v", err)
	}
	h.drainSinks()

	if got := h.auth.validates.Load(); got != 1 {
		t.Errorf("remote validates = %d, want 1", got)
	}
	if got := h.auth.fetches.Load(); got != 1 {
		t.Errorf("remote fetches = %d, want 1", got)
	}

	// Both cache regions populated by the fetch.
	ctx := context.Background()
	if h.tokens.Get(ctx, tn.TenantID) == nil {
		t.Error("token cache not populated")
	}
	if h.tenants.Get(ctx, tn.TenantID) == nil {
		t.Error("tenant cache not populated")
	}

	events := h.sink.all()
	if len(events) != 1 {
		t.Fatalf("sink received %d events, want 1", len(events))
	}
	ev := events[0]
	if ev.Meniscus.Tenant != tn.TenantID {
		t.Errorf("tenant = %q, want %q", ev.Meniscus.Tenant, tn.TenantID)
	}
	corr := ev.Meniscus.Correlation
	if corr.TenantName != "Acme Corp" {
		t.Errorf("tenant name = %q", corr.TenantName)
	}
	if corr.Pattern != "apache2.cee" {
		t.Errorf("pattern = %q, want apache2.cee (matched producer)", corr.Pattern)
	}
	if corr.EpID == nil || *corr.EpID != 1 {
		t.Errorf("ep_id = %v, want 1", corr.EpID)
	}
	if corr.Timestamp == "" {
		t.Error("correlation timestamp missing")
	}
	if _, ok := corr.Destinations[tenant.DefaultSink]; !ok {
		t.Errorf("destinations lack %q: %v", tenant.DefaultSink, corr.Destinations)
	}
	if _, leaked := ev.Native["meniscus"]; leaked {
		t.Error("credentials section survived into the correlated event")
	}
}

func TestCorrelateHTTPCacheWarmSkipsRemote(t *testing.T) {
	tn := wwwTenant(t)
	h := newHarness(t, tn, "")
	ctx := context.Background()

	h.tokens.Set(ctx, tn.TenantID, tn.Token)
	h.tenants.Set(ctx, tn)

	ev := &event.Event{Host: "app03", Pname: "apache", Msg: "hello"}
	if err := h.pipeline.CorrelateHTTP(ctx, tn.TenantID, tn.Token.Valid, ev); err != nil {
		t.Fatalf("CorrelateHTTP: %v", err)
	}
	h.drainSinks()

	if got := h.auth.validates.Load() + h.auth.fetches.Load(); got != 0 {
		t.Errorf("cache-warm correlation made %d remote calls, want 0", got)
	}
	if len(h.sink.all()) != 1 {
		t.Fatalf("sink received %d events, want 1", len(h.sink.all()))
	}
}

func TestCacheWarmBadTokenFailsWithoutRemote(t *testing.T) {
	tn := wwwTenant(t)
	h := newHarness(t, tn, "")
	ctx := context.Background()

	h.tokens.Set(ctx, tn.TenantID, tn.Token)
	h.tenants.Set(ctx, tn)

	err := h.pipeline.CorrelateHTTP(ctx, tn.TenantID, "wrong-token", &event.Event{Msg: "x"})
	if err == nil {
		t.Fatal("expected authentication fault")
	}
	if fault.KindOf(err) != fault.Authentication {
		t.Errorf("kind = %v, want authentication", fault.KindOf(err))
	}
	if fault.Retryable(err) {
		t.Error("authentication fault must not be retryable")
	}
	if got := h.auth.validates.Load() + h.auth.fetches.Load(); got != 0 {
		t.Errorf("cached rejection made %d remote calls, want 0", got)
	}
	if len(h.sink.all()) != 0 {
		t.Error("rejected event reached a sink")
	}
}

func TestPreviousTokenStillAccepted(t *testing.T) {
	tn := wwwTenant(t)
	old := tn.Token.Valid
	tn.Token.Reset()

	h := newHarness(t, tn, "")
	ctx := context.Background()
	h.tokens.Set(ctx, tn.TenantID, tn.Token)
	h.tenants.Set(ctx, tn)

	if err := h.pipeline.CorrelateHTTP(ctx, tn.TenantID, old, &event.Event{Msg: "x"}); err != nil {
		t.Fatalf("previous token rejected: %v", err)
	}
}

func TestRemoteValidateRejects(t *testing.T) {
	tn := wwwTenant(t)
	h := newHarness(t, tn, "")

	msg := syslogMessage(tn, "apache", "x")
	msg["_SDATA"].(map[string]any)["meniscus"].(map[string]any)["token"] = "bogus"

	err := h.pipeline.CorrelateSyslog(context.Background(), msg)
	if fault.KindOf(err) != fault.Authentication {
		t.Fatalf("kind = %v, want authentication", fault.KindOf(err))
	}
	if h.auth.fetches.Load() != 0 {
		t.Error("tenant fetched despite rejected token")
	}
	if h.tokens.Get(context.Background(), tn.TenantID) != nil {
		t.Error("rejected validation populated the token cache")
	}
}

func TestTenantGoneIsTerminal(t *testing.T) {
	tn := wwwTenant(t)
	h := newHarness(t, tn, "")

	msg := syslogMessage(tn, "apache", "x")
	msg["_SDATA"].(map[string]any)["meniscus"].(map[string]any)["tenant"] = "ghost"

	err := h.pipeline.CorrelateSyslog(context.Background(), msg)
	if err == nil {
		t.Fatal("expected fault for unknown tenant")
	}
	// The authority reports the unknown combination with a validate 404,
	// which the pipeline classifies as an authentication verdict. Either
	// way the outcome must be terminal.
	if fault.Retryable(err) {
		t.Errorf("unknown tenant produced a retryable fault: %v", err)
	}
}

func TestCoordinatorDownIsRetryable(t *testing.T) {
	tn := wwwTenant(t)
	h := newHarness(t, tn, "")
	h.auth.server.Close()

	err := h.pipeline.CorrelateSyslog(context.Background(), syslogMessage(tn, "apache", "x"))
	if err == nil {
		t.Fatal("expected communication fault")
	}
	if !fault.Retryable(err) {
		t.Errorf("transport failure must be retryable, got kind %v", fault.KindOf(err))
	}
}

func TestMissingCredentialsIsValidation(t *testing.T) {
	h := newHarness(t, wwwTenant(t), "")

	cases := []struct {
		name string
		raw  map[string]any
	}{
		{"no sdata", map[string]any{"MESSAGE": "x"}},
		{"no meniscus section", map[string]any{"_SDATA": map[string]any{"timeQuality": map[string]any{}}}},
		{"empty token", map[string]any{"_SDATA": map[string]any{"meniscus": map[string]any{"tenant": "t", "token": ""}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := h.pipeline.CorrelateSyslog(context.Background(), tc.raw)
			if fault.KindOf(err) != fault.Validation {
				t.Errorf("kind = %v, want validation", fault.KindOf(err))
			}
			if fault.Retryable(err) {
				t.Error("validation fault must not be retryable")
			}
		})
	}
	if got := h.auth.validates.Load() + h.auth.fetches.Load(); got != 0 {
		t.Errorf("malformed messages made %d remote calls, want 0", got)
	}
}

func TestUnknownProgramSynthesizesDefaultProducer(t *testing.T) {
	tn := wwwTenant(t)
	h := newHarness(t, tn, "")

	err := h.pipeline.CorrelateSyslog(context.Background(), syslogMessage(tn, "mystery-daemon", "boom"))
	if err != nil {
		t.Fatal(err)
	}
	h.drainSinks()

	events := h.sink.all()
	if len(events) != 1 {
		t.Fatalf("sink received %d events, want 1", len(events))
	}
	corr := events[0].Meniscus.Correlation
	if corr.EpID != nil {
		t.Errorf("synthesized producer must carry no ep_id, got %v", *corr.EpID)
	}
	if corr.Pattern != tenant.DefaultPattern {
		t.Errorf("pattern = %q, want %q", corr.Pattern, tenant.DefaultPattern)
	}
	if len(corr.Sinks) != 1 || corr.Sinks[0] != tenant.DefaultSink {
		t.Errorf("sinks = %v, want [%s]", corr.Sinks, tenant.DefaultSink)
	}
}

func TestNormalizationAttachedForKnownPattern(t *testing.T) {
	rules := `
patterns:
  apache2.cee:
    - name: access
      match: '^(?P<method>\S+) (?P<path>\S+) (?P<status>\d+)$'
`
	tn := wwwTenant(t)
	h := newHarness(t, tn, rules)

	if err := h.pipeline.CorrelateSyslog(context.Background(), syslogMessage(tn, "apache", "GET /index.html 200")); err != nil {
		t.Fatal(err)
	}
	h.drainSinks()

	events := h.sink.all()
	if len(events) != 1 {
		t.Fatalf("sink received %d events, want 1", len(events))
	}
	fields, ok := events[0].Normalized["apache2.cee"]
	if !ok {
		t.Fatal("normalized section missing")
	}
	if fields["method"] != "GET" || fields["status"] != "200" {
		t.Errorf("normalized fields = %v", fields)
	}
}

func TestEmptyMessageSkipsNormalization(t *testing.T) {
	rules := `
patterns:
  apache2.cee:
    - name: access
      match: '(?P<all>.*)'
`
	tn := wwwTenant(t)
	h := newHarness(t, tn, rules)
	ctx := context.Background()
	h.tokens.Set(ctx, tn.TenantID, tn.Token)
	h.tenants.Set(ctx, tn)

	ev := &event.Event{Host: "web01", Pname: "apache", Msg: ""}
	if err := h.pipeline.CorrelateHTTP(ctx, tn.TenantID, tn.Token.Valid, ev); err != nil {
		t.Fatal(err)
	}
	h.drainSinks()

	events := h.sink.all()
	if len(events) != 1 {
		t.Fatalf("sink received %d events, want 1", len(events))
	}
	if events[0].Normalized != nil {
		t.Errorf("empty message was normalized: %v", events[0].Normalized)
	}
}

func TestMissingNativeSerializesAsEmptyObject(t *testing.T) {
	tn := wwwTenant(t)
	h := newHarness(t, tn, "")
	ctx := context.Background()
	h.tokens.Set(ctx, tn.TenantID, tn.Token)
	h.tenants.Set(ctx, tn)

	ev := &event.Event{Host: "app03", Pname: "apache", Msg: "hello"}
	if err := h.pipeline.CorrelateHTTP(ctx, tn.TenantID, tn.Token.Valid, ev); err != nil {
		t.Fatal(err)
	}
	h.drainSinks()

	events := h.sink.all()
	if len(events) != 1 {
		t.Fatalf("sink received %d events, want 1", len(events))
	}
	if events[0].Native == nil {
		t.Fatal("native fields not defaulted")
	}
	raw, err := json.Marshal(events[0])
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), `"native":{}`) {
		t.Errorf("serialized event = %s, want empty native object", raw)
	}
}

func TestSyslogFieldDefaults(t *testing.T) {
	tn := wwwTenant(t)
	raw := map[string]any{
		"_SDATA": map[string]any{
			"meniscus": map[string]any{"tenant": tn.TenantID, "token": tn.Token.Valid},
		},
	}
	ev := formatSyslog(raw)
	for field, got := range map[string]string{
		"time": ev.Time, "host": ev.Host, "pname": ev.Pname,
		"pri": ev.Pri, "pid": ev.Pid, "msgid": ev.MsgID, "msg": ev.Msg,
	} {
		if got != "-" {
			t.Errorf("%s = %q, want -", field, got)
		}
	}
	if ev.Ver != "1" {
		t.Errorf("ver = %q, want 1", ev.Ver)
	}
}

func TestTaskPayloadRoundTrip(t *testing.T) {
	tn := wwwTenant(t)
	h := newHarness(t, tn, "")
	if err := h.pipeline.RegisterTasks(h.runner); err != nil {
		t.Fatal(err)
	}

	raw := syslogMessage(tn, "apache", "via task")
	payload, err := json.Marshal(raw)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.runner.Run(context.Background(), TaskSyslog, payload); err != nil {
		t.Fatalf("syslog task: %v", err)
	}

	httpPayload, err := HTTPPayload(tn.TenantID, tn.Token.Valid, &event.Event{Msg: "http via task"})
	if err != nil {
		t.Fatal(err)
	}
	if err := h.runner.Run(context.Background(), TaskHTTP, httpPayload); err != nil {
		t.Fatalf("http task: %v", err)
	}
	h.drainSinks()

	if got := len(h.sink.all()); got != 2 {
		t.Fatalf("sink received %d events, want 2", got)
	}
}
