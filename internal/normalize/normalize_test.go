package normalize

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"meniscus/internal/event"
)

const testRules = `
patterns:
  apache2.cee:
    - name: access
      match: '^(?P<remote>\S+) \S+ \S+ \[[^\]]*\] "(?P<method>\S+) (?P<path>\S+)'
    - name: error
      match: '^\[error\] (?P<reason>.+)$'
  nginx.cee:
    - name: access
      match: '^(?P<remote>\S+) - (?P<user>\S+)'
`

func writeRules(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestNormalizer(t *testing.T, content string) *Normalizer {
	t.Helper()
	n, err := New(Config{RulesPath: writeRules(t, content)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return n
}

func TestHasRules(t *testing.T) {
	n := newTestNormalizer(t, testRules)
	if !n.HasRules("apache2.cee") {
		t.Error("apache2.cee rules should be loaded")
	}
	if n.HasRules("unknown.pattern") {
		t.Error("unknown pattern should report no rules")
	}
}

func TestNormalize(t *testing.T) {
	n := newTestNormalizer(t, testRules)

	tests := []struct {
		name    string
		pattern string
		msg     string
		want    map[string]string
	}{
		{
			name:    "first rule matches",
			pattern: "apache2.cee",
			msg:     `10.0.0.1 - - [12/Mar/2013:10:00:00 +0000] "GET /index.html HTTP/1.1" 200 512`,
			want:    map[string]string{"remote": "10.0.0.1", "method": "GET", "path": "/index.html"},
		},
		{
			name:    "later rule matches when first misses",
			pattern: "apache2.cee",
			msg:     "[error] client denied by server configuration",
			want:    map[string]string{"reason": "client denied by server configuration"},
		},
		{
			name:    "unparseable content yields empty document",
			pattern: "apache2.cee",
			msg:     "completely freeform text",
			want:    map[string]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := &event.Event{Msg: tt.msg}
			n.Normalize(ev, tt.pattern)

			got, ok := ev.Normalized[tt.pattern]
			if !ok {
				t.Fatal("normalized sub-document missing")
			}
			if len(got) != len(tt.want) {
				t.Fatalf("fields = %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("field %s = %q, want %q", k, got[k], v)
				}
			}
		})
	}
}

func TestNormalizeNeverFails(t *testing.T) {
	// No rules loaded at all: still attaches an empty document rather
	// than failing or leaving Normalized nil.
	n, err := New(Config{})
	if err != nil {
		t.Fatal(err)
	}
	ev := &event.Event{Msg: "anything"}
	n.Normalize(ev, "ghost.pattern")
	if ev.Normalized["ghost.pattern"] == nil {
		t.Error("expected empty normalized document")
	}
}

func TestNewRejectsBadRules(t *testing.T) {
	t.Run("bad yaml", func(t *testing.T) {
		if _, err := New(Config{RulesPath: writeRules(t, "patterns: [unclosed")}); err == nil {
			t.Error("expected parse error")
		}
	})
	t.Run("bad regexp", func(t *testing.T) {
		bad := "patterns:\n  p:\n    - name: broken\n      match: '(unclosed'\n"
		if _, err := New(Config{RulesPath: writeRules(t, bad)}); err == nil {
			t.Error("expected compile error")
		}
	})
	t.Run("missing file", func(t *testing.T) {
		if _, err := New(Config{RulesPath: "/nonexistent/rules.yaml"}); err == nil {
			t.Error("expected read error")
		}
	})
}

func TestWatchReload(t *testing.T) {
	path := writeRules(t, testRules)
	n, err := New(Config{RulesPath: path})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		n.Watch(ctx)
	}()

	updated := testRules + `
  postfix.cee:
    - name: queued
      match: '(?P<queue_id>[A-F0-9]+): message queued'
`
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(5 * time.Second)
	for !n.HasRules("postfix.cee") {
		select {
		case <-deadline:
			t.Fatal("watcher did not pick up rules change")
		case <-time.After(10 * time.Millisecond):
			// Re-issue the write: the initial one can race the
			// watcher's inotify registration and be missed.
			if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
				t.Fatal(err)
			}
		}
	}

	cancel()
	<-done
}
