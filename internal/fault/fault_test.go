package fault

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{
			name: "validation fault",
			err:  New(Validation, "t1", "missing token"),
			want: Validation,
		},
		{
			name: "authentication fault",
			err:  New(Authentication, "t1", "bad token"),
			want: Authentication,
		},
		{
			name: "not found fault",
			err:  New(NotFound, "t1", "no such tenant"),
			want: NotFound,
		},
		{
			name: "communication fault",
			err:  Wrap(Communication, "t1", errors.New("dial tcp: refused"), "coordinator unreachable"),
			want: Communication,
		},
		{
			name: "wrapped fault survives fmt.Errorf",
			err:  fmt.Errorf("task failed: %w", New(Authentication, "t1", "bad token")),
			want: Authentication,
		},
		{
			name: "unclassified error defaults to communication",
			err:  errors.New("something odd"),
			want: Communication,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRetryable(t *testing.T) {
	if !Retryable(New(Communication, "", "timeout")) {
		t.Error("communication faults must be retryable")
	}
	for _, k := range []Kind{Validation, Authentication, NotFound} {
		if Retryable(New(k, "", "x")) {
			t.Errorf("%v faults must be terminal", k)
		}
	}
	// Unknown errors are treated as retryable rather than dropped.
	if !Retryable(errors.New("unknown")) {
		t.Error("unclassified errors must be retryable")
	}
}

func TestErrorString(t *testing.T) {
	err := Wrap(NotFound, "acme", errors.New("404"), "tenant lookup failed")
	got := err.Error()
	for _, want := range []string{"not_found", "acme", "tenant lookup failed", "404"} {
		if !strings.Contains(got, want) {
			t.Errorf("error string %q missing %q", got, want)
		}
	}
}
