package correlation

import (
	"context"
	"encoding/json"
	"fmt"

	"meniscus/internal/event"
	"meniscus/internal/fault"
	"meniscus/internal/task"
)

// Task names under which the pipeline's entry points are registered.
const (
	TaskSyslog = "correlate.syslog"
	TaskHTTP   = "correlate.http"
)

// sdataSection is the structured-data section carrying credentials.
const sdataSection = "meniscus"

// RegisterTasks registers both entry points with the runner so ingest
// transports can enqueue work by name with serialized payloads.
func (p *Pipeline) RegisterTasks(r *task.Runner) error {
	if err := r.Register(TaskSyslog, func(ctx context.Context, payload []byte) error {
		var raw map[string]any
		if err := json.Unmarshal(payload, &raw); err != nil {
			return fault.Wrap(fault.Validation, "", err, "decoding syslog payload")
		}
		return p.CorrelateSyslog(ctx, raw)
	}); err != nil {
		return err
	}
	return r.Register(TaskHTTP, func(ctx context.Context, payload []byte) error {
		var t httpTask
		if err := json.Unmarshal(payload, &t); err != nil {
			return fault.Wrap(fault.Validation, "", err, "decoding http payload")
		}
		return p.CorrelateHTTP(ctx, t.TenantID, t.Token, &t.Event)
	})
}

type httpTask struct {
	TenantID string      `json:"tenant_id"`
	Token    string      `json:"token"`
	Event    event.Event `json:"event"`
}

// HTTPPayload serializes an HTTP-origin submission for the task runner.
func HTTPPayload(tenantID, token string, ev *event.Event) ([]byte, error) {
	return json.Marshal(httpTask{TenantID: tenantID, Token: token, Event: *ev})
}

// credentialsFromSyslog pulls tenant id and token out of the message's
// structured data. Either one missing makes the message unattributable.
func credentialsFromSyslog(raw map[string]any) (tenantID, token string, err error) {
	sd, ok := raw["_SDATA"].(map[string]any)
	if !ok {
		return "", "", fault.New(fault.Validation, "", "message carries no structured data")
	}
	men, ok := sd[sdataSection].(map[string]any)
	if !ok {
		return "", "", fault.New(fault.Validation, "", "message carries no credentials section")
	}
	tenantID, _ = men["tenant"].(string)
	token, _ = men["token"].(string)
	if tenantID == "" || token == "" {
		return "", "", fault.New(fault.Validation, tenantID, "incomplete credentials in structured data")
	}
	return tenantID, token, nil
}

// formatSyslog maps a parsed syslog dict onto the canonical event
// shape. Absent fields default to the syslog nil value so downstream
// consumers always see every column.
func formatSyslog(raw map[string]any) *event.Event {
	ev := &event.Event{
		Time:  str(raw, "ISODATE", "-"),
		Host:  str(raw, "HOST", "-"),
		Pname: str(raw, "PROGRAM", "-"),
		Pri:   str(raw, "PRIORITY", "-"),
		Ver:   str(raw, "VERSION", "1"),
		Pid:   str(raw, "PID", "-"),
		MsgID: str(raw, "MSGID", "-"),
		Msg:   str(raw, "MESSAGE", "-"),
	}
	if sd, ok := raw["_SDATA"].(map[string]any); ok {
		ev.Native = sd
	}
	return ev
}

func str(raw map[string]any, key, def string) string {
	switch v := raw[key].(type) {
	case string:
		if v != "" {
			return v
		}
	case nil:
	default:
		return fmt.Sprint(v)
	}
	return def
}
