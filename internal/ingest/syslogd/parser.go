package syslogd

import (
	"strconv"
	"time"

	syslog "github.com/influxdata/go-syslog/v3"
	"github.com/influxdata/go-syslog/v3/rfc5424"
)

// parser converts RFC 5424 datagrams into the structured dict the
// correlation pipeline consumes. Best-effort mode keeps partially valid
// messages; a message with no parse result at all is dropped by the
// caller.
type parser struct {
	machine syslog.Machine
}

func newParser() *parser {
	return &parser{machine: rfc5424.NewParser(rfc5424.WithBestEffort())}
}

// parse returns the structured dict for a datagram, or nil when nothing
// could be salvaged from it.
func (p *parser) parse(data []byte) map[string]any {
	msg, err := p.machine.Parse(data)
	if msg == nil && err != nil {
		return nil
	}
	sm, ok := msg.(*rfc5424.SyslogMessage)
	if !ok || sm == nil {
		return nil
	}

	raw := map[string]any{
		"PRIORITY": severityName(sm),
		"VERSION":  strconv.Itoa(int(sm.Version)),
	}
	if sm.Timestamp != nil {
		raw["ISODATE"] = sm.Timestamp.Format(time.RFC3339)
	}
	put(raw, "HOST", sm.Hostname)
	put(raw, "PROGRAM", sm.Appname)
	put(raw, "PID", sm.ProcID)
	put(raw, "MSGID", sm.MsgID)
	put(raw, "MESSAGE", sm.Message)

	if sm.StructuredData != nil {
		sdata := make(map[string]any, len(*sm.StructuredData))
		for section, params := range *sm.StructuredData {
			kv := make(map[string]any, len(params))
			for k, v := range params {
				kv[k] = v
			}
			sdata[section] = kv
		}
		raw["_SDATA"] = sdata
	}
	return raw
}

func put(raw map[string]any, key string, v *string) {
	if v != nil && *v != "" {
		raw[key] = *v
	}
}

func severityName(sm *rfc5424.SyslogMessage) string {
	if s := sm.SeverityLevel(); s != nil {
		return *s
	}
	return "-"
}
