// Package audit emits structured security events.
//
// Every record carries a timestamp, an event name and a flat field map.
// Token fields are always redacted, email addresses are redacted unless PII
// logging is enabled, and session ids must be passed through HashSID before
// they reach a record.
package audit

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"maps"
	"regexp"
	"slices"
	"time"

	"github.com/diyartec/calassist/internal/logging"
)

// Redaction markers.
const (
	Redacted      = "[REDACTED]"
	RedactedEmail = "[REDACTED_EMAIL]"
)

var (
	tokenFields  = map[string]bool{"access_token": true, "refresh_token": true, "id_token": true}
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
)

// Fields is the free-form payload of an event.
type Fields map[string]any

// Record is a single audit event after redaction.
type Record struct {
	Time   time.Time
	Event  string
	Fields Fields
}

// MarshalJSON flattens the record into {"ts":..., "event":..., fields...}.
func (r Record) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Fields)+2)
	maps.Copy(out, r.Fields)
	out["ts"] = r.Time.UTC().Format(time.RFC3339Nano)
	out["event"] = r.Event
	return json.Marshal(out)
}

// Config controls emission.
type Config struct {
	Enabled    bool
	AllowPII   bool
	ForwardURL string
}

// Emitter writes audit records to its own JSON stream and optionally
// forwards them to a webhook.
type Emitter struct {
	enabled   bool
	allowPII  bool
	logger    *slog.Logger
	forwarder *Forwarder
	now       func() time.Time
}

// New creates an emitter writing JSON lines to out. Forwarding starts when
// cfg.ForwardURL is set; diag receives forwarding diagnostics.
func New(cfg Config, out io.Writer, diag *slog.Logger) *Emitter {
	if diag == nil {
		diag = slog.Default()
	}
	e := &Emitter{
		enabled:  cfg.Enabled,
		allowPII: cfg.AllowPII,
		logger:   slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: slog.LevelDebug})),
		now:      time.Now,
	}
	if cfg.Enabled && cfg.ForwardURL != "" {
		e.forwarder = NewForwarder(cfg.ForwardURL, diag)
	}
	return e
}

// Discard returns an emitter that drops everything. Useful in tests.
func Discard() *Emitter {
	return &Emitter{logger: slog.New(slog.DiscardHandler), now: time.Now}
}

// Enabled reports whether records are being emitted.
func (e *Emitter) Enabled() bool { return e.enabled }

// Emit redacts fields and writes the record. It never blocks on forwarding.
func (e *Emitter) Emit(ctx context.Context, event string, fields Fields) {
	if e == nil || !e.enabled {
		return
	}
	rec := Record{Time: e.now(), Event: event, Fields: e.Redact(fields)}

	level := slog.LevelInfo
	if securityEvents[event] {
		level = slog.LevelWarn
	}

	attrs := make([]slog.Attr, 0, len(rec.Fields)+1)
	attrs = append(attrs, slog.String("event", event))
	for _, k := range slices.Sorted(maps.Keys(rec.Fields)) {
		attrs = append(attrs, slog.Any(k, rec.Fields[k]))
	}
	e.logger.LogAttrs(ctx, level, "audit", attrs...)

	if e.forwarder != nil {
		e.forwarder.Enqueue(rec)
	}
}

// Redact returns a copy of fields with secrets and, unless allowed, email
// addresses replaced.
func (e *Emitter) Redact(fields Fields) Fields {
	out := make(Fields, len(fields))
	for k, v := range fields {
		switch {
		case tokenFields[k]:
			out[k] = Redacted
		case k == "email" && !e.allowPII:
			out[k] = RedactedEmail
		default:
			if s, ok := v.(string); ok && !e.allowPII {
				v = emailPattern.ReplaceAllString(s, RedactedEmail)
			}
			out[k] = v
		}
	}
	return out
}

// Close drains pending forwards.
func (e *Emitter) Close() {
	if e != nil && e.forwarder != nil {
		e.forwarder.Close()
	}
}

// HashSID is the only form in which a session id may appear in a record.
func HashSID(sid string) string {
	return logging.HashSID(sid)
}
