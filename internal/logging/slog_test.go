package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := WithComponent(New(&buf, slog.LevelInfo, FormatJSON), "ratelimit")
	logger.Info("hello")
	if !strings.Contains(buf.String(), `"component":"ratelimit"`) {
		t.Errorf("output %q missing component", buf.String())
	}
}

func TestOperationAttr(t *testing.T) {
	attr := Operation("test_op")
	if attr.Key != KeyOperation {
		t.Errorf("Operation key = %q, want %q", attr.Key, KeyOperation)
	}
	if attr.Value.String() != "test_op" {
		t.Errorf("Operation value = %q, want %q", attr.Value.String(), "test_op")
	}
}

func TestErr(t *testing.T) {
	attr := Err(errors.New("boom"))
	if attr.Key != KeyError || attr.Value.String() != "boom" {
		t.Errorf("Err() = %v", attr)
	}

	var buf bytes.Buffer
	New(&buf, slog.LevelInfo, FormatJSON).Info("ok", Err(nil))
	if strings.Contains(buf.String(), KeyError) {
		t.Errorf("Err(nil) should be omitted, got %q", buf.String())
	}
}

func TestHashSID(t *testing.T) {
	h := HashSID("session-id-value")
	if len(h) != 16 {
		t.Errorf("HashSID length = %d, want 16", len(h))
	}
	if h != HashSID("session-id-value") {
		t.Error("HashSID is not deterministic")
	}
	if strings.Contains(h, "session") {
		t.Error("HashSID leaks input")
	}
	if HashSID("") != "" {
		t.Error("HashSID(\"\") should be empty")
	}
}

func TestAnonymizeEmail(t *testing.T) {
	tests := []struct {
		name  string
		email string
	}{
		{"regular email", "user@example.com"},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AnonymizeEmail(tt.email)
			if tt.email == "" {
				if got != "" {
					t.Errorf("AnonymizeEmail(\"\") = %q, want empty", got)
				}
				return
			}
			if !strings.HasPrefix(got, "user:") {
				t.Errorf("AnonymizeEmail() = %q, want user: prefix", got)
			}
			if strings.Contains(got, "example") {
				t.Errorf("AnonymizeEmail() leaks domain: %q", got)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLevel(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestNew_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, slog.LevelWarn, FormatText).Info("hidden")
	if buf.Len() != 0 {
		t.Errorf("info record written at warn level: %q", buf.String())
	}
	New(&buf, slog.LevelWarn, FormatText).Warn("shown")
	if !strings.Contains(buf.String(), "msg=shown") {
		t.Errorf("text output = %q", buf.String())
	}
}
