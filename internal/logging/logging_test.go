package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestMake_JSONWhenNotTerminal(t *testing.T) {
	var buf bytes.Buffer
	l := Make(&buf)
	l.Info(context.Background(), "resolved", slog.String("name", "B"))

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("auto format on a buffer should be JSON: %v\n%s", err, buf.String())
	}
	if rec["msg"] != "resolved" || rec["name"] != "B" || rec["level"] != "info" {
		t.Errorf("unexpected record: %v", rec)
	}
}

func TestMake_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := Make(&buf, WithFormat(FormatText), WithLevel(LevelDebug))
	ctx := context.Background()

	l.Trace(ctx, "hidden")
	l.Debug(ctx, "shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("trace record written at debug level:\n%s", out)
	}
	if !strings.Contains(out, "level=debug") || !strings.Contains(out, "shown") {
		t.Errorf("missing debug record:\n%s", out)
	}
}

func TestMake_TraceLevelName(t *testing.T) {
	var buf bytes.Buffer
	l := Make(&buf, WithFormat(FormatText), WithLevel(LevelTrace))
	l.Trace(context.Background(), "slot", slog.Int("index", 1))
	if !strings.Contains(buf.String(), "level=trace") {
		t.Errorf("trace level not rendered by name:\n%s", buf.String())
	}
}

func TestWith(t *testing.T) {
	var buf bytes.Buffer
	l := Make(&buf, WithFormat(FormatText)).With(slog.String("session", "s1"))
	l.Warn(context.Background(), "closing")
	if !strings.Contains(buf.String(), "session=s1") {
		t.Errorf("With attrs missing:\n%s", buf.String())
	}
}

func TestZeroLogger(t *testing.T) {
	var l Logger
	l.Error(context.Background(), "ignored")
	l = l.With(slog.Int("n", 1))
	if l.Logger != nil {
		t.Error("With on a zero Logger must stay zero")
	}
}

func TestParse(t *testing.T) {
	levels := map[string]Level{
		"trace": LevelTrace,
		"DEBUG": LevelDebug,
		"info":  LevelInfo,
		"warn":  LevelWarn,
		"error": LevelError,
		"bogus": LevelInfo,
	}
	for in, want := range levels {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}

	formats := map[string]Format{"text": FormatText, " JSON ": FormatJSON, "auto": FormatAuto, "xml": FormatAuto}
	for in, want := range formats {
		if got := ParseFormat(in); got != want {
			t.Errorf("ParseFormat(%q) = %v, want %v", in, got, want)
		}
	}
}
