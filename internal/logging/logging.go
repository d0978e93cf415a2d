// Package logging provides the structured logger shared by sessions, the
// gRPC server and the CLI. It wraps log/slog with functional options and
// attribute-only calls.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
)

// Level represents the severity of a log message.
type Level slog.Level

const (
	LevelTrace = Level(-8)
	LevelDebug = Level(slog.LevelDebug)
	LevelInfo  = Level(slog.LevelInfo)
	LevelWarn  = Level(slog.LevelWarn)
	LevelError = Level(slog.LevelError)
)

func (l Level) String() string {
	if l == LevelTrace {
		return "trace"
	}
	return strings.ToLower(slog.Level(l).String())
}

// ParseLevel parses a level name. Unknown names yield LevelInfo.
func ParseLevel(s string) Level {
	if strings.EqualFold(s, "trace") {
		return LevelTrace
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return LevelInfo
	}
	return Level(l)
}

// Format is the output encoding.
type Format int

const (
	FormatAuto Format = iota
	FormatText
	FormatJSON
)

// ParseFormat parses "text", "json" or "auto". Unknown names yield FormatAuto.
func ParseFormat(s string) Format {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "text":
		return FormatText
	case "json":
		return FormatJSON
	}
	return FormatAuto
}

type options struct {
	level  Level
	format Format
	caller bool
}

// Option configures a Logger.
type Option func(*options)

// WithLevel sets the minimum level.
func WithLevel(l Level) Option { return func(o *options) { o.level = l } }

// WithFormat sets the output format.
func WithFormat(f Format) Option { return func(o *options) { o.format = f } }

// WithCaller includes source locations.
func WithCaller(on bool) Option { return func(o *options) { o.caller = on } }

// Logger is a slog.Logger with attribute-only helpers and a trace level.
// The zero value discards everything.
type Logger struct {
	*slog.Logger
}

// Make creates a Logger writing to w.
func Make(w io.Writer, opts ...Option) Logger {
	o := options{level: LevelInfo}
	for _, opt := range opts {
		opt(&o)
	}

	format := o.format
	if format == FormatAuto {
		format = FormatJSON
		if isTerminal(w) {
			format = FormatText
		}
	}

	hopts := &slog.HandlerOptions{
		AddSource: o.caller,
		Level:     slog.Level(o.level),
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if lv, ok := a.Value.Any().(slog.Level); ok {
					a.Value = slog.StringValue(Level(lv).String())
				}
			}
			return a
		},
	}

	var h slog.Handler
	if format == FormatText {
		h = slog.NewTextHandler(w, hopts)
	} else {
		h = slog.NewJSONHandler(w, hopts)
	}
	return Logger{Logger: slog.New(h)}
}

// Discard returns a Logger that writes nothing.
func Discard() Logger {
	return Make(io.Discard, WithLevel(LevelError+1))
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// With returns a Logger that adds attrs to every record.
func (l Logger) With(attrs ...slog.Attr) Logger {
	if l.Logger == nil {
		return l
	}
	return Logger{Logger: slog.New(l.Handler().WithAttrs(attrs))}
}

// Trace logs at trace level.
func (l Logger) Trace(ctx context.Context, msg string, attrs ...slog.Attr) {
	l.log(ctx, LevelTrace, msg, attrs)
}

// Debug logs at debug level.
func (l Logger) Debug(ctx context.Context, msg string, attrs ...slog.Attr) {
	l.log(ctx, LevelDebug, msg, attrs)
}

// Info logs at info level.
func (l Logger) Info(ctx context.Context, msg string, attrs ...slog.Attr) {
	l.log(ctx, LevelInfo, msg, attrs)
}

// Warn logs at warn level.
func (l Logger) Warn(ctx context.Context, msg string, attrs ...slog.Attr) {
	l.log(ctx, LevelWarn, msg, attrs)
}

// Error logs at error level.
func (l Logger) Error(ctx context.Context, msg string, attrs ...slog.Attr) {
	l.log(ctx, LevelError, msg, attrs)
}

func (l Logger) log(ctx context.Context, level Level, msg string, attrs []slog.Attr) {
	if l.Logger == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if !l.Enabled(ctx, slog.Level(level)) {
		return
	}

	// Skip runtime.Callers, log and the exported level method.
	var pcs [1]uintptr
	runtime.Callers(3, pcs[:])

	r := slog.NewRecord(time.Now(), slog.Level(level), msg, pcs[0])
	r.AddAttrs(attrs...)
	_ = l.Handler().Handle(ctx, r)
}
