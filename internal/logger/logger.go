package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// Custom levels carried by the console handler next to the slog defaults
const (
	LevelTrace = slog.Level(-8)
	LevelRoute = slog.Level(1)
)

type DateFormat string

const (
	HourMinute   DateFormat = "hour-minute"
	FullDateTime DateFormat = "full"
)

// ParseDateFormat maps the LOG_DATE_FORMAT values onto a DateFormat
func ParseDateFormat(format string) DateFormat {
	switch format {
	case "full":
		return FullDateTime
	default:
		return HourMinute
	}
}

func (f DateFormat) layout() string {
	if f == FullDateTime {
		return "02-01-2006 15:04:05"
	}
	return "15:04:05"
}

// ParseLevel maps a LOG_LEVEL string onto a slog level, defaulting to info
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return LevelTrace
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Options configure New
type Options struct {
	Level      slog.Level
	Format     string // "console" (default) or "json"
	DateFormat DateFormat
	Output     io.Writer
}

// New builds the process logger. The console format keeps the colored [LEVEL] tags.
func New(opts Options) *slog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	if opts.Format == "json" {
		return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: opts.Level}))
	}
	return slog.New(NewConsoleHandler(out, opts.Level, opts.DateFormat))
}

// Scope tags a log record with the component that produced it
func Scope(name string) slog.Attr {
	return slog.String("scope", name)
}

// Err attaches an error to a log record
func Err(err error) slog.Attr {
	return slog.Any("error", err)
}

// ConsoleHandler renders records as "hh:mm:ss [LEVEL] message key=value ◆"
type ConsoleHandler struct {
	mu     *sync.Mutex
	out    io.Writer
	level  slog.Leveler
	date   DateFormat
	attrs  []slog.Attr
	groups []string
}

func NewConsoleHandler(out io.Writer, level slog.Leveler, date DateFormat) *ConsoleHandler {
	if date == "" {
		date = HourMinute
	}
	return &ConsoleHandler{mu: &sync.Mutex{}, out: out, level: level, date: date}
}

func (h *ConsoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *ConsoleHandler) Handle(_ context.Context, r slog.Record) error {
	tag, color := levelTag(r.Level)
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "\x1b[90m%s\x1b[0m %s[%s]\x1b[0m %s", ts.Format(h.date.layout()), color, tag, r.Message)

	prefix := strings.Join(h.groups, ".")
	for _, a := range h.attrs {
		writeAttr(&b, prefix, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&b, prefix, a)
		return true
	})

	// multi-line messages get the diamond on their own line
	if strings.Contains(r.Message, "\n") {
		fmt.Fprintf(&b, "\n%s◆\x1b[0m\n", color)
	} else {
		fmt.Fprintf(&b, " %s◆\x1b[0m\n", color)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, b.String())
	return err
}

func (h *ConsoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &c
}

func (h *ConsoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := *h
	c.groups = append(append([]string(nil), h.groups...), name)
	return &c
}

func writeAttr(b *strings.Builder, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	key := a.Key
	if prefix != "" {
		key = prefix + "." + key
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			writeAttr(b, key, ga)
		}
		return
	}
	fmt.Fprintf(b, " \x1b[90m%s=\x1b[0m%v", key, a.Value.Any())
}

func levelTag(l slog.Level) (string, string) {
	switch {
	case l >= slog.LevelError:
		return "ERROR", "\x1b[31m"
	case l >= slog.LevelWarn:
		return "WARN", "\x1b[33m"
	case l >= LevelRoute:
		return "ROUTE", "\x1b[34m"
	case l >= slog.LevelInfo:
		return "INFO", "\x1b[32m"
	case l >= slog.LevelDebug:
		return "DEBUG", "\x1b[36m"
	default:
		return "TRACE", "\x1b[35m"
	}
}
