package search

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	gosync "sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// logger discards everything until InitLogger runs.
var logger *slog.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))

// LogOptions configures InitLogger.
type LogOptions struct {
	Dir       string // rotating files are written only when set
	Level     slog.Level
	JSON      bool // JSON lines in the files; the console stays text
	MaxSizeMB int  // rotation size per file, 0 means 10
}

// logBands are the rotated files under LogOptions.Dir. A band is skipped
// when its upper bound is below the configured level.
var logBands = []struct {
	file     string
	min, max slog.Level
	backups  int
}{
	{"search_warn.log", slog.LevelWarn, slog.LevelError, 3},
	{"search_info.log", slog.LevelInfo, slog.LevelInfo, 2},
	{"search_debug.log", slog.LevelDebug, slog.LevelDebug, 1},
}

// InitLogger installs the package logger and makes it the slog default.
// Records below WARN go to stdout and the rest to stderr. Every ERROR record
// is also kept for RecentErrors.
func InitLogger(opts LogOptions) {
	console := &consoleSplit{
		min: opts.Level,
		out: slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: opts.Level}),
		err: slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}),
	}
	handlers := []slog.Handler{console, &errorRecorder{}}

	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0750); err != nil {
			slog.New(console).Warn("file logging disabled", "dir", opts.Dir, "err", err)
		} else {
			handlers = append(handlers, fileBands(opts)...)
		}
	}

	logger = slog.New(teeHandler(handlers))
	slog.SetDefault(logger)
}

func fileBands(opts LogOptions) []slog.Handler {
	size := opts.MaxSizeMB
	if size <= 0 {
		size = 10
	}
	var out []slog.Handler
	for _, b := range logBands {
		if b.max < opts.Level {
			continue
		}
		w := &lumberjack.Logger{
			Filename:   filepath.Join(opts.Dir, b.file),
			MaxSize:    size,
			MaxBackups: b.backups,
		}
		hopts := &slog.HandlerOptions{Level: b.min}
		var h slog.Handler = slog.NewTextHandler(w, hopts)
		if opts.JSON {
			h = slog.NewJSONHandler(w, hopts)
		}
		out = append(out, &bandHandler{min: b.min, max: b.max, next: h})
	}
	return out
}

// ParseLevel maps a config string to a slog level. Unknown values mean INFO.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "d", "verbose":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error", "e":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func sub(component string) *slog.Logger {
	return logger.With("comp", component)
}

// logEnabled guards DEBUG calls whose arguments are costly to build.
func logEnabled(level slog.Level) bool {
	return logger.Enabled(context.Background(), level)
}

type consoleSplit struct {
	min      slog.Level
	out, err slog.Handler
}

func (h *consoleSplit) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.min
}

func (h *consoleSplit) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelWarn {
		return h.err.Handle(ctx, r)
	}
	return h.out.Handle(ctx, r)
}

func (h *consoleSplit) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &consoleSplit{min: h.min, out: h.out.WithAttrs(attrs), err: h.err.WithAttrs(attrs)}
}

func (h *consoleSplit) WithGroup(name string) slog.Handler {
	return &consoleSplit{min: h.min, out: h.out.WithGroup(name), err: h.err.WithGroup(name)}
}

// LogEntry is an ERROR record kept for RecentErrors.
type LogEntry struct {
	Time    time.Time `json:"time"`
	Comp    string    `json:"comp"`
	Message string    `json:"message"`
	Error   string    `json:"error,omitempty"`
}

const recentErrorCap = 8

var recentErrors struct {
	mu   gosync.Mutex
	buf  [recentErrorCap]LogEntry
	next int
	full bool
}

// RecentErrors returns up to the last eight ERROR records, newest first.
func RecentErrors() []LogEntry {
	recentErrors.mu.Lock()
	defer recentErrors.mu.Unlock()
	n := recentErrors.next
	if recentErrors.full {
		n = recentErrorCap
	}
	out := make([]LogEntry, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, recentErrors.buf[(recentErrors.next-i+recentErrorCap)%recentErrorCap])
	}
	return out
}

func recordError(e LogEntry) {
	recentErrors.mu.Lock()
	recentErrors.buf[recentErrors.next] = e
	recentErrors.next = (recentErrors.next + 1) % recentErrorCap
	if recentErrors.next == 0 {
		recentErrors.full = true
	}
	recentErrors.mu.Unlock()
}

// errorRecorder only tracks the comp attr; everything else is read off the record.
type errorRecorder struct {
	comp string
}

func (h *errorRecorder) Enabled(_ context.Context, level slog.Level) bool {
	return level >= slog.LevelError
}

func (h *errorRecorder) Handle(_ context.Context, r slog.Record) error {
	e := LogEntry{Time: r.Time, Comp: h.comp, Message: r.Message}
	r.Attrs(func(a slog.Attr) bool {
		switch a.Key {
		case "comp":
			e.Comp = a.Value.String()
		case "err":
			e.Error = a.Value.String()
		}
		return true
	})
	recordError(e)
	return nil
}

func (h *errorRecorder) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := &errorRecorder{comp: h.comp}
	for _, a := range attrs {
		if a.Key == "comp" {
			next.comp = a.Value.String()
		}
	}
	return next
}

func (h *errorRecorder) WithGroup(string) slog.Handler { return h }

// bandHandler forwards records whose level lies in [min, max].
type bandHandler struct {
	min, max slog.Level
	next     slog.Handler
}

func (h *bandHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.min && level <= h.max
}

func (h *bandHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.next.Handle(ctx, r)
}

func (h *bandHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &bandHandler{min: h.min, max: h.max, next: h.next.WithAttrs(attrs)}
}

func (h *bandHandler) WithGroup(name string) slog.Handler {
	return &bandHandler{min: h.min, max: h.max, next: h.next.WithGroup(name)}
}

// teeHandler hands each record to every member that accepts its level.
type teeHandler []slog.Handler

func (t teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range t {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (t teeHandler) Handle(ctx context.Context, r slog.Record) error {
	var first error
	for _, h := range t {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (t teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(teeHandler, len(t))
	for i, h := range t {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (t teeHandler) WithGroup(name string) slog.Handler {
	out := make(teeHandler, len(t))
	for i, h := range t {
		out[i] = h.WithGroup(name)
	}
	return out
}
