package logging

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultMaxEntriesPerRun bounds how many records a RunLogs keeps per run.
const DefaultMaxEntriesPerRun = 500

// LogEntry is a captured log record.
type LogEntry struct {
	Time       time.Time      `json:"time"`
	Level      string         `json:"level"`
	Message    string         `json:"message"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// RunLogs holds captured records per run until they are taken.
type RunLogs struct {
	mu         sync.Mutex
	maxEntries int
	logs       map[string][]LogEntry
}

// NewRunLogs creates a RunLogs keeping at most maxEntries records per run.
// Older records are dropped first. maxEntries <= 0 uses the default.
func NewRunLogs(maxEntries int) *RunLogs {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntriesPerRun
	}
	return &RunLogs{
		maxEntries: maxEntries,
		logs:       make(map[string][]LogEntry),
	}
}

// Add appends entry to the records of runID.
func (c *RunLogs) Add(runID string, entry LogEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := append(c.logs[runID], entry)
	if over := len(entries) - c.maxEntries; over > 0 {
		entries = entries[over:]
	}
	c.logs[runID] = entries
}

// Get returns a copy of the records of runID.
func (c *RunLogs) Get(runID string) []LogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, ok := c.logs[runID]
	if !ok {
		return nil
	}
	out := make([]LogEntry, len(entries))
	copy(out, entries)
	return out
}

// Take returns the records of runID and forgets them.
func (c *RunLogs) Take(runID string) []LogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := c.logs[runID]
	delete(c.logs, runID)
	return entries
}

// Len returns the number of runs with captured records.
func (c *RunLogs) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.logs)
}

// CapturingHandler copies every record it sees into a RunLogs before
// passing it to the wrapped handler.
type CapturingHandler struct {
	underlying slog.Handler
	logs       *RunLogs
	runID      string
	minLevel   slog.Level
	attrs      []slog.Attr
	groups     []string
}

// NewCapturingHandler wraps underlying, capturing records at minLevel and above.
func NewCapturingHandler(underlying slog.Handler, logs *RunLogs, runID string, minLevel slog.Level) *CapturingHandler {
	return &CapturingHandler{
		underlying: underlying,
		logs:       logs,
		runID:      runID,
		minLevel:   minLevel,
	}
}

// Enabled reports true when either the capture or the underlying handler
// wants the level. Handle still leaves filtering of output to underlying.
func (h *CapturingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.minLevel || h.underlying.Enabled(ctx, level)
}

func (h *CapturingHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= h.minLevel {
		entry := LogEntry{
			Time:       r.Time,
			Level:      r.Level.String(),
			Message:    r.Message,
			Attributes: make(map[string]any, r.NumAttrs()+len(h.attrs)),
		}
		for _, a := range h.attrs {
			entry.Attributes[a.Key] = resolveValue(a.Value)
		}
		r.Attrs(func(a slog.Attr) bool {
			entry.Attributes[h.qualify(a.Key)] = resolveValue(a.Value)
			return true
		})
		h.logs.Add(h.runID, entry)
	}

	if !h.underlying.Enabled(ctx, r.Level) {
		return nil
	}
	return h.underlying.Handle(ctx, r)
}

func (h *CapturingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := h.clone()
	for _, a := range attrs {
		c.attrs = append(c.attrs, slog.Attr{Key: h.qualify(a.Key), Value: a.Value})
	}
	c.underlying = h.underlying.WithAttrs(attrs)
	return c
}

func (h *CapturingHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := h.clone()
	c.groups = append(c.groups, name)
	c.underlying = h.underlying.WithGroup(name)
	return c
}

func (h *CapturingHandler) clone() *CapturingHandler {
	c := *h
	c.attrs = append([]slog.Attr(nil), h.attrs...)
	c.groups = append([]string(nil), h.groups...)
	return &c
}

// qualify prefixes key with the open groups, dot separated.
func (h *CapturingHandler) qualify(key string) string {
	for i := len(h.groups) - 1; i >= 0; i-- {
		key = h.groups[i] + "." + key
	}
	return key
}

// resolveValue converts v into something encoding/json can handle.
func resolveValue(v slog.Value) any {
	v = v.Resolve()
	switch v.Kind() {
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindGroup:
		attrs := v.Group()
		group := make(map[string]any, len(attrs))
		for _, a := range attrs {
			group[a.Key] = resolveValue(a.Value)
		}
		return group
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return err.Error()
		}
		if s, ok := v.Any().(interface{ String() string }); ok {
			return s.String()
		}
		return v.Any()
	default:
		return v.Any()
	}
}

// LoggerHook derives a per-run logger from a base logger.
type LoggerHook interface {
	LoggerForRun(base *slog.Logger, runID string) *slog.Logger
}

// CapturingHook returns loggers that capture into a RunLogs.
type CapturingHook struct {
	logs     *RunLogs
	minLevel slog.Level
}

// NewCapturingHook creates a hook capturing records at minLevel and above.
func NewCapturingHook(logs *RunLogs, minLevel slog.Level) *CapturingHook {
	return &CapturingHook{logs: logs, minLevel: minLevel}
}

// LoggerForRun wraps base so its records are also captured under runID.
func (h *CapturingHook) LoggerForRun(base *slog.Logger, runID string) *slog.Logger {
	return slog.New(NewCapturingHandler(base.Handler(), h.logs, runID, h.minLevel))
}
