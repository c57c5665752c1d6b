// Package clog provides a colorized slog handler for terminal output.
// Formatting and writing happen on a background goroutine, so logging never
// blocks the caller.
package clog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/fatih/color"
)

// Handler renders records as single colorized lines. Derived handlers from
// WithAttrs and WithGroup share the parent's writer goroutine.
type Handler struct {
	core  *core
	attrs []slog.Attr
	group string
}

type core struct {
	ch     chan []byte
	w      io.Writer
	level  slog.Level
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

var _ slog.Handler = (*Handler)(nil)

// New creates a Handler writing to w at the given minimum level.
func New(w io.Writer, level slog.Level) *Handler {
	c := &core{
		ch:    make(chan []byte, 1024),
		w:     w,
		level: level,
	}
	c.wg.Add(1)
	go c.run()
	return &Handler{core: c}
}

func (c *core) run() {
	defer c.wg.Done()
	for data := range c.ch {
		c.w.Write(data)
	}
}

// Close flushes queued lines and stops the writer goroutine. Log calls after
// Close are dropped.
func (h *Handler) Close() error {
	c := h.core
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.ch)
	}
	c.mu.Unlock()
	c.wg.Wait()
	return nil
}

// Enabled reports whether records at level are emitted.
func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.core.level
}

// Handle formats one record and queues it for writing.
func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	level := r.Level.String()
	switch {
	case r.Level >= slog.LevelError:
		level = color.RedString(level)
	case r.Level >= slog.LevelWarn:
		level = color.YellowString(level)
	case r.Level >= slog.LevelInfo:
		level = color.BlueString(level)
	default:
		level = color.MagentaString(level)
	}

	line := fmt.Sprintf(
		"%s | %-5s | %s",
		color.GreenString(r.Time.Format("15:04:05.000")),
		level,
		r.Message,
	)

	for _, attr := range h.attrs {
		line += color.CyanString(fmt.Sprintf(" %s=%v", h.key(attr.Key), attr.Value))
	}
	r.Attrs(func(attr slog.Attr) bool {
		line += color.CyanString(fmt.Sprintf(" %s=%v", h.key(attr.Key), attr.Value))
		return true
	})

	h.write([]byte(line + "\n"))
	return nil
}

// WithAttrs returns a handler that prepends attrs to every record.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &Handler{core: h.core, attrs: merged, group: h.group}
}

// WithGroup returns a handler that prefixes attribute keys with name.
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	group := name
	if h.group != "" {
		group = h.group + "." + name
	}
	return &Handler{core: h.core, attrs: h.attrs, group: group}
}

func (h *Handler) key(k string) string {
	if h.group == "" {
		return k
	}
	return h.group + "." + k
}

func (h *Handler) write(p []byte) {
	c := h.core
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.ch <- p
}
