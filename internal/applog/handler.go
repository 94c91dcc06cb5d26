// Package applog implements the application-log writer: the
// auxiliary thread that drains every worker's (and every other
// auxiliary thread's) fire-and-forget log ring, assembles a vectored
// write, and appends it to the application log file, escalating to
// stderr plus process termination on any message flagged fatal
// (spec §4.I).
//
// Handler adapts that same ring to the standard log/slog.Handler
// interface so the rest of the daemon logs through an ordinary
// *slog.Logger while the bytes actually flow through the bounded
// fabric queue the durability model requires.
package applog

import (
	"context"
	"log/slog"
	"strings"

	"github.com/jroosing/vectordns/internal/fabric"
)

// Handler is a slog.Handler that formats each record as a single
// line and pushes it onto dst. It never blocks: a full ring drops
// the message and calls the dropFunc given to NewHandler, if any
// (Handler itself has no metrics dependency).
type Handler struct {
	dst      *fabric.Ring[fabric.AppLogMsg]
	attrs    []slog.Attr
	level    slog.Leveler
	dropFunc func()
}

// NewHandler returns a Handler pushing onto dst. dropFunc, if
// non-nil, is called once for every record that could not be pushed
// because the ring was full.
func NewHandler(dst *fabric.Ring[fabric.AppLogMsg], level slog.Leveler, dropFunc func()) *Handler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &Handler{dst: dst, level: level, dropFunc: dropFunc}
}

// Enabled reports whether level is at or above the handler's
// configured minimum.
func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle formats r as "message key=value key=value..." and pushes it
// onto the ring. A "fatal" boolean attribute (present and true) sets
// the message's Fatal flag instead of being printed, matching
// spec §7's "produce a log line with exit=true and terminate".
func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	b.WriteString(r.Message)

	fatal := false
	for _, a := range h.attrs {
		h.writeAttr(&b, a, &fatal)
	}
	r.Attrs(func(a slog.Attr) bool {
		h.writeAttr(&b, a, &fatal)
		return true
	})

	msg := fabric.AppLogMsg{Text: b.String(), Fatal: fatal}
	if !h.dst.TryPush(msg) && h.dropFunc != nil {
		h.dropFunc()
	}
	return nil
}

func (h *Handler) writeAttr(b *strings.Builder, a slog.Attr, fatal *bool) {
	if a.Key == "fatal" {
		if v, ok := a.Value.Any().(bool); ok && v {
			*fatal = true
		}
		return
	}
	b.WriteByte(' ')
	b.WriteString(a.Key)
	b.WriteByte('=')
	b.WriteString(a.Value.String())
}

// WithAttrs returns a Handler that prepends attrs to every record it
// handles.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &next
}

// WithGroup is a no-op: the downstream log line is flat text, so
// there is no grouped-attribute structure to preserve.
func (h *Handler) WithGroup(_ string) slog.Handler { return h }
