package logging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
)

// SyslogHandler is an slog.Handler that copies records to a remote syslog
// server in addition to a wrapped base handler (typically stderr).
type SyslogHandler struct {
	base   slog.Handler
	client *atomic.Pointer[SyslogClient] // shared with derived handlers
	attrs  []slog.Attr
	groups []string
}

// NewSyslogHandler wraps base. No records are forwarded until SetClient.
func NewSyslogHandler(base slog.Handler) *SyslogHandler {
	return &SyslogHandler{base: base, client: new(atomic.Pointer[SyslogClient])}
}

// SetClient replaces the syslog client; nil stops forwarding. The old
// client is closed.
func (h *SyslogHandler) SetClient(c *SyslogClient) {
	if old := h.client.Swap(c); old != nil {
		old.Close()
	}
}

// Enabled implements slog.Handler.
func (h *SyslogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.base.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (h *SyslogHandler) Handle(ctx context.Context, r slog.Record) error {
	err := h.base.Handle(ctx, r)
	if c := h.client.Load(); c != nil {
		c.Send(slogLevelToSyslog(r.Level), formatRecord(r, h.attrs, h.groups))
	}
	return err
}

// WithAttrs implements slog.Handler.
func (h *SyslogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &SyslogHandler{
		base:   h.base.WithAttrs(attrs),
		client: h.client,
		attrs:  append(append([]slog.Attr{}, h.attrs...), attrs...),
		groups: h.groups,
	}
}

// WithGroup implements slog.Handler.
func (h *SyslogHandler) WithGroup(name string) slog.Handler {
	return &SyslogHandler{
		base:   h.base.WithGroup(name),
		client: h.client,
		attrs:  h.attrs,
		groups: append(append([]string{}, h.groups...), name),
	}
}

func slogLevelToSyslog(level slog.Level) int {
	switch {
	case level >= slog.LevelError:
		return SyslogError
	case level >= slog.LevelWarn:
		return SyslogWarning
	case level >= slog.LevelInfo:
		return SyslogInfo
	default:
		return SyslogDebug
	}
}

// formatRecord produces a compact text representation of a log record.
func formatRecord(r slog.Record, preAttrs []slog.Attr, groups []string) string {
	var b strings.Builder
	b.WriteString(r.Message)

	for _, a := range preAttrs {
		fmt.Fprintf(&b, " %s=%s", a.Key, a.Value.String())
	}

	prefix := ""
	if len(groups) > 0 {
		prefix = strings.Join(groups, ".") + "."
	}
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(&b, " %s%s=%s", prefix, a.Key, a.Value.String())
		return true
	})
	return b.String()
}
