package logging

import (
	"context"
	"log/slog"
)

// FieldSessionID is the key WithSession stamps on every record.
const FieldSessionID = "session_id"

// stampHandler appends a fixed set of attributes to every record after the
// record's own attributes, so they survive handler cloning and groups.
type stampHandler struct {
	base  slog.Handler
	stamp []slog.Attr
}

func newStampHandler(base slog.Handler, stamp ...slog.Attr) slog.Handler {
	if base == nil {
		return NoopHandler{}
	}
	if len(stamp) == 0 {
		return base
	}
	return &stampHandler{base: base, stamp: stamp}
}

func (h *stampHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.base.Enabled(ctx, level)
}

func (h *stampHandler) Handle(ctx context.Context, record slog.Record) error {
	record.AddAttrs(h.stamp...)
	return h.base.Handle(ctx, record)
}

func (h *stampHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &stampHandler{base: h.base.WithAttrs(attrs), stamp: h.stamp}
}

func (h *stampHandler) WithGroup(name string) slog.Handler {
	return &stampHandler{base: h.base.WithGroup(name), stamp: h.stamp}
}
