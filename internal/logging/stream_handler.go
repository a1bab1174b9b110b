package logging

import (
	"context"
	"log/slog"
	"strings"
)

// streamHandler mirrors every record into a StreamHub before passing it on.
type streamHandler struct {
	next   slog.Handler
	hub    *StreamHub
	attrs  []slog.Attr
	prefix string
}

func newStreamHandler(next slog.Handler, hub *StreamHub) slog.Handler {
	if hub == nil || next == nil {
		return next
	}
	return &streamHandler{next: next, hub: hub}
}

func (h *streamHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *streamHandler) Handle(ctx context.Context, record slog.Record) error {
	evt := LogEvent{
		Timestamp: record.Time,
		Level:     strings.ToUpper(record.Level.String()),
		Message:   strings.TrimSpace(record.Message),
	}
	for _, attr := range h.attrs {
		evt.apply("", attr)
	}
	// Call-site attrs come last so they win over logger attrs.
	record.Attrs(func(attr slog.Attr) bool {
		evt.apply(h.prefix, attr)
		return true
	})
	h.hub.Publish(evt)
	return h.next.Handle(ctx, record.Clone())
}

func (h *streamHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.next = h.next.WithAttrs(attrs)
	clone.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	clone.attrs = append(clone.attrs, h.attrs...)
	for _, attr := range attrs {
		if h.prefix != "" {
			attr.Key = h.prefix + attr.Key
		}
		clone.attrs = append(clone.attrs, attr)
	}
	return &clone
}

func (h *streamHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.next = h.next.WithGroup(name)
	clone.prefix = h.prefix + name + "."
	return &clone
}

// apply routes well-known keys to their LogEvent fields and keeps the rest,
// flattening groups into dotted keys.
func (evt *LogEvent) apply(prefix string, attr slog.Attr) {
	key := strings.TrimSpace(attr.Key)
	attr.Value = attr.Value.Resolve()
	if attr.Value.Kind() == slog.KindGroup {
		if key != "" {
			prefix += key + "."
		}
		for _, member := range attr.Value.Group() {
			evt.apply(prefix, member)
		}
		return
	}
	if key == "" {
		return
	}
	value := attrString(attr.Value)
	switch prefix + key {
	case FieldJobID:
		evt.JobID = value
	case FieldLane:
		evt.Lane = value
	case FieldCorrelationID:
		evt.CorrelationID = value
	case FieldComponent:
		evt.Component = value
	default:
		if evt.Fields == nil {
			evt.Fields = make(map[string]string)
		}
		evt.Fields[prefix+key] = value
	}
}
