package logging

import (
	"context"
	"strings"
	"sync"
	"time"
)

const defaultStreamCapacity = 512

// LogEvent represents a structured log line published to the streaming hub.
type LogEvent struct {
	Sequence      uint64            `json:"seq"`
	Timestamp     time.Time         `json:"ts"`
	Level         string            `json:"level"`
	Message       string            `json:"msg"`
	Component     string            `json:"component,omitempty"`
	JobID         string            `json:"job_id,omitempty"`
	Lane          string            `json:"lane,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Fields        map[string]string `json:"fields,omitempty"`
}

// Query selects events from a StreamHub. Zero fields match everything.
type Query struct {
	// Since is an exclusive sequence cursor.
	Since     uint64
	Limit     int
	Component string
	JobID     string
}

func (q Query) matches(evt LogEvent) bool {
	if q.Component != "" && !strings.EqualFold(q.Component, evt.Component) {
		return false
	}
	return q.JobID == "" || q.JobID == evt.JobID
}

// StreamHub is a bounded ring of recent log events. Readers either take the
// tail or poll forward from a sequence cursor, optionally blocking until a
// matching event is published.
type StreamHub struct {
	mu      sync.Mutex
	ring    []LogEvent
	head    int
	size    int
	lastSeq uint64
	changed chan struct{}
}

// NewStreamHub constructs a hub retaining up to capacity events.
func NewStreamHub(capacity int) *StreamHub {
	if capacity <= 0 {
		capacity = defaultStreamCapacity
	}
	return &StreamHub{
		ring:    make([]LogEvent, capacity),
		changed: make(chan struct{}),
	}
}

// Publish stamps evt with the next sequence and wakes blocked readers. The
// oldest event is dropped when the ring is full.
func (h *StreamHub) Publish(evt LogEvent) {
	if h == nil {
		return
	}
	h.mu.Lock()
	h.lastSeq++
	evt.Sequence = h.lastSeq
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	slot := (h.head + h.size) % len(h.ring)
	if h.size == len(h.ring) {
		h.head = (h.head + 1) % len(h.ring)
	} else {
		h.size++
	}
	h.ring[slot] = evt
	close(h.changed)
	h.changed = make(chan struct{})
	h.mu.Unlock()
}

// Fetch returns up to q.Limit matching events newer than q.Since, oldest
// first, and the cursor to pass as Since next time. With wait set, an empty
// result blocks until a matching event arrives or ctx ends.
func (h *StreamHub) Fetch(ctx context.Context, q Query, wait bool) ([]LogEvent, uint64, error) {
	if h == nil {
		return nil, q.Since, nil
	}
	for {
		h.mu.Lock()
		events, next := h.scanLocked(q)
		changed := h.changed
		h.mu.Unlock()

		if len(events) > 0 || !wait {
			return events, next, nil
		}
		// Non-matching events still advance the cursor.
		q.Since = next
		select {
		case <-ctx.Done():
			return nil, next, ctx.Err()
		case <-changed:
		}
	}
}

// Tail returns the last q.Limit matching events, ignoring q.Since, and the
// cursor for following from there.
func (h *StreamHub) Tail(q Query) ([]LogEvent, uint64) {
	if h == nil {
		return nil, 0
	}
	limit := h.limit(q.Limit)
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []LogEvent
	for i := h.size - 1; i >= 0 && len(out) < limit; i-- {
		if evt := h.at(i); q.matches(evt) {
			out = append(out, evt)
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, h.lastSeq
}

func (h *StreamHub) scanLocked(q Query) ([]LogEvent, uint64) {
	limit := h.limit(q.Limit)
	var out []LogEvent
	for i := 0; i < h.size; i++ {
		evt := h.at(i)
		if evt.Sequence <= q.Since || !q.matches(evt) {
			continue
		}
		out = append(out, evt)
		if len(out) == limit {
			// Resume after the last returned event so nothing is skipped.
			return out, evt.Sequence
		}
	}
	return out, h.lastSeq
}

func (h *StreamHub) at(i int) LogEvent {
	return h.ring[(h.head+i)%len(h.ring)]
}

func (h *StreamHub) limit(limit int) int {
	if limit <= 0 || limit > len(h.ring) {
		return len(h.ring)
	}
	return limit
}
