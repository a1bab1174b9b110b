package logging

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"
)

func TestStreamHandlerCarriesLoggerAttrs(t *testing.T) {
	hub := NewStreamHub(100)
	handler := newStreamHandler(slog.NewTextHandler(io.Discard, nil), hub)

	logger := slog.New(handler).
		With(slog.String(FieldLane, "generation")).
		With(slog.String(FieldJobID, "job-1"))
	logger.Info("job started", slog.String("extra", "value"))

	events, _ := hub.Tail(Query{Limit: 10})
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	evt := events[0]
	if evt.JobID != "job-1" || evt.Lane != "generation" {
		t.Fatalf("logger attrs not routed: %+v", evt)
	}
	if evt.Fields["extra"] != "value" {
		t.Fatalf("expected extra field, got %v", evt.Fields)
	}
	if evt.Message != "job started" || evt.Level != "INFO" {
		t.Fatalf("unexpected event %+v", evt)
	}
}

func TestStreamHandlerCallSiteOverridesLoggerAttrs(t *testing.T) {
	hub := NewStreamHub(100)
	handler := newStreamHandler(slog.NewTextHandler(io.Discard, nil), hub)

	logger := slog.New(handler).With(slog.String(FieldLane, "generation"))
	logger.Info("message", slog.String(FieldLane, "background_removal"))

	events, _ := hub.Tail(Query{})
	if len(events) != 1 || events[0].Lane != "background_removal" {
		t.Fatalf("expected call-site lane, got %+v", events)
	}
}

func TestStreamHandlerFlattensGroups(t *testing.T) {
	hub := NewStreamHub(10)
	logger := slog.New(newStreamHandler(slog.NewTextHandler(io.Discard, nil), hub))

	logger.WithGroup("provider").Info("retry",
		slog.Int("attempt", 2),
		slog.Group("status", slog.Int("code", 503)),
	)

	events, _ := hub.Tail(Query{})
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	fields := events[0].Fields
	if fields["provider.attempt"] != "2" || fields["provider.status.code"] != "503" {
		t.Fatalf("unexpected fields %v", fields)
	}
}

func TestStreamHubRingKeepsNewest(t *testing.T) {
	hub := NewStreamHub(3)
	for range 5 {
		hub.Publish(LogEvent{Message: "evt"})
	}
	events, next := hub.Tail(Query{Limit: 10})
	if len(events) != 3 {
		t.Fatalf("expected ring to keep 3 events, got %d", len(events))
	}
	if next != 5 || events[0].Sequence != 3 || events[2].Sequence != 5 {
		t.Fatalf("unexpected sequences next=%d events=%+v", next, events)
	}

	fetched, _, err := hub.Fetch(context.Background(), Query{Since: 4}, false)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(fetched) != 1 || fetched[0].Sequence != 5 {
		t.Fatalf("expected only sequence 5, got %+v", fetched)
	}
}

func TestStreamHubFetchLimitResumesWithoutGaps(t *testing.T) {
	hub := NewStreamHub(10)
	for range 5 {
		hub.Publish(LogEvent{Message: "evt"})
	}
	first, next, _ := hub.Fetch(context.Background(), Query{Limit: 2}, false)
	if len(first) != 2 || next != 2 {
		t.Fatalf("first page = %d events, next %d", len(first), next)
	}
	rest, next, _ := hub.Fetch(context.Background(), Query{Since: next}, false)
	if len(rest) != 3 || rest[0].Sequence != 3 || next != 5 {
		t.Fatalf("second page = %+v, next %d", rest, next)
	}
}

func TestStreamHubFiltersByComponentAndJob(t *testing.T) {
	hub := NewStreamHub(10)
	hub.Publish(LogEvent{Message: "a", Component: "lanes"})
	hub.Publish(LogEvent{Message: "b", Component: "Gateway", JobID: "j1"})
	hub.Publish(LogEvent{Message: "c", Component: "gateway", JobID: "j2"})

	events, _ := hub.Tail(Query{Component: "gateway"})
	if len(events) != 2 || events[0].Message != "b" {
		t.Fatalf("component filter: %+v", events)
	}
	events, next, _ := hub.Fetch(context.Background(), Query{JobID: "j2"}, false)
	if len(events) != 1 || events[0].Message != "c" || next != 3 {
		t.Fatalf("job filter: %+v next=%d", events, next)
	}
}

func TestStreamHubFetchWaitsForMatchingPublish(t *testing.T) {
	hub := NewStreamHub(10)
	done := make(chan []LogEvent, 1)
	go func() {
		events, _, _ := hub.Fetch(context.Background(), Query{JobID: "wanted"}, true)
		done <- events
	}()

	time.Sleep(20 * time.Millisecond)
	hub.Publish(LogEvent{Message: "other", JobID: "other"})
	select {
	case events := <-done:
		t.Fatalf("woke for a non-matching event: %+v", events)
	case <-time.After(50 * time.Millisecond):
	}

	hub.Publish(LogEvent{Message: "late", JobID: "wanted"})
	select {
	case events := <-done:
		if len(events) != 1 || events[0].Message != "late" {
			t.Fatalf("unexpected events %+v", events)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("fetch did not wake after publish")
	}
}

func TestStreamHubFetchHonorsCancellation(t *testing.T) {
	hub := NewStreamHub(10)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, _, err := hub.Fetch(ctx, Query{}, true)
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected context error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("fetch did not return after cancel")
	}
}
