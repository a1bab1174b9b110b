package logs_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"ivg/internal/logs"
)

func appendLine(t *testing.T, path, line string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	defer f.Close()
	if _, err := f.WriteString(line); err != nil {
		t.Fatalf("append log: %v", err)
	}
}

func TestLastReturnsTrailingLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), logs.CurrentName)
	appendLine(t, path, "a\nb\nc\n")

	chunk, err := logs.Last(path, 2)
	if err != nil {
		t.Fatalf("Last: %v", err)
	}
	if len(chunk.Lines) != 2 || chunk.Lines[0] != "b" || chunk.Lines[1] != "c" {
		t.Fatalf("unexpected lines: %#v", chunk.Lines)
	}
	if chunk.Offset != 6 {
		t.Fatalf("offset = %d, want 6", chunk.Offset)
	}
}

func TestLastMissingFileIsEmpty(t *testing.T) {
	chunk, err := logs.Last(filepath.Join(t.TempDir(), "absent.log"), 10)
	if err != nil {
		t.Fatalf("Last: %v", err)
	}
	if len(chunk.Lines) != 0 || chunk.Offset != 0 {
		t.Fatalf("expected empty chunk, got %+v", chunk)
	}
}

func TestFollowWaitsForNewLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), logs.CurrentName)
	appendLine(t, path, "start\n")
	first, err := logs.Last(path, 1)
	if err != nil {
		t.Fatalf("Last: %v", err)
	}

	go func() {
		time.Sleep(100 * time.Millisecond)
		appendLine(t, path, "later\npartial")
	}()

	chunk, err := logs.Follow(context.Background(), path, first.Offset, 5*time.Second)
	if err != nil {
		t.Fatalf("Follow: %v", err)
	}
	if len(chunk.Lines) != 1 || chunk.Lines[0] != "later" {
		t.Fatalf("unexpected follow lines: %#v", chunk.Lines)
	}
	if chunk.Offset != first.Offset+int64(len("later\n")) {
		t.Fatalf("offset = %d, partial line should not be consumed", chunk.Offset)
	}
}

func TestFollowTimesOutAndRestartsAfterTruncation(t *testing.T) {
	path := filepath.Join(t.TempDir(), logs.CurrentName)
	appendLine(t, path, "one\n")

	chunk, err := logs.Follow(context.Background(), path, 4, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Follow: %v", err)
	}
	if len(chunk.Lines) != 0 || chunk.Offset != 4 {
		t.Fatalf("expected no lines at offset 4, got %+v", chunk)
	}

	if err := os.WriteFile(path, []byte("x\n"), 0o644); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	chunk, err = logs.Follow(context.Background(), path, 100, 0)
	if err != nil {
		t.Fatalf("Follow after truncate: %v", err)
	}
	if len(chunk.Lines) != 1 || chunk.Lines[0] != "x" {
		t.Fatalf("expected restart from beginning, got %#v", chunk.Lines)
	}
}

func TestFollowHonoursCancellation(t *testing.T) {
	path := filepath.Join(t.TempDir(), logs.CurrentName)
	appendLine(t, path, "one\n")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := logs.Follow(ctx, path, 4, time.Minute); err == nil {
		t.Fatal("expected context error")
	}
}
