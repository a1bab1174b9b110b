package jobs

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"ivg/internal/faults"
	"ivg/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := store.OpenSQLite(filepath.Join(t.TempDir(), "ivg.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	s, err := NewStore(context.Background(), db)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func TestStoreLifecycleBumpsSequence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	job, err := s.Create(ctx, Job{ID: "j1", Kind: KindVariation, OwnerScope: "alice", Input: Input{StyleID: "ink", Prompt: "cat"}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if job.State != StateQueued || job.Sequence != 1 {
		t.Fatalf("unexpected created job %+v", job)
	}

	running, err := s.MarkRunning(ctx, "j1")
	if err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}
	if running.State != StateRunning || running.Sequence != 2 {
		t.Fatalf("unexpected running job %+v", running)
	}

	done, err := s.Complete(ctx, "j1", "asset-1")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if done.State != StateSucceeded || done.Sequence != 3 || done.OutputRef != "asset-1" || done.Error != nil {
		t.Fatalf("unexpected completed job %+v", done)
	}
	if done.Input.StyleID != "ink" || done.Input.Prompt != "cat" || done.OwnerScope != "alice" {
		t.Fatalf("input not round-tripped: %+v", done)
	}
}

func TestStoreTerminalStatesAreAbsorbing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if _, err := s.Create(ctx, Job{ID: "j1", Kind: KindBackgroundRemoval, OwnerScope: "o"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := s.Fail(ctx, "j1", ErrorDetail{Kind: faults.KindInput, Message: "bad image"}); err != nil {
		t.Fatalf("Fail from queued: %v", err)
	}

	if _, err := s.MarkRunning(ctx, "j1"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("MarkRunning after failure: %v", err)
	}
	if _, err := s.Complete(ctx, "j1", "asset"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Complete after failure: %v", err)
	}
	if _, err := s.Fail(ctx, "j1", ErrorDetail{Kind: faults.KindInternal, Message: "again"}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Fail after failure: %v", err)
	}

	job, err := s.Get(ctx, "j1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if job.Sequence != 2 || job.Error == nil || job.Error.Kind != faults.KindInput || job.Error.Message != "bad image" {
		t.Fatalf("unexpected job after rejected transitions %+v", job)
	}
}

func TestStoreRejectsCompleteFromQueuedAndEmptyOutput(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if _, err := s.Create(ctx, Job{ID: "j1", Kind: KindVariation, OwnerScope: "o"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := s.Complete(ctx, "j1", "asset"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Complete from queued: %v", err)
	}
	if _, err := s.MarkRunning(ctx, "j1"); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}
	if _, err := s.Complete(ctx, "j1", " "); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Complete without output: %v", err)
	}
}

func TestStoreUnknownJob(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if _, err := s.Get(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get: %v", err)
	}
	if _, err := s.MarkRunning(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("MarkRunning: %v", err)
	}
}

func TestStoreListAndCountByState(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		if _, err := s.Create(ctx, Job{ID: id, Kind: KindVariation, OwnerScope: "o"}); err != nil {
			t.Fatalf("Create %s: %v", id, err)
		}
	}
	if _, err := s.MarkRunning(ctx, "b"); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}

	queued, err := s.ListByState(ctx, StateQueued)
	if err != nil {
		t.Fatalf("ListByState: %v", err)
	}
	if len(queued) != 2 || queued[0].ID != "a" || queued[1].ID != "c" {
		t.Fatalf("unexpected queued jobs %+v", queued)
	}

	counts, err := s.CountByState(ctx)
	if err != nil {
		t.Fatalf("CountByState: %v", err)
	}
	if counts[StateQueued] != 2 || counts[StateRunning] != 1 || counts[StateSucceeded] != 0 || counts[StateFailed] != 0 {
		t.Fatalf("unexpected counts %v", counts)
	}
}

func TestSnapshotOnlyCarriesOutcomeForMatchingState(t *testing.T) {
	job := Job{ID: "x", State: StateRunning, OutputRef: "stale", Error: &ErrorDetail{Kind: faults.KindInternal}}
	snap := job.Snapshot()
	if snap.OutputRef != "" || snap.Error != nil {
		t.Fatalf("running snapshot leaked outcome %+v", snap)
	}
	job.State = StateSucceeded
	if snap := job.Snapshot(); snap.OutputRef != "stale" || snap.Error != nil {
		t.Fatalf("succeeded snapshot %+v", snap)
	}
}
