package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ivg/internal/faults"
	"ivg/internal/logging"
)

type captureDispatcher struct {
	mu   sync.Mutex
	jobs []Job
}

func (d *captureDispatcher) Dispatch(job Job) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.jobs = append(d.jobs, job)
}

func (d *captureDispatcher) take(t *testing.T) Job {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.jobs) == 0 {
		t.Fatal("no job dispatched")
	}
	job := d.jobs[0]
	d.jobs = d.jobs[1:]
	return job
}

func sequentialIDs() func() string {
	var n atomic.Int64
	return func() string { return fmt.Sprintf("job-%d", n.Add(1)) }
}

func newTestManager(t *testing.T, exec Executor, opts ...Option) (*Manager, *captureDispatcher) {
	t.Helper()
	opts = append([]Option{WithIDGenerator(sequentialIDs())}, opts...)
	m := NewManager(newTestStore(t), exec, logging.NewNop(), opts...)
	d := &captureDispatcher{}
	m.SetDispatcher(d)
	return m, d
}

func TestSubmitInlineReturnsTerminalSnapshot(t *testing.T) {
	m, _ := newTestManager(t, ExecutorFunc(func(ctx context.Context, job Job) (string, error) {
		return "out-" + job.ID, nil
	}))
	snap, err := m.Submit(context.Background(), "alice", KindVariation, Input{StyleID: "ink"}, ModeInline)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if snap.State != StateSucceeded || snap.OutputRef != "out-job-1" || snap.Error != nil || snap.Sequence != 3 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestSubmitQueuedDispatchesAndReturnsQueued(t *testing.T) {
	m, d := newTestManager(t, ExecutorFunc(func(context.Context, Job) (string, error) { return "out", nil }))
	snap, err := m.Submit(context.Background(), "alice", KindBackgroundRemoval, Input{AssetID: "a1"}, "")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if snap.State != StateQueued || snap.Sequence != 1 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	job := d.take(t)
	if job.ID != snap.JobID || job.Input.AssetID != "a1" {
		t.Fatalf("unexpected dispatched job %+v", job)
	}
}

func TestSubmitUnknownKindCreatesNothing(t *testing.T) {
	m, _ := newTestManager(t, nil)
	_, err := m.Submit(context.Background(), "alice", Kind("upscale"), Input{}, ModeInline)
	if !faults.Is(err, faults.KindInput) {
		t.Fatalf("expected input error, got %v", err)
	}
	counts, err := m.Counts(context.Background())
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	for state, n := range counts {
		if n != 0 {
			t.Fatalf("unexpected %d %s jobs", n, state)
		}
	}
}

func TestRunRecordsClassifiedFailure(t *testing.T) {
	m, _ := newTestManager(t, ExecutorFunc(func(context.Context, Job) (string, error) {
		return "", faults.ProviderTransient("provider gemini failed after 3 attempts", errors.New("503"))
	}))
	var hooked Job
	m.onFailure = func(_ context.Context, job Job) { hooked = job }

	snap, err := m.Submit(context.Background(), "alice", KindVariation, Input{}, ModeInline)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if snap.State != StateFailed || snap.OutputRef != "" || snap.Error == nil || snap.Error.Kind != faults.KindProviderTransient {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if hooked.ID != snap.JobID {
		t.Fatalf("failure hook not called, got %+v", hooked)
	}
}

func TestRunRecoversPanicAsInternal(t *testing.T) {
	m, _ := newTestManager(t, ExecutorFunc(func(context.Context, Job) (string, error) {
		panic("boom")
	}))
	snap, err := m.Submit(context.Background(), "alice", KindVariation, Input{}, ModeInline)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if snap.State != StateFailed || snap.Error == nil || snap.Error.Kind != faults.KindInternal {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestRunCancelledInlineJobFailsAsInterrupted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m, _ := newTestManager(t, ExecutorFunc(func(ctx context.Context, _ Job) (string, error) {
		cancel()
		<-ctx.Done()
		return "", ctx.Err()
	}))
	snap, err := m.Submit(ctx, "alice", KindVariation, Input{}, ModeInline)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if snap.State != StateFailed || snap.Error == nil || snap.Error.Kind != faults.KindInterrupted {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestRunWithEndedContextLeavesJobQueued(t *testing.T) {
	var calls atomic.Int32
	m, d := newTestManager(t, ExecutorFunc(func(context.Context, Job) (string, error) {
		calls.Add(1)
		return "out", nil
	}))
	snap, err := m.Submit(context.Background(), "alice", KindVariation, Input{}, ModeQueued)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got, err := m.Run(ctx, d.take(t))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got.State != StateQueued || calls.Load() != 0 {
		t.Fatalf("expected untouched queued job, got %+v after %d executions", got, calls.Load())
	}
	stored, err := m.Status(context.Background(), snap.JobID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if stored.State != StateQueued || stored.Sequence != 1 {
		t.Fatalf("unexpected stored snapshot %+v", stored)
	}
}

func TestSubscribeYieldsEveryTransitionAndEndsOnTerminal(t *testing.T) {
	release := make(chan struct{})
	m, d := newTestManager(t, ExecutorFunc(func(context.Context, Job) (string, error) {
		<-release
		return "out", nil
	}))
	ctx := context.Background()
	snap, err := m.Submit(ctx, "alice", KindVariation, Input{}, ModeQueued)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	seq, err := m.Subscribe(ctx, snap.JobID)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	job := d.take(t)
	go func() {
		_, _ = m.Run(ctx, job)
	}()
	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()

	var states []State
	var last uint64
	terminal := 0
	for s := range seq {
		if s.Sequence <= last {
			t.Fatalf("sequence went from %d to %d", last, s.Sequence)
		}
		last = s.Sequence
		states = append(states, s.State)
		if s.State.Terminal() {
			terminal++
		}
	}
	if terminal != 1 {
		t.Fatalf("expected exactly one terminal snapshot, got %v", states)
	}
	if states[0] != StateQueued || states[len(states)-1] != StateSucceeded {
		t.Fatalf("unexpected states %v", states)
	}
}

func TestSlowSubscriberSeesTerminalAfterRetentionExpires(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	m, d := newTestManager(t, ExecutorFunc(func(context.Context, Job) (string, error) {
		close(started)
		<-release
		return "out", nil
	}), WithWatchRetention(20*time.Millisecond))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	snap, err := m.Submit(ctx, "alice", KindVariation, Input{}, ModeQueued)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	job := d.take(t)
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		_, _ = m.Run(ctx, job)
	}()
	<-started

	seq, err := m.Subscribe(ctx, snap.JobID)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	var states []State
	for s := range seq {
		states = append(states, s.State)
		if len(states) == 1 {
			close(release)
			<-finished
			time.Sleep(100 * time.Millisecond)
		}
	}
	if len(states) != 2 || states[0] != StateRunning || states[1] != StateSucceeded {
		t.Fatalf("expected running then succeeded, got %v", states)
	}
	if ctx.Err() != nil {
		t.Fatal("subscription ended by timeout instead of a terminal snapshot")
	}
}

func TestSubscribeUnknownJob(t *testing.T) {
	m, _ := newTestManager(t, nil)
	if _, err := m.Subscribe(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSubscribeStopsWhenContextEnds(t *testing.T) {
	m, _ := newTestManager(t, nil)
	snap, err := m.Submit(context.Background(), "alice", KindVariation, Input{}, ModeQueued)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	seq, err := m.Subscribe(ctx, snap.JobID)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	count := 0
	for range seq {
		count++
	}
	if count != 1 {
		t.Fatalf("expected only the current snapshot, got %d", count)
	}
	if status, _ := m.Status(context.Background(), snap.JobID); status.State != StateQueued {
		t.Fatalf("subscription end changed the job: %+v", status)
	}
}

func TestRecoverFailsRunningAndRequeuesQueued(t *testing.T) {
	m, d := newTestManager(t, nil)
	ctx := context.Background()
	if _, err := m.store.Create(ctx, Job{ID: "stuck", Kind: KindVariation, OwnerScope: "o"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := m.store.MarkRunning(ctx, "stuck"); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}
	if _, err := m.store.Create(ctx, Job{ID: "waiting", Kind: KindBackgroundRemoval, OwnerScope: "o"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	interrupted, requeued, err := m.Recover(ctx)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if interrupted != 1 || requeued != 1 {
		t.Fatalf("interrupted=%d requeued=%d", interrupted, requeued)
	}
	stuck, err := m.Status(ctx, "stuck")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if stuck.State != StateFailed || stuck.Error == nil || stuck.Error.Kind != faults.KindInterrupted {
		t.Fatalf("unexpected recovered job %+v", stuck)
	}
	if job := d.take(t); job.ID != "waiting" {
		t.Fatalf("unexpected requeued job %+v", job)
	}
}

func TestResumeWithoutDispatcherStopsRunningOnceContextEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var ran []string
	m := NewManager(newTestStore(t), ExecutorFunc(func(_ context.Context, job Job) (string, error) {
		ran = append(ran, job.ID)
		cancel()
		return "out-" + job.ID, nil
	}), logging.NewNop())
	for _, id := range []string{"a", "b", "c"} {
		if _, err := m.store.Create(context.Background(), Job{ID: id, Kind: KindVariation, OwnerScope: "o"}); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	interrupted, pending, err := m.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if interrupted != 0 || len(pending) != 3 {
		t.Fatalf("interrupted=%d pending=%d", interrupted, len(pending))
	}
	if err := m.Resume(ctx, pending); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if len(ran) != 1 {
		t.Fatalf("expected one job to run before cancellation, ran %v", ran)
	}
	counts, err := m.Counts(context.Background())
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if counts[StateSucceeded] != 1 || counts[StateQueued] != 2 {
		t.Fatalf("unexpected counts %v", counts)
	}
}
