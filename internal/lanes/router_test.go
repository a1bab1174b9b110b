package lanes_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ivg/internal/jobs"
	"ivg/internal/lanes"
	"ivg/internal/logging"
	"ivg/internal/store"
)

// gatedRunner blocks background removal jobs until released and records the
// order jobs start in.
type gatedRunner struct {
	mu      sync.Mutex
	started []string
	gate    chan struct{}
	done    chan string
}

func newGatedRunner() *gatedRunner {
	return &gatedRunner{gate: make(chan struct{}), done: make(chan string, 64)}
}

func (g *gatedRunner) Run(ctx context.Context, job jobs.Job) (jobs.Snapshot, error) {
	g.mu.Lock()
	g.started = append(g.started, job.ID)
	g.mu.Unlock()
	if job.Kind == jobs.KindBackgroundRemoval {
		select {
		case <-g.gate:
		case <-ctx.Done():
			return jobs.Snapshot{}, nil
		}
	}
	g.done <- job.ID
	return jobs.Snapshot{JobID: job.ID, State: jobs.StateSucceeded}, nil
}

func (g *gatedRunner) startedIDs() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.started...)
}

func waitDone(t *testing.T, g *gatedRunner, id string, within time.Duration) {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case got := <-g.done:
			if got == id {
				return
			}
		case <-deadline:
			t.Fatalf("job %s did not finish within %s", id, within)
		}
	}
}

func TestLaneFor(t *testing.T) {
	assert.Equal(t, lanes.Generation, lanes.LaneFor(jobs.KindVariation))
	assert.Equal(t, lanes.BackgroundRemoval, lanes.LaneFor(jobs.KindBackgroundRemoval))
}

func TestGenerationIsNotDelayedBySaturatedBackgroundLane(t *testing.T) {
	runner := newGatedRunner()
	router := lanes.NewRouter(runner, lanes.Config{Workers: 2, Buffer: 4}, lanes.Config{Workers: 1, Buffer: 1}, logging.NewNop())
	require.NoError(t, router.Start(context.Background()))
	t.Cleanup(router.Stop)
	t.Cleanup(func() { close(runner.gate) })

	for _, id := range []string{"bg-1", "bg-2", "bg-3", "bg-4"} {
		router.Dispatch(jobs.Job{ID: id, Kind: jobs.KindBackgroundRemoval})
	}
	started := time.Now()
	router.Dispatch(jobs.Job{ID: "gen-1", Kind: jobs.KindVariation})
	assert.Less(t, time.Since(started), 50*time.Millisecond, "dispatch must not block")

	waitDone(t, runner, "gen-1", time.Second)

	require.Eventually(t, func() bool {
		for _, s := range router.Stats() {
			if s.Lane == lanes.BackgroundRemoval {
				return s.Busy == 1 && s.Depth >= 2
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestOverflowDrainsInArrivalOrder(t *testing.T) {
	runner := newGatedRunner()
	router := lanes.NewRouter(runner, lanes.Config{Workers: 1, Buffer: 1}, lanes.Config{Workers: 1, Buffer: 0}, logging.NewNop())

	ids := []string{"bg-1", "bg-2", "bg-3", "bg-4", "bg-5"}
	for _, id := range ids {
		router.Dispatch(jobs.Job{ID: id, Kind: jobs.KindBackgroundRemoval})
	}
	require.NoError(t, router.Start(context.Background()))
	t.Cleanup(router.Stop)
	close(runner.gate)

	for range ids {
		select {
		case <-runner.done:
		case <-time.After(time.Second):
			t.Fatalf("only %v finished", runner.startedIDs())
		}
	}
	assert.Equal(t, ids, runner.startedIDs())
}

func TestStartTwiceFails(t *testing.T) {
	router := lanes.NewRouter(newGatedRunner(), lanes.Config{}, lanes.Config{}, logging.NewNop())
	require.NoError(t, router.Start(context.Background()))
	defer router.Stop()
	assert.Error(t, router.Start(context.Background()))
}

func TestStatsReportsConfiguredWorkers(t *testing.T) {
	router := lanes.NewRouter(newGatedRunner(), lanes.Config{Workers: 4, Buffer: 8}, lanes.Config{Workers: 1, Buffer: 8}, logging.NewNop())
	stats := router.Stats()
	require.Len(t, stats, 2)
	assert.Equal(t, lanes.Stats{Lane: lanes.Generation, Workers: 4}, stats[0])
	assert.Equal(t, lanes.Stats{Lane: lanes.BackgroundRemoval, Workers: 1}, stats[1])
}

func TestStopLeavesBufferedJobsQueued(t *testing.T) {
	ctx := context.Background()
	db, err := store.OpenSQLite(filepath.Join(t.TempDir(), "ivg.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	jobStore, err := jobs.NewStore(ctx, db)
	require.NoError(t, err)

	started := make(chan string, 8)
	exec := jobs.ExecutorFunc(func(ctx context.Context, job jobs.Job) (string, error) {
		started <- job.ID
		<-ctx.Done()
		return "", ctx.Err()
	})
	manager := jobs.NewManager(jobStore, exec, logging.NewNop(), jobs.WithMode(jobs.ModeQueued))
	router := lanes.NewRouter(manager, lanes.Config{Workers: 1, Buffer: 8}, lanes.Config{Workers: 1, Buffer: 8}, logging.NewNop())
	manager.SetDispatcher(router)
	require.NoError(t, router.Start(ctx))

	var ids []string
	for range 6 {
		snap, err := manager.Submit(ctx, "alice", jobs.KindVariation, jobs.Input{StyleID: "ink", Prompt: "cat"}, jobs.ModeQueued)
		require.NoError(t, err)
		ids = append(ids, snap.JobID)
	}

	select {
	case id := <-started:
		require.Equal(t, ids[0], id)
	case <-time.After(2 * time.Second):
		t.Fatal("first job never started")
	}
	router.Stop()
	assert.Empty(t, started, "no buffered job may start after stop")

	first, err := manager.Status(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, jobs.StateFailed, first.State)
	for _, id := range ids[1:] {
		snap, err := manager.Status(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, jobs.StateQueued, snap.State, "job %s", id)
	}

	counts, err := manager.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, counts[jobs.StateQueued])
}
