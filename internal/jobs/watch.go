package jobs

import (
	"context"
	"errors"
	"sync"
	"time"
)

const defaultWatchRetention = time.Minute

// errNotWatched reports that the hub holds no snapshots for a job, either
// because it was never published here or because its retention expired.
var errNotWatched = errors.New("job not watched")

// watchHub fans job transitions out to subscribers. Each job keeps the
// snapshots published since it was first seen, so a slow subscriber still
// observes every sequence.
type watchHub struct {
	mu        sync.Mutex
	cond      *sync.Cond
	jobs      map[string][]Snapshot
	retention time.Duration
}

func newWatchHub(retention time.Duration) *watchHub {
	if retention <= 0 {
		retention = defaultWatchRetention
	}
	h := &watchHub{jobs: make(map[string][]Snapshot), retention: retention}
	h.cond = sync.NewCond(&h.mu)
	return h
}

func (h *watchHub) publish(snap Snapshot) {
	h.mu.Lock()
	list := h.jobs[snap.JobID]
	if n := len(list); n > 0 && list[n-1].Sequence >= snap.Sequence {
		h.mu.Unlock()
		return
	}
	h.jobs[snap.JobID] = append(list, snap)
	h.cond.Broadcast()
	h.mu.Unlock()

	if snap.State.Terminal() {
		id := snap.JobID
		time.AfterFunc(h.retention, func() { h.forget(id) })
	}
}

func (h *watchHub) forget(id string) {
	h.mu.Lock()
	delete(h.jobs, id)
	h.mu.Unlock()
}

// next blocks until snapshots newer than after exist for id, or ctx ends.
// It returns errNotWatched when the hub has no entry for id.
func (h *watchHub) next(ctx context.Context, id string, after uint64) ([]Snapshot, error) {
	stop := context.AfterFunc(ctx, func() {
		h.mu.Lock()
		h.cond.Broadcast()
		h.mu.Unlock()
	})
	defer stop()

	h.mu.Lock()
	defer h.mu.Unlock()
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		list, ok := h.jobs[id]
		if !ok {
			return nil, errNotWatched
		}
		var out []Snapshot
		for _, snap := range list {
			if snap.Sequence > after {
				out = append(out, snap)
			}
		}
		if len(out) > 0 {
			return out, nil
		}
		h.cond.Wait()
	}
}
