package lanes

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"ivg/internal/jobs"
	"ivg/internal/logging"
)

// Name identifies a lane.
type Name string

const (
	Generation        Name = "generation"
	BackgroundRemoval Name = "background_removal"
)

// LaneFor returns the lane that executes jobs of kind.
func LaneFor(kind jobs.Kind) Name {
	if kind == jobs.KindBackgroundRemoval {
		return BackgroundRemoval
	}
	return Generation
}

// Runner executes one job to completion. *jobs.Manager satisfies it.
type Runner interface {
	Run(ctx context.Context, job jobs.Job) (jobs.Snapshot, error)
}

// Config sizes one lane.
type Config struct {
	Workers int
	Buffer  int
}

// Stats describes a lane for status reporting.
type Stats struct {
	Lane    Name `json:"lane"`
	Workers int  `json:"workers"`
	Busy    int  `json:"busy"`
	Depth   int  `json:"depth"`
}

type lane struct {
	name    Name
	workers int
	ch      chan jobs.Job
	wake    chan struct{}
	busy    atomic.Int32
	logger  *slog.Logger

	mu       sync.Mutex
	overflow []jobs.Job
}

// Router holds one bounded queue and worker pool per lane.
type Router struct {
	runner Runner
	logger *slog.Logger
	lanes  map[Name]*lane
	order  []Name

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewRouter builds a router with the generation and background removal lanes.
func NewRouter(runner Runner, generation, background Config, logger *slog.Logger) *Router {
	logger = logging.NewComponentLogger(logger, "lanes")
	r := &Router{
		runner: runner,
		logger: logger,
		lanes:  make(map[Name]*lane, 2),
		order:  []Name{Generation, BackgroundRemoval},
	}
	r.lanes[Generation] = newLane(Generation, generation, logger)
	r.lanes[BackgroundRemoval] = newLane(BackgroundRemoval, background, logger)
	return r
}

func newLane(name Name, cfg Config, logger *slog.Logger) *lane {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Buffer < 0 {
		cfg.Buffer = 0
	}
	return &lane{
		name:    name,
		workers: cfg.Workers,
		ch:      make(chan jobs.Job, cfg.Buffer),
		wake:    make(chan struct{}, 1),
		logger:  logger.With(logging.String(logging.FieldLane, string(name))),
	}
}

// Dispatch enqueues job on its lane without blocking. Jobs that do not fit
// the lane buffer wait in an overflow list in arrival order.
func (r *Router) Dispatch(job jobs.Job) {
	l := r.lanes[LaneFor(job.Kind)]
	l.mu.Lock()
	if len(l.overflow) == 0 {
		select {
		case l.ch <- job:
			l.mu.Unlock()
			return
		default:
		}
	}
	l.overflow = append(l.overflow, job)
	depth := len(l.overflow)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	l.logger.Debug("lane buffer full; job parked",
		logging.String(logging.FieldJobID, job.ID),
		logging.Int("overflow", depth),
	)
}

// Start launches the feeders and workers of every lane.
func (r *Router) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return errors.New("lanes already running")
	}
	if r.runner == nil {
		r.mu.Unlock()
		return errors.New("lanes have no runner")
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true
	for _, name := range r.order {
		l := r.lanes[name]
		r.wg.Add(l.workers + 1)
		go r.feed(runCtx, l)
		for i := 0; i < l.workers; i++ {
			go r.work(runCtx, l)
		}
		l.logger.Info("lane started", logging.Int("workers", l.workers), logging.Int("buffer", cap(l.ch)))
	}
	r.mu.Unlock()
	return nil
}

// Stop cancels running jobs and waits for every goroutine to exit. Jobs
// still buffered stay queued in the store and are picked up by the next
// process.
func (r *Router) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	cancel := r.cancel
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	cancel()
	r.wg.Wait()
}

// feed moves parked jobs into the lane buffer as room frees up.
func (r *Router) feed(ctx context.Context, l *lane) {
	defer r.wg.Done()
	for {
		l.mu.Lock()
		if len(l.overflow) == 0 {
			l.mu.Unlock()
			select {
			case <-ctx.Done():
				return
			case <-l.wake:
			}
			continue
		}
		job := l.overflow[0]
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case l.ch <- job:
			l.mu.Lock()
			l.overflow = l.overflow[1:]
			l.mu.Unlock()
		}
	}
}

func (r *Router) work(ctx context.Context, l *lane) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-l.ch:
			if ctx.Err() != nil {
				// Stopped while this job was buffered; it stays queued in the store.
				return
			}
			l.busy.Add(1)
			if _, err := r.runner.Run(ctx, job); err != nil {
				l.logger.Error("job run failed",
					logging.String(logging.FieldJobID, job.ID),
					logging.Error(err),
					logging.String(logging.FieldEventType, "lane_run_failed"),
					logging.String(logging.FieldErrorHint, "check database access"),
				)
			}
			l.busy.Add(-1)
		}
	}
}

// Stats reports depth and busy workers per lane.
func (r *Router) Stats() []Stats {
	out := make([]Stats, 0, len(r.order))
	for _, name := range r.order {
		l := r.lanes[name]
		l.mu.Lock()
		depth := len(l.ch) + len(l.overflow)
		l.mu.Unlock()
		out = append(out, Stats{
			Lane:    name,
			Workers: l.workers,
			Busy:    int(l.busy.Load()),
			Depth:   depth,
		})
	}
	return out
}
