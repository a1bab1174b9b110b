package jobs

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"ivg/internal/faults"
	"ivg/internal/logging"
)

// Executor performs the work of a running job and returns the output asset id.
type Executor interface {
	Execute(ctx context.Context, job Job) (string, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, job Job) (string, error)

func (f ExecutorFunc) Execute(ctx context.Context, job Job) (string, error) { return f(ctx, job) }

// Dispatcher accepts queued jobs for asynchronous execution. Dispatch must
// not block.
type Dispatcher interface {
	Dispatch(job Job)
}

// Option configures a Manager.
type Option func(*Manager)

// WithMode sets the execution mode used when Submit is given none.
func WithMode(mode Mode) Option {
	return func(m *Manager) {
		if mode == ModeInline || mode == ModeQueued {
			m.mode = mode
		}
	}
}

// WithIDGenerator overrides job id generation.
func WithIDGenerator(fn func() string) Option {
	return func(m *Manager) {
		if fn != nil {
			m.newID = fn
		}
	}
}

// WithFailureHook registers a callback invoked after a job is persisted as failed.
func WithFailureHook(fn func(ctx context.Context, job Job)) Option {
	return func(m *Manager) { m.onFailure = fn }
}

// WithWatchRetention sets how long terminal snapshots stay in the watch hub.
func WithWatchRetention(d time.Duration) Option {
	return func(m *Manager) { m.hub = newWatchHub(d) }
}

// Manager coordinates job creation, execution and observation.
type Manager struct {
	store      *Store
	exec       Executor
	dispatcher Dispatcher
	hub        *watchHub
	logger     *slog.Logger
	mode       Mode
	newID      func() string
	onFailure  func(ctx context.Context, job Job)
}

// NewManager builds a job manager around the given store and executor.
func NewManager(store *Store, exec Executor, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		exec:   exec,
		hub:    newWatchHub(defaultWatchRetention),
		logger: logging.NewComponentLogger(logger, "jobs"),
		mode:   ModeQueued,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetDispatcher wires the component that runs queued jobs.
func (m *Manager) SetDispatcher(d Dispatcher) {
	m.dispatcher = d
}

// Mode returns the default execution mode.
func (m *Manager) Mode() Mode {
	return m.mode
}

// Submit creates a job. In inline mode the job runs before Submit returns
// and the terminal snapshot is returned; in queued mode the job is handed to
// the dispatcher and the queued snapshot is returned.
func (m *Manager) Submit(ctx context.Context, owner string, kind Kind, input Input, mode Mode) (Snapshot, error) {
	if !kind.Valid() {
		return Snapshot{}, faults.Input(fmt.Sprintf("unknown job kind %q", kind), nil)
	}
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return Snapshot{}, faults.Input("owner scope is required", nil)
	}
	if mode == "" {
		mode = m.mode
	}
	if mode == ModeQueued && m.dispatcher == nil {
		return Snapshot{}, errors.New("queued mode requires a dispatcher")
	}

	input.Prompt = strings.TrimSpace(input.Prompt)
	input.AssetID = strings.TrimSpace(input.AssetID)
	input.StyleID = strings.TrimSpace(input.StyleID)

	job, err := m.store.Create(ctx, Job{ID: m.newID(), Kind: kind, OwnerScope: owner, Input: input})
	if err != nil {
		return Snapshot{}, faults.Storage("create job", err)
	}
	m.hub.publish(job.Snapshot())
	m.logger.Info("job submitted",
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldJobKind, string(kind)),
		logging.String(logging.FieldOwner, owner),
		logging.String("mode", string(mode)),
		logging.String(logging.FieldEventType, "job_submitted"),
	)

	if mode == ModeInline {
		return m.run(ctx, job, false)
	}
	m.dispatcher.Dispatch(job)
	return job.Snapshot(), nil
}

// Status returns the current snapshot of a job.
func (m *Manager) Status(ctx context.Context, id string) (Snapshot, error) {
	job, err := m.store.Get(ctx, id)
	if err != nil {
		return Snapshot{}, err
	}
	return job.Snapshot(), nil
}

// Subscribe returns the job's current snapshot followed by one snapshot per
// later transition. The sequence ends after the terminal snapshot, when ctx
// ends, or when the consumer stops. Unknown ids fail before iteration.
func (m *Manager) Subscribe(ctx context.Context, id string) (iter.Seq[Snapshot], error) {
	job, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	current := job.Snapshot()
	return func(yield func(Snapshot) bool) {
		if !yield(current) || current.State.Terminal() {
			return
		}
		last := current.Sequence
		for {
			pending, err := m.hub.next(ctx, id, last)
			if errors.Is(err, errNotWatched) {
				pending, err = m.storedAfter(ctx, id, last)
			}
			if err != nil {
				return
			}
			for _, snap := range pending {
				last = snap.Sequence
				if !yield(snap) || snap.State.Terminal() {
					return
				}
			}
		}
	}, nil
}

// storedAfter reads the job from the store once the hub no longer tracks
// it. A snapshot that is not newer than after is republished so later
// transitions wake the subscriber again.
func (m *Manager) storedAfter(ctx context.Context, id string, after uint64) ([]Snapshot, error) {
	job, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	snap := job.Snapshot()
	if snap.Sequence > after {
		return []Snapshot{snap}, nil
	}
	m.hub.publish(snap)
	return nil, nil
}

// Run executes a queued job to a terminal state and returns its final
// snapshot. Execution errors are recorded on the job; the returned error is
// only set when the job could not be moved through its lifecycle. A job whose
// ctx ended before it started stays queued for the next Recover.
func (m *Manager) Run(ctx context.Context, job Job) (Snapshot, error) {
	return m.run(ctx, job, true)
}

func (m *Manager) run(ctx context.Context, job Job, keepQueued bool) (Snapshot, error) {
	persistCtx := context.WithoutCancel(ctx)
	logger := m.logger.With(
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldJobKind, string(job.Kind)),
	)

	if err := ctx.Err(); err != nil {
		if keepQueued {
			logger.Info("job left queued; context ended before start", logging.Error(err))
			return job.Snapshot(), nil
		}
		return m.fail(persistCtx, logger, job.ID, faults.New(faults.KindInterrupted, "job cancelled before start", err))
	}

	running, err := m.store.MarkRunning(persistCtx, job.ID)
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			logger.Warn("job is no longer queued; skipping", logging.Error(err))
			return m.Status(persistCtx, job.ID)
		}
		logger.Error("failed to mark job running", logging.Error(err),
			logging.String(logging.FieldEventType, "job_persist_failed"))
		return m.fail(persistCtx, logger, job.ID, faults.Storage("mark job running", err))
	}
	m.hub.publish(running.Snapshot())
	logger.Info("job started", logging.String(logging.FieldEventType, "job_started"))

	started := time.Now()
	outputRef, execErr := m.execute(ctx, logger, running)
	if execErr != nil {
		return m.fail(persistCtx, logger, job.ID, execErr)
	}

	done, err := m.store.Complete(persistCtx, job.ID, outputRef)
	if err != nil {
		logger.Error("failed to record job success", logging.Error(err),
			logging.String(logging.FieldEventType, "job_persist_failed"),
			logging.String(logging.FieldErrorHint, "check database access"))
		return m.fail(persistCtx, logger, job.ID, faults.Storage("record job success", err))
	}
	m.hub.publish(done.Snapshot())
	logger.Info("job succeeded",
		logging.String("output_ref", outputRef),
		logging.Duration("elapsed", time.Since(started)),
		logging.String(logging.FieldEventType, "job_succeeded"),
	)
	return done.Snapshot(), nil
}

func (m *Manager) execute(ctx context.Context, logger *slog.Logger, job Job) (ref string, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("job executor panicked",
				logging.Any("panic", r),
				logging.String("stack", string(debug.Stack())),
				logging.String(logging.FieldEventType, "job_panic"),
			)
			ref = ""
			err = faults.New(faults.KindInternal, fmt.Sprintf("panic: %v", r), nil)
		}
	}()
	if m.exec == nil {
		return "", faults.New(faults.KindInternal, "no executor configured", nil)
	}
	ref, err = m.exec.Execute(ctx, job)
	if err == nil && strings.TrimSpace(ref) == "" {
		err = faults.New(faults.KindInternal, "executor returned no output", nil)
	}
	return ref, err
}

// fail records cause on the job. A job that already reached a terminal state
// is left untouched.
func (m *Manager) fail(ctx context.Context, logger *slog.Logger, id string, cause error) (Snapshot, error) {
	detail := faults.DetailOf(cause)
	failed, err := m.store.Fail(ctx, id, detail)
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			return m.Status(ctx, id)
		}
		logger.Error("failed to record job failure",
			logging.Error(err),
			logging.String(logging.FieldErrorKind, string(detail.Kind)),
			logging.String(logging.FieldEventType, "job_persist_failed"),
			logging.String(logging.FieldErrorHint, "check database access"),
		)
		if detail.Kind == faults.KindStorage {
			return Snapshot{}, err
		}
		failed, err = m.store.Fail(ctx, id, faults.DetailOf(faults.Storage("record job failure", err)))
		if err != nil {
			return Snapshot{}, err
		}
	}
	m.hub.publish(failed.Snapshot())

	logger.Warn("job failed",
		logging.String(logging.FieldErrorKind, string(detail.Kind)),
		logging.String("error_message", detail.Message),
		logging.String(logging.FieldEventType, "job_failed"),
	)
	if m.onFailure != nil {
		m.onFailure(ctx, failed)
	}
	return failed.Snapshot(), nil
}

// Recover reconciles jobs left behind by a previous process: running jobs
// become failed as interrupted and queued jobs are dispatched again, or run
// in place when no dispatcher is set.
func (m *Manager) Recover(ctx context.Context) (interrupted, requeued int, err error) {
	interrupted, pending, err := m.Reconcile(ctx)
	if err != nil {
		return interrupted, 0, err
	}
	if err := m.Resume(ctx, pending); err != nil {
		return interrupted, 0, err
	}
	return interrupted, len(pending), nil
}

// Reconcile fails jobs a previous process left running and returns the
// queued jobs it left behind, oldest first, for Resume.
func (m *Manager) Reconcile(ctx context.Context) (interrupted int, pending []Job, err error) {
	running, err := m.store.ListByState(ctx, StateRunning)
	if err != nil {
		return 0, nil, err
	}
	for _, job := range running {
		failed, ferr := m.store.Fail(ctx, job.ID, ErrorDetail{
			Kind:    faults.KindInterrupted,
			Message: "job interrupted by daemon restart",
		})
		if ferr != nil {
			if errors.Is(ferr, ErrInvalidTransition) {
				continue
			}
			return interrupted, nil, ferr
		}
		m.hub.publish(failed.Snapshot())
		interrupted++
	}

	pending, err = m.store.ListByState(ctx, StateQueued)
	if err != nil {
		return interrupted, nil, err
	}
	for _, job := range pending {
		m.hub.publish(job.Snapshot())
	}

	if interrupted > 0 || len(pending) > 0 {
		m.logger.Info("recovered jobs from previous run",
			logging.Int("interrupted", interrupted),
			logging.Int("requeued", len(pending)),
			logging.String(logging.FieldEventType, "jobs_recovered"),
		)
	}
	return interrupted, pending, nil
}

// Resume dispatches jobs returned by Reconcile, or runs them one by one when
// no dispatcher is set. Once ctx ends the remaining jobs stay queued.
func (m *Manager) Resume(ctx context.Context, pending []Job) error {
	for _, job := range pending {
		if m.dispatcher != nil {
			m.dispatcher.Dispatch(job)
			continue
		}
		if _, err := m.Run(ctx, job); err != nil {
			return err
		}
	}
	return nil
}

// Counts returns the number of jobs in each state.
func (m *Manager) Counts(ctx context.Context) (map[State]int, error) {
	return m.store.CountByState(ctx)
}
