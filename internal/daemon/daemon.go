package daemon

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"ivg/internal/api"
	"ivg/internal/config"
	"ivg/internal/gateway"
	"ivg/internal/jobs"
	"ivg/internal/lanes"
	"ivg/internal/logging"
	"ivg/internal/notifications"
	"ivg/internal/pipeline"
	"ivg/internal/preflight"
	"ivg/internal/providers"
	"ivg/internal/store"
	"ivg/internal/store/pgstore"
)

// Options supplies collaborators that are normally built from config.
type Options struct {
	// Logs backs the /api/logs endpoint.
	Logs *logging.StreamHub
	// Provider replaces the provider named in config.
	Provider gateway.Provider
	// Notifier replaces the ntfy service built from config.
	Notifier notifications.Service
}

// Daemon owns the job runtime and the HTTP API for one data directory.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger
	logs   *logging.StreamHub

	lockPath string
	lock     *flock.Flock

	db       *sql.DB
	catalog  store.Backend
	gateway  *gateway.Gateway
	manager  *jobs.Manager
	router   *lanes.Router
	notifier notifications.Service
	api      *apiServer
	mode     jobs.Mode

	mu        sync.Mutex
	running   bool
	recovery  sync.WaitGroup
	cancel    context.CancelFunc
	startedAt time.Time
	checks    []preflight.Result
}

// New opens storage and wires the job runtime. Nothing runs until Start.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires config")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		logs:     opts.Logs,
		lockPath: cfg.LockPath(),
		lock:     flock.New(cfg.LockPath()),
		mode:     jobs.Mode(cfg.Jobs.Mode),
		notifier: opts.Notifier,
	}
	if d.notifier == nil {
		d.notifier = notifications.NewService(cfg)
	}

	db, err := store.OpenSQLite(cfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("open job database: %w", err)
	}
	d.db = db

	if err := d.wire(ctx, logger, opts.Provider); err != nil {
		_ = d.Close()
		return nil, err
	}
	return d, nil
}

func (d *Daemon) wire(ctx context.Context, logger *slog.Logger, provider gateway.Provider) error {
	storeOpts := store.Options{
		HistoryMax:    d.cfg.History.MaxEntries,
		RulesMaxChars: d.cfg.Styles.RulesMaxChars,
	}
	switch d.cfg.Storage.Driver {
	case config.StoragePostgres:
		pg, err := pgstore.Open(ctx, d.cfg.Storage.DSN, storeOpts)
		if err != nil {
			return fmt.Errorf("open postgres catalog: %w", err)
		}
		d.catalog = pg
	default:
		catalog, err := store.New(ctx, d.db, storeOpts)
		if err != nil {
			return fmt.Errorf("open catalog store: %w", err)
		}
		d.catalog = catalog
	}

	jobStore, err := jobs.NewStore(ctx, d.db)
	if err != nil {
		return fmt.Errorf("open job store: %w", err)
	}

	if provider == nil {
		provider, err = providers.Build(ctx, d.cfg, logger)
		if err != nil {
			return fmt.Errorf("build provider: %w", err)
		}
	}
	d.gateway = providers.NewGateway(d.cfg, provider, logger, d.onBreakerChange)

	engine := pipeline.New(
		d.catalog.Assets(),
		d.catalog.Styles(),
		d.catalog.History(),
		d.gateway,
		pipeline.SettingsFromConfig(d.cfg),
		logger,
	)
	d.manager = jobs.NewManager(jobStore, engine, logger,
		jobs.WithMode(d.mode),
		jobs.WithFailureHook(d.onJobFailed),
	)
	d.router = lanes.NewRouter(d.manager,
		lanes.Config{Workers: d.cfg.Lanes.Generation.Workers, Buffer: d.cfg.Lanes.Generation.Buffer},
		lanes.Config{Workers: d.cfg.Lanes.BackgroundRemoval.Workers, Buffer: d.cfg.Lanes.BackgroundRemoval.Buffer},
		logger,
	)
	if d.mode == jobs.ModeQueued {
		d.manager.SetDispatcher(d.router)
	}

	handler := api.NewServer(api.Deps{
		Jobs:              d.manager,
		Mode:              d.mode,
		Assets:            d.catalog.Assets(),
		Styles:            d.catalog.Styles(),
		History:           d.catalog.History(),
		Logs:              d.logs,
		Status:            d.Status,
		Token:             d.cfg.API.Token,
		MaxUploadBytes:    d.cfg.MaxUploadBytes(),
		AllowedExtensions: d.cfg.Storage.AllowedExtensions,
		StreamIdleTimeout: d.cfg.StreamIdleTimeout(),
		Logger:            logger,
	})
	d.api = newAPIServer(d.cfg.API.Bind, handler, logging.NewComponentLogger(logger, "api"))
	return nil
}

// Start acquires the daemon lock, runs preflight checks, reconciles jobs
// from a previous run and starts the lanes and the API server.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("another ivg daemon is already using %s", d.cfg.Paths.DataDir)
	}

	d.checks = preflight.RunAll(ctx, d.cfg)
	for _, check := range d.checks {
		if !check.Passed {
			logging.WarnWithContext(d.logger, "preflight check failed", "preflight_failed",
				logging.String("check", check.Name),
				logging.String("detail", check.Detail),
				logging.Bool("required", check.Required),
			)
		}
	}
	if failed, found := preflight.FirstRequiredFailure(d.checks); found {
		_ = d.lock.Unlock()
		return fmt.Errorf("preflight %s: %s", failed.Name, failed.Detail)
	}

	runCtx, cancel := context.WithCancel(ctx)
	if d.mode == jobs.ModeQueued {
		if err := d.router.Start(runCtx); err != nil {
			cancel()
			_ = d.lock.Unlock()
			return fmt.Errorf("start lanes: %w", err)
		}
	}

	_, pending, err := d.manager.Reconcile(runCtx)
	if err != nil {
		d.logger.Warn("job recovery failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "job_recovery_failed"),
			logging.String(logging.FieldErrorHint, "check database access"),
			logging.String(logging.FieldImpact, "jobs from the previous run keep their old state"),
		)
	}

	if err := d.api.start(runCtx); err != nil {
		cancel()
		d.router.Stop()
		_ = d.lock.Unlock()
		return err
	}

	d.cancel = cancel
	d.running = true
	if len(pending) > 0 {
		d.recovery.Add(1)
		go d.resume(runCtx, pending)
	}
	d.startedAt = time.Now().UTC()
	d.logger.Info("ivg daemon started",
		logging.String("lock", d.lockPath),
		logging.String("mode", string(d.mode)),
		logging.String(logging.FieldProvider, d.gateway.ProviderName()),
		logging.String("storage", d.cfg.Storage.Driver),
		logging.String(logging.FieldEventType, "daemon_started"),
	)
	return nil
}

// resume hands queued jobs from the previous run back to the manager. In
// inline mode they run here, one at a time, while the API already serves.
func (d *Daemon) resume(ctx context.Context, pending []jobs.Job) {
	defer d.recovery.Done()
	if err := d.manager.Resume(ctx, pending); err != nil {
		d.logger.Warn("resuming recovered jobs failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "job_recovery_failed"),
			logging.String(logging.FieldErrorHint, "check database access"),
			logging.String(logging.FieldImpact, "remaining jobs stay queued until the next start"),
		)
	}
}

// Stop stops the API server and the lanes and releases the daemon lock.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return
	}
	d.api.stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.recovery.Wait()
	d.router.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running = false
	d.logger.Info("ivg daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close stops the daemon and closes storage.
func (d *Daemon) Close() error {
	d.Stop()
	var errs []error
	if d.catalog != nil {
		errs = append(errs, d.catalog.Close())
	}
	if d.db != nil {
		errs = append(errs, d.db.Close())
	}
	return errors.Join(errs...)
}

// Addr returns the address the API server listens on, or "" when it is not
// running.
func (d *Daemon) Addr() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return ""
	}
	return d.api.addr()
}

// Manager exposes the job manager.
func (d *Daemon) Manager() *jobs.Manager {
	return d.manager
}

// Status builds the runtime summary served at /api/status.
func (d *Daemon) Status(ctx context.Context) (api.StatusResponse, error) {
	counts, err := d.manager.Counts(ctx)
	if err != nil {
		return api.StatusResponse{}, fmt.Errorf("count jobs: %w", err)
	}
	d.mu.Lock()
	startedAt := d.startedAt
	checks := append([]preflight.Result(nil), d.checks...)
	d.mu.Unlock()

	return api.StatusResponse{
		PID:          os.Getpid(),
		StartedAt:    startedAt,
		Mode:         d.mode,
		Provider:     d.gateway.ProviderName(),
		BreakerState: string(d.gateway.State()),
		Lanes:        d.router.Stats(),
		Jobs:         counts,
		Storage:      d.cfg.Storage.Driver,
		Checks:       checks,
	}, nil
}

// onBreakerChange runs inside the gateway's state transition, so alerts are
// sent from their own goroutine.
func (d *Daemon) onBreakerChange(provider string, from, to gateway.State) {
	cooldown := d.cfg.BreakerCooldown()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		var err error
		switch {
		case to == gateway.StateOpen:
			err = d.notifier.NotifyBreakerOpened(ctx, provider, cooldown)
		case to == gateway.StateClosed && from != gateway.StateClosed:
			err = d.notifier.NotifyBreakerClosed(ctx, provider)
		}
		if err != nil {
			d.logger.Warn("breaker notification failed",
				logging.Error(err),
				logging.String(logging.FieldProvider, provider),
				logging.String(logging.FieldEventType, "notification_failed"),
			)
		}
	}()
}

func (d *Daemon) onJobFailed(ctx context.Context, job jobs.Job) {
	if job.Error == nil {
		return
	}
	detail := *job.Error
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := d.notifier.NotifyJobFailed(ctx, job.ID, string(job.Kind), detail); err != nil {
			d.logger.Warn("job failure notification failed",
				logging.Error(err),
				logging.String(logging.FieldJobID, job.ID),
				logging.String(logging.FieldEventType, "notification_failed"),
			)
		}
	}()
}
