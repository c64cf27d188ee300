package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/gofrs/flock"

	"narrasync/internal/config"
	"narrasync/internal/logging"
	"narrasync/internal/projectstore"
	"narrasync/internal/timeline"
)

// Daemon serves projects over HTTP and enforces single-editor execution.
type Daemon struct {
	cfg     *config.Config
	root    *slog.Logger
	logger  *slog.Logger
	store   *projectstore.Store
	manager *timeline.Manager

	lockPath string
	lock     *flock.Flock
	api      *apiServer

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running       bool
	PID           int
	ProjectDBPath string
	LockFilePath  string
	Projects      map[string]int
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *projectstore.Store, manager *timeline.Manager, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || store == nil || manager == nil {
		return nil, errors.New("daemon requires config, store, and timeline manager")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	lockPath := cfg.LockPath()
	return &Daemon{
		cfg:      cfg,
		root:     logger,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    store,
		manager:  manager,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the editor lock and starts the API server.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another narrasync editor is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	srv, err := newAPIServer(d.cfg, d, d.root)
	if err == nil {
		err = srv.start(d.ctx)
	}
	if err != nil {
		_ = d.lock.Unlock()
		d.cancel()
		d.ctx = nil
		d.cancel = nil
		return fmt.Errorf("start api: %w", err)
	}
	d.api = srv

	d.running.Store(true)
	d.logger.Info("narrasync daemon started",
		logging.String("lock", d.lockPath),
		logging.String("address", d.Addr()),
	)
	return nil
}

// Stop shuts down the API server and releases the editor lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.api.stop()
	d.api = nil
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release editor lock", logging.Error(err))
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("narrasync daemon stopped")
}

// Close stops the daemon, cancels regeneration, and closes the store.
func (d *Daemon) Close() error {
	d.Stop()
	d.manager.Close()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Addr returns the address the API server listens on, or "" when stopped.
func (d *Daemon) Addr() string {
	if d.api == nil || d.api.listener == nil {
		return ""
	}
	return d.api.listener.Addr().String()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	counts, err := d.store.CountByStatus(ctx)
	if err != nil {
		d.logger.Warn("project status count failed", logging.Error(err))
	}
	return Status{
		Running:       d.running.Load(),
		PID:           os.Getpid(),
		ProjectDBPath: d.store.Path(),
		LockFilePath:  d.lockPath,
		Projects:      counts,
	}
}
