package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/gofrs/flock"

	"forest/internal/approval"
	"forest/internal/config"
	"forest/internal/logging"
	"forest/internal/pipeline"
	"forest/internal/queue"
	"forest/internal/worker"
)

// Daemon owns the long-running subsystems of forestd.
type Daemon struct {
	cfg       *config.Config
	store     *queue.Store
	publisher *pipeline.Publisher
	worker    *worker.Worker
	gate      *approval.Gate
	logger    *slog.Logger

	lock *flock.Flock
	api  *apiServer
}

// New assembles a daemon from its subsystems.
func New(cfg *config.Config, store *queue.Store, publisher *pipeline.Publisher, wk *worker.Worker, gate *approval.Gate, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || store == nil || publisher == nil || wk == nil || gate == nil {
		return nil, errors.New("daemon requires config, store, publisher, worker, and gate")
	}
	d := &Daemon{
		cfg:       cfg,
		store:     store,
		publisher: publisher,
		worker:    wk,
		gate:      gate,
		logger:    logging.NewComponentLogger(logger, "daemon"),
		lock:      flock.New(filepath.Join(cfg.Paths.LogDir, "forestd.lock")),
	}
	api, err := newAPIServer(cfg, d, logger)
	if err != nil {
		return nil, err
	}
	d.api = api
	return d, nil
}

// Start acquires the instance lock and brings up the worker and API.
func (d *Daemon) Start(ctx context.Context) error {
	locked, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire instance lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another forestd instance holds %s", d.lock.Path())
	}

	if err := d.worker.Start(ctx); err != nil {
		_ = d.lock.Unlock()
		return err
	}
	if d.api != nil {
		if err := d.api.start(ctx); err != nil {
			d.worker.Stop()
			_ = d.lock.Unlock()
			return err
		}
	}
	d.logger.Info("daemon started",
		logging.String("db_path", d.store.Path()),
		logging.String("api_bind", d.cfg.Paths.APIBind),
	)
	return nil
}

// Stop shuts down the API and worker and releases the instance lock.
func (d *Daemon) Stop() {
	if d.api != nil {
		d.api.stop()
	}
	d.worker.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("release instance lock", logging.Error(err))
	}
	d.logger.Info("daemon stopped")
}
