package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"forest/internal/config"
	"forest/internal/logging"
	"forest/internal/pipeline"
	"forest/internal/queue"
	"forest/internal/scanner"
)

// Worker is the single background consumer of the job queue.
type Worker struct {
	cfg       *config.Config
	store     *queue.Store
	publisher *pipeline.Publisher
	processor scanner.Processor
	logger    *slog.Logger

	queuePoll  time.Duration
	reviewPoll time.Duration
	errorRetry time.Duration

	// Buffered wake signals; the bounded polls above are the safety net
	// against a missed send, not the primary mechanism.
	workCh    chan struct{}
	resolveCh chan struct{}

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lastErr error
}

// New constructs a worker. The processor is the external scan collaborator.
func New(cfg *config.Config, store *queue.Store, publisher *pipeline.Publisher, processor scanner.Processor, logger *slog.Logger) *Worker {
	return &Worker{
		cfg:        cfg,
		store:      store,
		publisher:  publisher,
		processor:  processor,
		logger:     logging.NewComponentLogger(logger, "worker"),
		queuePoll:  time.Duration(cfg.Workflow.QueuePollInterval) * time.Second,
		reviewPoll: time.Duration(cfg.Workflow.ReviewPollInterval) * time.Second,
		errorRetry: time.Duration(cfg.Workflow.ErrorRetryInterval) * time.Second,
		workCh:     make(chan struct{}, 1),
		resolveCh:  make(chan struct{}, 1),
	}
}

// Start reconciles jobs interrupted by the previous run and begins the
// consumer loop.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return errors.New("worker already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.running = true
	w.wg.Add(1)
	w.mu.Unlock()

	requeued, err := w.store.ResetInterrupted(runCtx)
	if err != nil {
		w.logger.Warn("startup reconciliation failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check job database access"),
		)
	} else if requeued > 0 {
		w.logger.Info("requeued interrupted jobs", logging.Int64("count", requeued))
	}

	go w.run(runCtx)
	return nil
}

// Stop terminates the consumer loop and waits for it to exit.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	cancel := w.cancel
	w.running = false
	w.cancel = nil
	w.mu.Unlock()

	cancel()
	w.wg.Wait()
}

// NotifyWork wakes the loop after a submission enqueues a job.
func (w *Worker) NotifyWork() {
	select {
	case w.workCh <- struct{}{}:
	default:
	}
}

// NotifyResolved wakes the loop after any approval gate invocation.
func (w *Worker) NotifyResolved() {
	select {
	case w.resolveCh <- struct{}{}:
	default:
	}
}

// Status reports lightweight worker diagnostics.
type Status struct {
	Running   bool
	LastError string
}

// CurrentStatus returns the latest worker information.
func (w *Worker) CurrentStatus() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	status := Status{Running: w.running}
	if w.lastErr != nil {
		status.LastError = w.lastErr.Error()
	}
	return status
}

func (w *Worker) setLastError(err error) {
	w.mu.Lock()
	w.lastErr = err
	w.mu.Unlock()
}
