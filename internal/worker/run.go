package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"forest/internal/logging"
	"forest/internal/pipeline"
	"forest/internal/queue"
	"forest/internal/scanner"
)

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		// A job left in review by a previous run resumes blocking the
		// queue before any new claim.
		pending, err := w.store.NextInReview(ctx)
		if err != nil {
			w.handleStoreError(ctx, err)
			continue
		}
		if pending != nil {
			w.publishReview(pending)
			w.waitForResolution(ctx, pending.ID)
			continue
		}

		job, err := w.store.ClaimNextQueued(ctx)
		if err != nil {
			w.handleStoreError(ctx, err)
			continue
		}
		if job == nil {
			w.waitForWork(ctx)
			continue
		}

		w.runJob(ctx, job)
	}
}

func (w *Worker) runJob(ctx context.Context, job *queue.Job) {
	logger := w.logger.With(logging.String(logging.FieldJobID, job.ID))
	logger.Info("job claimed",
		logging.String(logging.FieldEventType, "job_claimed"),
		logging.String("requested_class", string(job.RequestedClass)),
	)

	// The claim already persisted the capturing transition.
	w.publisher.Publish(pipeline.Update{
		State:    pipeline.StateCapturing,
		Progress: queue.ProgressCapturing,
		Message:  "Capturing submitted frame",
		JobID:    job.ID,
	})

	job.Status = queue.StatusProcessing
	job.Progress = queue.ProgressProcessing
	job.Message = "Running extraction and background removal"
	if err := w.store.Update(ctx, job); err != nil {
		w.failJob(ctx, logger, job, fmt.Sprintf("persist processing transition: %v", err))
		return
	}
	w.publisher.Publish(pipeline.Update{
		State:    pipeline.StateProcessing,
		Progress: queue.ProgressProcessing,
		Message:  job.Message,
		JobID:    job.ID,
	})

	result, err := w.processor.Process(ctx, scanner.Request{
		InputPath: job.InputReference,
		OutputDir: w.cfg.PreviewDir(),
		TypeHint:  job.RequestedClass,
	})
	if err != nil {
		if ctx.Err() != nil {
			// Shutdown mid-scan; the job is requeued on next start.
			return
		}
		w.failJob(ctx, logger, job, fmt.Sprintf("Processing failed: %v", err))
		return
	}

	job.Status = queue.StatusReadyForReview
	job.Progress = queue.ProgressComplete
	job.DetectedClass = result.Classification
	job.PreviewReference = result.ArtifactPath
	job.Message = fmt.Sprintf("Preview ready for approval (selected type: %s)", result.Classification)
	if err := w.store.Update(ctx, job); err != nil {
		w.failJob(ctx, logger, job, fmt.Sprintf("persist review transition: %v", err))
		return
	}
	logger.Info("job ready for review",
		logging.String(logging.FieldEventType, "job_ready"),
		logging.String("detected_class", string(result.Classification)),
	)
	w.publishReview(job)
	w.waitForResolution(ctx, job.ID)
}

func (w *Worker) publishReview(job *queue.Job) {
	w.publisher.Publish(pipeline.Update{
		State:            pipeline.StateReadyForReview,
		Progress:         queue.ProgressComplete,
		Message:          job.Message,
		PreviewReference: job.PreviewReference,
		DetectedClass:    job.DetectedClass,
		JobID:            job.ID,
	})
}

// waitForResolution blocks until the job's persisted status leaves review,
// woken by the approval gate or a bounded re-check interval.
func (w *Worker) waitForResolution(ctx context.Context, jobID string) {
	ticker := time.NewTicker(w.reviewPoll)
	defer ticker.Stop()

	for {
		job, err := w.store.GetByID(ctx, jobID)
		if err != nil {
			w.handleStoreError(ctx, err)
		} else if job == nil || job.Status != queue.StatusReadyForReview {
			w.logger.Info("review resolved",
				logging.String(logging.FieldJobID, jobID),
				logging.String(logging.FieldStatus, string(statusOf(job))),
			)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-w.resolveCh:
		case <-ticker.C:
		}
	}
}

func statusOf(job *queue.Job) queue.Status {
	if job == nil {
		return ""
	}
	return job.Status
}

func (w *Worker) failJob(ctx context.Context, logger *slog.Logger, job *queue.Job, detail string) {
	job.SetFailed(detail, time.Now())
	if err := w.store.Update(ctx, job); err != nil {
		logger.Error("failed to persist job failure", logging.Error(err))
		w.setLastError(err)
	}
	logger.Error("job failed",
		logging.String(logging.FieldEventType, "job_failed"),
		logging.String("detail", detail),
	)
	w.publisher.Publish(pipeline.Update{
		State:    pipeline.StateIdle,
		Progress: queue.ProgressQueued,
		Message:  detail,
	})
}

func (w *Worker) waitForWork(ctx context.Context) {
	timer := time.NewTimer(w.queuePoll)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-w.workCh:
	case <-timer.C:
	}
}

func (w *Worker) handleStoreError(ctx context.Context, err error) {
	w.setLastError(err)
	w.logger.Error("job store access failed",
		logging.Error(err),
		logging.String(logging.FieldEventType, "store_access_failed"),
		logging.String(logging.FieldErrorHint, "check job database access"),
	)
	select {
	case <-ctx.Done():
	case <-time.After(w.errorRetry):
	}
}
