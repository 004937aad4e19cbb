package approval

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"forest/internal/config"
	"forest/internal/logging"
	"forest/internal/pipeline"
	"forest/internal/queue"
)

// ArtifactRecorder persists permanent artifact records. The job store
// implements it; tests substitute failing recorders to exercise rollback.
type ArtifactRecorder interface {
	RecordArtifact(ctx context.Context, artifact *queue.Artifact) error
}

// Gate resolves jobs sitting in review. Every invocation, successful or
// not, wakes the worker's blocking wait.
type Gate struct {
	cfg       *config.Config
	store     *queue.Store
	recorder  ArtifactRecorder
	publisher *pipeline.Publisher
	wake      func()
	logger    *slog.Logger
}

// New constructs a gate. wake may be nil when no worker is attached.
func New(cfg *config.Config, store *queue.Store, recorder ArtifactRecorder, publisher *pipeline.Publisher, wake func(), logger *slog.Logger) *Gate {
	if wake == nil {
		wake = func() {}
	}
	return &Gate{
		cfg:       cfg,
		store:     store,
		recorder:  recorder,
		publisher: publisher,
		wake:      wake,
		logger:    logging.NewComponentLogger(logger, "approval"),
	}
}

// ApproveParams carries the reviewer's submission.
type ApproveParams struct {
	JobID       string
	Class       queue.Classification
	Name        string
	CreatorName string
	PhoneNumber string
}

// Approve finalizes a job in review: the preview moves to the gallery, an
// artifact record is persisted, the job becomes done, and an active entity
// is appended. If record persistence fails after the file move, the file
// is moved back and the job stays in review so the reviewer can retry
// without re-running the scan.
func (g *Gate) Approve(ctx context.Context, params ApproveParams) (*queue.Artifact, error) {
	defer g.wake()

	name, err := queue.NormalizeName("name", params.Name)
	if err != nil {
		return nil, err
	}
	creator, err := queue.NormalizeName("creator_name", params.CreatorName)
	if err != nil {
		return nil, err
	}
	phone, err := queue.NormalizePhone(params.PhoneNumber)
	if err != nil {
		return nil, err
	}
	if !queue.ValidClass(params.Class) {
		return nil, queue.NewValidationError("type must be sky, ground, or water")
	}

	job, err := g.jobInReview(ctx, params.JobID)
	if err != nil {
		return nil, err
	}

	previewPath := job.PreviewReference
	if _, err := os.Stat(previewPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, queue.NewNotFoundError("no pending preview to approve")
		}
		return nil, fmt.Errorf("stat preview: %w", err)
	}

	finalName := finalArtifactName(params.Class)
	finalPath := filepath.Join(g.cfg.Paths.GalleryDir, finalName)
	if err := os.Rename(previewPath, finalPath); err != nil {
		return nil, fmt.Errorf("move preview to gallery: %w", err)
	}

	artifact := &queue.Artifact{
		JobID:       job.ID,
		FileName:    finalName,
		URLPath:     "/gallery/" + finalName,
		Class:       params.Class,
		OwnerName:   name,
		CreatorName: creator,
		PhoneNumber: phone,
	}
	if err := g.recorder.RecordArtifact(ctx, artifact); err != nil {
		g.rollbackMove(ctx, job, finalPath, previewPath, err)
		return nil, queue.NewPersistenceError("approval record failed, preview restored for retry", err)
	}

	now := time.Now().UTC()
	job.Status = queue.StatusDone
	job.FinalArtifactName = finalName
	job.DetectedClass = params.Class
	job.Progress = queue.ProgressComplete
	job.Message = "Approved: " + finalName
	job.CompletedAt = &now
	if err := g.store.Update(ctx, job); err != nil {
		_, _ = g.store.DeleteArtifact(ctx, finalName)
		g.rollbackMove(ctx, job, finalPath, previewPath, err)
		return nil, queue.NewPersistenceError("approval persistence failed, preview restored for retry", err)
	}

	g.publisher.Publish(pipeline.Update{
		State:    pipeline.StateSyncing,
		Progress: queue.ProgressComplete,
		Message:  "Approved and syncing creature to forest",
		JobID:    job.ID,
	})
	g.publisher.AppendEntity(pipeline.Entity{
		ID:           fmt.Sprintf("ent_%d", time.Now().UnixMilli()),
		Name:         name,
		Class:        params.Class,
		ArtifactName: finalName,
		CreatedAt:    now,
	})
	g.publisher.Publish(pipeline.Update{
		State:   pipeline.StateIdle,
		Message: "Approved: " + finalName,
	})

	g.logger.Info("job approved",
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldEventType, "job_approved"),
		logging.String("artifact", finalName),
	)
	return artifact, nil
}

// DiscardParams carries an explicit reviewer rejection.
type DiscardParams struct {
	JobID  string
	Reason string
}

// Discard fails a job in review so the queue can move on. The preview is
// removed best-effort; the reviewer's reason lands in the job record.
func (g *Gate) Discard(ctx context.Context, params DiscardParams) (*queue.Job, error) {
	defer g.wake()

	job, err := g.jobInReview(ctx, params.JobID)
	if err != nil {
		return nil, err
	}

	reason := strings.TrimSpace(params.Reason)
	if reason == "" {
		reason = "Discarded by reviewer"
	} else {
		reason = "Discarded by reviewer: " + reason
	}

	job.SetFailed(reason, time.Now())
	if err := g.store.Update(ctx, job); err != nil {
		return nil, fmt.Errorf("persist discard: %w", err)
	}
	if job.PreviewReference != "" {
		_ = os.Remove(job.PreviewReference)
	}

	g.publisher.Publish(pipeline.Update{
		State:   pipeline.StateIdle,
		Message: reason,
	})
	g.logger.Info("job discarded",
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldEventType, "job_discarded"),
	)
	return job, nil
}

// SpawnParams describes a direct entity spawn without a scan job.
type SpawnParams struct {
	Class queue.Classification
	Name  string
}

// Spawn appends an active entity directly, mirroring the pipeline's
// syncing pulse so displays pick it up.
func (g *Gate) Spawn(params SpawnParams) (pipeline.Entity, error) {
	if !queue.ValidClass(params.Class) {
		return pipeline.Entity{}, queue.NewValidationError("type must be sky, ground, or water")
	}
	name, err := queue.NormalizeName("name", params.Name)
	if err != nil {
		return pipeline.Entity{}, err
	}

	g.publisher.Publish(pipeline.Update{
		State:    pipeline.StateSyncing,
		Progress: queue.ProgressComplete,
		Message:  "Syncing spawn to main display",
	})
	entity := pipeline.Entity{
		ID:        fmt.Sprintf("ent_%d", time.Now().UnixMilli()),
		Name:      name,
		Class:     params.Class,
		CreatedAt: time.Now().UTC(),
	}
	g.publisher.AppendEntity(entity)
	g.publisher.Publish(pipeline.Update{
		State:   pipeline.StateIdle,
		Message: fmt.Sprintf("Spawned %s (%s)", name, params.Class),
	})
	return entity, nil
}

// jobInReview resolves the target job: an explicit id must exist and be in
// review; otherwise the oldest job in review is used. "No job awaiting
// review" is a conflict, distinct from the missing-preview not-found case.
func (g *Gate) jobInReview(ctx context.Context, jobID string) (*queue.Job, error) {
	if jobID != "" {
		job, err := g.store.GetByID(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if job == nil {
			return nil, queue.NewNotFoundError("job %s does not exist", jobID)
		}
		if job.Status != queue.StatusReadyForReview {
			return nil, queue.NewConflictError("job %s is %s, not awaiting review", jobID, job.Status)
		}
		return job, nil
	}

	job, err := g.store.NextInReview(ctx)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, queue.NewConflictError("no job is awaiting review")
	}
	return job, nil
}

// rollbackMove restores the preview file and records the failure on the
// job without leaving review, so a retried approval can succeed.
func (g *Gate) rollbackMove(ctx context.Context, job *queue.Job, finalPath, previewPath string, cause error) {
	if err := os.Rename(finalPath, previewPath); err != nil {
		g.logger.Error("rollback file move failed",
			logging.Error(err),
			logging.String(logging.FieldJobID, job.ID),
			logging.String(logging.FieldErrorHint, "restore the preview file manually before retrying"),
		)
	}
	job.Status = queue.StatusReadyForReview
	job.ErrorDetail = fmt.Sprintf("approval failed: %v", cause)
	job.Message = "Approval failed, preview restored; retry when ready"
	if err := g.store.Update(ctx, job); err != nil {
		g.logger.Error("rollback status update failed", logging.Error(err),
			logging.String(logging.FieldJobID, job.ID))
	}
	g.logger.Warn("approval rolled back",
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldEventType, "approval_rollback"),
		logging.Error(cause),
	)
}

// finalArtifactName builds a collision-resistant permanent file name.
func finalArtifactName(class queue.Classification) string {
	suffix := strings.Split(uuid.NewString(), "-")[0]
	return fmt.Sprintf("%s_%s_%s.png", class, time.Now().UTC().Format("20060102_150405"), suffix)
}
