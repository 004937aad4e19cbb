package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"forest/internal/config"
)

// Store manages job and artifact persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// Open initializes or connects to the job database.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := filepath.Join(cfg.Paths.LogDir, "jobs.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the on-disk location of the database file.
func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// NewScanParams describes a submission accepted by NewScan.
type NewScanParams struct {
	InputReference string
	OwnerName      string
	CreatorName    string
	PhoneNumber    string
	RequestedClass Classification
}

// NewScan validates the submission and inserts a queued job.
func (s *Store) NewScan(ctx context.Context, params NewScanParams) (*Job, error) {
	owner, err := NormalizeName("owner_name", params.OwnerName)
	if err != nil {
		return nil, err
	}
	creator, err := NormalizeName("creator_name", params.CreatorName)
	if err != nil {
		return nil, err
	}
	phone, err := NormalizePhone(params.PhoneNumber)
	if err != nil {
		return nil, err
	}
	if params.RequestedClass != "" && !ValidClass(params.RequestedClass) {
		return nil, NewValidationError("type must be sky, ground, or water")
	}
	if strings.TrimSpace(params.InputReference) == "" {
		return nil, NewValidationError("input reference is required")
	}

	id := uuid.NewString()
	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)

	err = s.execWithoutResultRetry(
		ctx,
		`INSERT INTO jobs (
            id, status, requested_class, progress, message, input_reference,
            owner_name, creator_name, phone_number, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id,
		StatusQueued,
		nullableString(string(params.RequestedClass)),
		ProgressQueued,
		"Waiting in queue",
		params.InputReference,
		owner,
		creator,
		phone,
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return s.GetByID(ctx, id)
}

// GetByID fetches a job by identifier. Returns nil when the id is unknown.
func (s *Store) GetByID(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// Update persists changes to an existing job.
func (s *Store) Update(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	job.UpdatedAt = time.Now().UTC()
	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs
         SET status = ?, requested_class = ?, detected_class = ?, progress = ?,
             message = ?, preview_reference = ?, final_artifact_name = ?,
             error_detail = ?, started_at = ?, completed_at = ?, updated_at = ?
         WHERE id = ?`,
		job.Status,
		nullableString(string(job.RequestedClass)),
		nullableString(string(job.DetectedClass)),
		job.Progress,
		nullableString(job.Message),
		nullableString(job.PreviewReference),
		nullableString(job.FinalArtifactName),
		nullableString(job.ErrorDetail),
		nullableTime(job.StartedAt),
		nullableTime(job.CompletedAt),
		job.UpdatedAt.Format(time.RFC3339Nano),
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return NewNotFoundError("job %s does not exist", job.ID)
	}
	return nil
}

// ClaimNextQueued atomically selects the oldest queued job, transitions it
// to capturing, and stamps started_at if unset. The transition is a single
// conditional update, so concurrent claimants receive a given job at most
// once; losers observe nil and may retry.
func (s *Store) ClaimNextQueued(ctx context.Context) (*Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var id string
	row := tx.QueryRowContext(
		ctx,
		`SELECT id FROM jobs WHERE status = ? ORDER BY created_at, id LIMIT 1`,
		StatusQueued,
	)
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select next queued: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := tx.ExecContext(
		ctx,
		`UPDATE jobs
         SET status = ?, progress = ?, message = ?,
             started_at = COALESCE(started_at, ?), updated_at = ?
         WHERE id = ? AND status = ?`,
		StatusCapturing,
		ProgressCapturing,
		"Capturing submitted frame",
		now,
		now,
		id,
		StatusQueued,
	)
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		// Another claimant won the conditional update.
		return nil, nil
	}

	jobRow := tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(jobRow)
	if err != nil {
		return nil, fmt.Errorf("load claimed job: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	return job, nil
}

// ListActive returns jobs still occupying the queue, oldest first.
func (s *Store) ListActive(ctx context.Context) ([]*Job, error) {
	return s.List(ctx, ActiveStatuses...)
}

// List returns jobs filtered by status set (or all jobs when no status is
// provided), ordered by creation time.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Job, error) {
	var (
		rows *sql.Rows
		err  error
	)
	baseQuery := `SELECT ` + jobColumns + ` FROM jobs`
	orderClause := ` ORDER BY created_at, id`

	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		rows, err = s.db.QueryContext(ctx, baseQuery+` WHERE status IN (`+placeholders+`)`+orderClause, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// NextInReview returns the oldest job awaiting review, or nil.
func (s *Store) NextInReview(ctx context.Context) (*Job, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status = ? ORDER BY created_at, id LIMIT 1`,
		StatusReadyForReview,
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next in review: %w", err)
	}
	return job, nil
}

// CountByStatus returns the number of jobs in the given status.
func (s *Store) CountByStatus(ctx context.Context, status Status) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM jobs WHERE status = ?`, status).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count by status: %w", err)
	}
	return count, nil
}

// Stats returns a count of jobs grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Summary aggregates queue counts for status payloads.
func (s *Store) Summary(ctx context.Context) (QueueSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return QueueSummary{}, err
	}
	summary := QueueSummary{}
	for status, count := range stats {
		summary.Total += count
		switch status {
		case StatusQueued:
			summary.Queued += count
		case StatusCapturing, StatusProcessing:
			summary.Active += count
		case StatusReadyForReview:
			summary.InReview += count
		case StatusDone:
			summary.Done += count
		case StatusFailed:
			summary.Failed += count
		}
	}
	return summary, nil
}

// QueuePosition computes the 1-based place of a job in the worker's line,
// in persisted order. A job parked in review still occupies the queue and
// counts toward the total, but it is no longer waiting for the worker, so
// it is skipped when numbering the line. Position is 0 when the job is not
// active or is itself in review. The first return value is the total
// number of active jobs.
func (s *Store) QueuePosition(ctx context.Context, id string) (int, int, error) {
	active, err := s.ListActive(ctx)
	if err != nil {
		return 0, 0, err
	}
	position := 0
	rank := 0
	for _, job := range active {
		if job.Status == StatusReadyForReview {
			continue
		}
		rank++
		if job.ID == id {
			position = rank
			break
		}
	}
	return len(active), position, nil
}

// ResetInterrupted returns jobs left in capturing or processing by an
// unclean shutdown back to queued so the worker reprocesses them. Jobs in
// review keep their status; the worker resumes blocking on them.
func (s *Store) ResetInterrupted(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs
         SET status = ?, progress = ?, message = 'Requeued after restart', updated_at = ?
         WHERE status IN (?, ?)`,
		StatusQueued,
		ProgressQueued,
		time.Now().UTC().Format(time.RFC3339Nano),
		StatusCapturing,
		StatusProcessing,
	)
	if err != nil {
		return 0, fmt.Errorf("reset interrupted jobs: %w", err)
	}
	return res.RowsAffected()
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx = ensureContext(ctx)
	var (
		res     sql.Result
		execErr error
	)
	if err := retryOnBusy(ctx, func() error {
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Store) execWithoutResultRetry(ctx context.Context, query string, args ...any) error {
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
}

const jobColumns = "id, status, requested_class, detected_class, progress, message, preview_reference, final_artifact_name, error_detail, input_reference, owner_name, creator_name, phone_number, created_at, started_at, completed_at, updated_at"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id             string
		statusStr      string
		requestedClass sql.NullString
		detectedClass  sql.NullString
		progress       int
		message        sql.NullString
		preview        sql.NullString
		finalName      sql.NullString
		errorDetail    sql.NullString
		inputRef       string
		ownerName      string
		creatorName    string
		phoneNumber    string
		createdRaw     string
		startedRaw     sql.NullString
		completedRaw   sql.NullString
		updatedRaw     string
	)

	if err := scanner.Scan(
		&id,
		&statusStr,
		&requestedClass,
		&detectedClass,
		&progress,
		&message,
		&preview,
		&finalName,
		&errorDetail,
		&inputRef,
		&ownerName,
		&creatorName,
		&phoneNumber,
		&createdRaw,
		&startedRaw,
		&completedRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	job := &Job{
		ID:                id,
		Status:            Status(statusStr),
		RequestedClass:    Classification(requestedClass.String),
		DetectedClass:     Classification(detectedClass.String),
		Progress:          progress,
		Message:           message.String,
		PreviewReference:  preview.String,
		FinalArtifactName: finalName.String,
		ErrorDetail:       errorDetail.String,
		InputReference:    inputRef,
		OwnerName:         ownerName,
		CreatorName:       creatorName,
		PhoneNumber:       phoneNumber,
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		job.UpdatedAt = updated
	}
	if startedRaw.Valid {
		if started, err := parseTimeString(startedRaw.String); err == nil {
			job.StartedAt = &started
		}
	}
	if completedRaw.Valid {
		if completed, err := parseTimeString(completedRaw.String); err == nil {
			job.CompletedAt = &completed
		}
	}
	return job, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
