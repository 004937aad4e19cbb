package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Artifact is a permanent record of an approved creature image.
type Artifact struct {
	ID          string
	JobID       string
	FileName    string
	URLPath     string
	Class       Classification
	OwnerName   string
	CreatorName string
	PhoneNumber string
	CreatedAt   time.Time
}

// RecordArtifact persists a permanent artifact row. Failures are surfaced
// as persistence errors so the approval gate can run its rollback.
func (s *Store) RecordArtifact(ctx context.Context, artifact *Artifact) error {
	if artifact == nil {
		return errors.New("artifact is nil")
	}
	if artifact.ID == "" {
		artifact.ID = uuid.NewString()
	}
	if artifact.CreatedAt.IsZero() {
		artifact.CreatedAt = time.Now().UTC()
	}
	err := s.execWithoutResultRetry(
		ctx,
		`INSERT INTO artifacts (
            id, job_id, file_name, url_path, class,
            owner_name, creator_name, phone_number, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		artifact.ID,
		nullableString(artifact.JobID),
		artifact.FileName,
		artifact.URLPath,
		string(artifact.Class),
		artifact.OwnerName,
		artifact.CreatorName,
		artifact.PhoneNumber,
		artifact.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return NewPersistenceError("record artifact", err)
	}
	return nil
}

// ArtifactFilter narrows ListArtifacts results. Zero values match everything.
type ArtifactFilter struct {
	OwnerName   string
	PhoneNumber string
	Limit       int
}

// ListArtifacts returns artifact records newest first.
func (s *Store) ListArtifacts(ctx context.Context, filter ArtifactFilter) ([]*Artifact, error) {
	query := `SELECT id, job_id, file_name, url_path, class, owner_name, creator_name, phone_number, created_at
              FROM artifacts`
	var (
		conditions []string
		args       []any
	)
	if filter.OwnerName != "" {
		conditions = append(conditions, "owner_name LIKE ?")
		args = append(args, "%"+filter.OwnerName+"%")
	}
	if filter.PhoneNumber != "" {
		conditions = append(conditions, "phone_number = ?")
		args = append(args, filter.PhoneNumber)
	}
	for i, cond := range conditions {
		if i == 0 {
			query += " WHERE " + cond
		} else {
			query += " AND " + cond
		}
	}
	query += " ORDER BY created_at DESC"
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 200
	}
	query += fmt.Sprintf(" LIMIT %d", limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []*Artifact
	for rows.Next() {
		artifact, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, artifact)
	}
	return artifacts, rows.Err()
}

// GetArtifactByFileName fetches one artifact record, or nil when unknown.
func (s *Store) GetArtifactByFileName(ctx context.Context, fileName string) (*Artifact, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, job_id, file_name, url_path, class, owner_name, creator_name, phone_number, created_at
         FROM artifacts WHERE file_name = ?`,
		fileName,
	)
	artifact, err := scanArtifact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get artifact: %w", err)
	}
	return artifact, nil
}

// DeleteArtifact removes an artifact record by file name.
func (s *Store) DeleteArtifact(ctx context.Context, fileName string) (bool, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM artifacts WHERE file_name = ?`, fileName)
	if err != nil {
		return false, fmt.Errorf("delete artifact: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// ArtifactFileNames returns every stored artifact file name, oldest first.
func (s *Store) ArtifactFileNames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT file_name FROM artifacts ORDER BY created_at, file_name`)
	if err != nil {
		return nil, fmt.Errorf("list artifact names: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// DeleteArtifacts removes artifact records by file name in one statement,
// returning how many rows were deleted. Unknown names are ignored.
func (s *Store) DeleteArtifacts(ctx context.Context, fileNames []string) (int64, error) {
	if len(fileNames) == 0 {
		return 0, nil
	}
	placeholders := makePlaceholders(len(fileNames))
	args := make([]any, len(fileNames))
	for i, name := range fileNames {
		args[i] = name
	}
	res, err := s.execWithRetry(ctx, `DELETE FROM artifacts WHERE file_name IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("delete artifacts: %w", err)
	}
	return res.RowsAffected()
}

func scanArtifact(scanner interface{ Scan(dest ...any) error }) (*Artifact, error) {
	var (
		id         string
		jobID      sql.NullString
		fileName   string
		urlPath    string
		class      string
		ownerName  string
		creator    string
		phone      string
		createdRaw string
	)
	if err := scanner.Scan(&id, &jobID, &fileName, &urlPath, &class, &ownerName, &creator, &phone, &createdRaw); err != nil {
		return nil, err
	}
	artifact := &Artifact{
		ID:          id,
		JobID:       jobID.String,
		FileName:    fileName,
		URLPath:     urlPath,
		Class:       Classification(class),
		OwnerName:   ownerName,
		CreatorName: creator,
		PhoneNumber: phone,
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		artifact.CreatedAt = created
	}
	return artifact, nil
}
