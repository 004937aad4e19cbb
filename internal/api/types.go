package api

import "time"

// ErrorResponse is the structured error body for all non-2xx responses.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// SubmitScanRequest enqueues a new scan. Image data is base64, optionally
// carrying a data-URL prefix.
type SubmitScanRequest struct {
	ImageData   string `json:"image_data"`
	OwnerName   string `json:"owner_name"`
	CreatorName string `json:"creator_name"`
	PhoneNumber string `json:"phone_number"`
	Type        string `json:"type,omitempty"`
}

// SubmitScanResponse reports the enqueued job and its queue placement.
type SubmitScanResponse struct {
	JobID         string `json:"job_id"`
	QueuePosition int    `json:"queue_position"`
	QueueTotal    int    `json:"queue_total"`
}

// JobStatusResponse describes one job.
type JobStatusResponse struct {
	JobID         string     `json:"job_id"`
	Status        string     `json:"status"`
	Progress      int        `json:"progress"`
	Message       string     `json:"message,omitempty"`
	QueuePosition int        `json:"queue_position,omitempty"`
	QueueTotal    int        `json:"queue_total"`
	RequestedType string     `json:"requested_type,omitempty"`
	DetectedType  string     `json:"detected_type,omitempty"`
	PreviewURL    string     `json:"preview_url,omitempty"`
	ArtifactName  string     `json:"artifact_name,omitempty"`
	Error         string     `json:"error,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// PipelineStatusResponse is the long-poll snapshot payload.
type PipelineStatusResponse struct {
	State          string `json:"state"`
	Progress       int    `json:"progress"`
	Message        string `json:"message"`
	PreviewURL     string `json:"preview_url,omitempty"`
	DetectedType   string `json:"detected_type,omitempty"`
	JobID          string `json:"job_id,omitempty"`
	Version        uint64 `json:"version"`
	ActiveEntities int    `json:"active_entities"`
	QueueTotal     int    `json:"queue_total"`
	QueueWaiting   int    `json:"queue_waiting"`
}

// ApproveRequest finalizes a job in review. JobID may be empty to target
// the oldest job awaiting review.
type ApproveRequest struct {
	JobID       string `json:"job_id,omitempty"`
	Type        string `json:"type"`
	Name        string `json:"name"`
	CreatorName string `json:"creator_name"`
	PhoneNumber string `json:"phone_number"`
}

// ApproveResponse reports the permanent artifact.
type ApproveResponse struct {
	JobID    string `json:"job_id"`
	FileName string `json:"filename"`
	URL      string `json:"url"`
	Entity   Entity `json:"entity"`
}

// DiscardRequest rejects a job in review.
type DiscardRequest struct {
	JobID  string `json:"job_id,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// DiscardResponse confirms the rejection.
type DiscardResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// SpawnRequest appends an active entity without a scan job.
type SpawnRequest struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

// Entity mirrors pipeline.Entity for display clients.
type Entity struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Type         string    `json:"type"`
	ArtifactName string    `json:"filename,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// SpawnResponse confirms a direct spawn.
type SpawnResponse struct {
	Entity Entity `json:"entity"`
}

// ClearEntitiesResponse reports the kill switch result.
type ClearEntitiesResponse struct {
	Cleared int `json:"cleared"`
}

// GalleryItem is one permanent artifact record.
type GalleryItem struct {
	FileName    string    `json:"filename"`
	URL         string    `json:"url"`
	Type        string    `json:"type"`
	OwnerName   string    `json:"owner_name"`
	CreatorName string    `json:"creator_name"`
	PhoneNumber string    `json:"phone_number"`
	JobID       string    `json:"job_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// GalleryResponse lists artifacts newest first.
type GalleryResponse struct {
	Items []GalleryItem `json:"items"`
}

// DeleteArtifactResponse confirms an artifact deletion.
type DeleteArtifactResponse struct {
	Deleted string `json:"deleted"`
}

// DeleteArtifactsRequest names artifacts for bulk deletion.
type DeleteArtifactsRequest struct {
	FileNames []string `json:"filenames"`
}

// DeleteArtifactsResponse reports how many records a bulk delete removed.
type DeleteArtifactsResponse struct {
	Deleted int `json:"deleted"`
}

// ClearGalleryResponse reports a full gallery wipe.
type ClearGalleryResponse struct {
	Deleted         int `json:"deleted"`
	EntitiesCleared int `json:"entities_cleared"`
}

// HealthResponse is the daemon health document.
type HealthResponse struct {
	OK            bool   `json:"ok"`
	WorkerRunning bool   `json:"worker_running"`
	WorkerError   string `json:"worker_error,omitempty"`
	QueueTotal    int    `json:"queue_total"`
	QueueWaiting  int    `json:"queue_waiting"`
	QueueInReview int    `json:"queue_in_review"`
	QueueFailed   int    `json:"queue_failed"`
	QueueDone     int    `json:"queue_done"`
}
