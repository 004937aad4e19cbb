package queue

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a scan job.
type Status string

const (
	StatusQueued         Status = "queued"
	StatusCapturing      Status = "capturing"
	StatusProcessing     Status = "processing"
	StatusReadyForReview Status = "ready_for_review"
	StatusDone           Status = "done"
	StatusFailed         Status = "failed"
)

// Progress milestones published as each transition lands.
const (
	ProgressQueued     = 0
	ProgressCapturing  = 20
	ProgressProcessing = 65
	ProgressComplete   = 100
)

var allStatuses = []Status{
	StatusQueued,
	StatusCapturing,
	StatusProcessing,
	StatusReadyForReview,
	StatusDone,
	StatusFailed,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// ActiveStatuses are the states of jobs still moving through the pipeline,
// in lifecycle order. Used for queue position and totals.
var ActiveStatuses = []Status{
	StatusQueued,
	StatusCapturing,
	StatusProcessing,
	StatusReadyForReview,
}

// transitions holds the legal edges of the job state machine. The single
// backward edge ready_for_review -> ready_for_review is implicit (approval
// rollback leaves the status unchanged).
var transitions = map[Status][]Status{
	StatusQueued:         {StatusCapturing},
	StatusCapturing:      {StatusProcessing, StatusFailed},
	StatusProcessing:     {StatusReadyForReview, StatusFailed},
	StatusReadyForReview: {StatusDone, StatusFailed},
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// CanTransition reports whether moving from one status to another follows
// a legal state machine edge.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a status ends the job lifecycle.
func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusFailed
}

// IsActive reports whether a job in this status still occupies the queue.
func (s Status) IsActive() bool {
	for _, status := range ActiveStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// Classification is the creature class detected by the scanner.
type Classification string

const (
	ClassSky     Classification = "sky"
	ClassGround  Classification = "ground"
	ClassWater   Classification = "water"
	ClassUnknown Classification = "unknown"
)

// ParseClassification converts a string into a known class. Empty input is
// reported as not ok; unrecognized non-empty input maps to ClassUnknown.
func ParseClassification(value string) (Classification, bool) {
	switch Classification(strings.ToLower(strings.TrimSpace(value))) {
	case ClassSky:
		return ClassSky, true
	case ClassGround:
		return ClassGround, true
	case ClassWater:
		return ClassWater, true
	case "":
		return "", false
	default:
		return ClassUnknown, true
	}
}

// ValidClass reports whether the value names a concrete creature class.
func ValidClass(value Classification) bool {
	switch value {
	case ClassSky, ClassGround, ClassWater:
		return true
	default:
		return false
	}
}

// Job represents one submitted image's lifecycle, persisted in SQLite.
type Job struct {
	ID                string
	Status            Status
	RequestedClass    Classification
	DetectedClass     Classification
	Progress          int
	Message           string
	PreviewReference  string
	FinalArtifactName string
	ErrorDetail       string
	InputReference    string
	OwnerName         string
	CreatorName       string
	PhoneNumber       string
	CreatedAt         time.Time
	StartedAt         *time.Time
	CompletedAt       *time.Time
	UpdatedAt         time.Time
}

// SetFailed marks the job failed with the given detail and stamps
// completion. Progress keeps its last value; it never moves backward
// within a run.
func (j *Job) SetFailed(detail string, at time.Time) {
	j.Status = StatusFailed
	j.ErrorDetail = detail
	j.Message = detail
	at = at.UTC()
	j.CompletedAt = &at
}

// QueueSummary aggregates queue counts for diagnostics and status payloads.
type QueueSummary struct {
	Total    int
	Queued   int
	Active   int
	InReview int
	Done     int
	Failed   int
}
