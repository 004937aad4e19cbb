package scanner

import (
	"context"

	"forest/internal/queue"
)

// Request carries one job's input into the processing step.
type Request struct {
	InputPath string
	OutputDir string
	TypeHint  queue.Classification
}

// Result is the output of a successful processing run.
type Result struct {
	ArtifactPath   string
	Classification queue.Classification
}

// Processor runs the scan pipeline for one image. Implementations must
// honor ctx cancellation; any error is recorded on the job as a processing
// failure and never crashes the worker.
type Processor interface {
	Process(ctx context.Context, req Request) (Result, error)
}
