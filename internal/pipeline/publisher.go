package pipeline

import (
	"context"
	"sync"
	"time"

	"forest/internal/queue"
)

// State is the externally visible pipeline state. It tracks the active
// job's status plus the idle and syncing windows between jobs.
type State string

const (
	StateIdle           State = "IDLE"
	StateCapturing      State = "CAPTURING"
	StateProcessing     State = "PROCESSING"
	StateReadyForReview State = "READY_FOR_REVIEW"
	StateSyncing        State = "SYNCING"
)

// Snapshot mirrors the active job for low-latency status reads. Version
// increases on every publish so long-poll clients can detect changes.
type Snapshot struct {
	State            State
	Progress         int
	Message          string
	PreviewReference string
	DetectedClass    queue.Classification
	JobID            string
	Version          uint64
}

// Entity is a lightweight record of an approved or spawned creature kept
// for display purposes until the kill switch clears it.
type Entity struct {
	ID           string
	Name         string
	Class        queue.Classification
	ArtifactName string
	CreatedAt    time.Time
}

// Publisher owns the snapshot and the active entity list under one lock
// and wakes all long-poll waiters on every mutation.
type Publisher struct {
	mu       sync.Mutex
	snapshot Snapshot
	entities []Entity
	changed  chan struct{}
}

// NewPublisher returns a publisher in the idle state at version zero.
func NewPublisher() *Publisher {
	return &Publisher{
		snapshot: Snapshot{State: StateIdle, Message: "Ready"},
		changed:  make(chan struct{}),
	}
}

// Update describes one publish. Zero-value optional fields leave the
// corresponding snapshot fields untouched only where documented.
type Update struct {
	State            State
	Progress         int
	Message          string
	PreviewReference string
	DetectedClass    queue.Classification
	JobID            string
}

// Publish atomically replaces the snapshot, increments the version, and
// wakes all waiters. The lock is held only for the field mutation.
func (p *Publisher) Publish(update Update) Snapshot {
	p.mu.Lock()
	p.snapshot = Snapshot{
		State:            update.State,
		Progress:         update.Progress,
		Message:          update.Message,
		PreviewReference: update.PreviewReference,
		DetectedClass:    update.DetectedClass,
		JobID:            update.JobID,
		Version:          p.snapshot.Version + 1,
	}
	snapshot := p.snapshot
	close(p.changed)
	p.changed = make(chan struct{})
	p.mu.Unlock()
	return snapshot
}

// Current returns the snapshot without waiting.
func (p *Publisher) Current() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshot
}

// AwaitChange returns the snapshot as soon as its version exceeds since,
// or after timeout elapses, whichever comes first. It never blocks past
// the bound and never busy-polls.
func (p *Publisher) AwaitChange(ctx context.Context, since uint64, timeout time.Duration) Snapshot {
	p.mu.Lock()
	if p.snapshot.Version > since {
		snapshot := p.snapshot
		p.mu.Unlock()
		return snapshot
	}
	waiter := p.changed
	p.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-waiter:
	case <-timer.C:
	case <-ctx.Done():
	}
	return p.Current()
}

// AppendEntity records an approved or spawned creature.
func (p *Publisher) AppendEntity(entity Entity) {
	p.mu.Lock()
	p.entities = append(p.entities, entity)
	p.mu.Unlock()
}

// Entities returns a copy of the active entity list.
func (p *Publisher) Entities() []Entity {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make([]Entity, len(p.entities))
	copy(cp, p.entities)
	return cp
}

// EntityCount returns the number of active entities.
func (p *Publisher) EntityCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entities)
}

// RemoveEntityByArtifact drops entities referencing the given artifact
// file, returning how many were removed.
func (p *Publisher) RemoveEntityByArtifact(fileName string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	kept := p.entities[:0]
	removed := 0
	for _, entity := range p.entities {
		if entity.ArtifactName == fileName {
			removed++
			continue
		}
		kept = append(kept, entity)
	}
	p.entities = kept
	return removed
}

// ClearEntities empties the active entity list in bulk (the kill switch).
func (p *Publisher) ClearEntities() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	count := len(p.entities)
	p.entities = nil
	return count
}
