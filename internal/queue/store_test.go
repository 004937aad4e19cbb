package queue

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"forest/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.StagingDir = filepath.Join(base, "staging")
	cfg.Paths.GalleryDir = filepath.Join(base, "gallery")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	return &cfg
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(testConfig(t))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedJob(t *testing.T, store *Store, mutate ...func(*NewScanParams)) *Job {
	t.Helper()
	params := NewScanParams{
		InputReference: "/tmp/input.png",
		OwnerName:      "Test Owner",
		CreatorName:    "Test Creator",
		PhoneNumber:    "0812345678",
	}
	for _, fn := range mutate {
		fn(&params)
	}
	job, err := store.NewScan(context.Background(), params)
	if err != nil {
		t.Fatalf("seed job: %v", err)
	}
	return job
}

func TestNewScanInsertsQueuedJob(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	job := seedJob(t, store, func(p *NewScanParams) {
		p.OwnerName = "  Somchai  "
		p.PhoneNumber = "+66812345678"
		p.RequestedClass = ClassSky
	})

	if job.Status != StatusQueued {
		t.Errorf("status = %s", job.Status)
	}
	if job.Progress != ProgressQueued {
		t.Errorf("progress = %d", job.Progress)
	}
	if job.OwnerName != "Somchai" {
		t.Errorf("owner = %q, normalization not applied", job.OwnerName)
	}
	if job.PhoneNumber != "0812345678" {
		t.Errorf("phone = %q", job.PhoneNumber)
	}
	if job.RequestedClass != ClassSky {
		t.Errorf("requested class = %q", job.RequestedClass)
	}
	if job.StartedAt != nil || job.CompletedAt != nil {
		t.Error("fresh job must have no started_at or completed_at")
	}

	reloaded, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if reloaded == nil || reloaded.ID != job.ID {
		t.Fatalf("reload mismatch: %+v", reloaded)
	}
}

func TestNewScanValidation(t *testing.T) {
	store := openTestStore(t)

	cases := []func(*NewScanParams){
		func(p *NewScanParams) { p.OwnerName = "" },
		func(p *NewScanParams) { p.CreatorName = "x" },
		func(p *NewScanParams) { p.PhoneNumber = "123" },
		func(p *NewScanParams) { p.RequestedClass = "dragon" },
		func(p *NewScanParams) { p.InputReference = "  " },
	}
	for i, mutate := range cases {
		params := NewScanParams{
			InputReference: "/tmp/input.png",
			OwnerName:      "Test Owner",
			CreatorName:    "Test Creator",
			PhoneNumber:    "0812345678",
		}
		mutate(&params)
		_, err := store.NewScan(context.Background(), params)
		if !IsKind(err, KindValidation) {
			t.Errorf("case %d: expected validation error, got %v", i, err)
		}
	}

	jobs, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(jobs) != 0 {
		t.Errorf("rejected submissions must not persist, found %d jobs", len(jobs))
	}
}

func TestGetByIDUnknownReturnsNil(t *testing.T) {
	store := openTestStore(t)
	job, err := store.GetByID(context.Background(), "no-such-id")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if job != nil {
		t.Errorf("expected nil, got %+v", job)
	}
}

func TestUpdateMissingJob(t *testing.T) {
	store := openTestStore(t)
	err := store.Update(context.Background(), &Job{ID: "ghost", Status: StatusDone})
	if !IsKind(err, KindNotFound) {
		t.Errorf("expected not_found, got %v", err)
	}
}

func TestClaimNextQueuedOrderAndStamps(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	first := seedJob(t, store)
	time.Sleep(5 * time.Millisecond)
	second := seedJob(t, store)

	claimed, err := store.ClaimNextQueued(ctx)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed == nil || claimed.ID != first.ID {
		t.Fatalf("expected oldest job %s, got %+v", first.ID, claimed)
	}
	if claimed.Status != StatusCapturing {
		t.Errorf("status = %s", claimed.Status)
	}
	if claimed.Progress != ProgressCapturing {
		t.Errorf("progress = %d", claimed.Progress)
	}
	if claimed.StartedAt == nil {
		t.Error("claim must stamp started_at")
	}

	next, err := store.ClaimNextQueued(ctx)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if next == nil || next.ID != second.ID {
		t.Fatalf("expected %s next, got %+v", second.ID, next)
	}

	empty, err := store.ClaimNextQueued(ctx)
	if err != nil {
		t.Fatalf("empty claim: %v", err)
	}
	if empty != nil {
		t.Errorf("expected nil on drained queue, got %+v", empty)
	}
}

func TestClaimNextQueuedConcurrent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	job := seedJob(t, store)

	const claimants = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claimed []*Job
	)
	for i := 0; i < claimants; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := store.ClaimNextQueued(ctx)
			if err != nil || got == nil {
				return
			}
			mu.Lock()
			claimed = append(claimed, got)
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(claimed) != 1 {
		t.Fatalf("job claimed %d times, want exactly once", len(claimed))
	}
	if claimed[0].ID != job.ID {
		t.Errorf("claimed wrong job %s", claimed[0].ID)
	}

	reloaded, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Status != StatusCapturing {
		t.Errorf("status = %s after concurrent claim", reloaded.Status)
	}
}

func TestResetInterrupted(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	capturing := seedJob(t, store)
	capturing.Status = StatusCapturing
	if err := store.Update(ctx, capturing); err != nil {
		t.Fatalf("update: %v", err)
	}
	processing := seedJob(t, store)
	processing.Status = StatusProcessing
	if err := store.Update(ctx, processing); err != nil {
		t.Fatalf("update: %v", err)
	}
	inReview := seedJob(t, store)
	inReview.Status = StatusReadyForReview
	if err := store.Update(ctx, inReview); err != nil {
		t.Fatalf("update: %v", err)
	}

	requeued, err := store.ResetInterrupted(ctx)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if requeued != 2 {
		t.Errorf("requeued = %d, want 2", requeued)
	}

	for _, id := range []string{capturing.ID, processing.ID} {
		job, err := store.GetByID(ctx, id)
		if err != nil {
			t.Fatalf("reload %s: %v", id, err)
		}
		if job.Status != StatusQueued {
			t.Errorf("job %s status = %s, want queued", id, job.Status)
		}
	}

	kept, err := store.GetByID(ctx, inReview.ID)
	if err != nil {
		t.Fatalf("reload review job: %v", err)
	}
	if kept.Status != StatusReadyForReview {
		t.Errorf("review job status = %s, must survive restart", kept.Status)
	}
}

func TestNextInReview(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if job, err := store.NextInReview(ctx); err != nil || job != nil {
		t.Fatalf("empty store: job=%v err=%v", job, err)
	}

	first := seedJob(t, store)
	first.Status = StatusReadyForReview
	if err := store.Update(ctx, first); err != nil {
		t.Fatalf("update: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	second := seedJob(t, store)
	second.Status = StatusReadyForReview
	if err := store.Update(ctx, second); err != nil {
		t.Fatalf("update: %v", err)
	}

	job, err := store.NextInReview(ctx)
	if err != nil {
		t.Fatalf("next in review: %v", err)
	}
	if job == nil || job.ID != first.ID {
		t.Fatalf("expected oldest review job %s, got %+v", first.ID, job)
	}
}

func TestQueuePositionAndSummary(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	first := seedJob(t, store)
	time.Sleep(5 * time.Millisecond)
	second := seedJob(t, store)
	time.Sleep(5 * time.Millisecond)
	done := seedJob(t, store)
	done.Status = StatusDone
	if err := store.Update(ctx, done); err != nil {
		t.Fatalf("update: %v", err)
	}

	total, position, err := store.QueuePosition(ctx, second.ID)
	if err != nil {
		t.Fatalf("queue position: %v", err)
	}
	if total != 2 || position != 2 {
		t.Errorf("total=%d position=%d, want 2/2", total, position)
	}
	if _, position, _ := store.QueuePosition(ctx, first.ID); position != 1 {
		t.Errorf("first job position = %d", position)
	}
	if _, position, _ := store.QueuePosition(ctx, done.ID); position != 0 {
		t.Errorf("terminal job position = %d, want 0", position)
	}

	inReview := seedJob(t, store)
	inReview.Status = StatusReadyForReview
	if err := store.Update(ctx, inReview); err != nil {
		t.Fatalf("update: %v", err)
	}

	summary, err := store.Summary(ctx)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary.Total != 4 || summary.Queued != 2 || summary.InReview != 1 || summary.Done != 1 {
		t.Errorf("summary = %+v", summary)
	}
}

func TestQueuePositionSkipsJobInReview(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	// Oldest job parked in review: it holds the queue but no longer
	// waits for the worker.
	inReview := seedJob(t, store)
	inReview.Status = StatusReadyForReview
	if err := store.Update(ctx, inReview); err != nil {
		t.Fatalf("update: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	waiting := seedJob(t, store)

	total, position, err := store.QueuePosition(ctx, waiting.ID)
	if err != nil {
		t.Fatalf("queue position: %v", err)
	}
	if total != 2 {
		t.Errorf("total = %d, want 2 (review job still occupies the queue)", total)
	}
	if position != 1 {
		t.Errorf("position = %d, want 1 (review job must not be counted in line)", position)
	}

	if _, position, _ := store.QueuePosition(ctx, inReview.ID); position != 0 {
		t.Errorf("review job position = %d, want 0", position)
	}
}
