package daemon

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"forest/internal/api"
	"forest/internal/approval"
	"forest/internal/config"
	"forest/internal/logging"
	"forest/internal/pipeline"
	"forest/internal/queue"
	"forest/internal/scanner"
	"forest/internal/testsupport"
	"forest/internal/worker"
)

type testHarness struct {
	cfg       *config.Config
	store     *queue.Store
	publisher *pipeline.Publisher
	client    *api.Client
	server    *httptest.Server
}

// newHarness wires a daemon without starting the worker loop and exposes
// its handler through a test server.
func newHarness(t *testing.T) *testHarness {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	publisher := pipeline.NewPublisher()
	logger := logging.NewNop()
	wk := worker.New(cfg, store, publisher, scanner.NewCommandProcessor(cfg), logger)
	gate := approval.New(cfg, store, store, publisher, wk.NotifyResolved, logger)

	d, err := New(cfg, store, publisher, wk, gate, logger)
	if err != nil {
		t.Fatalf("build daemon: %v", err)
	}

	server := httptest.NewServer(d.api.server.Handler)
	t.Cleanup(server.Close)

	return &testHarness{
		cfg:       cfg,
		store:     store,
		publisher: publisher,
		client:    api.NewClient(server.URL),
		server:    server,
	}
}

func (h *testHarness) seedReviewJob(t *testing.T) *queue.Job {
	t.Helper()

	job := testsupport.MustNewScan(t, h.store)
	previewPath := filepath.Join(h.cfg.PreviewDir(), "sky_preview_"+job.ID+".png")
	if err := os.WriteFile(previewPath, []byte("png"), 0o644); err != nil {
		t.Fatalf("write preview: %v", err)
	}
	job.Status = queue.StatusReadyForReview
	job.Progress = queue.ProgressComplete
	job.DetectedClass = queue.ClassSky
	job.PreviewReference = previewPath
	if err := h.store.Update(context.Background(), job); err != nil {
		t.Fatalf("seed review job: %v", err)
	}
	return job
}

func wantStatusKind(t *testing.T, err error, statusCode int, kind queue.Kind) {
	t.Helper()
	var statusErr *api.StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.StatusCode != statusCode {
		t.Errorf("status = %d, want %d (%v)", statusErr.StatusCode, statusCode, statusErr)
	}
	if statusErr.Kind != string(kind) {
		t.Errorf("kind = %q, want %q", statusErr.Kind, kind)
	}
}

func TestSubmitScan(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	resp, err := h.client.SubmitScan(ctx, api.SubmitScanRequest{
		ImageData:   base64.StdEncoding.EncodeToString([]byte("fake png bytes")),
		OwnerName:   "Somchai",
		CreatorName: "Nok",
		PhoneNumber: "081-234-5678",
		Type:        "sky",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if resp.JobID == "" {
		t.Fatal("no job id returned")
	}
	if resp.QueuePosition != 1 || resp.QueueTotal != 1 {
		t.Errorf("queue placement = %d/%d", resp.QueuePosition, resp.QueueTotal)
	}

	job, err := h.store.GetByID(ctx, resp.JobID)
	if err != nil || job == nil {
		t.Fatalf("job not persisted: %v", err)
	}
	if job.Status != queue.StatusQueued {
		t.Errorf("status = %s", job.Status)
	}
	if job.PhoneNumber != "0812345678" {
		t.Errorf("phone = %q", job.PhoneNumber)
	}
	if _, err := os.Stat(job.InputReference); err != nil {
		t.Errorf("incoming image missing: %v", err)
	}
	if !strings.HasPrefix(job.InputReference, h.cfg.IncomingDir()) {
		t.Errorf("input stored outside incoming dir: %q", job.InputReference)
	}
}

func TestSubmitScanDataURLPrefix(t *testing.T) {
	h := newHarness(t)

	resp, err := h.client.SubmitScan(context.Background(), api.SubmitScanRequest{
		ImageData:   "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("png")),
		OwnerName:   "Somchai",
		CreatorName: "Nok",
		PhoneNumber: "0812345678",
	})
	if err != nil {
		t.Fatalf("submit with data URL: %v", err)
	}
	if resp.JobID == "" {
		t.Error("no job id")
	}
}

func TestSubmitScanRejectsBadInput(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.client.SubmitScan(ctx, api.SubmitScanRequest{
		ImageData:   "not-base64!!!",
		OwnerName:   "Somchai",
		CreatorName: "Nok",
		PhoneNumber: "0812345678",
	})
	wantStatusKind(t, err, http.StatusBadRequest, queue.KindValidation)

	_, err = h.client.SubmitScan(ctx, api.SubmitScanRequest{
		ImageData:   base64.StdEncoding.EncodeToString([]byte("png")),
		OwnerName:   "Somchai",
		CreatorName: "Nok",
		PhoneNumber: "not-a-phone",
	})
	wantStatusKind(t, err, http.StatusBadRequest, queue.KindValidation)

	// Rejected submissions must not leave staged files behind.
	entries, readErr := os.ReadDir(h.cfg.IncomingDir())
	if readErr != nil {
		t.Fatal(readErr)
	}
	if len(entries) != 0 {
		t.Errorf("%d orphaned files in incoming dir", len(entries))
	}
}

func TestJobStatusEndpoint(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	job := testsupport.MustNewScan(t, h.store)
	resp, err := h.client.JobStatus(ctx, job.ID)
	if err != nil {
		t.Fatalf("job status: %v", err)
	}
	if resp.Status != string(queue.StatusQueued) || resp.QueuePosition != 1 {
		t.Errorf("response = %+v", resp)
	}

	_, err = h.client.JobStatus(ctx, "ghost")
	wantStatusKind(t, err, http.StatusNotFound, queue.KindNotFound)
}

func TestJobStatusExposesPreviewInReview(t *testing.T) {
	h := newHarness(t)
	job := h.seedReviewJob(t)

	resp, err := h.client.JobStatus(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("job status: %v", err)
	}
	if resp.Status != string(queue.StatusReadyForReview) {
		t.Errorf("status = %s", resp.Status)
	}
	if resp.PreviewURL != "/preview/"+filepath.Base(job.PreviewReference) {
		t.Errorf("preview url = %q", resp.PreviewURL)
	}
}

func TestPipelineStatusEndpoint(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	status, err := h.client.PipelineStatus(ctx, 0, 0)
	if err != nil {
		t.Fatalf("pipeline status: %v", err)
	}
	if status.State != string(pipeline.StateIdle) || status.Version != 0 {
		t.Errorf("initial status = %+v", status)
	}

	h.publisher.Publish(pipeline.Update{State: pipeline.StateCapturing, Progress: queue.ProgressCapturing, JobID: "j1"})

	// A long poll behind the current version returns without waiting.
	status, err = h.client.PipelineStatus(ctx, 0, 5)
	if err != nil {
		t.Fatalf("long poll: %v", err)
	}
	if status.State != string(pipeline.StateCapturing) || status.Version != 1 {
		t.Errorf("status after publish = %+v", status)
	}
}

func TestApproveEndpoint(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.client.Approve(ctx, api.ApproveRequest{
		Type: "sky", Name: "Leo", CreatorName: "Somchai", PhoneNumber: "0812345678",
	})
	wantStatusKind(t, err, http.StatusConflict, queue.KindConflict)

	job := h.seedReviewJob(t)
	resp, err := h.client.Approve(ctx, api.ApproveRequest{
		JobID: job.ID, Type: "sky", Name: "Leo", CreatorName: "Somchai", PhoneNumber: "0812345678",
	})
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if resp.JobID != job.ID {
		t.Errorf("job id = %s", resp.JobID)
	}
	if !strings.HasPrefix(resp.FileName, "sky_") {
		t.Errorf("file name = %q", resp.FileName)
	}
	if resp.Entity.Name != "Leo" {
		t.Errorf("entity = %+v", resp.Entity)
	}
	if _, err := os.Stat(filepath.Join(h.cfg.Paths.GalleryDir, resp.FileName)); err != nil {
		t.Errorf("gallery file missing: %v", err)
	}
}

func TestDiscardEndpoint(t *testing.T) {
	h := newHarness(t)
	job := h.seedReviewJob(t)

	resp, err := h.client.Discard(context.Background(), api.DiscardRequest{Reason: "wrong colors"})
	if err != nil {
		t.Fatalf("discard: %v", err)
	}
	if resp.JobID != job.ID || resp.Status != string(queue.StatusFailed) {
		t.Errorf("response = %+v", resp)
	}
}

func TestSpawnAndClearEndpoints(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	spawned, err := h.client.Spawn(ctx, api.SpawnRequest{Type: "water", Name: "Nam"})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if spawned.Entity.Name != "Nam" || spawned.Entity.Type != "water" {
		t.Errorf("entity = %+v", spawned.Entity)
	}

	_, err = h.client.Spawn(ctx, api.SpawnRequest{Type: "dragon", Name: "Nok"})
	wantStatusKind(t, err, http.StatusBadRequest, queue.KindValidation)

	cleared, err := h.client.ClearEntities(ctx)
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if cleared.Cleared != 1 {
		t.Errorf("cleared = %d", cleared.Cleared)
	}
	if h.publisher.EntityCount() != 0 {
		t.Error("entities remain after clear")
	}
}

func TestGalleryEndpoints(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	job := h.seedReviewJob(t)
	approved, err := h.client.Approve(ctx, api.ApproveRequest{
		JobID: job.ID, Type: "sky", Name: "Leo", CreatorName: "Somchai", PhoneNumber: "0812345678",
	})
	if err != nil {
		t.Fatalf("approve: %v", err)
	}

	gallery, err := h.client.Gallery(ctx, "", "")
	if err != nil {
		t.Fatalf("gallery: %v", err)
	}
	if len(gallery.Items) != 1 || gallery.Items[0].FileName != approved.FileName {
		t.Fatalf("gallery = %+v", gallery.Items)
	}

	filtered, err := h.client.Gallery(ctx, "nobody", "")
	if err != nil {
		t.Fatalf("filtered gallery: %v", err)
	}
	if len(filtered.Items) != 0 {
		t.Errorf("filter matched %d items", len(filtered.Items))
	}

	deleted, err := h.client.DeleteArtifact(ctx, approved.FileName)
	if err != nil {
		t.Fatalf("delete artifact: %v", err)
	}
	if deleted.Deleted != approved.FileName {
		t.Errorf("deleted = %q", deleted.Deleted)
	}
	if _, err := os.Stat(filepath.Join(h.cfg.Paths.GalleryDir, approved.FileName)); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("gallery file still present: %v", err)
	}
	if h.publisher.EntityCount() != 0 {
		t.Error("entity survived artifact deletion")
	}

	_, err = h.client.DeleteArtifact(ctx, approved.FileName)
	wantStatusKind(t, err, http.StatusNotFound, queue.KindNotFound)
}

func (h *testHarness) approveSeededJob(t *testing.T, name string) *api.ApproveResponse {
	t.Helper()
	job := h.seedReviewJob(t)
	resp, err := h.client.Approve(context.Background(), api.ApproveRequest{
		JobID: job.ID, Type: "sky", Name: name, CreatorName: "Somchai", PhoneNumber: "0812345678",
	})
	if err != nil {
		t.Fatalf("approve %s: %v", name, err)
	}
	return resp
}

func TestGalleryBulkDelete(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first := h.approveSeededJob(t, "Leo")
	second := h.approveSeededJob(t, "Nam")

	resp, err := h.client.DeleteArtifacts(ctx, []string{first.FileName, "ghost.png"})
	if err != nil {
		t.Fatalf("bulk delete: %v", err)
	}
	if resp.Deleted != 1 {
		t.Errorf("deleted = %d, want 1 (unknown names ignored)", resp.Deleted)
	}
	if _, err := os.Stat(filepath.Join(h.cfg.Paths.GalleryDir, first.FileName)); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("first gallery file still present: %v", err)
	}
	if _, err := os.Stat(filepath.Join(h.cfg.Paths.GalleryDir, second.FileName)); err != nil {
		t.Errorf("second gallery file must survive: %v", err)
	}
	if h.publisher.EntityCount() != 1 {
		t.Errorf("entities = %d, want 1", h.publisher.EntityCount())
	}

	_, err = h.client.DeleteArtifacts(ctx, nil)
	wantStatusKind(t, err, http.StatusBadRequest, queue.KindValidation)
}

func TestGalleryClear(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.approveSeededJob(t, "Leo")
	h.approveSeededJob(t, "Nam")
	versionBefore := h.publisher.Current().Version

	resp, err := h.client.ClearGallery(ctx)
	if err != nil {
		t.Fatalf("clear gallery: %v", err)
	}
	if resp.Deleted != 2 || resp.EntitiesCleared != 2 {
		t.Errorf("response = %+v", resp)
	}

	entries, err := os.ReadDir(h.cfg.Paths.GalleryDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("%d gallery files remain", len(entries))
	}
	gallery, err := h.client.Gallery(ctx, "", "")
	if err != nil {
		t.Fatalf("gallery: %v", err)
	}
	if len(gallery.Items) != 0 {
		t.Errorf("%d records remain", len(gallery.Items))
	}
	if h.publisher.EntityCount() != 0 {
		t.Error("entities remain after clear")
	}
	if h.publisher.Current().Version <= versionBefore {
		t.Error("clear must bump the snapshot version for long-poll clients")
	}

	// A second wipe is a no-op, not an error.
	again, err := h.client.ClearGallery(ctx)
	if err != nil {
		t.Fatalf("second clear: %v", err)
	}
	if again.Deleted != 0 {
		t.Errorf("second clear deleted = %d", again.Deleted)
	}
}

func TestHealthEndpoint(t *testing.T) {
	h := newHarness(t)

	testsupport.MustNewScan(t, h.store)
	health, err := h.client.Health(context.Background())
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if health.WorkerRunning {
		t.Error("worker should not be running in this harness")
	}
	if health.QueueTotal != 1 || health.QueueWaiting != 1 {
		t.Errorf("health counts = %+v", health)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h := newHarness(t)

	req, err := http.NewRequest(http.MethodDelete, h.server.URL+"/api/scans", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d", resp.StatusCode)
	}
}
