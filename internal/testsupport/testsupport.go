// Package testsupport provides shared helpers for package tests.
package testsupport

import (
	"context"
	"testing"

	"forest/internal/config"
	"forest/internal/queue"
)

// NewConfig returns a validated configuration rooted in a per-test
// temporary directory.
func NewConfig(t *testing.T) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.StagingDir = base + "/staging"
	cfg.Paths.GalleryDir = base + "/gallery"
	cfg.Paths.LogDir = base + "/logs"
	cfg.Paths.APIBind = "127.0.0.1:0"

	if err := cfg.Validate(); err != nil {
		t.Fatalf("default test config invalid: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("create test directories: %v", err)
	}
	return &cfg
}

// MustOpenStore opens a job store against the test configuration and
// registers cleanup.
func MustOpenStore(t *testing.T, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})
	return store
}

// MustNewScan inserts a queued job with valid submitter details, applying
// overrides when provided.
func MustNewScan(t *testing.T, store *queue.Store, overrides ...func(*queue.NewScanParams)) *queue.Job {
	t.Helper()

	params := queue.NewScanParams{
		InputReference: "/tmp/input.png",
		OwnerName:      "Test Owner",
		CreatorName:    "Test Creator",
		PhoneNumber:    "0812345678",
	}
	for _, override := range overrides {
		override(&params)
	}

	job, err := store.NewScan(context.Background(), params)
	if err != nil {
		t.Fatalf("insert scan job: %v", err)
	}
	return job
}
