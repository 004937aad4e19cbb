package queue

import (
	"context"
	"testing"
	"time"
)

func recordTestArtifact(t *testing.T, store *Store, fileName string, class Classification, owner, phone string) *Artifact {
	t.Helper()
	artifact := &Artifact{
		FileName:    fileName,
		URLPath:     "/gallery/" + fileName,
		Class:       class,
		OwnerName:   owner,
		CreatorName: "Test Creator",
		PhoneNumber: phone,
	}
	if err := store.RecordArtifact(context.Background(), artifact); err != nil {
		t.Fatalf("record artifact: %v", err)
	}
	return artifact
}

func TestRecordAndListArtifacts(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	older := recordTestArtifact(t, store, "sky_20250601_1.png", ClassSky, "Somchai", "0812345678")
	time.Sleep(5 * time.Millisecond)
	newer := recordTestArtifact(t, store, "water_20250601_2.png", ClassWater, "Nok", "0899999999")

	all, err := store.ListArtifacts(ctx, ArtifactFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("len = %d", len(all))
	}
	if all[0].FileName != newer.FileName {
		t.Errorf("expected newest first, got %s", all[0].FileName)
	}

	byOwner, err := store.ListArtifacts(ctx, ArtifactFilter{OwnerName: "som"})
	if err != nil {
		t.Fatalf("list by owner: %v", err)
	}
	if len(byOwner) != 1 || byOwner[0].FileName != older.FileName {
		t.Errorf("owner filter result: %+v", byOwner)
	}

	byPhone, err := store.ListArtifacts(ctx, ArtifactFilter{PhoneNumber: "0899999999"})
	if err != nil {
		t.Fatalf("list by phone: %v", err)
	}
	if len(byPhone) != 1 || byPhone[0].FileName != newer.FileName {
		t.Errorf("phone filter result: %+v", byPhone)
	}
}

func TestArtifactFileNamesAndBulkDelete(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if names, err := store.ArtifactFileNames(ctx); err != nil || len(names) != 0 {
		t.Fatalf("empty store: names=%v err=%v", names, err)
	}
	if deleted, err := store.DeleteArtifacts(ctx, nil); err != nil || deleted != 0 {
		t.Fatalf("empty delete: deleted=%d err=%v", deleted, err)
	}

	recordTestArtifact(t, store, "sky_1.png", ClassSky, "Somchai", "0812345678")
	time.Sleep(5 * time.Millisecond)
	recordTestArtifact(t, store, "water_2.png", ClassWater, "Nok", "0899999999")
	time.Sleep(5 * time.Millisecond)
	recordTestArtifact(t, store, "ground_3.png", ClassGround, "Nok", "0899999999")

	names, err := store.ArtifactFileNames(ctx)
	if err != nil {
		t.Fatalf("file names: %v", err)
	}
	if len(names) != 3 || names[0] != "sky_1.png" {
		t.Fatalf("names = %v, want oldest first", names)
	}

	deleted, err := store.DeleteArtifacts(ctx, []string{"sky_1.png", "ground_3.png", "nope.png"})
	if err != nil {
		t.Fatalf("bulk delete: %v", err)
	}
	if deleted != 2 {
		t.Errorf("deleted = %d, want 2 (unknown names ignored)", deleted)
	}

	remaining, err := store.ArtifactFileNames(ctx)
	if err != nil {
		t.Fatalf("file names after delete: %v", err)
	}
	if len(remaining) != 1 || remaining[0] != "water_2.png" {
		t.Errorf("remaining = %v", remaining)
	}
}

func TestGetAndDeleteArtifact(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	recordTestArtifact(t, store, "ground_20250601_3.png", ClassGround, "Somchai", "0812345678")

	artifact, err := store.GetArtifactByFileName(ctx, "ground_20250601_3.png")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if artifact == nil || artifact.Class != ClassGround {
		t.Fatalf("unexpected artifact: %+v", artifact)
	}

	if missing, err := store.GetArtifactByFileName(ctx, "nope.png"); err != nil || missing != nil {
		t.Fatalf("missing lookup: artifact=%v err=%v", missing, err)
	}

	deleted, err := store.DeleteArtifact(ctx, "ground_20250601_3.png")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !deleted {
		t.Error("expected delete to report a removed row")
	}
	if again, _ := store.DeleteArtifact(ctx, "ground_20250601_3.png"); again {
		t.Error("second delete must report nothing removed")
	}
}
