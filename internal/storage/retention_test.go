package storage

import (
	"context"
	"image"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/facewatch/facewatch/internal/datastore"
	"github.com/facewatch/facewatch/internal/logger"
	"github.com/facewatch/facewatch/internal/vision"
)

func newRetentionFixture(t *testing.T) (*datastore.Store, *SnapshotStore) {
	t.Helper()
	dir := t.TempDir()
	log := logger.NewNopLogger()

	store, err := datastore.Open(filepath.Join(dir, "test.db"), log)
	if err != nil {
		t.Fatalf("Failed to open datastore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	snapshots, err := NewSnapshotStore(filepath.Join(dir, "images"), 85, log)
	if err != nil {
		t.Fatalf("Failed to create snapshot store: %v", err)
	}
	return store, snapshots
}

func TestRetentionService_Sweep(t *testing.T) {
	store, snapshots := newRetentionFixture(t)
	ctx := context.Background()

	err := store.UpsertStream(ctx, datastore.StreamRecord{ID: 1, Name: "front", URL: "rtsp://test"})
	if err != nil {
		t.Fatalf("Failed to seed stream: %v", err)
	}

	frame := &vision.Frame{Image: image.NewRGBA(image.Rect(0, 0, 8, 8)), Timestamp: time.Now()}
	oldName, err := snapshots.Save(1, frame)
	if err != nil {
		t.Fatalf("Failed to save snapshot: %v", err)
	}

	oldID, _ := store.SaveDetection(ctx, 1, 0.9, oldName, datastore.BoundingBox{})
	store.CreateAlert(ctx, oldID)
	freshID, _ := store.SaveDetection(ctx, 1, 0.9, "fresh.jpg", datastore.BoundingBox{})
	store.CreateAlert(ctx, freshID)

	_, err = store.DB().ExecContext(ctx,
		`UPDATE detections SET created_at = ? WHERE id = ?`,
		time.Now().Add(-40*24*time.Hour), oldID)
	if err != nil {
		t.Fatalf("Failed to backdate detection: %v", err)
	}

	svc := NewRetentionService(store, snapshots, 30, time.Hour, logger.NewNopLogger())
	if err := svc.Sweep(ctx); err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}

	// The expired record and its image are gone, the fresh one survived.
	path, _ := snapshots.Path(oldName)
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("Expired snapshot file should be deleted")
	}

	alerts, _ := store.GetRecentAlerts(ctx, 10, 0)
	if len(alerts) != 1 || alerts[0].DetectionID != freshID {
		t.Errorf("Expected only the fresh alert to survive, got %+v", alerts)
	}
}

func TestRetentionService_StartStop(t *testing.T) {
	store, snapshots := newRetentionFixture(t)

	svc := NewRetentionService(store, snapshots, 30, time.Hour, logger.NewNopLogger())
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := svc.Stop(ctx); err != nil {
		t.Fatalf("Failed to stop: %v", err)
	}
}

func TestRetentionService_Defaults(t *testing.T) {
	store, snapshots := newRetentionFixture(t)

	svc := NewRetentionService(store, snapshots, 0, 0, logger.NewNopLogger())
	if svc.retentionDays != 30 {
		t.Errorf("Expected default retention 30 days, got %d", svc.retentionDays)
	}
	if svc.sweepInterval != time.Hour {
		t.Errorf("Expected default sweep interval 1h, got %v", svc.sweepInterval)
	}
}
