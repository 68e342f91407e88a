package datastore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/facewatch/facewatch/internal/logger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "test.db"), logger.NewNopLogger())
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func seedStream(t *testing.T, store *Store, id int64, name string) {
	t.Helper()
	err := store.UpsertStream(context.Background(), StreamRecord{
		ID: id, Name: name, URL: "rtsp://test", DetectionEnabled: true, ConfidenceThreshold: 0.8,
	})
	if err != nil {
		t.Fatalf("Failed to seed stream: %v", err)
	}
}

func TestStore_UpsertStream(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedStream(t, store, 1, "front")
	seedStream(t, store, 1, "front-renamed")

	streams, err := store.ListStreams(ctx)
	if err != nil {
		t.Fatalf("Failed to list streams: %v", err)
	}
	if len(streams) != 1 {
		t.Fatalf("Expected 1 stream after upsert, got %d", len(streams))
	}
	if streams[0].Name != "front-renamed" {
		t.Errorf("Expected renamed stream, got %q", streams[0].Name)
	}
	if streams[0].Status != "disconnected" {
		t.Errorf("Expected initial status disconnected, got %q", streams[0].Status)
	}
}

func TestStore_UpdateStreamStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedStream(t, store, 1, "front")

	if err := store.UpdateStreamStatus(ctx, 1, "connected"); err != nil {
		t.Fatalf("Failed to update status: %v", err)
	}

	streams, _ := store.ListStreams(ctx)
	if streams[0].Status != "connected" {
		t.Errorf("Expected connected, got %q", streams[0].Status)
	}
	if streams[0].LastConnection == nil {
		t.Error("LastConnection should be set")
	}
}

func TestStore_DetectionAndAlertRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedStream(t, store, 1, "front")

	bbox := BoundingBox{X: 10, Y: 20, Width: 30, Height: 40}
	detID, err := store.SaveDetection(ctx, 1, 0.92, "stream1_20260831_120000.jpg", bbox)
	if err != nil {
		t.Fatalf("Failed to save detection: %v", err)
	}

	alertID, err := store.CreateAlert(ctx, detID)
	if err != nil {
		t.Fatalf("Failed to create alert: %v", err)
	}

	alerts, err := store.GetRecentAlerts(ctx, 10, 0)
	if err != nil {
		t.Fatalf("Failed to get alerts: %v", err)
	}
	if len(alerts) != 1 {
		t.Fatalf("Expected 1 alert, got %d", len(alerts))
	}

	a := alerts[0]
	if a.ID != alertID || a.DetectionID != detID {
		t.Errorf("Alert IDs do not match: %+v", a)
	}
	if a.StreamName != "front" {
		t.Errorf("Expected stream name front, got %q", a.StreamName)
	}
	if a.ConfidenceScore != 0.92 {
		t.Errorf("Expected confidence 0.92, got %v", a.ConfidenceScore)
	}
	if a.BBox != bbox {
		t.Errorf("Bounding box mismatch: %+v", a.BBox)
	}
	if a.Viewed {
		t.Error("New alert should not be viewed")
	}
}

func TestStore_MarkAlertViewed(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedStream(t, store, 1, "front")

	detID, _ := store.SaveDetection(ctx, 1, 0.9, "img.jpg", BoundingBox{})
	alertID, _ := store.CreateAlert(ctx, detID)

	if err := store.MarkAlertViewed(ctx, alertID); err != nil {
		t.Fatalf("Failed to mark viewed: %v", err)
	}

	alerts, _ := store.GetRecentAlerts(ctx, 10, 0)
	if !alerts[0].Viewed || alerts[0].ViewedAt == nil {
		t.Errorf("Alert should be viewed with a timestamp: %+v", alerts[0])
	}

	if err := store.MarkAlertViewed(ctx, 9999); err == nil {
		t.Error("Marking a missing alert should fail")
	}
}

func TestStore_DismissAlert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedStream(t, store, 1, "front")

	detID, _ := store.SaveDetection(ctx, 1, 0.9, "img.jpg", BoundingBox{})
	alertID, _ := store.CreateAlert(ctx, detID)

	if err := store.DismissAlert(ctx, alertID); err != nil {
		t.Fatalf("Failed to dismiss alert: %v", err)
	}

	// Dismissed alerts disappear from default listings.
	alerts, _ := store.GetRecentAlerts(ctx, 10, 0)
	if len(alerts) != 0 {
		t.Errorf("Expected no listed alerts after dismiss, got %d", len(alerts))
	}

	if err := store.DismissAlert(ctx, 9999); err == nil {
		t.Error("Dismissing a missing alert should fail")
	}
}

func TestStore_GetRecentAlertsFiltersByStream(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedStream(t, store, 1, "front")
	seedStream(t, store, 2, "garage")

	for _, streamID := range []int64{1, 1, 2} {
		detID, _ := store.SaveDetection(ctx, streamID, 0.9, "img.jpg", BoundingBox{})
		store.CreateAlert(ctx, detID)
	}

	all, _ := store.GetRecentAlerts(ctx, 10, 0)
	if len(all) != 3 {
		t.Errorf("Expected 3 alerts in total, got %d", len(all))
	}

	garage, _ := store.GetRecentAlerts(ctx, 10, 2)
	if len(garage) != 1 {
		t.Errorf("Expected 1 alert for stream 2, got %d", len(garage))
	}

	limited, _ := store.GetRecentAlerts(ctx, 2, 0)
	if len(limited) != 2 {
		t.Errorf("Expected the limit to apply, got %d alerts", len(limited))
	}
}

func TestStore_GetStats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedStream(t, store, 1, "front")

	store.SaveDetection(ctx, 1, 0.8, "a.jpg", BoundingBox{})
	store.SaveDetection(ctx, 1, 1.0, "b.jpg", BoundingBox{})

	stats, err := store.GetStats(ctx, 0, 7)
	if err != nil {
		t.Fatalf("Failed to get stats: %v", err)
	}
	if stats.TotalDetections != 2 {
		t.Errorf("Expected 2 detections, got %d", stats.TotalDetections)
	}
	if stats.AvgConfidence < 0.89 || stats.AvgConfidence > 0.91 {
		t.Errorf("Expected average confidence 0.9, got %v", stats.AvgConfidence)
	}
	if len(stats.Daily) != 1 {
		t.Errorf("Expected a single daily bucket, got %d", len(stats.Daily))
	}

	empty, err := store.GetStats(ctx, 42, 7)
	if err != nil {
		t.Fatalf("Failed to get stats for unknown stream: %v", err)
	}
	if empty.TotalDetections != 0 || empty.AvgConfidence != 0 {
		t.Errorf("Expected zero stats, got %+v", empty)
	}
}

func TestStore_DeleteDetectionsOlderThan(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedStream(t, store, 1, "front")

	oldID, _ := store.SaveDetection(ctx, 1, 0.9, "old.jpg", BoundingBox{})
	store.CreateAlert(ctx, oldID)
	freshID, _ := store.SaveDetection(ctx, 1, 0.9, "fresh.jpg", BoundingBox{})
	store.CreateAlert(ctx, freshID)

	// Backdate the first detection past the retention window.
	_, err := store.DB().ExecContext(ctx,
		`UPDATE detections SET created_at = ? WHERE id = ?`,
		time.Now().Add(-48*time.Hour), oldID)
	if err != nil {
		t.Fatalf("Failed to backdate detection: %v", err)
	}

	paths, err := store.DeleteDetectionsOlderThan(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Failed to delete: %v", err)
	}
	if len(paths) != 1 || paths[0] != "old.jpg" {
		t.Errorf("Expected [old.jpg], got %v", paths)
	}

	// The cascade removed the dependent alert as well.
	alerts, _ := store.GetRecentAlerts(ctx, 10, 0)
	if len(alerts) != 1 {
		t.Fatalf("Expected 1 surviving alert, got %d", len(alerts))
	}
	if alerts[0].DetectionID != freshID {
		t.Errorf("Wrong alert survived: %+v", alerts[0])
	}
}
