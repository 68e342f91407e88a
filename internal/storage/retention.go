package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/facewatch/facewatch/internal/datastore"
	"github.com/facewatch/facewatch/internal/logger"
	"github.com/facewatch/facewatch/internal/service"
)

// RetentionService periodically deletes detection records older than
// the retention window, along with their snapshot files.
type RetentionService struct {
	*service.ServiceBase

	store         *datastore.Store
	snapshots     *SnapshotStore
	retentionDays int
	sweepInterval time.Duration

	mu       sync.Mutex
	sweeping bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRetentionService creates a retention service.
func NewRetentionService(store *datastore.Store, snapshots *SnapshotStore, retentionDays int, sweepInterval time.Duration, log *logger.Logger) *RetentionService {
	if retentionDays <= 0 {
		retentionDays = 30
	}
	if sweepInterval <= 0 {
		sweepInterval = time.Hour
	}
	return &RetentionService{
		ServiceBase:   service.NewServiceBase("retention", log),
		store:         store,
		snapshots:     snapshots,
		retentionDays: retentionDays,
		sweepInterval: sweepInterval,
		done:          make(chan struct{}),
	}
}

// Start begins the periodic sweep loop
func (r *RetentionService) Start(ctx context.Context) error {
	r.SetStatus(service.StatusStarting)
	r.ctx, r.cancel = context.WithCancel(context.Background())

	go r.run()

	r.SetStatus(service.StatusRunning)
	r.LogInfo("Retention service started",
		"retention_days", r.retentionDays,
		"sweep_interval", r.sweepInterval)
	return nil
}

// Stop halts the sweep loop
func (r *RetentionService) Stop(ctx context.Context) error {
	r.SetStatus(service.StatusStopping)
	if r.cancel != nil {
		r.cancel()
	}

	select {
	case <-r.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	r.SetStatus(service.StatusStopped)
	r.LogInfo("Retention service stopped")
	return nil
}

func (r *RetentionService) run() {
	defer close(r.done)

	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			if err := r.Sweep(r.ctx); err != nil {
				r.LogWarn("Retention sweep failed", "error", err)
			}
		}
	}
}

// Sweep deletes expired detections and their snapshot files. Only one
// sweep runs at a time.
func (r *RetentionService) Sweep(ctx context.Context) error {
	r.mu.Lock()
	if r.sweeping {
		r.mu.Unlock()
		return fmt.Errorf("sweep already in progress")
	}
	r.sweeping = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.sweeping = false
		r.mu.Unlock()
	}()

	cutoff := time.Now().Add(-time.Duration(r.retentionDays) * 24 * time.Hour)

	paths, err := r.store.DeleteDetectionsOlderThan(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to delete expired records: %w", err)
	}

	removed := 0
	for _, path := range paths {
		if err := r.snapshots.Remove(path); err != nil {
			r.LogWarn("Failed to remove expired snapshot", "path", path, "error", err)
			continue
		}
		removed++
	}

	if len(paths) > 0 {
		r.LogInfo("Retention sweep complete",
			"records_expired", len(paths),
			"files_removed", removed,
			"cutoff", cutoff)
	}
	return nil
}
