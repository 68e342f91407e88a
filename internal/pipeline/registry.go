package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/facewatch/facewatch/internal/config"
	"github.com/facewatch/facewatch/internal/datastore"
	"github.com/facewatch/facewatch/internal/detect"
	"github.com/facewatch/facewatch/internal/logger"
	"github.com/facewatch/facewatch/internal/notify"
	"github.com/facewatch/facewatch/internal/service"
	"github.com/facewatch/facewatch/internal/storage"
	"github.com/facewatch/facewatch/internal/vision"
)

// SourceFactory builds a frame source for a stream URL. Injected so
// tests can substitute synthetic sources.
type SourceFactory func(url string) vision.FrameSource

// Registry owns the pipeline of every configured stream and runs them
// as one service.
type Registry struct {
	*service.ServiceBase

	cfg       *config.Config
	detector  detect.Detector
	store     *datastore.Store
	snapshots *storage.SnapshotStore
	notifier  notify.Notifier
	logger    *logger.Logger
	newSource SourceFactory

	mu        sync.RWMutex
	pipelines map[int64]*Pipeline
}

// NewRegistry creates the stream registry.
func NewRegistry(cfg *config.Config, detector detect.Detector, store *datastore.Store, snapshots *storage.SnapshotStore, notifier notify.Notifier, newSource SourceFactory, log *logger.Logger) *Registry {
	return &Registry{
		ServiceBase: service.NewServiceBase("pipelines", log),
		cfg:         cfg,
		detector:    detector,
		store:       store,
		snapshots:   snapshots,
		notifier:    notifier,
		logger:      log,
		newSource:   newSource,
		pipelines:   make(map[int64]*Pipeline),
	}
}

// Start registers the configured streams in the datastore and starts a
// pipeline for each enabled one. A stream that fails to start is
// logged and skipped; the rest keep running.
func (r *Registry) Start(ctx context.Context) error {
	r.SetStatus(service.StatusStarting)

	for _, sc := range r.cfg.Streams {
		rec := datastore.StreamRecord{
			ID:                  sc.ID,
			Name:                sc.Name,
			URL:                 sc.URL,
			DetectionEnabled:    sc.Enabled,
			ConfidenceThreshold: r.cfg.Threshold(sc),
		}
		if err := r.store.UpsertStream(ctx, rec); err != nil {
			r.SetError(err)
			return fmt.Errorf("failed to register stream %d: %w", sc.ID, err)
		}
	}

	started := 0
	for _, sc := range r.cfg.Streams {
		if !sc.Enabled {
			continue
		}
		if err := r.StartStream(ctx, sc.ID); err != nil {
			r.LogWarn("Failed to start stream", "stream_id", sc.ID, "error", err)
			continue
		}
		started++
	}

	r.SetStatus(service.StatusRunning)
	r.LogInfo("Stream registry started",
		"configured", len(r.cfg.Streams), "started", started)
	return nil
}

// Stop shuts down every running pipeline.
func (r *Registry) Stop(ctx context.Context) error {
	r.SetStatus(service.StatusStopping)

	r.mu.Lock()
	pipelines := make([]*Pipeline, 0, len(r.pipelines))
	for _, p := range r.pipelines {
		pipelines = append(pipelines, p)
	}
	r.pipelines = make(map[int64]*Pipeline)
	r.mu.Unlock()

	for _, p := range pipelines {
		if err := p.Stop(ctx); err != nil {
			r.LogWarn("Failed to stop pipeline", "stream_id", p.StreamID(), "error", err)
		}
		r.markStatus(p.StreamID(), "disconnected")
	}

	r.SetStatus(service.StatusStopped)
	r.LogInfo("Stream registry stopped")
	return nil
}

// StartStream starts the pipeline for one configured stream.
func (r *Registry) StartStream(ctx context.Context, streamID int64) error {
	sc, ok := r.streamConfig(streamID)
	if !ok {
		return fmt.Errorf("stream %d is not configured", streamID)
	}

	// A map entry claims the stream even while its pipeline is still
	// starting, so concurrent starts cannot race past each other.
	r.mu.Lock()
	if _, ok := r.pipelines[streamID]; ok {
		r.mu.Unlock()
		return fmt.Errorf("stream %d is already running", streamID)
	}

	pcfg := Config{
		TargetFPS:           r.cfg.Pipeline.TargetFPS,
		FrameSkip:           r.cfg.Pipeline.FrameSkip,
		MaxFrameWidth:       r.cfg.Pipeline.MaxFrameWidth,
		DetectionQueueSize:  r.cfg.Pipeline.DetectionQueueSize,
		SaveQueueSize:       r.cfg.Pipeline.SaveQueueSize,
		AlertCooldown:       r.cfg.Pipeline.AlertCooldown,
		ConfidenceThreshold: r.cfg.Threshold(sc),
		ReadRetryDelay:      r.cfg.Pipeline.ReadRetryDelay,
	}
	p := New(streamID, sc.Name, pcfg, r.newSource(sc.URL), r.detector, r.store, r.snapshots, r.notifier, r.logger)
	r.pipelines[streamID] = p
	r.mu.Unlock()

	if err := p.Start(ctx); err != nil {
		r.mu.Lock()
		delete(r.pipelines, streamID)
		r.mu.Unlock()
		r.markStatus(streamID, "error")
		return err
	}

	r.markStatus(streamID, "connected")
	return nil
}

// StopStream stops the pipeline for one stream.
func (r *Registry) StopStream(ctx context.Context, streamID int64) error {
	r.mu.Lock()
	p, ok := r.pipelines[streamID]
	if ok {
		delete(r.pipelines, streamID)
	}
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("stream %d is not running", streamID)
	}

	err := p.Stop(ctx)
	r.markStatus(streamID, "disconnected")
	return err
}

// Get returns the pipeline for a stream, or nil if it is not running.
func (r *Registry) Get(streamID int64) *Pipeline {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pipelines[streamID]
}

// AllStats returns a stats snapshot for every running pipeline.
func (r *Registry) AllStats() []Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make([]Stats, 0, len(r.pipelines))
	for _, p := range r.pipelines {
		stats = append(stats, p.Stats())
	}
	return stats
}

func (r *Registry) streamConfig(streamID int64) (config.StreamConfig, bool) {
	for _, sc := range r.cfg.Streams {
		if sc.ID == streamID {
			return sc, true
		}
	}
	return config.StreamConfig{}, false
}

func (r *Registry) markStatus(streamID int64, status string) {
	if err := r.store.UpdateStreamStatus(context.Background(), streamID, status); err != nil {
		r.LogWarn("Failed to update stream status",
			"stream_id", streamID, "status", status, "error", err)
	}
}
