package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/facewatch/facewatch/internal/datastore"
	"github.com/facewatch/facewatch/internal/detect"
	"github.com/facewatch/facewatch/internal/logger"
	"github.com/facewatch/facewatch/internal/notify"
	"github.com/facewatch/facewatch/internal/storage"
	"github.com/facewatch/facewatch/internal/vision"
)

// Config holds the per-stream pipeline tuning knobs.
type Config struct {
	TargetFPS           int
	FrameSkip           int
	MaxFrameWidth       int
	DetectionQueueSize  int
	SaveQueueSize       int
	AlertCooldown       time.Duration
	ConfidenceThreshold float64
	ReadRetryDelay      time.Duration
}

// Normalize fills in defaults for unset fields.
func (c *Config) Normalize() {
	if c.TargetFPS <= 0 {
		c.TargetFPS = 15
	}
	if c.FrameSkip < 1 {
		c.FrameSkip = 2
	}
	if c.MaxFrameWidth <= 0 {
		c.MaxFrameWidth = 640
	}
	if c.DetectionQueueSize <= 0 {
		c.DetectionQueueSize = 5
	}
	if c.SaveQueueSize <= 0 {
		c.SaveQueueSize = 10
	}
	if c.AlertCooldown <= 0 {
		c.AlertCooldown = 30 * time.Second
	}
	if c.ConfidenceThreshold <= 0 {
		c.ConfidenceThreshold = 0.8
	}
	if c.ReadRetryDelay <= 0 {
		c.ReadRetryDelay = 100 * time.Millisecond
	}
}

// Stats is a point-in-time snapshot of pipeline counters.
type Stats struct {
	StreamID        int64     `json:"stream_id"`
	Running         bool      `json:"running"`
	FramesCaptured  uint64    `json:"frames_captured"`
	FramesSampled   uint64    `json:"frames_sampled"`
	FramesDropped   uint64    `json:"frames_dropped"`
	DetectionRuns   uint64    `json:"detection_runs"`
	FacesDetected   uint64    `json:"faces_detected"`
	AlertsRaised    uint64    `json:"alerts_raised"`
	SaveJobsDropped uint64    `json:"save_jobs_dropped"`
	CaptureFPS      float64   `json:"capture_fps"`
	LastFrameAt     time.Time `json:"last_frame_at"`
	LastAlertAt     time.Time `json:"last_alert_at"`
}

// saveJob carries an annotated frame and its detections from the
// detection stage to the persistence stage.
type saveJob struct {
	frame      *vision.Frame
	detections []detect.Detection
}

// Pipeline runs the capture, detection and persistence stages for one
// video stream.
type Pipeline struct {
	streamID int64
	name     string
	cfg      Config

	source    vision.FrameSource
	detector  detect.Detector
	store     *datastore.Store
	snapshots *storage.SnapshotStore
	notifier  notify.Notifier
	logger    *logger.Logger

	holder  *FrameHolder
	detectQ *Queue[*vision.Frame]
	saveQ   *Queue[saveJob]

	mu      sync.Mutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	counters counters
}

// counters holds the mutable stats behind their own lock so hot paths
// never contend with Stats readers for the pipeline lock.
type counters struct {
	mu              sync.Mutex
	framesCaptured  uint64
	framesSampled   uint64
	framesDropped   uint64
	detectionRuns   uint64
	facesDetected   uint64
	alertsRaised    uint64
	saveJobsDropped uint64
	captureFPS      float64
	lastFrameAt     time.Time
	lastAlertAt     time.Time
}

// New creates a pipeline for one stream. Start must be called before
// frames flow.
func New(streamID int64, name string, cfg Config, source vision.FrameSource, detector detect.Detector, store *datastore.Store, snapshots *storage.SnapshotStore, notifier notify.Notifier, log *logger.Logger) *Pipeline {
	cfg.Normalize()
	return &Pipeline{
		streamID:  streamID,
		name:      name,
		cfg:       cfg,
		source:    source,
		detector:  detector,
		store:     store,
		snapshots: snapshots,
		notifier:  notifier,
		logger:    log,
		holder:    NewFrameHolder(),
		detectQ:   NewQueue[*vision.Frame](cfg.DetectionQueueSize),
		saveQ:     NewQueue[saveJob](cfg.SaveQueueSize),
	}
}

// StreamID returns the stream this pipeline serves
func (p *Pipeline) StreamID() int64 {
	return p.streamID
}

// Name returns the stream's display name
func (p *Pipeline) Name() string {
	return p.name
}

// Holder returns the latest-frame holder for live viewing.
func (p *Pipeline) Holder() *FrameHolder {
	return p.holder
}

// Start opens the video source and launches the worker stages. If the
// source cannot be opened no workers are started and the error is
// returned.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return fmt.Errorf("pipeline for stream %d already running", p.streamID)
	}

	if err := p.source.Open(ctx); err != nil {
		return fmt.Errorf("failed to open source for stream %d: %w", p.streamID, err)
	}

	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.running = true

	p.wg.Add(3)
	go p.captureLoop()
	go p.detectLoop()
	go p.persistLoop()

	p.logger.Info("Pipeline started",
		"stream_id", p.streamID,
		"name", p.name,
		"target_fps", p.cfg.TargetFPS,
		"frame_skip", p.cfg.FrameSkip)
	return nil
}

// Stop shuts the pipeline down: the source is closed to unblock the
// capture stage, workers drain and exit, and queued work past the
// deadline is abandoned. Stopping an already stopped pipeline is a
// no-op.
func (p *Pipeline) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.cancel()
	p.mu.Unlock()

	if err := p.source.Close(); err != nil {
		p.logger.Warn("Failed to close source", "stream_id", p.streamID, "error", err)
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("Pipeline stopped", "stream_id", p.streamID)
		return nil
	case <-ctx.Done():
		p.logger.Warn("Pipeline stop timed out", "stream_id", p.streamID)
		return ctx.Err()
	}
}

// Running reports whether the pipeline is active
func (p *Pipeline) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Stats returns a snapshot of the pipeline counters.
func (p *Pipeline) Stats() Stats {
	p.counters.mu.Lock()
	defer p.counters.mu.Unlock()
	return Stats{
		StreamID:        p.streamID,
		Running:         p.Running(),
		FramesCaptured:  p.counters.framesCaptured,
		FramesSampled:   p.counters.framesSampled,
		FramesDropped:   p.counters.framesDropped,
		DetectionRuns:   p.counters.detectionRuns,
		FacesDetected:   p.counters.facesDetected,
		AlertsRaised:    p.counters.alertsRaised,
		SaveJobsDropped: p.counters.saveJobsDropped,
		CaptureFPS:      p.counters.captureFPS,
		LastFrameAt:     p.counters.lastFrameAt,
		LastAlertAt:     p.counters.lastAlertAt,
	}
}
