package pipeline

import (
	"time"

	"github.com/facewatch/facewatch/internal/detect"
	"github.com/facewatch/facewatch/internal/notify"
)

const pollInterval = time.Second

// detectLoop consumes sampled frames, runs the detector, reports the
// face count, and enqueues an annotated save job when the alert
// cooldown allows.
func (p *Pipeline) detectLoop() {
	defer p.wg.Done()

	var lastAlert time.Time

	for {
		if p.ctx.Err() != nil {
			return
		}

		frame, ok := p.detectQ.Poll(pollInterval)
		if !ok {
			continue
		}

		detections, err := p.detector.Detect(frame, p.cfg.ConfidenceThreshold)
		if err != nil {
			p.logger.Warn("Detection failed",
				"stream_id", p.streamID, "error", err)
			continue
		}

		p.counters.mu.Lock()
		p.counters.detectionRuns++
		p.counters.facesDetected += uint64(len(detections))
		p.counters.mu.Unlock()

		p.notifier.PublishFaceCount(notify.FaceCountUpdate{
			StreamID:  p.streamID,
			Count:     len(detections),
			Timestamp: frame.Timestamp,
		})

		if len(detections) == 0 {
			continue
		}
		if !lastAlert.IsZero() && time.Since(lastAlert) < p.cfg.AlertCooldown {
			continue
		}

		// The cooldown clock starts when the alert is decided, not
		// when the snapshot lands on disk.
		lastAlert = time.Now()

		p.counters.mu.Lock()
		p.counters.lastAlertAt = lastAlert
		p.counters.mu.Unlock()

		annotated := detect.Annotate(frame, detections)
		if !p.saveQ.Offer(saveJob{frame: annotated, detections: detections}) {
			p.counters.mu.Lock()
			p.counters.saveJobsDropped++
			p.counters.mu.Unlock()
			p.logger.Warn("Save queue full, dropping alert snapshot",
				"stream_id", p.streamID, "faces", len(detections))
		}
	}
}
