package pipeline

import (
	"github.com/facewatch/facewatch/internal/datastore"
	"github.com/facewatch/facewatch/internal/notify"
)

// persistLoop consumes save jobs: it writes the annotated snapshot,
// records one detection per face plus its alert, and broadcasts the
// alert event. A failed job is logged and dropped so one bad write
// never stalls the stage.
func (p *Pipeline) persistLoop() {
	defer p.wg.Done()

	for {
		if p.ctx.Err() != nil {
			return
		}

		job, ok := p.saveQ.Poll(pollInterval)
		if !ok {
			continue
		}
		p.persistJob(job)
	}
}

func (p *Pipeline) persistJob(job saveJob) {
	imagePath, err := p.snapshots.Save(p.streamID, job.frame)
	if err != nil {
		p.logger.Error("Failed to save snapshot",
			"stream_id", p.streamID, "error", err)
		return
	}

	maxConfidence := 0.0
	saved := 0
	for _, det := range job.detections {
		detectionID, err := p.store.SaveDetection(p.ctx, p.streamID, det.Confidence, imagePath, datastore.BoundingBox{
			X:      det.X,
			Y:      det.Y,
			Width:  det.Width,
			Height: det.Height,
		})
		if err != nil {
			p.logger.Error("Failed to save detection",
				"stream_id", p.streamID, "error", err)
			continue
		}
		if _, err := p.store.CreateAlert(p.ctx, detectionID); err != nil {
			p.logger.Error("Failed to create alert",
				"stream_id", p.streamID, "detection_id", detectionID, "error", err)
			continue
		}
		if det.Confidence > maxConfidence {
			maxConfidence = det.Confidence
		}
		saved++
	}

	if saved == 0 {
		return
	}

	p.counters.mu.Lock()
	p.counters.alertsRaised++
	p.counters.mu.Unlock()

	p.notifier.PublishAlert(notify.NewAlert{
		StreamID:      p.streamID,
		Count:         len(job.detections),
		ImagePath:     imagePath,
		MaxConfidence: maxConfidence,
		Timestamp:     job.frame.Timestamp,
	})

	p.logger.Info("Alert recorded",
		"stream_id", p.streamID,
		"faces", len(job.detections),
		"image", imagePath,
		"confidence", maxConfidence)
}
