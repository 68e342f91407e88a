package pipeline

import (
	"time"

	"github.com/facewatch/facewatch/internal/notify"
	"github.com/facewatch/facewatch/internal/vision"
)

// captureLoop reads frames at the target rate, publishes each to the
// latest-frame holder, and forwards every Nth frame to the detection
// queue.
func (p *Pipeline) captureLoop() {
	defer p.wg.Done()

	interval := time.Second / time.Duration(p.cfg.TargetFPS)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var frameCount uint64
	windowStart := time.Now()
	windowFrames := 0

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
		}

		frame, err := p.source.ReadFrame()
		if err != nil {
			if p.ctx.Err() != nil {
				return
			}
			p.logger.Warn("Frame read failed",
				"stream_id", p.streamID, "error", err)
			select {
			case <-p.ctx.Done():
				return
			case <-time.After(p.cfg.ReadRetryDelay):
			}
			continue
		}

		frame = vision.Resize(frame, p.cfg.MaxFrameWidth)
		p.holder.Set(frame)

		frameCount++
		windowFrames++

		p.counters.mu.Lock()
		p.counters.framesCaptured++
		p.counters.lastFrameAt = frame.Timestamp
		p.counters.mu.Unlock()

		if frameCount%uint64(p.cfg.FrameSkip) == 0 {
			dropped := p.detectQ.OfferDropOldest(frame)
			p.counters.mu.Lock()
			p.counters.framesSampled++
			if dropped {
				p.counters.framesDropped++
			}
			p.counters.mu.Unlock()
		}

		if elapsed := time.Since(windowStart); elapsed >= time.Second {
			fps := float64(windowFrames) / elapsed.Seconds()
			windowStart = time.Now()
			windowFrames = 0

			p.counters.mu.Lock()
			p.counters.captureFPS = fps
			p.counters.mu.Unlock()

			p.notifier.PublishFPS(notify.FPSUpdate{StreamID: p.streamID, FPS: fps})
		}
	}
}
