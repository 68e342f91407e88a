package notify

import (
	"time"

	"github.com/google/uuid"
)

// Event names delivered over the realtime channel
const (
	EventFPSUpdate       = "fps_update"
	EventFaceCountUpdate = "face_count_update"
	EventNewAlert        = "new_alert"
)

// Envelope wraps every message sent to subscribers
type Envelope struct {
	ID    string      `json:"id"`
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// FPSUpdate reports the measured capture rate of a stream
type FPSUpdate struct {
	StreamID int64   `json:"stream_id"`
	FPS      float64 `json:"fps"`
}

// FaceCountUpdate reports how many objects were seen in one processed frame
type FaceCountUpdate struct {
	StreamID  int64     `json:"stream_id"`
	Count     int       `json:"face_count"`
	Timestamp time.Time `json:"timestamp"`
}

// NewAlert reports a persisted detection with its snapshot
type NewAlert struct {
	StreamID      int64     `json:"stream_id"`
	Count         int       `json:"face_count"`
	ImagePath     string    `json:"image_path"`
	MaxConfidence float64   `json:"confidence"`
	Timestamp     time.Time `json:"timestamp"`
}

// Notifier pushes pipeline events to connected viewers. Delivery is
// fire-and-forget: subscribers that are not connected miss the event.
type Notifier interface {
	PublishFPS(update FPSUpdate)
	PublishFaceCount(update FaceCountUpdate)
	PublishAlert(alert NewAlert)
}

// newEnvelope assigns a fresh message ID
func newEnvelope(event string, data interface{}) Envelope {
	return Envelope{
		ID:    uuid.New().String(),
		Event: event,
		Data:  data,
	}
}
