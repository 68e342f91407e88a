package detect

import (
	"github.com/facewatch/facewatch/internal/vision"
)

// Detection represents a detected object within a frame
type Detection struct {
	X          int     `json:"x"`
	Y          int     `json:"y"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Confidence float64 `json:"confidence"` // 0.0 to 1.0
	Label      string  `json:"label,omitempty"`
}

// Detector abstracts a face/object detector.
//
// Detect returns detections at or above threshold; the threshold is
// applied inside the detector so callers never filter a second time.
// Implementations must be safe for concurrent calls or serialize
// internally.
type Detector interface {
	Detect(frame *vision.Frame, threshold float64) ([]Detection, error)
}
