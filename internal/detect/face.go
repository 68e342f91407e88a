package detect

import (
	"fmt"
	"os"
	"sync"

	pigo "github.com/esimov/pigo/core"

	"github.com/facewatch/facewatch/internal/vision"
)

// qualityScale maps the pigo cascade quality score onto [0,1]. Scores
// above the scale clamp to 1.0; in practice frontal faces score 5-60.
const qualityScale = 50.0

// FaceDetector detects faces using a pigo cascade classifier.
type FaceDetector struct {
	classifier *pigo.Pigo
	mu         sync.Mutex // pigo cascades are not safe for concurrent runs
}

// FaceDetectorConfig contains face detector configuration
type FaceDetectorConfig struct {
	CascadePath string
}

// NewFaceDetector loads and unpacks the cascade file.
func NewFaceDetector(cfg FaceDetectorConfig) (*FaceDetector, error) {
	data, err := os.ReadFile(cfg.CascadePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read cascade file: %w", err)
	}

	classifier, err := pigo.NewPigo().Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack cascade file: %w", err)
	}

	return &FaceDetector{classifier: classifier}, nil
}

// Detect runs the cascade over the frame and returns face detections at
// or above threshold.
func (d *FaceDetector) Detect(frame *vision.Frame, threshold float64) ([]Detection, error) {
	if frame == nil || frame.Image == nil {
		return nil, nil
	}

	w := frame.Width()
	h := frame.Height()
	pixels := pigo.RgbToGrayscale(frame.Image)

	params := pigo.CascadeParams{
		MinSize:     20,
		MaxSize:     1000,
		ShiftFactor: 0.1,
		ScaleFactor: 1.1,
		ImageParams: pigo.ImageParams{
			Pixels: pixels,
			Rows:   h,
			Cols:   w,
			Dim:    w,
		},
	}

	d.mu.Lock()
	dets := d.classifier.RunCascade(params, 0.0)
	dets = d.classifier.ClusterDetections(dets, 0.2)
	d.mu.Unlock()

	var out []Detection
	for _, det := range dets {
		conf := float64(det.Q) / qualityScale
		if conf > 1.0 {
			conf = 1.0
		}
		if conf < threshold {
			continue
		}

		size := int(det.Scale)
		out = append(out, Detection{
			X:          int(det.Col) - size/2,
			Y:          int(det.Row) - size/2,
			Width:      size,
			Height:     size,
			Confidence: conf,
			Label:      "face",
		})
	}

	return out, nil
}
