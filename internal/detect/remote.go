package detect

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image/jpeg"
	"io"
	"net/http"
	"time"

	"github.com/facewatch/facewatch/internal/vision"
)

// inferenceRequest is the wire format of the inference service
type inferenceRequest struct {
	Image               string   `json:"image"` // base64-encoded JPEG
	ConfidenceThreshold *float64 `json:"confidence_threshold,omitempty"`
	EnabledClasses      []string `json:"enabled_classes,omitempty"`
}

// inferenceBox is one detected object in the service response
type inferenceBox struct {
	X1         float64 `json:"x1"`
	Y1         float64 `json:"y1"`
	X2         float64 `json:"x2"`
	Y2         float64 `json:"y2"`
	Confidence float64 `json:"confidence"`
	ClassName  string  `json:"class_name"`
}

// inferenceResponse is the inference service response
type inferenceResponse struct {
	BoundingBoxes   []inferenceBox `json:"bounding_boxes"`
	InferenceTimeMs float64        `json:"inference_time_ms"`
	DetectionCount  int            `json:"detection_count"`
}

// RemoteDetector sends frames to an external HTTP inference service.
// It covers models the process cannot host itself, such as a combined
// face and vehicle model.
type RemoteDetector struct {
	serviceURL     string
	httpClient     *http.Client
	enabledClasses []string
	jpegQuality    int
}

// RemoteDetectorConfig contains configuration for the remote detector
type RemoteDetectorConfig struct {
	ServiceURL     string
	Timeout        time.Duration
	EnabledClasses []string
}

// NewRemoteDetector creates a detector backed by an HTTP inference service.
func NewRemoteDetector(cfg RemoteDetectorConfig) *RemoteDetector {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &RemoteDetector{
		serviceURL:     cfg.ServiceURL,
		httpClient:     &http.Client{Timeout: cfg.Timeout},
		enabledClasses: cfg.EnabledClasses,
		jpegQuality:    80,
	}
}

// Detect encodes the frame as JPEG and requests inference.
func (d *RemoteDetector) Detect(frame *vision.Frame, threshold float64) ([]Detection, error) {
	if frame == nil || frame.Image == nil {
		return nil, nil
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame.Image, &jpeg.Options{Quality: d.jpegQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}

	req := inferenceRequest{
		Image: base64.StdEncoding.EncodeToString(buf.Bytes()),
	}
	if threshold > 0 {
		req.ConfidenceThreshold = &threshold
	}
	if len(d.enabledClasses) > 0 {
		req.EnabledClasses = d.enabledClasses
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.httpClient.Timeout)
	defer cancel()

	url := fmt.Sprintf("%s/api/v1/inference", d.serviceURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("inference service returned %d: %s", resp.StatusCode, string(body))
	}

	var infResp inferenceResponse
	if err := json.Unmarshal(body, &infResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	var out []Detection
	for _, box := range infResp.BoundingBoxes {
		if box.Confidence < threshold {
			continue
		}
		out = append(out, Detection{
			X:          int(box.X1),
			Y:          int(box.Y1),
			Width:      int(box.X2 - box.X1),
			Height:     int(box.Y2 - box.Y1),
			Confidence: box.Confidence,
			Label:      box.ClassName,
		})
	}

	return out, nil
}
