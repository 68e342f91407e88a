package detect

import (
	"encoding/json"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/facewatch/facewatch/internal/vision"
)

func testFrame(w, h int) *vision.Frame {
	return vision.NewFrame(image.NewRGBA(image.Rect(0, 0, w, h)), time.Now())
}

func TestRemoteDetector_Detect(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/inference" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}

		var req inferenceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		if req.Image == "" {
			t.Error("Request should carry the encoded frame")
		}
		if req.ConfidenceThreshold == nil || *req.ConfidenceThreshold != 0.8 {
			t.Errorf("Threshold should be forwarded, got %v", req.ConfidenceThreshold)
		}

		json.NewEncoder(w).Encode(inferenceResponse{
			BoundingBoxes: []inferenceBox{
				{X1: 10, Y1: 20, X2: 40, Y2: 60, Confidence: 0.95, ClassName: "face"},
				{X1: 0, Y1: 0, X2: 5, Y2: 5, Confidence: 0.3, ClassName: "face"},
			},
			DetectionCount: 2,
		})
	}))
	defer server.Close()

	d := NewRemoteDetector(RemoteDetectorConfig{ServiceURL: server.URL, Timeout: 5 * time.Second})

	detections, err := d.Detect(testFrame(64, 64), 0.8)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}

	// The low-confidence box is filtered out.
	if len(detections) != 1 {
		t.Fatalf("Expected 1 detection above the threshold, got %d", len(detections))
	}
	got := detections[0]
	if got.X != 10 || got.Y != 20 || got.Width != 30 || got.Height != 40 {
		t.Errorf("Unexpected box: %+v", got)
	}
	if got.Confidence != 0.95 || got.Label != "face" {
		t.Errorf("Unexpected detection metadata: %+v", got)
	}
}

func TestRemoteDetector_ServiceError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	d := NewRemoteDetector(RemoteDetectorConfig{ServiceURL: server.URL})
	if _, err := d.Detect(testFrame(32, 32), 0.8); err == nil {
		t.Error("A non-200 response should surface as an error")
	}
}

func TestRemoteDetector_NilFrame(t *testing.T) {
	d := NewRemoteDetector(RemoteDetectorConfig{ServiceURL: "http://localhost:1"})
	detections, err := d.Detect(nil, 0.8)
	if err != nil || detections != nil {
		t.Errorf("Nil frame should yield nothing, got %v / %v", detections, err)
	}
}

func TestNewFaceDetector_MissingCascade(t *testing.T) {
	if _, err := NewFaceDetector(FaceDetectorConfig{CascadePath: "/nonexistent/facefinder"}); err == nil {
		t.Error("A missing cascade file should fail construction")
	}
}

func TestAnnotate_DoesNotMutateOriginal(t *testing.T) {
	frame := testFrame(64, 64)
	detections := []Detection{{X: 8, Y: 8, Width: 32, Height: 32, Confidence: 0.9, Label: "face"}}

	annotated := Annotate(frame, detections)
	if annotated == frame {
		t.Fatal("Annotate should work on a copy")
	}

	// The original stays black while the copy carries the green box.
	if got := frame.Image.RGBAAt(8, 8); got.G != 0 {
		t.Errorf("Original frame was mutated: %+v", got)
	}
	if got := annotated.Image.RGBAAt(8, 8); got.G == 0 {
		t.Errorf("Expected a drawn rectangle at the box corner, got %+v", got)
	}
}

func TestAnnotate_ClipsOutOfBoundsBox(t *testing.T) {
	frame := testFrame(32, 32)
	detections := []Detection{{X: -10, Y: -10, Width: 100, Height: 100, Confidence: 0.9}}

	// Must not panic on boxes extending past the frame.
	annotated := Annotate(frame, detections)
	if annotated.Width() != 32 || annotated.Height() != 32 {
		t.Errorf("Annotated frame changed size: %dx%d", annotated.Width(), annotated.Height())
	}
}

func TestAnnotate_NoDetections(t *testing.T) {
	frame := testFrame(16, 16)
	frame.Image.SetRGBA(0, 0, color.RGBA{R: 123, A: 255})

	annotated := Annotate(frame, nil)
	if got := annotated.Image.RGBAAt(0, 0); got.R != 123 {
		t.Errorf("Annotate without detections should copy pixels verbatim: %+v", got)
	}
}
