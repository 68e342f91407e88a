package web

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/facewatch/facewatch/internal/datastore"
)

// handleHealth is the liveness endpoint
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleStatus reports service states and basic runtime info
func (s *Server) handleStatus(c *gin.Context) {
	services := gin.H{}
	if s.manager != nil {
		for name, status := range s.manager.GetAllStatuses() {
			services[name] = string(status.GetStatus())
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"version":          s.version,
		"uptime_seconds":   int64(time.Since(s.startTime).Seconds()),
		"services":         services,
		"pipelines":        s.registry.AllStats(),
		"realtime_clients": s.hub.ClientCount(),
	})
}

type streamView struct {
	ID               int64      `json:"id"`
	Name             string     `json:"name"`
	URL              string     `json:"url"`
	DetectionEnabled bool       `json:"detection_enabled"`
	Status           string     `json:"status"`
	Running          bool       `json:"running"`
	CaptureFPS       float64    `json:"capture_fps"`
	LastConnection   *time.Time `json:"last_connection,omitempty"`
}

// handleListStreams lists configured streams with their live state
func (s *Server) handleListStreams(c *gin.Context) {
	records, err := s.store.ListStreams(c.Request.Context())
	if err != nil {
		s.LogError("Failed to list streams", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list streams"})
		return
	}

	views := make([]streamView, 0, len(records))
	for _, rec := range records {
		view := streamView{
			ID:               rec.ID,
			Name:             rec.Name,
			URL:              rec.URL,
			DetectionEnabled: rec.DetectionEnabled,
			Status:           rec.Status,
			LastConnection:   rec.LastConnection,
		}
		if p := s.registry.Get(rec.ID); p != nil {
			stats := p.Stats()
			view.Running = stats.Running
			view.CaptureFPS = stats.CaptureFPS
		}
		views = append(views, view)
	}

	c.JSON(http.StatusOK, gin.H{"streams": views})
}

// handleStreamStats returns the pipeline counters for one stream
func (s *Server) handleStreamStats(c *gin.Context) {
	streamID, ok := s.streamIDParam(c)
	if !ok {
		return
	}

	p := s.registry.Get(streamID)
	if p == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("Stream %d is not running", streamID)})
		return
	}

	c.JSON(http.StatusOK, p.Stats())
}

// handleStartStream starts the pipeline for a stream
func (s *Server) handleStartStream(c *gin.Context) {
	streamID, ok := s.streamIDParam(c)
	if !ok {
		return
	}

	if err := s.registry.StartStream(c.Request.Context(), streamID); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"stream_id": streamID, "status": "started"})
}

// handleStopStream stops the pipeline for a stream
func (s *Server) handleStopStream(c *gin.Context) {
	streamID, ok := s.streamIDParam(c)
	if !ok {
		return
	}

	ctx, cancel := contextWithStopDeadline(c)
	defer cancel()

	if err := s.registry.StopStream(ctx, streamID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"stream_id": streamID, "status": "stopped"})
}

// handleStreamFeed serves the live MJPEG feed for a stream. Frames come
// from the latest-frame holder, so the feed never blocks the pipeline.
func (s *Server) handleStreamFeed(c *gin.Context) {
	streamID, ok := s.streamIDParam(c)
	if !ok {
		return
	}

	p := s.registry.Get(streamID)
	if p == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("Stream %d is not running", streamID)})
		return
	}
	holder := p.Holder()

	c.Header("Content-Type", "multipart/x-mixed-replace; boundary=--frame")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("Pragma", "no-cache")
	c.Header("X-Accel-Buffering", "no")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Streaming not supported"})
		return
	}

	interval := time.Second / time.Duration(s.displayFPS)
	var buf bytes.Buffer

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case <-time.After(interval):
		}

		frame := holder.Get()
		if frame == nil {
			// No frame captured yet, keep the connection open.
			return true
		}

		buf.Reset()
		if err := jpeg.Encode(&buf, frame.Image, &jpeg.Options{Quality: 80}); err != nil {
			s.LogWarn("Failed to encode feed frame", "stream_id", streamID, "error", err)
			return true
		}

		fmt.Fprintf(w, "--frame\r\n")
		fmt.Fprintf(w, "Content-Type: image/jpeg\r\n")
		fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", buf.Len())
		w.Write(buf.Bytes())
		fmt.Fprintf(w, "\r\n")
		flusher.Flush()
		return true
	})
}

type alertView struct {
	ID         int64                 `json:"id"`
	StreamName string                `json:"stream_name"`
	Confidence float64               `json:"confidence"`
	ImagePath  string                `json:"image_path"`
	BBox       datastore.BoundingBox `json:"bbox"`
	Viewed     bool                  `json:"viewed"`
	Dismissed  bool                  `json:"dismissed"`
	CreatedAt  time.Time             `json:"created_at"`
}

// handleListAlerts returns the most recent alerts
func (s *Server) handleListAlerts(c *gin.Context) {
	limit := intQuery(c, "limit", 10)
	streamID := int64(intQuery(c, "stream_id", 0))

	alerts, err := s.store.GetRecentAlerts(c.Request.Context(), limit, streamID)
	if err != nil {
		s.LogError("Failed to list alerts", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list alerts"})
		return
	}

	views := make([]alertView, 0, len(alerts))
	for _, a := range alerts {
		views = append(views, alertView{
			ID:         a.ID,
			StreamName: a.StreamName,
			Confidence: a.ConfidenceScore,
			ImagePath:  a.ImagePath,
			BBox:       a.BBox,
			Viewed:     a.Viewed,
			Dismissed:  a.Dismissed,
			CreatedAt:  a.CreatedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{"alerts": views})
}

// handleViewAlert marks an alert as viewed
func (s *Server) handleViewAlert(c *gin.Context) {
	alertID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid alert ID"})
		return
	}

	if err := s.store.MarkAlertViewed(c.Request.Context(), alertID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"alert_id": alertID, "viewed": true})
}

// handleDismissAlert hides an alert from default listings
func (s *Server) handleDismissAlert(c *gin.Context) {
	alertID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid alert ID"})
		return
	}

	if err := s.store.DismissAlert(c.Request.Context(), alertID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"alert_id": alertID, "dismissed": true})
}

// handleStats summarizes detections over a window
func (s *Server) handleStats(c *gin.Context) {
	streamID := int64(intQuery(c, "stream_id", 0))
	days := intQuery(c, "days", 7)

	stats, err := s.store.GetStats(c.Request.Context(), streamID, days)
	if err != nil {
		s.LogError("Failed to get stats", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get stats"})
		return
	}

	c.JSON(http.StatusOK, stats)
}

// handleImage serves a saved detection snapshot
func (s *Server) handleImage(c *gin.Context) {
	path, err := s.snapshots.Path(c.Param("name"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid image name"})
		return
	}
	c.File(path)
}

func (s *Server) streamIDParam(c *gin.Context) (int64, bool) {
	streamID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || streamID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid stream ID"})
		return 0, false
	}
	return streamID, true
}

// contextWithStopDeadline bounds how long a stop request may wait for
// pipeline workers to drain.
func contextWithStopDeadline(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), 10*time.Second)
}

func intQuery(c *gin.Context, name string, def int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
