package datastore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/facewatch/facewatch/internal/logger"
)

// Store persists streams, detections and alerts in SQLite.
type Store struct {
	db     *sql.DB
	logger *logger.Logger
}

// BoundingBox locates a detected object within its snapshot image
type BoundingBox struct {
	X      int
	Y      int
	Width  int
	Height int
}

// DetectionRecord is one persisted detection
type DetectionRecord struct {
	ID              int64
	StreamID        int64
	ConfidenceScore float64
	ImagePath       string
	BBox            BoundingBox
	CreatedAt       time.Time
}

// AlertRecord is the alert raised for a detection
type AlertRecord struct {
	ID          int64
	DetectionID int64
	Viewed      bool
	Dismissed   bool
	CreatedAt   time.Time
	ViewedAt    *time.Time

	// Joined detection/stream fields for listing
	StreamName      string
	ConfidenceScore float64
	ImagePath       string
	BBox            BoundingBox
}

// StreamRecord is a configured video source
type StreamRecord struct {
	ID                  int64
	Name                string
	URL                 string
	DetectionEnabled    bool
	ConfidenceThreshold float64
	Status              string
	LastConnection      *time.Time
	CreatedAt           time.Time
}

// DailyCount is one day's detection total
type DailyCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// Stats summarizes detections over a window
type Stats struct {
	TotalDetections int          `json:"total_detections"`
	AvgConfidence   float64      `json:"avg_confidence"`
	Daily           []DailyCount `json:"daily_stats"`
}

// Open opens (creating if necessary) the SQLite database at path.
func Open(path string, log *logger.Logger) (*Store, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=1")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite handles concurrent writers poorly; serialize through one conn.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	store := &Store{db: db, logger: log}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database handle
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS streams (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		url TEXT NOT NULL,
		detection_enabled BOOLEAN DEFAULT 1,
		confidence_threshold REAL DEFAULT 0.8,
		last_connection TIMESTAMP,
		status TEXT DEFAULT 'disconnected',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS detections (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		stream_id INTEGER NOT NULL,
		confidence_score REAL NOT NULL,
		image_path TEXT,
		bbox_x INTEGER,
		bbox_y INTEGER,
		bbox_width INTEGER,
		bbox_height INTEGER,
		created_at TIMESTAMP NOT NULL,
		FOREIGN KEY (stream_id) REFERENCES streams (id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS alerts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		detection_id INTEGER NOT NULL,
		viewed BOOLEAN DEFAULT 0,
		dismissed BOOLEAN DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		viewed_at TIMESTAMP,
		FOREIGN KEY (detection_id) REFERENCES detections (id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_detections_stream_id ON detections(stream_id);
	CREATE INDEX IF NOT EXISTS idx_detections_created_at ON detections(created_at);
	CREATE INDEX IF NOT EXISTS idx_alerts_detection_id ON alerts(detection_id);
	CREATE INDEX IF NOT EXISTS idx_alerts_created_at ON alerts(created_at);
	CREATE INDEX IF NOT EXISTS idx_alerts_viewed ON alerts(viewed);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// UpsertStream registers a configured stream, updating its name/url if
// it already exists.
func (s *Store) UpsertStream(ctx context.Context, stream StreamRecord) error {
	query := `
		INSERT INTO streams (id, name, url, detection_enabled, confidence_threshold)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			url = excluded.url,
			detection_enabled = excluded.detection_enabled,
			confidence_threshold = excluded.confidence_threshold,
			updated_at = CURRENT_TIMESTAMP
	`
	_, err := s.db.ExecContext(ctx, query,
		stream.ID, stream.Name, stream.URL, stream.DetectionEnabled, stream.ConfidenceThreshold)
	if err != nil {
		return fmt.Errorf("failed to upsert stream: %w", err)
	}
	return nil
}

// UpdateStreamStatus records the connection state of a stream
func (s *Store) UpdateStreamStatus(ctx context.Context, streamID int64, status string) error {
	query := `UPDATE streams SET status = ?, last_connection = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`
	_, err := s.db.ExecContext(ctx, query, status, time.Now(), streamID)
	if err != nil {
		return fmt.Errorf("failed to update stream status: %w", err)
	}
	return nil
}

// ListStreams returns all configured streams
func (s *Store) ListStreams(ctx context.Context) ([]StreamRecord, error) {
	query := `
		SELECT id, name, url, detection_enabled, confidence_threshold,
		       last_connection, status, created_at
		FROM streams
		ORDER BY id
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list streams: %w", err)
	}
	defer rows.Close()

	var streams []StreamRecord
	for rows.Next() {
		var rec StreamRecord
		var lastConn sql.NullTime
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.URL, &rec.DetectionEnabled,
			&rec.ConfidenceThreshold, &lastConn, &rec.Status, &rec.CreatedAt); err != nil {
			return nil, err
		}
		if lastConn.Valid {
			rec.LastConnection = &lastConn.Time
		}
		streams = append(streams, rec)
	}
	return streams, rows.Err()
}

// SaveDetection persists one detection and returns its ID.
func (s *Store) SaveDetection(ctx context.Context, streamID int64, confidence float64, imagePath string, bbox BoundingBox) (int64, error) {
	query := `
		INSERT INTO detections (stream_id, confidence_score, image_path,
		                        bbox_x, bbox_y, bbox_width, bbox_height, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	res, err := s.db.ExecContext(ctx, query,
		streamID, confidence, imagePath, bbox.X, bbox.Y, bbox.Width, bbox.Height, time.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to save detection: %w", err)
	}
	return res.LastInsertId()
}

// GetDetection retrieves one detection by ID.
func (s *Store) GetDetection(ctx context.Context, id int64) (*DetectionRecord, error) {
	query := `
		SELECT id, stream_id, confidence_score, image_path,
		       bbox_x, bbox_y, bbox_width, bbox_height, created_at
		FROM detections WHERE id = ?
	`
	var rec DetectionRecord
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&rec.ID, &rec.StreamID, &rec.ConfidenceScore, &rec.ImagePath,
		&rec.BBox.X, &rec.BBox.Y, &rec.BBox.Width, &rec.BBox.Height, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get detection: %w", err)
	}
	return &rec, nil
}

// CreateAlert creates the alert for a detection and returns its ID.
func (s *Store) CreateAlert(ctx context.Context, detectionID int64) (int64, error) {
	query := `INSERT INTO alerts (detection_id, viewed, created_at) VALUES (?, 0, ?)`
	res, err := s.db.ExecContext(ctx, query, detectionID, time.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to create alert: %w", err)
	}
	return res.LastInsertId()
}

// MarkAlertViewed flags an alert as seen by a user
func (s *Store) MarkAlertViewed(ctx context.Context, alertID int64) error {
	query := `UPDATE alerts SET viewed = 1, viewed_at = ? WHERE id = ?`
	res, err := s.db.ExecContext(ctx, query, time.Now(), alertID)
	if err != nil {
		return fmt.Errorf("failed to mark alert viewed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("alert %d not found", alertID)
	}
	return nil
}

// DismissAlert hides an alert from default listings
func (s *Store) DismissAlert(ctx context.Context, alertID int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE alerts SET dismissed = 1 WHERE id = ?`, alertID)
	if err != nil {
		return fmt.Errorf("failed to dismiss alert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("alert %d not found", alertID)
	}
	return nil
}

// GetRecentAlerts returns the latest alerts joined with their detection
// and stream. streamID 0 means all streams.
func (s *Store) GetRecentAlerts(ctx context.Context, limit int, streamID int64) ([]AlertRecord, error) {
	if limit <= 0 {
		limit = 10
	}

	query := `
		SELECT a.id, a.detection_id, a.viewed, a.dismissed, a.created_at, a.viewed_at,
		       s.name, d.confidence_score, d.image_path,
		       d.bbox_x, d.bbox_y, d.bbox_width, d.bbox_height
		FROM alerts a
		JOIN detections d ON a.detection_id = d.id
		JOIN streams s ON d.stream_id = s.id
		WHERE a.dismissed = 0
	`
	args := []interface{}{}
	if streamID != 0 {
		query += " AND s.id = ?"
		args = append(args, streamID)
	}
	query += " ORDER BY a.created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent alerts: %w", err)
	}
	defer rows.Close()

	var alerts []AlertRecord
	for rows.Next() {
		var rec AlertRecord
		var viewedAt sql.NullTime
		if err := rows.Scan(&rec.ID, &rec.DetectionID, &rec.Viewed, &rec.Dismissed, &rec.CreatedAt, &viewedAt,
			&rec.StreamName, &rec.ConfidenceScore, &rec.ImagePath,
			&rec.BBox.X, &rec.BBox.Y, &rec.BBox.Width, &rec.BBox.Height); err != nil {
			return nil, err
		}
		if viewedAt.Valid {
			rec.ViewedAt = &viewedAt.Time
		}
		alerts = append(alerts, rec)
	}
	return alerts, rows.Err()
}

// GetStats summarizes detections in the past windowDays days.
// streamID 0 means all streams.
func (s *Store) GetStats(ctx context.Context, streamID int64, windowDays int) (*Stats, error) {
	if windowDays <= 0 {
		windowDays = 7
	}
	cutoff := time.Now().AddDate(0, 0, -windowDays)

	where := "WHERE created_at >= ?"
	args := []interface{}{cutoff}
	if streamID != 0 {
		where += " AND stream_id = ?"
		args = append(args, streamID)
	}

	stats := &Stats{}

	var avg sql.NullFloat64
	query := fmt.Sprintf(`SELECT COUNT(*), AVG(confidence_score) FROM detections %s`, where)
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&stats.TotalDetections, &avg); err != nil {
		return nil, fmt.Errorf("failed to get detection stats: %w", err)
	}
	if avg.Valid {
		stats.AvgConfidence = avg.Float64
	}

	query = fmt.Sprintf(`
		SELECT DATE(created_at), COUNT(*)
		FROM detections %s
		GROUP BY DATE(created_at)
		ORDER BY DATE(created_at) DESC
	`, where)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get daily stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var day DailyCount
		if err := rows.Scan(&day.Date, &day.Count); err != nil {
			return nil, err
		}
		stats.Daily = append(stats.Daily, day)
	}
	return stats, rows.Err()
}

// DeleteDetectionsOlderThan removes detections (and, through the cascade,
// their alerts) created before cutoff. It returns the image paths of the
// deleted detections so the caller can remove the files.
func (s *Store) DeleteDetectionsOlderThan(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT image_path FROM detections WHERE created_at < ? AND image_path != ''`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired detections: %w", err)
	}
	var paths []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			rows.Close()
			return nil, err
		}
		paths = append(paths, path)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	res, err := s.db.ExecContext(ctx, `DELETE FROM detections WHERE created_at < ?`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to delete expired detections: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		s.logger.Info("Deleted expired detections", "count", n, "cutoff", cutoff)
	}
	return paths, nil
}
