package storage

import (
	"fmt"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/facewatch/facewatch/internal/logger"
	"github.com/facewatch/facewatch/internal/vision"
)

// SnapshotStore writes detection snapshots as JPEG files under a
// single images directory.
type SnapshotStore struct {
	dir     string
	quality int
	logger  *logger.Logger
}

// NewSnapshotStore creates a snapshot store rooted at dir.
func NewSnapshotStore(dir string, quality int, log *logger.Logger) (*SnapshotStore, error) {
	if quality < 1 || quality > 100 {
		quality = 85
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create images directory: %w", err)
	}
	return &SnapshotStore{
		dir:     dir,
		quality: quality,
		logger:  log,
	}, nil
}

// Dir returns the directory snapshots are written to
func (s *SnapshotStore) Dir() string {
	return s.dir
}

// Save encodes the frame as JPEG and writes it to disk. The filename
// encodes the stream ID and the frame timestamp. It returns the base
// filename, not the full path.
func (s *SnapshotStore) Save(streamID int64, frame *vision.Frame) (string, error) {
	name := fmt.Sprintf("stream%d_%s.jpg", streamID, frame.Timestamp.Format("20060102_150405"))
	path := filepath.Join(s.dir, name)

	// The directory can disappear underneath a long-running process.
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create images directory: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create snapshot file: %w", err)
	}
	defer file.Close()

	if err := jpeg.Encode(file, frame.Image, &jpeg.Options{Quality: s.quality}); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to encode snapshot: %w", err)
	}

	s.logger.Debug("Saved snapshot", "path", path, "stream_id", streamID)
	return name, nil
}

// Remove deletes a snapshot file by its base filename. Missing files
// are not an error. Names escaping the images directory are rejected.
func (s *SnapshotStore) Remove(name string) error {
	base := filepath.Base(name)
	if base != name || strings.HasPrefix(base, ".") {
		return fmt.Errorf("invalid snapshot name: %q", name)
	}
	if err := os.Remove(filepath.Join(s.dir, base)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove snapshot: %w", err)
	}
	return nil
}

// Path resolves a snapshot base filename to its path on disk, or an
// error if the name would escape the images directory.
func (s *SnapshotStore) Path(name string) (string, error) {
	base := filepath.Base(name)
	if base != name || strings.HasPrefix(base, ".") {
		return "", fmt.Errorf("invalid snapshot name: %q", name)
	}
	return filepath.Join(s.dir, base), nil
}

// timestampFromName is a helper for tests and diagnostics
func timestampFromName(name string) (time.Time, bool) {
	base := strings.TrimSuffix(filepath.Base(name), ".jpg")
	idx := strings.Index(base, "_")
	if idx < 0 {
		return time.Time{}, false
	}
	ts, err := time.ParseInLocation("20060102_150405", base[idx+1:], time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}
