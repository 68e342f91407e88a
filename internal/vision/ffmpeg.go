package vision

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// jpegSOI and jpegEOI delimit a JPEG image in the MJPEG byte stream.
var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// maxFrameBytes bounds the scan buffer so a corrupt stream cannot grow
// the frame accumulator without limit.
const maxFrameBytes = 8 * 1024 * 1024

// FFmpegSource reads frames from an RTSP URL or V4L2 device through a
// long-running ffmpeg process emitting an MJPEG stream on stdout.
type FFmpegSource struct {
	url     string
	fps     int
	quality int

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdout io.ReadCloser
	reader *bufio.Reader
	cancel context.CancelFunc
	opened bool

	pending bytes.Buffer
}

// FFmpegSourceConfig contains frame source configuration
type FFmpegSourceConfig struct {
	URL     string
	FPS     int // requested output rate, 0 = source rate
	Quality int // MJPEG quality (2 = high, 31 = low)
}

// NewFFmpegSource creates a frame source for the given URL or device path.
func NewFFmpegSource(cfg FFmpegSourceConfig) *FFmpegSource {
	quality := cfg.Quality
	if quality == 0 {
		quality = 5
	}
	return &FFmpegSource{
		url:     cfg.URL,
		fps:     cfg.FPS,
		quality: quality,
	}
}

// Open validates the source and starts the ffmpeg reader process.
// RTSP URLs are probed first so an unreachable camera fails here rather
// than producing an endless stream of read errors.
func (s *FFmpegSource) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.opened {
		return fmt.Errorf("source already open: %s", s.url)
	}

	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return fmt.Errorf("ffmpeg binary not found: %w", err)
	}

	if strings.HasPrefix(s.url, "rtsp://") {
		if err := ProbeRTSP(s.url, 10*time.Second); err != nil {
			return fmt.Errorf("cannot open stream %s: %w", s.url, err)
		}
	}

	args := s.buildArgs()
	procCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(procCtx, "ffmpeg", args...)
	cmd.Stderr = io.Discard

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("failed to open ffmpeg stdout: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		stdout.Close()
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	s.cmd = cmd
	s.stdout = stdout
	s.reader = bufio.NewReaderSize(stdout, 64*1024)
	s.cancel = cancel
	s.opened = true
	s.pending.Reset()

	// Stop the process if the caller context dies before Close is called.
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-procCtx.Done():
		}
	}()

	return nil
}

// buildArgs assembles the ffmpeg command line for MJPEG piping
func (s *FFmpegSource) buildArgs() []string {
	args := []string{"-hide_banner", "-loglevel", "error"}

	if strings.HasPrefix(s.url, "rtsp://") {
		args = append(args, "-rtsp_transport", "tcp")
	} else if strings.HasPrefix(s.url, "/dev/") {
		args = append(args, "-f", "v4l2")
	}

	args = append(args, "-i", s.url)

	if s.fps > 0 {
		args = append(args, "-r", fmt.Sprintf("%d", s.fps))
	}

	args = append(args,
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", fmt.Sprintf("%d", s.quality),
		"-",
	)
	return args
}

// ReadFrame reads and decodes the next JPEG image from the MJPEG stream.
// ReadFrame is intended for a single reader goroutine; Close interrupts a
// blocked read by killing the ffmpeg process.
func (s *FFmpegSource) ReadFrame() (*Frame, error) {
	s.mu.Lock()
	opened := s.opened
	s.mu.Unlock()
	if !opened {
		return nil, fmt.Errorf("source not open")
	}

	data, err := s.nextJPEG()
	if err != nil {
		return nil, err
	}

	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame: %w", err)
	}

	return NewFrame(img, time.Now()), nil
}

// nextJPEG scans the stream for the next SOI..EOI delimited image.
func (s *FFmpegSource) nextJPEG() ([]byte, error) {
	buf := make([]byte, 8192)
	for {
		// A complete image may already be buffered from the previous read.
		if frame := s.extractJPEG(); frame != nil {
			return frame, nil
		}

		if s.pending.Len() > maxFrameBytes {
			s.pending.Reset()
			return nil, fmt.Errorf("frame exceeds %d bytes, resynchronizing", maxFrameBytes)
		}

		n, err := s.reader.Read(buf)
		if n > 0 {
			s.pending.Write(buf[:n])
		}
		if err != nil {
			if err == io.EOF {
				return nil, fmt.Errorf("stream ended: %w", io.ErrUnexpectedEOF)
			}
			return nil, fmt.Errorf("stream read failed: %w", err)
		}
	}
}

// extractJPEG pulls one complete JPEG out of the pending buffer, or nil.
func (s *FFmpegSource) extractJPEG() []byte {
	data := s.pending.Bytes()

	start := bytes.Index(data, jpegSOI)
	if start < 0 {
		s.pending.Reset()
		return nil
	}
	end := bytes.Index(data[start+2:], jpegEOI)
	if end < 0 {
		// Drop garbage before the marker, keep the partial image.
		if start > 0 {
			s.pending.Next(start)
		}
		return nil
	}
	end = start + 2 + end + 2

	frame := make([]byte, end-start)
	copy(frame, data[start:end])
	s.pending.Next(end)
	return frame
}

// Close stops the ffmpeg process and releases the pipe. Idempotent.
func (s *FFmpegSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.opened {
		return nil
	}
	s.opened = false

	// Killing the process unblocks any in-flight ReadFrame. The reader
	// fields stay set so a late read fails cleanly instead of panicking.
	if s.cancel != nil {
		s.cancel()
	}
	if s.stdout != nil {
		s.stdout.Close()
	}
	if s.cmd != nil {
		_ = s.cmd.Wait()
	}
	return nil
}
