package vision

import "context"

// FrameSource abstracts a video capture device or stream URL.
//
// Open may fail permanently (bad URL, unreachable camera); ReadFrame may
// fail transiently (decoder hiccup, short read) and callers are expected
// to retry. Close releases the underlying capture handle and is safe to
// call more than once.
type FrameSource interface {
	Open(ctx context.Context) error
	ReadFrame() (*Frame, error)
	Close() error
}
