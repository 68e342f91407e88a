package pipeline

import (
	"sync/atomic"

	"github.com/facewatch/facewatch/internal/vision"
)

// FrameHolder keeps the most recent frame of a stream for live viewing.
// The capture stage overwrites it at capture rate; readers always see a
// complete frame regardless of how often they poll.
type FrameHolder struct {
	frame atomic.Pointer[vision.Frame]
}

// NewFrameHolder creates an empty holder.
func NewFrameHolder() *FrameHolder {
	return &FrameHolder{}
}

// Set replaces the held frame. The holder stores its own copy, so the
// caller may keep mutating f.
func (h *FrameHolder) Set(f *vision.Frame) {
	if f == nil {
		return
	}
	h.frame.Store(f.Clone())
}

// Get returns a copy of the most recent frame, or nil if no frame has
// been captured yet.
func (h *FrameHolder) Get() *vision.Frame {
	f := h.frame.Load()
	if f == nil {
		return nil
	}
	return f.Clone()
}
