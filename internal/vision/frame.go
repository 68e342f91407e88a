package vision

import (
	"image"
	"time"

	xdraw "golang.org/x/image/draw"
)

// Frame represents a single decoded video frame. A frame is owned by the
// stage that produced it; stages that hand frames to other goroutines must
// pass a Clone.
type Frame struct {
	Image     *image.RGBA
	Timestamp time.Time
}

// NewFrame wraps a decoded image into a frame, converting to RGBA if needed.
func NewFrame(img image.Image, ts time.Time) *Frame {
	rgba, ok := img.(*image.RGBA)
	if !ok {
		b := img.Bounds()
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		xdraw.Draw(rgba, rgba.Bounds(), img, b.Min, xdraw.Src)
	}
	return &Frame{Image: rgba, Timestamp: ts}
}

// Width returns the frame width in pixels
func (f *Frame) Width() int {
	return f.Image.Bounds().Dx()
}

// Height returns the frame height in pixels
func (f *Frame) Height() int {
	return f.Image.Bounds().Dy()
}

// Clone returns a deep copy of the frame with independent pixel storage.
func (f *Frame) Clone() *Frame {
	dst := image.NewRGBA(f.Image.Bounds())
	copy(dst.Pix, f.Image.Pix)
	return &Frame{Image: dst, Timestamp: f.Timestamp}
}

// Resize scales the frame down so its width does not exceed maxWidth,
// preserving aspect ratio with bilinear interpolation. Frames at or below
// maxWidth are returned unchanged.
func Resize(f *Frame, maxWidth int) *Frame {
	w := f.Width()
	if maxWidth <= 0 || w <= maxWidth {
		return f
	}

	h := f.Height()
	newW := maxWidth
	newH := (h * maxWidth) / w

	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), f.Image, f.Image.Bounds(), xdraw.Src, nil)

	return &Frame{Image: dst, Timestamp: f.Timestamp}
}
