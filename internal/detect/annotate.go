package detect

import (
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/facewatch/facewatch/internal/vision"
)

var annotationColor = color.RGBA{R: 0, G: 255, B: 0, A: 255}

// Annotate returns a copy of the frame with a rectangle and confidence
// label drawn over each detection. The input frame is never modified.
func Annotate(frame *vision.Frame, detections []Detection) *vision.Frame {
	annotated := frame.Clone()
	for _, det := range detections {
		rect := image.Rect(det.X, det.Y, det.X+det.Width, det.Y+det.Height)
		drawRect(annotated.Image, rect, 2)
		drawLabel(annotated.Image, fmt.Sprintf("%.2f", det.Confidence), det.X, det.Y-4)
	}
	return annotated
}

// drawRect draws a rectangle outline of the given border thickness,
// clipped to the image bounds.
func drawRect(img *image.RGBA, rect image.Rectangle, thickness int) {
	bounds := img.Bounds()
	for t := 0; t < thickness; t++ {
		r := rect.Inset(-t)
		for x := r.Min.X; x <= r.Max.X; x++ {
			setIfInside(img, bounds, x, r.Min.Y)
			setIfInside(img, bounds, x, r.Max.Y)
		}
		for y := r.Min.Y; y <= r.Max.Y; y++ {
			setIfInside(img, bounds, r.Min.X, y)
			setIfInside(img, bounds, r.Max.X, y)
		}
	}
}

func setIfInside(img *image.RGBA, bounds image.Rectangle, x, y int) {
	if image.Pt(x, y).In(bounds) {
		img.SetRGBA(x, y, annotationColor)
	}
}

// drawLabel renders text at the given baseline position
func drawLabel(img *image.RGBA, text string, x, y int) {
	if y < basicfont.Face7x13.Ascent {
		y = basicfont.Face7x13.Ascent
	}
	drawer := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(annotationColor),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	drawer.DrawString(text)
}
