package detect

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/safefall/streaming-server/pkg/types"
)

var (
	boxGreen = color.RGBA{R: 0, G: 200, B: 0, A: 255}
	boxRed   = color.RGBA{R: 220, G: 0, B: 0, A: 255}
	white    = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

// Annotator draws bounding boxes and labels onto JPEG frames for the
// live view. Boxes that satisfy the fall rule are drawn red, others
// green, matching the colors the camera-side debug view used.
type Annotator struct {
	confThreshold float64
	arThreshold   float64
	quality       int
}

func NewAnnotator(confThreshold, arThreshold float64) *Annotator {
	return &Annotator{
		confThreshold: confThreshold,
		arThreshold:   arThreshold,
		quality:       80,
	}
}

// Annotate decodes the frame, overlays all detections, and re-encodes.
// It always works on a decoded copy; the input bytes are never touched.
func (a *Annotator) Annotate(jpegData []byte, dets []types.Detection) ([]byte, error) {
	src, err := jpeg.Decode(bytes.NewReader(jpegData))
	if err != nil {
		return nil, fmt.Errorf("decoding frame: %w", err)
	}

	canvas := image.NewRGBA(src.Bounds())
	draw.Draw(canvas, canvas.Bounds(), src, src.Bounds().Min, draw.Src)

	for _, d := range dets {
		col := boxGreen
		thickness := 2
		label := fmt.Sprintf("Person (%.2f)", d.Confidence)
		if IsFall(d, a.confThreshold, a.arThreshold) {
			col = boxRed
			thickness = 3
			label = fmt.Sprintf("FALL! (%.2f)", d.Confidence)
		}
		drawRect(canvas, d.BBox, col, thickness)
		drawLabel(canvas, d.BBox.X, d.BBox.Y-4, label, col)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, canvas, &jpeg.Options{Quality: a.quality}); err != nil {
		return nil, fmt.Errorf("encoding annotated frame: %w", err)
	}
	return buf.Bytes(), nil
}

func drawRect(img *image.RGBA, box types.BoundingBox, col color.RGBA, thickness int) {
	bounds := img.Bounds()
	for t := 0; t < thickness; t++ {
		x0, y0 := box.X+t, box.Y+t
		x1, y1 := box.X+box.W-t, box.Y+box.H-t
		for x := x0; x <= x1; x++ {
			setIfInside(img, bounds, x, y0, col)
			setIfInside(img, bounds, x, y1, col)
		}
		for y := y0; y <= y1; y++ {
			setIfInside(img, bounds, x0, y, col)
			setIfInside(img, bounds, x1, y, col)
		}
	}
}

func setIfInside(img *image.RGBA, bounds image.Rectangle, x, y int, col color.RGBA) {
	if image.Pt(x, y).In(bounds) {
		img.SetRGBA(x, y, col)
	}
}

func drawLabel(img *image.RGBA, x, y int, text string, bg color.RGBA) {
	face := basicfont.Face7x13
	width := font.MeasureString(face, text).Ceil()
	if y-face.Height < 0 {
		y = face.Height + 2
	}

	// Solid background so the label stays readable on any frame.
	rect := image.Rect(x, y-face.Height, x+width+4, y+2)
	draw.Draw(img, rect.Intersect(img.Bounds()), &image.Uniform{C: bg}, image.Point{}, draw.Src)

	d := font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{C: white},
		Face: face,
		Dot:  fixed.P(x+2, y-2),
	}
	d.DrawString(text)
}
