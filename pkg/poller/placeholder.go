package poller

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/png"

	"github.com/teslashibe/framewatch/pkg/frame"
)

// Placeholder returns the static image shown before the first outcome.
func Placeholder() *frame.Frame {
	const w, h = 160, 90
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.RGBA{R: 40, G: 40, B: 48, A: 255}}, image.Point{}, draw.Src)

	var buf bytes.Buffer
	// Encoding an in-memory RGBA cannot fail.
	_ = png.Encode(&buf, img)

	return &frame.Frame{
		Name:      "placeholder.png",
		MediaType: frame.MediaTypePNG,
		Data:      buf.Bytes(),
		Width:     w,
		Height:    h,
	}
}
