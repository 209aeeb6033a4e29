package video

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"os/exec"
	"time"
)

// ErrNoPicture is returned when the decoder produced no usable picture.
var ErrNoPicture = errors.New("video: no usable picture decoded")

// Decoder turns an H264 Annex-B access unit group into a picture by piping it
// through ffmpeg.
type Decoder struct {
	// Path is the ffmpeg binary.
	Path string

	// Timeout bounds one decode.
	Timeout time.Duration
}

// NewDecoder creates a decoder using ffmpeg from PATH.
func NewDecoder() *Decoder {
	return &Decoder{Path: "ffmpeg", Timeout: 500 * time.Millisecond}
}

// Decode decodes the first picture of the stream. Streams that do not start
// with parameter sets and a keyframe yield ErrNoPicture.
func (d *Decoder) Decode(ctx context.Context, annexB []byte) (image.Image, error) {
	if len(annexB) < 100 {
		return nil, ErrNoPicture
	}

	ctx, cancel := context.WithTimeout(ctx, d.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, d.Path,
		"-loglevel", "error",
		"-f", "h264",
		"-i", "pipe:0",
		"-vframes", "1",
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "3",
		"pipe:1",
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdin = bytes.NewReader(annexB)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("ffmpeg: %w", ctx.Err())
		}
		// ffmpeg exits non-zero when the data holds no complete frame
		return nil, fmt.Errorf("%w: ffmpeg: %v: %s", ErrNoPicture, err, bytes.TrimSpace(stderr.Bytes()))
	}

	data := stdout.Bytes()
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoPicture, err)
	}
	if isGrayPicture(img) {
		return nil, fmt.Errorf("%w: gray frame", ErrNoPicture)
	}
	return img, nil
}

// isGrayPicture reports whether img looks like the uniform gray or black
// picture a decoder emits before the first keyframe.
func isGrayPicture(img image.Image) bool {
	bounds := img.Bounds()
	if bounds.Dx() < 10 || bounds.Dy() < 10 {
		return true
	}

	var rSum, gSum, bSum, samples int
	for y := bounds.Min.Y; y < bounds.Max.Y; y += bounds.Dy() / 10 {
		for x := bounds.Min.X; x < bounds.Max.X; x += bounds.Dx() / 10 {
			r, g, b, _ := img.At(x, y).RGBA()
			rSum += int(r >> 8)
			gSum += int(g >> 8)
			bSum += int(b >> 8)
			samples++
		}
	}
	if samples == 0 {
		return true
	}

	avgR, avgG, avgB := rSum/samples, gSum/samples, bSum/samples

	if avgR < 30 && avgG < 30 && avgB < 30 {
		return true
	}

	colorDiff := abs(avgR-avgG) + abs(avgG-avgB) + abs(avgR-avgB)
	return colorDiff < 15 && avgR > 100 && avgR < 150
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
