// Package sampler captures still frames from a live video source.
//
// The sampler reads the source's current dimensions, scales the frame so that
// its longer edge matches a fixed target while keeping the aspect ratio, and
// encodes the result as PNG:
//
//	s := sampler.New(src, sampler.WithTargetEdge(640))
//	f, err := s.Capture(ctx)
//	if errors.Is(err, sampler.ErrCaptureUnavailable) {
//	    // skip this cycle
//	}
package sampler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"log/slog"
	"math"
	"sync/atomic"

	"github.com/teslashibe/framewatch/pkg/frame"
)

// DefaultTargetEdge bounds the longer edge of captured frames.
const DefaultTargetEdge = 640

// ErrCaptureUnavailable is returned when the source has no usable frame or no
// drawing surface can be obtained.
var ErrCaptureUnavailable = errors.New("sampler: capture unavailable")

// Source is a live frame source.
type Source interface {
	// Dimensions returns the current frame size of the source.
	// Zero values mean no frame is available yet.
	Dimensions() (width, height int, err error)

	// Render draws the current frame scaled into dst's bounds.
	Render(dst draw.Image) error
}

// Sampler captures PNG frames from a Source.
type Sampler struct {
	source     Source
	targetEdge int
	encoder    png.Encoder
	logger     *slog.Logger

	seq atomic.Uint64
}

// Option configures a Sampler.
type Option func(*Sampler)

// WithTargetEdge sets the length of the longer output edge.
func WithTargetEdge(edge int) Option {
	return func(s *Sampler) {
		if edge > 0 {
			s.targetEdge = edge
		}
	}
}

// WithCompression sets the PNG compression level.
func WithCompression(level png.CompressionLevel) Option {
	return func(s *Sampler) { s.encoder.CompressionLevel = level }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sampler) { s.logger = l }
}

// New creates a sampler reading from src.
func New(src Source, opts ...Option) *Sampler {
	s := &Sampler{
		source:     src,
		targetEdge: DefaultTargetEdge,
		encoder:    png.Encoder{CompressionLevel: png.BestSpeed},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "sampler")
	return s
}

// TargetEdge returns the configured longer-edge length.
func (s *Sampler) TargetEdge() int { return s.targetEdge }

// Captured returns how many frames were captured successfully so far.
func (s *Sampler) Captured() uint64 { return s.seq.Load() }

// Capture grabs the source's current frame.
// The returned frame is owned by the caller.
func (s *Sampler) Capture(ctx context.Context) (*frame.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.source == nil {
		return nil, fmt.Errorf("%w: no source", ErrCaptureUnavailable)
	}

	srcW, srcH, err := s.source.Dimensions()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCaptureUnavailable, err)
	}
	if srcW <= 0 || srcH <= 0 {
		return nil, fmt.Errorf("%w: source reports %dx%d", ErrCaptureUnavailable, srcW, srcH)
	}

	w, h := FitSize(srcW, srcH, s.targetEdge)
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("%w: no drawing surface for %dx%d", ErrCaptureUnavailable, srcW, srcH)
	}

	canvas := image.NewRGBA(image.Rect(0, 0, w, h))
	if err := s.source.Render(canvas); err != nil {
		return nil, fmt.Errorf("%w: render: %v", ErrCaptureUnavailable, err)
	}

	var buf bytes.Buffer
	if err := s.encoder.Encode(&buf, canvas); err != nil {
		return nil, fmt.Errorf("%w: encode: %v", ErrCaptureUnavailable, err)
	}

	seq := s.seq.Add(1) - 1
	f := &frame.Frame{
		Name:      fmt.Sprintf("frame%d.png", seq),
		MediaType: frame.MediaTypePNG,
		Data:      buf.Bytes(),
		Seq:       seq,
		Width:     w,
		Height:    h,
	}
	s.logger.Debug("captured frame", "frame", f.Name, "source", fmt.Sprintf("%dx%d", srcW, srcH), "bytes", f.Size())
	return f, nil
}

// FitSize scales (width, height) so the longer edge equals target, keeping
// the aspect ratio. Landscape and square sources get width = target.
func FitSize(width, height, target int) (int, int) {
	if width <= 0 || height <= 0 || target <= 0 {
		return 0, 0
	}
	aspect := float64(width) / float64(height)
	if width >= height {
		return target, int(math.Round(float64(target) / aspect))
	}
	return int(math.Round(float64(target) * aspect)), target
}
