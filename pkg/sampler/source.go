package sampler

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg" // OpenImageSource accepts JPEG stills
	"os"
	"sync"

	xdraw "golang.org/x/image/draw"
)

// Scale draws src into the whole of dst, resampling as needed.
func Scale(dst draw.Image, src image.Image) {
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
}

// ImageSource serves a fixed image as a live source.
// Useful for replaying a still and for tests.
type ImageSource struct {
	mu  sync.RWMutex
	img image.Image
}

// NewImageSource creates a source that always renders img.
func NewImageSource(img image.Image) *ImageSource {
	return &ImageSource{img: img}
}

// OpenImageSource loads a PNG or JPEG file as a source.
func OpenImageSource(path string) (*ImageSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image source: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode image source %s: %w", path, err)
	}
	return NewImageSource(img), nil
}

// Set swaps the image served by the source. A nil image makes the source
// report no frame.
func (s *ImageSource) Set(img image.Image) {
	s.mu.Lock()
	s.img = img
	s.mu.Unlock()
}

// Dimensions implements Source.
func (s *ImageSource) Dimensions() (int, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.img == nil {
		return 0, 0, nil
	}
	b := s.img.Bounds()
	return b.Dx(), b.Dy(), nil
}

// Render implements Source.
func (s *ImageSource) Render(dst draw.Image) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.img == nil {
		return errors.New("no image")
	}
	Scale(dst, s.img)
	return nil
}

var _ Source = (*ImageSource)(nil)
