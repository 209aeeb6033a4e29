package camera

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	"log/slog"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/teslashibe/framewatch/pkg/sampler"
)

// ErrDeviceClosed is returned by Apply after Close.
var ErrDeviceClosed = errors.New("camera: device closed")

// Webcam grabs frames from an OpenCV capture device in the background and
// serves the latest one as a sampler.Source.
type Webcam struct {
	logger *slog.Logger

	capMu  sync.Mutex
	cap    *gocv.VideoCapture
	cfg    Config
	closed bool

	picMu   sync.RWMutex
	picture image.Image

	done chan struct{}
	wg   sync.WaitGroup
}

var _ sampler.Source = (*Webcam)(nil)

// OpenWebcam opens the device in cfg and starts grabbing.
func OpenWebcam(cfg Config, logger *slog.Logger) (*Webcam, error) {
	if problems := cfg.Validate(); len(problems) > 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, problems)
	}
	if logger == nil {
		logger = slog.Default()
	}

	vc, err := gocv.OpenVideoCapture(cfg.Device)
	if err != nil {
		return nil, fmt.Errorf("open capture device %q: %w", cfg.Device, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("capture device %q not available", cfg.Device)
	}

	w := &Webcam{
		logger: logger.With("component", "camera", "device", cfg.Device),
		cap:    vc,
		done:   make(chan struct{}),
	}
	w.configure(cfg)

	w.wg.Add(1)
	go w.grabLoop()
	return w, nil
}

// Apply changes the capture settings. It is suitable as a
// Manager.OnConfigChange callback; the device itself cannot be switched.
func (w *Webcam) Apply(cfg Config) error {
	w.capMu.Lock()
	defer w.capMu.Unlock()
	if w.closed {
		return ErrDeviceClosed
	}
	if cfg.Device != w.cfg.Device {
		return fmt.Errorf("camera: switching device from %q to %q requires a restart", w.cfg.Device, cfg.Device)
	}
	w.configureLocked(cfg)
	return nil
}

func (w *Webcam) configure(cfg Config) {
	w.capMu.Lock()
	defer w.capMu.Unlock()
	w.configureLocked(cfg)
}

func (w *Webcam) configureLocked(cfg Config) {
	w.cap.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
	w.cap.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
	w.cap.Set(gocv.VideoCaptureFPS, float64(cfg.Framerate))
	if cfg.Brightness != w.cfg.Brightness {
		// V4L2 normalizes brightness to [0, 1]
		w.cap.Set(gocv.VideoCaptureBrightness, 0.5+cfg.Brightness/2)
	}
	w.cfg = cfg

	w.logger.Info("camera configured",
		"requested", fmt.Sprintf("%dx%d@%d", cfg.Width, cfg.Height, cfg.Framerate),
		"actual", fmt.Sprintf("%.0fx%.0f@%.0f",
			w.cap.Get(gocv.VideoCaptureFrameWidth),
			w.cap.Get(gocv.VideoCaptureFrameHeight),
			w.cap.Get(gocv.VideoCaptureFPS)),
		"zoom", cfg.ZoomLevel)
}

func (w *Webcam) grabLoop() {
	defer w.wg.Done()

	mat := gocv.NewMat()
	defer mat.Close()

	failures := 0
	for {
		select {
		case <-w.done:
			return
		default:
		}

		w.capMu.Lock()
		if w.closed {
			w.capMu.Unlock()
			return
		}
		ok := w.cap.Read(&mat)
		cfg := w.cfg
		w.capMu.Unlock()

		if !ok || mat.Empty() {
			failures++
			if failures == 1 || failures%100 == 0 {
				w.logger.Warn("camera read failed", "failures", failures)
			}
			select {
			case <-w.done:
				return
			case <-time.After(frameInterval(cfg.Framerate)):
			}
			continue
		}
		failures = 0

		img, err := w.toImage(mat, cfg)
		if err != nil {
			w.logger.Debug("frame conversion failed", "error", err)
			continue
		}
		w.picMu.Lock()
		w.picture = img
		w.picMu.Unlock()
	}
}

// toImage applies zoom and mirroring, then converts to a Go image.
func (w *Webcam) toImage(mat gocv.Mat, cfg Config) (image.Image, error) {
	region := zoomRect(mat.Cols(), mat.Rows(), cfg.ZoomLevel)
	view := mat.Region(region)
	defer view.Close()

	if !cfg.Mirror {
		return view.ToImage()
	}
	flipped := gocv.NewMat()
	defer flipped.Close()
	gocv.Flip(view, &flipped, 1)
	return flipped.ToImage()
}

// zoomRect returns the centered crop for a digital zoom factor.
func zoomRect(width, height int, zoom float64) image.Rectangle {
	if zoom <= 1 {
		return image.Rect(0, 0, width, height)
	}
	cw := int(float64(width) / zoom)
	ch := int(float64(height) / zoom)
	x := (width - cw) / 2
	y := (height - ch) / 2
	return image.Rect(x, y, x+cw, y+ch)
}

func frameInterval(fps int) time.Duration {
	if fps <= 0 {
		return 100 * time.Millisecond
	}
	return time.Second / time.Duration(fps)
}

// Dimensions implements sampler.Source. It reports zero until the first frame
// was grabbed.
func (w *Webcam) Dimensions() (int, int, error) {
	w.picMu.RLock()
	defer w.picMu.RUnlock()
	if w.picture == nil {
		return 0, 0, nil
	}
	b := w.picture.Bounds()
	return b.Dx(), b.Dy(), nil
}

// Render implements sampler.Source.
func (w *Webcam) Render(dst draw.Image) error {
	w.picMu.RLock()
	defer w.picMu.RUnlock()
	if w.picture == nil {
		return errors.New("camera: no frame grabbed yet")
	}
	sampler.Scale(dst, w.picture)
	return nil
}

// Close stops grabbing and releases the device.
func (w *Webcam) Close() error {
	w.capMu.Lock()
	if w.closed {
		w.capMu.Unlock()
		return nil
	}
	w.closed = true
	close(w.done)
	w.capMu.Unlock()

	w.wg.Wait()
	return w.cap.Close()
}
