// Package poller drives the sample -> submit -> render loop.
//
// Every cycle captures a frame, submits it to the analysis service and
// renders the outcome: the live preview and status text always change, the
// bounded history only on a success. The orchestrator is the only owner of the
// image handles behind the preview and the history, and releases each of them
// exactly once, before it is dropped.
//
// Ticks that arrive while a cycle is still in flight are skipped, so cycles
// never overlap.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/framewatch/pkg/analysis"
	"github.com/teslashibe/framewatch/pkg/frame"
	"github.com/teslashibe/framewatch/pkg/history"
	"github.com/teslashibe/framewatch/pkg/resource"
)

// DefaultHistorySize is the history capacity when none is configured.
const DefaultHistorySize = 50

var (
	// ErrRenderResourceMissing is returned by New when the render resources
	// (handle registry, placeholder image) are missing.
	ErrRenderResourceMissing = errors.New("poller: render resource missing")

	// ErrCycleInFlight is returned by Cycle when the previous cycle has not
	// finished yet.
	ErrCycleInFlight = errors.New("poller: cycle already in flight")
)

// Sampler captures frames.
type Sampler interface {
	Capture(ctx context.Context) (*frame.Frame, error)
}

// Analyzer submits frames to the analysis service.
type Analyzer interface {
	Submit(ctx context.Context, f *frame.Frame) (*analysis.Outcome, error)
	Refresh(ctx context.Context) error
}

// Orchestrator owns the live preview, the status text and the history.
type Orchestrator struct {
	sampler  Sampler
	analyzer Analyzer
	registry *resource.Registry
	logger   *slog.Logger
	metrics  *Metrics

	mu        sync.Mutex
	history   *history.History
	preview   *history.Preview
	status    string
	updatedAt time.Time
	version   uint64

	surfacesMu sync.RWMutex
	surfaces   []Surface

	// publishMu orders publication; published is the newest version sent.
	publishMu sync.Mutex
	published uint64

	inFlight atomic.Bool
	cycles   atomic.Uint64
}

type options struct {
	historySize int
	placeholder *frame.Frame
	logger      *slog.Logger
	metrics     *Metrics
	surfaces    []Surface
}

// Option configures an Orchestrator.
type Option func(*options)

// WithHistorySize sets the history capacity.
func WithHistorySize(n int) Option {
	return func(o *options) { o.historySize = n }
}

// WithPlaceholder sets the static image shown before the first outcome.
func WithPlaceholder(f *frame.Frame) Option {
	return func(o *options) { o.placeholder = f }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithSurface registers a presentation layer.
func WithSurface(s Surface) Option {
	return func(o *options) { o.surfaces = append(o.surfaces, s) }
}

// New creates an orchestrator. The registry is the sole store of image
// handles; it must not be shared with another releasing owner.
func New(s Sampler, a Analyzer, reg *resource.Registry, opts ...Option) (*Orchestrator, error) {
	cfg := options{
		historySize: DefaultHistorySize,
		placeholder: Placeholder(),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	if reg == nil {
		return nil, fmt.Errorf("%w: no handle registry", ErrRenderResourceMissing)
	}
	if cfg.placeholder == nil || len(cfg.placeholder.Data) == 0 {
		return nil, fmt.Errorf("%w: no placeholder image", ErrRenderResourceMissing)
	}
	if s == nil || a == nil {
		return nil, errors.New("poller: sampler and analyzer are required")
	}

	h, err := history.New(cfg.historySize, reg)
	if err != nil {
		return nil, err
	}

	return &Orchestrator{
		sampler:   s,
		analyzer:  a,
		registry:  reg,
		logger:    cfg.logger.With("component", "poller"),
		metrics:   cfg.metrics,
		history:   h,
		preview:   history.NewPreview(reg.AcquireStatic(cfg.placeholder), reg),
		status:    "waiting for first frame",
		updatedAt: time.Now(),
		surfaces:  cfg.surfaces,
	}, nil
}

// AddSurface registers a presentation layer after construction.
func (o *Orchestrator) AddSurface(s Surface) {
	o.surfacesMu.Lock()
	o.surfaces = append(o.surfaces, s)
	o.surfacesMu.Unlock()
}

// Registry returns the handle registry the presentation layer reads from.
func (o *Orchestrator) Registry() *resource.Registry { return o.registry }

// Run drives cycles from s until ctx is done and waits for the last cycle.
func (o *Orchestrator) Run(ctx context.Context, s Scheduler) error {
	o.logger.Info("polling started", "history_size", o.history.Cap())

	var wg sync.WaitGroup
	err := s.Run(ctx, func(ctx context.Context) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = o.Cycle(ctx)
		}()
	})
	wg.Wait()

	o.logger.Info("polling stopped", "cycles", o.cycles.Load())
	return err
}

// Cycle runs one sample -> submit -> render pass.
// Failures are logged and returned; they never affect later cycles.
func (o *Orchestrator) Cycle(ctx context.Context) error {
	if !o.inFlight.CompareAndSwap(false, true) {
		o.metrics.skipped()
		o.logger.Warn("previous cycle still in flight, skipping tick")
		return ErrCycleInFlight
	}
	defer o.inFlight.Store(false)

	start := time.Now()
	n := o.cycles.Add(1)
	logger := o.logger.With("cycle", n)

	// Sampling
	f, err := o.sampler.Capture(ctx)
	if err != nil {
		if ctx.Err() != nil {
			o.metrics.cycle(ResultCancelled, start)
			return err
		}
		logger.Warn("capture unavailable, skipping cycle", "error", err)
		o.metrics.cycle(ResultCaptureUnavailable, start)
		return err
	}

	// Submitting. The frame belongs to the analyzer from here on.
	name := f.Name
	out, err := o.analyzer.Submit(ctx, f)
	if err != nil {
		switch {
		case errors.Is(err, analysis.ErrInvalidStatus):
			logger.Error("protocol violation from analysis service", "frame", name, "error", err)
			o.metrics.cycle(ResultProtocolViolation, start)
		case ctx.Err() != nil:
			o.metrics.cycle(ResultCancelled, start)
		default:
			logger.Warn("analysis failed", "frame", name, "error", err)
			o.metrics.cycle(ResultTransportFailure, start)
		}
		return err
	}

	// Rendering
	if err := o.render(logger, n, out); err != nil {
		logger.Error("render failed", "error", err)
		o.metrics.cycle(ResultRenderFailure, start)
		return err
	}

	o.metrics.cycle(ResultRendered, start)
	logger.Debug("cycle complete", "frame", name, "status", out.Status, "took", time.Since(start))
	return nil
}

// render installs the outcome: preview and status always, history on
// success only.
func (o *Orchestrator) render(logger *slog.Logger, cycle uint64, out *analysis.Outcome) error {
	if out == nil || out.Image == nil {
		return errors.New("poller: outcome without image")
	}
	o.metrics.outcome(out.Status.String())

	o.mu.Lock()

	live := o.registry.Acquire(out.Image)
	if err := o.preview.Replace(live); err != nil {
		o.mu.Unlock()
		_ = o.registry.Release(live)
		return err
	}
	o.status = statusText(out)
	o.updatedAt = time.Now()

	if out.Status == analysis.StatusSuccess {
		logger.Info("updating history", "status", out.Status)
		entry := &history.Entry{
			Handle:     o.registry.Acquire(out.Image),
			Caption:    caption(out),
			Status:     out.Status.String(),
			Detections: out.Detections,
			Created:    o.updatedAt,
		}
		evicted, err := o.history.Push(entry)
		if err != nil {
			o.mu.Unlock()
			_ = o.registry.Release(entry.Handle)
			return err
		}
		if evicted != nil {
			logger.Debug("history full, evicted oldest entry", "handle", evicted.Handle.String())
		}
	} else {
		logger.Info("skipping history update", "status", out.Status)
	}

	o.version++
	snap := o.snapshotLocked(cycle)
	o.mu.Unlock()

	o.publish(snap)
	return nil
}

// Refresh resets the analysis session, then clears the history and the
// preview, releasing every handle held.
func (o *Orchestrator) Refresh(ctx context.Context) error {
	if err := o.analyzer.Refresh(ctx); err != nil {
		o.logger.Warn("refresh failed", "error", err)
		return err
	}

	o.mu.Lock()
	errHistory := o.history.Clear()
	errPreview := o.preview.Reset()
	o.status = "refreshed"
	o.updatedAt = time.Now()
	o.version++
	snap := o.snapshotLocked(o.cycles.Load())
	o.mu.Unlock()

	o.publish(snap)

	if err := errors.Join(errHistory, errPreview); err != nil {
		o.logger.Error("release during refresh failed", "error", err)
		return err
	}
	o.logger.Info("history cleared")
	return nil
}

// Snapshot returns the current observable state.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked(o.cycles.Load())
}

// Close releases every handle. The orchestrator must not be used afterwards.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return errors.Join(o.history.Clear(), o.preview.Reset())
}

func (o *Orchestrator) snapshotLocked(cycle uint64) Snapshot {
	cur := o.preview.Current()
	snap := Snapshot{
		Preview: Slot{
			URL:         cur.URL(),
			Name:        cur.Name(),
			Placeholder: o.preview.ShowingPlaceholder(),
		},
		Status:    o.status,
		Capacity:  o.history.Cap(),
		Cycle:     cycle,
		Version:   o.version,
		UpdatedAt: o.updatedAt,
	}
	entries := o.history.Entries()
	snap.History = make([]Slot, len(entries))
	for i, e := range entries {
		snap.History[i] = Slot{
			URL:     e.Handle.URL(),
			Name:    e.Handle.Name(),
			Caption: e.Caption,
			Status:  e.Status,
		}
	}
	o.metrics.gauges(len(entries), o.registry.Outstanding())
	return snap
}

// publish hands snap to every surface unless a newer snapshot was already
// published, so surfaces never go back to released handles.
func (o *Orchestrator) publish(snap Snapshot) {
	o.publishMu.Lock()
	defer o.publishMu.Unlock()
	if snap.Version <= o.published {
		return
	}
	o.published = snap.Version

	o.surfacesMu.RLock()
	defer o.surfacesMu.RUnlock()
	for _, s := range o.surfaces {
		s.Render(snap)
	}
}

func statusText(out *analysis.Outcome) string {
	head := "status: " + out.Status.String()
	if out.Elapsed >= 0 {
		head += fmt.Sprintf(" (%.2fs)", out.Elapsed)
	}
	return head + "\n\n" + out.Detections
}

func caption(out *analysis.Outcome) string {
	return fmt.Sprintf("took %.2f seconds\n%s", out.Elapsed, out.Description)
}
