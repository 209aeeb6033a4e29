// framewatch samples a live video source on a fixed period, submits each
// frame to a remote analysis service and shows the results on a web
// dashboard.
//
// Usage:
//
//	framewatch -source webcam
//	framewatch -source image -config framewatch.yaml
//	FRAMEWATCH_ANALYSIS_ENDPOINT=http://gpu:8000/api/analyze framewatch -source webrtc
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/framewatch/internal/config"
	"github.com/teslashibe/framewatch/internal/httpc"
	"github.com/teslashibe/framewatch/internal/log"
	"github.com/teslashibe/framewatch/pkg/analysis"
	"github.com/teslashibe/framewatch/pkg/camera"
	"github.com/teslashibe/framewatch/pkg/poller"
	"github.com/teslashibe/framewatch/pkg/resource"
	"github.com/teslashibe/framewatch/pkg/sampler"
	"github.com/teslashibe/framewatch/pkg/video"
	"github.com/teslashibe/framewatch/pkg/web"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	debug := flag.Bool("debug", false, "Enable verbose debug logging")
	source := flag.String("source", "", "Frame source: image, webcam, webrtc (overrides config)")
	port := flag.String("port", "", "Dashboard port (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "framewatch: %v\n", err)
		os.Exit(1)
	}
	if *source != "" {
		cfg.Source.Kind = *source
	}
	if *port != "" {
		cfg.Web.Port = *port
	}
	if *debug {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Check(); err != nil {
		fmt.Fprintf(os.Stderr, "framewatch: %v\n", err)
		os.Exit(1)
	}

	log.Init(cfg.Log.Level)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, log.L()); err != nil {
		log.Error("framewatch stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	src, cam, closeSource, err := openSource(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeSource()

	client, err := newAnalysisClient(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	handles := resource.NewRegistry()
	orch, err := poller.New(
		sampler.New(src, sampler.WithTargetEdge(cfg.Poll.TargetEdge), sampler.WithLogger(logger)),
		client,
		handles,
		poller.WithHistorySize(cfg.Poll.HistorySize),
		poller.WithLogger(logger),
		poller.WithMetrics(poller.NewMetrics(reg)),
	)
	if err != nil {
		return err
	}
	defer func() {
		if err := orch.Close(); err != nil {
			logger.Warn("release handles on shutdown failed", "error", err)
		}
	}()

	server := web.NewServer(web.Config{
		Port:     cfg.Web.Port,
		Logger:   logger,
		Gatherer: reg,
		Camera:   cam,
	}, orch, handles)
	orch.AddSurface(server)

	logger.Info("framewatch starting",
		"source", cfg.Source.Kind,
		"endpoint", cfg.Analysis.Endpoint,
		"interval", cfg.Poll.Interval,
		"history_size", cfg.Poll.HistorySize)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(ctx)
	})
	g.Go(func() error {
		return orch.Run(ctx, poller.Ticker{Interval: cfg.Poll.Interval, Immediate: true})
	})
	return g.Wait()
}

// openSource opens the configured frame source. The camera manager is only
// returned for the webcam source.
func openSource(ctx context.Context, cfg *config.Config, logger *slog.Logger) (sampler.Source, *camera.Manager, func(), error) {
	switch cfg.Source.Kind {
	case config.SourceImage:
		src, err := sampler.OpenImageSource(cfg.Source.Image)
		if err != nil {
			return nil, nil, nil, err
		}
		logger.Info("using still image source", "path", cfg.Source.Image)
		return src, nil, func() {}, nil

	case config.SourceWebcam:
		camCfg := camera.DefaultConfig()
		camCfg.Device = cfg.Source.Device
		camCfg.Width = cfg.Source.Width
		camCfg.Height = cfg.Source.Height
		camCfg.Framerate = cfg.Source.Framerate

		cam, err := camera.OpenWebcam(camCfg, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		mgr := camera.NewManager(camCfg)
		mgr.OnConfigChange = cam.Apply
		return cam, mgr, closeLogged(logger, "webcam", cam), nil

	case config.SourceWebRTC:
		client := video.NewClient(video.Config{
			SignallingURL: cfg.Source.SignallingURL,
			Producer:      cfg.Source.Producer,
			Logger:        logger,
		})
		if err := client.Connect(ctx); err != nil {
			_ = client.Close()
			return nil, nil, nil, fmt.Errorf("connect video stream: %w", err)
		}
		return client, nil, closeLogged(logger, "video", client), nil
	}
	return nil, nil, nil, fmt.Errorf("unknown source %q", cfg.Source.Kind)
}

func newAnalysisClient(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*analysis.Client, error) {
	hc, err := httpc.NewSessionClient(cfg.Analysis.Timeout)
	if err != nil {
		return nil, err
	}

	switch {
	case cfg.Analysis.Token != "":
		hc = httpc.WithTokenSource(hc, httpc.StaticToken(cfg.Analysis.Token))
	case cfg.Analysis.ClientID != "":
		ts := httpc.ClientCredentials(ctx, httpc.NewClient(cfg.Analysis.Timeout),
			cfg.Analysis.ClientID, cfg.Analysis.ClientSecret, cfg.Analysis.TokenURL)
		hc = httpc.WithTokenSource(hc, ts)
	}

	return analysis.NewClient(
		analysis.WithEndpoint(cfg.Analysis.Endpoint),
		analysis.WithRefreshEndpoint(cfg.Analysis.RefreshEndpoint),
		analysis.WithTimeout(cfg.Analysis.Timeout),
		analysis.WithHTTPClient(hc),
		analysis.WithLogger(logger),
	)
}

func closeLogged(logger *slog.Logger, name string, c io.Closer) func() {
	return func() {
		if err := c.Close(); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("close failed", "source", name, "error", err)
		}
	}
}
