// Package web serves the dashboard: the live preview, the live status text and
// the history, plus the image blobs behind their handles.
package web

import (
	"context"
	"embed"
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/filesystem"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/teslashibe/framewatch/pkg/camera"
	"github.com/teslashibe/framewatch/pkg/frame"
	"github.com/teslashibe/framewatch/pkg/hub"
	"github.com/teslashibe/framewatch/pkg/poller"
)

//go:embed static
var static embed.FS

// Orchestrator is the polling loop the dashboard presents.
type Orchestrator interface {
	Snapshot() poller.Snapshot
	Refresh(ctx context.Context) error
}

// BlobStore resolves handle IDs to image bytes. *resource.Registry
// implements it.
type BlobStore interface {
	Read(id string) (*frame.Frame, error)
}

// Config configures a Server.
type Config struct {
	Port   string
	Logger *slog.Logger

	// Gatherer backs GET /metrics. Nil disables the route.
	Gatherer prometheus.Gatherer

	// Camera enables the camera settings API. Nil disables it.
	Camera *camera.Manager
}

// Server is the web dashboard server. It implements poller.Surface.
type Server struct {
	app    *fiber.App
	port   string
	logger *slog.Logger

	orch   Orchestrator
	blobs  BlobStore
	camera *camera.Manager

	// Pushes every snapshot to /ws/status
	statusHub *hub.Hub
}

var _ poller.Surface = (*Server)(nil)

// NewServer creates a new web dashboard server
func NewServer(cfg Config, orch Orchestrator, blobs BlobStore) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	logger := cfg.Logger.With("component", "web")

	s := &Server{
		port:      cfg.Port,
		logger:    logger,
		orch:      orch,
		blobs:     blobs,
		camera:    cfg.Camera,
		statusHub: hub.New("status", cfg.Logger),
	}

	app := fiber.New(fiber.Config{
		AppName:               "framewatch",
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	// CORS for local development
	app.Use(cors.New())

	// API routes
	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/history", s.handleHistory)
	api.Post("/refresh", s.handleRefresh)
	api.Get("/camera", s.handleGetCamera)
	api.Put("/camera", s.handleUpdateCamera)

	app.Get("/blob/:id", s.handleBlob)

	if cfg.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/status", websocket.New(s.handleStatusWS))

	// Dashboard
	root, _ := fs.Sub(static, "static")
	app.Use("/", filesystem.New(filesystem.Config{
		Root:  http.FS(root),
		Index: "index.html",
	}))

	s.app = app
	return s
}

// Start runs the status hub and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	go s.statusHub.Run(ctx)

	go func() {
		<-ctx.Done()
		if err := s.app.Shutdown(); err != nil {
			s.logger.Warn("web shutdown failed", "error", err)
		}
	}()

	s.logger.Info("web dashboard listening", "url", "http://localhost:"+s.port)
	return s.app.Listen(":" + s.port)
}

// Render implements poller.Surface by pushing the snapshot to every
// connected dashboard.
func (s *Server) Render(snap poller.Snapshot) {
	if err := s.statusHub.BroadcastJSON(snap); err != nil {
		s.logger.Error("encode snapshot failed", "error", err)
	}
}

// Shutdown gracefully stops the web server
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
