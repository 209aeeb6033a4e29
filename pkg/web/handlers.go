package web

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/framewatch/pkg/camera"
	"github.com/teslashibe/framewatch/pkg/hub"
	"github.com/teslashibe/framewatch/pkg/resource"
)

// handleStatus returns the whole snapshot
func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.orch.Snapshot())
}

// handleHistory returns the history list, newest first
func (s *Server) handleHistory(c *fiber.Ctx) error {
	return c.JSON(s.orch.Snapshot().History)
}

// handleRefresh resets the analysis session and clears the history
func (s *Server) handleRefresh(c *fiber.Ctx) error {
	if err := s.orch.Refresh(c.UserContext()); err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(s.orch.Snapshot())
}

// handleBlob serves the image behind a live handle
func (s *Server) handleBlob(c *fiber.Ctx) error {
	f, err := s.blobs.Read(c.Params("id"))
	if err != nil {
		if errors.Is(err, resource.ErrNotFound) {
			return fiber.ErrNotFound
		}
		return err
	}
	c.Set(fiber.HeaderContentType, f.MediaType)
	c.Set(fiber.HeaderCacheControl, "private, max-age=3600, immutable")
	return c.Send(f.Data)
}

// handleGetCamera returns the webcam settings and presets
func (s *Server) handleGetCamera(c *fiber.Ctx) error {
	if s.camera == nil {
		return fiber.ErrNotFound
	}
	return c.JSON(fiber.Map{
		"config":  s.camera.GetConfigJSON(),
		"presets": camera.PresetNames(),
	})
}

// handleUpdateCamera applies partial webcam settings
func (s *Server) handleUpdateCamera(c *fiber.Ctx) error {
	if s.camera == nil {
		return fiber.ErrNotFound
	}

	var params map[string]interface{}
	if err := c.BodyParser(&params); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid body: " + err.Error(),
		})
	}

	if err := s.camera.UpdateConfig(params); err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	s.logger.Info("camera settings updated", "params", params)
	return c.JSON(s.camera.GetConfigJSON())
}

// handleStatusWS streams snapshots to one dashboard
func (s *Server) handleStatusWS(c *websocket.Conn) {
	hub.NewClient(s.statusHub, c).Run()
}
