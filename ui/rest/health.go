package rest

import (
	"time"

	"github.com/AzielCF/az-cast/config"
	domainSession "github.com/AzielCF/az-cast/domains/session"
	"github.com/gofiber/fiber/v2"
)

type HealthHandler struct {
	provider  domainSession.IProvider
	startedAt time.Time
}

// InitHealth mounts the ops endpoints used by external tooling to check the
// agent.
func InitHealth(app *fiber.App, provider domainSession.IProvider) {
	handler := &HealthHandler{provider: provider, startedAt: time.Now()}
	app.Get("/health", handler.Health)
	app.Get("/status", handler.Status)
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func (h *HealthHandler) Status(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"version":           config.AppVersion,
		"agent_id":          config.AgentID,
		"session_connected": h.provider.IsConnected(),
		"uptime_seconds":    int64(time.Since(h.startedAt).Seconds()),
	})
}
