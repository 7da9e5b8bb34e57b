package app

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/kursadbilgin/notification-engine/internal/handler"
	"github.com/kursadbilgin/notification-engine/internal/transport"
)

// OpsServer builds the listener that exposes /livez, /readyz and /metrics
// for a process that serves no other HTTP routes.
func (rt *Runtime) OpsServer(name string) *fiber.App {
	server := fiber.New(fiber.Config{
		AppName:               name,
		DisableStartupMessage: true,
		ErrorHandler:          transport.ErrorHandler(rt.Logger),
	})
	server.Use(recover.New())

	handler.RegisterHealthRoutes(server, rt.Checks)
	server.Get("/metrics", adaptor.HTTPHandler(rt.Metrics.Handler()))
	return server
}
