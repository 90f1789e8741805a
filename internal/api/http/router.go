package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/spec-kit/complaint-service/internal/api/http/handlers"
	"github.com/spec-kit/complaint-service/internal/auth"
	"github.com/spec-kit/complaint-service/internal/observability"
)

// RouteConfig wires handlers into the router.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Auth           *handlers.AuthHandler
	Tickets        *handlers.TicketsHandler
	Assignments    *handlers.AssignmentsHandler
	Notifications  *handlers.NotificationsHandler
	Directory      *handlers.DirectoryHandler
	AuthMiddleware *auth.AuthMiddleware
	Metrics        *observability.Metrics
}

// RegisterRoutes registers all HTTP endpoints.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(cfg.Metrics.Registry, promhttp.HandlerOpts{})))
	}

	authGroup := app.Group("/auth")
	authGroup.Post("/register", cfg.Auth.Register)
	authGroup.Post("/login", cfg.Auth.Login)

	api := app.Group("/api/v1", cfg.AuthMiddleware.Handle, auth.RequireAnyRole())

	tickets := api.Group("/tickets")
	tickets.Post("/", cfg.Tickets.CreateTicket)
	tickets.Get("/", cfg.Tickets.ListTickets)
	tickets.Post("/bulk/close", auth.RequireStaff(), cfg.Tickets.BulkClose)
	tickets.Post("/bulk/assign", auth.RequireStaff(), cfg.Assignments.BulkAssign)
	tickets.Get("/:id", cfg.Tickets.GetTicket)
	tickets.Post("/:id/transition", cfg.Tickets.Transition)
	tickets.Post("/:id/escalate", cfg.Tickets.Escalate)
	tickets.Post("/:id/comments", cfg.Tickets.AddComment)
	tickets.Post("/:id/feedback", cfg.Tickets.SubmitFeedback)
	tickets.Post("/:id/assign", auth.RequireStaff(), cfg.Assignments.Assign)

	api.Get("/agents/workload", auth.RequireStaff(), cfg.Assignments.Workloads)

	notifications := api.Group("/notifications")
	notifications.Get("/", cfg.Notifications.List)
	notifications.Post("/read-all", cfg.Notifications.MarkAllRead)
	notifications.Post("/:id/read", cfg.Notifications.MarkRead)

	users := api.Group("/users")
	users.Get("/me", cfg.Directory.Me)
	users.Get("/", auth.RequireStaff(), cfg.Directory.List)
	users.Post("/", auth.RequireAdmin(), cfg.Directory.Create)
	users.Get("/:id", cfg.Directory.Get)
	users.Patch("/:id", auth.RequireAdmin(), cfg.Directory.Update)
	users.Delete("/:id", auth.RequireAdmin(), cfg.Directory.Deactivate)
	users.Put("/:id/availability", auth.RequireStaff(), cfg.Directory.SetAvailability)
}
