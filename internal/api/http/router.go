package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/spec-kit/hiccup-service/internal/api/http/handlers"
	"github.com/spec-kit/hiccup-service/internal/auth"
	"github.com/spec-kit/hiccup-service/internal/observability"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Cases          *handlers.CasesHandler
	Reports        *handlers.ReportsHandler
	AuthMiddleware *auth.AuthMiddleware
	SystemTokens   *auth.SystemTokens
	Metrics        *observability.Metrics
}

// RegisterRoutes wires HTTP routes. Guards are attached per route so the
// internal auto-case endpoint is not caught by bearer authentication.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	app.Get("/metrics", adaptor.HTTPHandler(cfg.Metrics.Handler()))

	authed := cfg.AuthMiddleware.Handle
	supervisory := auth.RequireSupervisory()

	api := app.Group("/api")
	api.Post("/cases/auto", cfg.SystemTokens.Middleware(), cfg.Cases.CreateAutoCase)
	api.Post("/cases", authed, cfg.Cases.CreateCase)
	api.Get("/cases", authed, cfg.Cases.ListCases)
	api.Get("/cases/:id", authed, cfg.Cases.GetCase)
	api.Patch("/cases/:id/respond", authed, cfg.Cases.Respond)
	api.Patch("/cases/:id/status", authed, supervisory, cfg.Cases.ChangeStatus)
	api.Patch("/cases/:id/followup", authed, cfg.Cases.SubmitFollowup)

	api.Get("/reports/daily", authed, supervisory, cfg.Reports.Daily)
	api.Get("/reports/trends", authed, supervisory, cfg.Reports.Trends)
	api.Get("/reports/monthly", authed, supervisory, cfg.Reports.Monthly)
}
