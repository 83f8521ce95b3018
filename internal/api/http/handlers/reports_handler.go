package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/hiccup-service/internal/service"
)

// ReportsHandler serves supervisory aggregates.
type ReportsHandler struct {
	reports *service.ReportService
	clock   func() time.Time
	logger  *zap.Logger
}

// NewReportsHandler constructs handler. A nil clock uses time.Now.
func NewReportsHandler(reports *service.ReportService, clock func() time.Time, logger *zap.Logger) *ReportsHandler {
	if clock == nil {
		clock = time.Now
	}
	return &ReportsHandler{reports: reports, clock: clock, logger: logger}
}

// Daily GET /api/reports/daily.
func (h *ReportsHandler) Daily(c *fiber.Ctx) error {
	digest, err := h.reports.DailyDigest(c.UserContext(), h.clock())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{
		"digest": digest,
		"text":   service.FormatDigest(digest),
	}})
}

// Monthly GET /api/reports/monthly.
func (h *ReportsHandler) Monthly(c *fiber.Ctx) error {
	digest, err := h.reports.MonthlyDigest(c.UserContext(), h.clock())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": digest})
}

// Trends GET /api/reports/trends.
func (h *ReportsHandler) Trends(c *fiber.Ctx) error {
	trends, err := h.reports.Trends(c.UserContext(), h.clock())
	if err != nil {
		return err
	}
	h.logger.Debug("trends computed", zap.Int("count", len(trends)))
	return c.JSON(fiber.Map{"data": trends})
}
