package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/civic-sage/backend/internal/aggregate"
	"github.com/civic-sage/backend/internal/charts"
	"github.com/civic-sage/backend/internal/geo"
	"github.com/civic-sage/backend/pkg/logger"
)

type OfficialHandler struct {
	geography geo.Store
	charts    charts.Reader
}

func NewOfficialHandler(geography geo.Store, reader charts.Reader) *OfficialHandler {
	return &OfficialHandler{geography: geography, charts: reader}
}

func (h *OfficialHandler) List(c *fiber.Ctx) error {
	officials, err := h.geography.Officials(c.UserContext())
	if err != nil {
		logger.Error("Failed to list officials", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list officials",
		})
	}
	return c.JSON(fiber.Map{
		"officials": officials,
	})
}

// Keywords returns the latest search terms visitors used for an official.
func (h *OfficialHandler) Keywords(c *fiber.Ctx) error {
	official, err := h.geography.Official(c.UserContext(), c.Params("name"))
	if errors.Is(err, geo.ErrUnknownOfficial) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Unknown official",
		})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to look up official",
		})
	}

	suggestion, err := aggregate.SearchSuggestion(c.UserContext(), h.charts, official.Name)
	if err != nil {
		logger.Warn("Failed to read keyword table", zap.String("official", official.Name), zap.Error(err))
		suggestion = aggregate.NoRecentKeywords
	}

	return c.JSON(fiber.Map{
		"official": official.Name,
		"keywords": suggestion,
	})
}

// Table serves one stored chart table as CSV.
func (h *OfficialHandler) Table(c *fiber.Ctx) error {
	official, err := h.geography.Official(c.UserContext(), c.Params("name"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Unknown official",
		})
	}

	name := c.Params("table")
	if !aggregate.IsTableName(name) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Table not found",
		})
	}

	t, err := h.charts.Read(c.UserContext(), official.Name, name)
	if errors.Is(err, charts.ErrTableNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Table not found",
		})
	}
	if err != nil {
		logger.Error("Failed to read chart table", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to read table",
		})
	}

	data, err := t.MarshalCSV()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to encode table",
		})
	}
	c.Set(fiber.HeaderContentType, "text/csv; charset=utf-8")
	return c.Send(data)
}
