package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/civic-sage/backend/internal/geo"
	"github.com/civic-sage/backend/internal/storage/models"
	"github.com/civic-sage/backend/pkg/logger"
)

type Ingester interface {
	Ingest(ctx context.Context, official string, docs []models.KnowledgeDocument) (int, error)
}

type DocumentHandler struct {
	ingester  Ingester
	geography geo.Store
}

func NewDocumentHandler(ingester Ingester, geography geo.Store) *DocumentHandler {
	return &DocumentHandler{ingester: ingester, geography: geography}
}

// UploadDocument adds one document to an official's knowledge base.
func (h *DocumentHandler) UploadDocument(c *fiber.Ctx) error {
	var req models.KnowledgeDocument
	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Title == "" || (req.Content == "" && len(req.Fields) == 0) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Title and content are required",
		})
	}

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

	docs := []models.KnowledgeDocument{req}
	chunks, err := h.ingester.Ingest(c.UserContext(), official.Name, docs)
	if err != nil {
		logger.Error("Failed to ingest document", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to process document",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id":     docs[0].ID,
		"chunks": chunks,
	})
}
