package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/civic-sage/backend/internal/chat"
	"github.com/civic-sage/backend/internal/dialogue"
	"github.com/civic-sage/backend/internal/geo"
	"github.com/civic-sage/backend/internal/session"
	"github.com/civic-sage/backend/internal/storage/models"
	"github.com/civic-sage/backend/pkg/logger"
)

// SessionService is the part of session.Manager the HTTP layer drives.
type SessionService interface {
	Start(ctx context.Context, req session.StartRequest) (*session.Info, error)
	Ask(ctx context.Context, id, question string) (*session.Reply, error)
	End(ctx context.Context, id string) (*models.SessionRecord, error)
	Report(ctx context.Context, id string, req session.ReportRequest) (*models.MessageReport, error)
	History(id string) ([]chat.Turn, error)
}

type SessionHandler struct {
	sessions SessionService
}

func NewSessionHandler(sessions SessionService) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

type startRequest struct {
	Official     string   `json:"official"`
	Competencies struct {
		Politics   string `json:"politics"`
		Parliament string `json:"parliament"`
		Government string `json:"government"`
	} `json:"competencies"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

func (r startRequest) profile() (chat.Profile, error) {
	var p chat.Profile
	var err error
	if p.Politics, err = chat.ParseLevel(r.Competencies.Politics); err != nil {
		return p, err
	}
	if p.Parliament, err = chat.ParseLevel(r.Competencies.Parliament); err != nil {
		return p, err
	}
	if p.Government, err = chat.ParseLevel(r.Competencies.Government); err != nil {
		return p, err
	}
	return p, nil
}

func (h *SessionHandler) StartSession(c *fiber.Ctx) error {
	var req startRequest
	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	profile, err := req.profile()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	var coords *geo.Coordinates
	if req.Latitude != nil && req.Longitude != nil {
		coords = &geo.Coordinates{Lat: *req.Latitude, Lon: *req.Longitude}
	}

	info, err := h.sessions.Start(c.UserContext(), session.StartRequest{
		Official:    req.Official,
		Profile:     profile,
		Coordinates: coords,
	})
	if err != nil {
		return sessionError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(info)
}

func (h *SessionHandler) Ask(c *fiber.Ctx) error {
	var req struct {
		Question string `json:"question"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.Question == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Question is required",
		})
	}

	reply, err := h.sessions.Ask(c.UserContext(), c.Params("id"), req.Question)
	if err != nil {
		return sessionError(c, err)
	}

	return c.JSON(reply)
}

func (h *SessionHandler) End(c *fiber.Ctx) error {
	rec, err := h.sessions.End(c.UserContext(), c.Params("id"))
	if err != nil {
		return sessionError(c, err)
	}

	return c.JSON(fiber.Map{
		"id":       c.Params("id"),
		"analysed": rec != nil,
	})
}

func (h *SessionHandler) Report(c *fiber.Ctx) error {
	var req struct {
		TurnIndex int      `json:"turn_index"`
		Tags      []string `json:"tags"`
		Comment   string   `json:"comment"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if len(req.Tags) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "At least one tag is required",
		})
	}

	rep, err := h.sessions.Report(c.UserContext(), c.Params("id"), session.ReportRequest{
		TurnIndex: req.TurnIndex,
		Tags:      req.Tags,
		Comment:   req.Comment,
	})
	if err != nil {
		return sessionError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id":          rep.ID,
		"reported_at": rep.ReportedAt,
	})
}

func (h *SessionHandler) History(c *fiber.Ctx) error {
	turns, err := h.sessions.History(c.Params("id"))
	if err != nil {
		return sessionError(c, err)
	}
	return c.JSON(fiber.Map{
		"turns": turns,
	})
}

// sessionError maps domain errors to status codes. Generation failures are
// reported with the apology text so the client can show it as a reply.
func sessionError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	msg := "Internal error"

	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		status, msg = fiber.StatusNotFound, "Session not found"
	case errors.Is(err, session.ErrSessionEnded):
		status, msg = fiber.StatusConflict, "Session has ended"
	case errors.Is(err, geo.ErrUnknownOfficial):
		status, msg = fiber.StatusNotFound, "Unknown official"
	case errors.Is(err, chat.ErrUnknownLevel),
		errors.Is(err, chat.ErrIndexOutOfRange),
		errors.Is(err, session.ErrNotAssistantTurn),
		errors.Is(err, session.ErrInvalidTag),
		errors.Is(err, session.ErrEmptyQuestion):
		status, msg = fiber.StatusBadRequest, err.Error()
	case errors.Is(err, dialogue.ErrGenerationUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		status, msg = fiber.StatusServiceUnavailable, dialogue.ApologyMessage
	default:
		logger.Error("Session request failed", zap.String("path", c.Path()), zap.Error(err))
	}

	return c.Status(status).JSON(fiber.Map{
		"error": msg,
	})
}
