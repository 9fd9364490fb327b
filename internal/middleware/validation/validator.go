// Package validation rejects malformed visitor input before it reaches a
// session.
package validation

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/civic-sage/backend/pkg/logger"
)

var xssPattern = regexp.MustCompile(`(?i)(<script|<iframe|javascript:|onerror=|onload=|onclick=)`)

type Config struct {
	MaxQuestionLength int
	MaxCommentLength  int
}

type body struct {
	Question  *string  `json:"question"`
	Comment   *string  `json:"comment"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// Middleware checks JSON bodies of POST requests: content type, question
// and comment length, script injection and coordinate ranges.
func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxQuestionLength == 0 {
		cfg.MaxQuestionLength = 2000
	}
	if cfg.MaxCommentLength == 0 {
		cfg.MaxCommentLength = 2000
	}

	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodPost || len(c.Body()) == 0 {
			return c.Next()
		}

		if !strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEApplicationJSON) {
			return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
				"error": "Unsupported content type",
			})
		}

		var b body
		if err := c.BodyParser(&b); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid JSON format",
			})
		}

		if msg := checkText(c, b.Question, "Question", cfg.MaxQuestionLength); msg != "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
		}
		if msg := checkText(c, b.Comment, "Comment", cfg.MaxCommentLength); msg != "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
		}

		if b.Latitude != nil && (*b.Latitude < -90 || *b.Latitude > 90) ||
			b.Longitude != nil && (*b.Longitude < -180 || *b.Longitude > 180) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Coordinates out of range",
			})
		}

		return c.Next()
	}
}

func checkText(c *fiber.Ctx, s *string, field string, maxLen int) string {
	if s == nil {
		return ""
	}
	if utf8.RuneCountInString(*s) > maxLen {
		return field + " exceeds maximum length"
	}
	if strings.ContainsRune(*s, 0) {
		return field + " contains invalid characters"
	}
	if xssPattern.MatchString(*s) {
		logger.Warn("Potential XSS attempt",
			zap.String("ip", c.IP()),
			zap.String("field", field),
		)
		return "Invalid " + strings.ToLower(field) + " content"
	}
	return ""
}
