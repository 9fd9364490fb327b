package handlers

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/civic-sage/backend/internal/dialogue"
	"github.com/civic-sage/backend/internal/session"
	"github.com/civic-sage/backend/pkg/logger"
)

// Asker answers a question within an existing session.
type Asker interface {
	Ask(ctx context.Context, id, question string) (*session.Reply, error)
}

type WebSocketHandler struct {
	sessions Asker
}

func NewWebSocketHandler(sessions Asker) *WebSocketHandler {
	return &WebSocketHandler{sessions: sessions}
}

type wsMessage struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// HandleConnection serves one session over a websocket. Each "question"
// message is answered as a stream of "chunk" messages followed by
// "complete".
func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	id := c.Params("id")
	logger.Info("WebSocket connection established", zap.String("session_id", id))

	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed", zap.String("session_id", id))
	}()

	for {
		var msg wsMessage
		if err := c.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("Failed to read WebSocket message", zap.Error(err))
			}
			return
		}

		if msg.Type != "question" || strings.TrimSpace(msg.Content) == "" {
			continue
		}

		if err := h.answer(c, id, msg.Content); err != nil {
			logger.Warn("Failed to stream reply", zap.String("session_id", id), zap.Error(err))
			if errors.Is(err, session.ErrSessionNotFound) || errors.Is(err, session.ErrSessionEnded) {
				h.sendError(c, "Session not found")
				return
			}
			h.sendError(c, dialogue.ApologyMessage)
		}
	}
}

func (h *WebSocketHandler) answer(c *websocket.Conn, id, question string) error {
	if err := h.send(c, wsOut{Type: "status", Content: "Thinking..."}); err != nil {
		return err
	}

	reply, err := h.sessions.Ask(context.Background(), id, question)
	if err != nil {
		return err
	}

	for _, chunk := range SplitChunks(reply.Text) {
		if err := h.send(c, wsOut{Type: "chunk", Content: chunk}); err != nil {
			return err
		}
	}

	return h.send(c, wsOut{
		Type:    "complete",
		Index:   reply.Index,
		Route:   reply.Route,
		Sources: reply.Sources,
	})
}

type wsOut struct {
	Type    string            `json:"type"`
	Content string            `json:"content,omitempty"`
	Error   string            `json:"error,omitempty"`
	Index   int               `json:"index,omitempty"`
	Route   string            `json:"route,omitempty"`
	Sources []dialogue.Source `json:"sources,omitempty"`
}

func (h *WebSocketHandler) send(c *websocket.Conn, msg wsOut) error {
	return c.WriteJSON(msg)
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, msg string) {
	_ = c.WriteJSON(wsOut{Type: "error", Error: msg})
}

// SplitChunks breaks text into words, each followed by the space that
// separated it; newlines are chunks of their own. Concatenating the chunks
// gives back text with runs of spaces collapsed.
func SplitChunks(text string) []string {
	var chunks []string
	var word strings.Builder

	flush := func(sep string) {
		if word.Len() > 0 {
			chunks = append(chunks, word.String()+sep)
			word.Reset()
		}
	}

	for _, r := range text {
		switch r {
		case ' ':
			flush(" ")
		case '\n':
			flush("")
			chunks = append(chunks, "\n")
		default:
			word.WriteRune(r)
		}
	}
	flush("")
	return chunks
}
