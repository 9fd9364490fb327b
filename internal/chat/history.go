// Package chat holds the per-session conversation state: a bounded window of
// recent turns used for prompting and the full transcript kept for analysis.
package chat

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrIndexOutOfRange is returned when a turn index does not exist in the
// transcript.
var ErrIndexOutOfRange = errors.New("turn index out of range")

type Role string

const (
	RoleHuman     Role = "human"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Label is how the role is written in prompt transcripts.
func (r Role) Label() string {
	switch r {
	case RoleHuman:
		return "Human"
	case RoleAssistant:
		return "Assistant"
	case RoleSystem:
		return "System"
	default:
		return string(r)
	}
}

type Turn struct {
	Role    Role      `json:"role"`
	Content string    `json:"content"`
	Time    time.Time `json:"time"`
	Index   int       `json:"index"`
}

// History is not safe for concurrent use; a session owns exactly one and
// serialises access to it.
type History struct {
	size       int
	window     []Turn
	transcript []Turn
	now        func() time.Time
}

func NewHistory(size int) *History {
	if size <= 0 {
		size = 1
	}
	return &History{
		size:   size,
		window: make([]Turn, 0, size),
		now:    time.Now,
	}
}

// WithClock replaces the timestamp source. Used by tests.
func (h *History) WithClock(now func() time.Time) *History {
	h.now = now
	return h
}

// Append records a new turn in both the window and the transcript and
// returns it. The window drops its oldest turn once full.
func (h *History) Append(role Role, content string) Turn {
	turn := Turn{
		Role:    role,
		Content: content,
		Time:    h.now(),
		Index:   len(h.transcript) + 1,
	}

	h.transcript = append(h.transcript, turn)

	if len(h.window) == h.size {
		copy(h.window, h.window[1:])
		h.window = h.window[:h.size-1]
	}
	h.window = append(h.window, turn)

	return turn
}

func (h *History) Size() int {
	return h.size
}

func (h *History) Len() int {
	return len(h.transcript)
}

func (h *History) Window() []Turn {
	out := make([]Turn, len(h.window))
	copy(out, h.window)
	return out
}

func (h *History) Transcript() []Turn {
	out := make([]Turn, len(h.transcript))
	copy(out, h.transcript)
	return out
}

// MessagesByAuthor returns the content of every transcript turn by role, in
// order.
func (h *History) MessagesByAuthor(role Role) []string {
	var out []string
	for _, t := range h.transcript {
		if t.Role == role {
			out = append(out, t.Content)
		}
	}
	return out
}

func (h *History) LastMessage() (Turn, bool) {
	if len(h.transcript) == 0 {
		return Turn{}, false
	}
	return h.transcript[len(h.transcript)-1], true
}

// Turn returns the transcript entry with the given 1-based index.
func (h *History) Turn(index int) (Turn, error) {
	if index < 1 || index > len(h.transcript) {
		return Turn{}, fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, index, len(h.transcript))
	}
	return h.transcript[index-1], nil
}

// ContextAround returns at most lookback transcript turns immediately
// preceding the turn with the given 1-based index. The turn itself is not
// included.
func (h *History) ContextAround(index, lookback int) ([]Turn, error) {
	if index < 1 || index > len(h.transcript) {
		return nil, fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, index, len(h.transcript))
	}
	start := index - 1 - lookback
	if start < 0 {
		start = 0
	}
	out := make([]Turn, index-1-start)
	copy(out, h.transcript[start:index-1])
	return out, nil
}

// FormatWindow renders the window as "Human: ..." / "Assistant: ..." lines.
func (h *History) FormatWindow() string {
	return FormatTurns(h.window)
}

func FormatTurns(turns []Turn) string {
	var b strings.Builder
	for i, t := range turns {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(t.Role.Label())
		b.WriteString(": ")
		b.WriteString(t.Content)
	}
	return b.String()
}
