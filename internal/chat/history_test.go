package chat

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock() func() time.Time {
	t0 := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	n := 0
	return func() time.Time {
		n++
		return t0.Add(time.Duration(n) * time.Second)
	}
}

func TestHistoryWindowEviction(t *testing.T) {
	h := NewHistory(3).WithClock(fixedClock())
	for i := 1; i <= 5; i++ {
		h.Append(RoleHuman, fmt.Sprintf("m%d", i))
	}

	window := h.Window()
	require.Len(t, window, 3)
	assert.Equal(t, "m3", window[0].Content)
	assert.Equal(t, "m5", window[2].Content)

	transcript := h.Transcript()
	require.Len(t, transcript, 5)
	for i, turn := range transcript {
		assert.Equal(t, i+1, turn.Index)
	}
}

func TestHistoryWindowNeverExceedsCapacity(t *testing.T) {
	for size := 1; size <= 4; size++ {
		h := NewHistory(size)
		for i := 0; i < 10; i++ {
			h.Append(RoleAssistant, "x")
			assert.LessOrEqual(t, len(h.Window()), size)
			assert.Equal(t, i+1, h.Len())
		}
	}
}

func TestHistorySnapshotsAreCopies(t *testing.T) {
	h := NewHistory(2)
	h.Append(RoleHuman, "hello")

	w := h.Window()
	w[0].Content = "changed"
	tr := h.Transcript()
	tr[0].Content = "changed"

	last, ok := h.LastMessage()
	require.True(t, ok)
	assert.Equal(t, "hello", last.Content)
}

func TestMessagesByAuthor(t *testing.T) {
	h := NewHistory(2)
	h.Append(RoleHuman, "q1")
	h.Append(RoleAssistant, "a1")
	h.Append(RoleHuman, "q2")
	h.Append(RoleAssistant, "a2")

	assert.Equal(t, []string{"q1", "q2"}, h.MessagesByAuthor(RoleHuman))
	assert.Equal(t, []string{"a1", "a2"}, h.MessagesByAuthor(RoleAssistant))
	assert.Empty(t, h.MessagesByAuthor(RoleSystem))
}

func TestLastMessageEmpty(t *testing.T) {
	_, ok := NewHistory(2).LastMessage()
	assert.False(t, ok)
}

func TestContextAround(t *testing.T) {
	h := NewHistory(20)
	for i := 1; i <= 10; i++ {
		h.Append(RoleHuman, fmt.Sprintf("m%d", i))
	}

	t.Run("bounded by lookback", func(t *testing.T) {
		got, err := h.ContextAround(10, 6)
		require.NoError(t, err)
		require.Len(t, got, 6)
		assert.Equal(t, "m4", got[0].Content)
		assert.Equal(t, "m9", got[5].Content)
	})

	t.Run("near the start", func(t *testing.T) {
		got, err := h.ContextAround(3, 6)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "m1", got[0].Content)
	})

	t.Run("first turn has no context", func(t *testing.T) {
		got, err := h.ContextAround(1, 6)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	for _, idx := range []int{-1, 0, 11} {
		t.Run(fmt.Sprintf("index %d out of range", idx), func(t *testing.T) {
			_, err := h.ContextAround(idx, 6)
			assert.ErrorIs(t, err, ErrIndexOutOfRange)
		})
	}
}

func TestTurnLookup(t *testing.T) {
	h := NewHistory(2)
	h.Append(RoleHuman, "q")
	h.Append(RoleAssistant, "a")

	turn, err := h.Turn(2)
	require.NoError(t, err)
	assert.Equal(t, RoleAssistant, turn.Role)

	_, err = h.Turn(3)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestFormatWindow(t *testing.T) {
	h := NewHistory(2)
	h.Append(RoleHuman, "dropped")
	h.Append(RoleHuman, "What is the Energy Bill?")
	h.Append(RoleAssistant, "It is a bill.")

	assert.Equal(t, "Human: What is the Energy Bill?\nAssistant: It is a bill.", h.FormatWindow())
}
