package ratelimit

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestStopEndsCleanup(t *testing.T) {
	defer goleak.VerifyNone(t)

	rl := New(Config{Requests: 5, Window: time.Second})
	assert.True(t, rl.Allow("ip"))
	rl.Stop()
}

func TestAllowRefills(t *testing.T) {
	rl := New(Config{Requests: 2, Window: time.Minute})
	defer rl.Stop()

	now := time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"), "buckets are per key")

	now = now.Add(30 * time.Second)
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
}

func TestMiddlewareKeysBySession(t *testing.T) {
	rl := New(Config{Requests: 1, Window: time.Hour})
	defer rl.Stop()

	app := fiber.New()
	app.Post("/sessions/:id/messages", rl.Middleware(), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	resp, err := app.Test(httptest.NewRequest("POST", "/sessions/s1/messages", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("POST", "/sessions/s1/messages", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(fiber.HeaderRetryAfter))

	resp, err = app.Test(httptest.NewRequest("POST", "/sessions/s2/messages", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}
