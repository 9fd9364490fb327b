package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errUpstream = errors.New("upstream down")

func TestBreakerOpensAfterThreshold(t *testing.T) {
	var transitions []string
	cb := NewCircuitBreaker("classifier", Config{
		FailureThreshold: 2,
		Timeout:          time.Hour,
		OnStateChange: func(name string, from, to State) {
			transitions = append(transitions, name+":"+from.String()+"->"+to.String())
		},
	})

	for i := 0; i < 2; i++ {
		err := cb.Execute(context.Background(), func() error { return errUpstream })
		require.ErrorIs(t, err, errUpstream)
	}

	assert.Equal(t, StateOpen, cb.State())
	assert.Equal(t, []string{"classifier:closed->open"}, transitions)

	called := false
	err := cb.Execute(context.Background(), func() error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.True(t, IsOpen(err))
	assert.False(t, called)
}

func TestBreakerIgnoresCancellation(t *testing.T) {
	cb := NewCircuitBreaker("llm", Config{FailureThreshold: 1})

	err := cb.Execute(context.Background(), func() error { return context.Canceled })
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, uint32(1), cb.Counts().TotalSuccesses)
}

func TestBreakerHalfOpenRecovers(t *testing.T) {
	now := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker("geocoder", Config{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Timeout:          time.Minute,
		Now:              func() time.Time { return now },
	})

	_ = cb.Execute(context.Background(), func() error { return errUpstream })
	require.Equal(t, StateOpen, cb.State())

	now = now.Add(2 * time.Minute)
	require.Equal(t, StateHalfOpen, cb.State())

	require.NoError(t, cb.Execute(context.Background(), func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, "geocoder", cb.Name())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	now := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker("neo4j", Config{
		FailureThreshold: 1,
		MaxRequests:      1,
		Timeout:          time.Minute,
		Now:              func() time.Time { return now },
	})

	_ = cb.Execute(context.Background(), func() error { return errUpstream })
	now = now.Add(2 * time.Minute)

	err := cb.Execute(context.Background(), func() error { return errUpstream })
	require.ErrorIs(t, err, errUpstream)
	assert.Equal(t, StateOpen, cb.State())
}

func TestBreakerPanicCountsAsFailure(t *testing.T) {
	cb := NewCircuitBreaker("web_search", Config{FailureThreshold: 1})

	assert.Panics(t, func() {
		_ = cb.Execute(context.Background(), func() error { panic("boom") })
	})
	assert.Equal(t, StateOpen, cb.State())
}
