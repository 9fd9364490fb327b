package anonymise

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProseAnonymiserKeepsSubject(t *testing.T) {
	tests := []struct {
		text    string
		subject string
	}{
		{"Ask Paul Holmes about the NHS", "Paul Holmes"},
		{"Ask Keir Starmer about the NHS", "Keir Starmer"},
		{"What has Paul Holmes MP said about housing?", "Paul Holmes"},
		{"The Energy Bill passed.", "Paul Holmes"},
	}
	a := New(NewProseDetector(), nil)
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, err := a.Anonymise(context.Background(), tt.text, tt.subject)
			require.NoError(t, err)
			assert.Equal(t, tt.text, got)
		})
	}
}

func TestProseAnonymiserRedactsOthers(t *testing.T) {
	a := New(NewProseDetector(), nil)

	got, err := a.Anonymise(context.Background(),
		"John Smith met Paul Holmes yesterday. Mail john.smith@example.com or call 07700 900123.", "Paul Holmes")
	require.NoError(t, err)

	assert.Contains(t, got, "Paul Holmes")
	assert.NotContains(t, got, "John Smith")
	assert.NotContains(t, got, "john.smith@example.com")
	assert.NotContains(t, got, "900123")
}

func TestPersonSpanDropsInstitutions(t *testing.T) {
	text := "The Energy Bill passed"
	_, _, ok := personSpan(text, 0, len("The Energy Bill"))
	assert.False(t, ok)

	text = "Ask Jane Doe"
	start, end, ok := personSpan(text, 0, len(text))
	require.True(t, ok)
	assert.Equal(t, "Jane Doe", text[start:end])
}
