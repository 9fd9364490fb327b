package dialogue

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		reply string
		want  OutcomeKind
	}{
		{"PERSONAL", OutcomePersonal},
		{"  PERSONAL\n", OutcomePersonal},
		{`"PERSONAL"`, OutcomePersonal},
		{"UNKNOWN", OutcomeUnknown},
		{"UNKNOWN.", OutcomeUnknown},
		{"The answer is UNKNOWN to most people.", OutcomeAnswered},
		{"personal", OutcomeAnswered},
		{"", OutcomeAnswered},
	}

	for _, tt := range tests {
		t.Run(tt.reply, func(t *testing.T) {
			got := Classify(tt.reply)
			assert.Equal(t, tt.want, got.Kind)
			if tt.want == OutcomeAnswered {
				assert.Equal(t, tt.reply, got.Text)
			}
		})
	}
}

func TestExtractSources(t *testing.T) {
	text := "Voted for [SOURCE URL: https://a.example] and spoke [SOURCE URL:https://b.example]. Again [SOURCE URL: https://a.example]"

	out, sources := ExtractSources(text)

	assert.Equal(t, "Voted for [1] and spoke [2]. Again [3]", out)
	assert.Equal(t, []Source{
		{Number: 1, URL: "https://a.example"},
		{Number: 2, URL: "https://b.example"},
		{Number: 3, URL: "https://a.example"},
	}, sources)

	plain, none := ExtractSources("no markers")
	assert.Equal(t, "no markers", plain)
	assert.Empty(t, none)
}

func TestStripPrefixes(t *testing.T) {
	assert.Equal(t, "found it", StripPrefixes(WebSearchPrefix+"found it"))
	assert.Equal(t, "call 111", StripPrefixes(SensitivePrefix+"call 111"))
	assert.Equal(t, "plain", StripPrefixes("plain"))
}
