package readability

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSyllables(t *testing.T) {
	cases := map[string]int{
		"cat":        1,
		"the":        1,
		"table":      2,
		"make":       1,
		"parliament": 3,
		"government": 3,
		"voted":      2,
		"jumped":     1,
		"MP's":       1,
	}
	for word, want := range cases {
		assert.Equal(t, want, Syllables(word), word)
	}
}

func TestScoreEmpty(t *testing.T) {
	assert.Zero(t, Flesch{}.Score(""))
	assert.Zero(t, Flesch{}.Score("?!"))
}

func TestScoreSimpleIsEasierThanComplex(t *testing.T) {
	simple := Flesch{}.Score("The cat sat on the mat.")
	complex := Flesch{}.Score("Parliamentary representatives deliberated extensively regarding constitutional amendments.")

	assert.Greater(t, simple, complex)
	assert.Greater(t, simple, 100.0)
}

func TestScoreRoundsToTwoDecimals(t *testing.T) {
	s := Flesch{}.Score("What is the MP doing about local housing?")
	assert.InDelta(t, math.Round(s*100)/100, s, 1e-9)
}

func TestScoreEmptyIsZero(t *testing.T) {
	assert.Zero(t, Flesch{}.Score(""))
}
