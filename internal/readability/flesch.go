// Package readability scores text with the Flesch reading-ease formula.
package readability

import (
	"math"
	"regexp"
	"strings"

	"github.com/jdkato/prose/v2"
)

var wordPattern = regexp.MustCompile(`[\p{L}\p{N}]+(?:['’][\p{L}]+)*`)

// Flesch implements the reading-ease score. Higher means easier to read;
// text without words scores 0.
type Flesch struct{}

func (Flesch) Score(text string) float64 {
	words := wordPattern.FindAllString(text, -1)
	if len(words) == 0 {
		return 0
	}

	sentences := countSentences(text)
	syllables := 0
	for _, w := range words {
		syllables += Syllables(w)
	}

	wps := float64(len(words)) / float64(sentences)
	spw := float64(syllables) / float64(len(words))
	score := 206.835 - 1.015*wps - 84.6*spw

	return math.Round(score*100) / 100
}

func countSentences(text string) int {
	doc, err := prose.NewDocument(text,
		prose.WithTagging(false),
		prose.WithExtraction(false),
		prose.WithTokenization(false),
	)
	if err != nil {
		return 1
	}
	n := 0
	for _, s := range doc.Sentences() {
		if wordPattern.MatchString(s.Text) {
			n++
		}
	}
	if n == 0 {
		return 1
	}
	return n
}

// Syllables estimates the syllable count of an English word by counting
// vowel groups, with the usual silent-e and -le adjustments.
func Syllables(word string) int {
	w := strings.ToLower(word)
	w = strings.TrimSuffix(w, "'s")
	w = strings.TrimSuffix(w, "’s")
	if w == "" {
		return 0
	}
	if len(w) <= 3 {
		return 1
	}

	count := 0
	prevVowel := false
	for _, r := range w {
		v := isVowel(r)
		if v && !prevVowel {
			count++
		}
		prevVowel = v
	}

	switch {
	case strings.HasSuffix(w, "le") && len(w) > 2 && !isVowel(rune(w[len(w)-3])):
		// "table", "simple": the trailing e is not silent
	case strings.HasSuffix(w, "e") && !strings.HasSuffix(w, "ee"):
		count--
	case strings.HasSuffix(w, "es") || strings.HasSuffix(w, "ed"):
		if !strings.HasSuffix(w, "ted") && !strings.HasSuffix(w, "ded") && !strings.HasSuffix(w, "ses") && !strings.HasSuffix(w, "zes") {
			count--
		}
	}

	if count < 1 {
		return 1
	}
	return count
}

func isVowel(r rune) bool {
	switch r {
	case 'a', 'e', 'i', 'o', 'u', 'y':
		return true
	}
	return false
}
