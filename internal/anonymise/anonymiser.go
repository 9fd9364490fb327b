// Package anonymise removes personal identifiers from conversation text while
// keeping references to the official the conversation is about.
package anonymise

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

type Kind string

const (
	KindPerson     Kind = "PERSON"
	KindLocation   Kind = "LOCATION"
	KindEmail      Kind = "EMAIL_ADDRESS"
	KindPhone      Kind = "PHONE_NUMBER"
	KindURL        Kind = "URL"
	KindIPAddress  Kind = "IP_ADDRESS"
	KindCreditCard Kind = "CREDIT_CARD"
	KindDateTime   Kind = "DATE_TIME"
	KindNRP        Kind = "NRP"
)

// DefaultThreshold is the minimum detection score for a span to be redacted.
const DefaultThreshold = 0.5

// ignoredKinds are detected but never redacted: they carry the political
// context the analysis needs.
var ignoredKinds = map[Kind]bool{
	KindDateTime: true,
	KindNRP:      true,
	KindLocation: true,
	KindURL:      true,
}

// Entity is a detected span of text[Start:End] (byte offsets).
type Entity struct {
	Kind  Kind
	Start int
	End   int
	Score float64
}

type EntityDetector interface {
	DetectEntities(ctx context.Context, text string) ([]Entity, error)
}

type Redactor interface {
	Redact(text string, spans []Entity) string
}

// PlaceholderRedactor replaces each span with "<KIND>".
type PlaceholderRedactor struct{}

// Redact expects non-overlapping spans.
func (PlaceholderRedactor) Redact(text string, spans []Entity) string {
	sorted := append([]Entity(nil), spans...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	var b strings.Builder
	pos := 0
	for _, s := range sorted {
		if s.Start < pos || s.End > len(text) || s.Start >= s.End {
			continue
		}
		b.WriteString(text[pos:s.Start])
		b.WriteString("<" + string(s.Kind) + ">")
		pos = s.End
	}
	b.WriteString(text[pos:])
	return b.String()
}

type Anonymiser struct {
	detector  EntityDetector
	redactor  Redactor
	threshold float64
}

func New(detector EntityDetector, redactor Redactor) *Anonymiser {
	if redactor == nil {
		redactor = PlaceholderRedactor{}
	}
	return &Anonymiser{detector: detector, redactor: redactor, threshold: DefaultThreshold}
}

// Anonymise redacts every detected identifier except the ignored kinds and
// the subject's name ("Name", "Name's", "Names", "Name MP", "MP Name").
// A PERSON span that contains the subject's name keeps the name and redacts
// only the other names in it. The same input always yields the same output.
func (a *Anonymiser) Anonymise(ctx context.Context, text, subject string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return text, nil
	}

	entities, err := a.detector.DetectEntities(ctx, text)
	if err != nil {
		return "", fmt.Errorf("detect entities: %w", err)
	}

	forms := subjectForms(subject)
	filtered := make([]Entity, 0, len(entities))
	for _, e := range entities {
		if e.Score < a.threshold || ignoredKinds[e.Kind] {
			continue
		}
		if e.Start < 0 || e.End > len(text) || e.Start >= e.End {
			continue
		}
		if e.Kind == KindPerson {
			filtered = append(filtered, withoutSubject(text, e, forms)...)
			continue
		}
		filtered = append(filtered, e)
	}

	return a.redactor.Redact(text, resolveOverlaps(filtered)), nil
}

// subjectForms lists the ways the subject is written, longest first.
func subjectForms(name string) []string {
	if name == "" {
		return nil
	}
	return []string{"MP " + name, name + " MP", name + "'s", name + "s", name}
}

// withoutSubject cuts every occurrence of a subject form overlapping e out of
// it and returns what is left that still names someone.
func withoutSubject(text string, e Entity, forms []string) []Entity {
	var protected [][2]int
	for _, f := range forms {
		for _, span := range occurrences(text, f) {
			if span[0] < e.End && e.Start < span[1] {
				protected = append(protected, span)
			}
		}
	}
	if len(protected) == 0 {
		return []Entity{e}
	}
	sort.Slice(protected, func(i, j int) bool { return protected[i][0] < protected[j][0] })

	var rest [][2]int
	pos := e.Start
	for _, p := range protected {
		if p[0] > pos {
			rest = append(rest, [2]int{pos, p[0]})
		}
		pos = max(pos, p[1])
	}
	if pos < e.End {
		rest = append(rest, [2]int{pos, e.End})
	}

	var out []Entity
	for _, r := range rest {
		if start, end, ok := narrowName(text, r[0], r[1]); ok {
			out = append(out, Entity{Kind: e.Kind, Start: start, End: end, Score: e.Score})
		}
	}
	return out
}

// fillerWords are capitalised words that open or close a name span without
// being part of the name: question openers, greetings and titles.
var fillerWords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true, "but": true,
	"ask": true, "tell": true, "did": true, "does": true, "do": true, "is": true,
	"was": true, "are": true, "what": true, "when": true, "where": true, "why": true,
	"how": true, "who": true, "which": true, "can": true, "could": true, "would": true,
	"should": true, "will": true, "has": true, "have": true, "had": true,
	"dear": true, "hi": true, "hello": true, "thanks": true, "thank": true, "please": true,
	"about": true, "with": true, "to": true, "for": true, "of": true, "on": true,
	"in": true, "at": true, "by": true, "from": true, "my": true, "our": true,
	"mr": true, "mrs": true, "ms": true, "miss": true, "dr": true, "sir": true,
	"dame": true, "lord": true, "lady": true, "mp": true, "minister": true,
}

// narrowName trims filler words from both ends of text[start:end]. It
// reports false when no capitalised word is left.
func narrowName(text string, start, end int) (int, int, bool) {
	words := wordSpans(text, start, end)
	i, j := 0, len(words)
	for i < j && fillerWords[strings.ToLower(text[words[i][0]:words[i][1]])] {
		i++
	}
	for j > i && fillerWords[strings.ToLower(text[words[j-1][0]:words[j-1][1]])] {
		j--
	}

	for _, w := range words[i:j] {
		if r, _ := utf8.DecodeRuneInString(text[w[0]:]); unicode.IsUpper(r) {
			return words[i][0], words[j-1][1], true
		}
	}
	return 0, 0, false
}

// wordSpans returns the byte spans of words (letters, digits, inner
// apostrophes and hyphens) in text[start:end].
func wordSpans(text string, start, end int) [][2]int {
	var spans [][2]int
	wordStart := -1
	for i, r := range text[start:end] {
		inWord := unicode.IsLetter(r) || unicode.IsDigit(r) ||
			(wordStart >= 0 && (r == '\'' || r == '-'))
		switch {
		case inWord && wordStart < 0:
			wordStart = start + i
		case !inWord && wordStart >= 0:
			spans = append(spans, [2]int{wordStart, start + i})
			wordStart = -1
		}
	}
	if wordStart >= 0 {
		spans = append(spans, [2]int{wordStart, end})
	}
	return spans
}

// resolveOverlaps keeps the highest scoring span of any overlapping group,
// preferring longer then earlier spans on ties.
func resolveOverlaps(entities []Entity) []Entity {
	ranked := append([]Entity(nil), entities...)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if la, lb := a.End-a.Start, b.End-b.Start; la != lb {
			return la > lb
		}
		return a.Start < b.Start
	})

	var kept []Entity
	for _, e := range ranked {
		overlaps := false
		for _, k := range kept {
			if e.Start < k.End && k.Start < e.End {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, e)
		}
	}

	sort.Slice(kept, func(i, j int) bool { return kept[i].Start < kept[j].Start })
	return kept
}
