package anonymise

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/jdkato/prose/v2"
)

type pattern struct {
	kind  Kind
	re    *regexp.Regexp
	score float64
	check func(string) bool
}

var patterns = []pattern{
	{kind: KindEmail, score: 1.0, re: regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`)},
	{kind: KindURL, score: 0.6, re: regexp.MustCompile(`\bhttps?://[^\s<>"\]]+|\bwww\.[^\s<>"\]]+`)},
	{kind: KindPhone, score: 0.75, re: regexp.MustCompile(`(?:\+44\s?\(?0?\)?\s?|\b0)\d{2,4}[\s\-]?\d{3,4}[\s\-]?\d{3,4}\b`)},
	{kind: KindIPAddress, score: 0.6, re: regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4]\d|1?\d?\d)\.){3}(?:25[0-5]|2[0-4]\d|1?\d?\d)\b`)},
	{kind: KindCreditCard, score: 1.0, re: regexp.MustCompile(`\b(?:\d[ \-]?){12,18}\d\b`), check: luhn},
}

// nerKinds maps prose entity labels to redaction kinds.
var nerKinds = map[string]Kind{
	"PERSON": KindPerson,
	"GPE":    KindLocation,
}

const nerScore = 0.85

// institutionNouns end phrases the tagger labels PERSON that name bills,
// bodies and places rather than people.
var institutionNouns = map[string]bool{
	"bill": true, "act": true, "party": true, "council": true, "committee": true,
	"service": true, "trust": true, "department": true, "ministry": true,
	"office": true, "parliament": true, "house": true, "government": true,
	"union": true, "agency": true, "authority": true, "board": true, "court": true,
	"bank": true, "school": true, "university": true, "hospital": true,
	"commission": true, "fund": true, "strategy": true, "scheme": true,
	"programme": true, "policy": true, "review": true, "budget": true,
	"treaty": true, "agreement": true, "road": true, "street": true,
}

// personSpan trims a PERSON span to the name inside it. It reports false when
// nothing name-like is left or the phrase names an institution.
func personSpan(text string, start, end int) (int, int, bool) {
	start, end, ok := narrowName(text, start, end)
	if !ok {
		return 0, 0, false
	}
	words := wordSpans(text, start, end)
	last := words[len(words)-1]
	if institutionNouns[strings.ToLower(text[last[0]:last[1]])] {
		return 0, 0, false
	}
	return start, end, true
}

// ProseDetector finds people and places with prose's named-entity model and
// contact details, card numbers and URLs with patterns.
type ProseDetector struct{}

func NewProseDetector() *ProseDetector {
	return &ProseDetector{}
}

func (d *ProseDetector) DetectEntities(ctx context.Context, text string) ([]Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []Entity
	for _, p := range patterns {
		for _, loc := range p.re.FindAllStringIndex(text, -1) {
			if p.check != nil && !p.check(text[loc[0]:loc[1]]) {
				continue
			}
			out = append(out, Entity{Kind: p.kind, Start: loc[0], End: loc[1], Score: p.score})
		}
	}

	doc, err := prose.NewDocument(text, prose.WithSegmentation(false))
	if err != nil {
		return nil, fmt.Errorf("prose: %w", err)
	}

	seen := make(map[[2]int]bool)
	for _, ent := range doc.Entities() {
		kind, ok := nerKinds[ent.Label]
		if !ok {
			continue
		}
		for _, span := range occurrences(text, ent.Text) {
			if kind == KindPerson {
				start, end, ok := personSpan(text, span[0], span[1])
				if !ok {
					continue
				}
				span = [2]int{start, end}
			}
			if seen[span] {
				continue
			}
			seen[span] = true
			out = append(out, Entity{Kind: kind, Start: span[0], End: span[1], Score: nerScore})
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out, nil
}

// occurrences returns every byte span of needle in text that starts and ends
// on a word boundary.
func occurrences(text, needle string) [][2]int {
	if needle == "" {
		return nil
	}
	var spans [][2]int
	for from := 0; from < len(text); {
		i := strings.Index(text[from:], needle)
		if i < 0 {
			break
		}
		start := from + i
		end := start + len(needle)
		if boundary(text, start-1) && boundary(text, end) {
			spans = append(spans, [2]int{start, end})
		}
		from = start + 1
	}
	return spans
}

func boundary(text string, i int) bool {
	if i < 0 || i >= len(text) {
		return true
	}
	c := text[i]
	return !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_')
}

func luhn(s string) bool {
	sum, n := 0, 0
	for i := len(s) - 1; i >= 0; i-- {
		c := s[i]
		if c < '0' || c > '9' {
			continue
		}
		d := int(c - '0')
		if n%2 == 1 {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		n++
	}
	return n >= 13 && sum%10 == 0
}
