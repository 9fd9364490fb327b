// Package keywords extracts short key phrases from free text using the
// statistical features of the YAKE method: term casing, position, frequency,
// context relatedness and sentence spread. No corpus or model is needed.
package keywords

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/jdkato/prose/v2"
)

var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}]+(?:['’\-][\p{L}\p{N}]+)*|[^\s\p{L}\p{N}]`)

const (
	DefaultMaxNgram  = 3
	DefaultTop       = 5
	DefaultDedupeLim = 0.9
)

type Keyword struct {
	Text  string
	Score float64
}

type Extractor struct {
	maxNgram  int
	top       int
	dedupeLim float64
	stop      map[string]struct{}
}

type Option func(*Extractor)

func WithMaxNgram(n int) Option { return func(e *Extractor) { e.maxNgram = n } }

func WithTop(n int) Option { return func(e *Extractor) { e.top = n } }

func WithDedupeLimit(lim float64) Option { return func(e *Extractor) { e.dedupeLim = lim } }

// WithStopwords adds words that may never start or end a keyword.
func WithStopwords(words ...string) Option {
	return func(e *Extractor) {
		for _, w := range words {
			e.stop[strings.ToLower(w)] = struct{}{}
		}
	}
}

func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{
		maxNgram:  DefaultMaxNgram,
		top:       DefaultTop,
		dedupeLim: DefaultDedupeLim,
		stop:      make(map[string]struct{}, len(englishStopwords)),
	}
	for _, w := range englishStopwords {
		e.stop[w] = struct{}{}
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type token struct {
	text  string
	lower string
	word  bool
}

type termStats struct {
	tf        float64
	upper     float64
	acronym   float64
	sentences map[int]struct{}
	positions []int
	left      map[string]int
	right     map[string]int
	score     float64
}

type candidate struct {
	terms []string
	text  string
	tf    float64
	first int
}

// Extract returns up to top keywords, best first. Keywords are lower-cased.
func (e *Extractor) Extract(text string) []Keyword {
	sentences := e.tokenise(text)
	if len(sentences) == 0 {
		return nil
	}

	terms := e.termFeatures(sentences)
	if len(terms) == 0 {
		return nil
	}
	cands := e.candidates(sentences)

	scored := make([]Keyword, 0, len(cands))
	order := make(map[string]int, len(cands))
	for _, c := range cands {
		prod, sum := 1.0, 0.0
		for _, t := range c.terms {
			ts, ok := terms[t]
			if !ok {
				continue
			}
			prod *= ts.score
			sum += ts.score
		}
		scored = append(scored, Keyword{Text: c.text, Score: prod / (c.tf * (1 + sum))})
		order[c.text] = c.first
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score < scored[j].Score
		}
		return order[scored[i].Text] < order[scored[j].Text]
	})

	out := make([]Keyword, 0, e.top)
	for _, k := range scored {
		if len(out) == e.top {
			break
		}
		if e.duplicate(k.Text, out) {
			continue
		}
		out = append(out, k)
	}
	return out
}

func (e *Extractor) duplicate(text string, kept []Keyword) bool {
	for _, k := range kept {
		if Similarity(text, k.Text) > e.dedupeLim {
			return true
		}
	}
	return false
}

func (e *Extractor) tokenise(text string) [][]token {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	var raw []string
	doc, err := prose.NewDocument(text,
		prose.WithTagging(false),
		prose.WithExtraction(false),
		prose.WithTokenization(false),
	)
	if err == nil {
		for _, s := range doc.Sentences() {
			raw = append(raw, s.Text)
		}
	}
	if len(raw) == 0 {
		raw = []string{text}
	}

	out := make([][]token, 0, len(raw))
	for _, s := range raw {
		var toks []token
		for _, t := range tokenPattern.FindAllString(s, -1) {
			r := []rune(t)
			toks = append(toks, token{
				text:  t,
				lower: strings.ToLower(t),
				word:  unicode.IsLetter(r[0]) || unicode.IsNumber(r[0]),
			})
		}
		if len(toks) > 0 {
			out = append(out, toks)
		}
	}
	return out
}

func (e *Extractor) isStop(lower string) bool {
	if _, ok := e.stop[lower]; ok {
		return true
	}
	return len([]rune(lower)) < 3
}

func (e *Extractor) termFeatures(sentences [][]token) map[string]*termStats {
	terms := make(map[string]*termStats)
	for si, sent := range sentences {
		for ti, tok := range sent {
			if !tok.word {
				continue
			}
			ts, ok := terms[tok.lower]
			if !ok {
				ts = &termStats{
					sentences: map[int]struct{}{},
					left:      map[string]int{},
					right:     map[string]int{},
				}
				terms[tok.lower] = ts
			}
			ts.tf++
			ts.sentences[si] = struct{}{}
			ts.positions = append(ts.positions, si)
			if isAcronym(tok.text) {
				ts.acronym++
			} else if ti > 0 && unicode.IsUpper([]rune(tok.text)[0]) {
				ts.upper++
			}
			if ti > 0 && sent[ti-1].word {
				ts.left[sent[ti-1].lower]++
			}
			if ti+1 < len(sent) && sent[ti+1].word {
				ts.right[sent[ti+1].lower]++
			}
		}
	}

	var tfs, validTFs []float64
	maxTF := 0.0
	for w, ts := range terms {
		tfs = append(tfs, ts.tf)
		if !e.isStop(w) {
			validTFs = append(validTFs, ts.tf)
		}
		maxTF = math.Max(maxTF, ts.tf)
	}
	if len(validTFs) == 0 {
		validTFs = tfs
	}
	sort.Float64s(validTFs)
	mean, std := meanStd(validTFs)

	for _, ts := range terms {
		caseF := math.Max(ts.upper, ts.acronym) / (1 + math.Log(ts.tf))
		pos := math.Log(math.Log(3 + median(ts.positions)))
		freq := ts.tf / (mean + std)
		rel := 1 + (distinctRatio(ts.left)+distinctRatio(ts.right))*(ts.tf/maxTF)
		diff := float64(len(ts.sentences)) / float64(len(sentences))
		ts.score = (rel * pos) / (caseF + freq/rel + diff/rel)
	}
	return terms
}

func (e *Extractor) candidates(sentences [][]token) []candidate {
	byText := make(map[string]*candidate)
	var ordered []*candidate
	seq := 0

	for _, sent := range sentences {
		for i := range sent {
			for n := 1; n <= e.maxNgram && i+n <= len(sent); n++ {
				span := sent[i : i+n]
				if !span[n-1].word {
					break
				}
				if e.isStop(span[0].lower) || e.isStop(span[n-1].lower) {
					continue
				}
				if hasDigitOnly(span) {
					continue
				}

				words := make([]string, n)
				for k, t := range span {
					words[k] = t.lower
				}
				text := strings.Join(words, " ")
				c, ok := byText[text]
				if !ok {
					c = &candidate{terms: words, text: text, first: seq}
					byText[text] = c
					ordered = append(ordered, c)
				}
				c.tf++
				seq++
			}
		}
	}

	out := make([]candidate, len(ordered))
	for i, c := range ordered {
		out[i] = *c
	}
	return out
}

func hasDigitOnly(span []token) bool {
	for _, t := range span {
		for _, r := range t.text {
			if !unicode.IsDigit(r) {
				return false
			}
		}
	}
	return true
}

func isAcronym(s string) bool {
	letters := 0
	for _, r := range s {
		if unicode.IsLetter(r) {
			if !unicode.IsUpper(r) {
				return false
			}
			letters++
		}
	}
	return letters > 1
}

func distinctRatio(ctx map[string]int) float64 {
	total := 0
	for _, n := range ctx {
		total += n
	}
	if total == 0 {
		return 0
	}
	return float64(len(ctx)) / float64(total)
}

func median(xs []int) float64 {
	s := append([]int(nil), xs...)
	sort.Ints(s)
	n := len(s)
	if n%2 == 1 {
		return float64(s[n/2])
	}
	return float64(s[n/2-1]+s[n/2]) / 2
}

func meanStd(xs []float64) (float64, float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	v := 0.0
	for _, x := range xs {
		v += (x - mean) * (x - mean)
	}
	return mean, math.Sqrt(v / float64(len(xs)))
}

// Similarity is one minus the normalised Levenshtein distance.
func Similarity(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	longest := max(len(ra), len(rb))
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein(ra, rb))/float64(longest)
}

func levenshtein(a, b []rune) int {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}
