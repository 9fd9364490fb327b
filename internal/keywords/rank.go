package keywords

import (
	"sort"
	"strings"
)

// Count is a keyword and the number of documents it was extracted from.
type Count struct {
	Keyword string
	Count   int
}

// Rank extracts keywords from every document, drops any keyword containing
// an omitted word, and returns the top most frequent. Ties keep the order in
// which keywords were first seen.
func (e *Extractor) Rank(docs []string, omit []string, top int) []Count {
	omitSet := make(map[string]struct{}, len(omit))
	for _, w := range omit {
		omitSet[strings.ToLower(w)] = struct{}{}
	}

	counts := map[string]int{}
	first := map[string]int{}
	for _, doc := range docs {
		for _, kw := range e.Extract(doc) {
			if containsAny(kw.Text, omitSet) {
				continue
			}
			if _, seen := first[kw.Text]; !seen {
				first[kw.Text] = len(first)
			}
			counts[kw.Text]++
		}
	}

	out := make([]Count, 0, len(counts))
	for k, n := range counts {
		out = append(out, Count{Keyword: k, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return first[out[i].Keyword] < first[out[j].Keyword]
	})
	if top > 0 && len(out) > top {
		out = out[:top]
	}
	return out
}

func containsAny(kw string, omit map[string]struct{}) bool {
	for _, w := range strings.Fields(strings.ToLower(kw)) {
		if _, ok := omit[w]; ok {
			return true
		}
	}
	return false
}
