package dialogue

import (
	"fmt"
	"regexp"
	"strings"
)

var sourceMarker = regexp.MustCompile(`\[SOURCE URL:\s*([^\]]+)\]`)

type Source struct {
	Number int    `json:"number"`
	URL    string `json:"url"`
}

// ExtractSources replaces each "[SOURCE URL: u]" marker with a numbered
// reference "[n]" and returns the rewritten text with the numbered sources in
// order of appearance.
func ExtractSources(text string) (string, []Source) {
	var sources []Source
	out := sourceMarker.ReplaceAllStringFunc(text, func(marker string) string {
		m := sourceMarker.FindStringSubmatch(marker)
		url := strings.TrimSpace(m[1])
		n := len(sources) + 1
		sources = append(sources, Source{Number: n, URL: url})
		return fmt.Sprintf("[%d]", n)
	})
	return out, sources
}

// StripPrefixes removes the web-search and sensitive-reply banners.
func StripPrefixes(text string) string {
	text = strings.TrimPrefix(text, WebSearchPrefix)
	return strings.TrimPrefix(text, SensitivePrefix)
}
