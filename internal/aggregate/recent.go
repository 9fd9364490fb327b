package aggregate

import (
	"context"
	"errors"
	"strings"

	"github.com/civic-sage/backend/internal/charts"
)

// NoRecentKeywords is shown when an official has no keyword history yet.
const NoRecentKeywords = "No historical search terms found. You're the first!"

// RecentKeywords returns up to n keywords from a weekly keyword table,
// latest rows first, skipping placeholders and repeats.
func RecentKeywords(t *charts.Table, n int) []string {
	col := t.Column("Top Keyword")
	if col < 0 {
		return nil
	}
	seen := map[string]bool{}
	var out []string
	for i := len(t.Rows) - 1; i >= 0 && len(out) < n; i-- {
		kw := strings.TrimSpace(t.Rows[i][col])
		if kw == "" || kw == NoDataKeyword || seen[kw] {
			continue
		}
		seen[kw] = true
		out = append(out, kw)
	}
	return out
}

// SearchSuggestion reads the stored keyword table for an official and
// renders the latest four keywords as one line.
func SearchSuggestion(ctx context.Context, reader charts.Reader, official string) (string, error) {
	t, err := reader.Read(ctx, official, TableTopKeywords)
	if errors.Is(err, charts.ErrTableNotFound) {
		return NoRecentKeywords, nil
	}
	if err != nil {
		return "", err
	}
	kws := RecentKeywords(t, 4)
	if len(kws) == 0 {
		return NoRecentKeywords, nil
	}
	return strings.Join(kws, ", "), nil
}
