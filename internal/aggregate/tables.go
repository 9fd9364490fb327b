package aggregate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/civic-sage/backend/internal/charts"
	"github.com/civic-sage/backend/internal/chat"
	"github.com/civic-sage/backend/internal/classify"
	"github.com/civic-sage/backend/internal/dialogue"
	"github.com/civic-sage/backend/internal/storage/models"
)

func (a *Aggregator) sessionsByDay(in *Input) *charts.Table {
	t := charts.New(TableSessionsByDay, "Session Date", "Sessions", "Constituency")
	counts := map[bool]map[string]int{true: {}, false: {}}

	for i := range in.Sessions {
		r := &in.Sessions[i]
		d, ok := a.sessionDate(in, t.Name, r)
		if !ok {
			continue
		}
		counts[r.InsideConstituency(in.Official.Constituency)][d.Format(models.SessionDateLayout)]++
	}

	for _, inside := range []bool{true, false} {
		for _, day := range in.Month.Days() {
			t.AddRow(day, counts[inside][day], side(inside))
		}
	}
	return t
}

func (a *Aggregator) sessionsByWard(in *Input) *charts.Table {
	t := charts.New(TableSessionsByWard, "Ward", "Ward Code", "Sessions")
	byWard := map[string]int{}
	outside := 0

	for i := range in.Sessions {
		r := &in.Sessions[i]
		if _, ok := a.sessionDate(in, t.Name, r); !ok {
			continue
		}
		if r.InsideConstituency(in.Official.Constituency) {
			byWard[r.Location.Ward]++
		} else {
			outside++
		}
	}

	for _, w := range in.Wards {
		t.AddRow(w.Name, w.Code, byWard[w.Name])
	}
	t.AddRow(Outside, OutsideWardCode, outside)
	return t
}

type competencySum struct {
	n      int
	totals [3]float64
}

func (c *competencySum) add(scores [3]int) {
	c.n++
	for i, s := range scores {
		c.totals[i] += float64(s)
	}
}

func (c *competencySum) means() [3]float64 {
	var out [3]float64
	if c == nil || c.n == 0 {
		return out
	}
	for i := range out {
		out[i] = round(c.totals[i]/float64(c.n), 0)
	}
	return out
}

// knowledgeColumns is the column order of the political knowledge table.
var knowledgeColumns = []string{chat.SubjectPolitics, chat.SubjectGovernment, chat.SubjectParliament}

func (a *Aggregator) politicalKnowledgeByWard(in *Input) *charts.Table {
	t := charts.New(TablePoliticalKnowledge, append([]string{"Ward", "Ward Code"}, knowledgeColumns...)...)
	byWard := map[string]*competencySum{}
	outside := &competencySum{}

	for i := range in.Sessions {
		r := &in.Sessions[i]
		if _, ok := a.sessionDate(in, t.Name, r); !ok {
			continue
		}
		var scores [3]int
		complete := true
		for k, col := range knowledgeColumns {
			v, ok := r.Competencies[col]
			if !ok {
				complete = false
				break
			}
			scores[k] = v
		}
		if !complete {
			a.malformed(t.Name, r.ID, fmt.Errorf("%w: missing competency scores", ErrMalformedRecord))
			continue
		}

		if !r.InsideConstituency(in.Official.Constituency) {
			outside.add(scores)
			continue
		}
		sum, ok := byWard[r.Location.Ward]
		if !ok {
			sum = &competencySum{}
			byWard[r.Location.Ward] = sum
		}
		sum.add(scores)
	}

	for _, w := range in.Wards {
		m := byWard[w.Name].means()
		t.AddRow(w.Name, w.Code, m[0], m[1], m[2])
	}
	m := outside.means()
	t.AddRow(Outside, OutsideWardCode, m[0], m[1], m[2])
	return t
}

// binnedCounts counts sessions per bin and side; value extracts the binned
// quantity or reports the record malformed.
func (a *Aggregator) binnedCounts(in *Input, t *charts.Table, bins []Bin, value func(*models.SessionRecord) (float64, error)) *charts.Table {
	counts := map[bool][]int{true: make([]int, len(bins)), false: make([]int, len(bins))}

	for i := range in.Sessions {
		r := &in.Sessions[i]
		if _, ok := a.sessionDate(in, t.Name, r); !ok {
			continue
		}
		v, err := value(r)
		if err != nil {
			a.malformed(t.Name, r.ID, err)
			continue
		}
		idx := binIndex(bins, v)
		if idx < 0 {
			a.malformed(t.Name, r.ID, fmt.Errorf("%w: value %v outside every bin", ErrMalformedRecord, v))
			continue
		}
		counts[r.InsideConstituency(in.Official.Constituency)][idx]++
	}

	for _, inside := range []bool{true, false} {
		for i, b := range bins {
			t.AddRow(b.Label, counts[inside][i], side(inside))
		}
	}
	return t
}

func (a *Aggregator) conversationsByHour(in *Input) *charts.Table {
	t := charts.New(TableConversationsByHour, "Time Period", "Count", "Constituency")
	return a.binnedCounts(in, t, HourBins, func(r *models.SessionRecord) (float64, error) {
		if r.StartedAt.IsZero() {
			return 0, fmt.Errorf("%w: no start time", ErrMalformedRecord)
		}
		return float64(r.StartedAt.In(a.location).Hour()), nil
	})
}

func (a *Aggregator) conversationsByLength(in *Input) *charts.Table {
	t := charts.New(TableConversationsByLength, "Session Length", "Count", "Constituency")
	return a.binnedCounts(in, t, LengthBins, func(r *models.SessionRecord) (float64, error) {
		return r.DurationSeconds, nil
	})
}

func (a *Aggregator) conversationsByMessages(in *Input) *charts.Table {
	t := charts.New(TableConversationsByMessage, "Message Count Category", "Count", "Constituency")
	return a.binnedCounts(in, t, MessageBins, func(r *models.SessionRecord) (float64, error) {
		return float64(r.UserMessageCount), nil
	})
}

func (a *Aggregator) medianSentiment(in *Input) *charts.Table {
	return a.medianByDay(in, TableMedianSentiment, classify.Sentiment, func(r *models.SessionRecord) [][]float64 { return r.UserSentiment })
}

func (a *Aggregator) medianStance(in *Input) *charts.Table {
	return a.medianByDay(in, TableMedianStance, classify.Stance, func(r *models.SessionRecord) [][]float64 { return r.UserStance })
}

func (a *Aggregator) medianIdeology(in *Input) *charts.Table {
	return a.medianByDay(in, TableMedianIdeology, classify.Ideology, func(r *models.SessionRecord) [][]float64 { return r.UserIdeology })
}

func (a *Aggregator) medianByDay(in *Input, name string, dim classify.Dimension, scores func(*models.SessionRecord) [][]float64) *charts.Table {
	cols := append([]string{"Session Date"}, dim.Labels...)
	t := charts.New(name, append(cols, "Constituency")...)
	width := len(dim.Labels)
	pools := map[bool]map[string][][]float64{true: {}, false: {}}

	for i := range in.Sessions {
		r := &in.Sessions[i]
		d, ok := a.sessionDate(in, t.Name, r)
		if !ok {
			continue
		}

		var usable [][]float64
		valid := true
		for _, v := range scores(r) {
			switch len(v) {
			case 0:
				// message could not be classified
			case width:
				usable = append(usable, v)
			default:
				valid = false
			}
		}
		if !valid {
			a.malformed(t.Name, r.ID, fmt.Errorf("%w: %s vectors must have %d scores", ErrMalformedRecord, dim.Name, width))
			continue
		}

		day := d.Format(models.SessionDateLayout)
		inside := r.InsideConstituency(in.Official.Constituency)
		pools[inside][day] = append(pools[inside][day], usable...)
	}

	for _, inside := range []bool{true, false} {
		for _, day := range in.Month.Days() {
			row := []any{day}
			for _, m := range medianVector(pools[inside][day], width) {
				row = append(row, round(m, 3))
			}
			row = append(row, side(inside))
			t.AddRow(row...)
		}
	}
	return t
}

// weeklyKeywords ranks keywords per week. A group with no documents at all
// gets a placeholder for weeks 1 to 4; otherwise any of weeks 1 to 4 that
// produced no keyword gets one.
func (a *Aggregator) weeklyKeywords(docsByWeek map[int][]string, hasData bool, omit []string) []keywordRow {
	var rows []keywordRow
	if hasData {
		weeks := make([]int, 0, len(docsByWeek))
		for w := range docsByWeek {
			weeks = append(weeks, w)
		}
		sort.Ints(weeks)
		for _, w := range weeks {
			for _, c := range a.extractor.Rank(docsByWeek[w], omit, a.perWeek) {
				rows = append(rows, keywordRow{c.Keyword, c.Count, w})
			}
		}
	}

	covered := map[int]bool{}
	for _, r := range rows {
		covered[r.week] = true
	}
	for w := 1; w <= 4; w++ {
		if !covered[w] {
			rows = append(rows, keywordRow{NoDataKeyword, 1, w})
		}
	}

	sort.SliceStable(rows, func(i, j int) bool { return rows[i].week < rows[j].week })
	return rows
}

type keywordRow struct {
	keyword string
	count   int
	week    int
}

func (a *Aggregator) sessionKeywords(in *Input, name string, docs func(*models.SessionRecord) []string) *charts.Table {
	t := charts.New(name, "Top Keyword", "Count", "Week", "Constituency")
	omit := Stoplist(in.Official.Name, a.extraStop)

	byWeek := map[bool]map[int][]string{true: {}, false: {}}
	has := map[bool]bool{}

	for i := range in.Sessions {
		r := &in.Sessions[i]
		d, ok := a.sessionDate(in, t.Name, r)
		if !ok {
			continue
		}
		texts := docs(r)
		if texts == nil {
			continue
		}
		inside := r.InsideConstituency(in.Official.Constituency)
		week := WeekOf(d.Day())
		has[inside] = true
		byWeek[inside][week] = append(byWeek[inside][week], texts...)
	}

	for _, inside := range []bool{true, false} {
		for _, r := range a.weeklyKeywords(byWeek[inside], has[inside], omit) {
			t.AddRow(r.keyword, r.count, r.week, side(inside))
		}
	}
	return t
}

func (a *Aggregator) topKeywords(in *Input) *charts.Table {
	return a.sessionKeywords(in, TableTopKeywords, func(r *models.SessionRecord) []string {
		return append([]string{}, r.UserMessages...)
	})
}

// topWebKeywords only considers sessions that fell back to web search, with
// the reply banner removed.
func (a *Aggregator) topWebKeywords(in *Input) *charts.Table {
	return a.sessionKeywords(in, TableTopWebKeywords, func(r *models.SessionRecord) []string {
		if len(r.WebSearchReplies) == 0 {
			return nil
		}
		out := make([]string, len(r.WebSearchReplies))
		for i, reply := range r.WebSearchReplies {
			out[i] = strings.TrimPrefix(reply, dialogue.WebSearchPrefix)
		}
		return out
	})
}

func (a *Aggregator) sensitiveByDay(in *Input) *charts.Table {
	t := charts.New(TableSensitiveByDay, "Session Date", "Count")
	counts := map[string]int{}
	for i := range in.Sessions {
		r := &in.Sessions[i]
		d, ok := a.sessionDate(in, t.Name, r)
		if !ok {
			continue
		}
		if r.SensitiveCount < 0 {
			a.malformed(t.Name, r.ID, fmt.Errorf("%w: negative sensitive count", ErrMalformedRecord))
			continue
		}
		counts[d.Format(models.SessionDateLayout)] += r.SensitiveCount
	}
	for _, day := range in.Month.Days() {
		t.AddRow(day, counts[day])
	}
	return t
}

func (a *Aggregator) reportDate(in *Input, table string, r *models.MessageReport) (int, string, bool) {
	if r.ReportedAt.IsZero() {
		a.malformed(table, r.ID, fmt.Errorf("%w: no report time", ErrMalformedRecord))
		return 0, "", false
	}
	local := r.ReportedAt.In(a.location)
	if !in.Month.Contains(local) {
		return 0, "", false
	}
	return local.Day(), local.Format(models.SessionDateLayout), true
}

func (a *Aggregator) reportedByDay(in *Input) *charts.Table {
	t := charts.New(TableReportedByDay, "Report Date", "Response")
	counts := map[string]int{}
	for i := range in.Reports {
		if _, day, ok := a.reportDate(in, t.Name, &in.Reports[i]); ok {
			counts[day]++
		}
	}
	for _, day := range in.Month.Days() {
		t.AddRow(day, counts[day])
	}
	return t
}

func (a *Aggregator) reportKeywords(in *Input) *charts.Table {
	t := charts.New(TableReportKeywords, "Top Keyword", "Count", "Week")
	byWeek := map[int][]string{}
	has := false

	for i := range in.Reports {
		r := &in.Reports[i]
		dom, _, ok := a.reportDate(in, t.Name, r)
		if !ok {
			continue
		}
		has = true
		byWeek[WeekOf(dom)] = append(byWeek[WeekOf(dom)], strings.TrimSpace(dialogue.StripPrefixes(r.Response)))
	}

	for _, r := range a.weeklyKeywords(byWeek, has, Stoplist(in.Official.Name, a.extraStop)) {
		t.AddRow(r.keyword, r.count, r.week)
	}
	return t
}
