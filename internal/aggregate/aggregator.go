// Package aggregate turns one month of session records and message reports
// for an official into the flat chart tables read by the reporting pages.
package aggregate

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/civic-sage/backend/internal/charts"
	"github.com/civic-sage/backend/internal/keywords"
	"github.com/civic-sage/backend/internal/metrics"
	"github.com/civic-sage/backend/internal/storage/models"
	"github.com/civic-sage/backend/pkg/logger"
)

var ErrMalformedRecord = errors.New("malformed record")

const (
	TableSessionsByDay          = "month_sessions_by_day"
	TableSessionsByWard         = "month_sessions_by_ward"
	TablePoliticalKnowledge     = "month_political_knowledge_by_ward"
	TableConversationsByHour    = "month_conversations_by_hour"
	TableConversationsByLength  = "month_conversations_by_length"
	TableConversationsByMessage = "month_conversations_by_messages"
	TableMedianSentiment        = "month_median_sentiment_by_day"
	TableMedianStance           = "month_median_stance_by_day"
	TableMedianIdeology         = "month_median_ideology_by_day"
	TableTopKeywords            = "month_top_keywords_by_week"
	TableTopWebKeywords         = "month_top_web_keywords_by_week"
	TableSensitiveByDay         = "month_sensitive_messages_by_day"
	TableReportedByDay          = "month_reported_responses_by_day"
	TableReportKeywords         = "month_top_keywords_reports_by_week"
)

// TableNames lists every table a run writes, in build order.
var TableNames = []string{
	TableSessionsByDay,
	TableSessionsByWard,
	TablePoliticalKnowledge,
	TableConversationsByHour,
	TableConversationsByLength,
	TableConversationsByMessage,
	TableMedianSentiment,
	TableMedianStance,
	TableMedianIdeology,
	TableTopKeywords,
	TableTopWebKeywords,
	TableSensitiveByDay,
	TableReportedByDay,
	TableReportKeywords,
}

// IsTableName reports whether name is one of TableNames.
func IsTableName(name string) bool {
	for _, n := range TableNames {
		if n == name {
			return true
		}
	}
	return false
}

const (
	Inside          = "Inside"
	Outside         = "Outside"
	OutsideWardCode = "NONE"
	NoDataKeyword   = "No data available"
)

// Input is everything one official's run needs. Records outside Month are
// ignored.
type Input struct {
	Official models.Official
	Wards    []models.Ward
	Month    Month
	Sessions []models.SessionRecord
	Reports  []models.MessageReport
}

type Aggregator struct {
	extractor *keywords.Extractor
	kwOpts    []keywords.Option
	location  *time.Location
	perWeek   int
	extraStop []string
}

type Option func(*Aggregator)

func WithLocation(loc *time.Location) Option {
	return func(a *Aggregator) { a.location = loc }
}

func WithKeywordLimits(perDoc, perWeek int) Option {
	return func(a *Aggregator) {
		if perDoc > 0 {
			a.kwOpts = append(a.kwOpts, keywords.WithTop(perDoc))
		}
		if perWeek > 0 {
			a.perWeek = perWeek
		}
	}
}

// WithKeywordShape sets the longest keyword phrase and the similarity above
// which a candidate is dropped as a near duplicate. Zero keeps the default.
func WithKeywordShape(maxNgram int, dedupeLimit float64) Option {
	return func(a *Aggregator) {
		if maxNgram > 0 {
			a.kwOpts = append(a.kwOpts, keywords.WithMaxNgram(maxNgram))
		}
		if dedupeLimit > 0 {
			a.kwOpts = append(a.kwOpts, keywords.WithDedupeLimit(dedupeLimit))
		}
	}
}

// WithExtraStopwords adds words that disqualify a keyword, on top of the
// official's own name.
func WithExtraStopwords(words ...string) Option {
	return func(a *Aggregator) { a.extraStop = append(a.extraStop, words...) }
}

func New(opts ...Option) *Aggregator {
	a := &Aggregator{
		location: time.UTC,
		perWeek:  keywords.DefaultTop,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.extractor = keywords.NewExtractor(a.kwOpts...)
	return a
}

type builder struct {
	name  string
	build func(*Input) *charts.Table
}

func (a *Aggregator) builders() []builder {
	return []builder{
		{TableSessionsByDay, a.sessionsByDay},
		{TableSessionsByWard, a.sessionsByWard},
		{TablePoliticalKnowledge, a.politicalKnowledgeByWard},
		{TableConversationsByHour, a.conversationsByHour},
		{TableConversationsByLength, a.conversationsByLength},
		{TableConversationsByMessage, a.conversationsByMessages},
		{TableMedianSentiment, a.medianSentiment},
		{TableMedianStance, a.medianStance},
		{TableMedianIdeology, a.medianIdeology},
		{TableTopKeywords, a.topKeywords},
		{TableTopWebKeywords, a.topWebKeywords},
		{TableSensitiveByDay, a.sensitiveByDay},
		{TableReportedByDay, a.reportedByDay},
		{TableReportKeywords, a.reportKeywords},
	}
}

// Build computes every chart table concurrently. Tables come back in a
// fixed order. A malformed record only drops out of the tables that need
// the broken field.
func (a *Aggregator) Build(ctx context.Context, in *Input) ([]*charts.Table, error) {
	bs := a.builders()
	tables := make([]*charts.Table, len(bs))

	g, gctx := errgroup.WithContext(ctx)
	for i, b := range bs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			start := time.Now()
			tables[i] = b.build(in)
			logger.Debug("Chart table built",
				zap.String("table", b.name),
				zap.String("official", in.Official.Name),
				zap.Int("rows", len(tables[i].Rows)),
				zap.Duration("took", time.Since(start)),
			)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return tables, nil
}

func (a *Aggregator) malformed(table string, id string, err error) {
	metrics.MalformedRecords.WithLabelValues(table).Inc()
	logger.Warn("Skipping record for table",
		zap.String("table", table),
		zap.String("record", id),
		zap.Error(err),
	)
}

// sessionDate validates a record's date and that it falls in the month.
func (a *Aggregator) sessionDate(in *Input, table string, r *models.SessionRecord) (time.Time, bool) {
	d, err := r.Date()
	if err != nil {
		a.malformed(table, r.ID, errors.Join(ErrMalformedRecord, err))
		return time.Time{}, false
	}
	return d, in.Month.Contains(d)
}

func side(inside bool) string {
	if inside {
		return Inside
	}
	return Outside
}

// Stoplist lists the words that may not appear in an official's keywords:
// their name, its parts and possessives, and their title.
func Stoplist(name string, extra []string) []string {
	lower := strings.ToLower(strings.TrimSpace(name))
	out := []string{lower}
	for _, part := range strings.Fields(lower) {
		out = append(out, part, part+"s", part+"'s")
	}
	out = append(out, "mp", "member of parliament")
	for _, w := range extra {
		out = append(out, strings.ToLower(w))
	}
	return out
}
