// Package analysis turns an ended session's transcript into an anonymised,
// scored SessionRecord.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/civic-sage/backend/internal/chat"
	"github.com/civic-sage/backend/internal/classify"
	"github.com/civic-sage/backend/internal/geo"
	"github.com/civic-sage/backend/internal/metrics"
	"github.com/civic-sage/backend/internal/storage/models"
	"github.com/civic-sage/backend/pkg/logger"
)

// ErrNoHumanTurns is returned when a session ended before the visitor said
// anything. Nothing is stored.
var ErrNoHumanTurns = errors.New("session has no human turns")

// RedactedPlaceholder replaces a message the anonymiser could not process.
const RedactedPlaceholder = "<REDACTED>"

const (
	webSearchMarker = "WEB SEARCH:"
	sensitiveMarker = "SENSITIVE REPLY: "
)

type Anonymiser interface {
	Anonymise(ctx context.Context, text, subject string) (string, error)
}

type MessageScorer interface {
	ScoreMessages(ctx context.Context, messages []string) (classify.Scores, error)
}

type Readability interface {
	Score(text string) float64
}

type SessionWriter interface {
	PutSession(ctx context.Context, rec *models.SessionRecord) error
}

// Snapshot is the state of a session at the moment it ended.
type Snapshot struct {
	ID          string
	Official    models.Official
	Profile     chat.Profile
	StartedAt   time.Time
	EndedAt     time.Time
	Coordinates *geo.Coordinates
	Transcript  []chat.Turn
}

type Deps struct {
	Anonymiser  Anonymiser
	Geocoder    geo.Geocoder
	Scorer      MessageScorer
	Readability Readability
	Store       SessionWriter
	// Location is the timezone session dates are computed in.
	Location *time.Location
	Now      func() time.Time
}

type Analyser struct {
	anonymiser  Anonymiser
	geocoder    geo.Geocoder
	scorer      MessageScorer
	readability Readability
	store       SessionWriter
	loc         *time.Location
	now         func() time.Time
}

func New(d Deps) *Analyser {
	if d.Location == nil {
		d.Location = time.UTC
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Analyser{
		anonymiser:  d.Anonymiser,
		geocoder:    d.Geocoder,
		scorer:      d.Scorer,
		readability: d.Readability,
		store:       d.Store,
		loc:         d.Location,
		now:         d.Now,
	}
}

// Analyse builds the record for snap and stores it. It returns
// ErrNoHumanTurns without storing anything when the visitor never spoke.
func (a *Analyser) Analyse(ctx context.Context, snap Snapshot) (*models.SessionRecord, error) {
	rec, err := a.Build(ctx, snap)
	if err != nil {
		if errors.Is(err, ErrNoHumanTurns) {
			metrics.SessionsAnalysed.WithLabelValues("skipped").Inc()
			logger.Info("Session had no visitor messages, skipping analysis", zap.String("session_id", snap.ID))
		} else {
			metrics.SessionsAnalysed.WithLabelValues("failed").Inc()
		}
		return nil, err
	}

	if err := a.store.PutSession(ctx, rec); err != nil {
		metrics.SessionsAnalysed.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("failed to store session %s: %w", snap.ID, err)
	}

	metrics.SessionsAnalysed.WithLabelValues("stored").Inc()
	return rec, nil
}

// Build computes the record without storing it.
func (a *Analyser) Build(ctx context.Context, snap Snapshot) (*models.SessionRecord, error) {
	human := byRole(snap.Transcript, chat.RoleHuman)
	if len(human) == 0 {
		return nil, ErrNoHumanTurns
	}
	assistant := byRole(snap.Transcript, chat.RoleAssistant)

	subject := snap.Official.Name
	userMessages := a.anonymiseAll(ctx, human, subject)
	replies := a.anonymiseAll(ctx, assistant, subject)

	var (
		location models.Location
		scores   classify.Scores
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		location = geo.Resolve(gctx, a.geocoder, snap.Coordinates)
		return nil
	})
	g.Go(func() error {
		var err error
		scores, err = a.scorer.ScoreMessages(gctx, userMessages)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to score session %s: %w", snap.ID, err)
	}

	var web []string
	sensitive := 0
	for _, r := range replies {
		if strings.Contains(r, webSearchMarker) {
			web = append(web, r)
		}
		if strings.Contains(r, sensitiveMarker) {
			sensitive++
		}
	}

	lengths := make([]int, len(userMessages))
	for i, m := range userMessages {
		lengths[i] = utf8.RuneCountInString(m)
	}

	ended := snap.EndedAt
	if ended.IsZero() {
		ended = a.now()
	}

	return &models.SessionRecord{
		ID:                    snap.ID,
		Official:              subject,
		StartedAt:             snap.StartedAt,
		SessionDate:           snap.StartedAt.In(a.loc).Format(models.SessionDateLayout),
		DurationSeconds:       ended.Sub(snap.StartedAt).Seconds(),
		Location:              location,
		UserMessages:          userMessages,
		UserMessageCount:      len(userMessages),
		UserMessageLengths:    lengths,
		UserReadability:       a.scoreReadability(userMessages),
		UserSentiment:         scores.Sentiment,
		UserStance:            scores.Stance,
		UserIdeology:          scores.Ideology,
		AssistantMessageCount: len(replies),
		AssistantReadability:  a.scoreReadability(replies),
		WebSearchReplies:      web,
		WebSearchCount:        len(web),
		SensitiveCount:        sensitive,
		Competencies:          snap.Profile.Scores(),
		RecordedAt:            a.now(),
	}, nil
}

func (a *Analyser) anonymiseAll(ctx context.Context, messages []string, subject string) []string {
	out := make([]string, len(messages))
	for i, m := range messages {
		clean, err := a.anonymiser.Anonymise(ctx, m, subject)
		if err != nil {
			metrics.DegradedStages.WithLabelValues("anonymise").Inc()
			logger.Warn("Anonymisation failed, redacting whole message", zap.Error(err))
			clean = RedactedPlaceholder
		}
		out[i] = clean
	}
	return out
}

func (a *Analyser) scoreReadability(messages []string) []float64 {
	out := make([]float64, len(messages))
	for i, m := range messages {
		out[i] = a.readability.Score(m)
	}
	return out
}

func byRole(turns []chat.Turn, role chat.Role) []string {
	var out []string
	for _, t := range turns {
		if t.Role == role {
			out = append(out, t.Content)
		}
	}
	return out
}
