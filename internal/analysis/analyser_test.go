package analysis

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civic-sage/backend/internal/chat"
	"github.com/civic-sage/backend/internal/classify"
	"github.com/civic-sage/backend/internal/dialogue"
	"github.com/civic-sage/backend/internal/geo"
	"github.com/civic-sage/backend/internal/storage/models"
)

type upperAnonymiser struct {
	failOn string
}

// Anonymise replaces "Alice" with <PERSON> and fails on failOn.
func (u upperAnonymiser) Anonymise(_ context.Context, text, _ string) (string, error) {
	if u.failOn != "" && strings.Contains(text, u.failOn) {
		return "", errors.New("detector down")
	}
	return strings.ReplaceAll(text, "Alice", "<PERSON>"), nil
}

type fixedScorer struct{}

func (fixedScorer) ScoreMessages(_ context.Context, msgs []string) (classify.Scores, error) {
	var s classify.Scores
	for range msgs {
		s.Sentiment = append(s.Sentiment, []float64{0.1, 0.2, 0.7})
		s.Stance = append(s.Stance, []float64{0.3, 0.3, 0.4})
		s.Ideology = append(s.Ideology, []float64{0.2, 0.2, 0.2, 0.2, 0.2})
	}
	return s, nil
}

type lengthReadability struct{}

func (lengthReadability) Score(text string) float64 { return float64(len(text)) }

type stubGeocoder struct {
	loc *models.Location
	err error
}

func (g stubGeocoder) Lookup(context.Context, float64, float64) (*models.Location, error) {
	return g.loc, g.err
}

type memStore struct {
	mu      sync.Mutex
	records []*models.SessionRecord
}

func (m *memStore) PutSession(_ context.Context, rec *models.SessionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func newAnalyser(anon Anonymiser, g geo.Geocoder, store SessionWriter) *Analyser {
	london, _ := time.LoadLocation("Europe/London")
	return New(Deps{
		Anonymiser:  anon,
		Geocoder:    g,
		Scorer:      fixedScorer{},
		Readability: lengthReadability{},
		Store:       store,
		Location:    london,
		Now:         func() time.Time { return time.Date(2025, 4, 1, 0, 10, 0, 0, time.UTC) },
	})
}

func transcript(pairs ...string) []chat.Turn {
	turns := make([]chat.Turn, 0, len(pairs))
	for i, content := range pairs {
		role := chat.RoleHuman
		if i%2 == 1 {
			role = chat.RoleAssistant
		}
		turns = append(turns, chat.Turn{Role: role, Content: content, Index: i + 1})
	}
	return turns
}

func TestAnalyseBuildsAndStoresRecord(t *testing.T) {
	store := &memStore{}
	ward := &models.Location{Ward: "Hamble", WardCode: "E05012345", Constituency: "Hamble Valley", ConstituencyCode: "E14001270"}
	a := newAnalyser(upperAnonymiser{}, stubGeocoder{loc: ward}, store)

	snap := Snapshot{
		ID:          "s1",
		Official:    models.Official{Name: "Paul Holmes", Constituency: "Hamble Valley"},
		Profile:     chat.Profile{Politics: 1, Parliament: 2, Government: 4},
		StartedAt:   time.Date(2025, 3, 31, 23, 30, 0, 0, time.UTC),
		EndedAt:     time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
		Coordinates: &geo.Coordinates{Lat: 50.86, Lon: -1.31},
		Transcript: transcript(
			"Alice asked me about the energy bill",
			"The bill passed second reading.",
			"What does Paul think?",
			dialogue.WebSearchPrefix+"Paul spoke in favour.",
			"Where does he live?",
			dialogue.SensitivePrefix+"Please contact the office.",
		),
	}

	rec, err := a.Analyse(context.Background(), snap)
	require.NoError(t, err)
	require.Len(t, store.records, 1)
	assert.Same(t, rec, store.records[0])

	// 23:30 UTC on 31 March is 00:30 BST on 1 April.
	assert.Equal(t, "2025-04-01", rec.SessionDate)
	assert.Equal(t, 1800.0, rec.DurationSeconds)
	assert.Equal(t, "Hamble", rec.Location.Ward)

	assert.Equal(t, 3, rec.UserMessageCount)
	assert.Equal(t, "<PERSON> asked me about the energy bill", rec.UserMessages[0])
	assert.Equal(t, []int{39, 21, 19}, rec.UserMessageLengths)
	assert.Len(t, rec.UserSentiment, 3)
	assert.Len(t, rec.UserIdeology[0], 5)
	assert.Equal(t, []float64{39, 21, 19}, rec.UserReadability)

	assert.Equal(t, 3, rec.AssistantMessageCount)
	assert.Equal(t, 1, rec.WebSearchCount)
	assert.Equal(t, 1, rec.SensitiveCount)
	assert.True(t, strings.HasPrefix(rec.WebSearchReplies[0], "WEB SEARCH:"))

	assert.Equal(t, map[string]int{
		chat.SubjectPolitics:   1,
		chat.SubjectParliament: 2,
		chat.SubjectGovernment: 4,
	}, rec.Competencies)
}

func TestAnalyseSkipsSessionWithoutHumanTurns(t *testing.T) {
	store := &memStore{}
	a := newAnalyser(upperAnonymiser{}, nil, store)

	_, err := a.Analyse(context.Background(), Snapshot{
		ID:         "empty",
		Transcript: []chat.Turn{{Role: chat.RoleSystem, Content: "welcome", Index: 1}},
	})
	assert.ErrorIs(t, err, ErrNoHumanTurns)
	assert.Empty(t, store.records)
}

func TestAnalyseDegradesOnCollaboratorFailures(t *testing.T) {
	a := newAnalyser(upperAnonymiser{failOn: "secret"}, stubGeocoder{err: geo.ErrGeocodingUnavailable}, &memStore{})

	rec, err := a.Build(context.Background(), Snapshot{
		ID:          "s2",
		Official:    models.Official{Name: "Tom Hayes"},
		StartedAt:   time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
		Coordinates: &geo.Coordinates{Lat: 1, Lon: 1},
		Transcript:  transcript("my secret is out", "ok"),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{RedactedPlaceholder}, rec.UserMessages)
	assert.Equal(t, models.UnavailableLocation(), rec.Location)
	// EndedAt unset falls back to the clock.
	assert.Equal(t, 600.0, rec.DurationSeconds)
}

func TestAnalyseWithoutCoordinatesUsesSentinel(t *testing.T) {
	a := newAnalyser(upperAnonymiser{}, stubGeocoder{err: errors.New("should not be called")}, &memStore{})

	rec, err := a.Build(context.Background(), Snapshot{
		ID:         "s3",
		StartedAt:  time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
		EndedAt:    time.Date(2025, 4, 1, 0, 1, 0, 0, time.UTC),
		Transcript: transcript("hello"),
	})
	require.NoError(t, err)
	assert.Equal(t, models.LocationUnavailable, rec.Location.Constituency)
	assert.Equal(t, 0, rec.AssistantMessageCount)
	assert.Empty(t, rec.WebSearchReplies)
}
