package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civic-sage/backend/internal/analysis"
	"github.com/civic-sage/backend/internal/chat"
	"github.com/civic-sage/backend/internal/dialogue"
	"github.com/civic-sage/backend/internal/geo"
	"github.com/civic-sage/backend/internal/storage/models"
)

const geographyYAML = `
officials:
  - name: Paul Holmes
    constituency: Hamble Valley
constituencies:
  - name: Hamble Valley
    wards:
      - {name: Hamble, code: E05000001}
`

// fakeAsker mimics the orchestrator's history handling. When block is set
// it waits for cancellation after recording the question.
type fakeAsker struct {
	block   chan struct{}
	started chan struct{}
	fail    error
}

func (f *fakeAsker) Ask(ctx context.Context, req dialogue.TurnRequest) (*dialogue.TurnResult, error) {
	req.History.Append(chat.RoleHuman, req.Question)
	if f.block != nil {
		close(f.started)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-f.block:
		}
	}
	if f.fail != nil {
		return nil, f.fail
	}
	turn := req.History.Append(chat.RoleAssistant, "Paul backed the bill [SOURCE URL: https://hansard.parliament.uk/x].")
	return &dialogue.TurnResult{Text: turn.Content, Index: turn.Index, Route: dialogue.OutcomeAnswered}, nil
}

type recordingAnalyser struct {
	mu    sync.Mutex
	snaps []analysis.Snapshot
	ctxOK []bool
}

func (r *recordingAnalyser) Analyse(ctx context.Context, snap analysis.Snapshot) (*models.SessionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, snap)
	r.ctxOK = append(r.ctxOK, ctx.Err() == nil)
	return &models.SessionRecord{ID: snap.ID, UserMessageCount: len(snap.Transcript)}, nil
}

type memReports struct {
	reports []*models.MessageReport
}

func (m *memReports) PutReport(_ context.Context, rep *models.MessageReport) error {
	m.reports = append(m.reports, rep)
	return nil
}

type nameAnonymiser struct{}

func (nameAnonymiser) Anonymise(_ context.Context, text, _ string) (string, error) {
	return strings.ReplaceAll(text, "Alice", "<PERSON>"), nil
}

type fixture struct {
	mgr      *Manager
	asker    *fakeAsker
	analyser *recordingAnalyser
	reports  *memReports
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	geography, err := geo.Parse([]byte(geographyYAML))
	require.NoError(t, err)

	f := &fixture{
		asker:    &fakeAsker{},
		analyser: &recordingAnalyser{},
		reports:  &memReports{},
		now:      time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC),
	}
	f.mgr = NewManager(Config{WindowSize: 4, IdleTimeout: 30 * time.Minute}, Deps{
		Orchestrator: f.asker,
		Analyser:     f.analyser,
		Anonymiser:   nameAnonymiser{},
		Reports:      f.reports,
		Geography:    geography,
		Now:          func() time.Time { return f.now },
	})
	return f
}

var profile = chat.Profile{Politics: 2, Parliament: 2, Government: 2}

func (f *fixture) start(t *testing.T) string {
	t.Helper()
	info, err := f.mgr.Start(context.Background(), StartRequest{Official: "paul holmes", Profile: profile})
	require.NoError(t, err)
	return info.ID
}

func TestStartValidates(t *testing.T) {
	f := newFixture(t)

	_, err := f.mgr.Start(context.Background(), StartRequest{Official: "Nobody", Profile: profile})
	assert.ErrorIs(t, err, geo.ErrUnknownOfficial)

	_, err = f.mgr.Start(context.Background(), StartRequest{Official: "Paul Holmes"})
	assert.ErrorIs(t, err, chat.ErrUnknownLevel)

	info, err := f.mgr.Start(context.Background(), StartRequest{Official: "paul holmes", Profile: profile})
	require.NoError(t, err)
	assert.Equal(t, "Hamble Valley", info.Official.Constituency)
	assert.Equal(t, 1, f.mgr.Active())
}

func TestAskNumbersSources(t *testing.T) {
	f := newFixture(t)
	id := f.start(t)

	reply, err := f.mgr.Ask(context.Background(), id, "How did Paul vote?")
	require.NoError(t, err)

	assert.Equal(t, 2, reply.Index)
	assert.Equal(t, "Paul backed the bill [1].", reply.Text)
	require.Len(t, reply.Sources, 1)
	assert.Equal(t, "https://hansard.parliament.uk/x", reply.Sources[0].URL)

	history, err := f.mgr.History(id)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Contains(t, history[1].Content, "[SOURCE URL:")
}

func TestAskErrors(t *testing.T) {
	f := newFixture(t)

	_, err := f.mgr.Ask(context.Background(), "missing", "hi")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	id := f.start(t)
	_, err = f.mgr.Ask(context.Background(), id, "")
	assert.ErrorIs(t, err, ErrEmptyQuestion)

	f.asker.fail = dialogue.ErrGenerationUnavailable
	_, err = f.mgr.Ask(context.Background(), id, "hi")
	assert.ErrorIs(t, err, dialogue.ErrGenerationUnavailable)

	f.asker.fail = nil
	_, err = f.mgr.Ask(context.Background(), id, "again")
	assert.NoError(t, err, "session stays usable after a failed turn")
}

func TestEndRunsAnalysisOnce(t *testing.T) {
	f := newFixture(t)
	id := f.start(t)
	_, err := f.mgr.Ask(context.Background(), id, "hi")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec, err := f.mgr.End(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, rec.ID)

	_, err = f.mgr.End(context.Background(), id)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	require.Len(t, f.analyser.snaps, 1)
	assert.True(t, f.analyser.ctxOK[0], "analysis context is detached from the caller")
	assert.Len(t, f.analyser.snaps[0].Transcript, 2)
	assert.Equal(t, 0, f.mgr.Active())
}

func TestEndMidTurnKeepsQuestion(t *testing.T) {
	f := newFixture(t)
	f.asker.block = make(chan struct{})
	f.asker.started = make(chan struct{})
	id := f.start(t)

	errs := make(chan error, 1)
	go func() {
		_, err := f.mgr.Ask(context.Background(), id, "a slow question")
		errs <- err
	}()
	<-f.asker.started

	_, err := f.mgr.End(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, errors.Is(<-errs, context.Canceled))

	require.Len(t, f.analyser.snaps, 1)
	transcript := f.analyser.snaps[0].Transcript
	require.Len(t, transcript, 1)
	assert.Equal(t, "a slow question", transcript[0].Content)
}

func TestReport(t *testing.T) {
	f := newFixture(t)
	id := f.start(t)
	_, err := f.mgr.Ask(context.Background(), id, "Did Alice ask about Paul?")
	require.NoError(t, err)

	rep, err := f.mgr.Report(context.Background(), id, ReportRequest{
		TurnIndex: 2,
		Tags:      []string{models.TagInaccurateSources},
		Comment:   "Alice says this is wrong",
	})
	require.NoError(t, err)

	assert.Equal(t, "Paul Holmes", rep.Official)
	assert.Equal(t, []string{"Human: Did <PERSON> ask about Paul?"}, rep.PreviousMessages)
	assert.Equal(t, "<PERSON> says this is wrong", rep.Comment)
	assert.Contains(t, rep.Response, "Paul backed the bill")
	require.Len(t, f.reports.reports, 1)

	_, err = f.mgr.Report(context.Background(), id, ReportRequest{TurnIndex: 1})
	assert.ErrorIs(t, err, ErrNotAssistantTurn)

	_, err = f.mgr.Report(context.Background(), id, ReportRequest{TurnIndex: 9})
	assert.ErrorIs(t, err, chat.ErrIndexOutOfRange)

	_, err = f.mgr.Report(context.Background(), id, ReportRequest{TurnIndex: 2, Tags: []string{"Rude"}})
	assert.ErrorIs(t, err, ErrInvalidTag)
}

func TestReapIdle(t *testing.T) {
	f := newFixture(t)
	stale := f.start(t)
	f.now = f.now.Add(20 * time.Minute)
	fresh := f.start(t)

	f.now = f.now.Add(15 * time.Minute)
	assert.Equal(t, 1, f.mgr.ReapIdle(context.Background()))

	_, err := f.mgr.History(stale)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = f.mgr.History(fresh)
	assert.NoError(t, err)
}

func TestShutdownEndsAll(t *testing.T) {
	f := newFixture(t)
	f.start(t)
	f.start(t)

	f.mgr.Shutdown(context.Background())
	assert.Equal(t, 0, f.mgr.Active())
	assert.Len(t, f.analyser.snaps, 2)
}
