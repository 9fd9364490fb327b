package dialogue

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civic-sage/backend/internal/chat"
	"github.com/civic-sage/backend/internal/storage/models"
)

type searchCall struct {
	query, namespace string
	k                int
}

type fakeRetriever struct {
	passages []Passage
	err      error
	calls    []searchCall
}

func (f *fakeRetriever) Search(_ context.Context, query, namespace string, k int) ([]Passage, error) {
	f.calls = append(f.calls, searchCall{query, namespace, k})
	if f.err != nil {
		return nil, f.err
	}
	return f.passages, nil
}

// fakeGenerator answers by system prompt so each pipeline stage can be
// scripted independently.
type fakeGenerator struct {
	replies map[string]*Generation
	errs    map[string]error
	reqs    []GenerateRequest
}

func newFakeGenerator() *fakeGenerator {
	return &fakeGenerator{
		replies: map[string]*Generation{
			summarisePrompt: {Text: "The user asked about energy."},
		},
		errs: map[string]error{},
	}
}

func (f *fakeGenerator) Generate(_ context.Context, req GenerateRequest) (*Generation, error) {
	f.reqs = append(f.reqs, req)
	if err := f.errs[req.System]; err != nil {
		return nil, err
	}
	if g, ok := f.replies[req.System]; ok {
		return g, nil
	}
	return &Generation{Text: "unscripted"}, nil
}

func (f *fakeGenerator) requestFor(system string) (GenerateRequest, bool) {
	for _, r := range f.reqs {
		if r.System == system {
			return r, true
		}
	}
	return GenerateRequest{}, false
}

func inputValue(req GenerateRequest, label string) string {
	for _, in := range req.Inputs {
		if in.Label == label {
			return in.Value
		}
	}
	return ""
}

var testOfficial = models.Official{Name: "Paul Holmes", Constituency: "Hamble Valley"}

func newTestOrchestrator(r Retriever, g Generator) *Orchestrator {
	return NewOrchestrator(Deps{
		Retriever: r,
		Generator: g,
		Now:       func() time.Time { return time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC) },
	})
}

func testRequest(question string, h *chat.History) TurnRequest {
	return TurnRequest{
		Question: question,
		Official: testOfficial,
		Profile:  chat.Profile{Politics: chat.LevelFairAmount, Parliament: chat.LevelNotMuch, Government: chat.LevelFairAmount},
		History:  h,
	}
}

func TestAskNormalRouteKeepsCitation(t *testing.T) {
	retriever := &fakeRetriever{passages: []Passage{
		{Text: "The MP spoke in the Energy Bill debate.", Source: "https://hansard.parliament.uk/energy"},
	}}
	gen := newFakeGenerator()
	gen.replies[answerPrompt] = &Generation{Text: "The MP supported the Energy Bill [SOURCE URL: https://hansard.parliament.uk/energy]."}
	gen.replies[debiasPrompt] = &Generation{Text: "Impartially, the MP supported the Energy Bill [SOURCE URL: https://hansard.parliament.uk/energy]."}

	h := chat.NewHistory(20)
	res, err := newTestOrchestrator(retriever, gen).Ask(context.Background(), testRequest("What did the MP say about the Energy Bill?", h))
	require.NoError(t, err)

	assert.Equal(t, OutcomeAnswered, res.Route)
	assert.Contains(t, res.Text, "[SOURCE URL: https://hansard.parliament.uk/energy]")
	assert.False(t, strings.HasPrefix(res.Text, "WEB SEARCH:"))
	assert.False(t, strings.HasPrefix(res.Text, "SENSITIVE REPLY:"))
	assert.Equal(t, 2, res.Index)
	assert.Equal(t, []State{StateReceived, StateRetrieving, StateSummarising, StateGenerating, StateRouting, StateNormalDebias, StatePersisted}, res.Trace)

	require.Len(t, retriever.calls, 1)
	assert.Equal(t, searchCall{"What did the MP say about the Energy Bill?", "Paul Holmes", 5}, retriever.calls[0])

	answerReq, ok := gen.requestFor(answerPrompt)
	require.True(t, ok)
	assert.Equal(t, "2026-03-04", inputValue(answerReq, "Todays date"))
	assert.Equal(t, "The user asked about energy.", inputValue(answerReq, "Chat history summary"))
	assert.Contains(t, inputValue(answerReq, "Context"), "Source: https://hansard.parliament.uk/energy")
	assert.Contains(t, inputValue(answerReq, "User self-described expertise"), "UK Politics: A fair amount (3/4)")

	debiasReq, ok := gen.requestFor(debiasPrompt)
	require.True(t, ok)
	assert.Equal(t, gen.replies[answerPrompt].Text, inputValue(debiasReq, "Original text generated"))

	transcript := h.Transcript()
	require.Len(t, transcript, 2)
	assert.Equal(t, chat.RoleHuman, transcript[0].Role)
	assert.Equal(t, res.Text, transcript[1].Content)
}

func TestAskPersonalRoute(t *testing.T) {
	retriever := &fakeRetriever{passages: []Passage{{Text: "Email paul.holmes.mp@parliament.uk", Source: "contact"}}}
	gen := newFakeGenerator()
	gen.replies[answerPrompt] = &Generation{Text: "PERSONAL"}
	gen.replies[redirectPrompt] = &Generation{Text: "Please contact NHS 111 or your MP's office."}

	res, err := newTestOrchestrator(retriever, gen).Ask(context.Background(), testRequest("Can the MP help me with my debts?", chat.NewHistory(20)))
	require.NoError(t, err)

	assert.Equal(t, OutcomePersonal, res.Route)
	assert.True(t, strings.HasPrefix(res.Text, "SENSITIVE REPLY:"))
	assert.Equal(t, SensitivePrefix+"Please contact NHS 111 or your MP's office.", res.Text)

	require.Len(t, retriever.calls, 2)
	assert.Equal(t, ContactDetailsQuery, retriever.calls[1].query)
	assert.Equal(t, "Paul Holmes", retriever.calls[1].namespace)

	redirectReq, _ := gen.requestFor(redirectPrompt)
	assert.Equal(t, "Can the MP help me with my debts?", inputValue(redirectReq, "Original message"))
}

func TestAskUnknownRoute(t *testing.T) {
	tests := []struct {
		name       string
		usedTool   bool
		wantPrefix bool
	}{
		{"tool searched", true, true},
		{"answered without searching", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := newFakeGenerator()
			gen.replies[answerPrompt] = &Generation{Text: " UNKNOWN \n"}
			gen.replies[webSearchPrompt] = &Generation{Text: "Big Ben is 96m tall.", UsedWebTool: tt.usedTool}

			res, err := newTestOrchestrator(&fakeRetriever{}, gen).Ask(context.Background(), testRequest("How tall is Big Ben?", chat.NewHistory(20)))
			require.NoError(t, err)

			assert.Equal(t, OutcomeUnknown, res.Route)
			assert.Equal(t, tt.wantPrefix, strings.HasPrefix(res.Text, "WEB SEARCH:"))
			assert.True(t, strings.HasSuffix(res.Text, "Big Ben is 96m tall."))

			webReq, ok := gen.requestFor(webSearchPrompt)
			require.True(t, ok)
			assert.True(t, webReq.EnableWebTool)
			assert.Equal(t, "Hamble Valley", inputValue(webReq, "MP constituency"))
		})
	}
}

func TestAskDegradesWhenRetrievalOrSummaryFail(t *testing.T) {
	gen := newFakeGenerator()
	gen.errs[summarisePrompt] = errors.New("rate limited")
	gen.replies[answerPrompt] = &Generation{Text: "An answer."}
	gen.replies[debiasPrompt] = &Generation{Text: "A balanced answer."}

	res, err := newTestOrchestrator(&fakeRetriever{err: errors.New("index offline")}, gen).
		Ask(context.Background(), testRequest("Q?", chat.NewHistory(20)))
	require.NoError(t, err)
	assert.Equal(t, "A balanced answer.", res.Text)

	answerReq, _ := gen.requestFor(answerPrompt)
	assert.Empty(t, inputValue(answerReq, "Context"))
	assert.Empty(t, inputValue(answerReq, "Chat history summary"))
}

func TestAskGenerationFailure(t *testing.T) {
	gen := newFakeGenerator()
	gen.errs[answerPrompt] = errors.New("model overloaded")

	h := chat.NewHistory(20)
	_, err := newTestOrchestrator(&fakeRetriever{}, gen).Ask(context.Background(), testRequest("Q?", h))
	require.ErrorIs(t, err, ErrGenerationUnavailable)

	require.Equal(t, 1, h.Len())
	last, _ := h.LastMessage()
	assert.Equal(t, chat.RoleHuman, last.Role)

	gen.errs = map[string]error{}
	gen.replies[answerPrompt] = &Generation{Text: "ok"}
	gen.replies[debiasPrompt] = &Generation{Text: "ok"}
	res, err := newTestOrchestrator(&fakeRetriever{}, gen).Ask(context.Background(), testRequest("Again?", h))
	require.NoError(t, err)
	assert.Equal(t, 3, res.Index)
}

func TestAskSummariesSeeCurrentQuestion(t *testing.T) {
	gen := newFakeGenerator()
	gen.replies[answerPrompt] = &Generation{Text: "ok"}
	gen.replies[debiasPrompt] = &Generation{Text: "ok"}

	_, err := newTestOrchestrator(nil, gen).Ask(context.Background(), testRequest("Who is my MP?", chat.NewHistory(20)))
	require.NoError(t, err)

	summaryReq, ok := gen.requestFor(summarisePrompt)
	require.True(t, ok)
	require.Len(t, summaryReq.Inputs, 1)
	assert.Equal(t, "Human: Who is my MP?", summaryReq.Inputs[0].Value)
}

func TestFormatPassages(t *testing.T) {
	got := FormatPassages([]Passage{
		{Text: "one", Source: "a"},
		{Text: "two", Source: "b"},
	})
	assert.Equal(t, "---\nSource: a\none\n\n---\nSource: b\ntwo", got)
	assert.Empty(t, FormatPassages(nil))
}

func TestRenderInputs(t *testing.T) {
	got := RenderInputs([]Input{{Label: "MP name", Value: "Paul Holmes"}, {Value: "raw"}})
	assert.Equal(t, []string{"MP name: Paul Holmes", "raw"}, got)
}
