// Package dialogue answers one visitor question per call: it retrieves
// knowledge-base context, summarises the recent conversation, drafts an
// answer and then routes it to a redirect, a web search or an impartiality
// rewrite before recording the final reply in the session history.
package dialogue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/civic-sage/backend/internal/chat"
	"github.com/civic-sage/backend/internal/metrics"
	"github.com/civic-sage/backend/internal/storage/models"
	"github.com/civic-sage/backend/pkg/logger"
)

// State names the stages a turn passes through. TurnResult.Trace lists them
// in the order visited.
type State string

const (
	StateReceived      State = "RECEIVED"
	StateRetrieving    State = "RETRIEVING"
	StateSummarising   State = "SUMMARISING"
	StateGenerating    State = "GENERATING"
	StateRouting       State = "ROUTING"
	StatePersonal      State = "PERSONAL"
	StateUnknownSearch State = "UNKNOWN_SEARCH"
	StateNormalDebias  State = "NORMAL_DEBIAS"
	StatePersisted     State = "PERSISTED"
)

const dateLayout = "2006-01-02"

type Deps struct {
	Retriever  Retriever
	Generator  Generator
	RetrievalK int
	Now        func() time.Time
}

type Orchestrator struct {
	retriever Retriever
	generator Generator
	k         int
	now       func() time.Time
}

func NewOrchestrator(d Deps) *Orchestrator {
	if d.RetrievalK <= 0 {
		d.RetrievalK = 5
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Orchestrator{
		retriever: d.Retriever,
		generator: d.Generator,
		k:         d.RetrievalK,
		now:       d.Now,
	}
}

type TurnRequest struct {
	Question string
	Official models.Official
	Profile  chat.Profile
	History  *chat.History
}

type TurnResult struct {
	Text  string
	Index int
	Route OutcomeKind
	Trace []State
}

// Ask runs one turn. The question is appended to req.History before anything
// else, so it is part of the transcript even when the turn fails. On
// success the reply is appended too and its transcript index returned.
func (o *Orchestrator) Ask(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	start := time.Now()
	trace := []State{StateReceived}
	date := o.now().Format(dateLayout)

	req.History.Append(chat.RoleHuman, req.Question)

	trace = append(trace, StateRetrieving)
	passages := o.retrieve(ctx, req.Question, req.Official.Name)

	trace = append(trace, StateSummarising)
	summary := o.summarise(ctx, req.History)

	trace = append(trace, StateGenerating)
	draft, err := o.generate(ctx, GenerateRequest{
		System: answerPrompt,
		Inputs: []Input{
			{Label: "Todays date", Value: date},
			{Label: "User self-described expertise", Value: req.Profile.Plaintext()},
			{Label: "Chat history summary", Value: summary},
			{Label: "Context", Value: FormatPassages(passages)},
			{Value: req.Question},
		},
	})
	if err != nil {
		o.observe(start, OutcomeAnswered, "failed")
		return nil, err
	}

	trace = append(trace, StateRouting)
	outcome := Classify(draft.Text)

	var text string
	switch outcome.Kind {
	case OutcomePersonal:
		trace = append(trace, StatePersonal)
		text, err = o.redirect(ctx, req)
	case OutcomeUnknown:
		trace = append(trace, StateUnknownSearch)
		text, err = o.searchWeb(ctx, req, date)
	default:
		trace = append(trace, StateNormalDebias)
		text, err = o.debias(ctx, req, outcome.Text, date)
	}
	if err != nil {
		o.observe(start, outcome.Kind, "failed")
		return nil, err
	}

	turn := req.History.Append(chat.RoleAssistant, text)
	trace = append(trace, StatePersisted)

	o.observe(start, outcome.Kind, "ok")
	logger.Info("Turn answered",
		zap.String("official", req.Official.Name),
		zap.String("route", outcome.Kind.String()),
		zap.Int("index", turn.Index),
		zap.Int("passages", len(passages)),
		zap.Duration("elapsed", time.Since(start)),
	)

	return &TurnResult{
		Text:  text,
		Index: turn.Index,
		Route: outcome.Kind,
		Trace: trace,
	}, nil
}

func (o *Orchestrator) retrieve(ctx context.Context, query, namespace string) []Passage {
	if o.retriever == nil {
		return nil
	}
	passages, err := o.retriever.Search(ctx, query, namespace, o.k)
	if err != nil {
		metrics.DegradedStages.WithLabelValues("retrieval").Inc()
		logger.Warn("Retrieval failed, continuing without context",
			zap.String("namespace", namespace),
			zap.Error(fmt.Errorf("%w: %v", ErrRetrievalUnavailable, err)),
		)
		return nil
	}
	metrics.RetrievalResults.Observe(float64(len(passages)))
	return passages
}

func (o *Orchestrator) summarise(ctx context.Context, history *chat.History) string {
	gen, err := o.generator.Generate(ctx, GenerateRequest{
		System: summarisePrompt,
		Inputs: []Input{{Value: history.FormatWindow()}},
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return ""
		}
		metrics.DegradedStages.WithLabelValues("summary").Inc()
		logger.Warn("History summary failed, continuing without it", zap.Error(err))
		return ""
	}
	return gen.Text
}

func (o *Orchestrator) redirect(ctx context.Context, req TurnRequest) (string, error) {
	contacts := o.retrieve(ctx, ContactDetailsQuery, req.Official.Name)
	gen, err := o.generate(ctx, GenerateRequest{
		System: redirectPrompt,
		Inputs: []Input{
			{Label: "Context", Value: FormatPassages(contacts)},
			{Label: "Original message", Value: req.Question},
		},
	})
	if err != nil {
		return "", err
	}
	return SensitivePrefix + gen.Text, nil
}

func (o *Orchestrator) searchWeb(ctx context.Context, req TurnRequest, date string) (string, error) {
	gen, err := o.generate(ctx, GenerateRequest{
		System: webSearchPrompt,
		Inputs: []Input{
			{Label: "Todays date", Value: date},
			{Label: "MP name", Value: req.Official.Name},
			{Label: "MP constituency", Value: req.Official.Constituency},
			{Label: "Original question", Value: req.Question},
		},
		EnableWebTool: true,
	})
	if err != nil {
		return "", err
	}
	if !gen.UsedWebTool {
		return gen.Text, nil
	}
	metrics.WebSearchTriggered.Inc()
	return WebSearchPrefix + gen.Text, nil
}

func (o *Orchestrator) debias(ctx context.Context, req TurnRequest, draft, date string) (string, error) {
	gen, err := o.generate(ctx, GenerateRequest{
		System: debiasPrompt,
		Inputs: []Input{
			{Label: "Todays date", Value: date},
			{Label: "MP name", Value: req.Official.Name},
			{Label: "Original text generated", Value: draft},
			{Label: "Original question", Value: req.Question},
		},
	})
	if err != nil {
		return "", err
	}
	return gen.Text, nil
}

func (o *Orchestrator) generate(ctx context.Context, req GenerateRequest) (*Generation, error) {
	gen, err := o.generator.Generate(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGenerationUnavailable, err)
	}
	return gen, nil
}

func (o *Orchestrator) observe(start time.Time, route OutcomeKind, status string) {
	metrics.TurnDuration.WithLabelValues(route.String()).Observe(time.Since(start).Seconds())
	metrics.TurnTotal.WithLabelValues(route.String(), status).Inc()
}

// FormatPassages renders passages as "---\nSource: s\ntext" blocks separated
// by blank lines.
func FormatPassages(passages []Passage) string {
	blocks := make([]string, 0, len(passages))
	for _, p := range passages {
		blocks = append(blocks, "---\nSource: "+p.Source+"\n"+p.Text)
	}
	return strings.Join(blocks, "\n\n")
}

// RenderInputs flattens labelled inputs into the user-side prompt lines a
// Generator sends after the system prompt.
func RenderInputs(inputs []Input) []string {
	out := make([]string, 0, len(inputs))
	for _, in := range inputs {
		if in.Label == "" {
			out = append(out, in.Value)
			continue
		}
		out = append(out, in.Label+": "+in.Value)
	}
	return out
}
