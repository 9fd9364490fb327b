// Package evaluation checks that the assistant's answers contain known key
// facts about each official. A judge model either accepts an answer or
// rephrases the question, which is then asked again.
package evaluation

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/civic-sage/backend/internal/chat"
	"github.com/civic-sage/backend/internal/dialogue"
	"github.com/civic-sage/backend/internal/geo"
	"github.com/civic-sage/backend/internal/storage/models"
	"github.com/civic-sage/backend/pkg/logger"
)

const (
	// Satisfactory is the judge's verdict for an answer containing the fact.
	Satisfactory = "SATISFACTORY"

	DefaultMaxAttempts = 3
)

type Asker interface {
	Ask(ctx context.Context, req dialogue.TurnRequest) (*dialogue.TurnResult, error)
}

type ResultStore interface {
	InsertEvaluationResult(ctx context.Context, r *models.EvaluationResult) error
}

type Case struct {
	Subject  string `yaml:"subject"`
	Fact     string `yaml:"fact"`
	Question string `yaml:"question"`
}

type Suite struct {
	Official string `yaml:"official"`
	Cases    []Case `yaml:"cases"`
}

type Dataset struct {
	Name   string  `yaml:"name"`
	Suites []Suite `yaml:"suites"`
}

func LoadDataset(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset: %w", err)
	}
	var ds Dataset
	if err := yaml.Unmarshal(data, &ds); err != nil {
		return nil, fmt.Errorf("failed to unmarshal dataset: %w", err)
	}
	if ds.Name == "" {
		ds.Name = "default"
	}
	return &ds, nil
}

type Evaluator struct {
	asker       Asker
	judge       dialogue.Generator
	geography   geo.Store
	results     ResultStore
	maxAttempts int
	windowSize  int
	now         func() time.Time
}

func NewEvaluator(asker Asker, judge dialogue.Generator, geography geo.Store, results ResultStore) *Evaluator {
	return &Evaluator{
		asker:       asker,
		judge:       judge,
		geography:   geography,
		results:     results,
		maxAttempts: DefaultMaxAttempts,
		windowSize:  20,
		now:         time.Now,
	}
}

// noviceProfile is the visitor every case is asked as.
var noviceProfile = chat.Profile{
	Politics:   chat.LevelNothing,
	Parliament: chat.LevelNothing,
	Government: chat.LevelNothing,
}

// RunCase asks the case's question, then each rephrasing the judge
// suggests, until the judge is satisfied or the attempts run out.
func (e *Evaluator) RunCase(ctx context.Context, suite string, official models.Official, c Case) (*models.EvaluationResult, error) {
	history := chat.NewHistory(e.windowSize)
	question := c.Question

	result := &models.EvaluationResult{
		ID:       uuid.NewString(),
		Suite:    suite,
		Official: official.Name,
		Question: c.Question,
		KeyFacts: []string{strings.TrimSpace(c.Fact)},
	}

	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		result.Attempts = attempt

		turn, err := e.asker.Ask(ctx, dialogue.TurnRequest{
			Question: question,
			Official: official,
			Profile:  noviceProfile,
			History:  history,
		})
		if err != nil {
			return nil, fmt.Errorf("attempt %d: %w", attempt, err)
		}
		result.Answer = turn.Text

		verdict, err := e.judge.Generate(ctx, dialogue.GenerateRequest{
			System: judgePrompt,
			Inputs: []dialogue.Input{
				{Label: "Key fact", Value: result.KeyFacts[0]},
				{Label: "Question asked to AI", Value: question},
				{Label: "AI's response to question", Value: turn.Text},
			},
		})
		if err != nil {
			return nil, fmt.Errorf("judge attempt %d: %w", attempt, err)
		}
		result.Verdict = strings.TrimSpace(verdict.Text)

		if IsSatisfactory(result.Verdict) {
			result.Passed = true
			break
		}
		question = result.Verdict
	}

	result.CreatedAt = e.now()
	logger.Info("Evaluation case finished",
		zap.String("official", official.Name),
		zap.String("subject", c.Subject),
		zap.Bool("passed", result.Passed),
		zap.Int("attempts", result.Attempts),
	)
	return result, nil
}

// IsSatisfactory accepts the bare verdict, optionally quoted.
func IsSatisfactory(verdict string) bool {
	return strings.Trim(strings.TrimSpace(verdict), "\"'`.") == Satisfactory
}

type Report struct {
	Dataset string
	Results []models.EvaluationResult
	Errors  int
}

func (r *Report) Passed() int {
	n := 0
	for _, res := range r.Results {
		if res.Passed {
			n++
		}
	}
	return n
}

// Run evaluates every case of the dataset. A case whose turn or judgement
// fails is counted in Errors and skipped.
func (e *Evaluator) Run(ctx context.Context, ds *Dataset) (*Report, error) {
	report := &Report{Dataset: ds.Name}

	for _, suite := range ds.Suites {
		official, err := e.geography.Official(ctx, suite.Official)
		if err != nil {
			return nil, err
		}

		for _, c := range suite.Cases {
			if err := ctx.Err(); err != nil {
				return report, err
			}

			res, err := e.RunCase(ctx, ds.Name, official, c)
			if err != nil {
				logger.Error("Evaluation case failed",
					zap.String("official", official.Name),
					zap.String("subject", c.Subject),
					zap.Error(err),
				)
				report.Errors++
				continue
			}

			if e.results != nil {
				if err := e.results.InsertEvaluationResult(ctx, res); err != nil {
					logger.Warn("Failed to store evaluation result", zap.Error(err))
				}
			}
			report.Results = append(report.Results, *res)
		}
	}

	logger.Info("Dataset evaluation completed",
		zap.String("dataset", ds.Name),
		zap.Int("cases", len(report.Results)),
		zap.Int("passed", report.Passed()),
		zap.Int("errors", report.Errors),
	)
	return report, nil
}

// String renders one line per case plus a total.
func (r *Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Evaluation Report: %s\n", r.Dataset)
	for _, res := range r.Results {
		status := "Failed"
		if res.Passed {
			status = fmt.Sprintf("Passed (%d / %d)", res.Attempts, DefaultMaxAttempts)
		}
		fmt.Fprintf(&b, "[%s] %s: %s\n", res.Official, res.Question, status)
	}
	fmt.Fprintf(&b, "Total: %d / %d passed", r.Passed(), len(r.Results))
	if r.Errors > 0 {
		fmt.Fprintf(&b, ", %d errored", r.Errors)
	}
	return b.String()
}
