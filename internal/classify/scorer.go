package classify

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/civic-sage/backend/internal/metrics"
	"github.com/civic-sage/backend/pkg/logger"
)

// Scores holds one vector per message for each dimension. A message that
// could not be classified has an empty vector.
type Scores struct {
	Sentiment [][]float64
	Stance    [][]float64
	Ideology  [][]float64
}

type Scorer struct {
	clf         ZeroShotClassifier
	concurrency int
}

func NewScorer(clf ZeroShotClassifier, concurrency int) *Scorer {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Scorer{clf: clf, concurrency: concurrency}
}

// ScoreMessages classifies every message along all three dimensions.
// Individual failures never fail the call; only context cancellation does.
func (s *Scorer) ScoreMessages(ctx context.Context, messages []string) (Scores, error) {
	out := Scores{
		Sentiment: make([][]float64, len(messages)),
		Stance:    make([][]float64, len(messages)),
		Ideology:  make([][]float64, len(messages)),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for i, msg := range messages {
		g.Go(func() error {
			out.Sentiment[i] = s.score(gctx, Sentiment, msg)
			out.Stance[i] = s.score(gctx, Stance, msg)
			out.Ideology[i] = s.score(gctx, Ideology, msg)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return Scores{}, err
	}
	return out, nil
}

func (s *Scorer) score(ctx context.Context, dim Dimension, msg string) []float64 {
	scores, err := s.clf.Classify(ctx, msg, dim.Hypotheses)
	if err != nil {
		metrics.DegradedStages.WithLabelValues("classify_" + dim.Name).Inc()
		logger.Warn("Message scored as no data",
			zap.String("dimension", dim.Name),
			zap.Error(err),
		)
		return []float64{}
	}
	return scores
}
