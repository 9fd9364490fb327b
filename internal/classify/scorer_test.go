package classify

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClassifier struct {
	mu    sync.Mutex
	fail  map[string]bool
	calls int
}

func (f *fakeClassifier) Classify(_ context.Context, text string, hyps []string) ([]float64, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.fail[text] {
		return nil, errors.New("model down")
	}
	out := make([]float64, len(hyps))
	out[0] = 1
	return out, nil
}

func TestScoreMessages(t *testing.T) {
	clf := &fakeClassifier{fail: map[string]bool{"bad": true}}
	scores, err := NewScorer(clf, 2).ScoreMessages(context.Background(), []string{"good", "bad", "fine"})
	require.NoError(t, err)

	assert.Equal(t, 9, clf.calls)
	require.Len(t, scores.Sentiment, 3)
	assert.Equal(t, []float64{1, 0, 0}, scores.Sentiment[0])
	assert.Empty(t, scores.Sentiment[1])
	assert.Empty(t, scores.Stance[1])
	assert.Empty(t, scores.Ideology[1])
	assert.Len(t, scores.Ideology[2], 5)
}

func TestScoreMessagesCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewScorer(&fakeClassifier{}, 1).ScoreMessages(ctx, []string{"a"})
	assert.ErrorIs(t, err, context.Canceled)
}
