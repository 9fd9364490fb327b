package classify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyReordersToHypothesisOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req zeroShotRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Bearer hf", r.Header.Get("Authorization"))
		assert.False(t, req.Parameters.MultiLabel)
		assert.Equal(t, Sentiment.Hypotheses, req.Parameters.CandidateLabels)

		// Responses arrive sorted by score, not by request order.
		_, _ = io.WriteString(w, `{"labels":[
			"This message expresses Negativity",
			"This message expresses Positivity",
			"This message expresses Neutrality"],
			"scores":[0.7,0.2,0.1]}`)
	}))
	defer srv.Close()

	c := NewHTTPClassifier(srv.URL, "hf", 0)
	scores, err := c.Classify(context.Background(), "I hate potholes", Sentiment.Hypotheses)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.2, 0.1, 0.7}, scores)
}

func TestClassifyAcceptsArrayResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[{"labels":["b","a"],"scores":[0.6,0.4]}]`)
	}))
	defer srv.Close()

	scores, err := NewHTTPClassifier(srv.URL, "", 0).Classify(context.Background(), "x", []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []float64{0.4, 0.6}, scores)
}

func TestClassifyBadRequestIsPermanent(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := NewHTTPClassifier(srv.URL, "", 0).Classify(context.Background(), "x", []string{"a"})
	require.ErrorIs(t, err, ErrClassificationUnavailable)
	assert.Equal(t, 1, calls)
}

func TestReorderMissingLabel(t *testing.T) {
	_, err := reorder(zeroShotResponse{Labels: []string{"a"}, Scores: []float64{1}}, []string{"a", "b"})
	assert.ErrorIs(t, err, ErrClassificationUnavailable)
}

func TestDimensionsAlignLabelsAndHypotheses(t *testing.T) {
	for _, d := range []Dimension{Sentiment, Stance, Ideology} {
		assert.Len(t, d.Hypotheses, len(d.Labels), d.Name)
	}
	assert.Equal(t, "This message expresses a Supportive stance", Stance.Hypotheses[0])
	assert.Equal(t, "This message expresses politically Centrist values within UK politics", Ideology.Hypotheses[2])
}
