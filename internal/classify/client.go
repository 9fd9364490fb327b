// Package classify scores messages along sentiment, stance and ideology with
// a zero-shot entailment model served over HTTP.
package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/civic-sage/backend/internal/metrics"
	"github.com/civic-sage/backend/pkg/circuitbreaker"
	"github.com/civic-sage/backend/pkg/logger"
	"github.com/civic-sage/backend/pkg/retry"
)

// ErrClassificationUnavailable means the model could not score a message.
var ErrClassificationUnavailable = errors.New("classification unavailable")

type ZeroShotClassifier interface {
	// Classify returns one score per hypothesis, in hypothesis order.
	Classify(ctx context.Context, text string, hypotheses []string) ([]float64, error)
}

// HTTPClassifier speaks the Hugging Face zero-shot-classification inference
// protocol.
type HTTPClassifier struct {
	endpoint    string
	apiKey      string
	httpClient  *http.Client
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

func NewHTTPClassifier(endpoint, apiKey string, timeout time.Duration) *HTTPClassifier {
	if timeout == 0 {
		timeout = 20 * time.Second
	}
	return &HTTPClassifier{
		endpoint:   endpoint,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		cb: circuitbreaker.NewCircuitBreaker("classifier", circuitbreaker.Config{
			FailureThreshold: 5,
			Timeout:          30 * time.Second,
			Logger:           logger.Named("classifier"),
			OnStateChange:    metrics.BreakerStateChanged,
		}),
		retryConfig: retry.Config{
			MaxAttempts:  3,
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     4 * time.Second,
			Logger:       logger.Named("classifier"),
		},
	}
}

type zeroShotRequest struct {
	Inputs     string         `json:"inputs"`
	Parameters zeroShotParams `json:"parameters"`
}

type zeroShotParams struct {
	CandidateLabels []string `json:"candidate_labels"`
	MultiLabel      bool     `json:"multi_label"`
}

type zeroShotResponse struct {
	Labels []string  `json:"labels"`
	Scores []float64 `json:"scores"`
}

func (c *HTTPClassifier) Classify(ctx context.Context, text string, hypotheses []string) ([]float64, error) {
	body, err := json.Marshal(zeroShotRequest{
		Inputs:     text,
		Parameters: zeroShotParams{CandidateLabels: hypotheses},
	})
	if err != nil {
		return nil, err
	}

	resp, err := retry.Guarded(ctx, c.cb, c.retryConfig, func() (zeroShotResponse, error) {
		return c.post(ctx, body)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrClassificationUnavailable, err)
	}

	return reorder(resp, hypotheses)
}

func (c *HTTPClassifier) post(ctx context.Context, body []byte) (zeroShotResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return zeroShotResponse{}, retry.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return zeroShotResponse{}, err
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return zeroShotResponse{}, err
	}

	switch {
	case httpResp.StatusCode == http.StatusOK:
	case httpResp.StatusCode == http.StatusServiceUnavailable, httpResp.StatusCode == http.StatusTooManyRequests, httpResp.StatusCode >= 500:
		return zeroShotResponse{}, fmt.Errorf("classifier returned status %d", httpResp.StatusCode)
	default:
		return zeroShotResponse{}, retry.Permanent(fmt.Errorf("classifier returned status %d: %s", httpResp.StatusCode, raw))
	}

	return decodeResponse(raw)
}

// decodeResponse accepts both a bare object and a one-element array, which
// different inference servers return.
func decodeResponse(raw []byte) (zeroShotResponse, error) {
	var single zeroShotResponse
	if err := json.Unmarshal(raw, &single); err == nil && len(single.Labels) > 0 {
		return single, nil
	}
	var batch []zeroShotResponse
	if err := json.Unmarshal(raw, &batch); err == nil && len(batch) > 0 {
		return batch[0], nil
	}
	return zeroShotResponse{}, retry.Permanent(fmt.Errorf("unexpected classifier response: %.200s", raw))
}

func reorder(resp zeroShotResponse, hypotheses []string) ([]float64, error) {
	if len(resp.Labels) != len(resp.Scores) {
		return nil, fmt.Errorf("%w: %d labels but %d scores", ErrClassificationUnavailable, len(resp.Labels), len(resp.Scores))
	}
	byLabel := make(map[string]float64, len(resp.Labels))
	for i, l := range resp.Labels {
		byLabel[l] = resp.Scores[i]
	}
	out := make([]float64, len(hypotheses))
	for i, h := range hypotheses {
		score, ok := byLabel[h]
		if !ok {
			return nil, fmt.Errorf("%w: no score for %q", ErrClassificationUnavailable, h)
		}
		out[i] = score
	}
	return out, nil
}
