package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civic-sage/backend/internal/dialogue"
	"github.com/civic-sage/backend/internal/search/web"
)

type chatMessage struct {
	Role       string `json:"role"`
	Content    string `json:"content"`
	ToolCallID string `json:"tool_call_id,omitempty"`
}

type chatRequest struct {
	Messages []chatMessage    `json:"messages"`
	Tools    []map[string]any `json:"tools"`
}

// fakeOpenAI replays canned chat completion bodies in order and records the
// requests it saw.
type fakeOpenAI struct {
	mu        sync.Mutex
	responses []string
	requests  []chatRequest
}

func (f *fakeOpenAI) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var req chatRequest
		require.NoError(t, json.Unmarshal(body, &req))

		f.mu.Lock()
		f.requests = append(f.requests, req)
		resp := f.responses[0]
		f.responses = f.responses[1:]
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, resp)
	})
	mux.HandleFunc("/v1/embeddings", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"object":"list","data":[{"object":"embedding","index":0,"embedding":[0.1,0.2,0.3]}],"model":"text-embedding-3-small","usage":{"prompt_tokens":3,"total_tokens":3}}`)
	})
	return mux
}

func textCompletion(content string) string {
	b, _ := json.Marshal(content)
	return `{"id":"c1","object":"chat.completion","model":"gpt-4o-mini","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":` + string(b) + `}}],"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}}`
}

const toolCallCompletion = `{"id":"c0","object":"chat.completion","model":"gpt-4o-mini","choices":[{"index":0,"finish_reason":"tool_calls","message":{"role":"assistant","content":"","tool_calls":[{"id":"call_1","type":"function","function":{"name":"web_search","arguments":"{\"query\":\"Big Ben height\"}"}}]}}],"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}}`

type fakeSearcher struct {
	queries []string
	err     error
}

func (f *fakeSearcher) Search(_ context.Context, query string, _ int) ([]web.SearchResult, error) {
	f.queries = append(f.queries, query)
	if f.err != nil {
		return nil, f.err
	}
	return []web.SearchResult{{Title: "Big Ben", URL: "https://www.parliament.uk/bigben", Snippet: "96 metres"}}, nil
}

func newTestClient(t *testing.T, fake *fakeOpenAI) *Client {
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)
	return NewClient(Config{APIKey: "test", BaseURL: srv.URL + "/v1", Model: "gpt-4o-mini", EmbeddingModel: "text-embedding-3-small"})
}

func TestGenerateRendersInputsAsUserMessages(t *testing.T) {
	fake := &fakeOpenAI{responses: []string{textCompletion("An impartial answer.")}}
	c := newTestClient(t, fake)

	gen, err := c.Generate(context.Background(), dialogue.GenerateRequest{
		System: "system prompt",
		Inputs: []dialogue.Input{{Label: "MP name", Value: "Paul Holmes"}, {Value: "What is the Energy Bill?"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "An impartial answer.", gen.Text)
	assert.False(t, gen.UsedWebTool)

	require.Len(t, fake.requests, 1)
	assert.Equal(t, []chatMessage{
		{Role: "system", Content: "system prompt"},
		{Role: "user", Content: "MP name: Paul Holmes"},
		{Role: "user", Content: "What is the Energy Bill?"},
	}, fake.requests[0].Messages)
	assert.Empty(t, fake.requests[0].Tools)
}

func TestGenerateWithWebTool(t *testing.T) {
	fake := &fakeOpenAI{responses: []string{toolCallCompletion, textCompletion("Big Ben is 96m tall [SOURCE URL: https://www.parliament.uk/bigben].")}}
	c := newTestClient(t, fake)
	searcher := &fakeSearcher{}
	c.AttachWebSearch(searcher)

	gen, err := c.Generate(context.Background(), dialogue.GenerateRequest{
		System:        "search prompt",
		Inputs:        []dialogue.Input{{Label: "Original question", Value: "How tall is Big Ben?"}},
		EnableWebTool: true,
	})
	require.NoError(t, err)

	assert.True(t, gen.UsedWebTool)
	assert.Contains(t, gen.Text, "96m")
	assert.Equal(t, []string{"Big Ben height"}, searcher.queries)

	require.Len(t, fake.requests, 2)
	assert.Len(t, fake.requests[0].Tools, 1)
	msgs := fake.requests[1].Messages
	last := msgs[len(msgs)-1]
	assert.Equal(t, "tool", last.Role)
	assert.Equal(t, "call_1", last.ToolCallID)
	assert.Contains(t, last.Content, "https://www.parliament.uk/bigben")
}

func TestGenerateFailedSearchIsNotWebAnswer(t *testing.T) {
	fake := &fakeOpenAI{responses: []string{toolCallCompletion, textCompletion("I could not search, but Big Ben is tall.")}}
	c := newTestClient(t, fake)
	searcher := &fakeSearcher{err: errors.New("serpapi: 500")}
	c.AttachWebSearch(searcher)

	gen, err := c.Generate(context.Background(), dialogue.GenerateRequest{System: "s", EnableWebTool: true})
	require.NoError(t, err)

	assert.False(t, gen.UsedWebTool)
	assert.Equal(t, []string{"Big Ben height"}, searcher.queries)
	msgs := fake.requests[1].Messages
	assert.Contains(t, msgs[len(msgs)-1].Content, "web search failed")
}

func TestGenerateBadToolArgumentsIsNotWebAnswer(t *testing.T) {
	badArgs := `{"id":"c0","object":"chat.completion","model":"gpt-4o-mini","choices":[{"index":0,"finish_reason":"tool_calls","message":{"role":"assistant","content":"","tool_calls":[{"id":"call_1","type":"function","function":{"name":"web_search","arguments":"{}"}}]}}],"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}}`
	fake := &fakeOpenAI{responses: []string{badArgs, textCompletion("Answer from memory.")}}
	c := newTestClient(t, fake)
	searcher := &fakeSearcher{}
	c.AttachWebSearch(searcher)

	gen, err := c.Generate(context.Background(), dialogue.GenerateRequest{System: "s", EnableWebTool: true})
	require.NoError(t, err)

	assert.False(t, gen.UsedWebTool)
	assert.Empty(t, searcher.queries)
}

func TestGenerateStopsOfferingToolAfterMaxRounds(t *testing.T) {
	fake := &fakeOpenAI{responses: []string{toolCallCompletion, toolCallCompletion, toolCallCompletion, toolCallCompletion}}
	c := newTestClient(t, fake)
	searcher := &fakeSearcher{}
	c.AttachWebSearch(searcher)

	gen, err := c.Generate(context.Background(), dialogue.GenerateRequest{System: "s", EnableWebTool: true})
	require.NoError(t, err)

	assert.True(t, gen.UsedWebTool)
	assert.Len(t, searcher.queries, maxToolRounds)
	require.Len(t, fake.requests, maxToolRounds+1)
	assert.Empty(t, fake.requests[maxToolRounds].Tools)
}

func TestGenerateWebToolWithoutSearcherAnswersPlainly(t *testing.T) {
	fake := &fakeOpenAI{responses: []string{textCompletion("I can answer that myself.")}}
	c := newTestClient(t, fake)

	gen, err := c.Generate(context.Background(), dialogue.GenerateRequest{System: "s", EnableWebTool: true})
	require.NoError(t, err)
	assert.False(t, gen.UsedWebTool)
	assert.Empty(t, fake.requests[0].Tools)
}

func TestGenerateEmbedding(t *testing.T) {
	c := newTestClient(t, &fakeOpenAI{})

	emb, err := c.GenerateEmbedding(context.Background(), "energy bill")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, emb)
}

func TestOptimizeSearchQueryFallsBackToQuestion(t *testing.T) {
	fake := &fakeOpenAI{responses: []string{textCompletion("  ")}}
	c := newTestClient(t, fake)

	got, err := c.OptimizeSearchQuery(context.Background(), "Who is my MP?")
	require.NoError(t, err)
	assert.Equal(t, "Who is my MP?", got)
}
