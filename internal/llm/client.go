package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"
	"go.uber.org/zap"

	"github.com/civic-sage/backend/internal/dialogue"
	"github.com/civic-sage/backend/internal/metrics"
	"github.com/civic-sage/backend/internal/search/web"
	"github.com/civic-sage/backend/pkg/circuitbreaker"
	"github.com/civic-sage/backend/pkg/logger"
	"github.com/civic-sage/backend/pkg/retry"
)

const (
	webSearchTool = "web_search"
	maxToolRounds = 3
)

var ErrEmptyCompletion = errors.New("model returned no choices")

// WebSearcher backs the web_search tool offered to the model.
type WebSearcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]web.SearchResult, error)
}

type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	EmbeddingModel string
	Temperature    float32
	MaxTokens      int
	Timeout        time.Duration
	WebResults     int
}

type Client struct {
	client         *openai.Client
	model          string
	embeddingModel string
	temperature    float32
	maxTokens      int
	timeout        time.Duration
	webResults     int
	search         WebSearcher
	cb             *circuitbreaker.CircuitBreaker
	retryConfig    retry.Config
}

type CompletionRequest struct {
	SystemPrompt string
	UserPrompt   string
	Temperature  float32
	MaxTokens    int
}

type CompletionResponse struct {
	Content string
	Usage   Usage
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

func NewClient(cfg Config) *Client {
	oaConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oaConfig.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.WebResults == 0 {
		cfg.WebResults = 5
	}

	cb := circuitbreaker.NewCircuitBreaker("llm", circuitbreaker.Config{
		MaxRequests:      5,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Logger:           logger.Named("llm"),
		OnStateChange:    metrics.BreakerStateChanged,
	})

	retryConfig := retry.Config{
		MaxAttempts:    3,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.Named("llm"),
	}

	logger.Info("LLM client initialized",
		zap.String("model", cfg.Model),
		zap.String("embedding_model", cfg.EmbeddingModel),
	)

	return &Client{
		client:         openai.NewClientWithConfig(oaConfig),
		model:          cfg.Model,
		embeddingModel: cfg.EmbeddingModel,
		temperature:    cfg.Temperature,
		maxTokens:      cfg.MaxTokens,
		timeout:        cfg.Timeout,
		webResults:     cfg.WebResults,
		cb:             cb,
		retryConfig:    retryConfig,
	}
}

// AttachWebSearch enables the web_search tool for requests that ask for it.
func (c *Client) AttachWebSearch(s WebSearcher) {
	c.search = s
}

// Generate sends the system prompt followed by one user message per input.
// When the request enables the web tool and a searcher is attached, the
// model may call web_search up to maxToolRounds times before answering.
func (c *Client) Generate(ctx context.Context, req dialogue.GenerateRequest) (*dialogue.Generation, error) {
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: req.System},
	}
	for _, line := range dialogue.RenderInputs(req.Inputs) {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: line,
		})
	}

	chatReq := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}
	withTool := req.EnableWebTool && c.search != nil
	if withTool {
		chatReq.Tools = []openai.Tool{webSearchToolSpec()}
	}

	usedTool := false
	for round := 0; ; round++ {
		if round == maxToolRounds {
			chatReq.Tools = nil
			withTool = false
		}

		msg, err := c.chat(ctx, chatReq)
		if err != nil {
			return nil, err
		}

		if len(msg.ToolCalls) == 0 || !withTool {
			return &dialogue.Generation{Text: msg.Content, UsedWebTool: usedTool}, nil
		}

		chatReq.Messages = append(chatReq.Messages, msg)
		for _, call := range msg.ToolCalls {
			output, searched := c.runTool(ctx, call)
			usedTool = usedTool || searched
			chatReq.Messages = append(chatReq.Messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    output,
				ToolCallID: call.ID,
			})
		}
	}
}

func webSearchToolSpec() openai.Tool {
	return openai.Tool{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        webSearchTool,
			Description: "Search the web for current information about UK politics, parliament and Members of Parliament.",
			Parameters: jsonschema.Definition{
				Type: jsonschema.Object,
				Properties: map[string]jsonschema.Definition{
					"query": {
						Type:        jsonschema.String,
						Description: "The search query",
					},
				},
				Required: []string{"query"},
			},
		},
	}
}

// runTool executes one tool call and returns the text handed back to the
// model and whether a search actually ran. Failures are reported to the
// model rather than aborting the turn.
func (c *Client) runTool(ctx context.Context, call openai.ToolCall) (string, bool) {
	if call.Function.Name != webSearchTool {
		return fmt.Sprintf("unknown tool %q", call.Function.Name), false
	}

	var args struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil || strings.TrimSpace(args.Query) == "" {
		return "web_search needs a non-empty query argument", false
	}

	results, err := c.search.Search(ctx, args.Query, c.webResults)
	if err != nil {
		logger.Warn("Web search tool failed", zap.String("query", args.Query), zap.Error(err))
		return "web search failed: " + err.Error(), false
	}

	return web.FormatResults(results), true
}

func (c *Client) chat(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var msg openai.ChatCompletionMessage
	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			resp, err := c.client.CreateChatCompletion(ctx, req)
			if err != nil {
				return fmt.Errorf("failed to create completion: %w", err)
			}
			if len(resp.Choices) == 0 {
				return retry.Permanent(ErrEmptyCompletion)
			}

			metrics.LLMTokensUsed.WithLabelValues(c.model, "prompt").Add(float64(resp.Usage.PromptTokens))
			metrics.LLMTokensUsed.WithLabelValues(c.model, "completion").Add(float64(resp.Usage.CompletionTokens))
			logger.Debug("LLM completion generated",
				zap.Int("prompt_tokens", resp.Usage.PromptTokens),
				zap.Int("completion_tokens", resp.Usage.CompletionTokens),
			)

			msg = resp.Choices[0].Message
			return nil
		})
	})
	return msg, err
}

func (c *Client) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	temperature := req.Temperature
	if temperature == 0 {
		temperature = c.temperature
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}

	msg, err := c.chat(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: req.UserPrompt},
		},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return nil, err
	}

	return &CompletionResponse{Content: msg.Content}, nil
}

// OptimizeSearchQuery rewrites a visitor question into a web search query.
// It matches web.QueryRewriter.
func (c *Client) OptimizeSearchQuery(ctx context.Context, query string) (string, error) {
	systemPrompt := `You are a search query optimizer for questions about UK politics, parliament and Members of Parliament.
Transform the question into an effective web search query.

Rules:
1. Keep names of people, constituencies and bills exactly as written
2. Prefer official sources (parliament.uk, gov.uk, hansard)
3. Drop conversational filler

Return ONLY the optimized query, nothing else.`

	resp, err := c.Complete(ctx, CompletionRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   query,
		Temperature:  0.1,
		MaxTokens:    60,
	})
	if err != nil {
		return "", err
	}

	optimized := strings.TrimSpace(resp.Content)
	if optimized == "" {
		return query, nil
	}
	logger.Debug("Query optimized", zap.String("original", query), zap.String("optimized", optimized))
	return optimized, nil
}

func (c *Client) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := c.GenerateBatchEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	return embeddings[0], nil
}

func (c *Client) GenerateBatchEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	embeddings := make([][]float32, 0, len(texts))

	batchSize := 100
	for i := 0; i < len(texts); i += batchSize {
		end := i + batchSize
		if end > len(texts) {
			end = len(texts)
		}

		batch := texts[i:end]

		err := c.cb.Execute(ctx, func() error {
			return retry.Do(ctx, c.retryConfig, func() error {
				resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
					Input: batch,
					Model: openai.EmbeddingModel(c.embeddingModel),
				})
				if err != nil {
					return fmt.Errorf("failed to generate batch embeddings: %w", err)
				}
				if len(resp.Data) != len(batch) {
					return retry.Permanent(fmt.Errorf("expected %d embeddings, got %d", len(batch), len(resp.Data)))
				}

				for _, data := range resp.Data {
					embeddings = append(embeddings, data.Embedding)
				}
				return nil
			})
		})
		if err != nil {
			return nil, err
		}
	}

	logger.Debug("Batch embeddings generated", zap.Int("count", len(embeddings)))

	return embeddings, nil
}
