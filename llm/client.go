/*
Package llm enriches crawled articles through an OpenAI-compatible chat
completion endpoint: a short summary, a ternary sentiment and a set of
industry categories, produced under a structured-output schema.
*/
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/sirupsen/logrus"

	"github.com/wartamigas/news-monitor-backend/monitoring"
	"github.com/wartamigas/news-monitor-backend/types"
	"github.com/wartamigas/news-monitor-backend/utils"
)

const systemPrompt = `You are an analyst covering the Indonesian oil and gas industry.
Analyze the news article the user provides and respond with:
- summary: a concise 2-3 sentence summary in Bahasa Indonesia
- sentiment: the article's tone toward the industry, one of positive, negative or neutral
- categories: every industry category that applies to the article
- reason: one sentence explaining the sentiment choice`

// analysisSchema is the structured-output contract for article analysis
var analysisSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"summary": map[string]interface{}{
			"type":        "string",
			"description": "Ringkasan singkat artikel dalam Bahasa Indonesia",
		},
		"sentiment": map[string]interface{}{
			"type": "string",
			"enum": []string{types.SentimentPositive, types.SentimentNegative, types.SentimentNeutral},
		},
		"categories": map[string]interface{}{
			"type":  "array",
			"items": map[string]interface{}{"type": "string"},
		},
		"reason": map[string]interface{}{
			"type":        "string",
			"description": "Alasan singkat untuk pilihan sentimen",
		},
	},
	"required":             []string{"summary", "sentiment", "categories", "reason"},
	"additionalProperties": false,
}

// Config holds the model endpoint and prompt settings
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxRetries  int
	// ContentCap truncates the article body sent to the model
	ContentCap int
	Timeout    time.Duration
}

// Client wraps the chat completion API for article analysis
type Client struct {
	cfg    Config
	api    openai.Client
	logger *logrus.Logger
}

// NewClient creates an analysis client. Transient API failures are retried
// inside the SDK with exponential backoff.
func NewClient(cfg Config, logger *logrus.Logger) *Client {
	opts := []option.RequestOption{
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}

	return &Client{
		cfg:    cfg,
		api:    openai.NewClient(opts...),
		logger: logger,
	}
}

// Analyze produces the enrichment for one article. The body sent to the model
// is the crawled content when available, else the snippet, else a marker.
func (c *Client) Analyze(ctx context.Context, title, snippet, content string) (*types.Analysis, error) {
	start := time.Now()

	analysis, err := c.analyze(ctx, title, snippet, content)

	status := "success"
	if err != nil {
		status = "error"
	}
	monitoring.RecordLLMRequest(status, time.Since(start).Seconds())
	monitoring.TrackLLMResult(err == nil)
	return analysis, err
}

func (c *Client) analyze(ctx context.Context, title, snippet, content string) (*types.Analysis, error) {
	completion, err := c.api.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       c.cfg.Model,
		Temperature: openai.Float(c.cfg.Temperature),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(c.userPrompt(title, snippet, content)),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:        "article_analysis",
					Description: openai.String("Structured analysis of an oil and gas news article"),
					Schema:      analysisSchema,
					Strict:      openai.Bool(true),
				},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, errors.New("model returned no choices")
	}

	raw := strings.TrimSpace(completion.Choices[0].Message.Content)
	if raw == "" {
		return nil, errors.New("model returned empty content")
	}

	var analysis types.Analysis
	if err := json.Unmarshal([]byte(raw), &analysis); err != nil {
		return nil, fmt.Errorf("model returned invalid analysis payload: %w", err)
	}

	analysis.Summary = strings.TrimSpace(analysis.Summary)
	analysis.Sentiment = normalizeSentiment(analysis.Sentiment)
	analysis.Categories = SanitizeCategories(analysis.Categories)
	return &analysis, nil
}

func (c *Client) userPrompt(title, snippet, content string) string {
	body := strings.TrimSpace(content)
	if body != "" {
		body = utils.Truncate(body, c.cfg.ContentCap)
	} else if strings.TrimSpace(snippet) != "" {
		body = strings.TrimSpace(snippet)
	} else {
		body = "No content available."
	}
	return fmt.Sprintf("Title: %s\n\n%s", strings.TrimSpace(title), body)
}

func normalizeSentiment(sentiment string) string {
	switch strings.ToLower(strings.TrimSpace(sentiment)) {
	case types.SentimentPositive:
		return types.SentimentPositive
	case types.SentimentNegative:
		return types.SentimentNegative
	default:
		return types.SentimentNeutral
	}
}
