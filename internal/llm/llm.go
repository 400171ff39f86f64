// Package llm scores IELTS essays with an OpenAI-compatible chat model.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/pavelanni/bandscore/internal/llm/prompts"
	"github.com/pavelanni/bandscore/internal/model"
)

// gradeResult is the JSON object the model is asked to return.
type gradeResult struct {
	Score          json.Number `json:"score"`
	EvaluationText string      `json:"evaluation_text"`
}

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api     *openai.Client
	model   string
	variant prompts.PromptVariant
}

// New creates a new LLM client. Prompt templates are loaded on first use.
func New(baseURL, apiKey, modelName, variant string) (*Client, error) {
	if err := prompts.Load(nil); err != nil {
		return nil, fmt.Errorf("load prompts: %w", err)
	}
	if !prompts.IsValidVariant(variant) {
		return nil, fmt.Errorf("invalid prompt variant %q", variant)
	}

	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:     openai.NewClientWithConfig(config),
		model:   modelName,
		variant: prompts.PromptVariant(variant),
	}, nil
}

// Ping checks that the API answers by listing its models.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

// Evaluate asks the model for an overall band and feedback for one essay.
func (c *Client) Evaluate(ctx context.Context, req model.EvaluationRequest) (model.EvaluationResult, error) {
	systemPrompt, err := prompts.BuildEvalPrompt(c.variant, req.Question, req.Essay)
	if err != nil {
		return model.EvaluationResult{}, fmt.Errorf("build prompt: %w", err)
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: "Evaluate the essay above."},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.1,
	})
	if err != nil {
		return model.EvaluationResult{}, fmt.Errorf("LLM API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return model.EvaluationResult{}, errors.New("LLM returned no choices")
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM response", "raw", raw)

	return parseGrade(raw)
}

func parseGrade(raw string) (model.EvaluationResult, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var g gradeResult
	if err := dec.Decode(&g); err != nil {
		return model.EvaluationResult{}, fmt.Errorf("parse LLM response: %w (raw: %s)", err, raw)
	}

	band, err := strconv.ParseFloat(strings.TrimSpace(g.Score.String()), 64)
	if err != nil {
		return model.EvaluationResult{}, fmt.Errorf("parse band score %q: %w", g.Score, err)
	}

	text := strings.TrimSpace(g.EvaluationText)
	if text == "" {
		text = "No evaluation text generated."
	}
	return model.EvaluationResult{
		Score:          formatBand(band),
		EvaluationText: text,
	}, nil
}

// formatBand clamps to 0-9, rounds to the nearest half band and formats
// with one decimal.
func formatBand(band float64) string {
	band = math.Max(0, math.Min(9, band))
	band = math.Round(band*2) / 2
	return strconv.FormatFloat(band, 'f', 1, 64)
}
