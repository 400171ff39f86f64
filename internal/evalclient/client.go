// Package evalclient talks to the remote writing evaluation service, which
// scores IELTS essays, writes feedback and generates sample essays.
package evalclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pavelanni/bandscore/internal/model"
)

// ErrConfigurationMissing is returned when no evaluation endpoint is configured.
var ErrConfigurationMissing = errors.New("writing evaluation endpoint not configured")

const (
	defaultTimeout = 2 * time.Minute
	noEvalText     = "No evaluation text generated."
	noSampleEssay  = "No sample essay generated."
)

// Client calls the remote evaluation endpoints.
type Client struct {
	baseURL string
	http    *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.http.Timeout = d
	}
}

// New creates a client for the service at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, ErrConfigurationMissing
	}
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// bandScore accepts the score as either a JSON number or a string.
type bandScore string

func (b *bandScore) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*b = bandScore(strings.TrimSpace(s))
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("band score must be a string or number: %s", data)
	}
	*b = bandScore(strconv.FormatFloat(f, 'f', 1, 64))
	return nil
}

type scoreResponse struct {
	Score *bandScore `json:"score"`
}

type evalTextResponse struct {
	EvaluationText string `json:"evaluation_text"`
}

type sampleRequest struct {
	Question string `json:"question"`
	Score    string `json:"score"`
}

type sampleResponse struct {
	Essay string `json:"essay"`
}

// Evaluate scores an essay, then asks for the written evaluation. Both calls
// must succeed; the caller decides what to do on failure.
func (c *Client) Evaluate(ctx context.Context, req model.EvaluationRequest) (model.EvaluationResult, error) {
	slog.Debug("evaluating essay", "question_len", len(req.Question), "essay_len", len(req.Essay), "url", c.baseURL)

	var score scoreResponse
	if err := c.post(ctx, "/evaluate", req, &score); err != nil {
		return model.EvaluationResult{}, fmt.Errorf("score essay: %w", err)
	}
	if score.Score == nil || *score.Score == "" {
		return model.EvaluationResult{}, errors.New("score essay: response has no score")
	}
	if v, err := strconv.ParseFloat(string(*score.Score), 64); err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return model.EvaluationResult{}, fmt.Errorf("score essay: invalid band score %q", string(*score.Score))
	}

	var text evalTextResponse
	if err := c.post(ctx, "/generate_evaltext", req, &text); err != nil {
		return model.EvaluationResult{}, fmt.Errorf("generate evaluation text: %w", err)
	}
	if text.EvaluationText == "" {
		text.EvaluationText = noEvalText
	}

	slog.Debug("essay evaluated", "score", string(*score.Score), "text_len", len(text.EvaluationText))
	return model.EvaluationResult{
		Score:          string(*score.Score),
		EvaluationText: text.EvaluationText,
	}, nil
}

// GenerateSampleEssay asks for a model essay answering question at the target band.
func (c *Client) GenerateSampleEssay(ctx context.Context, question, targetBand string) (string, error) {
	var resp sampleResponse
	if err := c.post(ctx, "/generate_essay", sampleRequest{Question: question, Score: targetBand}, &resp); err != nil {
		return "", fmt.Errorf("generate sample essay: %w", err)
	}
	if resp.Essay == "" {
		return noSampleEssay, nil
	}
	return resp.Essay, nil
}

// SampleFallback is the essay text shown when generation failed.
func SampleFallback(err error) string {
	return "Error: Unable to generate sample essay. " + err.Error()
}

// Ping checks that the service answers on its docs page.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/docs", nil)
	if err != nil {
		return fmt.Errorf("build ping request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("ping evaluation service: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("ping evaluation service: status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
