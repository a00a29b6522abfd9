// Package ollama talks to a local Ollama server for embeddings and text
// generation.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"protoqa/internal/embedding"
)

const DefaultBaseURL = "http://localhost:11434"

var ErrEmptyResponse = errors.New("ollama returned an empty response")

// GenerateOptions maps onto the "options" object of /api/generate.
type GenerateOptions struct {
	Temperature   float64  `json:"temperature"`
	NumPredict    int      `json:"num_predict"`
	TopP          float64  `json:"top_p,omitempty"`
	TopK          int      `json:"top_k,omitempty"`
	RepeatPenalty float64  `json:"repeat_penalty,omitempty"`
	Stop          []string `json:"stop,omitempty"`
}

// AnswerOptions are tuned for short factual answers grounded in protocol text.
var AnswerOptions = GenerateOptions{
	Temperature:   0.2,
	NumPredict:    500,
	TopP:          0.85,
	TopK:          25,
	RepeatPenalty: 1.15,
	Stop:          []string{"Human:", "Question:", "User:", "\n\nQ:", "\n\nQuestion:"},
}

var warmUpOptions = GenerateOptions{Temperature: 0.1, NumPredict: 10}

type Client struct {
	baseURL    string
	embedModel string
	genModel   string
	httpClient *http.Client
}

func NewClient(baseURL, embedModel, genModel string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		embedModel: embedModel,
		genModel:   genModel,
		httpClient: &http.Client{},
	}
}

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed returns the embedding for prompt. Failures are *embedding.Error values.
func (c *Client) Embed(ctx context.Context, prompt string) ([]float32, error) {
	body, err := c.post(ctx, "/api/embeddings", embedRequest{Model: c.embedModel, Prompt: prompt})
	if err != nil {
		return nil, err
	}

	var res embedResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, embedding.NewError(embedding.KindMalformedResponse, fmt.Errorf("decode ollama embedding: %w", err))
	}
	if len(res.Embedding) == 0 {
		return nil, embedding.NewError(embedding.KindMalformedResponse, ErrEmptyResponse)
	}
	return res.Embedding, nil
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options GenerateOptions `json:"options"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Generate runs a non-streaming completion with AnswerOptions.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	return c.GenerateWith(ctx, prompt, AnswerOptions)
}

func (c *Client) GenerateWith(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	body, err := c.post(ctx, "/api/generate", generateRequest{
		Model:   c.genModel,
		Prompt:  prompt,
		Stream:  false,
		Options: opts,
	})
	if err != nil {
		return "", fmt.Errorf("ollama generate: %w", err)
	}

	var res generateResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return "", fmt.Errorf("decode ollama generation: %w", err)
	}
	text := strings.TrimSpace(res.Response)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// WarmUp sends a tiny prompt so the model is resident before real questions.
func (c *Client) WarmUp(ctx context.Context) error {
	_, err := c.GenerateWith(ctx, "Hello", warmUpOptions)
	if err != nil {
		slog.WarnContext(ctx, "model warm-up failed", "model", c.genModel, "error", err)
		return err
	}
	slog.InfoContext(ctx, "model warmed up", "model", c.genModel)
	return nil
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// ListModels reports the models the server has pulled.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("create ollama request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("decode ollama tags: %w", err)
	}
	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

func (c *Client) Model() string { return c.genModel }

// post sends payload as JSON and returns the 200 body. Transport failures and
// non-200 statuses come back as classified embedding errors so the gateway
// can decide on retries.
func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, embedding.NewPermanentError(embedding.KindServiceUnavailable, fmt.Errorf("marshal ollama request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, embedding.NewPermanentError(embedding.KindServiceUnavailable, fmt.Errorf("create ollama request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, embedding.Classify(fmt.Errorf("ollama request failed: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, embedding.Classify(fmt.Errorf("read ollama response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, embedding.NewStatusError(resp.StatusCode,
			fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}
	return body, nil
}
