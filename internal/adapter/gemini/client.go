package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"protoqa/internal/embedding"
)

const (
	DefaultEmbedModel      = "gemini-embedding-001"
	DefaultGenerationModel = "gemini-1.5-flash"
)

var ErrNoAPIKey = errors.New("gemini api key not configured")

// Client serves both embeddings and generation. The underlying genai client
// is created on first use.
type Client struct {
	apiKey     string
	embedModel string
	genModel   string
	clientOpts []option.ClientOption

	mu     sync.RWMutex
	client *genai.Client
}

func NewClient(apiKey, embedModel, genModel string, opts ...option.ClientOption) *Client {
	if embedModel == "" {
		embedModel = DefaultEmbedModel
	}
	if genModel == "" {
		genModel = DefaultGenerationModel
	}
	return &Client{apiKey: apiKey, embedModel: embedModel, genModel: genModel, clientOpts: opts}
}

func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	client, err := c.getClient(ctx)
	if err != nil {
		return nil, embedding.NewPermanentError(embedding.KindServiceUnavailable, err)
	}

	slog.DebugContext(ctx, "embedding content", "model", c.embedModel, "length", len(text))
	res, err := client.EmbeddingModel(c.embedModel).EmbedContent(ctx, genai.Text(text))
	if err != nil {
		slog.ErrorContext(ctx, "embedding failed", "error", err)
		return nil, embedding.Classify(err)
	}
	if res == nil || res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, embedding.NewError(embedding.KindMalformedResponse, errors.New("empty embedding received"))
	}
	return res.Embedding.Values, nil
}

// Generate answers prompt with settings matching the Ollama answer options.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	client, err := c.getClient(ctx)
	if err != nil {
		return "", err
	}

	model := client.GenerativeModel(c.genModel)
	model.SetTemperature(0.2)
	model.SetMaxOutputTokens(500)
	model.SetTopP(0.85)
	model.SetTopK(25)
	model.StopSequences = []string{"Human:", "Question:", "User:"}

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}

	var b strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				b.WriteString(string(t))
			}
		}
		break
	}
	out := strings.TrimSpace(b.String())
	if out == "" {
		return "", errors.New("gemini returned no text")
	}
	return out, nil
}

func (c *Client) WarmUp(ctx context.Context) error {
	_, err := c.getClient(ctx)
	return err
}

func (c *Client) Model() string { return c.genModel }

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	return err
}

func (c *Client) getClient(ctx context.Context) (*genai.Client, error) {
	if c.apiKey == "" {
		return nil, ErrNoAPIKey
	}

	c.mu.RLock()
	if c.client != nil {
		defer c.mu.RUnlock()
		return c.client, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	// Double check
	if c.client != nil {
		return c.client, nil
	}

	opts := append(append([]option.ClientOption{}, c.clientOpts...), option.WithAPIKey(c.apiKey))
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}
	c.client = client
	return client, nil
}
