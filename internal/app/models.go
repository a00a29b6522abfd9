package app

import (
	"io"

	"protoqa/features/assistant"
	"protoqa/internal/adapter/gemini"
	"protoqa/internal/adapter/ollama"
	"protoqa/internal/config"
	"protoqa/internal/embedding"
	"protoqa/internal/synthesis"
)

// Models bundles the provider clients chosen by configuration.
type Models struct {
	Embedder  embedding.Client
	Generator synthesis.Generator
	// Lister is nil unless generation runs on Ollama.
	Lister assistant.ModelLister

	closers []io.Closer
}

// NewModels builds the embedding and generation clients. One Gemini client is
// shared when both concerns use Gemini.
func NewModels(cfg *config.Config) *Models {
	m := &Models{}

	var gem *gemini.Client
	geminiClient := func() *gemini.Client {
		if gem == nil {
			gem = gemini.NewClient(cfg.GeminiAPIKey, cfg.GeminiEmbedModel, cfg.GeminiGenerationModel)
			m.closers = append(m.closers, gem)
		}
		return gem
	}
	var oll *ollama.Client
	ollamaClient := func() *ollama.Client {
		if oll == nil {
			oll = ollama.NewClient(cfg.OllamaURL, cfg.EmbedModel, cfg.GenerationModel)
		}
		return oll
	}

	if cfg.EmbeddingProvider == config.ProviderGemini {
		m.Embedder = geminiClient()
	} else {
		m.Embedder = ollamaClient()
	}

	if cfg.GenerationProvider == config.ProviderGemini {
		m.Generator = geminiClient()
	} else {
		c := ollamaClient()
		m.Generator = c
		m.Lister = c
	}
	return m
}

func (m *Models) Close() error {
	var first error
	for _, c := range m.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
