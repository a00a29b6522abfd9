package config_test

import (
	"errors"
	"testing"

	"protoqa/internal/config"

	"github.com/stretchr/testify/assert"
)

func validConfig() config.Config {
	return config.Config{
		DBHost:               "localhost",
		DBUser:               "user",
		DBName:               "db",
		VectorBackend:        config.BackendChromem,
		EmbeddingProvider:    config.ProviderOllama,
		GenerationProvider:   config.ProviderOllama,
		ChunkSize:            1000,
		ChunkOverlap:         200,
		RelevanceMaxDistance: 500,
		RelevanceFloorSearch: 0.1,
		RelevanceFloorAnswer: 0.2,
		RetrievalTopK:        6,
		RetrievalOverFetch:   2,
		EmbedRetries:         2,
		WorkerPoolSize:       10,
		EmbedWorkers:         1,
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *config.Config)
		wantErr bool
		errIs   error
	}{
		{
			name:    "Valid Config",
			mutate:  func(c *config.Config) {},
			wantErr: false,
		},
		{
			name:    "Missing DBHost",
			mutate:  func(c *config.Config) { c.DBHost = "" },
			wantErr: true,
			errIs:   config.ErrMissingRequired,
		},
		{
			name:    "Missing DBUser",
			mutate:  func(c *config.Config) { c.DBUser = "" },
			wantErr: true,
			errIs:   config.ErrMissingRequired,
		},
		{
			name:    "Missing DBName",
			mutate:  func(c *config.Config) { c.DBName = "" },
			wantErr: true,
			errIs:   config.ErrMissingRequired,
		},
		{
			name:    "Unknown Vector Backend",
			mutate:  func(c *config.Config) { c.VectorBackend = "milvus" },
			wantErr: true,
			errIs:   config.ErrInvalidValue,
		},
		{
			name:    "Gemini Without Key",
			mutate:  func(c *config.Config) { c.GenerationProvider = config.ProviderGemini },
			wantErr: true,
			errIs:   config.ErrMissingRequired,
		},
		{
			name: "Gemini With Key",
			mutate: func(c *config.Config) {
				c.EmbeddingProvider = config.ProviderGemini
				c.GeminiAPIKey = "key"
			},
			wantErr: false,
		},
		{
			name:    "Overlap Not Smaller Than Size",
			mutate:  func(c *config.Config) { c.ChunkOverlap = 1000 },
			wantErr: true,
			errIs:   config.ErrInvalidValue,
		},
		{
			name:    "Negative Max Distance",
			mutate:  func(c *config.Config) { c.RelevanceMaxDistance = -1 },
			wantErr: true,
			errIs:   config.ErrInvalidValue,
		},
		{
			name:    "Floor Above One",
			mutate:  func(c *config.Config) { c.RelevanceFloorAnswer = 1.5 },
			wantErr: true,
			errIs:   config.ErrInvalidValue,
		},
		{
			name:    "Over Fetch Below Two",
			mutate:  func(c *config.Config) { c.RetrievalOverFetch = 1 },
			wantErr: true,
			errIs:   config.ErrInvalidValue,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				if tt.errIs != nil {
					assert.True(t, errors.Is(err, tt.errIs), "expected %v, got %v", tt.errIs, err)
				}
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_DSN(t *testing.T) {
	cfg := validConfig()
	cfg.DBPort = 5432
	cfg.DBPass = "secret"
	assert.Equal(t, "host=localhost port=5432 user=user password=secret dbname=db sslmode=disable", cfg.DSN())
}
