package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var (
	ErrMissingRequired = errors.New("missing required configuration")
	ErrInvalidValue    = errors.New("invalid configuration value")
)

const (
	BackendChromem  = "chromem"
	BackendWeaviate = "weaviate"

	ProviderOllama = "ollama"
	ProviderGemini = "gemini"
)

type Config struct {
	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"protoqa"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"protoqa"`

	VectorBackend  string `envconfig:"VECTOR_BACKEND" default:"chromem"`
	ChromemPath    string `envconfig:"CHROMEM_PATH"`
	WeaviateHost   string `envconfig:"WEAVIATE_HOST" default:"localhost:8080"`
	WeaviateScheme string `envconfig:"WEAVIATE_SCHEME" default:"http"`

	NSQLookupd             string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost               string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP               string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`
	EnableEmbedRetryWorker bool   `envconfig:"ENABLE_EMBED_RETRY_WORKER" default:"true"`

	// Model providers
	EmbeddingProvider     string `envconfig:"EMBEDDING_PROVIDER" default:"ollama"`
	GenerationProvider    string `envconfig:"GENERATION_PROVIDER" default:"ollama"`
	OllamaURL             string `envconfig:"OLLAMA_URL" default:"http://localhost:11434"`
	EmbedModel            string `envconfig:"EMBED_MODEL" default:"nomic-embed-text"`
	GenerationModel       string `envconfig:"GENERATION_MODEL" default:"llama3.1:latest"`
	GeminiAPIKey          string `envconfig:"GEMINI_API_KEY"`
	GeminiEmbedModel      string `envconfig:"GEMINI_EMBED_MODEL" default:"gemini-embedding-001"`
	GeminiGenerationModel string `envconfig:"GEMINI_GENERATION_MODEL" default:"gemini-1.5-flash"`

	EmbedTimeout        time.Duration `envconfig:"EMBED_TIMEOUT" default:"30s"`
	EmbedQueryTimeout   time.Duration `envconfig:"EMBED_QUERY_TIMEOUT" default:"30s"`
	EmbedRetries        int           `envconfig:"EMBED_RETRIES" default:"2"`
	EmbedTimeoutBackoff time.Duration `envconfig:"EMBED_TIMEOUT_BACKOFF" default:"2s"`
	EmbedConnBackoff    time.Duration `envconfig:"EMBED_CONN_BACKOFF" default:"1s"`
	GenerationTimeout   time.Duration `envconfig:"GENERATION_TIMEOUT" default:"25s"`
	WarmupTimeout       time.Duration `envconfig:"WARMUP_TIMEOUT" default:"60s"`

	// Chunking & retrieval
	ChunkSize    int `envconfig:"CHUNK_SIZE" default:"1000"`
	ChunkOverlap int `envconfig:"CHUNK_OVERLAP" default:"200"`
	// Zero lets the ranker use the index's own distance scale.
	RelevanceMaxDistance float64 `envconfig:"RELEVANCE_MAX_DISTANCE" default:"0"`
	RelevanceFloorSearch float64 `envconfig:"RELEVANCE_FLOOR_SEARCH" default:"0.1"`
	RelevanceFloorAnswer float64 `envconfig:"RELEVANCE_FLOOR_ANSWER" default:"0.2"`
	RetrievalTopK        int     `envconfig:"RETRIEVAL_TOP_K" default:"6"`
	RetrievalOverFetch   int     `envconfig:"RETRIEVAL_OVERFETCH" default:"2"`
	RetrievalMultiQuery  bool    `envconfig:"RETRIEVAL_MULTI_QUERY" default:"true"`

	// Workers
	WorkerPoolSize        int           `envconfig:"WORKER_POOL_SIZE" default:"10"`
	EmbedWorkers          int           `envconfig:"EMBED_WORKERS" default:"1"`
	ProgressRetention     time.Duration `envconfig:"PROGRESS_RETENTION" default:"1h"`
	ProgressSweepInterval time.Duration `envconfig:"PROGRESS_SWEEP_INTERVAL" default:"30m"`

	// Server
	ServerPort      int    `envconfig:"SERVER_PORT" default:"8001"`
	QueryLogPath    string `envconfig:"QUERY_LOG_PATH" default:"data/logs/query.log"`
	MaxUploadSizeMB int64  `envconfig:"MAX_UPLOAD_SIZE_MB" default:"50"`
	UploadDir       string `envconfig:"UPLOAD_DIR" default:"./uploads"`
	MigrationPath   string `envconfig:"MIGRATION_PATH" default:"file://migrations"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Env vars may already be set in the shell, so a missing .env is fine.
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	_ = godotenv.Load(filepath.Join(cwd, "../.env"))

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DBHost == "" {
		return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
	}
	if c.DBUser == "" {
		return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
	}
	if c.DBName == "" {
		return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
	}

	switch c.VectorBackend {
	case BackendChromem, BackendWeaviate:
	default:
		return fmt.Errorf("%w: VECTOR_BACKEND=%q", ErrInvalidValue, c.VectorBackend)
	}

	for name, p := range map[string]string{"EMBEDDING_PROVIDER": c.EmbeddingProvider, "GENERATION_PROVIDER": c.GenerationProvider} {
		switch p {
		case ProviderOllama:
		case ProviderGemini:
			if c.GeminiAPIKey == "" {
				return fmt.Errorf("%w: GEMINI_API_KEY (required by %s)", ErrMissingRequired, name)
			}
		default:
			return fmt.Errorf("%w: %s=%q", ErrInvalidValue, name, p)
		}
	}

	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: CHUNK_SIZE must be positive", ErrInvalidValue)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: CHUNK_OVERLAP must be in [0, CHUNK_SIZE)", ErrInvalidValue)
	}
	if c.RelevanceMaxDistance < 0 {
		return fmt.Errorf("%w: RELEVANCE_MAX_DISTANCE must not be negative", ErrInvalidValue)
	}
	if c.RelevanceFloorSearch < 0 || c.RelevanceFloorSearch > 1 || c.RelevanceFloorAnswer < 0 || c.RelevanceFloorAnswer > 1 {
		return fmt.Errorf("%w: relevance floors must be within [0, 1]", ErrInvalidValue)
	}
	if c.RetrievalTopK <= 0 {
		return fmt.Errorf("%w: RETRIEVAL_TOP_K must be positive", ErrInvalidValue)
	}
	if c.RetrievalOverFetch < 2 {
		return fmt.Errorf("%w: RETRIEVAL_OVERFETCH must be at least 2", ErrInvalidValue)
	}
	if c.EmbedRetries < 0 {
		return fmt.Errorf("%w: EMBED_RETRIES must not be negative", ErrInvalidValue)
	}
	if c.WorkerPoolSize <= 0 || c.EmbedWorkers <= 0 {
		return fmt.Errorf("%w: worker counts must be positive", ErrInvalidValue)
	}
	return nil
}

// DSN returns the lib/pq connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBUser, c.DBPass, c.DBName)
}
