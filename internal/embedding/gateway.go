// Package embedding wraps the embedding service with an exact-text cache and
// bounded, linearly backed-off retries.
package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	QueryPrefix    = "search_query: "
	DocumentPrefix = "search_document: "
)

// Client is the raw embedding service.
type Client interface {
	Embed(ctx context.Context, prompt string) ([]float32, error)
}

type Options struct {
	Prefix  string
	Timeout time.Duration
	Retries int
}

type Config struct {
	QueryTimeout    time.Duration
	QueryRetries    int
	DocumentTimeout time.Duration
	DocumentRetries int
	TimeoutBackoff  time.Duration
	ConnBackoff     time.Duration
}

func DefaultConfig() Config {
	return Config{
		QueryTimeout:    30 * time.Second,
		QueryRetries:    2,
		DocumentTimeout: 30 * time.Second,
		DocumentRetries: 2,
		TimeoutBackoff:  2 * time.Second,
		ConnBackoff:     time.Second,
	}
}

type SleepFunc func(ctx context.Context, d time.Duration) error

type Gateway struct {
	client Client
	cfg    Config
	sleep  SleepFunc

	mu    sync.RWMutex
	cache map[string][]float32
	calls atomic.Int64
}

type GatewayOption func(*Gateway)

// WithSleep replaces the backoff sleeper.
func WithSleep(fn SleepFunc) GatewayOption {
	return func(g *Gateway) { g.sleep = fn }
}

func NewGateway(client Client, cfg Config, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		client: client,
		cfg:    cfg,
		sleep:  sleepContext,
		cache:  make(map[string][]float32),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

func (g *Gateway) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return g.Embed(ctx, text, Options{Prefix: QueryPrefix, Timeout: g.cfg.QueryTimeout, Retries: g.cfg.QueryRetries})
}

func (g *Gateway) EmbedDocument(ctx context.Context, text string) ([]float32, error) {
	return g.Embed(ctx, text, Options{Prefix: DocumentPrefix, Timeout: g.cfg.DocumentTimeout, Retries: g.cfg.DocumentRetries})
}

// Embed returns the vector for opts.Prefix + trimmed text. A cache hit does no
// I/O. Timeouts and unavailability are retried opts.Retries times; every other
// failure is returned at once.
func (g *Gateway) Embed(ctx context.Context, text string, opts Options) ([]float32, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, NewError(KindEmptyInput, errors.New("text is blank"))
	}

	prompt := opts.Prefix + trimmed
	key := cacheKey(prompt)
	if vec, ok := g.lookup(key); ok {
		return vec, nil
	}

	var lastErr error
	for attempt := 0; attempt <= opts.Retries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(attempt) * g.backoffFor(lastErr)
			slog.WarnContext(ctx, "embedding call failed, retrying",
				"attempt", attempt, "max_retries", opts.Retries, "delay", delay, "error", lastErr)
			if err := g.sleep(ctx, delay); err != nil {
				return nil, lastErr
			}
		}

		vec, err := g.call(ctx, prompt, opts.Timeout)
		if err == nil {
			g.store(key, vec)
			return slices.Clone(vec), nil
		}
		lastErr = err
		if !IsRetryable(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

func (g *Gateway) call(ctx context.Context, prompt string, timeout time.Duration) ([]float32, error) {
	g.calls.Add(1)

	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	vec, err := g.client.Embed(callCtx, prompt)
	if err != nil {
		return nil, Classify(err)
	}
	if len(vec) == 0 {
		return nil, NewError(KindMalformedResponse, errors.New("response carried no embedding"))
	}
	return vec, nil
}

func (g *Gateway) backoffFor(err error) time.Duration {
	if kind, _ := KindOf(err); kind == KindTimeout {
		return g.cfg.TimeoutBackoff
	}
	return g.cfg.ConnBackoff
}

func (g *Gateway) lookup(key string) ([]float32, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	vec, ok := g.cache[key]
	if !ok {
		return nil, false
	}
	return slices.Clone(vec), true
}

func (g *Gateway) store(key string, vec []float32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cache[key] = slices.Clone(vec)
}

// Clear drops every cached vector.
func (g *Gateway) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cache = make(map[string][]float32)
}

func (g *Gateway) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.cache)
}

// Calls counts outbound service calls, retries included.
func (g *Gateway) Calls() int64 {
	return g.calls.Load()
}

func cacheKey(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
