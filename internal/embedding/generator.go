package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tidyfile/tidyfile/internal/config"
	"github.com/tidyfile/tidyfile/internal/logging"
	"github.com/tidyfile/tidyfile/internal/monitoring"
	"github.com/tmc/langchaingo/llms/ollama"
)

// Generator errors
var (
	ErrGenerationFailed = errors.New("embedding generation failed")
	ErrBatchMismatch    = errors.New("generator returned wrong number of vectors")
)

// Generator produces one embedding vector per input payload, in input
// order. Implementations may raise on transport failure; callers treat a
// failed batch as a whole (no partial results).
type Generator interface {
	Generate(ctx context.Context, contents []string) ([][]float32, error)
}

// GeneratorFunc adapts a function to the Generator interface
type GeneratorFunc func(ctx context.Context, contents []string) ([][]float32, error)

// Generate implements Generator
func (f GeneratorFunc) Generate(ctx context.Context, contents []string) ([][]float32, error) {
	return f(ctx, contents)
}

// OllamaGenerator calls a local Ollama embedding model in bounded batches
// with a per-call timeout.
type OllamaGenerator struct {
	llm          *ollama.LLM
	kind         string
	maxBatchSize int
	timeout      time.Duration
}

// NewOllamaGenerator creates a generator backed by the configured Ollama
// model. kind is only used for logging and metrics labels.
func NewOllamaGenerator(cfg *config.EmbeddingConfig, model, kind string) (*OllamaGenerator, error) {
	llm, err := ollama.New(
		ollama.WithModel(model),
		ollama.WithServerURL(cfg.OllamaURL),
	)
	if err != nil {
		return nil, fmt.Errorf("initialize ollama client: %w", err)
	}

	return &OllamaGenerator{
		llm:          llm,
		kind:         kind,
		maxBatchSize: cfg.MaxBatchSize,
		timeout:      cfg.Timeout,
	}, nil
}

// Generate produces embeddings for all contents, splitting oversized input
// into sequential bounded batches. Output length and order match the input.
func (g *OllamaGenerator) Generate(ctx context.Context, contents []string) ([][]float32, error) {
	if len(contents) == 0 {
		return nil, nil
	}

	m := monitoring.Get()
	logger := logging.NewLogger("embedding-generator")

	vectors := make([][]float32, 0, len(contents))
	for start := 0; start < len(contents); start += g.maxBatchSize {
		end := start + g.maxBatchSize
		if end > len(contents) {
			end = len(contents)
		}
		batch := contents[start:end]

		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		began := time.Now()
		out, err := g.llm.CreateEmbedding(callCtx, batch)
		cancel()

		m.EmbeddingBatchLatency.WithLabelValues(g.kind).Observe(time.Since(began).Seconds())
		m.EmbeddingBatchSize.WithLabelValues(g.kind).Observe(float64(len(batch)))

		if err != nil {
			m.EmbeddingBatchesTotal.WithLabelValues(g.kind, "error").Inc()
			logger.Error().Err(err).Int("batch_size", len(batch)).Msg("Embedding batch failed")
			return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
		}
		if len(out) != len(batch) {
			m.EmbeddingBatchesTotal.WithLabelValues(g.kind, "error").Inc()
			return nil, fmt.Errorf("%w: got %d for %d inputs", ErrBatchMismatch, len(out), len(batch))
		}

		m.EmbeddingBatchesTotal.WithLabelValues(g.kind, "success").Inc()
		vectors = append(vectors, out...)
	}

	return vectors, nil
}
