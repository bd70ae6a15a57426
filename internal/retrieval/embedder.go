package retrieval

import (
	"context"
	"fmt"

	"github.com/kalambet/kbchat/internal/engine"
	"golang.org/x/sync/errgroup"
)

const (
	// embedConcurrency bounds in-flight embedding requests per batch.
	embedConcurrency = 4
	// embedBatchSize is the number of texts per request on a BatchEngine.
	embedBatchSize = 32
)

// Embedder turns text into vectors with one model on an engine.
type Embedder struct {
	engine engine.Engine
	model  string
}

func NewEmbedder(e engine.Engine, model string) *Embedder {
	return &Embedder{engine: e, model: model}
}

// Model is the embedding model name.
func (e *Embedder) Model() string {
	return e.model
}

// Embed returns the embedding vector for a single text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.engine.Embed(ctx, e.model, text)
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("embedding text: model %s returned an empty vector", e.model)
	}
	return vec, nil
}

// EmbedBatch embeds texts concurrently and returns vectors in input order.
// Engines that implement engine.BatchEngine get texts in groups of
// embedBatchSize. Empty input returns nil, nil.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(embedConcurrency)

	if be, ok := e.engine.(engine.BatchEngine); ok {
		for start := 0; start < len(texts); start += embedBatchSize {
			end := min(start+embedBatchSize, len(texts))
			g.Go(func() error {
				vecs, err := be.EmbedMany(gCtx, e.model, texts[start:end])
				if err != nil {
					return fmt.Errorf("embedding texts %d-%d: %w", start, end-1, err)
				}
				if len(vecs) != end-start {
					return fmt.Errorf("embedding texts %d-%d: got %d vectors", start, end-1, len(vecs))
				}
				copy(results[start:end], vecs)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		return results, nil
	}

	for i, text := range texts {
		g.Go(func() error {
			vec, err := e.engine.Embed(gCtx, e.model, text)
			if err != nil {
				return fmt.Errorf("embedding text %d: %w", i, err)
			}
			results[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
