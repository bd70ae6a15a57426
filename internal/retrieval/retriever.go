package retrieval

import (
	"context"
	"fmt"
)

// DefaultTopK is how many passages a query retrieves unless configured otherwise.
const DefaultTopK = 4

// ContextChunk is a retrieved passage with its similarity score.
type ContextChunk struct {
	ID       string
	Source   string
	Position int
	Text     string
	Score    float32
}

// QueryEmbedder embeds a single query string.
type QueryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Retriever embeds a query and returns the nearest stored passages as-is:
// no re-ranking, filtering or deduplication.
type Retriever struct {
	embedder QueryEmbedder
	store    VectorStore
	topK     int
}

// NewRetriever returns a Retriever that fetches topK passages per query;
// topK <= 0 selects DefaultTopK.
func NewRetriever(embedder QueryEmbedder, store VectorStore, topK int) *Retriever {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Retriever{embedder: embedder, store: store, topK: topK}
}

// TopK is the configured number of passages per query.
func (r *Retriever) TopK() int {
	return r.topK
}

// Retrieve embeds the query and returns the top-K most similar passages,
// most similar first. topK <= 0 uses the Retriever's configured value.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int) ([]ContextChunk, error) {
	if topK <= 0 {
		topK = r.topK
	}
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	scored, err := r.store.Search(ctx, vec, topK)
	if err != nil {
		return nil, fmt.Errorf("searching vector store: %w", err)
	}
	return scoredToChunks(scored), nil
}

func scoredToChunks(scored []ScoredRecord) []ContextChunk {
	chunks := make([]ContextChunk, len(scored))
	for i, s := range scored {
		chunks[i] = ContextChunk{
			ID:       s.ID,
			Source:   s.Source,
			Position: s.Position,
			Text:     s.Text,
			Score:    s.Score,
		}
	}
	return chunks
}
