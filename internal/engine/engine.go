package engine

import "context"

// Engine abstracts the local backend that computes embeddings. The chunker,
// the ingest flow and the retriever depend on this interface rather than
// on a concrete client.
type Engine interface {
	// Embed returns the embedding vector for text using model.
	Embed(ctx context.Context, model string, text string) ([]float32, error)

	// IsRunning reports whether the backend is reachable.
	IsRunning(ctx context.Context) bool

	// ListModels returns the names of all locally available models.
	ListModels(ctx context.Context) ([]string, error)

	// HasModel reports whether the given model name is available locally.
	HasModel(ctx context.Context, name string) bool

	// PullModel downloads a model. The optional callback receives progress updates.
	PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error
}

// BatchEngine is implemented by engines that embed several texts in one
// request. Vectors come back in input order.
type BatchEngine interface {
	EmbedMany(ctx context.Context, model string, texts []string) ([][]float32, error)
}

// PullProgress reports download progress for a model pull operation.
type PullProgress struct {
	Status    string
	Total     int64
	Completed int64
}
