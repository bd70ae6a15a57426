// Package ingest runs uploaded files through extraction, chunking and
// embedding and writes the resulting passages to the vector store.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kalambet/kbchat/internal/loader"
	"github.com/kalambet/kbchat/internal/retrieval"
)

// PassagePrefix is prepended to every stored chunk. The embedding model
// expects documents to carry it; queries are embedded without it.
const PassagePrefix = "passage: "

//nolint:staticcheck // user-facing messages
var (
	ErrNoFiles = errors.New("Please upload at least one document.")
	ErrNoText  = errors.New("No text could be extracted from the uploaded files.")
)

// File is one uploaded document.
type File struct {
	Name string
	Data []byte
}

// Result describes a successful AddFiles call.
type Result struct {
	Files  int
	Chunks int
}

// Message is the confirmation shown to the user.
func (r Result) Message() string {
	return fmt.Sprintf("Successfully added %d documents!", r.Files)
}

// Splitter cuts document text into chunks.
type Splitter interface {
	Split(ctx context.Context, text string) ([]string, error)
}

// ContentEmbedder generates embeddings for a batch of texts.
type ContentEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorInserter inserts records into the vector store.
type VectorInserter interface {
	Insert(ctx context.Context, records []retrieval.Record) error
}

// Pipeline is the ingest flow: Loader, Chunker, then the store.
type Pipeline struct {
	splitter Splitter
	embedder ContentEmbedder
	vectors  VectorInserter
	logger   *slog.Logger
}

func New(splitter Splitter, embedder ContentEmbedder, vectors VectorInserter) *Pipeline {
	return &Pipeline{
		splitter: splitter,
		embedder: embedder,
		vectors:  vectors,
		logger:   slog.Default(),
	}
}

type chunk struct {
	source   string
	position int
	text     string
}

// AddFiles reads and chunks every file before anything is written. The
// first file that fails to read or chunk aborts the whole batch, so a
// failed call never leaves a partial upload behind.
func (p *Pipeline) AddFiles(ctx context.Context, files []File) (Result, error) {
	if len(files) == 0 {
		return Result{}, ErrNoFiles
	}

	var all []chunk
	for _, f := range files {
		text, err := loader.Load(f.Name, f.Data)
		if err != nil {
			return Result{}, fmt.Errorf("Error reading %s: %w", f.Name, err)
		}

		pieces, err := p.splitter.Split(ctx, text)
		if err != nil {
			return Result{}, fmt.Errorf("Error chunking %s: %w", f.Name, err)
		}
		p.logger.Debug("file chunked", "file", f.Name, "chunks", len(pieces))

		for i, piece := range pieces {
			all = append(all, chunk{source: f.Name, position: i, text: PassagePrefix + piece})
		}
	}

	if len(all) == 0 {
		return Result{}, ErrNoText
	}

	if err := p.store(ctx, all); err != nil {
		return Result{}, fmt.Errorf("An error occurred while adding documents to the vector store: %w", err)
	}

	p.logger.Info("documents added", "files", len(files), "chunks", len(all))
	return Result{Files: len(files), Chunks: len(all)}, nil
}

func (p *Pipeline) store(ctx context.Context, chunks []chunk) error {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.text
	}

	vecs, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return err
	}
	if len(vecs) != len(chunks) {
		return fmt.Errorf("got %d embeddings for %d chunks", len(vecs), len(chunks))
	}

	now := time.Now().UTC()
	records := make([]retrieval.Record, len(chunks))
	for i, c := range chunks {
		records[i] = retrieval.Record{
			ID:        uuid.New().String(),
			Source:    c.source,
			Position:  c.position,
			Text:      c.text,
			Embedding: vecs[i],
			CreatedAt: now,
		}
	}
	return p.vectors.Insert(ctx, records)
}
