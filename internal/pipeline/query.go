// Package pipeline answers questions against the knowledge base and keeps
// per-session chat history.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/kbchat/internal/composer"
	"github.com/kalambet/kbchat/internal/retrieval"
)

// ContextRetriever fetches the passages nearest to a query.
type ContextRetriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]retrieval.ContextChunk, error)
}

// Generator sends a rendered prompt to the language model.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Answer is the model's reply together with the passages it was given.
type Answer struct {
	Text       string
	Sources    []retrieval.ContextChunk
	DurationMs int64
}

// SourceBlocks renders each source as "Source <i>:\n\n<passage>", numbered from 1.
func (a Answer) SourceBlocks() []string {
	out := make([]string, len(a.Sources))
	for i, s := range a.Sources {
		out[i] = fmt.Sprintf("Source %d:\n\n%s", i+1, s.Text)
	}
	return out
}

// Pipeline is the query flow: Retriever, Prompt Builder, then the Generator.
type Pipeline struct {
	retriever ContextRetriever
	generator Generator
	topK      int
}

// New wires the query flow. topK <= 0 defers to the retriever's own default.
func New(retriever ContextRetriever, generator Generator, topK int) *Pipeline {
	return &Pipeline{retriever: retriever, generator: generator, topK: topK}
}

// HandleQuery retrieves context for question, renders the prompt with
// history and returns the model's answer unmodified alongside the
// passages used.
func (p *Pipeline) HandleQuery(ctx context.Context, question string, history []composer.Turn) (Answer, error) {
	start := time.Now()

	chunks, err := p.retriever.Retrieve(ctx, question, p.topK)
	if err != nil {
		return Answer{}, fmt.Errorf("retrieving context: %w", err)
	}

	prompt := composer.BuildPrompt(question, chunks, history)
	slog.Debug("prompt built",
		"chunks", len(chunks),
		"history_turns", len(history),
		"est_tokens", composer.EstimateTokens(prompt),
	)

	text, err := p.generator.Generate(ctx, prompt)
	if err != nil {
		return Answer{}, fmt.Errorf("generating answer: %w", err)
	}

	return Answer{
		Text:       text,
		Sources:    chunks,
		DurationMs: time.Since(start).Milliseconds(),
	}, nil
}

// Search returns the passages a question would be answered from without
// calling the model.
func (p *Pipeline) Search(ctx context.Context, query string, topK int) ([]retrieval.ContextChunk, error) {
	if topK <= 0 {
		topK = p.topK
	}
	chunks, err := p.retriever.Retrieve(ctx, query, topK)
	if err != nil {
		return nil, fmt.Errorf("retrieving context: %w", err)
	}
	return chunks, nil
}
