package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/kalambet/kbchat/internal/api"
	"github.com/kalambet/kbchat/internal/chunker"
	"github.com/kalambet/kbchat/internal/config"
	"github.com/kalambet/kbchat/internal/engine"
	"github.com/kalambet/kbchat/internal/ingest"
	"github.com/kalambet/kbchat/internal/llm"
	"github.com/kalambet/kbchat/internal/pipeline"
	"github.com/kalambet/kbchat/internal/retrieval"
)

// app is one process's knowledge base: the store chosen at startup and the
// pipelines on top of it. serve and chat both build one.
type app struct {
	cfg      config.Config
	store    retrieval.VectorStore
	backend  retrieval.Backend
	storeMsg string

	ingester *ingest.Pipeline
	query    *pipeline.Pipeline
	sessions *pipeline.Sessions
	llmModel string
}

func setupLogging(level string, w io.Writer) {
	logLevel := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: logLevel})))
}

// buildApp checks the model key and the embedding engine, selects the
// vector store and wires the pipelines. Progress goes to w.
func buildApp(ctx context.Context, cfg config.Config, w io.Writer) (*app, error) {
	// The key is checked first so a missing token fails before any model pull.
	gen, err := llm.New(llm.Options{
		APIKey:            cfg.LLM.APIKey,
		BaseURL:           cfg.LLM.BaseURL,
		Model:             cfg.LLM.Model,
		Temperature:       cfg.LLM.Temperature,
		RequestsPerMinute: cfg.LLM.RequestsPerMinute,
		MaxRetries:        cfg.LLM.MaxRetries,
	})
	if err != nil {
		return nil, err
	}

	eng := engine.NewOllamaEngine(cfg.Ollama.BaseURL)
	if err := engine.EnsureReady(ctx, eng, cfg.Ollama.EmbedModel, w); err != nil {
		return nil, err
	}
	embedder := retrieval.NewEmbedder(eng, cfg.Ollama.EmbedModel)

	store, backend, msg, err := retrieval.InitStore(ctx, retrieval.ZillizConfig{
		URI:        cfg.Zilliz.URI,
		Token:      cfg.Zilliz.Token,
		Collection: cfg.Zilliz.Collection,
	}, nil)
	if err != nil {
		return nil, err
	}

	splitter := chunker.New(embedder, chunker.Options{
		BufferSize:           cfg.Chunking.BufferSize,
		BreakpointPercentile: cfg.Chunking.BreakpointPercentile,
	})
	ingester := ingest.New(splitter, embedder, store)
	retriever := retrieval.NewRetriever(embedder, store, cfg.Retrieval.TopK)
	query := pipeline.New(retriever, gen, cfg.Retrieval.TopK)

	return &app{
		cfg:      cfg,
		store:    store,
		backend:  backend,
		storeMsg: msg,
		ingester: ingester,
		query:    query,
		sessions: pipeline.NewSessions(query, ingester),
		llmModel: gen.Model(),
	}, nil
}

func (a *app) status(ctx context.Context) (api.Status, error) {
	n, err := a.store.Count(ctx)
	if err != nil {
		return api.Status{}, fmt.Errorf("counting passages: %w", err)
	}
	return api.Status{
		Backend:    string(a.backend),
		Caption:    a.backend.ConnectedCaption(),
		Message:    a.storeMsg,
		Passages:   n,
		Sessions:   len(a.sessions.List()),
		EmbedModel: a.cfg.Ollama.EmbedModel,
		LLMModel:   a.llmModel,
		TopK:       a.cfg.Retrieval.TopK,
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}
