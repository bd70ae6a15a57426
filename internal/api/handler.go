package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/kbchat/internal/composer"
	"github.com/kalambet/kbchat/internal/ingest"
	"github.com/kalambet/kbchat/internal/loader"
	"github.com/kalambet/kbchat/internal/pipeline"
	"github.com/kalambet/kbchat/internal/retrieval"
)

const (
	maxRequestBodySize = 1 << 20  // 1MB
	maxUploadSize      = 32 << 20 // 32MB
)

// Status describes the running knowledge base.
type Status struct {
	Backend    string `json:"backend"`
	Caption    string `json:"caption"`
	Message    string `json:"message"`
	Passages   int    `json:"passages"`
	Sessions   int    `json:"sessions"`
	EmbedModel string `json:"embed_model"`
	LLMModel   string `json:"llm_model"`
	TopK       int    `json:"top_k"`
}

// StatusFunc reports the current Status.
type StatusFunc func(ctx context.Context) (Status, error)

// Deps holds what the HTTP handlers need.
type Deps struct {
	Sessions *pipeline.Sessions
	Ingester pipeline.Ingester
	Status   StatusFunc
	// Token enables bearer authentication on every route except /health.
	// Empty disables it.
	Token string
}

// NewHandler returns the kbchat HTTP API.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		if deps.Token != "" {
			r.Use(BearerAuth(deps.Token))
		}
		r.Get("/status", handleStatus(deps))
		r.Post("/documents", handleAddDocuments(deps.Ingester))

		r.Get("/sessions", handleListSessions(deps))
		r.Post("/sessions", handleCreateSession(deps))
		r.Route("/sessions/{id}", func(r chi.Router) {
			r.Delete("/", handleDeleteSession(deps))
			r.Get("/history", handleHistory(deps))
			r.Post("/ask", handleAsk(deps))
			r.Post("/documents", handleSessionDocuments(deps))
		})
	})

	return r
}

// SessionInfo is the wire form of a session.
type SessionInfo struct {
	ID        string          `json:"id"`
	CreatedAt time.Time       `json:"created_at"`
	History   []composer.Turn `json:"history,omitempty"`
}

// AskRequest is the body of POST /sessions/{id}/ask.
type AskRequest struct {
	Question string `json:"question"`
}

// Source is one retrieved passage in an answer.
type Source struct {
	ID       string  `json:"id"`
	Source   string  `json:"source"`
	Position int     `json:"position"`
	Text     string  `json:"text"`
	Score    float32 `json:"score"`
}

// AskResponse is the reply to POST /sessions/{id}/ask.
type AskResponse struct {
	SessionID  string   `json:"session_id"`
	Answer     string   `json:"answer"`
	Sources    []Source `json:"sources"`
	DurationMs int64    `json:"duration_ms"`
}

// IngestResponse is the reply to a successful document upload.
type IngestResponse struct {
	Message string `json:"message"`
	Files   int    `json:"files"`
	Chunks  int    `json:"chunks"`
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Status == nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "status not available")
			return
		}
		st, err := deps.Status(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read status: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

func handleListSessions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list := deps.Sessions.List()
		out := make([]SessionInfo, len(list))
		for i, s := range list {
			out[i] = SessionInfo{ID: s.ID, CreatedAt: s.CreatedAt}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleCreateSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := deps.Sessions.Create()
		writeJSON(w, http.StatusCreated, SessionInfo{ID: s.ID, CreatedAt: s.CreatedAt})
	}
}

func handleDeleteSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Sessions.Delete(chi.URLParam(r, "id")); err != nil {
			sessionError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func handleHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := deps.Sessions.Get(chi.URLParam(r, "id"))
		if err != nil {
			sessionError(w, err)
			return
		}
		history := s.History()
		if history == nil {
			history = []composer.Turn{}
		}
		writeJSON(w, http.StatusOK, SessionInfo{ID: s.ID, CreatedAt: s.CreatedAt, History: history})
	}
}

func handleAsk(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := deps.Sessions.Get(chi.URLParam(r, "id"))
		if err != nil {
			sessionError(w, err)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req AskRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		req.Question = strings.TrimSpace(req.Question)
		if req.Question == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "question is required")
			return
		}

		ans, err := s.Ask(r.Context(), req.Question)
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "%v", err)
			return
		}
		writeJSON(w, http.StatusOK, AskResponse{
			SessionID:  s.ID,
			Answer:     ans.Text,
			Sources:    toSources(ans.Sources),
			DurationMs: ans.DurationMs,
		})
	}
}

func handleAddDocuments(ing pipeline.Ingester) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		addDocuments(w, r, ing.AddFiles)
	}
}

func handleSessionDocuments(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := deps.Sessions.Get(chi.URLParam(r, "id"))
		if err != nil {
			sessionError(w, err)
			return
		}
		addDocuments(w, r, s.AddFiles)
	}
}

type addFilesFunc func(ctx context.Context, files []ingest.File) (ingest.Result, error)

// addDocuments reads the multipart field "files" and ingests every part.
func addDocuments(w http.ResponseWriter, r *http.Request, add addFilesFunc) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	defer r.Body.Close()

	files, err := readUploads(r)
	if err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid upload: %v", err)
		return
	}

	res, err := add(r.Context(), files)
	if err != nil {
		httpError(w, ingestStatus(err), ingestErrorType(err), "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, IngestResponse{Message: res.Message(), Files: res.Files, Chunks: res.Chunks})
}

func readUploads(r *http.Request) ([]ingest.File, error) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		return nil, err
	}
	headers := r.MultipartForm.File["files"]
	files := make([]ingest.File, 0, len(headers))
	for _, h := range headers {
		f, err := h.Open()
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", h.Filename, err)
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", h.Filename, err)
		}
		files = append(files, ingest.File{Name: h.Filename, Data: data})
	}
	return files, nil
}

// ingestStatus maps problems with the uploaded files to 4xx and store
// failures to 502.
func ingestStatus(err error) int {
	var readErr *loader.ReadError
	switch {
	case errors.Is(err, ingest.ErrNoFiles):
		return http.StatusBadRequest
	case errors.Is(err, loader.ErrUnsupportedExtension),
		errors.Is(err, ingest.ErrNoText),
		errors.As(err, &readErr):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}

func ingestErrorType(err error) string {
	if ingestStatus(err) == http.StatusBadGateway {
		return "api_error"
	}
	return "invalid_request_error"
}

func toSources(chunks []retrieval.ContextChunk) []Source {
	out := make([]Source, len(chunks))
	for i, c := range chunks {
		out[i] = Source{ID: c.ID, Source: c.Source, Position: c.Position, Text: c.Text, Score: c.Score}
	}
	return out
}

func sessionError(w http.ResponseWriter, err error) {
	if errors.Is(err, pipeline.ErrSessionNotFound) {
		httpError(w, http.StatusNotFound, "not_found", "session not found")
		return
	}
	httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}
