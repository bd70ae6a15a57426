package retrieval

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// fakeMilvus is a minimal in-memory Milvus v2 REST server.
type fakeMilvus struct {
	mu       sync.Mutex
	token    string
	exists   bool
	dim      int
	level    string
	rows     []map[string]any
	paths    []string
	lastAuth string
}

func (f *fakeMilvus) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.paths = append(f.paths, r.URL.Path)
		f.lastAuth = r.Header.Get("Authorization")

		if f.lastAuth != "Bearer "+f.token {
			json.NewEncoder(w).Encode(map[string]any{"code": 1800, "message": "invalid token"})
			return
		}

		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding %s body: %v", r.URL.Path, err)
		}

		switch r.URL.Path {
		case "/v2/vectordb/collections/has":
			json.NewEncoder(w).Encode(map[string]any{"code": 0, "data": map[string]any{"has": f.exists}})
		case "/v2/vectordb/collections/create":
			schema := req["schema"].(map[string]any)
			for _, fld := range schema["fields"].([]any) {
				m := fld.(map[string]any)
				if m["fieldName"] == "vector" {
					f.dim = int(m["elementTypeParams"].(map[string]any)["dim"].(float64))
				}
			}
			if params, ok := req["params"].(map[string]any); ok {
				f.level, _ = params["consistencyLevel"].(string)
			}
			f.exists = true
			json.NewEncoder(w).Encode(map[string]any{"code": 0, "data": map[string]any{}})
		case "/v2/vectordb/indexes/create", "/v2/vectordb/collections/load":
			json.NewEncoder(w).Encode(map[string]any{"code": 0, "data": map[string]any{}})
		case "/v2/vectordb/entities/insert":
			for _, row := range req["data"].([]any) {
				f.rows = append(f.rows, row.(map[string]any))
			}
			json.NewEncoder(w).Encode(map[string]any{"code": 0, "data": map[string]any{"insertCount": len(req["data"].([]any))}})
		case "/v2/vectordb/entities/search":
			limit := int(req["limit"].(float64))
			var hits []map[string]any
			for i, row := range f.rows {
				if i >= limit {
					break
				}
				hits = append(hits, map[string]any{
					"id":       row["id"],
					"distance": 0.9 - float64(i)*0.1,
					"text":     row["text"],
					"source":   row["source"],
					"position": row["position"],
				})
			}
			json.NewEncoder(w).Encode(map[string]any{"code": 0, "data": hits})
		case "/v2/vectordb/collections/get_stats":
			json.NewEncoder(w).Encode(map[string]any{"code": 0, "data": map[string]any{"rowCount": len(f.rows)}})
		default:
			http.NotFound(w, r)
		}
	})
}

func newFakeMilvus(t *testing.T) (*fakeMilvus, *httptest.Server) {
	t.Helper()
	f := &fakeMilvus{token: "secret"}
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	return f, srv
}

func TestMilvus_PingBadToken(t *testing.T) {
	_, srv := newFakeMilvus(t)
	s := NewMilvusStore(ZillizConfig{URI: srv.URL, Token: "wrong"})
	err := s.Ping(context.Background())
	if err == nil {
		t.Fatal("expected error for bad token")
	}
	if !strings.Contains(err.Error(), "invalid token") {
		t.Errorf("error = %v", err)
	}
}

func TestMilvus_InsertCreatesCollectionOnce(t *testing.T) {
	f, srv := newFakeMilvus(t)
	s := NewMilvusStore(ZillizConfig{URI: srv.URL + "/", Token: "secret", Collection: "docs"})
	ctx := context.Background()

	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	batch := []Record{
		{ID: "a", Source: "a.txt", Position: 0, Text: "passage: one", Embedding: []float32{1, 0, 0}},
		{ID: "b", Source: "a.txt", Position: 1, Text: "passage: two", Embedding: []float32{0, 1, 0}},
	}
	if err := s.Insert(ctx, batch); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := s.Insert(ctx, batch[:1]); err != nil {
		t.Fatalf("second Insert: %v", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	creates := 0
	for _, p := range f.paths {
		if p == "/v2/vectordb/collections/create" {
			creates++
		}
	}
	if creates != 1 {
		t.Errorf("collection created %d times, want 1", creates)
	}
	if f.dim != 3 {
		t.Errorf("dim = %d, want 3", f.dim)
	}
	if f.level != "Session" {
		t.Errorf("consistencyLevel = %q, want Session", f.level)
	}
	if len(f.rows) != 3 {
		t.Errorf("rows = %d, want 3", len(f.rows))
	}
}

func TestMilvus_SearchAndCount(t *testing.T) {
	_, srv := newFakeMilvus(t)
	s := NewMilvusStore(ZillizConfig{URI: srv.URL, Token: "secret"})
	ctx := context.Background()

	if err := s.Insert(ctx, []Record{
		{ID: "a", Source: "a.pdf", Position: 3, Text: "passage: alpha", Embedding: []float32{1, 0}},
		{ID: "b", Source: "b.pdf", Position: 0, Text: "passage: beta", Embedding: []float32{0, 1}},
	}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	results, err := s.Search(ctx, []float32{1, 0}, 4)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].ID != "a" || results[0].Source != "a.pdf" || results[0].Position != 3 || results[0].Text != "passage: alpha" {
		t.Errorf("result[0] = %+v", results[0])
	}
	if results[0].Score <= results[1].Score {
		t.Errorf("scores not descending")
	}

	n, err := s.Count(ctx)
	if err != nil || n != 2 {
		t.Errorf("Count = %d, %v", n, err)
	}
}

func TestMilvus_SearchBeforeCollectionExists(t *testing.T) {
	f, srv := newFakeMilvus(t)
	s := NewMilvusStore(ZillizConfig{URI: srv.URL, Token: "secret"})

	results, err := s.Search(context.Background(), []float32{1}, 4)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results", len(results))
	}
	for _, p := range f.paths {
		if p == "/v2/vectordb/entities/search" {
			t.Error("search issued against a missing collection")
		}
	}
}

func TestMilvus_InsertDimensionMismatch(t *testing.T) {
	_, srv := newFakeMilvus(t)
	s := NewMilvusStore(ZillizConfig{URI: srv.URL, Token: "secret"})
	err := s.Insert(context.Background(), []Record{
		{ID: "a", Text: "x", Embedding: []float32{1, 0}},
		{ID: "b", Text: "y", Embedding: []float32{1}},
	})
	if err == nil || !strings.Contains(err.Error(), "dimension mismatch") {
		t.Errorf("err = %v", err)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("héllo", 2); got != "h" {
		t.Errorf("truncate = %q, want %q", got, "h")
	}
	if got := truncate("abc", 10); got != "abc" {
		t.Errorf("truncate = %q", got)
	}
}
