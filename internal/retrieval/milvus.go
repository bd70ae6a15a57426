package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

var _ VectorStore = (*MilvusStore)(nil)

const (
	defaultCollection = "kbchat"
	defaultDatabase   = "default"
	maxTextLength     = 65535
	// Session consistency lets a search see the same client's earlier inserts.
	consistencyLevel = "Session"

	fieldID       = "id"
	fieldVector   = "vector"
	fieldText     = "text"
	fieldSource   = "source"
	fieldPosition = "position"
)

// ZillizConfig holds the credentials for a Zilliz Cloud (managed Milvus) cluster.
type ZillizConfig struct {
	URI        string
	Token      string
	Collection string
	Database   string
	Timeout    time.Duration
}

// HasCredentials reports whether both the endpoint and the token are set.
func (c ZillizConfig) HasCredentials() bool {
	return strings.TrimSpace(c.URI) != "" && strings.TrimSpace(c.Token) != ""
}

// MilvusStore talks to Milvus or Zilliz Cloud over the v2 REST API.
// The collection is created on the first Insert, once the embedding
// dimension is known.
type MilvusStore struct {
	cfg     ZillizConfig
	baseURL string
	client  *http.Client
	logger  *slog.Logger

	mu    sync.Mutex
	ready bool
}

// NewMilvusStore applies defaults to cfg. It does not touch the network; call
// Ping to verify the connection.
func NewMilvusStore(cfg ZillizConfig) *MilvusStore {
	if cfg.Collection == "" {
		cfg.Collection = defaultCollection
	}
	if cfg.Database == "" {
		cfg.Database = defaultDatabase
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &MilvusStore{
		cfg:     cfg,
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.URI), "/"),
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  slog.Default().With("component", "milvus"),
	}
}

// Collection returns the collection name in use.
func (s *MilvusStore) Collection() string {
	return s.cfg.Collection
}

// milvusError is a non-zero "code" in an otherwise successful HTTP response.
type milvusError struct {
	Code    int
	Message string
}

func (e *milvusError) Error() string {
	return fmt.Sprintf("milvus error: code=%d message=%s", e.Code, e.Message)
}

func (s *MilvusStore) doJSON(ctx context.Context, path string, in, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.cfg.Token)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	s.logger.Debug("milvus response", "path", path, "status", resp.StatusCode)

	// Milvus answers 200 even for failures; the code field tells.
	var base struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &base); err == nil && base.Code != 0 {
		return &milvusError{Code: base.Code, Message: base.Message}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("milvus request %s failed: status=%d body=%s", path, resp.StatusCode, string(body))
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (s *MilvusStore) collectionRef() map[string]any {
	return map[string]any{
		"dbName":         s.cfg.Database,
		"collectionName": s.cfg.Collection,
	}
}

func (s *MilvusStore) hasCollection(ctx context.Context) (bool, error) {
	var resp struct {
		Data struct {
			Has bool `json:"has"`
		} `json:"data"`
	}
	if err := s.doJSON(ctx, "/v2/vectordb/collections/has", s.collectionRef(), &resp); err != nil {
		return false, fmt.Errorf("checking collection %s: %w", s.cfg.Collection, err)
	}
	return resp.Data.Has, nil
}

// Ping verifies the endpoint and the token by asking whether the collection exists.
func (s *MilvusStore) Ping(ctx context.Context) error {
	if s.baseURL == "" {
		return errors.New("zilliz uri is empty")
	}
	has, err := s.hasCollection(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.ready = has
	s.mu.Unlock()
	return nil
}

// isReady reports whether the collection exists, asking the server once if
// it has not been seen yet.
func (s *MilvusStore) isReady(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return true, nil
	}
	has, err := s.hasCollection(ctx)
	if err != nil {
		return false, err
	}
	s.ready = has
	return has, nil
}

func (s *MilvusStore) ensureCollection(ctx context.Context, dim int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}

	has, err := s.hasCollection(ctx)
	if err != nil {
		s.logger.Warn("checking collection existence failed, trying to create", "error", err)
	}
	if !has {
		if err := s.createCollection(ctx, dim); err != nil {
			return err
		}
		s.logger.Info("collection created", "collection", s.cfg.Collection, "dimension", dim)
	}
	s.ready = true
	return nil
}

func (s *MilvusStore) createCollection(ctx context.Context, dim int) error {
	req := s.collectionRef()
	req["schema"] = map[string]any{
		"autoId": false,
		"fields": []map[string]any{
			{"fieldName": fieldID, "dataType": "VarChar", "isPrimary": true,
				"elementTypeParams": map[string]any{"max_length": 64}},
			{"fieldName": fieldVector, "dataType": "FloatVector",
				"elementTypeParams": map[string]any{"dim": dim}},
			{"fieldName": fieldText, "dataType": "VarChar",
				"elementTypeParams": map[string]any{"max_length": maxTextLength}},
			{"fieldName": fieldSource, "dataType": "VarChar",
				"elementTypeParams": map[string]any{"max_length": 1024}},
			{"fieldName": fieldPosition, "dataType": "Int64"},
		},
	}
	req["params"] = map[string]any{"consistencyLevel": consistencyLevel}
	if err := s.doJSON(ctx, "/v2/vectordb/collections/create", req, nil); err != nil {
		return fmt.Errorf("create collection %s: %w", s.cfg.Collection, err)
	}

	idx := s.collectionRef()
	idx["indexParams"] = []map[string]any{{
		"fieldName":  fieldVector,
		"indexName":  fieldVector + "_idx",
		"metricType": "COSINE",
		"indexType":  "AUTOINDEX",
	}}
	if err := s.doJSON(ctx, "/v2/vectordb/indexes/create", idx, nil); err != nil {
		return fmt.Errorf("create index on %s: %w", fieldVector, err)
	}

	if err := s.doJSON(ctx, "/v2/vectordb/collections/load", s.collectionRef(), nil); err != nil {
		return fmt.Errorf("load collection %s: %w", s.cfg.Collection, err)
	}
	return nil
}

func (s *MilvusStore) Insert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	dim := len(records[0].Embedding)
	for i, r := range records {
		if strings.TrimSpace(r.Text) == "" {
			return fmt.Errorf("record %d: %w", i, errEmptyText)
		}
		if len(r.Embedding) == 0 {
			return fmt.Errorf("record %d: %w", i, errEmptyEmbedding)
		}
		if len(r.Embedding) != dim {
			return fmt.Errorf("record %d embedding dimension mismatch: got=%d want=%d", i, len(r.Embedding), dim)
		}
	}

	if err := s.ensureCollection(ctx, dim); err != nil {
		return fmt.Errorf("ensure collection: %w", err)
	}

	data := make([]map[string]any, len(records))
	for i, r := range records {
		data[i] = map[string]any{
			fieldID:       r.ID,
			fieldVector:   r.Embedding,
			fieldText:     truncate(r.Text, maxTextLength),
			fieldSource:   r.Source,
			fieldPosition: r.Position,
		}
	}
	req := s.collectionRef()
	req["data"] = data

	var resp struct {
		Data struct {
			InsertCount int `json:"insertCount"`
		} `json:"data"`
	}
	if err := s.doJSON(ctx, "/v2/vectordb/entities/insert", req, &resp); err != nil {
		return fmt.Errorf("insert entities: %w", err)
	}
	s.logger.Debug("milvus insert completed", "count", resp.Data.InsertCount)
	return nil
}

type milvusHit struct {
	ID       string  `json:"id"`
	Distance float32 `json:"distance"`
	Text     string  `json:"text"`
	Source   string  `json:"source"`
	Position int     `json:"position"`
}

// Search runs an ANN query. With the COSINE metric Milvus reports similarity
// in "distance", higher is closer.
func (s *MilvusStore) Search(ctx context.Context, vector []float32, topK int) ([]ScoredRecord, error) {
	if topK <= 0 || len(vector) == 0 {
		return nil, nil
	}
	ready, err := s.isReady(ctx)
	if err != nil {
		return nil, err
	}
	if !ready {
		return nil, nil
	}

	req := s.collectionRef()
	req["data"] = [][]float32{vector}
	req["annsField"] = fieldVector
	req["limit"] = topK
	req["outputFields"] = []string{fieldText, fieldSource, fieldPosition}

	var resp struct {
		Data []milvusHit `json:"data"`
	}
	if err := s.doJSON(ctx, "/v2/vectordb/entities/search", req, &resp); err != nil {
		return nil, fmt.Errorf("search entities: %w", err)
	}

	results := make([]ScoredRecord, 0, len(resp.Data))
	for _, h := range resp.Data {
		results = append(results, ScoredRecord{
			Record: Record{
				ID:       h.ID,
				Source:   h.Source,
				Position: h.Position,
				Text:     h.Text,
			},
			Score: h.Distance,
		})
	}
	return results, nil
}

func (s *MilvusStore) Count(ctx context.Context) (int, error) {
	ready, err := s.isReady(ctx)
	if err != nil || !ready {
		return 0, err
	}
	var resp struct {
		Data struct {
			RowCount int `json:"rowCount"`
		} `json:"data"`
	}
	if err := s.doJSON(ctx, "/v2/vectordb/collections/get_stats", s.collectionRef(), &resp); err != nil {
		return 0, fmt.Errorf("collection stats: %w", err)
	}
	return resp.Data.RowCount, nil
}

func (s *MilvusStore) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
