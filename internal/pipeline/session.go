package pipeline

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kalambet/kbchat/internal/composer"
	"github.com/kalambet/kbchat/internal/ingest"
)

var ErrSessionNotFound = errors.New("session not found")

// Ingester adds uploaded files to the shared store.
type Ingester interface {
	AddFiles(ctx context.Context, files []ingest.File) (ingest.Result, error)
}

// Session is one conversation. Its history only grows; turns are never
// edited or reordered. Calls on a session run one at a time.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu       sync.Mutex
	history  []composer.Turn
	query    *Pipeline
	ingester Ingester
}

// Ask records the question, answers it and records the answer. The user
// turn is appended before retrieval so the prompt's history already
// contains the current question. When answering fails the user turn stays
// and no assistant turn is added.
func (s *Session) Ask(ctx context.Context, question string) (Answer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(s.history, composer.Turn{Role: composer.RoleUser, Content: question})

	ans, err := s.query.HandleQuery(ctx, question, s.snapshot())
	if err != nil {
		return Answer{}, err
	}

	s.history = append(s.history, composer.Turn{Role: composer.RoleAssistant, Content: ans.Text})
	return ans, nil
}

// AddFiles ingests files into the knowledge base shared by all sessions.
func (s *Session) AddFiles(ctx context.Context, files []ingest.File) (ingest.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ingester.AddFiles(ctx, files)
}

// History returns a copy of the conversation so far.
func (s *Session) History() []composer.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

func (s *Session) snapshot() []composer.Turn {
	out := make([]composer.Turn, len(s.history))
	copy(out, s.history)
	return out
}

// Sessions is an in-memory registry of conversations. All sessions share
// one query pipeline and one store.
type Sessions struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	query    *Pipeline
	ingester Ingester
}

func NewSessions(query *Pipeline, ingester Ingester) *Sessions {
	return &Sessions{
		sessions: make(map[string]*Session),
		query:    query,
		ingester: ingester,
	}
}

// Create starts an empty session.
func (r *Sessions) Create() *Session {
	s := &Session{
		ID:        uuid.New().String(),
		CreatedAt: time.Now().UTC(),
		query:     r.query,
		ingester:  r.ingester,
	}
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
	return s
}

func (r *Sessions) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// GetOrCreate returns the session for id, or a new one when id is empty.
func (r *Sessions) GetOrCreate(id string) (*Session, error) {
	if id == "" {
		return r.Create(), nil
	}
	return r.Get(id)
}

func (r *Sessions) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	delete(r.sessions, id)
	return nil
}

// List returns all sessions, oldest first.
func (r *Sessions) List() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
