package retrieval

import (
	"context"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// VectorStore is the handle to whichever backend holds the passages. It is
// chosen once at startup and shared for the lifetime of the process.
type VectorStore interface {
	// Insert stores records. Every record must carry non-empty text and an
	// embedding; all embeddings in one store share a dimension.
	Insert(ctx context.Context, records []Record) error

	// Search returns up to topK records ordered by descending cosine similarity.
	Search(ctx context.Context, vector []float32, topK int) ([]ScoredRecord, error)

	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)

	Close() error
}

// Record is one stored passage with its provenance.
type Record struct {
	ID        string
	Source    string
	Position  int
	Text      string
	Embedding []float32
	CreatedAt time.Time
}

// ScoredRecord is a Record with a similarity score attached.
type ScoredRecord struct {
	Record
	Score float32
}

// Backend names the store that InitStore selected.
type Backend string

const (
	BackendZilliz Backend = "zilliz"
	BackendLocal  Backend = "sqlite"
)

// DisplayName upper-cases the first letter and lower-cases the rest,
// e.g. "zilliz" -> "Zilliz".
func (b Backend) DisplayName() string {
	s := string(b)
	if s == "" {
		return s
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}

// ConnectedCaption is the one-line description of the active backend shown
// next to the chat.
func (b Backend) ConnectedCaption() string {
	return "Connected to: " + b.DisplayName() + " Database"
}
