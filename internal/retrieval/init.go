package retrieval

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kalambet/kbchat/internal/storage"
)

// Status messages reported by InitStore.
const (
	MsgZillizConnected  = "Connected to Zilliz Cloud!"
	MsgNoZillizCreds    = "Zilliz credentials not found. Using temporary in-memory storage."
	msgZillizFailedTmpl = "Zilliz connection failed: %v. Falling back to temporary in-memory storage."
)

// FallbackFunc opens the local store used when Zilliz is unavailable.
type FallbackFunc func() (VectorStore, error)

// NewEphemeralStore opens a private in-memory SQLite chunk index that is
// discarded on Close.
func NewEphemeralStore() (VectorStore, error) {
	db, err := storage.Open()
	if err != nil {
		return nil, fmt.Errorf("opening in-memory store: %w", err)
	}
	return NewSQLiteStore(db.DB(), db.Close), nil
}

// InitStore selects the vector store once at startup. With credentials it
// connects to Zilliz; on missing credentials or a failed connection it falls
// back to the local store. It always reports the backend it chose and a
// human-readable status. A nil fallback means NewEphemeralStore.
func InitStore(ctx context.Context, cfg ZillizConfig, fallback FallbackFunc) (VectorStore, Backend, string, error) {
	if fallback == nil {
		fallback = NewEphemeralStore
	}

	var msg string
	if cfg.HasCredentials() {
		ms := NewMilvusStore(cfg)
		err := ms.Ping(ctx)
		if err == nil {
			slog.Info("vector store ready", "backend", BackendZilliz, "collection", ms.Collection())
			return ms, BackendZilliz, MsgZillizConnected, nil
		}
		ms.Close()
		msg = fmt.Sprintf(msgZillizFailedTmpl, err)
		slog.Warn("zilliz connection failed", "error", err)
	} else {
		msg = MsgNoZillizCreds
		slog.Warn("zilliz credentials not set, using local store")
	}

	store, err := fallback()
	if err != nil {
		return nil, "", msg, fmt.Errorf("opening local vector store: %w", err)
	}
	return store, BackendLocal, msg, nil
}
