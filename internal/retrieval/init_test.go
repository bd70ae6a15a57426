package retrieval

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestInitStore_NoCredentials(t *testing.T) {
	store, backend, msg, err := InitStore(context.Background(), ZillizConfig{}, nil)
	if err != nil {
		t.Fatalf("InitStore: %v", err)
	}
	defer store.Close()

	if backend != BackendLocal {
		t.Errorf("backend = %q, want %q", backend, BackendLocal)
	}
	if msg != MsgNoZillizCreds {
		t.Errorf("msg = %q", msg)
	}
	if _, ok := store.(*SQLiteStore); !ok {
		t.Errorf("store is %T, want *SQLiteStore", store)
	}
}

func TestInitStore_TokenOnlyIsNotEnough(t *testing.T) {
	_, backend, msg, err := InitStore(context.Background(), ZillizConfig{Token: "t"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if backend != BackendLocal || msg != MsgNoZillizCreds {
		t.Errorf("backend=%q msg=%q", backend, msg)
	}
}

func TestInitStore_ConnectionFailure(t *testing.T) {
	_, srv := newFakeMilvus(t)
	store, backend, msg, err := InitStore(context.Background(),
		ZillizConfig{URI: srv.URL, Token: "wrong"}, nil)
	if err != nil {
		t.Fatalf("InitStore: %v", err)
	}
	defer store.Close()

	if backend != BackendLocal {
		t.Errorf("backend = %q, want %q", backend, BackendLocal)
	}
	if !strings.HasPrefix(msg, "Zilliz connection failed: ") ||
		!strings.HasSuffix(msg, ". Falling back to temporary in-memory storage.") {
		t.Errorf("msg = %q", msg)
	}
}

func TestInitStore_Unreachable(t *testing.T) {
	_, backend, msg, err := InitStore(context.Background(),
		ZillizConfig{URI: "http://127.0.0.1:1", Token: "t"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if backend != BackendLocal || msg == "" {
		t.Errorf("backend=%q msg=%q", backend, msg)
	}
}

func TestInitStore_Connected(t *testing.T) {
	_, srv := newFakeMilvus(t)
	fallbackCalled := false
	store, backend, msg, err := InitStore(context.Background(),
		ZillizConfig{URI: srv.URL, Token: "secret"},
		func() (VectorStore, error) {
			fallbackCalled = true
			return nil, nil
		})
	if err != nil {
		t.Fatalf("InitStore: %v", err)
	}
	if backend != BackendZilliz || msg != MsgZillizConnected {
		t.Errorf("backend=%q msg=%q", backend, msg)
	}
	if _, ok := store.(*MilvusStore); !ok {
		t.Errorf("store is %T", store)
	}
	if fallbackCalled {
		t.Error("fallback opened despite a working connection")
	}
}

func TestInitStore_FallbackError(t *testing.T) {
	_, _, msg, err := InitStore(context.Background(), ZillizConfig{}, func() (VectorStore, error) {
		return nil, errors.New("disk full")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if msg != MsgNoZillizCreds {
		t.Errorf("msg = %q", msg)
	}
}

func TestBackendCaption(t *testing.T) {
	tests := []struct {
		b    Backend
		want string
	}{
		{BackendZilliz, "Connected to: Zilliz Database"},
		{BackendLocal, "Connected to: Sqlite Database"},
		{Backend("CHROMA"), "Connected to: Chroma Database"},
	}
	for _, tt := range tests {
		if got := tt.b.ConnectedCaption(); got != tt.want {
			t.Errorf("%q.ConnectedCaption() = %q, want %q", tt.b, got, tt.want)
		}
	}
}
