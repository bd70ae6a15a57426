package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/kalambet/kbchat/internal/composer"
	"github.com/kalambet/kbchat/internal/ingest"
)

func newTestSessions(g *mockGenerator) (*Sessions, *mockIngester) {
	ing := &mockIngester{}
	return NewSessions(New(&mockRetriever{chunks: skyChunks}, g, 4), ing), ing
}

func TestSession_AskOrdersTurns(t *testing.T) {
	g := &mockGenerator{reply: "Blue."}
	reg, _ := newTestSessions(g)
	s := reg.Create()

	if _, err := s.Ask(context.Background(), "What colour is the sky?"); err != nil {
		t.Fatalf("Ask: %v", err)
	}

	// The current question is already in the prompt's history.
	if !strings.Contains(g.prompts[0], "CHAT HISTORY:\nUser: What colour is the sky?\n\n---") {
		t.Errorf("first prompt history wrong:\n%s", g.prompts[0])
	}

	if _, err := s.Ask(context.Background(), "And clouds?"); err != nil {
		t.Fatal(err)
	}
	wantHistory := "CHAT HISTORY:\nUser: What colour is the sky?\nAssistant: Blue.\nUser: And clouds?\n"
	if !strings.Contains(g.prompts[1], wantHistory) {
		t.Errorf("second prompt history wrong:\n%s", g.prompts[1])
	}

	h := s.History()
	want := []composer.Turn{
		{Role: "user", Content: "What colour is the sky?"},
		{Role: "assistant", Content: "Blue."},
		{Role: "user", Content: "And clouds?"},
		{Role: "assistant", Content: "Blue."},
	}
	if len(h) != len(want) {
		t.Fatalf("history has %d turns, want %d", len(h), len(want))
	}
	for i := range want {
		if h[i] != want[i] {
			t.Errorf("turn %d = %+v, want %+v", i, h[i], want[i])
		}
	}
}

func TestSession_AskFailureKeepsUserTurn(t *testing.T) {
	g := &mockGenerator{err: errors.New("model overloaded")}
	reg, _ := newTestSessions(g)
	s := reg.Create()

	if _, err := s.Ask(context.Background(), "hello?"); err == nil {
		t.Fatal("expected error")
	}
	h := s.History()
	if len(h) != 1 || h[0].Role != composer.RoleUser {
		t.Errorf("history = %+v", h)
	}
}

func TestSession_HistoryIsACopy(t *testing.T) {
	reg, _ := newTestSessions(&mockGenerator{reply: "ok"})
	s := reg.Create()
	s.Ask(context.Background(), "q")

	h := s.History()
	h[0].Content = "tampered"
	if s.History()[0].Content != "q" {
		t.Error("History exposed internal slice")
	}
}

func TestSession_AddFiles(t *testing.T) {
	reg, ing := newTestSessions(&mockGenerator{})
	s := reg.Create()

	res, err := s.AddFiles(context.Background(), []ingest.File{{Name: "a.txt", Data: []byte("x")}})
	if err != nil {
		t.Fatal(err)
	}
	if res.Files != 1 || len(ing.files) != 1 {
		t.Errorf("result=%+v ingested=%d", res, len(ing.files))
	}
	if _, err := s.AddFiles(context.Background(), nil); !errors.Is(err, ingest.ErrNoFiles) {
		t.Errorf("err = %v, want ErrNoFiles", err)
	}
}

func TestSessions_Registry(t *testing.T) {
	reg, _ := newTestSessions(&mockGenerator{})

	a := reg.Create()
	b := reg.Create()
	if a.ID == "" || a.ID == b.ID {
		t.Fatalf("ids %q %q", a.ID, b.ID)
	}

	got, err := reg.Get(a.ID)
	if err != nil || got != a {
		t.Errorf("Get = %v, %v", got, err)
	}
	if _, err := reg.Get("nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Get(nope) err = %v", err)
	}

	if len(reg.List()) != 2 {
		t.Errorf("List len = %d", len(reg.List()))
	}
	if err := reg.Delete(a.ID); err != nil {
		t.Fatal(err)
	}
	if err := reg.Delete(a.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("second Delete err = %v", err)
	}
	if l := reg.List(); len(l) != 1 || l[0] != b {
		t.Errorf("List = %v", l)
	}
}

func TestSessions_GetOrCreate(t *testing.T) {
	reg, _ := newTestSessions(&mockGenerator{})

	s, err := reg.GetOrCreate("")
	if err != nil || s == nil {
		t.Fatalf("GetOrCreate(\"\") = %v, %v", s, err)
	}
	again, err := reg.GetOrCreate(s.ID)
	if err != nil || again != s {
		t.Errorf("GetOrCreate(id) = %v, %v", again, err)
	}
	if _, err := reg.GetOrCreate("missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("err = %v", err)
	}
}

func TestSessions_ConcurrentAsksAreSerialized(t *testing.T) {
	reg, _ := newTestSessions(&mockGenerator{reply: "a"})
	s := reg.Create()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Ask(context.Background(), "q")
		}()
	}
	wg.Wait()

	h := s.History()
	if len(h) != 20 {
		t.Fatalf("history has %d turns, want 20", len(h))
	}
	for i, turn := range h {
		want := composer.RoleUser
		if i%2 == 1 {
			want = composer.RoleAssistant
		}
		if turn.Role != want {
			t.Errorf("turn %d role = %q, want %q", i, turn.Role, want)
		}
	}
}
