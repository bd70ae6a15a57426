package tui

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kalambet/kbchat/internal/composer"
	"github.com/kalambet/kbchat/internal/ingest"
	"github.com/kalambet/kbchat/internal/loader"
	"github.com/kalambet/kbchat/internal/pipeline"
	"github.com/kalambet/kbchat/internal/retrieval"
)

type fakeChat struct {
	history []composer.Turn
	answer  pipeline.Answer
	askErr  error
	added   []ingest.File
}

func (f *fakeChat) Ask(_ context.Context, q string) (pipeline.Answer, error) {
	f.history = append(f.history, composer.Turn{Role: composer.RoleUser, Content: q})
	if f.askErr != nil {
		return pipeline.Answer{}, f.askErr
	}
	f.history = append(f.history, composer.Turn{Role: composer.RoleAssistant, Content: f.answer.Text})
	return f.answer, nil
}

func (f *fakeChat) AddFiles(_ context.Context, files []ingest.File) (ingest.Result, error) {
	if len(files) == 0 {
		return ingest.Result{}, ingest.ErrNoFiles
	}
	f.added = append(f.added, files...)
	return ingest.Result{Files: len(files), Chunks: len(files)}, nil
}

func (f *fakeChat) History() []composer.Turn {
	return append([]composer.Turn(nil), f.history...)
}

func newTestModel(chat *fakeChat) Model {
	m := New(context.Background(), chat, "Connected to: Sqlite Database", "Zilliz credentials not found. Using temporary in-memory storage.")
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	return updated.(Model)
}

// enter types line and presses Enter, then runs every resulting command
// except spinner ticks and feeds the messages back.
func enter(t *testing.T, m Model, line string) Model {
	t.Helper()
	m.input.SetValue(line)
	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = updated.(Model)
	for _, msg := range drain(cmd) {
		updated, _ = m.Update(msg)
		m = updated.(Model)
	}
	return m
}

func drain(cmd tea.Cmd) []tea.Msg {
	if cmd == nil {
		return nil
	}
	msg := cmd()
	if batch, ok := msg.(tea.BatchMsg); ok {
		var out []tea.Msg
		for _, c := range batch {
			out = append(out, drain(c)...)
		}
		return out
	}
	switch msg.(type) {
	case answerMsg, ingestMsg:
		return []tea.Msg{msg}
	}
	return nil
}

func TestView_BeforeReady(t *testing.T) {
	m := New(context.Background(), &fakeChat{}, "caption", "")
	if got := m.View(); got != "Connecting to Knowledge Base..." {
		t.Errorf("View = %q", got)
	}
}

func TestView_ShowsCaptionAndNotice(t *testing.T) {
	m := newTestModel(&fakeChat{})
	v := m.View()
	if !strings.Contains(v, "Connected to: Sqlite Database") {
		t.Error("caption missing")
	}
	if !strings.Contains(v, "Zilliz credentials not found") {
		t.Error("store notice missing")
	}
}

func TestAsk_RendersTranscriptAndSources(t *testing.T) {
	chat := &fakeChat{answer: pipeline.Answer{
		Text:    "The sky is blue.",
		Sources: []retrieval.ContextChunk{{Text: "passage: The sky is blue."}},
	}}
	m := newTestModel(chat)

	m = enter(t, m, "What colour is the sky?")
	if m.busy != "" {
		t.Errorf("still busy: %q", m.busy)
	}
	if !strings.HasPrefix(m.status, "Answered in ") {
		t.Errorf("status = %q", m.status)
	}

	transcript := m.renderTranscript(chat.History())
	if !strings.Contains(transcript, "What colour is the sky?") || !strings.Contains(transcript, "The sky is blue.") {
		t.Errorf("transcript:\n%s", transcript)
	}
	if strings.Contains(transcript, "Source 1:") {
		t.Error("sources shown before toggling")
	}

	m = enter(t, m, "/sources")
	transcript = m.renderTranscript(chat.History())
	if !strings.Contains(transcript, "Source 1:") || !strings.Contains(transcript, "passage: The sky is blue.") {
		t.Errorf("sources missing after toggle:\n%s", transcript)
	}
}

func TestAsk_Error(t *testing.T) {
	chat := &fakeChat{askErr: errors.New("generating answer: 503")}
	m := newTestModel(chat)

	m = enter(t, m, "hello")
	if !m.statusErr || m.status != "generating answer: 503" {
		t.Errorf("status=%q err=%v", m.status, m.statusErr)
	}
}

func TestAddCommand(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(path, []byte("hello"), 0o600); err != nil {
		t.Fatal(err)
	}

	chat := &fakeChat{}
	m := newTestModel(chat)
	m = enter(t, m, "/add "+path)

	if m.status != "Successfully added 1 documents!" || m.statusErr {
		t.Errorf("status = %q", m.status)
	}
	if len(chat.added) != 1 || chat.added[0].Name != "notes.txt" || string(chat.added[0].Data) != "hello" {
		t.Errorf("added = %+v", chat.added)
	}
}

func TestAddCommand_NoFiles(t *testing.T) {
	m := newTestModel(&fakeChat{})
	m = enter(t, m, "/add")
	if !m.statusErr || m.status != "Please upload at least one document." {
		t.Errorf("status = %q", m.status)
	}
}

func TestUnknownCommand(t *testing.T) {
	m := newTestModel(&fakeChat{})
	m = enter(t, m, "/frobnicate")
	if !m.statusErr || !strings.Contains(m.status, "unknown command /frobnicate") {
		t.Errorf("status = %q", m.status)
	}
}

func TestQuit(t *testing.T) {
	m := newTestModel(&fakeChat{})
	m.input.SetValue("/quit")
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	if cmd == nil {
		t.Fatal("no command returned")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected QuitMsg")
	}
}

func TestReadFiles(t *testing.T) {
	if _, err := ReadFiles(nil); !errors.Is(err, ingest.ErrNoFiles) {
		t.Errorf("err = %v", err)
	}
	_, err := ReadFiles([]string{filepath.Join(t.TempDir(), "missing.pdf")})
	if err == nil || !strings.HasPrefix(err.Error(), "Error reading missing.pdf: ") {
		t.Errorf("err = %v", err)
	}

	// The extension check runs before any file is opened, so a missing
	// unsupported file still reports the extension.
	_, err = ReadFiles([]string{filepath.Join(t.TempDir(), "image.xyz")})
	if !errors.Is(err, loader.ErrUnsupportedExtension) || err.Error() != "Error reading image.xyz: Unsupported file extension." {
		t.Errorf("err = %v", err)
	}
}

func TestHelpListsExtensions(t *testing.T) {
	m := newTestModel(&fakeChat{})
	m = enter(t, m, "/help")
	for _, ext := range loader.Extensions() {
		if !strings.Contains(m.status, ext) {
			t.Errorf("help %q does not mention %s", m.status, ext)
		}
	}
}
