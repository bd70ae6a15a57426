// Package tui is the interactive chat front end: a transcript, an input
// line and a status bar showing which vector store is active.
package tui

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kalambet/kbchat/internal/composer"
	"github.com/kalambet/kbchat/internal/ingest"
	"github.com/kalambet/kbchat/internal/loader"
	"github.com/kalambet/kbchat/internal/pipeline"
)

// ChatPort is the conversation the TUI drives; *pipeline.Session
// satisfies it.
type ChatPort interface {
	Ask(ctx context.Context, question string) (pipeline.Answer, error)
	AddFiles(ctx context.Context, files []ingest.File) (ingest.Result, error)
	History() []composer.Turn
}

type answerMsg struct {
	answer pipeline.Answer
	err    error
}

type ingestMsg struct {
	result ingest.Result
	err    error
}

var helpText = "/add <files...> upload " + strings.Join(loader.Extensions(), " ") +
	" documents · /sources toggle sources · /quit exit"

// Model is the Bubble Tea model for the chat screen.
type Model struct {
	chat    ChatPort
	ctx     context.Context
	caption string

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model

	// sources[i] holds the passages behind the i-th assistant turn.
	sources     map[int][]string
	showSources bool
	busy        string
	status      string
	statusErr   bool
	ready       bool
}

// New creates the chat model. caption is the "Connected to: ..." line and
// notice is the store selection message shown once at start.
func New(ctx context.Context, chat ChatPort, caption, notice string) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask a question about your knowledge base..."
	ti.Focus()
	ti.CharLimit = 0

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return Model{
		chat:     chat,
		ctx:      ctx,
		caption:  caption,
		input:    ti,
		viewport: viewport.New(0, 0),
		spinner:  sp,
		sources:  make(map[int][]string),
		status:   notice,
	}
}

func (m Model) Init() tea.Cmd { return textinput.Blink }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, fh := transcriptStyle.GetFrameSize()
		m.viewport.Width = max(20, msg.Width-2)
		m.viewport.Height = max(3, msg.Height-fh-5)
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyCtrlD:
			return m, tea.Quit
		case tea.KeyEnter:
			if m.busy != "" {
				return m, nil
			}
			line := strings.TrimSpace(m.input.Value())
			if line == "" {
				return m, nil
			}
			m.input.SetValue("")
			return m.submit(line)
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

	case answerMsg:
		m.busy = ""
		if msg.err != nil {
			m.setError(msg.err.Error())
		} else {
			m.sources[m.assistantTurns()-1] = msg.answer.SourceBlocks()
			m.status = fmt.Sprintf("Answered in %dms from %d sources", msg.answer.DurationMs, len(msg.answer.Sources))
			m.statusErr = false
		}
		m.refresh()
		return m, nil

	case ingestMsg:
		m.busy = ""
		if msg.err != nil {
			m.setError(msg.err.Error())
		} else {
			m.status = msg.result.Message()
			m.statusErr = false
		}
		return m, nil

	case spinner.TickMsg:
		if m.busy == "" {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// submit handles one line of input: a slash command or a question.
func (m Model) submit(line string) (tea.Model, tea.Cmd) {
	if strings.HasPrefix(line, "/") {
		fields := strings.Fields(line)
		switch fields[0] {
		case "/quit", "/exit":
			return m, tea.Quit
		case "/sources":
			m.showSources = !m.showSources
			m.refresh()
			return m, nil
		case "/add":
			m.busy = "Processing and adding documents..."
			return m, tea.Batch(m.spinner.Tick, m.addFiles(fields[1:]))
		case "/help":
			m.status = helpText
			m.statusErr = false
			return m, nil
		default:
			m.setError(fmt.Sprintf("unknown command %s; %s", fields[0], helpText))
			return m, nil
		}
	}

	m.busy = "Thinking..."
	cmd := m.ask(line)
	// The session records the user turn first; show it right away.
	m.refreshPending(line)
	return m, tea.Batch(m.spinner.Tick, cmd)
}

func (m Model) ask(question string) tea.Cmd {
	chat, ctx := m.chat, m.ctx
	return func() tea.Msg {
		ans, err := chat.Ask(ctx, question)
		return answerMsg{answer: ans, err: err}
	}
}

func (m Model) addFiles(paths []string) tea.Cmd {
	chat, ctx := m.chat, m.ctx
	return func() tea.Msg {
		files, err := ReadFiles(paths)
		if err != nil {
			return ingestMsg{err: err}
		}
		res, err := chat.AddFiles(ctx, files)
		return ingestMsg{result: res, err: err}
	}
}

// ReadFiles loads paths from disk as upload files named by their base name.
// No paths yields ingest.ErrNoFiles. A file the loader cannot parse is
// rejected before anything is read.
func ReadFiles(paths []string) ([]ingest.File, error) {
	if len(paths) == 0 {
		return nil, ingest.ErrNoFiles
	}
	for _, p := range paths {
		if !loader.Supported(p) {
			return nil, fmt.Errorf("Error reading %s: %w", filepath.Base(p), loader.ErrUnsupportedExtension)
		}
	}
	files := make([]ingest.File, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("Error reading %s: %w", filepath.Base(p), err)
		}
		files = append(files, ingest.File{Name: filepath.Base(p), Data: data})
	}
	return files, nil
}

func (m *Model) setError(msg string) {
	m.status = msg
	m.statusErr = true
}

func (m Model) assistantTurns() int {
	n := 0
	for _, t := range m.chat.History() {
		if t.Role == composer.RoleAssistant {
			n++
		}
	}
	return n
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderTranscript(m.chat.History()))
	m.viewport.GotoBottom()
}

func (m *Model) refreshPending(question string) {
	history := append(m.chat.History(), composer.Turn{Role: composer.RoleUser, Content: question})
	m.viewport.SetContent(m.renderTranscript(history))
	m.viewport.GotoBottom()
}

func (m Model) renderTranscript(history []composer.Turn) string {
	if len(history) == 0 {
		return hintStyle.Render("No messages yet. " + helpText)
	}
	var sb strings.Builder
	answer := 0
	for _, t := range history {
		switch t.Role {
		case composer.RoleUser:
			sb.WriteString(userStyle.Render(composer.RoleLabel(t.Role)) + "\n" + t.Content + "\n\n")
		default:
			sb.WriteString(assistantStyle.Render(composer.RoleLabel(composer.RoleAssistant)) + "\n" + t.Content + "\n\n")
			if m.showSources {
				for _, block := range m.sources[answer] {
					sb.WriteString(sourceStyle.Render(block) + "\n")
				}
			}
			answer++
		}
	}
	return sb.String()
}

func (m Model) View() string {
	if !m.ready {
		return "Connecting to Knowledge Base..."
	}
	header := titleStyle.Render("Ask Your AI Knowledge Base") + "  " + captionStyle.Render(m.caption)

	status := statusStyle.Render(m.status)
	if m.statusErr {
		status = errorStyle.Render(m.status)
	}
	if m.busy != "" {
		status = m.spinner.View() + " " + m.busy
	}

	return header + "\n" +
		transcriptStyle.Render(m.viewport.View()) + "\n" +
		m.input.View() + "\n" +
		status
}

var (
	titleStyle      = lipgloss.NewStyle().Bold(true)
	captionStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	transcriptStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	userStyle       = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	assistantStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	sourceStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).PaddingLeft(2)
	hintStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	statusStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errorStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)
