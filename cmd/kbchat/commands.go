package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/kalambet/kbchat/internal/api"
	"github.com/kalambet/kbchat/internal/composer"
	"github.com/kalambet/kbchat/internal/config"
	"github.com/kalambet/kbchat/internal/ingest"
	"github.com/kalambet/kbchat/internal/loader"
	"github.com/kalambet/kbchat/internal/pipeline"
	"github.com/kalambet/kbchat/internal/retrieval"
	"github.com/kalambet/kbchat/internal/tui"
)

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest <file>...",
	Short: "Add pdf, docx or txt files to the knowledge base",
	Long: `Add documents to the knowledge base of the running server.

Supported extensions: ` + strings.Join(loader.Extensions(), ", ") + `

Every file is read and split before anything is stored, so one unreadable
file leaves the knowledge base unchanged.

Examples:
  kbchat ingest ./handbook.pdf
  kbchat ingest notes.txt minutes.docx`,
	RunE: func(cmd *cobra.Command, args []string) error {
		files, err := tui.ReadFiles(args)
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		printStep("Processing and adding documents...")
		res, err := ingestFiles(cmd.Context(), client, files)
		if err != nil {
			return err
		}
		printSuccess("%s", res.Message)
		return nil
	},
}

func ingestFiles(ctx context.Context, c *apiClient, files []ingest.File) (api.IngestResponse, error) {
	var res api.IngestResponse
	resp, err := c.upload(ctx, "/documents", files)
	if err != nil {
		return res, err
	}
	err = decodeJSON(resp, &res)
	return res, err
}

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question answered from the knowledge base",
	Long: `Ask a question answered only from the uploaded documents.

Without --session a new conversation is started and its ID printed, so
follow-up questions can pass it back.

Examples:
  kbchat ask "What is the refund policy?"
  kbchat ask --session 3f2a... "And for digital goods?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID, _ := cmd.Flags().GetString("session")
		showSources, _ := cmd.Flags().GetBool("sources")
		question := strings.Join(args, " ")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		ans, err := askQuestion(cmd.Context(), client, sessionID, question)
		if err != nil {
			return err
		}

		printAnswer(ans.Answer, sourceBlocks(ans.Sources), showSources)
		if sessionID == "" {
			printStatus("Session", "%s (pass --session to continue)", ans.SessionID)
		}
		return nil
	},
}

func init() {
	askCmd.Flags().String("session", "", "continue an existing session")
	askCmd.Flags().Bool("sources", false, "print the passages the answer was drawn from")
}

// askQuestion asks within sessionID, creating a session first when it is empty.
func askQuestion(ctx context.Context, c *apiClient, sessionID, question string) (api.AskResponse, error) {
	var ans api.AskResponse
	if sessionID == "" {
		resp, err := c.post(ctx, "/sessions", nil)
		if err != nil {
			return ans, err
		}
		var info api.SessionInfo
		if err := decodeJSON(resp, &info); err != nil {
			return ans, fmt.Errorf("creating session: %w", err)
		}
		sessionID = info.ID
	}

	resp, err := c.post(ctx, "/sessions/"+url.PathEscape(sessionID)+"/ask", api.AskRequest{Question: question})
	if err != nil {
		return ans, err
	}
	err = decodeJSON(resp, &ans)
	return ans, err
}

func sourceBlocks(sources []api.Source) []string {
	chunks := make([]retrieval.ContextChunk, len(sources))
	for i, s := range sources {
		chunks[i] = retrieval.ContextChunk{ID: s.ID, Source: s.Source, Position: s.Position, Text: s.Text, Score: s.Score}
	}
	return pipeline.Answer{Sources: chunks}.SourceBlocks()
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Print the conversation of a session",
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID, _ := cmd.Flags().GetString("session")
		if sessionID == "" {
			return fmt.Errorf("--session is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/sessions/"+url.PathEscape(sessionID)+"/history")
		if err != nil {
			return err
		}
		var info api.SessionInfo
		if err := decodeJSON(resp, &info); err != nil {
			return err
		}

		if len(info.History) == 0 {
			printWarning("No messages yet")
			return nil
		}
		for _, t := range info.History {
			fmt.Fprintf(stdout, "%s\n%s\n\n", colorize(colorBold, composer.RoleLabel(t.Role)), t.Content)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().String("session", "", "session ID")
}

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Open the interactive chat (runs its own knowledge base)",
	Long: `Open the interactive chat.

The chat builds its own knowledge base in this process; it does not talk
to a running kbchat serve. Upload documents with /add inside the chat.
Logs are written to kbchat.log in the data directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat()
	},
}

func runChat() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}
	logFile, err := os.OpenFile(filepath.Join(cfg.Storage.DataDir, "kbchat.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	defer logFile.Close()
	setupLogging(cfg.Log.Level, logFile)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	printStep("Connecting to Knowledge Base...")
	a, err := buildApp(ctx, cfg, stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	session := a.sessions.Create()
	m := tui.New(ctx, session, a.backend.ConnectedCaption(), a.storeMsg)
	if _, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	return nil
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		fmt.Fprintf(stdout, "# %s\n", config.Path())
		for _, k := range config.ShowAll(cfg) {
			line := fmt.Sprintf("  %s = %s", colorize(colorBold, k.Key), k.Value)
			if k.Secret {
				line += colorize(colorGray, "  (env "+k.EnvVar+")")
			}
			fmt.Fprintln(stdout, line)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: "Set a configuration value in the config file.\n\nKeys: " + strings.Join(config.ValidKeys(), ", ") +
		"\n\nSecrets are read from the environment or .env only.",
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if err := config.SetKey(key, value); err != nil {
			return err
		}
		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
