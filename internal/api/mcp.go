package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/kbchat/internal/ingest"
	"github.com/kalambet/kbchat/internal/pipeline"
	"github.com/kalambet/kbchat/internal/retrieval"
)

const maxSearchLimit = 50

// MCPSearcher returns passages for a query without calling the model.
type MCPSearcher interface {
	Search(ctx context.Context, query string, topK int) ([]retrieval.ContextChunk, error)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Sessions *pipeline.Sessions
	Ingester pipeline.Ingester
	Searcher MCPSearcher
	Status   StatusFunc
}

// NewMCPServer creates an MCP server exposing the knowledge base as tools.
func NewMCPServer(deps MCPDeps, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"kbchat",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("kbchat answers questions from a knowledge base of uploaded documents."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("add_document",
			mcp.WithDescription("Add a document (pdf, docx or txt) to the knowledge base."),
			mcp.WithString("name", mcp.Description("File name; the extension selects the parser"), mcp.Required()),
			mcp.WithString("content", mcp.Description("Document content: plain text, or base64 when encoding is base64"), mcp.Required()),
			mcp.WithString("encoding", mcp.Description("text (default) or base64")),
		),
		mcpAddDocument(deps),
	)

	s.AddTool(
		mcp.NewTool("ask",
			mcp.WithDescription("Ask a question answered only from the knowledge base. Pass session_id to continue a conversation."),
			mcp.WithString("question", mcp.Description("The question"), mcp.Required()),
			mcp.WithString("session_id", mcp.Description("Existing session ID; omitted starts a new session")),
		),
		mcpAsk(deps),
	)

	s.AddTool(
		mcp.NewTool("search",
			mcp.WithDescription("Return the stored passages most similar to a query."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of passages (default 4)")),
		),
		mcpSearch(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"kb://status",
			"Knowledge Base Status",
			mcp.WithResourceDescription("Active vector store backend, passage count and models"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceStatus(deps),
	)

	return s
}

func mcpAddDocument(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := req.RequireString("name")
		if err != nil {
			return mcpError("name is required"), nil
		}
		content, err := req.RequireString("content")
		if err != nil {
			return mcpError("content is required"), nil
		}

		var data []byte
		switch enc := req.GetString("encoding", "text"); enc {
		case "text", "":
			data = []byte(content)
			if filepath.Ext(name) == "" {
				name += ".txt"
			}
		case "base64":
			data, err = base64.StdEncoding.DecodeString(content)
			if err != nil {
				return mcpError("invalid base64 content"), nil
			}
		default:
			return mcpError(fmt.Sprintf("unknown encoding %q", enc)), nil
		}

		res, err := deps.Ingester.AddFiles(ctx, []ingest.File{{Name: name, Data: data}})
		if err != nil {
			return mcpError(err.Error()), nil
		}
		return mcpText(res.Message()), nil
	}
}

func mcpAsk(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		question = strings.TrimSpace(question)
		if err != nil || question == "" {
			return mcpError("question is required"), nil
		}

		sess, err := deps.Sessions.GetOrCreate(req.GetString("session_id", ""))
		if err != nil {
			return mcpError(err.Error()), nil
		}

		ans, err := sess.Ask(ctx, question)
		if err != nil {
			return mcpError(fmt.Sprintf("ask failed: %v", err)), nil
		}

		b, err := json.Marshal(AskResponse{
			SessionID:  sess.ID,
			Answer:     ans.Text,
			Sources:    toSources(ans.Sources),
			DurationMs: ans.DurationMs,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal answer: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpSearch(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", retrieval.DefaultTopK)
		if limit <= 0 {
			limit = retrieval.DefaultTopK
		}
		if limit > maxSearchLimit {
			limit = maxSearchLimit
		}

		chunks, err := deps.Searcher.Search(ctx, query, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}

		b, err := json.Marshal(toSources(chunks))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceStatus(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		if deps.Status == nil {
			return nil, fmt.Errorf("status not available")
		}
		st, err := deps.Status(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read status: %w", err)
		}
		b, err := json.Marshal(st)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal status: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
