// Package composer renders the prompt sent to the language model: chat
// history, retrieved passages and the question, wrapped in fixed
// instructions that restrict the model to the supplied context.
package composer

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/kalambet/kbchat/internal/retrieval"
)

// RefusalMessage is what the model is told to answer when the context does
// not contain the answer.
const RefusalMessage = "I could not find the answer in the provided document."

// NoHistory stands in for an empty conversation.
const NoHistory = "No past conversation history."

const contextSeparator = "\n---------------------------------\n"

// promptTemplate placeholders are filled in one pass, so braces inside the
// substituted text are never expanded.
const promptTemplate = `
You are a helpful AI assistant. Your goal is to answer the user's question based ONLY on the provided context.
If the answer is not found in the context, say "` + RefusalMessage + `" and nothing more.

---
CHAT HISTORY:
{chat_history}
---
CONTEXT FROM DOCUMENT:
{context}
---
USER'S QUESTION:
{question}
---
YOUR ANSWER:
`

// Roles of a chat turn.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one message in the conversation log.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// FormatChatHistory renders each turn as "Role: content\n" with the role
// capitalized. An empty history renders as NoHistory.
func FormatChatHistory(history []Turn) string {
	if len(history) == 0 {
		return NoHistory
	}
	var sb strings.Builder
	for _, t := range history {
		sb.WriteString(RoleLabel(t.Role))
		sb.WriteString(": ")
		sb.WriteString(t.Content)
		sb.WriteString("\n")
	}
	return sb.String()
}

// FormatContext numbers each passage from 1 and separates them with a
// dashed rule. No passages render as the empty string.
func FormatContext(chunks []retrieval.ContextChunk) string {
	parts := make([]string, len(chunks))
	for i, ch := range chunks {
		parts[i] = fmt.Sprintf("--- Relevant Document %d ---\n%s", i+1, ch.Text)
	}
	return strings.Join(parts, contextSeparator)
}

// BuildPrompt fills the template. The question is inserted verbatim.
func BuildPrompt(question string, chunks []retrieval.ContextChunk, history []Turn) string {
	return strings.NewReplacer(
		"{chat_history}", FormatChatHistory(history),
		"{context}", FormatContext(chunks),
		"{question}", question,
	).Replace(promptTemplate)
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// RoleLabel is how a role is shown to people: first letter upper-cased, the
// rest lower-cased ("assistant" -> "Assistant").
func RoleLabel(s string) string {
	if s == "" {
		return s
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToTitle(r)) + strings.ToLower(s[size:])
}
