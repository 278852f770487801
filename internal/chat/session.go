// Package chat manages AI conversation sessions: message history,
// persistence, and token-by-token streaming from the completion endpoint.
package chat

import (
	"regexp"
	"strings"
	"time"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry in a session's append-ordered history.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Session is one persisted conversation thread, optionally linked to a
// project.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	ProjectID string    `json:"projectId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Mode selects the assistant's behavioral contract.
type Mode string

const (
	ModePrompt Mode = "prompt"
	ModeDebug  Mode = "debug"
	ModeIdea   Mode = "idea"
)

// Options toggles optional prompt features.
type Options struct {
	Reasoning bool `json:"reasoning"`
	WebSearch bool `json:"webSearch"`
}

// Attachment is a file whose content is inlined into the user message.
type Attachment struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

const (
	defaultTitle    = "New conversation"
	titleBudget     = 30
	interruptedNote = "\n\n*[Generation interrupted by user]*"
)

// deriveTitle truncates the first user message to the title budget.
func deriveTitle(content string) string {
	runes := []rune(strings.TrimSpace(content))
	if len(runes) <= titleBudget {
		return string(runes)
	}
	return string(runes[:titleBudget]) + "..."
}

var thinkingPattern = regexp.MustCompile(`(?s)<thinking>.*?</thinking>`)

// StripThinking removes delimited thinking segments from assistant content
// before display.
func StripThinking(content string) string {
	return strings.TrimSpace(thinkingPattern.ReplaceAllString(content, ""))
}
