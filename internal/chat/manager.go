package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"productos/api/internal/util"
	"productos/api/internal/workspace"
)

// State is the manager's conversation-turn state. Aborted and errored are
// transitions, not resting states: both land back in idle.
type State string

const (
	StateIdle      State = "idle"
	StateSending   State = "sending"
	StateStreaming State = "streaming"
)

// ProjectSource supplies project context for prompts and titles. The
// workspace store satisfies it.
type ProjectSource interface {
	Projects() []workspace.Project
	GetProject(id string) (workspace.Project, bool)
}

// Manager owns one user's chat sessions. At most one completion request is
// in flight per manager; starting a new turn cancels the previous one.
type Manager struct {
	completer Completer
	store     SessionStore
	projects  ProjectSource
	model     string

	mu        sync.Mutex
	userID    string
	sessions  []Session
	currentID string
	state     State
	cancel    context.CancelFunc
	turn      uint64
}

func NewManager(completer Completer, store SessionStore, projects ProjectSource, model string) *Manager {
	return &Manager{
		completer: completer,
		store:     store,
		projects:  projects,
		model:     model,
		state:     StateIdle,
	}
}

// Load restores the user's persisted session collection. It runs at session
// start and on user change.
func (m *Manager) Load(ctx context.Context, userID string) error {
	sessions, err := m.store.LoadSessions(ctx, userID)
	if err != nil {
		return fmt.Errorf("load sessions: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.userID = userID
	m.sessions = sessions
	m.currentID = ""
	return nil
}

// CreateSession allocates an empty session, prepends it to the list and
// makes it current.
func (m *Manager) CreateSession(projectID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createSessionLocked(projectID)
}

func (m *Manager) createSessionLocked(projectID string) string {
	title := defaultTitle
	if projectID != "" {
		if project, ok := m.projects.GetProject(projectID); ok {
			title = "Project chat: " + project.Name
		}
	}
	now := time.Now().UTC()
	session := Session{
		ID:        util.NewID("chat"),
		Title:     title,
		Messages:  []Message{},
		ProjectID: projectID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.sessions = append([]Session{session}, m.sessions...)
	m.currentID = session.ID
	m.persistLocked()
	return session.ID
}

// SwitchSession makes the named session current. Unknown ids are a no-op.
func (m *Manager) SwitchSession(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessionIndexLocked(id) < 0 {
		return false
	}
	m.currentID = id
	return true
}

// DeleteSession removes the session; if it was current, the active view is
// cleared.
func (m *Manager) DeleteSession(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.sessionIndexLocked(id)
	if idx < 0 {
		return
	}
	m.sessions = append(m.sessions[:idx], m.sessions[idx+1:]...)
	if m.currentID == id {
		m.currentID = ""
	}
	m.persistLocked()
}

// Sessions returns a snapshot of the session list, newest first.
func (m *Manager) Sessions() []Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Session, len(m.sessions))
	for i, session := range m.sessions {
		out[i] = session
		out[i].Messages = append([]Message{}, session.Messages...)
	}
	return out
}

// CurrentID returns the current session id, empty when none is active.
func (m *Manager) CurrentID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentID
}

// Messages returns the current session's message list.
func (m *Manager) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.sessionIndexLocked(m.currentID)
	if idx < 0 {
		return []Message{}
	}
	return append([]Message{}, m.sessions[idx].Messages...)
}

// State reports the current turn state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Stop cancels the in-flight request if any. Calling it while idle has no
// observable effect.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
}

// SendMessage runs one conversation turn: it appends the user message (with
// any attachment inlined as a fenced block) and an empty assistant
// placeholder, then streams the completion into the placeholder, invoking
// onDelta for every increment. It blocks until the stream finishes, is
// cancelled, or fails.
//
// Cancellation (Stop or a superseding SendMessage) is soft: an inline
// interruption marker is appended and no error is returned. Any other
// failure replaces the placeholder with an inline error notice and returns
// the error.
func (m *Manager) SendMessage(ctx context.Context, text string, file *Attachment, mode Mode, opts Options, onDelta func(chunk string)) (Message, error) {
	if onDelta == nil {
		onDelta = func(string) {}
	}

	m.mu.Lock()
	// One in-flight request per manager: supersede the previous turn.
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	turnCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.turn++
	turn := m.turn
	m.state = StateSending

	if m.sessionIndexLocked(m.currentID) < 0 {
		m.createSessionLocked("")
	}
	sessionID := m.currentID
	idx := m.sessionIndexLocked(sessionID)

	userContent := text
	if file != nil {
		userContent += fmt.Sprintf("\n\n[Attached file: %s]\n```\n%s\n```", file.Name, file.Content)
	}

	firstMessage := len(m.sessions[idx].Messages) == 0
	m.sessions[idx].Messages = append(m.sessions[idx].Messages, Message{Role: RoleUser, Content: userContent})
	if firstMessage && m.sessions[idx].Title == defaultTitle {
		m.sessions[idx].Title = deriveTitle(text)
	}
	m.sessions[idx].Messages = append(m.sessions[idx].Messages, Message{Role: RoleAssistant, Content: ""})
	placeholderIdx := len(m.sessions[idx].Messages) - 1
	m.sessions[idx].UpdatedAt = time.Now().UTC()
	m.persistLocked()

	history := append([]Message{}, m.sessions[idx].Messages[:placeholderIdx]...)
	m.mu.Unlock()

	request := CompletionRequest{
		Model:       m.model,
		Messages:    append([]Message{{Role: RoleSystem, Content: buildSystemPrompt(m.projects.Projects(), mode, opts)}}, history...),
		Temperature: temperatureFor(mode),
	}

	err := m.completer.StreamCompletion(turnCtx, request, func(chunk string) {
		m.mu.Lock()
		if m.turn == turn {
			m.state = StateStreaming
		}
		m.appendToMessageLocked(sessionID, placeholderIdx, chunk)
		m.mu.Unlock()
		onDelta(chunk)
	})

	cancel()

	m.mu.Lock()
	defer m.mu.Unlock()
	// A superseding turn owns the state and cancel func now; only the
	// latest turn returns the manager to idle.
	if m.turn == turn {
		m.cancel = nil
		m.state = StateIdle
	}

	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		m.appendToMessageLocked(sessionID, placeholderIdx, interruptedNote)
		err = nil
	default:
		m.replaceMessageLocked(sessionID, placeholderIdx, "❌ Error: "+err.Error())
	}
	m.persistLocked()

	final := Message{Role: RoleAssistant}
	if idx := m.sessionIndexLocked(sessionID); idx >= 0 && placeholderIdx < len(m.sessions[idx].Messages) {
		final = m.sessions[idx].Messages[placeholderIdx]
	}
	return final, err
}

// appendToMessageLocked must be called with the mutex held.
func (m *Manager) appendToMessageLocked(sessionID string, messageIdx int, chunk string) {
	idx := m.sessionIndexLocked(sessionID)
	if idx < 0 || messageIdx >= len(m.sessions[idx].Messages) {
		return
	}
	m.sessions[idx].Messages[messageIdx].Content += chunk
	m.sessions[idx].UpdatedAt = time.Now().UTC()
}

func (m *Manager) replaceMessageLocked(sessionID string, messageIdx int, content string) {
	idx := m.sessionIndexLocked(sessionID)
	if idx < 0 || messageIdx >= len(m.sessions[idx].Messages) {
		return
	}
	m.sessions[idx].Messages[messageIdx].Content = content
	m.sessions[idx].UpdatedAt = time.Now().UTC()
}

func (m *Manager) sessionIndexLocked(id string) int {
	if id == "" {
		return -1
	}
	for i := range m.sessions {
		if m.sessions[i].ID == id {
			return i
		}
	}
	return -1
}

// persistLocked writes the whole collection through the store. Persistence
// failures are logged, never fatal to the turn.
func (m *Manager) persistLocked() {
	if m.userID == "" {
		return
	}
	sessions := make([]Session, len(m.sessions))
	copy(sessions, m.sessions)
	if err := m.store.SaveSessions(context.Background(), m.userID, sessions); err != nil {
		log.Printf("chat: persist sessions: %v", err)
	}
}
