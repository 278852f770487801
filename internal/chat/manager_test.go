package chat

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"productos/api/internal/store"
	"productos/api/internal/workspace"
)

// fakeCompleter plays back scripted chunks, or fails, or blocks until its
// context is cancelled.
type fakeCompleter struct {
	chunks []string
	err    error
	block  bool
}

func (f *fakeCompleter) StreamCompletion(ctx context.Context, _ CompletionRequest, onChunk func(string)) error {
	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if f.err != nil {
		return f.err
	}
	for _, chunk := range f.chunks {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		onChunk(chunk)
	}
	return nil
}

func newTestManager(t *testing.T, completer Completer) (*Manager, *workspace.Store) {
	t.Helper()
	ws := workspace.New(store.NewMemoryStore())
	if err := ws.FetchAll(context.Background(), "usr_chat"); err != nil {
		t.Fatalf("FetchAll failed: %v", err)
	}
	m := NewManager(completer, NewMemorySessionStore(), ws, "gpt-4o-mini")
	if err := m.Load(context.Background(), "usr_chat"); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	return m, ws
}

func TestCreateSession(t *testing.T) {
	m, _ := newTestManager(t, &fakeCompleter{})

	first := m.CreateSession("")
	second := m.CreateSession("")

	if !strings.HasPrefix(first, "chat_") {
		t.Errorf("expected chat_ id, got %s", first)
	}
	if m.CurrentID() != second {
		t.Errorf("expected new session to become current, got %s", m.CurrentID())
	}
	sessions := m.Sessions()
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
	if sessions[0].ID != second {
		t.Error("expected newest session first")
	}
	if sessions[0].Title != "New conversation" {
		t.Errorf("expected default title, got %q", sessions[0].Title)
	}
}

func TestCreateSessionWithProjectTitle(t *testing.T) {
	m, ws := newTestManager(t, &fakeCompleter{})
	projectID, err := ws.AddProject(context.Background(), workspace.AddProjectInput{Name: "Atlas"})
	if err != nil {
		t.Fatalf("AddProject failed: %v", err)
	}

	id := m.CreateSession(projectID)
	if title := m.Sessions()[0].Title; title != "Project chat: Atlas" {
		t.Errorf("expected project title, got %q", title)
	}
	if session := m.Sessions()[0]; session.ID != id || session.ProjectID != projectID {
		t.Errorf("expected project link on session, got %+v", session)
	}
}

func TestSwitchSession(t *testing.T) {
	m, _ := newTestManager(t, &fakeCompleter{})
	first := m.CreateSession("")
	m.CreateSession("")

	if !m.SwitchSession(first) {
		t.Fatal("expected switch to known session to succeed")
	}
	if m.CurrentID() != first {
		t.Errorf("expected current %s, got %s", first, m.CurrentID())
	}
	if m.SwitchSession("chat_missing") {
		t.Error("expected switch to unknown session to fail")
	}
	if m.CurrentID() != first {
		t.Error("expected failed switch to leave current unchanged")
	}
}

func TestDeleteSession(t *testing.T) {
	m, _ := newTestManager(t, &fakeCompleter{})
	first := m.CreateSession("")
	second := m.CreateSession("")

	m.DeleteSession(second)
	if m.CurrentID() != "" {
		t.Error("expected deleting the current session to clear the active view")
	}
	if len(m.Sessions()) != 1 {
		t.Fatalf("expected 1 session, got %d", len(m.Sessions()))
	}

	m.DeleteSession(first)
	m.DeleteSession(first) // second delete is a no-op
	if len(m.Sessions()) != 0 {
		t.Error("expected all sessions removed")
	}
}

func TestSendMessageStreams(t *testing.T) {
	m, _ := newTestManager(t, &fakeCompleter{chunks: []string{"Hel", "lo", "!"}})

	var streamed []string
	final, err := m.SendMessage(context.Background(), "hi there", nil, ModePrompt, Options{}, func(chunk string) {
		streamed = append(streamed, chunk)
	})
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if final.Content != "Hello!" {
		t.Errorf("expected final content %q, got %q", "Hello!", final.Content)
	}
	if len(streamed) != 3 {
		t.Errorf("expected 3 deltas, got %v", streamed)
	}

	messages := m.Messages()
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
	if messages[0].Role != RoleUser || messages[0].Content != "hi there" {
		t.Errorf("unexpected user message: %+v", messages[0])
	}
	if messages[1].Role != RoleAssistant || messages[1].Content != "Hello!" {
		t.Errorf("unexpected assistant message: %+v", messages[1])
	}
	if m.State() != StateIdle {
		t.Errorf("expected idle after turn, got %s", m.State())
	}
}

func TestSendMessageCreatesSessionAndRetitles(t *testing.T) {
	m, _ := newTestManager(t, &fakeCompleter{chunks: []string{"ok"}})

	if _, err := m.SendMessage(context.Background(), "Draft a launch plan for the payments migration", nil, ModePrompt, Options{}, nil); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	sessions := m.Sessions()
	if len(sessions) != 1 {
		t.Fatalf("expected a session to be created, got %d", len(sessions))
	}
	if sessions[0].Title != "Draft a launch plan for the pa..." {
		t.Errorf("expected title derived from first message, got %q", sessions[0].Title)
	}
}

func TestSendMessageKeepsProjectTitle(t *testing.T) {
	m, ws := newTestManager(t, &fakeCompleter{chunks: []string{"ok"}})
	projectID, err := ws.AddProject(context.Background(), workspace.AddProjectInput{Name: "Atlas"})
	if err != nil {
		t.Fatalf("AddProject failed: %v", err)
	}
	m.CreateSession(projectID)

	if _, err := m.SendMessage(context.Background(), "first message", nil, ModePrompt, Options{}, nil); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if title := m.Sessions()[0].Title; title != "Project chat: Atlas" {
		t.Errorf("expected project title preserved, got %q", title)
	}
}

func TestSendMessageInlinesAttachment(t *testing.T) {
	m, _ := newTestManager(t, &fakeCompleter{chunks: []string{"ok"}})

	file := &Attachment{Name: "notes.txt", Content: "remember the launch date"}
	if _, err := m.SendMessage(context.Background(), "summarize this", file, ModePrompt, Options{}, nil); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	user := m.Messages()[0].Content
	if !strings.Contains(user, "[Attached file: notes.txt]") || !strings.Contains(user, "remember the launch date") {
		t.Errorf("expected attachment inlined into the user message, got %q", user)
	}
}

func TestSendMessageCancellation(t *testing.T) {
	completer := &fakeCompleter{block: true}
	m, _ := newTestManager(t, completer)

	done := make(chan struct{})
	var final Message
	var err error
	go func() {
		final, err = m.SendMessage(context.Background(), "hi", nil, ModePrompt, Options{}, nil)
		close(done)
	}()

	// Wait for the turn to register before stopping it.
	for m.State() == StateIdle {
		time.Sleep(time.Millisecond)
	}
	m.Stop()
	<-done

	if err != nil {
		t.Fatalf("expected cancellation to be soft, got %v", err)
	}
	if !strings.Contains(final.Content, "Generation interrupted by user") {
		t.Errorf("expected interruption marker, got %q", final.Content)
	}
	if m.State() != StateIdle {
		t.Errorf("expected idle after stop, got %s", m.State())
	}
}

func TestSendMessageFailure(t *testing.T) {
	m, _ := newTestManager(t, &fakeCompleter{err: errors.New("upstream unavailable")})

	final, err := m.SendMessage(context.Background(), "hi", nil, ModePrompt, Options{}, nil)
	if err == nil {
		t.Fatal("expected SendMessage to return the failure")
	}
	if !strings.HasPrefix(final.Content, "❌ Error:") {
		t.Errorf("expected inline error notice, got %q", final.Content)
	}
}

func TestStopWhileIdle(t *testing.T) {
	m, _ := newTestManager(t, &fakeCompleter{})
	m.Stop()
	m.Stop()
	if m.State() != StateIdle {
		t.Errorf("expected idle, got %s", m.State())
	}
}

func TestLoadRestoresPersistedSessions(t *testing.T) {
	sessionStore := NewMemorySessionStore()
	ws := workspace.New(store.NewMemoryStore())
	if err := ws.FetchAll(context.Background(), "usr_chat"); err != nil {
		t.Fatalf("FetchAll failed: %v", err)
	}

	m := NewManager(&fakeCompleter{chunks: []string{"ok"}}, sessionStore, ws, "gpt-4o-mini")
	if err := m.Load(context.Background(), "usr_chat"); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	id := m.CreateSession("")
	if _, err := m.SendMessage(context.Background(), "hi", nil, ModePrompt, Options{}, nil); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	fresh := NewManager(&fakeCompleter{}, sessionStore, ws, "gpt-4o-mini")
	if err := fresh.Load(context.Background(), "usr_chat"); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	sessions := fresh.Sessions()
	if len(sessions) != 1 || sessions[0].ID != id {
		t.Fatalf("expected persisted session restored, got %v", sessions)
	}
	if len(sessions[0].Messages) != 2 {
		t.Errorf("expected message history restored, got %d messages", len(sessions[0].Messages))
	}
	if fresh.CurrentID() != "" {
		t.Error("expected no current session after load")
	}
}
