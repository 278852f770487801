package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"productos/api/internal/authpw"
	"productos/api/internal/chat"
	"productos/api/internal/config"
	"productos/api/internal/security"
	"productos/api/internal/store"
)

type scriptedCompleter struct {
	chunks []string
}

func (c *scriptedCompleter) StreamCompletion(_ context.Context, _ chat.CompletionRequest, onChunk func(string)) error {
	for _, chunk := range c.chunks {
		onChunk(chunk)
	}
	return nil
}

type testEnv struct {
	server  *httptest.Server
	service *Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithCompleter(t, &scriptedCompleter{chunks: []string{"Hel", "lo"}})
}

func newTestEnvWithCompleter(t *testing.T, completer chat.Completer) *testEnv {
	t.Helper()
	db := store.NewMemoryStore()
	limiter := security.NewLimiter(security.NewMemoryCounterStore(), 3, time.Minute)
	audit := security.NewAuditLogger(security.NewMemoryEventStore())
	auth := authpw.NewService(db, db, limiter, audit, "test-secret", 15*time.Minute, 7*24*time.Hour)

	cfg := config.Config{ChatModel: "gpt-4o-mini"}
	service := New(cfg, db, auth, nil, nil, chat.NewMemorySessionStore(), completer)

	server := httptest.NewServer(NewHTTPServer(service, "*").Handler())
	t.Cleanup(server.Close)
	return &testEnv{server: server, service: service}
}

func (e *testEnv) request(t *testing.T, method, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	payload := map[string]any{}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &payload); err != nil {
			t.Fatalf("decode %s %s response %q: %v", method, path, raw, err)
		}
	}
	return resp, payload
}

func (e *testEnv) signIn(t *testing.T, email string) string {
	t.Helper()
	resp, payload := e.request(t, http.MethodPost, "/api/auth/signup", "", map[string]string{
		"email": email, "password": "Str0ng!Pass",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("signup returned %d: %v", resp.StatusCode, payload)
	}
	resp, payload = e.request(t, http.MethodPost, "/api/auth/signin", "", map[string]string{
		"email": email, "password": "Str0ng!Pass",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("signin returned %d: %v", resp.StatusCode, payload)
	}
	token, _ := payload["accessToken"].(string)
	if token == "" {
		t.Fatalf("signin payload missing access token: %v", payload)
	}
	return token
}

func TestHealthAndReady(t *testing.T) {
	env := newTestEnv(t)

	resp, payload := env.request(t, http.MethodGet, "/api/health", "", nil)
	if resp.StatusCode != http.StatusOK || payload["ok"] != true {
		t.Errorf("health returned %d: %v", resp.StatusCode, payload)
	}

	resp, payload = env.request(t, http.MethodGet, "/api/ready", "", nil)
	if resp.StatusCode != http.StatusOK || payload["status"] != "ready" {
		t.Errorf("ready returned %d: %v", resp.StatusCode, payload)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("expected a request id header")
	}
}

func TestSignUpValidation(t *testing.T) {
	env := newTestEnv(t)

	resp, payload := env.request(t, http.MethodPost, "/api/auth/signup", "", map[string]string{
		"email": "weak@example.com", "password": "short",
	})
	if resp.StatusCode != http.StatusUnprocessableEntity || payload["code"] != "WEAK_PASSWORD" {
		t.Errorf("expected 422 WEAK_PASSWORD, got %d %v", resp.StatusCode, payload)
	}

	resp, payload = env.request(t, http.MethodPost, "/api/auth/signup", "", map[string]string{
		"email": "not-an-email", "password": "Str0ng!Pass",
	})
	if resp.StatusCode != http.StatusUnprocessableEntity || payload["code"] != "VALIDATION_ERROR" {
		t.Errorf("expected 422 VALIDATION_ERROR, got %d %v", resp.StatusCode, payload)
	}
}

func TestSignUpDuplicateEmail(t *testing.T) {
	env := newTestEnv(t)
	env.signIn(t, "dup@example.com")

	resp, payload := env.request(t, http.MethodPost, "/api/auth/signup", "", map[string]string{
		"email": "dup@example.com", "password": "Str0ng!Pass",
	})
	if resp.StatusCode != http.StatusConflict || payload["code"] != "EMAIL_EXISTS" {
		t.Errorf("expected 409 EMAIL_EXISTS, got %d %v", resp.StatusCode, payload)
	}
}

func TestSignInWrongPassword(t *testing.T) {
	env := newTestEnv(t)
	env.signIn(t, "alice@example.com")

	resp, payload := env.request(t, http.MethodPost, "/api/auth/signin", "", map[string]string{
		"email": "alice@example.com", "password": "Wr0ng!Pass",
	})
	if resp.StatusCode != http.StatusUnauthorized || payload["code"] != "INVALID_CREDENTIALS" {
		t.Errorf("expected 401 INVALID_CREDENTIALS, got %d %v", resp.StatusCode, payload)
	}
}

func TestSignInRateLimited(t *testing.T) {
	env := newTestEnv(t)
	env.signIn(t, "alice@example.com")

	for i := 0; i < 3; i++ {
		env.request(t, http.MethodPost, "/api/auth/signin", "", map[string]string{
			"email": "alice@example.com", "password": "Wr0ng!Pass",
		})
	}
	resp, payload := env.request(t, http.MethodPost, "/api/auth/signin", "", map[string]string{
		"email": "alice@example.com", "password": "Str0ng!Pass",
	})
	if resp.StatusCode != http.StatusTooManyRequests || payload["code"] != "RATE_LIMITED" {
		t.Fatalf("expected 429 RATE_LIMITED, got %d %v", resp.StatusCode, payload)
	}
	details, _ := payload["details"].(map[string]any)
	if _, ok := details["retryAfterSeconds"]; !ok {
		t.Errorf("expected retryAfterSeconds in details, got %v", payload)
	}
}

func TestSessionEndpoint(t *testing.T) {
	env := newTestEnv(t)

	resp, payload := env.request(t, http.MethodGet, "/api/session", "", nil)
	if resp.StatusCode != http.StatusOK || payload["authenticated"] != false {
		t.Errorf("expected unauthenticated session, got %d %v", resp.StatusCode, payload)
	}

	token := env.signIn(t, "alice@example.com")
	resp, payload = env.request(t, http.MethodGet, "/api/session", token, nil)
	if resp.StatusCode != http.StatusOK || payload["authenticated"] != true || payload["email"] != "alice@example.com" {
		t.Errorf("expected authenticated session, got %d %v", resp.StatusCode, payload)
	}

	resp, payload = env.request(t, http.MethodGet, "/api/session", "garbage", nil)
	if resp.StatusCode != http.StatusOK || payload["authenticated"] != false {
		t.Errorf("expected invalid token to read as unauthenticated, got %d %v", resp.StatusCode, payload)
	}
}

func TestRefreshEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.signIn(t, "alice@example.com")

	resp, payload := env.request(t, http.MethodPost, "/api/auth/signin", "", map[string]string{
		"email": "alice@example.com", "password": "Str0ng!Pass",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("signin returned %d", resp.StatusCode)
	}
	refreshToken, _ := payload["refreshToken"].(string)

	resp, payload = env.request(t, http.MethodPost, "/api/auth/refresh", "", map[string]string{"refreshToken": refreshToken})
	if resp.StatusCode != http.StatusOK || payload["accessToken"] == "" {
		t.Errorf("expected refreshed session, got %d %v", resp.StatusCode, payload)
	}

	resp, payload = env.request(t, http.MethodPost, "/api/auth/refresh", "", map[string]string{"refreshToken": "bogus"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 for unknown refresh token, got %d %v", resp.StatusCode, payload)
	}
}

func TestRequireSession(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{"/api/projects", "/api/reminders", "/api/chat/sessions"} {
		resp, payload := env.request(t, http.MethodGet, path, "", nil)
		if resp.StatusCode != http.StatusUnauthorized || payload["code"] != "UNAUTHORIZED" {
			t.Errorf("%s: expected 401 UNAUTHORIZED, got %d %v", path, resp.StatusCode, payload)
		}
	}
}

func TestProjectLifecycle(t *testing.T) {
	env := newTestEnv(t)
	token := env.signIn(t, "alice@example.com")

	resp, payload := env.request(t, http.MethodPost, "/api/projects", token, map[string]any{})
	if resp.StatusCode != http.StatusUnprocessableEntity || payload["code"] != "VALIDATION_ERROR" {
		t.Fatalf("expected 422 for missing name, got %d %v", resp.StatusCode, payload)
	}

	resp, payload = env.request(t, http.MethodPost, "/api/projects", token, map[string]any{
		"name":        "Atlas",
		"category":    "saas",
		"description": "Internal tooling",
		"tags":        []string{"infra"},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create project returned %d: %v", resp.StatusCode, payload)
	}
	projectID, _ := payload["id"].(string)
	if projectID == "" || payload["status"] != "not_started" {
		t.Fatalf("unexpected project payload: %v", payload)
	}

	resp, payload = env.request(t, http.MethodGet, "/api/projects", token, nil)
	projects, _ := payload["projects"].([]any)
	if resp.StatusCode != http.StatusOK || len(projects) != 1 {
		t.Fatalf("list projects returned %d: %v", resp.StatusCode, payload)
	}

	resp, payload = env.request(t, http.MethodGet, "/api/projects/"+projectID, token, nil)
	if resp.StatusCode != http.StatusOK || payload["name"] != "Atlas" {
		t.Errorf("get project returned %d: %v", resp.StatusCode, payload)
	}

	resp, payload = env.request(t, http.MethodPatch, "/api/projects/"+projectID, token, map[string]any{
		"name":     "Atlas v2",
		"status":   "in_progress",
		"progress": 25,
	})
	if resp.StatusCode != http.StatusOK || payload["name"] != "Atlas v2" || payload["progress"] != float64(25) {
		t.Errorf("update project returned %d: %v", resp.StatusCode, payload)
	}

	resp, payload = env.request(t, http.MethodGet, "/api/projects/proj_missing", token, nil)
	if resp.StatusCode != http.StatusNotFound || payload["code"] != "NOT_FOUND" {
		t.Errorf("expected 404 for unknown project, got %d %v", resp.StatusCode, payload)
	}

	resp, _ = env.request(t, http.MethodDelete, "/api/projects/"+projectID, token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete project returned %d", resp.StatusCode)
	}
	resp, _ = env.request(t, http.MethodGet, "/api/projects/"+projectID, token, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected project gone after delete, got %d", resp.StatusCode)
	}
}

func TestBlockLifecycle(t *testing.T) {
	env := newTestEnv(t)
	token := env.signIn(t, "alice@example.com")

	_, payload := env.request(t, http.MethodPost, "/api/projects", token, map[string]any{"name": "Atlas"})
	projectID, _ := payload["id"].(string)

	resp, payload := env.request(t, http.MethodPost, "/api/projects/"+projectID+"/blocks", token, map[string]any{
		"type":     "checklist",
		"content":  "Ship the beta",
		"metadata": map[string]any{"status": "in_progress", "priority": "high"},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create block returned %d: %v", resp.StatusCode, payload)
	}
	blockID, _ := payload["id"].(string)
	if !strings.HasPrefix(blockID, "blk_") {
		t.Fatalf("unexpected block id %q", blockID)
	}

	resp, payload = env.request(t, http.MethodPost, "/api/projects/"+projectID+"/blocks", token, map[string]any{
		"type":     "checklist",
		"metadata": json.RawMessage(`"not an object"`),
	})
	if resp.StatusCode != http.StatusUnprocessableEntity || payload["code"] != "VALIDATION_ERROR" {
		t.Errorf("expected 422 for bad metadata, got %d %v", resp.StatusCode, payload)
	}

	resp, payload = env.request(t, http.MethodPatch, "/api/projects/"+projectID+"/blocks/"+blockID, token, map[string]any{
		"content": "Ship the beta to everyone",
	})
	if resp.StatusCode != http.StatusOK || payload["content"] != "Ship the beta to everyone" {
		t.Errorf("update block returned %d: %v", resp.StatusCode, payload)
	}

	resp, payload = env.request(t, http.MethodDelete, "/api/projects/"+projectID+"/blocks/blk_missing", token, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for unknown block, got %d %v", resp.StatusCode, payload)
	}

	resp, _ = env.request(t, http.MethodDelete, "/api/projects/"+projectID+"/blocks/"+blockID, token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete block returned %d", resp.StatusCode)
	}
}

func TestRemindersEndpoint(t *testing.T) {
	env := newTestEnv(t)
	token := env.signIn(t, "alice@example.com")

	_, payload := env.request(t, http.MethodPost, "/api/projects", token, map[string]any{"name": "Atlas"})
	projectID, _ := payload["id"].(string)

	due := time.Now().Add(24 * time.Hour).UTC().Format(time.RFC3339)
	resp, payload := env.request(t, http.MethodPost, "/api/projects/"+projectID+"/blocks", token, map[string]any{
		"type":     "reminder",
		"content":  "Renew the domain",
		"metadata": map[string]any{"dueDate": due},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create reminder returned %d: %v", resp.StatusCode, payload)
	}

	resp, payload = env.request(t, http.MethodGet, "/api/reminders", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reminders returned %d: %v", resp.StatusCode, payload)
	}
	reminders, _ := payload["reminders"].([]any)
	if len(reminders) != 1 {
		t.Fatalf("expected 1 reminder, got %v", payload)
	}
	reminder, _ := reminders[0].(map[string]any)
	if reminder["text"] != "Renew the domain" || reminder["projectName"] != "Atlas" {
		t.Errorf("unexpected reminder payload: %v", reminder)
	}
}

func TestSearchUnavailable(t *testing.T) {
	env := newTestEnv(t)
	token := env.signIn(t, "alice@example.com")

	resp, payload := env.request(t, http.MethodGet, "/api/search?q=atlas", token, nil)
	if resp.StatusCode != http.StatusServiceUnavailable || payload["code"] != "SEARCH_UNAVAILABLE" {
		t.Errorf("expected 503 SEARCH_UNAVAILABLE, got %d %v", resp.StatusCode, payload)
	}

	resp, payload = env.request(t, http.MethodGet, "/api/search?q=atlas&limit=ten", token, nil)
	if resp.StatusCode != http.StatusUnprocessableEntity || payload["code"] != "VALIDATION_ERROR" {
		t.Errorf("expected 422 for bad limit, got %d %v", resp.StatusCode, payload)
	}
}

func TestUploadUnavailable(t *testing.T) {
	env := newTestEnv(t)
	token := env.signIn(t, "alice@example.com")

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	part, _ := form.CreateFormFile("file", "notes.txt")
	fmt.Fprint(part, "hello")
	form.Close()

	req, _ := http.NewRequest(http.MethodPost, env.server.URL+"/api/uploads", &buf)
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503 without object storage, got %d", resp.StatusCode)
	}
}

func TestChatSessionEndpoints(t *testing.T) {
	env := newTestEnv(t)
	token := env.signIn(t, "alice@example.com")

	resp, payload := env.request(t, http.MethodPost, "/api/chat/sessions", token, map[string]any{})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create chat session returned %d: %v", resp.StatusCode, payload)
	}
	sessionID, _ := payload["id"].(string)
	if sessionID == "" {
		t.Fatal("missing session id")
	}

	resp, payload = env.request(t, http.MethodGet, "/api/chat/sessions", token, nil)
	sessions, _ := payload["sessions"].([]any)
	if resp.StatusCode != http.StatusOK || len(sessions) != 1 || payload["currentId"] != sessionID {
		t.Fatalf("list chat sessions returned %d: %v", resp.StatusCode, payload)
	}
	if payload["state"] != "idle" {
		t.Errorf("expected idle state, got %v", payload["state"])
	}

	resp, payload = env.request(t, http.MethodPost, "/api/chat/sessions/chat_missing/switch", token, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for unknown session switch, got %d %v", resp.StatusCode, payload)
	}

	resp, payload = env.request(t, http.MethodPost, "/api/chat/sessions/"+sessionID+"/switch", token, nil)
	if resp.StatusCode != http.StatusOK || payload["currentId"] != sessionID {
		t.Errorf("switch returned %d: %v", resp.StatusCode, payload)
	}

	resp, payload = env.request(t, http.MethodGet, "/api/chat/messages", token, nil)
	messages, _ := payload["messages"].([]any)
	if resp.StatusCode != http.StatusOK || len(messages) != 0 {
		t.Errorf("messages returned %d: %v", resp.StatusCode, payload)
	}

	resp, payload = env.request(t, http.MethodDelete, "/api/chat/sessions/"+sessionID, token, nil)
	if resp.StatusCode != http.StatusOK || payload["currentId"] != "" {
		t.Errorf("delete session returned %d: %v", resp.StatusCode, payload)
	}
}

func TestChatSendStreams(t *testing.T) {
	env := newTestEnv(t)
	token := env.signIn(t, "alice@example.com")

	body, _ := json.Marshal(map[string]any{"text": "hello", "mode": "prompt"})
	req, _ := http.NewRequest(http.MethodPost, env.server.URL+"/api/chat/send", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("chat send failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("chat send returned %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Errorf("expected event stream content type, got %q", ct)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	stream := string(raw)
	if !strings.Contains(stream, "event: delta") {
		t.Errorf("expected delta events, got %q", stream)
	}
	if !strings.Contains(stream, "event: done") || !strings.Contains(stream, "Hello") {
		t.Errorf("expected done event with the full message, got %q", stream)
	}

	// The completed turn is visible in the message history.
	resp2, payload := env.request(t, http.MethodGet, "/api/chat/messages", token, nil)
	messages, _ := payload["messages"].([]any)
	if resp2.StatusCode != http.StatusOK || len(messages) != 2 {
		t.Errorf("expected 2 messages after turn, got %v", payload)
	}
}

func TestChatMessagesHideThinking(t *testing.T) {
	env := newTestEnvWithCompleter(t, &scriptedCompleter{chunks: []string{
		"<thinking>weigh the options</thinking>", "Use feature flags.",
	}})
	token := env.signIn(t, "alice@example.com")

	body, _ := json.Marshal(map[string]any{"text": "how do we roll out?", "mode": "prompt"})
	req, _ := http.NewRequest(http.MethodPost, env.server.URL+"/api/chat/send", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("chat send failed: %v", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	resp2, payload := env.request(t, http.MethodGet, "/api/chat/messages", token, nil)
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("messages returned %d: %v", resp2.StatusCode, payload)
	}
	messages, _ := payload["messages"].([]any)
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %v", payload)
	}
	assistant, _ := messages[1].(map[string]any)
	content, _ := assistant["content"].(string)
	if strings.Contains(content, "<thinking>") {
		t.Errorf("thinking trace leaked into display payload: %q", content)
	}
	if !strings.Contains(content, "Use feature flags.") {
		t.Errorf("expected visible answer in display payload, got %q", content)
	}
}

func TestSecurityEventsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.request(t, http.MethodGet, "/api/security/events", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("expected 401 without a session, got %d", resp.StatusCode)
	}

	token := env.signIn(t, "alice@example.com")
	resp, payload := env.request(t, http.MethodGet, "/api/security/events", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("security events returned %d: %v", resp.StatusCode, payload)
	}
	events, _ := payload["events"].([]any)
	if len(events) == 0 {
		t.Fatal("expected audit events after signup and signin")
	}
	kinds := map[string]bool{}
	for _, raw := range events {
		event, _ := raw.(map[string]any)
		kind, _ := event["type"].(string)
		kinds[kind] = true
	}
	if !kinds["SIGNUP"] || !kinds["LOGIN_SUCCESS"] {
		t.Errorf("expected SIGNUP and LOGIN_SUCCESS events, got %v", kinds)
	}

	resp, payload = env.request(t, http.MethodGet, "/api/security/events?limit=zero", token, nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for a bad limit, got %d: %v", resp.StatusCode, payload)
	}
}

func TestChatSendRequiresText(t *testing.T) {
	env := newTestEnv(t)
	token := env.signIn(t, "alice@example.com")

	resp, payload := env.request(t, http.MethodPost, "/api/chat/send", token, map[string]any{"text": "  "})
	if resp.StatusCode != http.StatusUnprocessableEntity || payload["code"] != "VALIDATION_ERROR" {
		t.Errorf("expected 422 for blank text, got %d %v", resp.StatusCode, payload)
	}
}

func TestSignOutEvictsUserState(t *testing.T) {
	env := newTestEnv(t)
	token := env.signIn(t, "alice@example.com")

	env.request(t, http.MethodPost, "/api/projects", token, map[string]any{"name": "Atlas"})
	env.service.mu.Lock()
	cached := len(env.service.workspaces)
	env.service.mu.Unlock()
	if cached != 1 {
		t.Fatalf("expected 1 cached workspace, got %d", cached)
	}

	resp, payload := env.request(t, http.MethodPost, "/api/auth/signout", token, map[string]any{})
	if resp.StatusCode != http.StatusOK || payload["ok"] != true {
		t.Fatalf("signout returned %d: %v", resp.StatusCode, payload)
	}

	env.service.mu.Lock()
	cached = len(env.service.workspaces)
	env.service.mu.Unlock()
	if cached != 0 {
		t.Errorf("expected workspace evicted on signout, got %d cached", cached)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)
	token := env.signIn(t, "alice@example.com")

	_, payload := env.request(t, http.MethodPost, "/api/projects", token, map[string]any{"name": "Atlas"})
	projectID, _ := payload["id"].(string)

	resp, payload := env.request(t, http.MethodPost, "/api/projects/"+projectID, token, map[string]any{})
	if resp.StatusCode != http.StatusMethodNotAllowed || payload["code"] != "METHOD_NOT_ALLOWED" {
		t.Errorf("expected 405, got %d %v", resp.StatusCode, payload)
	}
}

func TestUnknownRoute(t *testing.T) {
	env := newTestEnv(t)
	token := env.signIn(t, "alice@example.com")
	resp, payload := env.request(t, http.MethodGet, "/api/nope", token, nil)
	if resp.StatusCode != http.StatusNotFound || payload["code"] != "NOT_FOUND" {
		t.Errorf("expected 404 NOT_FOUND, got %d %v", resp.StatusCode, payload)
	}
}
