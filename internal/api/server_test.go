package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/nida1khurram/todo-chatbot-phase3-sub001/internal/agent"
	"github.com/nida1khurram/todo-chatbot-phase3-sub001/internal/config"
	"github.com/nida1khurram/todo-chatbot-phase3-sub001/internal/llm"
	"github.com/nida1khurram/todo-chatbot-phase3-sub001/internal/session"
	"github.com/nida1khurram/todo-chatbot-phase3-sub001/internal/task"
	"github.com/nida1khurram/todo-chatbot-phase3-sub001/internal/tools"
)

// cannedClient always answers with the same decision or error.
type cannedClient struct {
	decision *llm.Decision
	err      error
}

func (c *cannedClient) Chat(ctx context.Context, messages []llm.Message, toolSchema []map[string]any) (*llm.Decision, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.decision, nil
}

func (c *cannedClient) Ping(ctx context.Context) error { return nil }

func testServer(t *testing.T, client llm.Client, rl config.RateLimitConfig) (*httptest.Server, *session.Store) {
	t.Helper()
	dir := t.TempDir()

	sessions, err := session.NewStore(filepath.Join(dir, "sessions.db"))
	if err != nil {
		t.Fatalf("session store: %v", err)
	}
	t.Cleanup(func() { sessions.Close() })

	ts, err := task.NewStore(filepath.Join(dir, "tasks.db"))
	if err != nil {
		t.Fatalf("task store: %v", err)
	}
	t.Cleanup(func() { ts.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.AgentConfig{HistoryLimit: 50, MaxToolIterations: 5, CompletionRetries: 1}
	loop := agent.NewLoop(logger, sessions, tools.NewRegistry(ts), client, cfg)

	verifier := StaticTokens{"alice-token": 1, "bob-token": 2}
	srv := NewServer(config.ListenConfig{}, loop, sessions, verifier, rl, logger)

	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(hs.Close)
	return hs, sessions
}

func doJSON(t *testing.T, method, url, token string, body any) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, data
}

func TestChatEndpoint(t *testing.T) {
	client := &cannedClient{decision: &llm.Decision{FinalAnswer: "done!"}}
	hs, _ := testServer(t, client, config.RateLimitConfig{})

	resp, body := doJSON(t, "POST", hs.URL+"/v1/chat", "alice-token", ChatRequest{Message: "hello"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, body)
	}

	var cr ChatResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cr.ConversationID == 0 {
		t.Error("missing conversation_id")
	}
	if cr.Response != "done!" {
		t.Errorf("response = %q", cr.Response)
	}
}

func TestChatRequiresAuth(t *testing.T) {
	client := &cannedClient{decision: &llm.Decision{FinalAnswer: "hi"}}
	hs, _ := testServer(t, client, config.RateLimitConfig{})

	for _, token := range []string{"", "wrong-token"} {
		resp, _ := doJSON(t, "POST", hs.URL+"/v1/chat", token, ChatRequest{Message: "hello"})
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("token %q: status = %d, want 401", token, resp.StatusCode)
		}
	}
}

func TestChatValidation(t *testing.T) {
	client := &cannedClient{decision: &llm.Decision{FinalAnswer: "hi"}}
	hs, _ := testServer(t, client, config.RateLimitConfig{})

	resp, _ := doJSON(t, "POST", hs.URL+"/v1/chat", "alice-token", ChatRequest{Message: "   "})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("blank message: status = %d, want 400", resp.StatusCode)
	}
}

func TestChatServiceUnavailable(t *testing.T) {
	client := &cannedClient{err: errors.New("connection refused")}
	hs, sessions := testServer(t, client, config.RateLimitConfig{})

	resp, body := doJSON(t, "POST", hs.URL+"/v1/chat", "alice-token", ChatRequest{Message: "hello?"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 (message was saved)", resp.StatusCode)
	}

	var cr ChatResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cr.ConversationID == 0 {
		t.Error("missing conversation_id")
	}
	if !strings.Contains(cr.Response, "saved") {
		t.Errorf("response = %q, want apologetic text", cr.Response)
	}

	turns, err := sessions.LoadTurns(cr.ConversationID, 1, 0)
	if err != nil {
		t.Fatalf("LoadTurns: %v", err)
	}
	if len(turns) != 1 || turns[0].Role != session.RoleUser {
		t.Fatalf("turns = %+v, want the user turn alone", turns)
	}
}

func TestHistoryOwnership(t *testing.T) {
	client := &cannedClient{decision: &llm.Decision{FinalAnswer: "noted"}}
	hs, _ := testServer(t, client, config.RateLimitConfig{})

	_, body := doJSON(t, "POST", hs.URL+"/v1/chat", "alice-token", ChatRequest{Message: "my secret plans"})
	var cr ChatResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	url := hs.URL + "/v1/conversations/" + strconv.FormatInt(cr.ConversationID, 10) + "/history"

	// Owner sees the transcript.
	resp, body := doJSON(t, "GET", url, "alice-token", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("owner status = %d", resp.StatusCode)
	}
	var hist struct {
		Turns []TurnView `json:"turns"`
	}
	if err := json.Unmarshal(body, &hist); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(hist.Turns) != 2 {
		t.Fatalf("turns = %d, want 2", len(hist.Turns))
	}
	if hist.Turns[0].Role != session.RoleUser || hist.Turns[1].Role != session.RoleAssistant {
		t.Errorf("roles = %q, %q", hist.Turns[0].Role, hist.Turns[1].Role)
	}

	// A different user gets 404, same as a missing conversation.
	resp, _ = doJSON(t, "GET", url, "bob-token", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("foreign status = %d, want 404", resp.StatusCode)
	}
	resp, _ = doJSON(t, "GET", hs.URL+"/v1/conversations/999999/history", "bob-token", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing status = %d, want 404", resp.StatusCode)
	}
}

func TestConversationListScoped(t *testing.T) {
	client := &cannedClient{decision: &llm.Decision{FinalAnswer: "ok"}}
	hs, _ := testServer(t, client, config.RateLimitConfig{})

	doJSON(t, "POST", hs.URL+"/v1/chat", "alice-token", ChatRequest{Message: "one"})
	doJSON(t, "POST", hs.URL+"/v1/chat", "alice-token", ChatRequest{Message: "two"})

	_, body := doJSON(t, "GET", hs.URL+"/v1/conversations", "bob-token", nil)
	var list struct {
		Conversations []ConversationView `json:"conversations"`
	}
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list.Conversations) != 0 {
		t.Errorf("bob sees %d conversations, want 0", len(list.Conversations))
	}

	_, body = doJSON(t, "GET", hs.URL+"/v1/conversations", "alice-token", nil)
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list.Conversations) != 2 {
		t.Errorf("alice sees %d conversations, want 2", len(list.Conversations))
	}
}

func TestExport(t *testing.T) {
	client := &cannedClient{decision: &llm.Decision{FinalAnswer: "all set"}}
	hs, _ := testServer(t, client, config.RateLimitConfig{})

	_, body := doJSON(t, "POST", hs.URL+"/v1/chat", "alice-token", ChatRequest{Message: "export me"})
	var cr ChatResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	base := hs.URL + "/v1/conversations/" + strconv.FormatInt(cr.ConversationID, 10) + "/export"

	resp, md := doJSON(t, "GET", base, "alice-token", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("markdown status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/markdown") {
		t.Errorf("content-type = %q", ct)
	}
	if !strings.Contains(string(md), "export me") || !strings.Contains(string(md), "**You**") {
		t.Errorf("markdown = %s", md)
	}

	resp, html := doJSON(t, "GET", base+"?format=html", "alice-token", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("html status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("content-type = %q", ct)
	}
	if !strings.Contains(string(html), "<strong>You</strong>") {
		t.Errorf("html = %s", html)
	}

	resp, _ = doJSON(t, "GET", base+"?format=pdf", "alice-token", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad format status = %d, want 400", resp.StatusCode)
	}
}

func TestChatRateLimited(t *testing.T) {
	client := &cannedClient{decision: &llm.Decision{FinalAnswer: "ok"}}
	hs, _ := testServer(t, client, config.RateLimitConfig{RPS: 0.01, Burst: 1})

	resp, _ := doJSON(t, "POST", hs.URL+"/v1/chat", "alice-token", ChatRequest{Message: "one"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first request status = %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, "POST", hs.URL+"/v1/chat", "alice-token", ChatRequest{Message: "two"})
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("second request status = %d, want 429", resp.StatusCode)
	}

	// Another user has their own bucket.
	resp, _ = doJSON(t, "POST", hs.URL+"/v1/chat", "bob-token", ChatRequest{Message: "hi"})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("other user status = %d, want 200", resp.StatusCode)
	}
}

func TestUnauthenticatedSurfaces(t *testing.T) {
	client := &cannedClient{decision: &llm.Decision{FinalAnswer: "ok"}}
	hs, _ := testServer(t, client, config.RateLimitConfig{})

	for _, path := range []string{"/health", "/v1/version", "/metrics", "/"} {
		resp, _ := doJSON(t, "GET", hs.URL+path, "", nil)
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s: status = %d, want 200", path, resp.StatusCode)
		}
	}
}

