package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/castellanhq/castellan/internal/agent"
	"github.com/castellanhq/castellan/internal/orchestrator"
	"github.com/castellanhq/castellan/internal/store"
)

// stubOrch satisfies Orchestrator with canned results.
type stubOrch struct {
	result *orchestrator.Result
	err    error
}

func (s *stubOrch) Handle(context.Context, uuid.UUID, string) (*orchestrator.Result, error) {
	return s.result, s.err
}

func (s *stubOrch) HandleStream(context.Context, uuid.UUID, string) <-chan orchestrator.Event {
	events := make(chan orchestrator.Event, 8)
	go func() {
		defer close(events)
		if s.err != nil {
			events <- orchestrator.Event{Type: orchestrator.EventRouting, Primary: agent.TagChat}
			events <- orchestrator.Event{Type: orchestrator.EventError, Err: s.err}
			return
		}
		events <- orchestrator.Event{Type: orchestrator.EventRouting, Primary: s.result.Primary, Reasoning: s.result.Reasoning}
		mid := len(s.result.Response) / 2
		events <- orchestrator.Event{Type: orchestrator.EventToken, Token: s.result.Response[:mid]}
		events <- orchestrator.Event{Type: orchestrator.EventToken, Token: s.result.Response[mid:]}
		events <- orchestrator.Event{Type: orchestrator.EventDone, Primary: s.result.Primary, Response: s.result.Response}
	}()
	return events
}

func testServer(t *testing.T, orch Orchestrator) (*httptest.Server, *store.Store) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	st, err := store.New(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := NewServer("", 0, orch, st, nil, logger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, st
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

func TestRegisterAndLogin(t *testing.T) {
	ts, _ := testServer(t, &stubOrch{})

	resp := postJSON(t, ts.URL+"/v1/auth/register", map[string]string{
		"username": "alice", "password": "hunter22",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status = %d", resp.StatusCode)
	}
	var created store.User
	decodeBody(t, resp, &created)
	if created.Username != "alice" || created.ID == uuid.Nil {
		t.Errorf("created user = %+v", created)
	}

	resp = postJSON(t, ts.URL+"/v1/auth/login", map[string]string{
		"username": "alice", "password": "hunter22",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d", resp.StatusCode)
	}
	var logged store.User
	decodeBody(t, resp, &logged)
	if logged.ID != created.ID {
		t.Errorf("login returned wrong user: %s != %s", logged.ID, created.ID)
	}

	resp = postJSON(t, ts.URL+"/v1/auth/login", map[string]string{
		"username": "alice", "password": "wrong",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("bad password status = %d, want 401", resp.StatusCode)
	}
}

func TestRegisterDuplicateUsername(t *testing.T) {
	ts, _ := testServer(t, &stubOrch{})

	creds := map[string]string{"username": "bob", "password": "pw123456"}
	resp := postJSON(t, ts.URL+"/v1/auth/register", creds)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("first register status = %d", resp.StatusCode)
	}

	resp = postJSON(t, ts.URL+"/v1/auth/register", creds)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("duplicate register status = %d, want 409", resp.StatusCode)
	}
}

func TestChatReturnsResult(t *testing.T) {
	orch := &stubOrch{result: &orchestrator.Result{
		Response: "hello from chat",
		Primary:  agent.TagChat,
	}}
	ts, st := testServer(t, orch)
	user, err := st.CreateUser("carol", "hash")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	resp := postJSON(t, ts.URL+"/v1/chat", map[string]string{
		"user_id": user.ID.String(), "message": "hi",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("chat status = %d", resp.StatusCode)
	}
	var result orchestrator.Result
	decodeBody(t, resp, &result)
	if result.Response != "hello from chat" || result.Primary != agent.TagChat {
		t.Errorf("result = %+v", result)
	}
}

func TestChatRequiresMessage(t *testing.T) {
	ts, _ := testServer(t, &stubOrch{})
	resp := postJSON(t, ts.URL+"/v1/chat", map[string]string{
		"user_id": uuid.New().String(), "message": "",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestChatStreamFraming(t *testing.T) {
	orch := &stubOrch{result: &orchestrator.Result{
		Response: "streamed answer",
		Primary:  agent.TagResearch,
	}}
	ts, st := testServer(t, orch)
	user, err := st.CreateUser("dave", "hash")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	resp := postJSON(t, ts.URL+"/v1/chat/stream", map[string]string{
		"user_id": user.ID.String(), "message": "hi",
	})
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}

	var events []orchestrator.Event
	for _, line := range strings.Split(string(body), "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var e orchestrator.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &e); err != nil {
			t.Fatalf("unmarshal event %q: %v", line, err)
		}
		events = append(events, e)
	}

	if len(events) != 4 {
		t.Fatalf("got %d events, want 4", len(events))
	}
	if events[0].Type != orchestrator.EventRouting || events[0].Primary != agent.TagResearch {
		t.Errorf("first event = %+v", events[0])
	}
	last := events[len(events)-1]
	if last.Type != orchestrator.EventDone || last.Response != "streamed answer" {
		t.Errorf("last event = %+v", last)
	}
	if events[1].Token+events[2].Token != "streamed answer" {
		t.Errorf("token concat = %q", events[1].Token+events[2].Token)
	}
}

func TestTaskEndpoints(t *testing.T) {
	ts, st := testServer(t, &stubOrch{})
	user, err := st.CreateUser("erin", "hash")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	resp := postJSON(t, ts.URL+"/v1/tasks", map[string]string{
		"user_id":  user.ID.String(),
		"title":    "water the plants",
		"priority": "high",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	var task store.Task
	decodeBody(t, resp, &task)
	if task.Title != "water the plants" || task.Priority != store.PriorityHigh {
		t.Errorf("task = %+v", task)
	}

	resp, err = http.Get(ts.URL + "/v1/tasks?user_id=" + user.ID.String())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var listed struct {
		Count int           `json:"count"`
		Tasks []*store.Task `json:"tasks"`
	}
	decodeBody(t, resp, &listed)
	if listed.Count != 1 {
		t.Fatalf("count = %d, want 1", listed.Count)
	}

	patch, err := json.Marshal(map[string]string{"status": store.StatusCompleted})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req, err := http.NewRequest(http.MethodPatch, fmt.Sprintf("%s/v1/tasks/%s/status", ts.URL, task.ID), bytes.NewReader(patch))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("patch: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("patch status = %d", resp.StatusCode)
	}

	req, err = http.NewRequest(http.MethodDelete, fmt.Sprintf("%s/v1/tasks/%s", ts.URL, task.ID), nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}

	// Second delete finds nothing.
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("second delete: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", resp.StatusCode)
	}
}

func TestMemoryListHidesReservedKeys(t *testing.T) {
	ts, st := testServer(t, &stubOrch{})
	user, err := st.CreateUser("frank", "hash")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if _, err := st.SetMemory(user.ID, "favorite_color", "green", ""); err != nil {
		t.Fatalf("set memory: %v", err)
	}
	if _, err := st.SetMemory(user.ID, agent.ReservedPrefix+"active_game", `{"game":"riddle"}`, ""); err != nil {
		t.Fatalf("set reserved memory: %v", err)
	}

	resp, err := http.Get(ts.URL + "/v1/memories?user_id=" + user.ID.String())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var listed struct {
		Count    int             `json:"count"`
		Memories []*store.Memory `json:"memories"`
	}
	decodeBody(t, resp, &listed)
	if listed.Count != 1 {
		t.Fatalf("count = %d, want 1 (reserved key hidden)", listed.Count)
	}
	if listed.Memories[0].Key != "favorite_color" {
		t.Errorf("key = %q", listed.Memories[0].Key)
	}
}

func TestMemoryDeleteReservedKeyForbidden(t *testing.T) {
	ts, st := testServer(t, &stubOrch{})
	user, err := st.CreateUser("grace", "hash")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	url := fmt.Sprintf("%s/v1/memories/%sactive_game?user_id=%s", ts.URL, agent.ReservedPrefix, user.ID)
	req, err := http.NewRequest(http.MethodDelete, url, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}
}

func TestDocumentIngestUnavailableWithoutStore(t *testing.T) {
	ts, _ := testServer(t, &stubOrch{})
	resp := postJSON(t, ts.URL+"/v1/documents", map[string]string{
		"user_id": uuid.New().String(), "name": "notes.md", "content": "# hi",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestHealthAndVersion(t *testing.T) {
	ts, _ := testServer(t, &stubOrch{})

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	var health map[string]string
	decodeBody(t, resp, &health)
	if health["status"] != "healthy" {
		t.Errorf("health = %v", health)
	}

	resp, err = http.Get(ts.URL + "/v1/version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	var info map[string]string
	decodeBody(t, resp, &info)
	if info["version"] == "" {
		t.Errorf("version info = %v", info)
	}
}
