package agent

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/castellanhq/castellan/internal/llm"
	"github.com/castellanhq/castellan/internal/store"
)

// stubLLM returns scripted responses and records every call.
type stubLLM struct {
	responses []string
	calls     int
	lastMsgs  []llm.Message
	err       error
}

func (s *stubLLM) Complete(_ context.Context, msgs []llm.Message) (string, error) {
	s.lastMsgs = msgs
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	i := s.calls - 1
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	return s.responses[i], nil
}

func (s *stubLLM) Stream(ctx context.Context, msgs []llm.Message, onToken func(string)) (string, error) {
	full, err := s.Complete(ctx, msgs)
	if err != nil {
		return "", err
	}
	// Deliver in two fragments to exercise concatenation.
	mid := len(full) / 2
	onToken(full[:mid])
	onToken(full[mid:])
	return full, nil
}

func (s *stubLLM) Ping(context.Context) error { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func countTurns(t *testing.T, s *store.Store, userID uuid.UUID) int {
	t.Helper()
	turns, err := s.GetConversationHistory(userID, 100, "")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	return len(turns)
}

func TestChatPersistsExactlyOnce(t *testing.T) {
	s := setupTestStore(t)
	userID := testUser(t, s)
	asm := NewAssembler(s, 6, 10, 1500)

	chat := NewChat(&stubLLM{responses: []string{"hello there"}}, s, asm, testLogger())

	resp, err := chat.Process(context.Background(), userID, "hi")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if resp != "hello there" {
		t.Errorf("response: %q", resp)
	}
	if n := countTurns(t, s, userID); n != 1 {
		t.Errorf("got %d turns, want 1", n)
	}
}

func TestChatStreamConcatEqualsSync(t *testing.T) {
	s := setupTestStore(t)
	userID := testUser(t, s)
	asm := NewAssembler(s, 6, 10, 1500)

	chat := NewChat(&stubLLM{responses: []string{"a streamed answer"}}, s, asm, testLogger())

	var got strings.Builder
	full, err := chat.ProcessStream(context.Background(), userID, "hi", func(tok string) {
		got.WriteString(tok)
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if got.String() != full {
		t.Errorf("fragments %q != returned %q", got.String(), full)
	}
	if full != "a streamed answer" {
		t.Errorf("full: %q", full)
	}
	if n := countTurns(t, s, userID); n != 1 {
		t.Errorf("got %d turns, want 1 (stream must persist exactly once)", n)
	}
}

func TestChatNoTurnPersistedOnError(t *testing.T) {
	s := setupTestStore(t)
	userID := testUser(t, s)
	asm := NewAssembler(s, 6, 10, 1500)

	chat := NewChat(&stubLLM{err: context.DeadlineExceeded}, s, asm, testLogger())

	if _, err := chat.Process(context.Background(), userID, "hi"); err == nil {
		t.Fatal("expected error")
	}
	if n := countTurns(t, s, userID); n != 0 {
		t.Errorf("got %d turns, want 0 (no partial persistence)", n)
	}
}

func TestProductivityCreatesTaskFromReminder(t *testing.T) {
	s := setupTestStore(t)
	userID := testUser(t, s)
	asm := NewAssembler(s, 6, 10, 1500)

	stub := &stubLLM{responses: []string{`{"title": "buy milk", "priority": "medium", "due_date": "2026-08-28"}`}}
	prod := NewProductivity(stub, s, asm, testLogger())

	resp, err := prod.Process(context.Background(), userID, "remind me to buy milk tomorrow")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !strings.Contains(resp, "buy milk") {
		t.Errorf("response: %q", resp)
	}

	tasks, err := s.GetTasks(userID, store.StatusPending, "")
	if err != nil {
		t.Fatalf("get tasks: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("got %d tasks, want 1", len(tasks))
	}
	if !strings.Contains(tasks[0].Title, "buy milk") {
		t.Errorf("title: %q", tasks[0].Title)
	}
	if tasks[0].DueDate == "" {
		t.Error("due date missing")
	}
	if n := countTurns(t, s, userID); n != 1 {
		t.Errorf("got %d turns, want 1", n)
	}
}

func TestProductivityRawTitleFallback(t *testing.T) {
	s := setupTestStore(t)
	userID := testUser(t, s)
	asm := NewAssembler(s, 6, 10, 1500)

	stub := &stubLLM{responses: []string{"sorry, I can't do JSON today"}}
	prod := NewProductivity(stub, s, asm, testLogger())

	msg := "remind me to water the ferns"
	if _, err := prod.Process(context.Background(), userID, msg); err != nil {
		t.Fatalf("process: %v", err)
	}

	tasks, err := s.GetTasks(userID, "", "")
	if err != nil {
		t.Fatalf("get tasks: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("got %d tasks, want 1", len(tasks))
	}
	if tasks[0].Title != msg {
		t.Errorf("title: got %q, want raw message", tasks[0].Title)
	}
	if tasks[0].Priority != store.PriorityMedium {
		t.Errorf("priority: got %q, want medium", tasks[0].Priority)
	}
}

func TestProductivityQueryNeedsNoModel(t *testing.T) {
	s := setupTestStore(t)
	userID := testUser(t, s)
	asm := NewAssembler(s, 6, 10, 1500)

	if _, err := s.CreateTask(userID, "file taxes", "", store.PriorityHigh, ""); err != nil {
		t.Fatalf("create task: %v", err)
	}

	stub := &stubLLM{responses: []string{"unused"}}
	prod := NewProductivity(stub, s, asm, testLogger())

	resp, err := prod.Process(context.Background(), userID, "show tasks")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !strings.Contains(resp, "file taxes") {
		t.Errorf("response: %q", resp)
	}
	if stub.calls != 0 {
		t.Errorf("model called %d times, want 0", stub.calls)
	}
}

func TestCreativeGameStateSurvivesRestart(t *testing.T) {
	s := setupTestStore(t)
	userID := testUser(t, s)
	asm := NewAssembler(s, 6, 10, 1500)

	first := NewCreative(&stubLLM{responses: []string{"I'm thinking of a word..."}}, s, asm, testLogger(), nil)
	if _, err := first.Process(context.Background(), userID, "let's play a word game"); err != nil {
		t.Fatalf("process: %v", err)
	}

	// A fresh instance simulates a process restart.
	stub := &stubLLM{responses: []string{"Your next clue is..."}}
	second := NewCreative(stub, s, asm, testLogger(), nil)
	if _, err := second.Process(context.Background(), userID, "ok, let me guess"); err != nil {
		t.Fatalf("process: %v", err)
	}

	system := stub.lastMsgs[0].Content
	if !strings.Contains(system, "Active game state") {
		t.Error("restarted agent did not load game state from storage")
	}
	if !strings.Contains(system, `"turns":2`) {
		t.Errorf("game turn count not carried over:\n%s", system)
	}
}

func TestCreativeNonGameClearsState(t *testing.T) {
	s := setupTestStore(t)
	userID := testUser(t, s)
	asm := NewAssembler(s, 6, 10, 1500)

	creative := NewCreative(&stubLLM{responses: []string{"ok"}}, s, asm, testLogger(), nil)

	if _, err := creative.Process(context.Background(), userID, "give me a riddle"); err != nil {
		t.Fatalf("game turn: %v", err)
	}
	if _, err := s.GetMemory(userID, activeGameKey); err != nil {
		t.Fatalf("game state not saved: %v", err)
	}

	if _, err := creative.Process(context.Background(), userID, "write a poem about rain"); err != nil {
		t.Fatalf("poem turn: %v", err)
	}
	if _, err := s.GetMemory(userID, activeGameKey); err == nil {
		t.Error("game state should be cleared by a non-game request")
	}
}

func TestCreativeFailedTurnKeepsGameState(t *testing.T) {
	s := setupTestStore(t)
	userID := testUser(t, s)
	asm := NewAssembler(s, 6, 10, 1500)

	stub := &stubLLM{responses: []string{"I'm thinking of a riddle..."}}
	creative := NewCreative(stub, s, asm, testLogger(), nil)

	if _, err := creative.Process(context.Background(), userID, "give me a riddle"); err != nil {
		t.Fatalf("game turn: %v", err)
	}
	saved, err := s.GetMemory(userID, activeGameKey)
	if err != nil {
		t.Fatalf("game state not saved: %v", err)
	}

	// A non-game request that fails must not end the active game.
	stub.err = context.DeadlineExceeded
	if _, err := creative.Process(context.Background(), userID, "write a poem about rain"); err == nil {
		t.Fatal("expected error from failed generation")
	}

	after, err := s.GetMemory(userID, activeGameKey)
	if err != nil {
		t.Fatalf("failed turn wiped the active game: %v", err)
	}
	if after.Value != saved.Value {
		t.Errorf("game state changed across a failed turn: got %q, want %q", after.Value, saved.Value)
	}
}

func TestKnowledgeNoDocumentsShortCircuits(t *testing.T) {
	s := setupTestStore(t)
	userID := testUser(t, s)
	asm := NewAssembler(s, 6, 10, 1500)

	stub := &stubLLM{responses: []string{"unused"}}
	k := NewKnowledge(stub, s, asm, testLogger(), nil)

	resp, err := k.Process(context.Background(), userID, "what does my contract say?")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if resp != noDocumentsResponse {
		t.Errorf("response: %q", resp)
	}
	if stub.calls != 0 {
		t.Errorf("model called %d times, want 0", stub.calls)
	}
	if n := countTurns(t, s, userID); n != 1 {
		t.Errorf("got %d turns, want 1", n)
	}
}

func TestRecallListsWithoutModel(t *testing.T) {
	s := setupTestStore(t)
	userID := testUser(t, s)
	asm := NewAssembler(s, 6, 10, 1500)

	if _, err := s.SetMemory(userID, "favorite_color", "blue", ""); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := s.SetMemory(userID, activeGameKey, `{"game":"riddle"}`, ""); err != nil {
		t.Fatalf("set reserved: %v", err)
	}

	stub := &stubLLM{responses: []string{"unused"}}
	r := NewRecall(stub, s, asm, testLogger())

	resp, err := r.Process(context.Background(), userID, "what do you remember?")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !strings.Contains(resp, "favorite_color: blue") {
		t.Errorf("response: %q", resp)
	}
	if strings.Contains(resp, activeGameKey) {
		t.Error("reserved key leaked into recall listing")
	}
	if stub.calls != 0 {
		t.Errorf("model called %d times, want 0", stub.calls)
	}
}

func TestResearchUngroundedNote(t *testing.T) {
	s := setupTestStore(t)
	userID := testUser(t, s)
	asm := NewAssembler(s, 6, 10, 1500)

	stub := &stubLLM{responses: []string{"from general knowledge..."}}
	r := NewResearch(stub, s, asm, testLogger(), nil, nil, false)

	if _, err := r.Process(context.Background(), userID, "latest news on interest rates"); err != nil {
		t.Fatalf("process: %v", err)
	}

	system := stub.lastMsgs[0].Content
	if !strings.Contains(system, "No search results available") {
		t.Error("missing general-knowledge instruction when search is unconfigured")
	}

	turns, err := s.GetConversationHistory(userID, 1, "")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if performed, _ := turns[0].Metadata["search_performed"].(bool); performed {
		t.Error("search_performed should be false")
	}
}

func TestProductivityFallbackTitleKeepsValidUTF8(t *testing.T) {
	s := setupTestStore(t)
	userID := testUser(t, s)
	asm := NewAssembler(s, 6, 10, 1500)

	stub := &stubLLM{responses: []string{"sorry, I can't do JSON today"}}
	prod := NewProductivity(stub, s, asm, testLogger())

	// 160 bytes of 2-byte runes; the 100-byte cap lands inside a rune.
	msg := strings.Repeat("ü", 80)
	if _, err := prod.Process(context.Background(), userID, msg); err != nil {
		t.Fatalf("process: %v", err)
	}

	tasks, err := s.GetTasks(userID, "", "")
	if err != nil {
		t.Fatalf("get tasks: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("got %d tasks, want 1", len(tasks))
	}
	if !utf8.ValidString(tasks[0].Title) {
		t.Errorf("title is invalid UTF-8: %q", tasks[0].Title)
	}
	if want := strings.Repeat("ü", 50) + "..."; tasks[0].Title != want {
		t.Errorf("title = %q, want %q", tasks[0].Title, want)
	}
}
