package memory

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/castellanhq/castellan/internal/agent"
	"github.com/castellanhq/castellan/internal/llm"
	"github.com/castellanhq/castellan/internal/store"
)

type stubLLM struct {
	response string
	err      error
}

func (s *stubLLM) Complete(context.Context, []llm.Message) (string, error) {
	return s.response, s.err
}

func (s *stubLLM) Stream(ctx context.Context, msgs []llm.Message, onToken func(string)) (string, error) {
	out, err := s.Complete(ctx, msgs)
	if err == nil {
		onToken(out)
	}
	return out, err
}

func (s *stubLLM) Ping(context.Context) error { return nil }

func setup(t *testing.T, response string, llmErr error) (*Extractor, *store.Store, uuid.UUID) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s, err := store.New(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	u, err := s.CreateUser("tester", "hash")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(&stubLLM{response: response, err: llmErr}, s, logger, time.Second), s, u.ID
}

func TestExtractStoresFacts(t *testing.T) {
	e, s, userID := setup(t, `[
		{"key": "favorite_music", "value": "jazz", "context": "mentioned while chatting"},
		{"key": "hometown", "value": "Lisbon"}
	]`, nil)

	facts := e.Extract(context.Background(), userID, "I love jazz, grew up in Lisbon", "Nice!")
	if len(facts) != 2 {
		t.Fatalf("got %d facts, want 2", len(facts))
	}

	m, err := s.GetMemory(userID, "favorite_music")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if m.Value != "jazz" {
		t.Errorf("value: %q", m.Value)
	}
}

func TestExtractBareObjectTreatedAsArray(t *testing.T) {
	e, s, userID := setup(t, `{"key": "pet", "value": "a cat named Miso"}`, nil)

	facts := e.Extract(context.Background(), userID, "my cat Miso", "Cute!")
	if len(facts) != 1 {
		t.Fatalf("got %d facts, want 1", len(facts))
	}
	if _, err := s.GetMemory(userID, "pet"); err != nil {
		t.Errorf("fact not stored: %v", err)
	}
}

func TestExtractDropsIncompleteElements(t *testing.T) {
	e, _, userID := setup(t, `[
		{"key": "good", "value": "kept"},
		{"key": "missing_value"},
		{"value": "missing_key"},
		"not an object"
	]`, nil)

	facts := e.Extract(context.Background(), userID, "m", "r")
	if len(facts) != 1 {
		t.Fatalf("got %d facts, want 1", len(facts))
	}
	if facts[0].Key != "good" {
		t.Errorf("kept wrong fact: %+v", facts[0])
	}
}

func TestExtractUnparseableYieldsNothing(t *testing.T) {
	e, _, userID := setup(t, "I couldn't find anything worth remembering.", nil)

	if facts := e.Extract(context.Background(), userID, "m", "r"); facts != nil {
		t.Errorf("got %v, want nil", facts)
	}
}

func TestExtractModelFailureSwallowed(t *testing.T) {
	e, _, userID := setup(t, "", context.DeadlineExceeded)

	if facts := e.Extract(context.Background(), userID, "m", "r"); facts != nil {
		t.Errorf("got %v, want nil", facts)
	}
}

func TestExtractFencedArray(t *testing.T) {
	e, _, userID := setup(t, "```json\n[{\"key\": \"k\", \"value\": \"v\"}]\n```", nil)

	facts := e.Extract(context.Background(), userID, "m", "r")
	if len(facts) != 1 {
		t.Fatalf("got %d facts, want 1", len(facts))
	}
}

func TestExtractDropsReservedKeys(t *testing.T) {
	e, s, userID := setup(t, `[
		{"key": "`+agent.ReservedPrefix+`active_game", "value": "corrupted by model"},
		{"key": "favorite_color", "value": "green"}
	]`, nil)

	// Seed real agent state; extraction must leave it untouched.
	if _, err := s.SetMemory(userID, agent.ReservedPrefix+"active_game", `{"game":"riddle","turns":2}`, ""); err != nil {
		t.Fatalf("seed state: %v", err)
	}

	facts := e.Extract(context.Background(), userID, "m", "r")
	if len(facts) != 1 || facts[0].Key != "favorite_color" {
		t.Fatalf("facts = %v, want only favorite_color", facts)
	}

	m, err := s.GetMemory(userID, agent.ReservedPrefix+"active_game")
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if m.Value != `{"game":"riddle","turns":2}` {
		t.Errorf("agent state overwritten: %q", m.Value)
	}
}
