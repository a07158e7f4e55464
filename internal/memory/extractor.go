// Package memory distills durable facts from completed conversation turns
// and feeds them back into the store for future context assembly.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/castellanhq/castellan/internal/agent"
	"github.com/castellanhq/castellan/internal/llm"
	"github.com/castellanhq/castellan/internal/prompts"
	"github.com/castellanhq/castellan/internal/store"
)

// Fact is one extracted memory candidate.
type Fact struct {
	Key     string
	Value   string
	Context string
}

// Extractor asks the model for durable facts after each turn and upserts
// the accepted ones. It is strictly best-effort: no call path out of this
// package returns an error to the orchestrator.
type Extractor struct {
	llm     llm.Client
	store   *store.Store
	logger  *slog.Logger
	timeout time.Duration
}

// New creates an extractor. timeout bounds the model call; zero means 30s.
func New(client llm.Client, st *store.Store, logger *slog.Logger, timeout time.Duration) *Extractor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Extractor{
		llm:     client,
		store:   st,
		logger:  logger,
		timeout: timeout,
	}
}

// Extract analyzes one completed (message, response) exchange, parses the
// model's JSON defensively, and upserts each accepted fact. The returned
// slice reports what was stored; failures are logged and yield nil.
func (e *Extractor) Extract(ctx context.Context, userID uuid.UUID, message, response string) []Fact {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	conversation := fmt.Sprintf("User: %s\nAssistant: %s", message, response)
	out, err := e.llm.Complete(ctx, []llm.Message{llm.User(prompts.MemoryExtractionPrompt(conversation))})
	if err != nil {
		e.logger.Warn("memory extraction call failed", "user_id", userID, "error", err)
		return nil
	}

	facts := parseFacts(out)

	var stored []Fact
	for _, f := range facts {
		// The reserved namespace belongs to agent-internal state; model
		// output must never write into it.
		if strings.HasPrefix(f.Key, agent.ReservedPrefix) {
			e.logger.Warn("dropping extracted fact with reserved key", "user_id", userID, "key", f.Key)
			continue
		}
		if _, err := e.store.SetMemory(userID, f.Key, f.Value, f.Context); err != nil {
			e.logger.Warn("memory upsert failed", "user_id", userID, "key", f.Key, "error", err)
			continue
		}
		stored = append(stored, f)
	}

	if len(stored) > 0 {
		e.logger.Debug("memories extracted", "user_id", userID, "count", len(stored))
	}
	return stored
}

// parseFacts decodes the model's response defensively: a bare object is
// treated as a single-element array, elements missing key or value are
// dropped, and anything unparseable yields an empty result.
func parseFacts(response string) []Fact {
	var items []any
	if err := llm.ParseJSONArray(response, &items); err != nil {
		var obj map[string]any
		if objErr := llm.ParseJSONObject(response, &obj); objErr != nil {
			return nil
		}
		items = []any{obj}
	}

	var facts []Fact
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		key, _ := obj["key"].(string)
		value, _ := obj["value"].(string)
		if key == "" || value == "" {
			continue
		}
		note, _ := obj["context"].(string)
		facts = append(facts, Fact{Key: key, Value: value, Context: note})
	}
	return facts
}
