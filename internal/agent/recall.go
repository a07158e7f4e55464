package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/castellanhq/castellan/internal/llm"
	"github.com/castellanhq/castellan/internal/prompts"
	"github.com/castellanhq/castellan/internal/store"
)

// maxListedMemories caps the direct listing response.
const maxListedMemories = 20

var elaborationKeywords = []string{"why", "how", "explain", "elaborate", "more about"}

// Recall answers questions about the user's stored memories. Simple listing
// requests are answered directly from storage; the model is only consulted
// when the user asks for elaboration.
type Recall struct {
	base
}

// NewRecall creates the memory recall agent.
func NewRecall(client llm.Client, st *store.Store, asm *Assembler, logger *slog.Logger) *Recall {
	return &Recall{base{
		tag:       TagRecall,
		system:    prompts.RecallSystem(),
		llm:       client,
		store:     st,
		assembler: asm,
		logger:    logger,
	}}
}

func (r *Recall) Process(ctx context.Context, userID uuid.UUID, message string) (string, error) {
	return r.handle(ctx, userID, message, nil)
}

func (r *Recall) ProcessStream(ctx context.Context, userID uuid.UUID, message string, onToken func(string)) (string, error) {
	return r.handle(ctx, userID, message, onToken)
}

func (r *Recall) handle(ctx context.Context, userID uuid.UUID, message string, onToken func(string)) (string, error) {
	memories, err := r.store.GetAllMemories(userID)
	if err != nil {
		return "", fmt.Errorf("recall agent: %w", err)
	}

	var lines []string
	for _, m := range memories {
		if strings.HasPrefix(m.Key, ReservedPrefix) {
			continue
		}
		lines = append(lines, "- "+m.Key+": "+m.Value)
	}

	if len(lines) == 0 {
		response := "I don't have any stored memories about you yet. As we interact more, I'll learn your preferences!"
		return r.fixed(userID, message, response, nil, onToken), nil
	}

	if matchesAny(message, elaborationKeywords) {
		extra := "Stored memories:\n" + strings.Join(lines, "\n")
		msgs := r.messages(userID, message, extra)
		if onToken == nil {
			return r.respond(ctx, userID, message, msgs, nil)
		}
		return r.respondStream(ctx, userID, message, msgs, nil, onToken)
	}

	if len(lines) > maxListedMemories {
		lines = lines[:maxListedMemories]
	}
	response := "Here's what I remember about you:\n\n" + strings.Join(lines, "\n")
	return r.fixed(userID, message, response, nil, onToken), nil
}
