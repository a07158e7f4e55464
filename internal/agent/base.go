package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/castellanhq/castellan/internal/llm"
	"github.com/castellanhq/castellan/internal/store"
)

// base carries the collaborators and shared behavior every variant needs.
// Concrete agents embed it and layer their specialty on top.
type base struct {
	tag       Tag
	system    string
	llm       llm.Client
	store     *store.Store
	assembler *Assembler
	logger    *slog.Logger
}

func (b *base) Tag() Tag { return b.tag }

// messages builds the outgoing message list: system prompt with injected
// user context (plus any variant-specific extra context), then the current
// user message.
func (b *base) messages(userID uuid.UUID, message, extra string) []llm.Message {
	system := b.system + "\n\nUser context:\n" + b.assembler.Assemble(userID)
	if extra != "" {
		system += "\n\n" + extra
	}
	return []llm.Message{llm.System(system), llm.User(message)}
}

// respond materializes a full completion and persists the turn.
func (b *base) respond(ctx context.Context, userID uuid.UUID, message string, msgs []llm.Message, metadata map[string]any) (string, error) {
	response, err := b.llm.Complete(ctx, msgs)
	if err != nil {
		return "", fmt.Errorf("%s agent: %w", b.tag, err)
	}
	b.persist(userID, message, response, metadata)
	return response, nil
}

// respondStream streams fragments through onToken and persists the turn
// only after the stream is exhausted.
func (b *base) respondStream(ctx context.Context, userID uuid.UUID, message string, msgs []llm.Message, metadata map[string]any, onToken func(string)) (string, error) {
	response, err := b.llm.Stream(ctx, msgs, onToken)
	if err != nil {
		return "", fmt.Errorf("%s agent: %w", b.tag, err)
	}
	b.persist(userID, message, response, metadata)
	return response, nil
}

// fixed delivers a deterministic, non-generated response through the same
// persistence path. Streaming callers receive it as a single fragment.
func (b *base) fixed(userID uuid.UUID, message, response string, metadata map[string]any, onToken func(string)) string {
	if onToken != nil {
		onToken(response)
	}
	b.persist(userID, message, response, metadata)
	return response
}

// persist records the completed turn. A storage failure here is logged
// rather than surfaced: the user has already seen the response.
func (b *base) persist(userID uuid.UUID, message, response string, metadata map[string]any) {
	if _, err := b.store.AddConversation(userID, string(b.tag), message, response, metadata); err != nil {
		b.logger.Error("failed to persist turn", "agent", b.tag, "user_id", userID, "error", err)
	}
}
