package agent

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/castellanhq/castellan/internal/llm"
	"github.com/castellanhq/castellan/internal/prompts"
	"github.com/castellanhq/castellan/internal/store"
)

// Chat is the default conversational agent and the fallback destination
// when routing produces an unknown tag.
type Chat struct {
	base
}

// NewChat creates the conversational agent.
func NewChat(client llm.Client, st *store.Store, asm *Assembler, logger *slog.Logger) *Chat {
	return &Chat{base{
		tag:       TagChat,
		system:    prompts.ChatSystem(),
		llm:       client,
		store:     st,
		assembler: asm,
		logger:    logger,
	}}
}

func (c *Chat) Process(ctx context.Context, userID uuid.UUID, message string) (string, error) {
	return c.respond(ctx, userID, message, c.messages(userID, message, ""), nil)
}

func (c *Chat) ProcessStream(ctx context.Context, userID uuid.UUID, message string, onToken func(string)) (string, error) {
	return c.respondStream(ctx, userID, message, c.messages(userID, message, ""), nil, onToken)
}
