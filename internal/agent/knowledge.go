package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/castellanhq/castellan/internal/docstore"
	"github.com/castellanhq/castellan/internal/llm"
	"github.com/castellanhq/castellan/internal/prompts"
	"github.com/castellanhq/castellan/internal/store"
)

// noDocumentsResponse is returned without any model call when the user has
// not ingested a document yet.
const noDocumentsResponse = "No documents have been uploaded yet. Upload a document to get started."

// Knowledge answers questions from the user's ingested documents. With no
// documents it short-circuits to a fixed response and never calls the model.
type Knowledge struct {
	base
	docs *docstore.Store
}

// NewKnowledge creates the document QA agent. docs may be nil when the
// document store is not configured.
func NewKnowledge(client llm.Client, st *store.Store, asm *Assembler, logger *slog.Logger, docs *docstore.Store) *Knowledge {
	return &Knowledge{
		base: base{
			tag:       TagKnowledge,
			system:    prompts.KnowledgeSystem(),
			llm:       client,
			store:     st,
			assembler: asm,
			logger:    logger,
		},
		docs: docs,
	}
}

func (k *Knowledge) Process(ctx context.Context, userID uuid.UUID, message string) (string, error) {
	return k.handle(ctx, userID, message, nil)
}

func (k *Knowledge) ProcessStream(ctx context.Context, userID uuid.UUID, message string, onToken func(string)) (string, error) {
	return k.handle(ctx, userID, message, onToken)
}

func (k *Knowledge) handle(ctx context.Context, userID uuid.UUID, message string, onToken func(string)) (string, error) {
	if k.docs == nil || !k.docs.HasDocuments(userID) {
		metadata := map[string]any{"documents": false}
		return k.fixed(userID, message, noDocumentsResponse, metadata, onToken), nil
	}

	passages, err := k.docs.Query(ctx, userID, message)
	if err != nil {
		return "", fmt.Errorf("knowledge agent: %w", err)
	}

	var b strings.Builder
	b.WriteString("Relevant passages from the user's documents:\n")
	for i, p := range passages {
		fmt.Fprintf(&b, "\n%d. [%s] %s\n", i+1, p.Document, p.Content)
	}

	msgs := k.messages(userID, message, b.String())
	metadata := map[string]any{"documents": true}

	if onToken == nil {
		return k.respond(ctx, userID, message, msgs, metadata)
	}
	return k.respondStream(ctx, userID, message, msgs, metadata, onToken)
}
