package agent

import (
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/castellanhq/castellan/internal/store"
)

// NoContext is returned when a user has no memories and no history.
// Downstream prompt assembly relies on a non-empty placeholder.
const NoContext = "No previous context available."

// Assembler produces a bounded textual summary of a user's stored memories
// and recent conversation history for injection into agent prompts.
type Assembler struct {
	store        *store.Store
	historyTurns int
	memoryLimit  int
	truncateAt   int
}

// NewAssembler creates a context assembler. Zero values fall back to the
// defaults: 6 turns of history, 10 memories, 1500-character truncation.
func NewAssembler(st *store.Store, historyTurns, memoryLimit, truncateAt int) *Assembler {
	if historyTurns <= 0 {
		historyTurns = 6
	}
	if memoryLimit <= 0 {
		memoryLimit = 10
	}
	if truncateAt <= 0 {
		truncateAt = 1500
	}
	return &Assembler{
		store:        st,
		historyTurns: historyTurns,
		memoryLimit:  memoryLimit,
		truncateAt:   truncateAt,
	}
}

// Assemble renders the user's memories and recent history as one string.
// History is presented oldest-first. Every message and response field is
// truncated to the configured ceiling except the response of the most
// recent turn, which is kept unabridged so an agent can recall something it
// just said verbatim (a riddle's exact wording, a game's current answer).
// Storage errors degrade to whatever context is available.
func (a *Assembler) Assemble(userID uuid.UUID) string {
	var parts []string

	memories, err := a.store.GetAllMemories(userID)
	if err == nil && len(memories) > 0 {
		var lines []string
		for _, m := range memories {
			if strings.HasPrefix(m.Key, ReservedPrefix) {
				continue
			}
			lines = append(lines, "- "+m.Key+": "+m.Value)
			if len(lines) >= a.memoryLimit {
				break
			}
		}
		if len(lines) > 0 {
			parts = append(parts, "User preferences and information:")
			parts = append(parts, lines...)
		}
	}

	turns, err := a.store.GetConversationHistory(userID, a.historyTurns, "")
	if err == nil && len(turns) > 0 {
		if len(parts) > 0 {
			parts = append(parts, "")
		}
		parts = append(parts, "Recent conversation history:")
		// Storage returns newest-first; present chronologically.
		for i := len(turns) - 1; i >= 0; i-- {
			t := turns[i]
			parts = append(parts, "User: "+truncate(t.Message, a.truncateAt))
			if i == 0 {
				parts = append(parts, "Assistant: "+t.Response)
			} else {
				parts = append(parts, "Assistant: "+truncate(t.Response, a.truncateAt))
			}
		}
	}

	if len(parts) == 0 {
		return NoContext
	}
	return strings.Join(parts, "\n")
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	// Back up to a rune boundary so a cut never injects invalid UTF-8.
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max] + "..."
}
