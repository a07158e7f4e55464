package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/castellanhq/castellan/internal/imagegen"
	"github.com/castellanhq/castellan/internal/llm"
	"github.com/castellanhq/castellan/internal/prompts"
	"github.com/castellanhq/castellan/internal/store"
)

// activeGameKey is the reserved memory key holding the creative agent's
// per-user game state. Only this agent reads or writes it.
const activeGameKey = ReservedPrefix + "active_game"

// GameState tracks an in-progress interactive activity for one user.
// It is serialized into the reserved memory key and fully rewritten at the
// end of every game turn, so a process restart never loses the game.
type GameState struct {
	Game      string `json:"game"`
	StartedAt string `json:"started_at"`
	Turns     int    `json:"turns"`
}

var creativeTaskTypes = []struct {
	name     string
	keywords []string
}{
	{"poem", []string{"poem", "poetry", "verse"}},
	{"story", []string{"story", "tale", "narrative"}},
	{"summary", []string{"summary", "summarize", "tldr"}},
	{"report", []string{"report", "analysis", "review"}},
	{"brainstorming", []string{"brainstorm", "ideas", "suggest"}},
	{"game", []string{"game", "play", "riddle", "trivia", "guess"}},
}

var imageKeywords = []string{"image", "picture", "draw", "illustration", "illustrate"}

// Creative generates poems, stories, summaries, and runs interactive games.
// Image generation is an optional best-effort side call whose result is
// appended to the text response.
type Creative struct {
	base
	images imagegen.Generator
}

// NewCreative creates the content generation agent. images may be nil when
// image generation is not configured.
func NewCreative(client llm.Client, st *store.Store, asm *Assembler, logger *slog.Logger, images imagegen.Generator) *Creative {
	return &Creative{
		base: base{
			tag:       TagCreative,
			system:    prompts.CreativeSystem(),
			llm:       client,
			store:     st,
			assembler: asm,
			logger:    logger,
		},
		images: images,
	}
}

func (c *Creative) Process(ctx context.Context, userID uuid.UUID, message string) (string, error) {
	return c.handle(ctx, userID, message, nil)
}

func (c *Creative) ProcessStream(ctx context.Context, userID uuid.UUID, message string, onToken func(string)) (string, error) {
	return c.handle(ctx, userID, message, onToken)
}

func (c *Creative) handle(ctx context.Context, userID uuid.UUID, message string, onToken func(string)) (string, error) {
	taskType := creativeTaskType(message)

	// Game state lives in storage, not on the agent, and is loaded fresh
	// each turn so an in-progress game survives a process restart.
	state := c.loadGame(userID)

	var extra string
	endGame := false
	switch {
	case taskType == "game":
		if state == nil {
			state = &GameState{
				Game:      gameName(message),
				StartedAt: time.Now().UTC().Format(time.RFC3339),
			}
		}
		state.Turns++
		raw, _ := json.Marshal(state)
		extra = "Creative task type: game\nActive game state: " + string(raw) +
			"\nContinue the same game consistently. Do not start a new one unless asked."
	case state != nil:
		// Any non-game creative request ends the active game, but only
		// once a response is actually produced. A failed turn leaves the
		// game intact.
		endGame = true
		state = nil
		extra = "Creative task type: " + taskType
	default:
		extra = "Creative task type: " + taskType
	}

	msgs := c.messages(userID, message, extra)

	var response string
	var err error
	if onToken == nil {
		response, err = c.llm.Complete(ctx, msgs)
	} else {
		response, err = c.llm.Stream(ctx, msgs, onToken)
	}
	if err != nil {
		return "", fmt.Errorf("creative agent: %w", err)
	}

	if endGame {
		c.clearGame(userID)
	}
	// Full-state resave every game turn, even when unchanged.
	if state != nil {
		c.saveGame(userID, state)
	}

	if c.images != nil && matchesAny(message, imageKeywords) {
		if embed, imgErr := c.images.Generate(ctx, message); imgErr == nil {
			response += "\n\n" + embed
			if onToken != nil {
				onToken("\n\n" + embed)
			}
		} else {
			c.logger.Warn("image generation failed", "error", imgErr)
		}
	}

	metadata := map[string]any{"task_type": taskType}
	if state != nil {
		metadata["active_game"] = state.Game
	}
	c.persist(userID, message, response, metadata)
	return response, nil
}

// creativeTaskType classifies the request by keyword; first match wins.
func creativeTaskType(message string) string {
	lower := strings.ToLower(message)
	for _, t := range creativeTaskTypes {
		for _, k := range t.keywords {
			if strings.Contains(lower, k) {
				return t.name
			}
		}
	}
	return "general_creative"
}

// gameName derives a short label for the game being started.
func gameName(message string) string {
	lower := strings.ToLower(message)
	for _, g := range []string{"riddle", "trivia", "word game", "guessing game"} {
		if strings.Contains(lower, g) {
			return g
		}
	}
	return "game"
}

func (c *Creative) loadGame(userID uuid.UUID) *GameState {
	m, err := c.store.GetMemory(userID, activeGameKey)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			c.logger.Warn("failed to load game state", "user_id", userID, "error", err)
		}
		return nil
	}
	var gs GameState
	if err := json.Unmarshal([]byte(m.Value), &gs); err != nil {
		c.logger.Warn("corrupt game state discarded", "user_id", userID, "error", err)
		return nil
	}
	return &gs
}

func (c *Creative) saveGame(userID uuid.UUID, gs *GameState) {
	raw, err := json.Marshal(gs)
	if err != nil {
		return
	}
	if _, err := c.store.SetMemory(userID, activeGameKey, string(raw), "active game"); err != nil {
		c.logger.Error("failed to save game state", "user_id", userID, "error", err)
	}
}

func (c *Creative) clearGame(userID uuid.UUID) {
	if err := c.store.DeleteMemory(userID, activeGameKey); err != nil {
		c.logger.Warn("failed to clear game state", "user_id", userID, "error", err)
	}
}
