package orchestrator

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/castellanhq/castellan/internal/agent"
	"github.com/castellanhq/castellan/internal/llm"
	"github.com/castellanhq/castellan/internal/prompts"
)

// Decision is the router's verdict for one message.
type Decision struct {
	Primary   agent.Tag
	Secondary []agent.Tag
	Reasoning string
}

// Router picks the agent(s) for a message. Tier one asks the model to
// classify; any failure there (call error, malformed JSON, unknown tag)
// drops to deterministic keyword matching, which is total and side-effect
// free.
type Router struct {
	llm       llm.Client
	assembler *agent.Assembler
	logger    *slog.Logger
}

// NewRouter creates a router.
func NewRouter(client llm.Client, asm *agent.Assembler, logger *slog.Logger) *Router {
	return &Router{llm: client, assembler: asm, logger: logger}
}

// Route classifies the message. It always returns a valid decision.
func (r *Router) Route(ctx context.Context, userID uuid.UUID, message string) Decision {
	userContext := r.assembler.Assemble(userID)

	out, err := r.llm.Complete(ctx, []llm.Message{
		llm.User(prompts.RoutingPrompt(userContext, message)),
	})
	if err != nil {
		r.logger.Warn("routing call failed, using keyword fallback", "error", err)
		return KeywordRoute(message)
	}

	var parsed struct {
		PrimaryAgent    string   `json:"primary_agent"`
		SecondaryAgents []string `json:"secondary_agents"`
		Reasoning       string   `json:"reasoning"`
	}
	if err := llm.ParseJSONObject(out, &parsed); err != nil || parsed.PrimaryAgent == "" {
		r.logger.Debug("unusable routing response, using keyword fallback", "response", out)
		return KeywordRoute(message)
	}

	primary := agent.Tag(parsed.PrimaryAgent)
	if !agent.Known(primary) {
		r.logger.Debug("unknown primary tag from model, using keyword fallback", "tag", parsed.PrimaryAgent)
		return KeywordRoute(message)
	}

	var secondary []agent.Tag
	for _, s := range parsed.SecondaryAgents {
		t := agent.Tag(s)
		if agent.Known(t) && t != primary {
			secondary = append(secondary, t)
		}
	}

	return Decision{Primary: primary, Secondary: secondary, Reasoning: parsed.Reasoning}
}

// keywordRoutes are evaluated in priority order; first match wins.
var keywordRoutes = []struct {
	tag      agent.Tag
	keywords []string
}{
	{agent.TagProductivity, []string{"task", "todo", "remind", "schedule", "deadline", "priority"}},
	{agent.TagCreative, []string{"poem", "story", "write", "create", "summary", "brainstorm", "ideas", "game", "riddle"}},
	{agent.TagResearch, []string{"latest", "news", "current", "today", "search", "look up"}},
	{agent.TagKnowledge, []string{"document", "pdf", "my file", "uploaded"}},
	{agent.TagRecall, []string{"remember", "what do you know", "my preferences", "tell me about me"}},
}

// KeywordRoute is the deterministic tier-two router. Same message, same tag,
// no model involved. Messages matching nothing go to chat.
func KeywordRoute(message string) Decision {
	lower := strings.ToLower(message)
	for _, route := range keywordRoutes {
		for _, k := range route.keywords {
			if strings.Contains(lower, k) {
				return Decision{
					Primary:   route.tag,
					Reasoning: "keyword match for " + string(route.tag),
				}
			}
		}
	}
	return Decision{Primary: agent.TagChat, Reasoning: "default to chat"}
}
