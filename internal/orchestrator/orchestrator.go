// Package orchestrator composes the router, the agent set, and the memory
// extractor into the system's two entry points: a synchronous handle and a
// streaming handle with strict event framing.
package orchestrator

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/castellanhq/castellan/internal/agent"
	"github.com/castellanhq/castellan/internal/memory"
)

// EventType frames items on the streaming channel.
type EventType string

const (
	// EventRouting is always the first event: the chosen tag and reasoning.
	EventRouting EventType = "routing"
	// EventToken carries one response fragment.
	EventToken EventType = "token"
	// EventDone is always the last event on success, carrying the full
	// concatenated response.
	EventDone EventType = "done"
	// EventError terminates a failed stream.
	EventError EventType = "error"
)

// Event is one item of a response stream.
type Event struct {
	Type      EventType `json:"type"`
	Primary   agent.Tag `json:"primary_agent,omitempty"`
	Reasoning string    `json:"reasoning,omitempty"`
	Token     string    `json:"token,omitempty"`
	Response  string    `json:"response,omitempty"`
	Err       error     `json:"-"`
}

// Result is the synchronous handle's return value.
type Result struct {
	Response           string               `json:"response"`
	Primary            agent.Tag            `json:"primary_agent"`
	SecondaryResponses map[agent.Tag]string `json:"secondary_responses,omitempty"`
	Reasoning          string               `json:"reasoning,omitempty"`
}

// Notifier receives a best-effort signal after each completed turn.
type Notifier interface {
	TurnCompleted(ctx context.Context, userID uuid.UUID, tag agent.Tag, message, response string)
}

// Orchestrator routes messages to agents and runs post-turn processing.
type Orchestrator struct {
	router    *Router
	agents    map[agent.Tag]agent.Agent
	extractor *memory.Extractor
	notifier  Notifier
	logger    *slog.Logger
}

// New creates an orchestrator over the given agents. The set must include
// the chat agent, which doubles as the fallback for unknown tags.
// extractor and notifier may be nil.
func New(router *Router, agents []agent.Agent, extractor *memory.Extractor, notifier Notifier, logger *slog.Logger) *Orchestrator {
	m := make(map[agent.Tag]agent.Agent, len(agents))
	for _, a := range agents {
		m[a.Tag()] = a
	}
	if _, ok := m[agent.TagChat]; !ok {
		panic("orchestrator: chat agent is required")
	}
	return &Orchestrator{
		router:    router,
		agents:    m,
		extractor: extractor,
		notifier:  notifier,
		logger:    logger,
	}
}

// resolve maps a routed tag to a registered agent, substituting chat when
// the tag names no registered agent. The returned tag is the one actually
// dispatched, which is what gets reported to callers.
func (o *Orchestrator) resolve(tag agent.Tag) (agent.Agent, agent.Tag) {
	if a, ok := o.agents[tag]; ok {
		return a, tag
	}
	o.logger.Debug("no agent registered for tag, substituting chat", "tag", tag)
	return o.agents[agent.TagChat], agent.TagChat
}

// Handle processes one message synchronously: route, dispatch primary,
// best-effort secondaries, then memory extraction. A primary failure is
// surfaced; secondary and extraction failures never are.
func (o *Orchestrator) Handle(ctx context.Context, userID uuid.UUID, message string) (*Result, error) {
	decision := o.router.Route(ctx, userID, message)
	primary, tag := o.resolve(decision.Primary)

	response, err := primary.Process(ctx, userID, message)
	if err != nil {
		return nil, err
	}

	var secondaries map[agent.Tag]string
	for _, st := range decision.Secondary {
		if st == tag {
			continue
		}
		a, ok := o.agents[st]
		if !ok {
			continue
		}
		resp, serr := a.Process(ctx, userID, message)
		if serr != nil {
			o.logger.Warn("secondary agent failed", "agent", st, "error", serr)
			continue
		}
		if secondaries == nil {
			secondaries = make(map[agent.Tag]string)
		}
		secondaries[st] = resp
	}

	o.afterTurn(ctx, userID, tag, message, response)

	return &Result{
		Response:           response,
		Primary:            tag,
		SecondaryResponses: secondaries,
		Reasoning:          decision.Reasoning,
	}, nil
}

// HandleStream processes one message as an event stream. Framing is strict:
// exactly one routing event, then zero or more token events, then exactly
// one done event (or an error event on primary failure). Post-turn work
// runs only after the done event so consumers are never blocked by it.
// The channel is closed when the stream ends. A consumer that stops
// receiving must cancel ctx: the channel buffer is small, and once it
// fills the producer goroutine blocks until cancellation releases it.
func (o *Orchestrator) HandleStream(ctx context.Context, userID uuid.UUID, message string) <-chan Event {
	events := make(chan Event, 16)

	go func() {
		defer close(events)

		decision := o.router.Route(ctx, userID, message)
		primary, tag := o.resolve(decision.Primary)

		if !send(ctx, events, Event{Type: EventRouting, Primary: tag, Reasoning: decision.Reasoning}) {
			return
		}

		response, err := primary.ProcessStream(ctx, userID, message, func(token string) {
			send(ctx, events, Event{Type: EventToken, Token: token})
		})
		if err != nil {
			send(ctx, events, Event{Type: EventError, Err: err})
			return
		}

		if !send(ctx, events, Event{Type: EventDone, Primary: tag, Response: response}) {
			return
		}

		o.afterTurn(ctx, userID, tag, message, response)
	}()

	return events
}

func send(ctx context.Context, events chan<- Event, e Event) bool {
	select {
	case events <- e:
		return true
	case <-ctx.Done():
		return false
	}
}

// afterTurn runs memory extraction and the turn notification. Both are
// best-effort and shielded from the caller's cancellation so an abandoned
// stream cannot skip them once the response is complete.
func (o *Orchestrator) afterTurn(ctx context.Context, userID uuid.UUID, tag agent.Tag, message, response string) {
	ctx = context.WithoutCancel(ctx)

	if o.extractor != nil {
		o.extractor.Extract(ctx, userID, message, response)
	}
	if o.notifier != nil {
		o.notifier.TurnCompleted(ctx, userID, tag, message, response)
	}
}
