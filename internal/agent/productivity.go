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

// maxListedTasks caps how many pending tasks a query response enumerates.
const maxListedTasks = 10

var (
	taskCreationKeywords = []string{"create task", "add task", "new task", "remind me", "todo", "need to"}
	taskQueryKeywords    = []string{"my tasks", "show tasks", "list tasks", "what do i need", "what should i"}
)

// Productivity manages the user's tasks. Creation and query requests are
// handled deterministically; only general productivity questions and
// structured field extraction go through the language model.
type Productivity struct {
	base
}

// NewProductivity creates the task management agent.
func NewProductivity(client llm.Client, st *store.Store, asm *Assembler, logger *slog.Logger) *Productivity {
	return &Productivity{base{
		tag:       TagProductivity,
		system:    prompts.ProductivitySystem(),
		llm:       client,
		store:     st,
		assembler: asm,
		logger:    logger,
	}}
}

func (p *Productivity) Process(ctx context.Context, userID uuid.UUID, message string) (string, error) {
	return p.handle(ctx, userID, message, nil)
}

func (p *Productivity) ProcessStream(ctx context.Context, userID uuid.UUID, message string, onToken func(string)) (string, error) {
	return p.handle(ctx, userID, message, onToken)
}

func (p *Productivity) handle(ctx context.Context, userID uuid.UUID, message string, onToken func(string)) (string, error) {
	switch {
	case matchesAny(message, taskCreationKeywords):
		response, err := p.createTask(ctx, userID, message)
		if err != nil {
			return "", err
		}
		return p.fixed(userID, message, response, map[string]any{"task_type": "creation"}, onToken), nil

	case matchesAny(message, taskQueryKeywords):
		response, err := p.listTasks(userID)
		if err != nil {
			return "", err
		}
		return p.fixed(userID, message, response, map[string]any{"task_type": "query"}, onToken), nil

	default:
		tasks, _ := p.store.GetTasks(userID, store.StatusPending, "")
		extra := fmt.Sprintf("The user currently has %d pending tasks.", len(tasks))
		msgs := p.messages(userID, message, extra)
		if onToken == nil {
			return p.respond(ctx, userID, message, msgs, nil)
		}
		return p.respondStream(ctx, userID, message, msgs, nil, onToken)
	}
}

// createTask asks the model to extract structured task fields. When
// extraction fails to parse, the message itself becomes the title so a
// malformed model response never loses the user's task.
func (p *Productivity) createTask(ctx context.Context, userID uuid.UUID, message string) (string, error) {
	var title, description, priority, dueDate string

	out, err := p.llm.Complete(ctx, []llm.Message{llm.User(prompts.TaskExtractionPrompt(message))})
	if err == nil {
		var obj map[string]any
		if perr := llm.ParseJSONObject(out, &obj); perr == nil {
			title, _ = obj["title"].(string)
			description, _ = obj["description"].(string)
			priority, _ = obj["priority"].(string)
			dueDate, _ = obj["due_date"].(string)
		}
	} else {
		p.logger.Warn("task extraction failed", "error", err)
	}

	if title == "" {
		title = truncate(message, 100)
		priority = store.PriorityMedium
	}

	task, err := p.store.CreateTask(userID, title, description, priority, dueDate)
	if err != nil {
		return "", fmt.Errorf("productivity agent: create task: %w", err)
	}

	response := fmt.Sprintf("Task created: **%s**\nPriority: %s", task.Title, strings.ToUpper(task.Priority))
	if task.DueDate != "" {
		response += "\nDue: " + task.DueDate
	}
	return response, nil
}

// listTasks renders the user's pending tasks, highest priority first.
func (p *Productivity) listTasks(userID uuid.UUID) (string, error) {
	tasks, err := p.store.GetTasks(userID, store.StatusPending, "")
	if err != nil {
		return "", fmt.Errorf("productivity agent: list tasks: %w", err)
	}
	if len(tasks) == 0 {
		return "You don't have any pending tasks. Great job!", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You have **%d** pending tasks:\n\n", len(tasks))
	for i, t := range tasks {
		if i >= maxListedTasks {
			break
		}
		fmt.Fprintf(&b, "%d. **%s**", i+1, t.Title)
		if t.DueDate != "" {
			fmt.Fprintf(&b, " (due %s)", t.DueDate)
		}
		b.WriteString("\n")
	}
	return b.String(), nil
}

func matchesAny(message string, keywords []string) bool {
	lower := strings.ToLower(message)
	for _, k := range keywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}
