// Package llm provides LLM client implementations.
package llm

import "context"

// Message roles understood by every provider.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a chat message for the LLM. Providers depend on
// nothing beyond role and content.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// System is a convenience constructor for a system message.
func System(content string) Message { return Message{Role: RoleSystem, Content: content} }

// User is a convenience constructor for a user message.
func User(content string) Message { return Message{Role: RoleUser, Content: content} }

// Assistant is a convenience constructor for an assistant message.
func Assistant(content string) Message { return Message{Role: RoleAssistant, Content: content} }

// Client is the interface that all LLM providers must implement.
type Client interface {
	// Complete sends a chat completion request and returns the full response text.
	Complete(ctx context.Context, messages []Message) (string, error)

	// Stream sends a streaming chat request. Each text fragment is passed
	// to onToken as it arrives; the concatenation of all fragments is
	// returned once the stream is exhausted.
	Stream(ctx context.Context, messages []Message, onToken func(string)) (string, error)

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}
