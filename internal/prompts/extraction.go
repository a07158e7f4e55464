package prompts

import "fmt"

// memoryExtractionTemplate is sent after each completed turn to pull durable
// facts out of the conversation. The single format verb is the turn
// transcript (user message plus assistant response).
const memoryExtractionTemplate = `Analyze this conversation and extract any important user preferences, facts, or patterns that should be remembered for future conversations.

Conversation:
%s

Provide a JSON array of memories:
[
    {"key": "preference_name", "value": "preference_value", "context": "why this matters"}
]

Only extract genuinely useful information. Return an empty array if nothing is notable.

JSON:`

// MemoryExtractionPrompt returns the fully interpolated memory extraction
// prompt for a single conversation turn.
func MemoryExtractionPrompt(conversation string) string {
	return fmt.Sprintf(memoryExtractionTemplate, conversation)
}

// taskExtractionTemplate turns a natural-language request into structured
// task fields. The single format verb is the user message.
const taskExtractionTemplate = `Extract task details from this message: %q

Provide a JSON object with:
{
    "title": "task title",
    "description": "optional description",
    "priority": "low|medium|high",
    "due_date": "YYYY-MM-DD or null"
}

JSON:`

// TaskExtractionPrompt returns the fully interpolated task extraction prompt.
func TaskExtractionPrompt(message string) string {
	return fmt.Sprintf(taskExtractionTemplate, message)
}
