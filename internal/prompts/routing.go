package prompts

import "fmt"

// routingTemplate asks the model to classify a user message into agent tags.
// The two format verbs are the assembled user context and the message itself.
const routingTemplate = `You are the router for a multi-agent personal assistant. Analyze the user's message and decide which agent(s) should handle it.

Available agents:
- chat: casual conversation, greetings, general questions
- productivity: tasks, reminders, scheduling, prioritization
- creative: poems, stories, jokes, riddles, games, brainstorming, summaries
- research: questions needing current or real-time information from the web
- knowledge: questions about the user's uploaded documents
- recall: questions about the user's own stored preferences and history

Respond with a JSON object only:
{
    "primary_agent": "agent_name",
    "secondary_agents": ["agent_name"],
    "reasoning": "brief explanation"
}

User context:
%s

Message: %s

JSON:`

// RoutingPrompt returns the fully interpolated routing classification prompt.
func RoutingPrompt(context, message string) string {
	return fmt.Sprintf(routingTemplate, context, message)
}
