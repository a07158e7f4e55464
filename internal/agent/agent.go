// Package agent implements the specialized responders that handle user
// messages. Every agent satisfies the same contract: it assembles bounded
// user context, calls the language model (blocking or streaming), and
// persists exactly one conversation turn once the response is fully known.
package agent

import (
	"context"

	"github.com/google/uuid"
)

// Tag identifies an agent variant. Tags are stored on conversation turns
// and used by the router to address agents.
type Tag string

const (
	TagChat         Tag = "chat"
	TagProductivity Tag = "productivity"
	TagCreative     Tag = "creative"
	TagResearch     Tag = "research"
	TagKnowledge    Tag = "knowledge"
	TagRecall       Tag = "recall"
)

// KnownTags lists every agent variant in routing priority order.
var KnownTags = []Tag{TagProductivity, TagCreative, TagResearch, TagKnowledge, TagRecall, TagChat}

// Known reports whether t names a real agent variant.
func Known(t Tag) bool {
	switch t {
	case TagChat, TagProductivity, TagCreative, TagResearch, TagKnowledge, TagRecall:
		return true
	}
	return false
}

// Agent is the capability contract every variant implements.
//
// ProcessStream delivers the response incrementally through onToken; the
// concatenation of all fragments equals the returned string, which in turn
// equals what Process would have produced for the same inputs and model
// output. Both paths persist exactly one conversation turn per call.
type Agent interface {
	Tag() Tag
	Process(ctx context.Context, userID uuid.UUID, message string) (string, error)
	ProcessStream(ctx context.Context, userID uuid.UUID, message string, onToken func(string)) (string, error)
}

// ReservedPrefix namespaces memory keys that hold agent-private state.
// The context assembler and the recall agent never expose these keys.
const ReservedPrefix = "_castellan/"
