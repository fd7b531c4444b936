package extract

import (
	"fmt"
	"strings"
)

// Perspective selects which side of the conversation a classification
// call extracts facts about. The two perspectives are asymmetric and a
// single combined pass under-extracts, so the pipeline always runs both.
type Perspective string

const (
	PerspectiveUser      Perspective = "user"
	PerspectiveCharacter Perspective = "character"
)

const promptHeader = `You are a memory extraction system for a character chat application.
Analyze the exchange and decide whether it contains a durable fact worth remembering.

Respond with a single strict JSON object and nothing else:
{"significant": bool, "content": string, "summary": string, "keywords": [string], "importance": number}

Rules:
- "significant" is true only for durable facts (preferences, biography, relationships, commitments), never for small talk.
- "content" is the full fact in one or two sentences, third person.
- "summary" is a single short sentence.
- "keywords" are 2-5 short lookup terms.
- "importance" is 0.0-1.0: 0.3 minor detail, 0.5 typical fact, 0.8+ core biography.
- If nothing is worth remembering, respond {"significant": false}.`

const batchPromptHeader = `You are a memory extraction system for a character chat application.
Analyze each numbered exchange independently and decide whether it contains a durable fact worth remembering.

Respond with a single strict JSON array and nothing else, one object per exchange, in the same order:
[{"significant": bool, "content": string, "summary": string, "keywords": [string], "importance": number}, ...]

Rules:
- "significant" is true only for durable facts (preferences, biography, relationships, commitments), never for small talk.
- "content" is the full fact in one or two sentences, third person.
- "summary" is a single short sentence.
- "keywords" are 2-5 short lookup terms.
- "importance" is 0.0-1.0: 0.3 minor detail, 0.5 typical fact, 0.8+ core biography.
- For an exchange with nothing worth remembering, emit {"significant": false} in its slot.`

// perspectivePrompt builds the system prompt for one classification call.
func perspectivePrompt(p Perspective, s Scope, batch bool) string {
	header := promptHeader
	if batch {
		header = batchPromptHeader
	}

	userName := s.PersonaName
	if userName == "" {
		userName = "the user"
	}
	charName := s.CharacterName
	if charName == "" {
		charName = "the character"
	}

	var focus string
	switch p {
	case PerspectiveCharacter:
		focus = fmt.Sprintf("Extract facts about %s (the assistant character): things %s revealed, committed to, or had attributed to them.", charName, charName)
	default:
		focus = fmt.Sprintf("Extract facts about %s (the human): their life, preferences, relationships, and plans.", userName)
	}

	return header + "\n\n" + focus
}

// formatExchange renders one exchange for a single-shot prompt.
func formatExchange(s Scope, ex Exchange) string {
	userName := s.PersonaName
	if userName == "" {
		userName = "User"
	}
	charName := s.CharacterName
	if charName == "" {
		charName = "Character"
	}
	return fmt.Sprintf("%s: %s\n%s: %s", userName, ex.UserMessage, charName, ex.AssistantMessage)
}

// formatExchangeBatch renders a chunk of exchanges for a batched prompt.
func formatExchangeBatch(s Scope, exchanges []Exchange) string {
	var b strings.Builder
	for i, ex := range exchanges {
		fmt.Fprintf(&b, "--- Exchange %d ---\n%s\n", i+1, formatExchange(s, ex))
	}
	return b.String()
}
