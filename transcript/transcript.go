// Package transcript defines the contract for reading chat history and
// derives user/assistant exchange pairs from it. The chat transport
// itself lives elsewhere; this engine only consumes ordered messages.
package transcript

import (
	"context"
	"time"
)

// Role identifies the speaker of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one chat message as stored by the surrounding application.
type Message struct {
	ID        string
	Role      Role
	Content   string
	Timestamp time.Time
}

// Source yields a chat's messages in conversation order.
type Source interface {
	Messages(ctx context.Context, chatID string) ([]Message, error)
}

// Exchange is a user message immediately followed by an assistant
// message, the unit the extraction pipeline consumes.
type Exchange struct {
	User      Message
	Assistant Message
}

// Pairs derives exchanges from an ordered message list. Only a user
// message directly followed by an assistant message forms an exchange;
// system messages, consecutive same-role messages and trailing
// unanswered messages are skipped.
func Pairs(messages []Message) []Exchange {
	var out []Exchange
	for i := 0; i+1 < len(messages); i++ {
		if messages[i].Role == RoleUser && messages[i+1].Role == RoleAssistant {
			out = append(out, Exchange{User: messages[i], Assistant: messages[i+1]})
			i++ // the assistant message is consumed
		}
	}
	return out
}
