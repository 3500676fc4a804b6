package core

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Message roles used in a Conversation.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is one entry of the shared conversation passed between stages.
type Message struct {
	Role   string `json:"role"`
	Author string `json:"author,omitempty"` // stage name for assistant messages
	Text   string `json:"text"`

	// Request is set on the message that opened a run and survives the
	// JSON hop to remote stages.
	Request *Request `json:"request,omitempty"`
}

// Conversation is the ordered context handed from one stage to the next.
// A stage receives a clone; it never mutates the caller's copy.
type Conversation struct {
	Messages []Message `json:"messages"`
}

// NewConversation starts a conversation from the given messages.
func NewConversation(msgs ...Message) Conversation {
	return Conversation{Messages: append([]Message(nil), msgs...)}
}

// Append adds a message at the end of the conversation.
func (c *Conversation) Append(m Message) { c.Messages = append(c.Messages, m) }

// Len returns the number of messages.
func (c Conversation) Len() int { return len(c.Messages) }

// Clone returns a copy whose message slice is independent from c.
func (c Conversation) Clone() Conversation {
	return Conversation{Messages: append([]Message(nil), c.Messages...)}
}

// LastAssistant returns the most recent assistant-authored message.
func (c Conversation) LastAssistant() (Message, bool) {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == RoleAssistant {
			return c.Messages[i], true
		}
	}
	return Message{}, false
}

// Last returns the final message of the conversation, if any.
func (c Conversation) Last() (Message, bool) {
	if len(c.Messages) == 0 {
		return Message{}, false
	}
	return c.Messages[len(c.Messages)-1], true
}

// Request is the inbound trigger of a pipeline run: an identifier (typically a
// machine id) plus an opaque measurement payload.
type Request struct {
	ID      string         `json:"id"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Validate checks the minimal shape of a request.
func (r Request) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("request id is required")
	}
	return nil
}

// Message renders the request as the initial user message of a run.
func (r Request) Message() Message {
	text := fmt.Sprintf("Event for %s.", r.ID)
	if len(r.Payload) > 0 {
		// map keys are emitted sorted, so the rendering is deterministic
		if data, err := json.Marshal(r.Payload); err == nil {
			text = fmt.Sprintf("Event for %s: %s", r.ID, data)
		}
	}
	req := r
	return Message{Role: RoleUser, Text: text, Request: &req}
}

// ParseRequestMessage recovers the request rendered by Request.Message. The
// attached request wins; a bare text rendering is parsed as a fallback. It
// reports false for any other message.
func ParseRequestMessage(m Message) (Request, bool) {
	if m.Role != RoleUser {
		return Request{}, false
	}
	if m.Request != nil {
		return *m.Request, m.Request.ID != ""
	}

	rest, ok := strings.CutPrefix(m.Text, "Event for ")
	if !ok {
		return Request{}, false
	}

	if strings.HasSuffix(rest, "}") {
		// the id may itself contain ": ", so try every split point
		for off := 0; ; {
			i := strings.Index(rest[off:], ": ")
			if i < 0 {
				return Request{}, false
			}
			id, data := rest[:off+i], rest[off+i+2:]
			off += i + 2

			var payload map[string]any
			if id != "" && json.Unmarshal([]byte(data), &payload) == nil && len(payload) > 0 {
				return Request{ID: id, Payload: payload}, true
			}
		}
	}

	if id, ok := strings.CutSuffix(rest, "."); ok && id != "" {
		return Request{ID: id}, true
	}
	return Request{}, false
}
