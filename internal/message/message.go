// Package message defines the canonical chat message shape shared by every
// dialect. Wire-format-specific request/response structs live in
// internal/dialect; this package only knows about the uniform
// role+content representation the rest of the system passes around.
package message

import (
	"encoding/json"
	"fmt"
)

// Role is one of the three roles a Message may carry. Decoding a Message
// from JSON with any other role is an error (see UnmarshalJSON).
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func (r Role) valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	default:
		return false
	}
}

// Message is one turn in a conversation. Once constructed it is never
// mutated — callers that want to edit history build a new slice.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// System builds a system-role message.
func System(text string) Message { return Message{Role: RoleSystem, Content: text} }

// User builds a user-role message.
func User(text string) Message { return Message{Role: RoleUser, Content: text} }

// Assistant builds an assistant-role message.
func Assistant(text string) Message { return Message{Role: RoleAssistant, Content: text} }

// UnmarshalJSON rejects roles outside {system,user,assistant}, so a
// malformed or unexpected role from a gateway caller surfaces as an
// explicit error instead of silently flowing through the pipeline. The
// dialect response parsers decode upstream replies into their own wire
// structs, not into Message, and do not check the upstream's role.
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	role := Role(raw.Role)
	if !role.valid() {
		return fmt.Errorf("message: invalid role %q", raw.Role)
	}
	m.Role = role
	m.Content = raw.Content
	return nil
}

// ContentBlock is one piece of a provider's structured content response,
// e.g. Anthropic's content array. Only text-type blocks carry visible
// text; the rest (tool_use, image, …) are out of scope (spec §1) and are
// dropped by FlattenText.
type ContentBlock struct {
	Type string
	Text string
}

// FlattenText concatenates all text-type blocks, in order, into a single
// string. Non-text blocks are ignored. This is the one normalization
// rule every dialect response parser shares (spec §4.1).
func FlattenText(blocks []ContentBlock) string {
	var out string
	for _, b := range blocks {
		if b.Type == "text" {
			out += b.Text
		}
	}
	return out
}
