package dialect

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/coreseekdev/emx-llm/internal/errs"
	"github.com/coreseekdev/emx-llm/internal/message"
	"github.com/coreseekdev/emx-llm/internal/resolver"
	"github.com/coreseekdev/emx-llm/internal/sse"
	"github.com/coreseekdev/emx-llm/internal/usage"
)

// Anthropic implements Dialect for the Anthropic Messages API family
// (spec §4.5). Adapted from the teacher's AnthropicProvider — the
// request/response shapes and the streaming state machine are the same
// idea, generalized to the Dialect interface and to this project's
// EffectiveConfig/message types.
type Anthropic struct{}

// anthropicAPIVersion pins the API version header, same as the teacher.
const anthropicAPIVersion = "2023-06-01"

// defaultMaxTokens is Anthropic's required field's fallback when no
// level of the config tree set max_tokens (spec §4.5: "default 4096").
const defaultMaxTokens = 4096

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	Stream    bool               `json:"stream,omitempty"`
}

type anthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicResponse struct {
	ID         string                  `json:"id"`
	Content    []anthropicContentBlock `json:"content"`
	Model      string                  `json:"model"`
	StopReason string                  `json:"stop_reason"`
	Usage      anthropicUsage          `json:"usage"`
}

func (Anthropic) BuildURL(apiBase string) string {
	return strings.TrimRight(apiBase, "/") + "/v1/messages"
}

func (Anthropic) BuildHeaders(apiKey string) http.Header {
	h := make(http.Header)
	h.Set("x-api-key", apiKey)
	h.Set("anthropic-version", anthropicAPIVersion)
	h.Set("Content-Type", "application/json")
	return h
}

// BuildBody pulls every system-role message out of the conversation and
// concatenates them, in order, into the top-level "system" field (spec
// §4.5, scenario S4); every other message passes through unchanged.
func (Anthropic) BuildBody(ec resolver.EffectiveConfig, msgs []message.Message, stream bool) ([]byte, error) {
	req := anthropicRequest{
		Model:  ec.Model,
		Stream: stream,
	}

	var systemParts []string
	for _, m := range msgs {
		if m.Role == message.RoleSystem {
			systemParts = append(systemParts, m.Content)
			continue
		}
		req.Messages = append(req.Messages, anthropicMessage{Role: string(m.Role), Content: m.Content})
	}
	if len(systemParts) > 0 {
		req.System = strings.Join(systemParts, "\n")
	}

	switch {
	case ec.MaxTokens != nil:
		req.MaxTokens = *ec.MaxTokens
	default:
		req.MaxTokens = defaultMaxTokens
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling anthropic request: %w", err)
	}
	return body, nil
}

func (Anthropic) ParseResponse(body []byte) (string, usage.Usage, error) {
	var resp anthropicResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", usage.Usage{}, errs.ParseError(snippet(body), err)
	}

	blocks := make([]message.ContentBlock, 0, len(resp.Content))
	for _, b := range resp.Content {
		blocks = append(blocks, message.ContentBlock{Type: b.Type, Text: b.Text})
	}
	text := message.FlattenText(blocks)

	u := usage.Usage{PromptTokens: resp.Usage.InputTokens, CompletionTokens: resp.Usage.OutputTokens}
	return text, u, nil
}

// anthropicStreamEvent is a lightweight wrapper used to read the "type"
// discriminator first, same approach as the teacher's decoding: only
// the fields relevant to that type are populated, the rest stay zero.
type anthropicStreamEvent struct {
	Type    string                 `json:"type"`
	Message *anthropicEventMessage `json:"message,omitempty"`
	Delta   *anthropicEventDelta   `json:"delta,omitempty"`
	Usage   *anthropicUsage        `json:"usage,omitempty"`
}

type anthropicEventMessage struct {
	ID    string         `json:"id"`
	Model string         `json:"model"`
	Usage anthropicUsage `json:"usage"`
}

type anthropicEventDelta struct {
	Type       string `json:"type,omitempty"`
	Text       string `json:"text,omitempty"`
	StopReason string `json:"stop_reason,omitempty"`
}

// streamState names the FSM states from the spec's description of the
// Anthropic SSE parser (§4 "State machines"). Unknown event types are
// absorbed without a transition, in every state.
type streamState int

const (
	stateInitial streamState = iota
	stateAwaitBlock
	stateInBlock
	stateTerminal
)

// ParseStream drives the Anthropic SSE state machine: message_start →
// AWAIT_BLOCK, content_block_start → IN_BLOCK (emitting deltas on
// content_block_delta), content_block_stop → back to AWAIT_BLOCK,
// message_delta records usage without a transition, message_stop emits
// the terminal event and ends the sequence.
func (Anthropic) ParseStream(ctx context.Context, body io.ReadCloser) <-chan StreamEvent {
	ch := make(chan StreamEvent)

	go func() {
		defer close(ch)
		defer body.Close()

		var (
			inputTokens  int
			outputTokens int
		)
		state := stateInitial

		r := sse.NewReader(body)
		for {
			ev, err := r.Next()
			if err == io.EOF {
				return
			}
			if err != nil {
				emit(ctx, ch, StreamEvent{Done: true, Err: errs.StreamParseError(err)})
				return
			}
			if ev.Data == "" {
				continue
			}

			var event anthropicStreamEvent
			if err := json.Unmarshal([]byte(ev.Data), &event); err != nil {
				emit(ctx, ch, StreamEvent{Done: true, Err: errs.StreamParseError(err)})
				return
			}

			switch event.Type {
			case "message_start":
				state = stateAwaitBlock
				if event.Message != nil {
					inputTokens = event.Message.Usage.InputTokens
				}

			case "content_block_start":
				if state != stateAwaitBlock {
					continue
				}
				state = stateInBlock

			case "content_block_delta":
				if state != stateInBlock || event.Delta == nil {
					continue
				}
				if !emit(ctx, ch, StreamEvent{Delta: event.Delta.Text}) {
					return
				}

			case "content_block_stop":
				if state != stateInBlock {
					continue
				}
				state = stateAwaitBlock

			case "message_delta":
				if event.Usage != nil {
					outputTokens = event.Usage.OutputTokens
				}

			case "message_stop":
				state = stateTerminal
				u := usage.Usage{PromptTokens: inputTokens, CompletionTokens: outputTokens}
				emit(ctx, ch, StreamEvent{Done: true, Usage: &u})
				return

			case "ping":
				// ignored, no transition

			default:
				// unknown event type, absorbed without a transition
			}
		}
	}()

	return ch
}
