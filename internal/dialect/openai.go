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

// OpenAI implements Dialect for the OpenAI-compatible family (spec
// §4.5). Adapted from the teacher's Google/Gemini translation pattern
// (google.go) — the shape differs, but the five-step flow (translate,
// serialize, authenticate, call, parse) is the same.
type OpenAI struct{}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model     string          `json:"model"`
	Messages  []openAIMessage `json:"messages"`
	Stream    bool            `json:"stream"`
	MaxTokens int             `json:"max_tokens,omitempty"`
}

type openAIChoice struct {
	Index   int           `json:"index"`
	Message openAIMessage `json:"message"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type openAIResponse struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Choices []openAIChoice `json:"choices"`
	Usage   openAIUsage    `json:"usage"`
}

type openAIDelta struct {
	Content string `json:"content,omitempty"`
}

type openAIStreamChoice struct {
	Delta        openAIDelta `json:"delta"`
	FinishReason *string     `json:"finish_reason"`
}

type openAIStreamChunk struct {
	Choices []openAIStreamChoice `json:"choices"`
	Usage   *openAIUsage         `json:"usage,omitempty"`
}

func (OpenAI) BuildURL(apiBase string) string {
	return strings.TrimRight(apiBase, "/") + "/chat/completions"
}

func (OpenAI) BuildHeaders(apiKey string) http.Header {
	h := make(http.Header)
	h.Set("Authorization", "Bearer "+apiKey)
	h.Set("Content-Type", "application/json")
	return h
}

// BuildBody keeps every message verbatim, including system messages —
// unlike Anthropic, OpenAI's family treats "system" as a normal role in
// the messages array (spec §4.5).
func (OpenAI) BuildBody(ec resolver.EffectiveConfig, msgs []message.Message, stream bool) ([]byte, error) {
	req := openAIRequest{
		Model:  ec.Model,
		Stream: stream,
	}
	for _, m := range msgs {
		req.Messages = append(req.Messages, openAIMessage{Role: string(m.Role), Content: m.Content})
	}
	if ec.MaxTokens != nil {
		req.MaxTokens = *ec.MaxTokens
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshaling openai request: %w", err)
	}
	return body, nil
}

func (OpenAI) ParseResponse(body []byte) (string, usage.Usage, error) {
	var resp openAIResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", usage.Usage{}, errs.ParseError(snippet(body), err)
	}
	if len(resp.Choices) == 0 {
		return "", usage.Usage{}, errs.ParseError(snippet(body), fmt.Errorf("no choices in response"))
	}
	u := usage.Usage{PromptTokens: resp.Usage.PromptTokens, CompletionTokens: resp.Usage.CompletionTokens}
	return resp.Choices[0].Message.Content, u, nil
}

// ParseStream reads OpenAI-style SSE: a single data: line per event, a
// sentinel "[DONE]" data payload terminating the sequence (spec §4.5,
// scenario S5).
func (OpenAI) ParseStream(ctx context.Context, body io.ReadCloser) <-chan StreamEvent {
	ch := make(chan StreamEvent)

	go func() {
		defer close(ch)
		defer body.Close()

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

			if ev.Data == "[DONE]" {
				emit(ctx, ch, StreamEvent{Delta: "", Done: true})
				return
			}

			var chunk openAIStreamChunk
			if err := json.Unmarshal([]byte(ev.Data), &chunk); err != nil {
				emit(ctx, ch, StreamEvent{Done: true, Err: errs.StreamParseError(err)})
				return
			}

			out := StreamEvent{}
			if len(chunk.Choices) > 0 {
				out.Delta = chunk.Choices[0].Delta.Content
			}
			if chunk.Usage != nil {
				out.Usage = &usage.Usage{PromptTokens: chunk.Usage.PromptTokens, CompletionTokens: chunk.Usage.CompletionTokens}
			}
			if !emit(ctx, ch, out) {
				return
			}
		}
	}()

	return ch
}

// emit sends ev on ch unless ctx is cancelled first, returning false
// when the caller should stop producing (cancellation observed).
func emit(ctx context.Context, ch chan<- StreamEvent, ev StreamEvent) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func snippet(body []byte) string {
	const max = 200
	s := string(body)
	if len(s) > max {
		return s[:max] + "…"
	}
	return s
}
