// Package dialect shapes requests and parses responses for each wire
// family (spec §4.5). It generalizes the teacher's per-provider
// translation functions (toAnthropicRequest, the Gemini equivalent) and
// its response/stream parsing into a shared interface, so the
// dispatcher never needs to know which upstream it's talking to beyond
// picking the right Dialect value.
package dialect

import (
	"context"
	"io"
	"net/http"

	"github.com/coreseekdev/emx-llm/internal/config"
	"github.com/coreseekdev/emx-llm/internal/message"
	"github.com/coreseekdev/emx-llm/internal/resolver"
	"github.com/coreseekdev/emx-llm/internal/usage"
)

// StreamEvent is one item in the lazy sequence a Dialect's ParseStream
// produces. A non-terminal event carries a Delta (possibly empty) and,
// when the upstream reports it on that event, Usage. Done marks the final
// item; Err is set only on a final item that ends the sequence in failure.
type StreamEvent struct {
	Delta string
	Usage *usage.Usage
	Done  bool
	Err   error
}

// Dialect is the capability set shared by every wire family: build_url,
// build_headers, build_body, parse_response, parse_stream (spec §9
// design note — a small interface, not a hierarchy of provider types).
type Dialect interface {
	// BuildURL returns the full chat-completion endpoint for apiBase,
	// normalizing a trailing slash.
	BuildURL(apiBase string) string

	// BuildHeaders returns the auth and content headers for a request
	// authenticated with apiKey.
	BuildHeaders(apiKey string) http.Header

	// BuildBody shapes the wire request body for the given effective
	// config, conversation, and streaming flag.
	BuildBody(ec resolver.EffectiveConfig, msgs []message.Message, stream bool) ([]byte, error)

	// ParseResponse parses a complete non-streaming response body.
	ParseResponse(body []byte) (text string, u usage.Usage, err error)

	// ParseStream parses an SSE response body into a channel of
	// StreamEvents. The returned channel's producer owns body and
	// closes it — on any return path — when the sequence terminates,
	// whether by Done, by Err, or by ctx being cancelled.
	ParseStream(ctx context.Context, body io.ReadCloser) <-chan StreamEvent
}

// ForKind selects the Dialect implementation for a resolved
// ProviderKind. The dispatcher uses this instead of a type switch at
// every call site.
func ForKind(kind config.Kind) Dialect {
	switch kind {
	case config.KindAnthropic:
		return Anthropic{}
	default:
		return OpenAI{}
	}
}
