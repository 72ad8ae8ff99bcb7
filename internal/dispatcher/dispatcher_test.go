package dispatcher

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreseekdev/emx-llm/internal/config"
	"github.com/coreseekdev/emx-llm/internal/errs"
	"github.com/coreseekdev/emx-llm/internal/message"
	"github.com/coreseekdev/emx-llm/internal/mockserver"
	"github.com/coreseekdev/emx-llm/internal/resolver"
)

// withFastRetries shrinks the package's retry backoff for the duration
// of a test, so retry tests don't pay the real 1s/2s/4s wall-clock cost.
func withFastRetries(t *testing.T) {
	t.Helper()
	orig := retryDelays
	retryDelays = []time.Duration{time.Millisecond, 2 * time.Millisecond, 4 * time.Millisecond}
	t.Cleanup(func() { retryDelays = orig })
}

// S1: POST with the expected body and header, mock reply yields the
// expected text and usage.
func TestChat_S1(t *testing.T) {
	var gotAuth, gotPath string
	var gotBody map[string]interface{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":      "resp-1",
			"choices": []map[string]interface{}{{"message": map[string]string{"role": "assistant", "content": "hello"}}},
			"usage":   map[string]int{"prompt_tokens": 1, "completion_tokens": 1},
		})
	}))
	defer srv.Close()

	ec := resolver.EffectiveConfig{Kind: config.KindOpenAI, APIBase: srv.URL, APIKey: "sk-x", Model: "gpt-4", Timeout: time.Second}
	c := New(srv.Client())

	text, u, err := c.Chat(context.Background(), ec, []message.Message{message.User("hi")})
	require.NoError(t, err)
	assert.Equal(t, "hello", text)
	assert.Equal(t, 1, u.PromptTokens)
	assert.Equal(t, 1, u.CompletionTokens)

	assert.Equal(t, "Bearer sk-x", gotAuth)
	assert.Equal(t, "/chat/completions", gotPath)
	assert.Equal(t, "gpt-4", gotBody["model"])
}

// S6: mock returns 429 twice then 200; the call succeeds with exactly 3
// requests total.
func TestChat_RetriesOn429ThenSucceeds_S6(t *testing.T) {
	withFastRetries(t)

	var count int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&count, 1)
		if n <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{{"message": map[string]string{"content": "ok"}}},
			"usage":   map[string]int{},
		})
	}))
	defer srv.Close()

	ec := resolver.EffectiveConfig{Kind: config.KindOpenAI, APIBase: srv.URL, APIKey: "k", Model: "m", Timeout: time.Second}
	c := New(srv.Client())

	text, _, err := c.Chat(context.Background(), ec, []message.Message{message.User("hi")})
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.EqualValues(t, 3, atomic.LoadInt32(&count))
}

// Property 6: the number of HTTP requests issued by a single chat call
// is <= 4, even when the upstream always returns 429.
func TestChat_RetryBoundedAtFourRequests(t *testing.T) {
	withFastRetries(t)

	var count int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&count, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	ec := resolver.EffectiveConfig{Kind: config.KindOpenAI, APIBase: srv.URL, APIKey: "k", Model: "m", Timeout: time.Second}
	c := New(srv.Client())

	_, _, err := c.Chat(context.Background(), ec, []message.Message{message.User("hi")})
	require.Error(t, err)
	kind, ok := errs.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, errs.KindProvider, kind)
	assert.LessOrEqual(t, int(atomic.LoadInt32(&count)), maxAttempts)
	assert.EqualValues(t, maxAttempts, atomic.LoadInt32(&count))
}

// 5xx is never retried — it surfaces after exactly one request.
func TestChat_5xxNotRetried(t *testing.T) {
	withFastRetries(t)

	var count int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&count, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ec := resolver.EffectiveConfig{Kind: config.KindOpenAI, APIBase: srv.URL, APIKey: "k", Model: "m", Timeout: time.Second}
	c := New(srv.Client())

	_, _, err := c.Chat(context.Background(), ec, []message.Message{message.User("hi")})
	require.Error(t, err)
	kind, ok := errs.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, errs.KindProvider, kind)
	assert.EqualValues(t, 1, atomic.LoadInt32(&count))
}

func TestChat_TimeoutMapsToTimeoutError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		json.NewEncoder(w).Encode(map[string]interface{}{"choices": []map[string]interface{}{}})
	}))
	defer srv.Close()

	ec := resolver.EffectiveConfig{Kind: config.KindOpenAI, APIBase: srv.URL, APIKey: "k", Model: "m", Timeout: 10 * time.Millisecond}
	c := New(srv.Client())

	_, _, err := c.Chat(context.Background(), ec, []message.Message{message.User("hi")})
	require.Error(t, err)
	kind, ok := errs.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, errs.KindTimeout, kind)
}

func TestChatStream_ParsesSSE(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		io.WriteString(w, `data: {"choices":[{"delta":{"content":"he"}}]}`+"\n\n")
		flusher.Flush()
		io.WriteString(w, `data: {"choices":[{"delta":{"content":"llo"}}]}`+"\n\n")
		flusher.Flush()
		io.WriteString(w, "data: [DONE]\n\n")
		flusher.Flush()
	}))
	defer srv.Close()

	ec := resolver.EffectiveConfig{Kind: config.KindOpenAI, APIBase: srv.URL, APIKey: "k", Model: "m", Timeout: time.Second}
	c := New(srv.Client())

	ch, err := c.ChatStream(context.Background(), ec, []message.Message{message.User("hi")})
	require.NoError(t, err)

	var deltas []string
	for ev := range ch {
		if ev.Done {
			break
		}
		deltas = append(deltas, ev.Delta)
	}
	assert.Equal(t, []string{"he", "llo"}, deltas)
}

// Chat's HTTP round trip recorded through a go-vcr cassette via
// mockserver.NewFixtureClient (spec §6, FIXTURE_RECORD=1), so the cassette
// wiring in internal/mockserver/fixture.go has a real exercised call site.
func TestChat_FixtureRecord(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":      "resp-1",
			"choices": []map[string]interface{}{{"message": map[string]string{"role": "assistant", "content": "pong"}}},
			"usage":   map[string]int{"prompt_tokens": 1, "completion_tokens": 1},
		})
	}))
	defer srv.Close()

	t.Setenv("FIXTURE_RECORD", "1")
	fixtureHTTP, stop, err := mockserver.NewFixtureClient("dispatcher_chat_roundtrip")
	require.NoError(t, err)
	defer func() { require.NoError(t, stop()) }()

	ec := resolver.EffectiveConfig{Kind: config.KindOpenAI, APIBase: srv.URL, APIKey: "sk-x", Model: "gpt-4", Timeout: time.Second}
	c := New(fixtureHTTP)

	text, u, err := c.Chat(context.Background(), ec, []message.Message{message.User("ping")})
	require.NoError(t, err)
	assert.Equal(t, "pong", text)
	assert.Equal(t, 1, u.PromptTokens)
}

func TestChatStream_CancelPropagatesBeforeHeaders(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer func() { close(block); srv.Close() }()

	ec := resolver.EffectiveConfig{Kind: config.KindOpenAI, APIBase: srv.URL, APIKey: "k", Model: "m", Timeout: time.Second}
	c := New(srv.Client())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.ChatStream(ctx, ec, []message.Message{message.User("hi")})
	require.Error(t, err)
}
