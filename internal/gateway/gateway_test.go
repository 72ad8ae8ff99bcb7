package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreseekdev/emx-llm/internal/config"
	"github.com/coreseekdev/emx-llm/internal/dispatcher"
)

func buildTestServer(t *testing.T, upstreamURL string) *Server {
	t.Helper()

	openaiKind := config.KindOpenAI
	openai := &config.Node{
		Name: "openai", Type: &openaiKind,
		APIBase: upstreamURL, APIKey: "sk-x", Model: "gpt-4",
		Children: map[string]*config.Node{},
	}

	anthropicKind := config.KindAnthropic
	anthropic := &config.Node{
		Name: "anthropic", Type: &anthropicKind,
		APIBase: upstreamURL, APIKey: "sk-a", Model: "claude-3-opus",
		Children: map[string]*config.Node{},
	}

	root := &config.Node{Children: map[string]*config.Node{}}
	root.SetChild("openai", openai)
	root.SetChild("anthropic", anthropic)

	cfg := &config.Config{Host: config.DefaultHost, Port: config.DefaultPort, Root: root}
	return New(cfg, dispatcher.New(nil))
}

func TestGateway_Health(t *testing.T) {
	s := buildTestServer(t, "http://unused")
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	s.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestGateway_Models(t *testing.T) {
	s := buildTestServer(t, "http://unused")
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	s.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	var body map[string][]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Contains(t, body["models"], "openai")
	assert.Contains(t, body["models"], "anthropic")
}

func TestGateway_Providers(t *testing.T) {
	s := buildTestServer(t, "http://unused")
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/providers", nil)
	s.ServeHTTP(rr, req)

	var body map[string][]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Contains(t, body["providers"], "openai")
	assert.Contains(t, body["providers"], "anthropic")
}

func TestGateway_UnknownModelReturns404(t *testing.T) {
	s := buildTestServer(t, "http://unused")
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions",
		strings.NewReader(`{"model":"does-not-exist","messages":[{"role":"user","content":"hi"}]}`))
	s.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

// S7: a /v1/chat/completions request resolving to an Anthropic-family
// model returns 400 with error type bad_request.
func TestGateway_DialectMismatch_S7(t *testing.T) {
	s := buildTestServer(t, "http://unused")
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions",
		strings.NewReader(`{"model":"anthropic","messages":[{"role":"user","content":"hi"}]}`))
	s.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	var body map[string]map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "bad_request", body["error"]["type"])
}

func TestGateway_MalformedBodyReturns400(t *testing.T) {
	s := buildTestServer(t, "http://unused")
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`{not json`))
	s.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestGateway_NonStreamingPassesUpstreamBodyThrough(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"resp-1","choices":[{"message":{"role":"assistant","content":"hello"}}],"usage":{"prompt_tokens":1,"completion_tokens":1},"extra_field":"kept"}`))
	}))
	defer upstream.Close()

	s := buildTestServer(t, upstream.URL)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions",
		strings.NewReader(`{"model":"openai","messages":[{"role":"user","content":"hi"}]}`))
	s.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "openai", rr.Header().Get("x-gateway-provider"))
	assert.Equal(t, "gpt-4", rr.Header().Get("x-gateway-model"))
	assert.Contains(t, rr.Body.String(), `"extra_field":"kept"`)
}

func TestGateway_StreamingPassesThroughSSE(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		w.Write([]byte(`data: {"choices":[{"delta":{"content":"hi"}}]}` + "\n\n"))
		flusher.Flush()
		w.Write([]byte("data: [DONE]\n\n"))
		flusher.Flush()
	}))
	defer upstream.Close()

	s := buildTestServer(t, upstream.URL)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions",
		strings.NewReader(`{"model":"openai","messages":[{"role":"user","content":"hi"}],"stream":true}`))
	s.ServeHTTP(rr, req)

	assert.Equal(t, "text/event-stream", rr.Header().Get("Content-Type"))
	assert.Contains(t, rr.Body.String(), `"content":"hi"`)
	assert.Contains(t, rr.Body.String(), "[DONE]")
}

func TestGateway_UpstreamErrorStatusPassesThrough(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"bad key"}}`))
	}))
	defer upstream.Close()

	s := buildTestServer(t, upstream.URL)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions",
		strings.NewReader(`{"model":"openai","messages":[{"role":"user","content":"hi"}]}`))
	s.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Contains(t, rr.Body.String(), "bad key")
}
