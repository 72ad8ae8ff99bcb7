package gateway

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/coreseekdev/emx-llm/internal/config"
	"github.com/coreseekdev/emx-llm/internal/dialect"
	"github.com/coreseekdev/emx-llm/internal/errs"
	"github.com/coreseekdev/emx-llm/internal/message"
	"github.com/coreseekdev/emx-llm/internal/resolver"
)

// inboundRequest decodes messages as message.Message, so a role outside
// {system,user,assistant} fails the decode and the request gets a 400.
type inboundRequest struct {
	Model    string            `json:"model"`
	Messages []message.Message `json:"messages"`
	Stream   bool              `json:"stream"`
}

// handleOpenAICompletions handles POST /v1/chat/completions: OpenAI
// family shape in, OpenAI dialect out (spec §4.8).
func (s *Server) handleOpenAICompletions(w http.ResponseWriter, r *http.Request) {
	s.handleDialectRoute(w, r, config.KindOpenAI)
}

// handleAnthropicMessages handles POST /v1/messages: same pattern, but
// OpenAI-shaped request fields resolved against an Anthropic-dialect
// model (spec §4.8).
func (s *Server) handleAnthropicMessages(w http.ResponseWriter, r *http.Request) {
	s.handleDialectRoute(w, r, config.KindAnthropic)
}

// handleDialectRoute implements both chat routes: decode, resolve,
// enforce dialect compatibility, dispatch, and pass the upstream
// response through byte-for-byte (spec §6 wire compatibility).
func (s *Server) handleDialectRoute(w http.ResponseWriter, r *http.Request, want config.Kind) {
	var req inboundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errs.KindBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Model == "" {
		writeError(w, http.StatusBadRequest, errs.KindBadRequest, "missing model")
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, errs.KindBadRequest, "missing messages")
		return
	}

	msgs := req.Messages

	ec, err := resolver.Resolve(s.cfg.Root, req.Model)
	if err != nil {
		kind, _ := errs.KindOf(err)
		status := http.StatusBadRequest
		if kind == errs.KindConfigNotFound {
			status = http.StatusNotFound
		}
		writeError(w, status, kind, err.Error())
		return
	}

	if ec.Kind != want {
		writeError(w, http.StatusBadRequest, errs.KindBadRequest,
			"model \""+req.Model+"\" resolves to a different dialect than this route expects")
		return
	}

	dial := dialect.ForKind(ec.Kind)

	resp, err := s.client.Send(r.Context(), dial, ec, msgs, req.Stream)
	if err != nil {
		kind, _ := errs.KindOf(err)
		status := http.StatusBadGateway
		if kind == errs.KindTimeout {
			status = http.StatusGatewayTimeout
		}
		writeError(w, status, kind, err.Error())
		return
	}
	defer resp.Body.Close()

	w.Header().Set("x-gateway-provider", string(ec.Kind))
	w.Header().Set("x-gateway-model", ec.Model)

	if req.Stream {
		streamThrough(w, r, resp)
		return
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		writeError(w, http.StatusBadGateway, errs.KindNetwork, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	w.Write(raw)
}

// streamThrough copies resp.Body to w as it arrives, flushing after
// every read, so the client sees the upstream's own SSE framing
// unchanged — the gateway never re-encodes the event stream.
func streamThrough(w http.ResponseWriter, r *http.Request, resp *http.Response) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(resp.StatusCode)

	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 4096)
	for {
		select {
		case <-r.Context().Done():
			return
		default:
		}

		n, err := resp.Body.Read(buf)
		if n > 0 {
			w.Write(buf[:n])
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			if err != io.EOF {
				log.Printf("gateway: stream copy error: %v", err)
			}
			return
		}
	}
}

// handleModels handles GET /v1/models: every terminal path with a
// resolvable model key (spec §4.8).
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"models": s.cfg.Root.Terminals(),
	})
}

// handleProviders handles GET /v1/providers: every node carrying an
// api_base, at any depth (spec §4.8).
func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"providers": s.cfg.Root.Providers(),
	})
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError renders the provider-native gateway error shape (spec
// §7): {"error":{"message","type","code"}}.
func writeError(w http.ResponseWriter, status int, kind errs.Kind, message string) {
	if kind == "" {
		kind = errs.KindBadRequest
	}
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": message,
			"type":    string(kind),
			"code":    status,
		},
	})
}
