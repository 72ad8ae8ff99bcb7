// Package gateway is the standalone HTTP server exposing dialect-native
// endpoints that internally resolve and dispatch (spec §4.8). Grounded
// in the teacher's server.go: the same chi router + middleware.Logger +
// middleware.Recoverer setup, generalized from a single
// /v1/chat/completions route backed by a model→Provider map into a
// route table backed by the resolver and dispatcher.
package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/coreseekdev/emx-llm/internal/config"
	"github.com/coreseekdev/emx-llm/internal/dispatcher"
)

// maxBodyBytes bounds an incoming request body at 10 MiB (spec §6).
const maxBodyBytes = 10 << 20

// Server holds the HTTP router and the dependencies every route needs:
// the provider tree (for resolution) and a dispatcher.Client (for
// sending requests upstream).
type Server struct {
	router chi.Router
	cfg    *config.Config
	client *dispatcher.Client
}

// New builds a Server, wires its routes, and returns it ready to serve.
func New(cfg *config.Config, client *dispatcher.Client) *Server {
	s := &Server{cfg: cfg, client: client}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Post("/v1/chat/completions", s.handleOpenAICompletions)
	r.Post("/v1/messages", s.handleAnthropicMessages)
	r.Get("/v1/models", s.handleModels)
	r.Get("/v1/providers", s.handleProviders)
	r.Get("/health", s.handleHealth)

	s.router = r
}

// ServeHTTP makes Server an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	s.router.ServeHTTP(w, r)
}
