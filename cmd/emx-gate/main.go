// Package main is the entry point for the emx-gate HTTP gateway (spec
// §4.8, §6). Grounded in the teacher's cmd/llmrouter/main.go server
// bootstrap: load config, build the dependencies, wrap in an
// http.Server, fail loudly on startup errors.
package main

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/coreseekdev/emx-llm/internal/config"
	"github.com/coreseekdev/emx-llm/internal/dispatcher"
	"github.com/coreseekdev/emx-llm/internal/gateway"
)

func main() {
	cfg, err := config.Load(config.Options{})
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	client := dispatcher.New(nil)
	srv := gateway.New(cfg, client)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // generous: streaming responses can run long
	}

	log.Printf("emx-gate listening on %s:%d", cfg.Host, cfg.Port)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}
