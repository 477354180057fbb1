// Package server exposes the hub's HTTP API: module CRUD and ordering
// for the authoring surface, the voice session token endpoint, and the
// operational endpoints (health, readiness, metrics).
package server

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stuartw843/flow-learning-hub/internal/health"
	"github.com/stuartw843/flow-learning-hub/internal/module"
	"github.com/stuartw843/flow-learning-hub/internal/observe"
)

// Config carries the server's collaborators.
type Config struct {
	// Store is the module store backing the CRUD API.
	Store module.Store

	// Tokens issues voice session credentials. Nil disables the token
	// endpoint; it then responds 503.
	Tokens TokenIssuer

	// Checkers are evaluated by the readiness endpoint.
	Checkers []health.Checker

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Server is the hub HTTP API. Construct with [New], then mount
// [Server.Handler].
type Server struct {
	store   module.Store
	tokens  TokenIssuer
	metrics *observe.Metrics
	handler http.Handler
}

// New builds the server and its routing table.
func New(cfg Config) *Server {
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	s := &Server{
		store:   cfg.Store,
		tokens:  cfg.Tokens,
		metrics: metrics,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/modules", s.listModules)
	mux.HandleFunc("POST /api/modules", s.createModule)
	mux.HandleFunc("POST /api/modules/reorder", s.reorderModules)
	mux.HandleFunc("GET /api/modules/{id}", s.getModule)
	mux.HandleFunc("PUT /api/modules/{id}", s.updateModule)
	mux.HandleFunc("DELETE /api/modules/{id}", s.deleteModule)
	mux.HandleFunc("PUT /api/modules/{id}/plain", s.updatePlainContent)
	mux.HandleFunc("POST /api/voice/token", s.issueToken)

	health.New(cfg.Checkers...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	s.handler = observe.Middleware(metrics)(mux)
	return s
}

// Handler returns the fully wired HTTP handler, including telemetry
// middleware.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// errorBody is the JSON error response shape. The "details" key matches
// what the agent service uses for credential errors, so token clients can
// parse hub failures and upstream failures the same way.
type errorBody struct {
	Details string `json:"details"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Details: msg})
}
