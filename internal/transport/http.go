package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// HealthChecker reports whether a backing dependency is usable.
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// HealthFunc adapts a function to HealthChecker.
type HealthFunc func(ctx context.Context) error

func (f HealthFunc) PingContext(ctx context.Context) error { return f(ctx) }

// Server wires HTTP handlers.
type Server struct {
	mcp    http.Handler
	health map[string]HealthChecker
}

// NewServer creates the HTTP router. The MCP handler is mounted at /mcp behind
// authMiddleware when one is given; /health is always public.
func NewServer(mcpHandler http.Handler, authMiddleware func(http.Handler) http.Handler, health map[string]HealthChecker) *chi.Mux {
	r := chi.NewRouter()
	srv := &Server{mcp: mcpHandler, health: health}

	r.Get("/health", srv.handleHealth)
	r.Group(func(r chi.Router) {
		if authMiddleware != nil {
			r.Use(authMiddleware)
		}
		r.Handle("/mcp", srv.mcp)
	})

	return r
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok"}
	code := http.StatusOK
	if len(s.health) > 0 {
		resp.Checks = make(map[string]string, len(s.health))
	}
	for name, check := range s.health {
		if err := check.PingContext(ctx); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}
