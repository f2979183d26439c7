package api

import (
	"net/http"

	"github.com/sweepworld/server/internal/auth"
	"github.com/sweepworld/server/internal/chunkservice"
	"github.com/sweepworld/server/internal/config"
	"github.com/sweepworld/server/internal/performance"
	"github.com/sweepworld/server/internal/streaming"
)

// Dependencies are the components the HTTP surface is built from.
type Dependencies struct {
	Service        *chunkservice.Service
	Streams        *streaming.Manager
	Profiler       *performance.Profiler
	Auth           *auth.Middleware
	AllowedOrigins []string
	RateLimit      config.RateLimitConfig
	MaxBatchChunks int
}

// SetupRoutes registers every route on mux. The returned WebSocket handlers
// must be closed on shutdown.
func SetupRoutes(mux *http.ServeMux, deps Dependencies) *WebSocketHandlers {
	handlers := NewChunkHandlers(deps.Service, deps.Profiler, deps.MaxBatchChunks)
	wsHandlers := NewWebSocketHandlers(deps.Service, deps.Streams, deps.Profiler, deps.AllowedOrigins)
	adminHandlers := NewAdminHandlers(deps.Service, deps.Streams, wsHandlers.GetHub())

	authenticate := deps.Auth.Authenticate
	adminOnly := func(h http.Handler) http.Handler {
		return authenticate(deps.Auth.RequireRole(auth.RoleAdmin)(h))
	}

	mux.HandleFunc("GET /health", handlers.Health)
	mux.Handle("GET /api/world", authenticate(http.HandlerFunc(handlers.GetWorld)))
	mux.Handle("GET /api/chunks/{x}/{y}", authenticate(http.HandlerFunc(handlers.GetChunk)))
	mux.Handle("POST /api/chunks/batch", authenticate(http.HandlerFunc(handlers.BatchChunks)))
	mux.Handle("GET /api/cells/{x}/{y}", authenticate(http.HandlerFunc(handlers.GetCell)))
	mux.Handle("GET /api/debug/performance", adminOnly(http.HandlerFunc(handlers.GetPerformance)))
	mux.Handle("GET /api/admin/status", adminOnly(http.HandlerFunc(adminHandlers.GetStatus)))
	mux.Handle("DELETE /api/admin/chunks/reset", adminOnly(http.HandlerFunc(adminHandlers.ResetChunks)))
	mux.Handle("GET /ws", authenticate(http.HandlerFunc(wsHandlers.HandleWebSocket)))

	return wsHandlers
}

// Middleware wraps the router with the global middleware chain: security
// headers, CORS and per-IP rate limiting.
func Middleware(handler http.Handler, deps Dependencies) http.Handler {
	handler = RateLimitMiddleware(deps.RateLimit.Requests, deps.RateLimit.Window)(handler)
	handler = CORSMiddleware(deps.AllowedOrigins)(handler)
	return auth.SecurityHeadersMiddleware(handler)
}
