// Package server provides HTTP server initialization and lifecycle management
// for the tracker API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/scrypster/dwell/internal/catalog"
	"github.com/scrypster/dwell/internal/config"
	"github.com/scrypster/dwell/internal/presence"
	"github.com/scrypster/dwell/internal/storage"
	"github.com/scrypster/dwell/web/handlers"
)

// Deps are the components served over HTTP. Everything but Tracker is
// optional.
type Deps struct {
	Tracker  handlers.Tracker
	Engine   handlers.EngineStats
	Catalog  *catalog.Catalog
	History  storage.DepartureRecorder
	Hub      *handlers.WebSocketHub
	Gatherer prometheus.Gatherer

	// Settings enables /api/settings; Active is the running tracker config.
	Settings config.SettingsStore
	Active   presence.Config
}

// securityHeadersMiddleware adds security headers to all HTTP responses.
func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// NewHandler builds the routed, middleware-wrapped handler.
func NewHandler(cfg *config.Config, deps Deps) http.Handler {
	mux := http.NewServeMux()
	api := handlers.NewPresenceHandlers(deps.Tracker, deps.Engine, deps.Catalog, deps.History)

	// Health endpoint, no auth required.
	mux.HandleFunc("GET /api/health", api.Health)

	if cfg.Features.EnableREST {
		apiMux := http.NewServeMux()
		apiMux.HandleFunc("GET /api/stats", api.GetStats)
		apiMux.HandleFunc("GET /api/stats/{id}", api.GetEntityStats)
		apiMux.HandleFunc("GET /api/sessions", api.ListSessions)
		apiMux.HandleFunc("GET /api/entities/{id}/visits", api.ListVisits)
		apiMux.HandleFunc("GET /api/catalog", api.GetCatalog)
		if deps.Settings != nil {
			settings := handlers.NewSettingsHandlers(deps.Settings, deps.Active)
			apiMux.HandleFunc("GET /api/settings", settings.GetSettings)
			apiMux.HandleFunc("PUT /api/settings", settings.UpdateSettings)
		}
		mux.Handle("/api/", handlers.RequireAuth(apiMux, cfg))
	}

	// Origin validation guards the websocket; browsers cannot send a token.
	if cfg.Features.EnableWebSocket && deps.Hub != nil {
		mux.Handle("/ws", deps.Hub)
	}

	if cfg.Features.EnableMetrics && deps.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	var handler http.Handler = mux
	if cfg.Security.RateLimitRPS > 0 {
		rps := cfg.Security.RateLimitRPS
		handler = handlers.RateLimitMiddleware(handler, handlers.NewRateLimiter(float64(rps), 2*rps))
	}
	return securityHeadersMiddleware(handler)
}

// Start listens on the configured address and serves until ctx is done.
// It returns the actual address being listened on, which differs from the
// configured one when port 0 is requested.
func Start(ctx context.Context, cfg *config.Config, deps Deps) (string, error) {
	if deps.Tracker == nil {
		return "", fmt.Errorf("server: tracker is required")
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      NewHandler(cfg, deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("server: listen on %s: %w", addr, err)
	}
	actualAddr := listener.Addr().String()

	if deps.Hub != nil {
		go deps.Hub.Run()
	}

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("ERROR: server: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("WARNING: server: shutdown error: %v", err)
		}
		if deps.Hub != nil {
			deps.Hub.Stop()
		}
	}()

	log.Printf("server: listening on http://%s", actualAddr)
	return actualAddr, nil
}

// AllowedOrigins returns the websocket origins for the configured address.
func AllowedOrigins(cfg *config.Config) []string {
	origins := []string{fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)}
	if cfg.Server.Host == "127.0.0.1" {
		origins = append(origins, fmt.Sprintf("localhost:%d", cfg.Server.Port))
	}
	return origins
}
