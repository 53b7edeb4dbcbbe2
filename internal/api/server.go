package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/mev-engine/mev-opportunity-engine/internal/config"
	"github.com/mev-engine/mev-opportunity-engine/pkg/metrics"
	"github.com/rs/cors"
)

// Server is the admin HTTP surface: health, risk and competition state,
// the shutdown/reset hooks, prometheus scrape and the opportunity feed
type Server struct {
	config    *config.Config
	server    *http.Server
	handlers  *Handlers
	limiter   *RateLimiter
	wsServer  *WebSocketServer
	collector *metrics.Collector
}

// NewServer creates the admin API server
func NewServer(cfg *config.Config, handlers *Handlers, collector *metrics.Collector) *Server {
	s := &Server{
		config:    cfg,
		handlers:  handlers,
		limiter:   NewRateLimiter(),
		wsServer:  NewWebSocketServer(),
		collector: collector,
	}
	s.setupServer()
	return s
}

// Start starts the HTTP server and the websocket hub
func (s *Server) Start(ctx context.Context) error {
	log.Printf("api: starting on %s:%d", s.config.Server.Host, s.config.Server.Port)

	if err := s.wsServer.Start(ctx); err != nil {
		return fmt.Errorf("start websocket server: %w", err)
	}
	go s.limiterCleanup(ctx)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("api: server error: %v", err)
		}
	}()
	return nil
}

// Stop shuts the server down gracefully
func (s *Server) Stop(ctx context.Context) error {
	if err := s.wsServer.Stop(ctx); err != nil {
		log.Printf("api: error stopping websocket server: %v", err)
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown api server: %w", err)
	}
	log.Println("api: stopped")
	return nil
}

// Broadcaster returns the websocket hub for the opportunity feed
func (s *Server) Broadcaster() *WebSocketServer {
	return s.wsServer
}

// GetRouter returns the HTTP handler, used by tests
func (s *Server) GetRouter() http.Handler {
	return s.server.Handler
}

func (s *Server) setupServer() {
	router := mux.NewRouter()

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	})

	router.Use(s.loggingMiddleware)
	router.Use(s.limiter.RateLimitMiddleware)

	// Public routes
	router.HandleFunc("/health", s.handlers.GetHealth).Methods("GET")
	router.Handle("/metrics", s.collector.Handler()).Methods("GET")
	router.HandleFunc("/ws", s.wsServer.HandleWebSocket)

	// Read API
	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/risk", s.handlers.GetRiskState).Methods("GET")
	api.HandleFunc("/competition", s.handlers.GetCompetition).Methods("GET")
	api.HandleFunc("/stats", s.handlers.GetStats).Methods("GET")

	// Mutating routes require the configured API key
	admin := api.PathPrefix("").Subrouter()
	admin.Use(RequireAPIKey(s.config.Server.APIKey))
	admin.HandleFunc("/shutdown", s.handlers.PostShutdown).Methods("POST")
	admin.HandleFunc("/reset", s.handlers.PostReset).Methods("POST")
	admin.HandleFunc("/outcome", s.handlers.PostOutcome).Methods("POST")

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port),
		Handler:      c.Handler(router),
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
		IdleTimeout:  s.config.Server.IdleTimeout,
	}
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)
		log.Printf("api: %s %s %d %v %s", r.Method, r.RequestURI, wrapper.statusCode, time.Since(start), r.RemoteAddr)
	})
}

func (s *Server) limiterCleanup(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.limiter.CleanupExpiredClients()
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
