package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/speedrun-hq/swaprunner/pkg/circuitbreaker"
	"github.com/speedrun-hq/swaprunner/pkg/logger"
	"github.com/speedrun-hq/swaprunner/pkg/models"
)

// Pinger reports whether the order store is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// QueueReporter exposes the execution queue counts
type QueueReporter interface {
	Metrics() models.QueueMetrics
	RateLimitRemaining() int
	History() (completed, failed []models.JobOutcome)
}

// Server represents a health check HTTP server
type Server struct {
	port            string
	store           Pinger
	queue           QueueReporter
	circuitBreakers map[models.Venue]*circuitbreaker.CircuitBreaker
	metricsAPIKey   string
	logger          logger.Logger
	http            *http.Server
}

// NewServer creates a new health check server
func NewServer(port, metricsAPIKey string, store Pinger, queue QueueReporter, circuitBreakers map[models.Venue]*circuitbreaker.CircuitBreaker, log logger.Logger) *Server {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &Server{
		port:            port,
		store:           store,
		queue:           queue,
		circuitBreakers: circuitBreakers,
		metricsAPIKey:   metricsAPIKey,
		logger:          log,
	}
}

// metricsAuthMiddleware is a middleware that checks for a valid API key
func (s *Server) metricsAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip auth if no API key is configured
		if s.metricsAPIKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Missing Authorization header", http.StatusUnauthorized)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "Invalid Authorization header format", http.StatusUnauthorized)
			return
		}

		if parts[1] != s.metricsAPIKey {
			http.Error(w, "Invalid API key", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Handler returns the health, admin and metrics routes
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	// Readiness check
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.store.Ping(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(fmt.Sprintf("Order store unreachable: %v", err)))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("Ready"))
	})

	// Queue and venue status
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		venues := make(map[string]interface{}, len(s.circuitBreakers))
		for venue, cb := range s.circuitBreakers {
			state := cb.GetState()
			circuitStatus := "closed"
			if state.Open {
				circuitStatus = "open"
			}
			venues[string(venue)] = map[string]interface{}{
				"circuit":       circuitStatus,
				"enabled":       state.Enabled,
				"failure_count": state.FailureCount,
				"threshold":     state.FailThreshold,
			}
		}

		completed, failed := s.queue.History()
		status := map[string]interface{}{
			"queue":                s.queue.Metrics(),
			"rate_limit_remaining": s.queue.RateLimitRemaining(),
			"venues":               venues,
			"history": map[string]interface{}{
				"completed": completed,
				"failed":    failed,
			},
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(status); err != nil {
			s.logger.Error("Error encoding status JSON: %v", err)
		}
	})

	// Circuit breaker admin control endpoint
	mux.HandleFunc("/circuit/reset", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		venue := r.URL.Query().Get("venue")
		if venue == "" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte("Missing venue parameter"))
			return
		}

		cb, ok := s.circuitBreakers[models.Venue(strings.ToLower(venue))]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(fmt.Sprintf("No circuit breaker for venue %s", venue)))
			return
		}

		cb.Reset()
		s.logger.NoticeWithVenue(venue, "Circuit breaker reset by admin request")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(fmt.Sprintf("Circuit breaker for venue %s reset", venue)))
	})

	// Expose Prometheus metrics with API key authentication
	mux.Handle("/metrics", s.metricsAuthMiddleware(promhttp.Handler()))

	return mux
}

// Start starts the health check server and blocks until it stops
func (s *Server) Start() error {
	s.http = &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("Starting health and metrics server on port %s", s.port)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
