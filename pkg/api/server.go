package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"github.com/speedrun-hq/swaprunner/pkg/executor"
	"github.com/speedrun-hq/swaprunner/pkg/logger"
)

// Server handles the order REST API and websocket connections
type Server struct {
	service  *executor.Service
	router   *mux.Router
	upgrader websocket.Upgrader
	origins  []string
	logger   logger.Logger
	http     *http.Server
}

// NewServer creates an API server for service. allowedOrigins lists CORS and websocket origins; "*" allows any.
func NewServer(service *executor.Service, allowedOrigins []string, log logger.Logger) *Server {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	s := &Server{
		service: service,
		router:  mux.NewRouter(),
		origins: allowedOrigins,
		logger:  log,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	// websocket endpoints
	api.HandleFunc("/orders/execute", s.handleExecuteSocket).Methods("GET")
	api.HandleFunc("/orders/{orderId}/ws", s.handleOrderSocket).Methods("GET")

	// orders
	api.HandleFunc("/orders", s.handleSubmitOrder).Methods("POST")
	api.HandleFunc("/orders", s.handleListOrders).Methods("GET")
	api.HandleFunc("/orders/{orderId}", s.handleGetOrder).Methods("GET")

	api.HandleFunc("/stats", s.handleStats).Methods("GET")

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the router wrapped in CORS handling
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	return c.Handler(s.router)
}

// Start serves the API on addr until Shutdown is called
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("API server starting on %s", addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and closes every websocket subscriber
func (s *Server) Shutdown(ctx context.Context) error {
	s.service.Hub().CloseAll()
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.origins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	s.logger.Debug("Rejected websocket origin %s", origin)
	return false
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	respondJSON(w, status, ErrorResponse{
		Error:   error,
		Message: message,
	})
}
