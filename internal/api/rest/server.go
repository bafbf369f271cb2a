package rest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/fortuna/jstats/internal/logging"
)

// Server represents the REST API server
type Server struct {
	port    string
	server  *http.Server
	handler *Handler
}

// NewRouter builds the route table around a handler.
func NewRouter(handler *Handler, logger *logging.Logger) *mux.Router {
	logger = logging.OrDefault(logger).Named("rest")
	router := mux.NewRouter()

	router.Use(RecoveryMiddleware(logger))
	router.Use(LoggingMiddleware(logger))
	router.Use(CORSMiddleware)

	router.HandleFunc("/health", handler.HealthCheck).Methods("GET")

	api := router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/catalog", handler.GetCatalog).Methods("GET")
	api.HandleFunc("/teams", handler.GetTeams).Methods("GET")
	api.HandleFunc("/tables/{season:[0-9]+}/{league}/{team}", handler.GetTable).Methods("GET")

	api.HandleFunc("/collections", handler.HandleCollectionRequest).Methods("POST", "OPTIONS")
	api.HandleFunc("/collections/status", handler.HandleCollectionStatus).Methods("GET")
	api.HandleFunc("/collections/{jobID}", handler.GetCollection).Methods("GET")

	return router
}

// NewServer creates a new REST API server
func NewServer(port string, handler *Handler, logger *logging.Logger) *Server {
	return &Server{
		port:    port,
		handler: handler,
		server: &http.Server{
			Addr:              fmt.Sprintf(":%s", port),
			Handler:           NewRouter(handler, logger),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Start starts the REST API server
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
