package websocket

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/fortuna/jstats/internal/collector"
	"github.com/fortuna/jstats/internal/logging"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Server streams collection job events to websocket clients.
type Server struct {
	mu     sync.Mutex
	server *http.Server
	hub    *Hub
	logger *logging.Logger
}

// NewServer creates a websocket server around a fresh hub.
func NewServer(logger *logging.Logger) *Server {
	logger = logging.OrDefault(logger)
	return &Server{
		hub:    NewHub(logger),
		logger: logger.Named("websocket"),
	}
}

// Hub exposes the server's hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the websocket routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/collections", s.handleCollections)
	mux.HandleFunc("/ws/health", s.handleHealth)
	return mux
}

// Listener adapts the hub to collector.Service.Subscribe.
func (s *Server) Listener() collector.Listener {
	return func(ev collector.Event) {
		ts := ev.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		s.hub.Broadcast(Message{Type: "collection." + ev.Type, Timestamp: ts, Data: ev})
	}
}

// Start runs the hub and serves until Shutdown.
func (s *Server) Start(ctx context.Context, port string) error {
	go s.hub.Run(ctx)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()

	s.logger.Info("websocket server listening", "port", port)
	return srv.ListenAndServe()
}

func (s *Server) handleCollections(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("failed to upgrade connection", "error", err)
		return
	}

	client := &Client{
		id:   uuid.NewString(),
		hub:  s.hub,
		conn: conn,
		send: make(chan Message, sendBuffer),
	}

	select {
	case s.hub.register <- client:
	case <-s.hub.done:
		_ = conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status": "healthy", "clients": %d}`, s.hub.ClientCount())
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}
