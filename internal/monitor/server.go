package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"feedhandler/internal/book"
	"feedhandler/pkg/types"
)

// BookProvider supplies the current snapshot of every tracked book, backed
// by C1's GetExchangeBook.
type BookProvider interface {
	GetExchangeBook(ctx context.Context) (map[string]types.Book, error)
}

// Server runs the read-only debug/introspection HTTP surface.
type Server struct {
	addr     string
	provider BookProvider
	hub      *Hub
	server   *http.Server
	logger   *slog.Logger
}

// NewServer wires /health, /api/books, and /api/events. store must satisfy
// BookProvider; in practice it is the book.Store in use by the handler.
func NewServer(addr string, store book.Store, logger *slog.Logger) *Server {
	hub := NewHub(logger)
	s := &Server{addr: addr, provider: store, hub: hub, logger: logger.With("component", "monitor")}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/books", s.handleBooks)
	mux.HandleFunc("/api/events", s.handleEvents)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // /api/events streams indefinitely
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Hub returns the event hub, for wiring a feed handler's sinks into
// Broadcast.
func (s *Server) Hub() *Hub { return s.hub }

// Start runs the HTTP server. Blocks until Stop is called.
func (s *Server) Start() error {
	s.logger.Info("monitor server starting", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("monitor server: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleBooks(w http.ResponseWriter, r *http.Request) {
	books, err := s.provider.GetExchangeBook(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(books)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sub := s.hub.register()
	defer s.hub.unregister(sub)

	for {
		select {
		case <-r.Context().Done():
			return
		case data, ok := <-sub.send:
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}
