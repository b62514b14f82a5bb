package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/itohio/d1node/pkg/logging"
)

// StatusFunc returns the JSON-serializable status snapshot.
type StatusFunc func() any

// Server serves /metrics, /status and /healthz.
type Server struct {
	addr   string
	logger *slog.Logger
	http   *http.Server
	ln     net.Listener
}

// NewServer creates a server listening on addr.
func NewServer(addr string, m *Metrics, status StatusFunc) *Server {
	s := &Server{
		addr:   addr,
		logger: logging.GetLogger("http"),
	}
	s.http = &http.Server{
		Handler:           s.wrap(NewRouter(m, status)),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// NewRouter creates the endpoint router.
func NewRouter(m *Metrics, status StatusFunc) *mux.Router {
	r := mux.NewRouter()

	r.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/status", statusHandler(status)).Methods(http.MethodGet)
	r.HandleFunc("/healthz", healthHandler).Methods(http.MethodGet)

	return r
}

func (s *Server) wrap(h http.Handler) http.Handler {
	access := slog.NewLogLogger(s.logger.Handler(), slog.LevelDebug).Writer()
	return handlers.RecoveryHandler(
		handlers.RecoveryLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError)),
	)(handlers.LoggingHandler(access, h))
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte("ok"))
}

func statusHandler(status StatusFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(status()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.ln = ln
	s.logger.Info("HTTP endpoint listening", "address", ln.Addr().String())

	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server stopped", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

// Shutdown stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
