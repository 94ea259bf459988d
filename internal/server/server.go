// Package server hosts a persistent endpoint over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Config assembles a Server.
type Config struct {
	// Address to listen on, e.g. ":8080". Use ":0" in tests and read the
	// bound address back through Addr.
	Address string

	// BasePath is where Handler is mounted, e.g. "/chat". The handler
	// receives both the base path itself and everything beneath it, so
	// negotiation requests at BasePath + "/negotiate" reach it too.
	BasePath string

	// Handler is the endpoint being hosted.
	Handler http.Handler

	Log *zap.Logger
}

// Server is the HTTP host around an endpoint. It owns the listener, and on
// Stop it cancels the context of every in-flight request so streaming
// sessions end before the graceful shutdown deadline.
type Server struct {
	address    string
	log        *zap.Logger
	httpServer *http.Server
	baseStop   context.CancelFunc

	mu       sync.Mutex
	listener net.Listener
}

// New creates a Server from cfg.
func New(cfg Config) *Server {
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}

	mux := http.NewServeMux()
	base := strings.TrimSuffix(cfg.BasePath, "/")
	if base == "" {
		mux.Handle("/", cfg.Handler)
	} else {
		mux.Handle(base, cfg.Handler)
		mux.Handle(base+"/", cfg.Handler)
	}
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status":"ok"}`)
	})

	baseCtx, baseStop := context.WithCancel(context.Background())
	return &Server{
		address: cfg.Address,
		log:     cfg.Log,
		httpServer: &http.Server{
			Handler:     mux,
			BaseContext: func(net.Listener) context.Context { return baseCtx },
		},
		baseStop: baseStop,
	}
}

// Start listens on the configured address and serves until Stop. It returns
// nil after a clean shutdown.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.log.Info("server started", zap.String("address", listener.Addr().String()))

	if err := s.httpServer.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Stop ends every in-flight session and shuts the server down, waiting for
// handlers up to the context deadline.
func (s *Server) Stop(ctx context.Context) error {
	s.baseStop()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to stop server: %w", err)
	}
	s.log.Info("server stopped")
	return nil
}

// Addr returns the bound listen address, or the empty string before Start
// has opened the listener.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}
