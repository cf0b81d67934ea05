// Package server exposes the bridge service over HTTP: a JSON/SSE message endpoint and a
// websocket endpoint, both driven by the same dispatcher.
package server

import (
	"context"
	"errors"
	"iter"
	"net"
	"net/http"
	"time"

	"bridgebot/internal/bridge"
	"bridgebot/internal/config"
	"bridgebot/internal/logging"

	"golang.org/x/sync/errgroup"
)

const readHeaderTimeout = 10 * time.Second

// Dispatcher turns one inbound message into its output fragments.
type Dispatcher interface {
	Handle(ctx context.Context, in bridge.Inbound) iter.Seq[bridge.Fragment]
}

// Server hosts a Dispatcher.
type Server struct {
	dispatcher      Dispatcher
	allowedOrigins  []string
	heartbeat       time.Duration
	shutdownTimeout time.Duration
	httpServer      *http.Server
}

// New creates a server for cfg. It does not listen until Run.
func New(cfg *config.Config, dispatcher Dispatcher) *Server {
	s := &Server{
		dispatcher:      dispatcher,
		allowedOrigins:  cfg.Server.AllowedOrigins,
		heartbeat:       cfg.GetHeartbeatInterval(),
		shutdownTimeout: cfg.GetShutdownTimeout(),
	}
	s.httpServer = &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return s
}

// Routes returns the HTTP handler.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /v1/messages", s.handleMessage)
	mux.HandleFunc("GET /v1/ws", s.handleWebSocket)
	return loggingMiddleware(mux)
}

// Run listens on the configured address until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logging.Server("listening on %s", ln.Addr())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.ServerError("server stopped: %v", err)
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		logging.Server("shutting down (timeout %v)", s.shutdownTimeout)
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			logging.ServerError("shutdown failed: %v", err)
			return err
		}
		return nil
	})

	return g.Wait()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logging.ServerDebug("%s %s from %s in %v", r.Method, r.URL.Path, r.RemoteAddr, time.Since(start))
	})
}

// pump forwards seq into a channel so it can be multiplexed with heartbeats. The
// goroutine exits when seq ends or ctx is done.
func pump(ctx context.Context, seq iter.Seq[bridge.Fragment]) <-chan bridge.Fragment {
	out := make(chan bridge.Fragment)
	go func() {
		defer close(out)
		for f := range seq {
			select {
			case out <- f:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
