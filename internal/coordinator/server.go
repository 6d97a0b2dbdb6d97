package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"meniscus/internal/logging"
	"meniscus/internal/registry"
)

// ServerConfig holds authority server configuration.
type ServerConfig struct {
	// Addr is the address to listen on (e.g. ":8080").
	Addr string

	Registry *registry.Registry
	Logger   *slog.Logger
}

// Server exposes the tenant/token authority contract over HTTP:
//
//	HEAD /v1/tenant/{tenant_id}/token  -> 200 valid / 404 invalid
//	GET  /v1/tenant/{tenant_id}        -> 200 {"tenant": {...}} / 404
//
// Both endpoints read the credential from the MESSAGE-TOKEN header.
type Server struct {
	addr     string
	reg      *registry.Registry
	listener net.Listener
	server   *http.Server
	logger   *slog.Logger
}

// NewServer creates an authority server over the given registry.
func NewServer(cfg ServerConfig) *Server {
	return &Server{
		addr:   cfg.Addr,
		reg:    cfg.Registry,
		logger: logging.Default(cfg.Logger).With("component", "coordinator_server"),
	}
}

// Handler returns the authority HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/tenant/{tenant_id}/token", s.handleValidateToken)
	mux.HandleFunc("GET /v1/tenant/{tenant_id}", s.handleGetTenant)
	return mux
}

// Run starts the server and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.server = &http.Server{Handler: s.Handler()}

	var err error
	s.listener, err = net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.logger.Info("authority server starting", "addr", s.listener.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("authority server stopping")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

// Addr returns the listener address. Only valid after Run has started.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) handleValidateToken(w http.ResponseWriter, req *http.Request) {
	tenantID := req.PathValue("tenant_id")
	presented := req.Header.Get(TokenHeader)

	t, err := s.reg.GetTenant(tenantID)
	if err != nil || !t.Token.Validate(presented) {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleGetTenant(w http.ResponseWriter, req *http.Request) {
	tenantID := req.PathValue("tenant_id")
	presented := req.Header.Get(TokenHeader)

	t, err := s.reg.GetTenant(tenantID)
	if err != nil || !t.Token.Validate(presented) {
		// Unknown tenant and bad credential look identical; existence is
		// not leaked to unauthenticated callers.
		w.WriteHeader(http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{"tenant": t.Format()}); err != nil {
		s.logger.Warn("encoding tenant response", "tenant_id", tenantID, "error", err)
	}
}
