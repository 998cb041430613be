// Package api serves a read-only view of the compiled flow tables over HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"flow-policy-controller/internal/model"
)

// Topology is the registry surface the API reads.
type Topology interface {
	ResolveRole(id model.SwitchID) (model.Role, error)
	Roles() []model.Role
	AddressesOwnedBy(role model.Role) []model.Address
	DefaultAction(role model.Role) model.Action
}

type Server struct {
	topology Topology
	tables   map[model.Role][]model.CompiledEntry
	logger   *slog.Logger
	router   *gin.Engine
}

// NewServer takes the tables compiled at startup. They are never modified.
func NewServer(topology Topology, tables map[model.Role][]model.CompiledEntry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		topology: topology,
		tables:   tables,
		logger:   logger,
		router:   gin.New(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is done.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("diagnostics API listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
