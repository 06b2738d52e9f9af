package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"

	"github.com/aifocusdev/focos-ia-sub000/internal/instance"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Server owns the public HTTP listener and the operator gRPC socket.
type Server struct {
	echo         *echo.Echo
	httpListener net.Listener

	grpcServer *grpc.Server
	listener   net.Listener
	socketPath string
	logger     *zap.Logger
}

// NewServer binds the HTTP address and the instance's Unix domain socket.
// The socket only carries the gRPC health service.
func NewServer(p Params, l instance.Layout, e *echo.Echo, hs *health.Server, logger *zap.Logger) (*Server, error) {
	socketPath := p.SocketPath
	if socketPath == "" {
		socketPath = l.SocketPath()
	}

	// Clean stale socket if it exists.
	if _, err := os.Stat(socketPath); err == nil {
		_ = os.Remove(socketPath)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen unix socket: %w", err)
	}

	// Set socket permissions to 0600.
	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	httpListener, err := net.Listen("tcp", p.Config.Server.Addr)
	if err != nil {
		_ = listener.Close()
		_ = os.Remove(socketPath)
		return nil, fmt.Errorf("listen http: %w", err)
	}
	e.Listener = httpListener

	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	return &Server{
		echo:         e,
		httpListener: httpListener,
		grpcServer:   srv,
		listener:     listener,
		socketPath:   socketPath,
		logger:       logger,
	}, nil
}

// HTTPAddr returns the bound HTTP address.
func (s *Server) HTTPAddr() string {
	return s.httpListener.Addr().String()
}

// SocketPath returns the operator socket path.
func (s *Server) SocketPath() string {
	return s.socketPath
}

// Start serves HTTP and gRPC in the background. Both listeners are already
// bound, so serve errors only surface in the log.
func (s *Server) Start() error {
	s.logger.Info("gRPC server starting", zap.String("socket", s.socketPath))
	go func() {
		if err := s.grpcServer.Serve(s.listener); err != nil {
			s.logger.Error("gRPC server error", zap.Error(err))
		}
	}()

	s.logger.Info("HTTP server starting", zap.String("addr", s.HTTPAddr()))
	go func() {
		if err := s.echo.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
	return nil
}

// Stop drains HTTP, performs a graceful gRPC shutdown and removes the socket file.
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("HTTP server stopping")
	if err := s.echo.Shutdown(ctx); err != nil {
		s.logger.Warn("HTTP shutdown", zap.Error(err))
	}
	s.logger.Info("gRPC server stopping")
	s.grpcServer.GracefulStop()
	_ = os.Remove(s.socketPath)
}
