package rpc

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/matheus3301/chatbridge/internal/account"
	"github.com/matheus3301/chatbridge/internal/adapter"
	"github.com/matheus3301/chatbridge/internal/bus"
	"github.com/matheus3301/chatbridge/internal/connect"
	"github.com/matheus3301/chatbridge/internal/store"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

// Connector is satisfied by *connect.Connector.
type Connector interface {
	Login(ctx context.Context, connID int, opts connect.LoginOptions) error
	Logout(ctx context.Context, connID int) error
}

// Params holds the dependencies of a Service.
type Params struct {
	Profile   string
	ConnID    int
	Accounts  *account.Manager
	Connector Connector
	Adapter   *adapter.Adapter
	DB        *store.DB
	Bus       *bus.Bus
	Logger    *zap.Logger
}

// Service implements BridgeServer for one profile account.
type Service struct {
	profile   string
	connID    int
	startedAt time.Time
	accounts  *account.Manager
	connector Connector
	adapter   *adapter.Adapter
	db        *store.DB
	bus       *bus.Bus
	logger    *zap.Logger
}

// NewService creates the control service.
func NewService(p Params) *Service {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		profile:   p.Profile,
		connID:    p.ConnID,
		startedAt: time.Now(),
		accounts:  p.Accounts,
		connector: p.Connector,
		adapter:   p.Adapter,
		db:        p.DB,
		bus:       p.Bus,
		logger:    logger,
	}
}

// Server manages the gRPC server lifecycle for a profile daemon.
type Server struct {
	grpcServer *grpc.Server
	listener   net.Listener
	socketPath string
	logger     *zap.Logger
}

// NewServer creates a gRPC server bound to the Unix socket at socketPath.
func NewServer(socketPath string, svc BridgeServer, logger *zap.Logger) (*Server, error) {
	// Clean stale socket if it exists.
	if _, err := os.Stat(socketPath); err == nil {
		_ = os.Remove(socketPath)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen unix socket: %w", err)
	}

	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(logUnary(logger)))
	srv.RegisterService(&ServiceDesc, svc)

	return &Server{
		grpcServer: srv,
		listener:   listener,
		socketPath: socketPath,
		logger:     logger,
	}, nil
}

// Start begins serving gRPC requests. Blocks until stopped.
func (s *Server) Start() error {
	s.logger.Info("gRPC server starting", zap.String("socket", s.socketPath))
	return s.grpcServer.Serve(s.listener)
}

// Stop performs a graceful shutdown and removes the socket file. Open
// streams are cut when ctx expires.
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("gRPC server stopping")
	done := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.grpcServer.Stop()
	}
	_ = os.Remove(s.socketPath)
}

func logUnary(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.Duration("elapsed", time.Since(start)),
		}
		if err != nil {
			logger.Warn("rpc failed", append(fields, zap.Error(err))...)
		} else {
			logger.Debug("rpc", fields...)
		}
		return resp, err
	}
}
