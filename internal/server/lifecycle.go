package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rsclarke/beehive/internal/logging"
)

type ServerConfig struct {
	Addr              string
	Handler           http.Handler
	Logger            *zap.Logger
	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
}

func DefaultServerConfig(addr string, handler http.Handler, logger *zap.Logger) ServerConfig {
	return ServerConfig{
		Addr:              addr,
		Handler:           handler,
		Logger:            logger,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
}

// ManagedServer is an http.Server that binds synchronously and reports
// serve errors on a channel.
type ManagedServer struct {
	server *http.Server
	logger *zap.Logger
	name   string
	addr   net.Addr
	errCh  chan error
}

func NewManagedServer(name string, cfg ServerConfig) *ManagedServer {
	errLog, _ := zap.NewStdLogAt(cfg.Logger, zapcore.ErrorLevel)

	return &ManagedServer{
		server: &http.Server{
			Addr:              cfg.Addr,
			Handler:           cfg.Handler,
			ErrorLog:          errLog,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
			ReadTimeout:       cfg.ReadTimeout,
			WriteTimeout:      cfg.WriteTimeout,
		},
		logger: cfg.Logger,
		name:   name,
		errCh:  make(chan error, 1),
	}
}

// Start binds the listener and serves in the background. Bind errors are
// returned directly.
func (m *ManagedServer) Start() error {
	ln, err := net.Listen("tcp", m.server.Addr)
	if err != nil {
		return fmt.Errorf("%s failed to start: %w", m.name, err)
	}
	m.addr = ln.Addr()
	m.logger.Info("server listening", zap.String("server", m.name), logging.Addr(m.addr.String()))

	go func() {
		if err := m.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.errCh <- err
		}
		close(m.errCh)
	}()
	return nil
}

// Addr is the bound address, valid after Start.
func (m *ManagedServer) Addr() net.Addr {
	return m.addr
}

// Err reports a serve failure after startup.
func (m *ManagedServer) Err() <-chan error {
	return m.errCh
}

func (m *ManagedServer) Shutdown(ctx context.Context) {
	if m.addr == nil {
		return
	}
	if err := m.server.Shutdown(ctx); err != nil {
		m.logger.Warn("shutdown error", zap.String("server", m.name), zap.Error(err))
	}
}
