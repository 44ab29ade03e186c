package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"go.etcd.io/bbolt"

	"github.com/quayforge/ociregistry/internal/audit"
	"github.com/quayforge/ociregistry/internal/registry"
)

// Server wires the registry engine onto an HTTP(S) listener and owns its
// graceful shutdown.
type Server struct {
	config     *Config
	logger     *logrus.Logger
	httpServer *http.Server
	listener   net.Listener
	actualPort string
	db         *bbolt.DB
	registry   *registry.Registry
}

// New creates a Server rooted at config.DataDir. TLS is used only if both
// CertFile and KeyFile are set; otherwise the registry listens in
// plaintext, matching spec.md §6's default network contract.
func New(config *Config, logger *logrus.Logger) (*Server, error) {
	if err := os.MkdirAll(config.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := bbolt.Open(config.AuditDBPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}

	auditLog, err := audit.NewLog(db, logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}

	reg, err := registry.New(config.DataDir, auditLog, logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize registry: %w", err)
	}

	return &Server{
		config:   config,
		logger:   logger,
		db:       db,
		registry: reg,
	}, nil
}

// Start runs the HTTP(S) server until ctx is canceled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%s", s.config.Host, s.config.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind listener: %w", err)
	}
	s.listener = ln

	if _, port, err := net.SplitHostPort(ln.Addr().String()); err == nil {
		s.actualPort = port
	} else {
		s.actualPort = s.config.Port
	}

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.registry.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	useTLS := s.config.CertFile != "" && s.config.KeyFile != ""

	errChan := make(chan error, 1)
	go func() {
		s.logger.WithFields(logrus.Fields{
			"address": ln.Addr().String(),
			"tls":     useTLS,
		}).Info("starting registry")

		var err error
		if useTLS {
			s.httpServer.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			err = s.httpServer.ServeTLS(ln, s.config.CertFile, s.config.KeyFile)
		} else {
			err = s.httpServer.Serve(ln)
		}

		if err != nil && err != http.ErrServerClosed {
			errChan <- err
		} else {
			errChan <- nil
		}
	}()

	select {
	case <-ctx.Done():
		return s.shutdown()
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}
}

func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.WithError(err).Error("failed to shut down HTTP server")
	}

	if err := s.db.Close(); err != nil {
		s.logger.WithError(err).Error("failed to close audit database")
		return err
	}

	return nil
}

// GetPort returns the port the server is actually bound to — this
// differs from the configured port when Config.Port is "0" (OS-assigned
// ephemeral port, used by the test harness).
func (s *Server) GetPort() string {
	if s.actualPort != "" {
		return s.actualPort
	}
	return s.config.Port
}
