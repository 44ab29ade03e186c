package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/quayforge/ociregistry/internal/server"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	dataDir := getEnv("OCIREGISTRY_DATA_DIR", "/var/lib/ociregistry")

	config := &server.Config{
		Host:        getEnv("OCIREGISTRY_HOST", "0.0.0.0"),
		Port:        getEnv("OCIREGISTRY_PORT", "5000"),
		DataDir:     dataDir,
		CertFile:    getEnv("OCIREGISTRY_CERT_FILE", ""),
		KeyFile:     getEnv("OCIREGISTRY_KEY_FILE", ""),
		AuditDBPath: getEnv("OCIREGISTRY_AUDIT_DB", filepath.Join(dataDir, "audit.db")),
	}

	srv, err := server.New(config, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to create server")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("received shutdown signal")
		cancel()
	}()

	if err := srv.Start(ctx); err != nil {
		logger.WithError(err).Fatal("server failed")
	}

	logger.Info("server shutdown complete")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
